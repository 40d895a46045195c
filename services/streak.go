package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"speaking-practice-system/models"

	"gorm.io/gorm"
)

// streakUpdateRetries bounds the optimistic retry loop when two submissions
// for the same learner race on the counter update.
const streakUpdateRetries = 3

var errStreakConflict = errors.New("streak counters changed concurrently")

// StreakResult is what one practice day did to the learner's streak.
type StreakResult struct {
	CurrentStreak     int       `json:"current_streak"`
	LongestStreak     int       `json:"longest_streak"`
	TotalPracticeDays int       `json:"total_practice_days"`
	LastPracticeDate  time.Time `json:"last_practice_date"`
	StreakContinued   bool      `json:"streak_continued"`
	StreakBroken      bool      `json:"streak_broken"`
	IsNewRecord       bool      `json:"is_new_record"`
}

// StreakInfo is the read model for the streak endpoint.
type StreakInfo struct {
	CurrentStreak     int        `json:"current_streak"`
	LongestStreak     int        `json:"longest_streak"`
	TotalPracticeDays int        `json:"total_practice_days"`
	LastPracticeDate  *time.Time `json:"last_practice_date,omitempty"`
	PracticedToday    bool       `json:"practiced_today"`
}

type StreakService struct {
	DB *gorm.DB
}

func NewStreakService(db *gorm.DB) *StreakService {
	return &StreakService{DB: db}
}

// dateOnly truncates a timestamp to its calendar date (midnight UTC).
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the number of calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(dateOnly(b).Sub(dateOnly(a)).Hours() / 24)
}

// RecordPractice applies one practice day to the learner's streak counters
// and the span audit trail. The counter read-modify-write is serialized with
// a guarded UPDATE (WHERE on the values that were read) and retried a bounded
// number of times, so two concurrent submissions cannot both apply the same
// transition.
func (s *StreakService) RecordPractice(ctx context.Context, learnerID string, now time.Time) (*StreakResult, error) {
	var lastErr error
	for attempt := 0; attempt < streakUpdateRetries; attempt++ {
		result, err := s.recordPracticeOnce(ctx, learnerID, now)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, errStreakConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("streak update kept conflicting after %d attempts: %w", streakUpdateRetries, lastErr)
}

func (s *StreakService) recordPracticeOnce(ctx context.Context, learnerID string, now time.Time) (*StreakResult, error) {
	var learner models.Learner
	if err := s.DB.WithContext(ctx).First(&learner, "id = ?", learnerID).Error; err != nil {
		return nil, err
	}

	today := dateOnly(now)
	result := &StreakResult{
		CurrentStreak:     learner.CurrentStreak,
		LongestStreak:     learner.LongestStreak,
		TotalPracticeDays: learner.TotalPracticeDays,
		LastPracticeDate:  today,
	}

	if learner.LastPracticeDate == nil {
		// First practice ever.
		result.CurrentStreak = 1
		if result.LongestStreak < 1 {
			result.LongestStreak = 1
			result.IsNewRecord = true
		}
		result.TotalPracticeDays++
		result.StreakContinued = true
		return result, s.applyTransition(ctx, &learner, result, today, spanStart)
	}

	switch days := daysBetween(*learner.LastPracticeDate, today); {
	case days < 0:
		// Backdated event or clock skew. Explicitly rejected instead of
		// falling into the break branch.
		return nil, ErrBackdatedPractice

	case days == 0:
		// Same-day resubmission: counters stay put.
		result.LastPracticeDate = dateOnly(*learner.LastPracticeDate)
		result.StreakContinued = true
		return result, nil

	case days == 1:
		result.CurrentStreak++
		result.TotalPracticeDays++
		result.StreakContinued = true
		if result.CurrentStreak > result.LongestStreak {
			result.LongestStreak = result.CurrentStreak
			result.IsNewRecord = true
		}
		return result, s.applyTransition(ctx, &learner, result, today, spanContinue)

	default:
		result.CurrentStreak = 1
		result.TotalPracticeDays++
		result.StreakBroken = true
		return result, s.applyTransition(ctx, &learner, result, today, spanRestart)
	}
}

type spanAction int

const (
	spanStart spanAction = iota
	spanContinue
	spanRestart
)

// applyTransition writes the new counters (guarded on the values previously
// read) and keeps the span audit trail in step, in one transaction.
func (s *StreakService) applyTransition(ctx context.Context, learner *models.Learner, result *StreakResult, today time.Time, action spanAction) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		guard := tx.Model(&models.Learner{}).
			Where("id = ? AND current_streak = ? AND total_practice_days = ?",
				learner.ID, learner.CurrentStreak, learner.TotalPracticeDays)
		if learner.LastPracticeDate == nil {
			guard = guard.Where("last_practice_date IS NULL")
		} else {
			guard = guard.Where("last_practice_date = ?", *learner.LastPracticeDate)
		}

		res := guard.Updates(map[string]interface{}{
			"current_streak":      result.CurrentStreak,
			"longest_streak":      result.LongestStreak,
			"total_practice_days": result.TotalPracticeDays,
			"last_practice_date":  today,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStreakConflict
		}

		switch action {
		case spanStart:
			return s.openSpan(tx, learner.ID, today, result.CurrentStreak)
		case spanContinue:
			res := tx.Model(&models.StreakSpan{}).
				Where("learner_id = ? AND is_active = ?", learner.ID, true).
				Updates(map[string]interface{}{"length": result.CurrentStreak})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Counters predate the audit trail; start a span now.
				return s.openSpan(tx, learner.ID, today, result.CurrentStreak)
			}
			return nil
		case spanRestart:
			if err := s.closeActiveSpan(tx, learner.ID, learner.LastPracticeDate); err != nil {
				return err
			}
			return s.openSpan(tx, learner.ID, today, result.CurrentStreak)
		}
		return nil
	})
}

// openSpan closes any stale active span and opens a fresh one, preserving
// the at-most-one-active invariant.
func (s *StreakService) openSpan(tx *gorm.DB, learnerID string, startDate time.Time, length int) error {
	if err := s.closeActiveSpan(tx, learnerID, nil); err != nil {
		return err
	}
	span := models.StreakSpan{
		LearnerID: learnerID,
		StartDate: startDate,
		Length:    length,
		IsActive:  true,
	}
	return tx.Create(&span).Error
}

func (s *StreakService) closeActiveSpan(tx *gorm.DB, learnerID string, endDate *time.Time) error {
	updates := map[string]interface{}{"is_active": false}
	if endDate != nil {
		updates["end_date"] = dateOnly(*endDate)
	}
	return tx.Model(&models.StreakSpan{}).
		Where("learner_id = ? AND is_active = ?", learnerID, true).
		Updates(updates).Error
}

// GetStreakInfo returns the learner's streak standing.
func (s *StreakService) GetStreakInfo(ctx context.Context, learnerID string, now time.Time) (*StreakInfo, error) {
	var learner models.Learner
	if err := s.DB.WithContext(ctx).First(&learner, "id = ?", learnerID).Error; err != nil {
		return nil, err
	}

	info := &StreakInfo{
		CurrentStreak:     learner.CurrentStreak,
		LongestStreak:     learner.LongestStreak,
		TotalPracticeDays: learner.TotalPracticeDays,
		LastPracticeDate:  learner.LastPracticeDate,
	}
	if learner.LastPracticeDate != nil {
		info.PracticedToday = daysBetween(*learner.LastPracticeDate, now) == 0
	}
	return info, nil
}

// SweepExpiredStreaks zeroes the current streak of every learner whose last
// practice date is more than one calendar day in the past. Learners who come
// back later start a fresh streak through the normal transition; this just
// reconciles the ones who stopped without triggering a new event. Runs out
// of band (scheduler or admin route).
func (s *StreakService) SweepExpiredStreaks(ctx context.Context, now time.Time) (int64, error) {
	cutoff := dateOnly(now).AddDate(0, 0, -1)

	var expired []models.Learner
	if err := s.DB.WithContext(ctx).
		Where("current_streak > 0 AND last_practice_date < ?", cutoff).
		Find(&expired).Error; err != nil {
		return 0, err
	}

	var reset int64
	for _, learner := range expired {
		applied := false
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Learner{}).
				Where("id = ? AND current_streak = ?", learner.ID, learner.CurrentStreak).
				UpdateColumn("current_streak", 0)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Learner practiced while the sweep ran; leave them alone.
				return nil
			}
			applied = true
			return s.closeActiveSpan(tx, learner.ID, learner.LastPracticeDate)
		})
		if err != nil {
			log.Printf("[STREAK] ⚠️ Sweep failed for learner %s: %v", learner.ID, err)
			continue
		}
		if applied {
			reset++
		}
	}

	if reset > 0 {
		log.Printf("[STREAK] Sweep reset %d expired streak(s)", reset)
	}
	return reset, nil
}
