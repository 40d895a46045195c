package services

import (
	"context"
	"fmt"
	"log"
	"math"

	"speaking-practice-system/models"

	"gorm.io/gorm"
)

// MaxLevel caps the upward level scan. PointsToNextLevel reports 0 there.
const MaxLevel = 100

// LevelBase is the multiplier of the level threshold curve.
const LevelBase = 100

// LevelThreshold returns the total XP required to hold level l:
// floor(100 * l^1.5). Strictly increasing for l >= 1.
func LevelThreshold(l int) int64 {
	if l < 1 {
		return 0
	}
	return int64(math.Floor(LevelBase * math.Pow(float64(l), 1.5)))
}

// LevelForXP scans upward from the current level and returns the highest
// level whose threshold the XP meets. Never returns less than current.
func LevelForXP(xp int64, current int) int {
	if current < 1 {
		current = 1
	}
	level := current
	for level < MaxLevel && xp >= LevelThreshold(level+1) {
		level++
	}
	return level
}

// LevelResult describes one points award.
type LevelResult struct {
	PointsAwarded    int64 `json:"points_awarded"`
	ExperiencePoints int64 `json:"experience_points"`
	TotalPoints      int64 `json:"total_points"`
	Level            int   `json:"level"`
	LeveledUp        bool  `json:"leveled_up"`
	PointsToNext     int64 `json:"points_to_next_level"`
}

// LevelInfo is the read model for the level endpoint.
type LevelInfo struct {
	Level            int     `json:"level"`
	ExperiencePoints int64   `json:"experience_points"`
	TotalPoints      int64   `json:"total_points"`
	PointsToNext     int64   `json:"points_to_next_level"`
	Progress         float64 `json:"progress"` // 0..1 within the current level band
}

type ProgressionService struct {
	DB *gorm.DB
}

func NewProgressionService(db *gorm.DB) *ProgressionService {
	return &ProgressionService{DB: db}
}

// AwardPoints credits points to a learner and recomputes the level. XP and
// total points are bumped with atomic SQL increments and the level column is
// only ever written upward, so concurrent awards cannot lose points or
// demote anyone.
func (s *ProgressionService) AwardPoints(ctx context.Context, tx *gorm.DB, learnerID string, points int64) (*LevelResult, error) {
	if tx == nil {
		tx = s.DB
	}
	if points < 0 {
		return nil, fmt.Errorf("negative points award: %d", points)
	}

	res := tx.WithContext(ctx).Model(&models.Learner{}).
		Where("id = ?", learnerID).
		UpdateColumns(map[string]interface{}{
			"experience_points": gorm.Expr("experience_points + ?", points),
			"total_points":      gorm.Expr("total_points + ?", points),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var learner models.Learner
	if err := tx.WithContext(ctx).First(&learner, "id = ?", learnerID).Error; err != nil {
		return nil, err
	}

	newLevel := LevelForXP(learner.ExperiencePoints, learner.Level)
	leveledUp := newLevel > learner.Level
	if leveledUp {
		// Guarded so a concurrent award that already raised the level wins.
		if err := tx.WithContext(ctx).Model(&models.Learner{}).
			Where("id = ? AND level < ?", learnerID, newLevel).
			UpdateColumn("level", newLevel).Error; err != nil {
			return nil, err
		}
		log.Printf("[PROGRESSION] 🎉 Learner %s reached level %d (xp=%d)", learnerID, newLevel, learner.ExperiencePoints)
	}

	return &LevelResult{
		PointsAwarded:    points,
		ExperiencePoints: learner.ExperiencePoints,
		TotalPoints:      learner.TotalPoints,
		Level:            newLevel,
		LeveledUp:        leveledUp,
		PointsToNext:     pointsToNext(learner.ExperiencePoints, newLevel),
	}, nil
}

// GetLevelInfo returns the learner's current level standing.
func (s *ProgressionService) GetLevelInfo(ctx context.Context, learnerID string) (*LevelInfo, error) {
	var learner models.Learner
	if err := s.DB.WithContext(ctx).First(&learner, "id = ?", learnerID).Error; err != nil {
		return nil, err
	}

	info := &LevelInfo{
		Level:            learner.Level,
		ExperiencePoints: learner.ExperiencePoints,
		TotalPoints:      learner.TotalPoints,
		PointsToNext:     pointsToNext(learner.ExperiencePoints, learner.Level),
	}
	if learner.Level < MaxLevel {
		floor := LevelThreshold(learner.Level)
		ceil := LevelThreshold(learner.Level + 1)
		if learner.ExperiencePoints > floor && ceil > floor {
			info.Progress = float64(learner.ExperiencePoints-floor) / float64(ceil-floor)
		}
		if info.Progress > 1 {
			info.Progress = 1
		}
	} else {
		info.Progress = 1
	}
	return info, nil
}

func pointsToNext(xp int64, level int) int64 {
	if level >= MaxLevel {
		return 0
	}
	remaining := LevelThreshold(level+1) - xp
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
