package services

import (
	"context"
	"math"
	"time"

	"speaking-practice-system/models"

	"gorm.io/gorm"
)

// FreeDailyLimit is how many submissions a free-tier learner gets inside a
// trailing 24-hour window, counted by practice-session creation time rather
// than calendar day.
const FreeDailyLimit = 5

// QuotaWindow is the trailing window the free-tier limit applies to.
const QuotaWindow = 24 * time.Hour

// QuotaDecision is the outcome of a quota check. When denied, ResetAt and
// HoursUntilReset tell the learner when the oldest in-window submission
// falls out of the window.
type QuotaDecision struct {
	Allowed         bool       `json:"allowed"`
	Used            int64      `json:"used"`
	Limit           int64      `json:"limit"`
	Premium         bool       `json:"premium"`
	ResetAt         *time.Time `json:"reset_at,omitempty"`
	HoursUntilReset int        `json:"hours_until_reset,omitempty"`
}

// QuotaService gates submissions for non-premium learners. Pure read: it
// never writes, and a lookup failure denies (fail closed).
type QuotaService struct {
	DB *gorm.DB
}

func NewQuotaService(db *gorm.DB) *QuotaService {
	return &QuotaService{DB: db}
}

// Check decides whether the learner may submit at instant now. The
// count-then-act shape tolerates a small race at the boundary (a handful of
// in-flight submissions may slip past the limit) but cannot allow unbounded
// bursts since every committed session moves the count up.
func (s *QuotaService) Check(ctx context.Context, learner *models.Learner, now time.Time) (*QuotaDecision, error) {
	if learner.IsPremium(now) {
		return &QuotaDecision{Allowed: true, Limit: FreeDailyLimit, Premium: true}, nil
	}

	windowStart := now.Add(-QuotaWindow)

	var used int64
	if err := s.DB.WithContext(ctx).Model(&models.PracticeSession{}).
		Where("learner_id = ? AND created_at > ?", learner.ID, windowStart).
		Count(&used).Error; err != nil {
		return nil, err
	}

	decision := &QuotaDecision{Used: used, Limit: FreeDailyLimit}
	if used < FreeDailyLimit {
		decision.Allowed = true
		return decision, nil
	}

	// Denied: the window reopens 24h after the oldest in-window session.
	var oldest models.PracticeSession
	if err := s.DB.WithContext(ctx).
		Where("learner_id = ? AND created_at > ?", learner.ID, windowStart).
		Order("created_at ASC").
		First(&oldest).Error; err != nil {
		return nil, err
	}

	resetAt := oldest.CreatedAt.Add(QuotaWindow)
	decision.ResetAt = &resetAt
	decision.HoursUntilReset = int(math.Ceil(resetAt.Sub(now).Hours()))
	if decision.HoursUntilReset < 1 {
		decision.HoursUntilReset = 1
	}
	return decision, nil
}
