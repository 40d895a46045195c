package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription tiers as delivered by the accounts service.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// Learner is the local snapshot of a user practicing speaking, plus the
// denormalized progression counters (streak, XP, level) this service owns.
// Identity/subscription fields are populated by the learner sync worker from
// the accounts service; progression fields are mutated only by the streak,
// achievement and progression services.
type Learner struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // accounts service UUID
	Username       string `gorm:"index;not null" json:"username"`
	Email          string `json:"email,omitempty"`

	// Subscription snapshot (quota guard input)
	SubscriptionTier      string     `gorm:"type:varchar(16);default:'free'" json:"subscription_tier"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`

	// Streak counters. LastPracticeDate is a calendar date (midnight UTC),
	// not a timestamp.
	CurrentStreak     int        `gorm:"default:0" json:"current_streak"`
	LongestStreak     int        `gorm:"default:0" json:"longest_streak"`
	LastPracticeDate  *time.Time `json:"last_practice_date,omitempty"`
	TotalPracticeDays int        `gorm:"default:0" json:"total_practice_days"`

	// Level progression
	ExperiencePoints int64 `gorm:"default:0" json:"experience_points"`
	TotalPoints      int64 `gorm:"default:0" json:"total_points"`
	Level            int   `gorm:"default:1" json:"level"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (l *Learner) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// IsPremium reports whether the learner's subscription bypasses the daily quota:
// tier must be premium and the subscription either has no expiry or expires in
// the future.
func (l *Learner) IsPremium(now time.Time) bool {
	if l.SubscriptionTier != TierPremium {
		return false
	}
	return l.SubscriptionExpiresAt == nil || l.SubscriptionExpiresAt.After(now)
}
