package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StreakSpan is the audit trail of one contiguous run of practice days.
// EndDate nil means the span is still running; at most one span per learner
// may be active.
type StreakSpan struct {
	ID        string     `gorm:"primaryKey;type:uuid" json:"id"`
	LearnerID string     `gorm:"index;not null" json:"learner_id"`
	StartDate time.Time  `gorm:"not null" json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Length    int        `gorm:"default:1" json:"length"`
	IsActive  bool       `gorm:"default:true;index" json:"is_active"`

	Timestamps
}

func (s *StreakSpan) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
