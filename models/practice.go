package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PracticeSession is one submitted answer. Created exactly once by the
// submission pipeline together with its Recording and Analysis; immutable
// afterwards. Its CreatedAt is what the quota guard counts against the
// trailing 24-hour window.
type PracticeSession struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	LearnerID   string    `gorm:"index;not null" json:"learner_id"`
	QuestionID  string    `gorm:"index;not null" json:"question_id"`
	Question    Question  `gorm:"foreignKey:QuestionID" json:"-"`
	Status      string    `gorm:"type:varchar(16);default:'completed'" json:"status"`
	SubmittedAt time.Time `gorm:"index;not null" json:"submitted_at"`

	Timestamps
}

func (s *PracticeSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Recording holds the stored audio and its transcription for a session.
type Recording struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID string `gorm:"uniqueIndex;not null" json:"session_id"`
	LearnerID string `gorm:"index;not null" json:"learner_id"`

	AudioURL      string  `gorm:"type:text;not null" json:"audio_url"`
	Transcription string  `gorm:"type:text;not null" json:"transcription"`
	RefinedText   *string `gorm:"type:text" json:"refined_text,omitempty"` // nil when grammar correction was unavailable
	Language      string  `gorm:"type:varchar(16)" json:"language"`
	DurationSec   int     `gorm:"default:0" json:"duration_sec"`

	Timestamps
}

func (r *Recording) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Analysis is the score breakdown produced by the scoring service for a
// session.
type Analysis struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID string `gorm:"uniqueIndex;not null" json:"session_id"`
	LearnerID string `gorm:"index;not null" json:"learner_id"`

	// Band score 0-9 plus sub-scores.
	BandScore     float64 `json:"band_score"`
	Fluency       float64 `json:"fluency"`
	Vocabulary    float64 `json:"vocabulary"`
	Grammar       float64 `json:"grammar"`
	Pronunciation float64 `json:"pronunciation"`

	Feedback string `gorm:"type:text" json:"feedback"`

	Timestamps
}

func (a *Analysis) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
