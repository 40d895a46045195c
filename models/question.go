package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StringList stores a JSON array of strings in a single text/jsonb column.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
}

// Question is a speaking prompt. Content rows are managed by the admin/content
// service; this pipeline only reads them and maintains the attempt aggregates.
type Question struct {
	ID    string `gorm:"primaryKey;type:uuid" json:"id"`
	Topic string `gorm:"index" json:"topic"`
	Title string `gorm:"not null" json:"title"`

	// Prompt shown to the learner and sent verbatim to the scoring service.
	Prompt         string `gorm:"type:text;not null" json:"prompt"`
	SourceLanguage string `gorm:"type:varchar(16);default:'en'" json:"source_language"`
	TargetLanguage string `gorm:"type:varchar(16);default:'en'" json:"target_language"`

	SampleAnswers StringList `gorm:"type:jsonb" json:"sample_answers"`
	Vocabulary    StringList `gorm:"type:jsonb" json:"vocabulary"`

	IsActive bool `gorm:"default:true;index" json:"is_active"`

	// Attempt aggregates, updated atomically on every successful submission.
	AttemptCount int64   `gorm:"default:0" json:"attempt_count"`
	AverageScore float64 `gorm:"default:0" json:"average_score"`

	Timestamps
}

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return nil
}
