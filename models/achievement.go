package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AchievementType selects which predicate an achievement's criteria encodes.
type AchievementType string

const (
	AchievementTypeStreak         AchievementType = "streak"
	AchievementTypeScoreMilestone AchievementType = "score_milestone"
	AchievementTypeTotalDays      AchievementType = "total_days"
	AchievementTypeTotalQuestions AchievementType = "total_questions"
)

// Criteria is the structured requirement stored on an achievement row.
// Exactly the fields matching the achievement's Type are meaningful.
type Criteria struct {
	StreakDays     int     `json:"streak_days,omitempty"`
	MinScore       float64 `json:"min_score,omitempty"`
	TotalDays      int     `json:"total_days,omitempty"`
	TotalQuestions int64   `json:"total_questions,omitempty"`
}

func (c Criteria) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	return string(b), err
}

func (c *Criteria) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	case nil:
		*c = Criteria{}
		return nil
	default:
		return fmt.Errorf("unsupported type %T for Criteria", value)
	}
}

// Achievement is reference data seeded out of band; the pipeline never
// mutates these rows.
type Achievement struct {
	ID          string          `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string          `gorm:"uniqueIndex;not null" json:"code"` // e.g. "STREAK_7"
	Name        string          `gorm:"not null" json:"name"`
	Description string          `json:"description"`
	Type        AchievementType `gorm:"type:varchar(32);not null;index" json:"type"`
	Criteria    Criteria        `gorm:"type:jsonb" json:"criteria"`
	Points      int64           `gorm:"not null" json:"points"`
	IconURL     string          `gorm:"type:text" json:"icon_url"`
	IsActive    bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (a *Achievement) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// LearnerStats is the snapshot an achievement predicate is checked against.
type LearnerStats struct {
	CurrentStreak     int
	TotalPracticeDays int
	TotalQuestions    int64    // completed practice sessions
	BandScore         *float64 // score from the submission that triggered evaluation, if any
}

// Met evaluates the achievement's predicate against the stats. Criteria are
// stored structured and decoded by the driver once per load, so this is a
// plain field comparison per type.
func (a *Achievement) Met(stats LearnerStats) bool {
	switch a.Type {
	case AchievementTypeStreak:
		return a.Criteria.StreakDays > 0 && stats.CurrentStreak >= a.Criteria.StreakDays
	case AchievementTypeScoreMilestone:
		return a.Criteria.MinScore > 0 && stats.BandScore != nil && *stats.BandScore >= a.Criteria.MinScore
	case AchievementTypeTotalDays:
		return a.Criteria.TotalDays > 0 && stats.TotalPracticeDays >= a.Criteria.TotalDays
	case AchievementTypeTotalQuestions:
		return a.Criteria.TotalQuestions > 0 && stats.TotalQuestions >= a.Criteria.TotalQuestions
	}
	return false
}

// LearnerAchievement links a learner to an achievement. Transitions
// not-completed -> completed exactly once and never reverts; the composite
// unique index is what makes the at-most-once award hold under races.
type LearnerAchievement struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	LearnerID     string     `gorm:"uniqueIndex:idx_learner_achievement;not null" json:"learner_id"`
	AchievementID string     `gorm:"uniqueIndex:idx_learner_achievement;not null" json:"achievement_id"`
	IsCompleted   bool       `gorm:"default:false" json:"is_completed"`
	EarnedAt      *time.Time `json:"earned_at,omitempty"`

	Timestamps
}

func (p *LearnerAchievement) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// SeedAchievements are the reference achievements applied idempotently at
// boot (matched by Code, existing rows left untouched).
var SeedAchievements = []Achievement{
	{
		Code:        "FIRST_SESSION",
		Name:        "First Words",
		Description: "Complete your first speaking practice",
		Type:        AchievementTypeTotalQuestions,
		Criteria:    Criteria{TotalQuestions: 1},
		Points:      50,
	},
	{
		Code:        "STREAK_3",
		Name:        "Warming Up",
		Description: "Practice 3 days in a row",
		Type:        AchievementTypeStreak,
		Criteria:    Criteria{StreakDays: 3},
		Points:      100,
	},
	{
		Code:        "STREAK_7",
		Name:        "One Week Wonder",
		Description: "Practice 7 days in a row",
		Type:        AchievementTypeStreak,
		Criteria:    Criteria{StreakDays: 7},
		Points:      250,
	},
	{
		Code:        "STREAK_30",
		Name:        "Habit Formed",
		Description: "Practice 30 days in a row",
		Type:        AchievementTypeStreak,
		Criteria:    Criteria{StreakDays: 30},
		Points:      1000,
	},
	{
		Code:        "BAND_7",
		Name:        "Fluent Speaker",
		Description: "Score a band of 7.0 or higher",
		Type:        AchievementTypeScoreMilestone,
		Criteria:    Criteria{MinScore: 7.0},
		Points:      500,
	},
	{
		Code:        "DAYS_50",
		Name:        "Fifty Days Strong",
		Description: "Practice on 50 different days",
		Type:        AchievementTypeTotalDays,
		Criteria:    Criteria{TotalDays: 50},
		Points:      750,
	},
	{
		Code:        "QUESTIONS_100",
		Name:        "Centurion",
		Description: "Answer 100 questions",
		Type:        AchievementTypeTotalQuestions,
		Criteria:    Criteria{TotalQuestions: 100},
		Points:      750,
	},
}
