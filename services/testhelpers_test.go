package services

import (
	"context"
	"testing"
	"time"

	"speaking-practice-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Learner{},
		&models.Question{},
		&models.PracticeSession{},
		&models.Recording{},
		&models.Analysis{},
		&models.Achievement{},
		&models.LearnerAchievement{},
		&models.StreakSpan{},
	))
	return db
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func createLearner(t *testing.T, db *gorm.DB) *models.Learner {
	t.Helper()
	learner := &models.Learner{
		ExternalUserID:   "ext-" + uuid.NewString(),
		Username:         "testlearner",
		SubscriptionTier: models.TierFree,
		Level:            1,
	}
	require.NoError(t, db.Create(learner).Error)
	return learner
}

// setStreakState writes streak counters directly, bypassing the state
// machine, to put a learner into a known starting position.
func setStreakState(t *testing.T, db *gorm.DB, learnerID string, current, longest, totalDays int, lastDate *time.Time) {
	t.Helper()
	require.NoError(t, db.Model(&models.Learner{}).
		Where("id = ?", learnerID).
		Updates(map[string]interface{}{
			"current_streak":      current,
			"longest_streak":      longest,
			"total_practice_days": totalDays,
			"last_practice_date":  lastDate,
		}).Error)
}

func createQuestion(t *testing.T, db *gorm.DB) *models.Question {
	t.Helper()
	question := &models.Question{
		Topic:          "daily-life",
		Title:          "Describe your morning routine",
		Prompt:         "Describe your typical morning routine in detail.",
		SourceLanguage: "en",
		TargetLanguage: "en",
		SampleAnswers:  models.StringList{"I usually wake up at seven."},
		Vocabulary:     models.StringList{"routine", "habit"},
		IsActive:       true,
	}
	require.NoError(t, db.Create(question).Error)
	return question
}

func createSessionAt(t *testing.T, db *gorm.DB, learnerID, questionID string, at time.Time) *models.PracticeSession {
	t.Helper()
	session := &models.PracticeSession{
		LearnerID:   learnerID,
		QuestionID:  questionID,
		Status:      "completed",
		SubmittedAt: at,
	}
	session.CreatedAt = at
	require.NoError(t, db.Create(session).Error)
	return session
}

// ── fakes for the external collaborators ───────────────────────────────────

type fakeStore struct {
	url     string
	err     error
	uploads int
}

func (f *fakeStore) UploadAudio(ctx context.Context, data []byte, learnerID, filename string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads++
	if f.url != "" {
		return f.url, nil
	}
	return "https://cdn.example.com/recordings/" + learnerID + "/" + filename, nil
}

type fakeTranscriber struct {
	res *Transcription
	err error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (*Transcription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeScorer struct {
	res *ScoreResult
	err error
}

func (f *fakeScorer) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeCorrector struct {
	res *GrammarCorrection
	err error
}

func (f *fakeCorrector) Correct(ctx context.Context, req CorrectionRequest) (*GrammarCorrection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}
