package services

import (
	"context"
	"testing"
	"time"

	"speaking-practice-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaAllowsUnderLimit(t *testing.T) {
	db := newTestDB(t)
	svc := NewQuotaService(db)
	learner := createLearner(t, db)
	question := createQuestion(t, db)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < FreeDailyLimit-1; i++ {
		createSessionAt(t, db, learner.ID, question.ID, now.Add(-time.Duration(i+1)*time.Hour))
	}

	decision, err := svc.Check(context.Background(), learner, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.EqualValues(t, FreeDailyLimit-1, decision.Used)
	assert.Nil(t, decision.ResetAt)
}

func TestQuotaDeniesAtLimit(t *testing.T) {
	db := newTestDB(t)
	svc := NewQuotaService(db)
	learner := createLearner(t, db)
	question := createQuestion(t, db)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-20*time.Hour - 30*time.Minute)
	createSessionAt(t, db, learner.ID, question.ID, oldest)
	for i := 0; i < FreeDailyLimit-1; i++ {
		createSessionAt(t, db, learner.ID, question.ID, now.Add(-time.Duration(i+1)*time.Hour))
	}

	decision, err := svc.Check(context.Background(), learner, now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.EqualValues(t, FreeDailyLimit, decision.Used)

	// Window reopens 24h after the oldest in-window session: in 3.5h,
	// reported as 4 (ceiling).
	require.NotNil(t, decision.ResetAt)
	assert.True(t, decision.ResetAt.Equal(oldest.Add(QuotaWindow)))
	assert.Equal(t, 4, decision.HoursUntilReset)
}

func TestQuotaIgnoresSessionsOutsideWindow(t *testing.T) {
	db := newTestDB(t)
	svc := NewQuotaService(db)
	learner := createLearner(t, db)
	question := createQuestion(t, db)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	// Five old sessions that fell out of the window, one inside.
	for i := 0; i < FreeDailyLimit; i++ {
		createSessionAt(t, db, learner.ID, question.ID, now.Add(-25*time.Hour).Add(-time.Duration(i)*time.Hour))
	}
	createSessionAt(t, db, learner.ID, question.ID, now.Add(-time.Hour))

	decision, err := svc.Check(context.Background(), learner, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.EqualValues(t, 1, decision.Used)
}

func TestQuotaPremiumBypass(t *testing.T) {
	db := newTestDB(t)
	svc := NewQuotaService(db)
	question := createQuestion(t, db)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		tier    string
		expires *time.Time
		allowed bool
	}{
		{name: "premium without expiry", tier: models.TierPremium, expires: nil, allowed: true},
		{name: "premium with future expiry", tier: models.TierPremium, expires: timePtr(now.Add(48 * time.Hour)), allowed: true},
		{name: "premium expired", tier: models.TierPremium, expires: timePtr(now.Add(-time.Hour)), allowed: false},
		{name: "free tier", tier: models.TierFree, expires: nil, allowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			learner := createLearner(t, db)
			require.NoError(t, db.Model(&models.Learner{}).
				Where("id = ?", learner.ID).
				Updates(map[string]interface{}{
					"subscription_tier":       tt.tier,
					"subscription_expires_at": tt.expires,
				}).Error)
			require.NoError(t, db.First(learner, "id = ?", learner.ID).Error)

			// Saturate the free window for this learner.
			for i := 0; i < FreeDailyLimit; i++ {
				createSessionAt(t, db, learner.ID, question.ID, now.Add(-time.Duration(i+1)*time.Hour))
			}

			decision, err := svc.Check(context.Background(), learner, now)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.allowed && tt.tier == models.TierPremium, decision.Premium)
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
