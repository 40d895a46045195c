package services

import (
	"context"
	"testing"
	"time"

	"speaking-practice-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAchievementService(t *testing.T) (*AchievementService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	require.NoError(t, SeedAchievements(db))
	return NewAchievementService(db, NewProgressionService(db)), db
}

func awardedCodes(awarded []AwardedAchievement) []string {
	codes := make([]string, 0, len(awarded))
	for _, a := range awarded {
		codes = append(codes, a.Code)
	}
	return codes
}

func TestEvaluateAwardsStreakAchievements(t *testing.T) {
	svc, db := newAchievementService(t)
	learner := createLearner(t, db)

	last := day(2024, 1, 10)
	setStreakState(t, db, learner.ID, 7, 7, 7, &last)

	awarded, err := svc.Evaluate(context.Background(), learner.ID, nil)
	require.NoError(t, err)

	codes := awardedCodes(awarded)
	assert.Contains(t, codes, "STREAK_3")
	assert.Contains(t, codes, "STREAK_7")
	assert.NotContains(t, codes, "STREAK_30")
	assert.NotContains(t, codes, "BAND_7", "no score, no score milestone")

	// Points credited once per achievement: 100 + 250.
	var fresh models.Learner
	require.NoError(t, db.First(&fresh, "id = ?", learner.ID).Error)
	assert.EqualValues(t, 350, fresh.ExperiencePoints)
	assert.EqualValues(t, 350, fresh.TotalPoints)
	assert.Equal(t, 2, fresh.Level, "350 xp crosses the level 2 threshold")

	for _, a := range awarded {
		require.NotNil(t, a.Level)
		assert.Greater(t, a.Points, int64(0))
	}
}

func TestEvaluateAtMostOnce(t *testing.T) {
	svc, db := newAchievementService(t)
	learner := createLearner(t, db)

	last := day(2024, 1, 10)
	setStreakState(t, db, learner.ID, 7, 7, 7, &last)

	first, err := svc.Evaluate(context.Background(), learner.ID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	var before models.Learner
	require.NoError(t, db.First(&before, "id = ?", learner.ID).Error)

	var progressBefore []models.LearnerAchievement
	require.NoError(t, db.Where("learner_id = ?", learner.ID).Find(&progressBefore).Error)

	// Second pass: nothing new, nothing re-credited, earned_at untouched.
	second, err := svc.Evaluate(context.Background(), learner.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, second)

	var after models.Learner
	require.NoError(t, db.First(&after, "id = ?", learner.ID).Error)
	assert.Equal(t, before.ExperiencePoints, after.ExperiencePoints)
	assert.Equal(t, before.TotalPoints, after.TotalPoints)
	assert.Equal(t, before.Level, after.Level)

	var progressAfter []models.LearnerAchievement
	require.NoError(t, db.Where("learner_id = ?", learner.ID).Find(&progressAfter).Error)
	require.Len(t, progressAfter, len(progressBefore))
	byID := make(map[string]models.LearnerAchievement)
	for _, p := range progressBefore {
		byID[p.ID] = p
	}
	for _, p := range progressAfter {
		prev, ok := byID[p.ID]
		require.True(t, ok)
		require.NotNil(t, p.EarnedAt)
		assert.True(t, p.EarnedAt.Equal(*prev.EarnedAt))
	}
}

func TestEvaluateScoreMilestone(t *testing.T) {
	svc, db := newAchievementService(t)
	learner := createLearner(t, db)

	score := 7.5
	awarded, err := svc.Evaluate(context.Background(), learner.ID, &score)
	require.NoError(t, err)
	assert.Contains(t, awardedCodes(awarded), "BAND_7")

	lowScore := 6.0
	other := createLearner(t, db)
	awarded, err = svc.Evaluate(context.Background(), other.ID, &lowScore)
	require.NoError(t, err)
	assert.NotContains(t, awardedCodes(awarded), "BAND_7")
}

func TestEvaluateTotalQuestions(t *testing.T) {
	svc, db := newAchievementService(t)
	learner := createLearner(t, db)
	question := createQuestion(t, db)

	createSessionAt(t, db, learner.ID, question.ID, time.Now().UTC())

	awarded, err := svc.Evaluate(context.Background(), learner.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, awardedCodes(awarded), "FIRST_SESSION")
}

func TestEvaluateTotalDays(t *testing.T) {
	svc, db := newAchievementService(t)
	learner := createLearner(t, db)

	last := day(2024, 5, 1)
	setStreakState(t, db, learner.ID, 1, 4, 50, &last)

	awarded, err := svc.Evaluate(context.Background(), learner.ID, nil)
	require.NoError(t, err)
	codes := awardedCodes(awarded)
	assert.Contains(t, codes, "DAYS_50")
	assert.NotContains(t, codes, "STREAK_3")
}

func TestEvaluateSkipsInactiveAchievements(t *testing.T) {
	svc, db := newAchievementService(t)
	learner := createLearner(t, db)

	require.NoError(t, db.Model(&models.Achievement{}).
		Where("code = ?", "STREAK_3").
		Update("is_active", false).Error)

	last := day(2024, 1, 10)
	setStreakState(t, db, learner.ID, 3, 3, 3, &last)

	awarded, err := svc.Evaluate(context.Background(), learner.ID, nil)
	require.NoError(t, err)
	assert.NotContains(t, awardedCodes(awarded), "STREAK_3")
}

func TestListForLearner(t *testing.T) {
	svc, db := newAchievementService(t)
	learner := createLearner(t, db)

	last := day(2024, 1, 10)
	setStreakState(t, db, learner.ID, 3, 3, 3, &last)

	_, err := svc.Evaluate(context.Background(), learner.ID, nil)
	require.NoError(t, err)

	list, err := svc.ListForLearner(context.Background(), learner.ID)
	require.NoError(t, err)
	require.Len(t, list, len(models.SeedAchievements))

	completed := 0
	for _, item := range list {
		if item["completed"].(bool) {
			completed++
			assert.NotNil(t, item["earned_at"])
		}
	}
	assert.Equal(t, 1, completed, "only STREAK_3 earned")
}

func TestSeedAchievementsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, SeedAchievements(db))
	require.NoError(t, SeedAchievements(db))

	var count int64
	require.NoError(t, db.Model(&models.Achievement{}).Count(&count).Error)
	assert.EqualValues(t, len(models.SeedAchievements), count)
}
