package services

import (
	"context"
	"errors"
	"log"
	"time"

	"speaking-practice-system/models"

	"gorm.io/gorm"
)

// AwardedAchievement is one achievement newly earned during an evaluation
// pass, including what the point credit did to the learner's level.
type AwardedAchievement struct {
	AchievementID string       `json:"achievement_id"`
	Code          string       `json:"code"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Points        int64        `json:"points"`
	EarnedAt      time.Time    `json:"earned_at"`
	Level         *LevelResult `json:"level,omitempty"`
}

type AchievementService struct {
	DB          *gorm.DB
	Progression *ProgressionService
}

func NewAchievementService(db *gorm.DB, progression *ProgressionService) *AchievementService {
	return &AchievementService{DB: db, Progression: progression}
}

// Evaluate checks every active achievement the learner has not completed
// yet and awards the ones whose predicate holds. bandScore is the score of
// the submission that triggered the pass, if any; score-milestone predicates
// are skipped without it. Awards are independent: a failure on one
// achievement is logged and does not stop the rest.
func (s *AchievementService) Evaluate(ctx context.Context, learnerID string, bandScore *float64) ([]AwardedAchievement, error) {
	var learner models.Learner
	if err := s.DB.WithContext(ctx).First(&learner, "id = ?", learnerID).Error; err != nil {
		return nil, err
	}

	var totalQuestions int64
	if err := s.DB.WithContext(ctx).Model(&models.PracticeSession{}).
		Where("learner_id = ? AND status = ?", learnerID, "completed").
		Count(&totalQuestions).Error; err != nil {
		return nil, err
	}

	stats := models.LearnerStats{
		CurrentStreak:     learner.CurrentStreak,
		TotalPracticeDays: learner.TotalPracticeDays,
		TotalQuestions:    totalQuestions,
		BandScore:         bandScore,
	}

	// Active achievements the learner has not completed. Completed ones are
	// never re-evaluated.
	var candidates []models.Achievement
	if err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Where("id NOT IN (?)", s.DB.Model(&models.LearnerAchievement{}).
			Select("achievement_id").
			Where("learner_id = ? AND is_completed = ?", learnerID, true)).
		Order("points ASC").
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	var awarded []AwardedAchievement
	for i := range candidates {
		achievement := &candidates[i]
		if !achievement.Met(stats) {
			continue
		}
		entry, err := s.award(ctx, learnerID, achievement)
		if err != nil {
			log.Printf("[ACHIEVEMENT] ⚠️ Failed to award %s to learner %s: %v", achievement.Code, learnerID, err)
			continue
		}
		if entry != nil {
			awarded = append(awarded, *entry)
			log.Printf("[ACHIEVEMENT] 🎖️ %s earned %q (+%d pts)", learnerID, achievement.Name, achievement.Points)
		}
	}
	return awarded, nil
}

// award marks the achievement completed and credits its points, all in one
// transaction per achievement. At-most-once is enforced twice over: the
// completed check above plus the (learner, achievement) unique index, which
// turns a concurrent double award into a duplicate-key no-op.
func (s *AchievementService) award(ctx context.Context, learnerID string, achievement *models.Achievement) (*AwardedAchievement, error) {
	var entry *AwardedAchievement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var existing models.LearnerAchievement
		err := tx.Where("learner_id = ? AND achievement_id = ?", learnerID, achievement.ID).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.IsCompleted {
				return nil
			}
			res := tx.Model(&models.LearnerAchievement{}).
				Where("id = ? AND is_completed = ?", existing.ID, false).
				Updates(map[string]interface{}{"is_completed": true, "earned_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			progress := models.LearnerAchievement{
				LearnerID:     learnerID,
				AchievementID: achievement.ID,
				IsCompleted:   true,
				EarnedAt:      &now,
			}
			if createErr := tx.Create(&progress).Error; createErr != nil {
				if errors.Is(createErr, gorm.ErrDuplicatedKey) {
					return nil
				}
				return createErr
			}
		default:
			return err
		}

		level, err := s.Progression.AwardPoints(ctx, tx, learnerID, achievement.Points)
		if err != nil {
			return err
		}

		entry = &AwardedAchievement{
			AchievementID: achievement.ID,
			Code:          achievement.Code,
			Name:          achievement.Name,
			Description:   achievement.Description,
			Points:        achievement.Points,
			EarnedAt:      now,
			Level:         level,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListForLearner returns all active achievements with the learner's
// completion state attached.
func (s *AchievementService) ListForLearner(ctx context.Context, learnerID string) ([]map[string]interface{}, error) {
	var achievements []models.Achievement
	if err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("points ASC").
		Find(&achievements).Error; err != nil {
		return nil, err
	}

	var progress []models.LearnerAchievement
	if err := s.DB.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Find(&progress).Error; err != nil {
		return nil, err
	}
	earned := make(map[string]*models.LearnerAchievement, len(progress))
	for i := range progress {
		earned[progress[i].AchievementID] = &progress[i]
	}

	out := make([]map[string]interface{}, 0, len(achievements))
	for _, a := range achievements {
		item := map[string]interface{}{
			"id":          a.ID,
			"code":        a.Code,
			"name":        a.Name,
			"description": a.Description,
			"type":        a.Type,
			"points":      a.Points,
			"icon_url":    a.IconURL,
			"completed":   false,
		}
		if p, ok := earned[a.ID]; ok && p.IsCompleted {
			item["completed"] = true
			item["earned_at"] = p.EarnedAt
		}
		out = append(out, item)
	}
	return out, nil
}

// SeedAchievements inserts the reference achievements that are missing,
// matched by code. Existing rows are never modified.
func SeedAchievements(db *gorm.DB) error {
	for _, seed := range models.SeedAchievements {
		var count int64
		if err := db.Model(&models.Achievement{}).
			Where("code = ?", seed.Code).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&seed).Error; err != nil {
			return err
		}
	}
	return nil
}
