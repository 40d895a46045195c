package services

import (
	"context"
	"errors"
	"log"
	"time"

	"speaking-practice-system/models"

	"gorm.io/gorm"
)

// AudioStore persists raw audio and returns a public URL. Implemented by the
// R2 store in utils; faked in tests.
type AudioStore interface {
	UploadAudio(ctx context.Context, data []byte, learnerID, filename string) (string, error)
}

// SubmissionResult is the full outcome of a successful submission. The
// score/feedback fields are always present; Correction, Streak and
// NewAchievements degrade to zero values when their optional sub-step
// failed.
type SubmissionResult struct {
	SessionID   string `json:"session_id"`
	RecordingID string `json:"recording_id"`
	AnalysisID  string `json:"analysis_id"`

	Transcription string      `json:"transcription"`
	Scores        ScoreResult `json:"scores"`
	Feedback      string      `json:"feedback"`

	Correction *GrammarCorrection `json:"correction,omitempty"`

	SampleAnswers []string `json:"sample_answers"`
	Vocabulary    []string `json:"vocabulary"`

	Streak          *StreakResult        `json:"streak,omitempty"`
	NewAchievements []AwardedAchievement `json:"new_achievements"`
}

// SubmissionService runs the submission pipeline: quota gate, external
// calls, the durable write, then the gamification updates. Step ordering and
// the required-vs-optional split follow one rule: nothing is persisted until
// every required external call has succeeded, and once the durable write
// commits, no later failure can turn the submission into an error.
type SubmissionService struct {
	DB           *gorm.DB
	Store        AudioStore
	Transcriber  Transcriber
	Scorer       Scorer
	Corrector    GrammarCorrector
	Quota        *QuotaService
	Streak       *StreakService
	Achievements *AchievementService
}

func NewSubmissionService(
	db *gorm.DB,
	store AudioStore,
	transcriber Transcriber,
	scorer Scorer,
	corrector GrammarCorrector,
	quota *QuotaService,
	streak *StreakService,
	achievements *AchievementService,
) *SubmissionService {
	return &SubmissionService{
		DB:           db,
		Store:        store,
		Transcriber:  transcriber,
		Scorer:       scorer,
		Corrector:    corrector,
		Quota:        quota,
		Streak:       streak,
		Achievements: achievements,
	}
}

// ResolveLearner maps the gateway's external user id to the local learner
// snapshot. A miss fails closed: no snapshot, no submission.
func (s *SubmissionService) ResolveLearner(ctx context.Context, externalUserID string) (*models.Learner, error) {
	var learner models.Learner
	err := s.DB.WithContext(ctx).First(&learner, "external_user_id = ?", externalUserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewError(CodeLearnerNotFound, "learner not found")
	}
	if err != nil {
		return nil, WrapError(CodeOperationFailed, "learner lookup failed", err)
	}
	return &learner, nil
}

// SubmitAnswer runs the whole pipeline for one spoken answer.
func (s *SubmissionService) SubmitAnswer(ctx context.Context, externalUserID, questionID string, audio []byte, filename string) (*SubmissionResult, error) {
	now := time.Now().UTC()

	// 1. Validation: fail fast, no side effects.
	if len(audio) == 0 {
		return nil, NewError(CodeFileRequired, "audio file is required")
	}

	learner, err := s.ResolveLearner(ctx, externalUserID)
	if err != nil {
		return nil, err
	}

	var question models.Question
	if err := s.DB.WithContext(ctx).First(&question, "id = ?", questionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(CodeQuestionNotFound, "question not found")
		}
		return nil, WrapError(CodeOperationFailed, "question lookup failed", err)
	}
	if !question.IsActive {
		return nil, NewError(CodeQuestionNotActive, "question is not active")
	}

	// 2. Quota gate.
	decision, err := s.Quota.Check(ctx, learner, now)
	if err != nil {
		return nil, WrapError(CodeOperationFailed, "quota check failed", err)
	}
	if !decision.Allowed {
		quotaErr := NewError(CodeDailyLimitReached, "daily practice limit reached")
		quotaErr.RetryAfterHours = decision.HoursUntilReset
		return nil, quotaErr
	}

	// 3-5. Required external calls. Any failure aborts with nothing
	// persisted; an already-uploaded audio object is the one tolerated
	// orphan.
	audioURL, err := s.Store.UploadAudio(ctx, audio, learner.ID, filename)
	if err != nil {
		return nil, WrapError(CodeServiceUnavailable, "audio upload failed", err)
	}

	transcription, err := s.Transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return nil, WrapError(CodeServiceUnavailable, "transcription failed", err)
	}

	scores, err := s.Scorer.Score(ctx, ScoreRequest{
		Text:           transcription.Text,
		Prompt:         question.Prompt,
		SourceLanguage: question.SourceLanguage,
		TargetLanguage: question.TargetLanguage,
	})
	if err != nil {
		return nil, WrapError(CodeServiceUnavailable, "scoring failed", err)
	}

	// 6. Grammar correction: optional, result-or-nothing.
	correction := s.correctGrammar(ctx, transcription, &question)

	// 7-8. The durable unit: session + recording + analysis plus the
	// question aggregates, one transaction. This is the submission's only
	// visible state; gamification never runs if it fails.
	session, recording, analysis, err := s.persist(ctx, learner, &question, now, audioURL, transcription, scores, correction)
	if err != nil {
		return nil, WrapError(CodeOperationFailed, "failed to persist submission", err)
	}

	result := &SubmissionResult{
		SessionID:       session.ID,
		RecordingID:     recording.ID,
		AnalysisID:      analysis.ID,
		Transcription:   transcription.Text,
		Scores:          *scores,
		Feedback:        scores.Feedback,
		Correction:      correction,
		SampleAnswers:   question.SampleAnswers,
		Vocabulary:      question.Vocabulary,
		NewAchievements: []AwardedAchievement{},
	}

	// 9-10. Post-commit gamification. The submission is already durable, so
	// a client disconnect must not stop these halfway; failures degrade the
	// response instead of replacing it.
	postCtx := context.WithoutCancel(ctx)

	streak, err := s.Streak.RecordPractice(postCtx, learner.ID, now)
	if err != nil {
		log.Printf("[SUBMISSION] ⚠️ Streak update failed for learner %s: %v", learner.ID, err)
	} else {
		result.Streak = streak
	}

	awarded, err := s.Achievements.Evaluate(postCtx, learner.ID, &scores.BandScore)
	if err != nil {
		log.Printf("[SUBMISSION] ⚠️ Achievement evaluation failed for learner %s: %v", learner.ID, err)
	} else if awarded != nil {
		result.NewAchievements = awarded
	}

	return result, nil
}

func (s *SubmissionService) correctGrammar(ctx context.Context, transcription *Transcription, question *models.Question) *GrammarCorrection {
	if s.Corrector == nil {
		return nil
	}
	lang := transcription.Language
	if lang == "" {
		lang = question.TargetLanguage
	}
	correction, err := s.Corrector.Correct(ctx, CorrectionRequest{
		Text:     transcription.Text,
		Language: lang,
		Context:  question.Prompt,
	})
	if err != nil {
		log.Printf("[SUBMISSION] Grammar correction unavailable: %v", err)
		return nil
	}
	return correction
}

func (s *SubmissionService) persist(
	ctx context.Context,
	learner *models.Learner,
	question *models.Question,
	now time.Time,
	audioURL string,
	transcription *Transcription,
	scores *ScoreResult,
	correction *GrammarCorrection,
) (*models.PracticeSession, *models.Recording, *models.Analysis, error) {
	session := &models.PracticeSession{
		LearnerID:   learner.ID,
		QuestionID:  question.ID,
		Status:      "completed",
		SubmittedAt: now,
	}
	recording := &models.Recording{
		LearnerID:     learner.ID,
		AudioURL:      audioURL,
		Transcription: transcription.Text,
		Language:      transcription.Language,
		DurationSec:   transcription.DurationSec,
	}
	analysis := &models.Analysis{
		LearnerID:     learner.ID,
		BandScore:     scores.BandScore,
		Fluency:       scores.Fluency,
		Vocabulary:    scores.Vocabulary,
		Grammar:       scores.Grammar,
		Pronunciation: scores.Pronunciation,
		Feedback:      scores.Feedback,
	}
	if correction != nil {
		refined := correction.Corrected
		recording.RefinedText = &refined
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		recording.SessionID = session.ID
		analysis.SessionID = session.ID
		if err := tx.Create(recording).Error; err != nil {
			return err
		}
		if err := tx.Create(analysis).Error; err != nil {
			return err
		}

		// Attempt count and running average in one atomic statement: the
		// count is read and bumped inside the UPDATE itself, so concurrent
		// submissions for the same question serialize on the row instead of
		// losing each other's write.
		res := tx.Model(&models.Question{}).
			Where("id = ?", question.ID).
			UpdateColumns(map[string]interface{}{
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"average_score": gorm.Expr("(average_score * attempt_count + ?) / (attempt_count + 1)", scores.BandScore),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return session, recording, analysis, nil
}
