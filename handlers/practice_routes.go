// handlers/practice_routes.go
package handlers

import (
	"io"
	"log"
	"time"

	"speaking-practice-system/middleware"
	"speaking-practice-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupPracticeRoutes wires the submission pipeline and the progression read
// endpoints. All routes sit behind the gateway user context; the learner is
// identified by the X-User-ID header the gateway forwards.
func SetupPracticeRoutes(
	app *fiber.App,
	submissions *services.SubmissionService,
	streaks *services.StreakService,
	progression *services.ProgressionService,
	achievements *services.AchievementService,
) {
	securedGroup := app.Group("/user", middleware.UserContextMiddleware())

	securedGroup.Post("/practice/submissions", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		questionID := c.FormValue("question_id")
		if questionID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "question_id is required",
				"code":  services.CodeOperationFailed,
			})
		}

		fileHeader, err := c.FormFile("audio")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "audio file is required",
				"code":  services.CodeFileRequired,
			})
		}
		file, err := fileHeader.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to open audio file",
				"code":  services.CodeFileRequired,
			})
		}
		audio, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to read audio file",
				"code":  services.CodeFileRequired,
			})
		}

		result, err := submissions.SubmitAnswer(c.UserContext(), userID, questionID, audio, fileHeader.Filename)
		if err != nil {
			return renderError(c, err)
		}
		return c.JSON(result)
	})

	securedGroup.Get("/streak", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		learner, err := submissions.ResolveLearner(c.UserContext(), userID)
		if err != nil {
			return renderError(c, err)
		}
		info, err := streaks.GetStreakInfo(c.UserContext(), learner.ID, time.Now().UTC())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load streak info",
				"cause": err.Error(),
			})
		}
		return c.JSON(info)
	})

	securedGroup.Get("/level", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		learner, err := submissions.ResolveLearner(c.UserContext(), userID)
		if err != nil {
			return renderError(c, err)
		}
		info, err := progression.GetLevelInfo(c.UserContext(), learner.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load level info",
				"cause": err.Error(),
			})
		}
		return c.JSON(info)
	})

	securedGroup.Get("/achievements", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		learner, err := submissions.ResolveLearner(c.UserContext(), userID)
		if err != nil {
			return renderError(c, err)
		}
		list, err := achievements.ListForLearner(c.UserContext(), learner.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load achievements",
				"cause": err.Error(),
			})
		}
		return c.JSON(list)
	})

	// Admin endpoints
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	adminGroup.Post("/streaks/sweep", func(c *fiber.Ctx) error {
		count, err := streaks.SweepExpiredStreaks(c.UserContext(), time.Now().UTC())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "streak sweep failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"reset": count})
	})
}

// renderError maps a typed pipeline failure to its HTTP status. Anything
// untyped is a 500.
func renderError(c *fiber.Ctx, err error) error {
	e, ok := services.AsError(err)
	if !ok {
		log.Printf("❌ [PRACTICE] Unexpected error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
			"code":  services.CodeOperationFailed,
		})
	}

	body := fiber.Map{
		"error": e.Message,
		"code":  e.Code,
	}

	switch e.Code {
	case services.CodeQuestionNotFound, services.CodeLearnerNotFound:
		return c.Status(fiber.StatusNotFound).JSON(body)
	case services.CodeQuestionNotActive, services.CodeFileRequired:
		return c.Status(fiber.StatusBadRequest).JSON(body)
	case services.CodeDailyLimitReached:
		body["retry_after_hours"] = e.RetryAfterHours
		return c.Status(fiber.StatusTooManyRequests).JSON(body)
	case services.CodeServiceUnavailable:
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	default:
		log.Printf("❌ [PRACTICE] %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}
}
