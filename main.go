package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"speaking-practice-system/handlers"
	"speaking-practice-system/middleware"
	"speaking-practice-system/models"
	"speaking-practice-system/services"
	"speaking-practice-system/utils"
	"speaking-practice-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024, // 50MB
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Learner{},
		&models.Question{},
		&models.PracticeSession{},
		&models.Recording{},
		&models.Analysis{},
		&models.Achievement{},
		&models.LearnerAchievement{},
		&models.StreakSpan{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := services.SeedAchievements(db); err != nil {
		log.Fatal("failed to seed achievements:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audio storage: R2 when configured, local disk otherwise.
	var store services.AudioStore
	if os.Getenv("R2_ACCESS_KEY_ID") != "" {
		r2Store, err := utils.NewR2AudioStore(ctx)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		store = r2Store
	} else {
		log.Println("⚠️  R2 not configured, storing audio on local disk")
		localStore, err := utils.NewLocalAudioStore("uploads", "/uploads")
		if err != nil {
			log.Fatal("failed to ensure upload dir:", err)
		}
		store = localStore
	}

	speechServiceURL := os.Getenv("SPEECH_SERVICE_URL")
	if speechServiceURL == "" {
		log.Fatal("SPEECH_SERVICE_URL environment variable not set")
	}
	aiServiceURL := os.Getenv("AI_SERVICE_URL")
	if aiServiceURL == "" {
		log.Fatal("AI_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("SERVICE_TOKEN environment variable not set")
	}

	speechClient := services.NewSpeechServiceClient(speechServiceURL, serviceToken)
	aiClient := services.NewAIServiceClient(aiServiceURL, serviceToken)

	progressionService := services.NewProgressionService(db)
	streakService := services.NewStreakService(db)
	achievementService := services.NewAchievementService(db, progressionService)
	quotaService := services.NewQuotaService(db)
	submissionService := services.NewSubmissionService(
		db, store, speechClient, aiClient, aiClient,
		quotaService, streakService, achievementService,
	)

	// Learner snapshot sync from the accounts service.
	accountsServiceURL := os.Getenv("ACCOUNTS_SERVICE_URL")
	if accountsServiceURL == "" {
		log.Fatal("ACCOUNTS_SERVICE_URL environment variable not set")
	}
	syncWorker := workers.NewLearnerSyncWorker(db, accountsServiceURL, "/api/v1/internal/learners", serviceToken)
	go func() {
		log.Println("Starting Learner Sync Worker...")
		syncWorker.Start(ctx)
	}()

	sched, err := streakService.StartStreakScheduler()
	if err != nil {
		log.Fatal("failed to start streak scheduler:", err)
	}
	defer func() { _ = sched.Shutdown() }()

	handlers.SetupPracticeRoutes(app, submissionService, streakService, progressionService, achievementService)

	app.Static("/uploads", "./uploads")

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Learner Sync Worker running")
	log.Println("✅ Streak sweep scheduled daily at 00:05 UTC")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
