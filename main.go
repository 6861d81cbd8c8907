package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/quizforge/core-service/internal/aggregate"
	"github.com/quizforge/core-service/internal/billing"
	"github.com/quizforge/core-service/internal/config"
	"github.com/quizforge/core-service/internal/events"
	"github.com/quizforge/core-service/internal/generation"
	"github.com/quizforge/core-service/internal/handlers"
	"github.com/quizforge/core-service/internal/identity"
	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/progress"
	"github.com/quizforge/core-service/internal/realtime"
	"github.com/quizforge/core-service/internal/review"
	"github.com/quizforge/core-service/internal/session"
	"github.com/quizforge/core-service/internal/share"
	"github.com/quizforge/core-service/internal/store"
	"github.com/quizforge/core-service/internal/utils"
	"github.com/quizforge/core-service/internal/validator"
	"github.com/quizforge/core-service/pkg"
)

// achievementNotifier turns earned achievements into persisted
// notifications so they survive the session that earned them.
type achievementNotifier struct {
	collections *store.CollectionStore
	logger      *slog.Logger
}

func (n *achievementNotifier) NotifyAchievement(userID string, a progress.Achievement) {
	notification := &models.Notification{
		UserID:  userID,
		Type:    models.NotificationAchievementEarned,
		Title:   a.Title,
		Message: a.Message,
	}
	if err := n.collections.CreateNotification(context.Background(), notification); err != nil {
		n.logger.Error("Failed to persist achievement notification",
			"user_id", userID, "achievement", a.ID, "error", err)
	}
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis: %v", err)
		}
	}
	docs := store.NewRedisDocumentStore(redisClient)

	// Event bus, mirrored onto Kafka when brokers are configured
	bus := events.NewBus(slogLogger)
	var publisher events.EventPublisher = bus
	var kafkaPublisher *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err = events.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("Failed to connect to Kafka: %v", err)
		}
		publisher = events.NewFanOutPublisher(bus, kafkaPublisher)
	}

	// Initialize stores
	collections := store.NewCollectionStore(db, publisher, slogLogger)

	// Per-user state: aggregates, realtime subscriptions, identity sessions
	registry := realtime.NewRegistry(bus, slogLogger)
	aggregates := aggregate.NewManager(docs, collections, slogLogger)
	aggregates.SetDebounce(cfg.SyncDebounce)
	identityManager := identity.NewSessionManager(identity.Config{
		Endpoint:     cfg.Casdoor.Endpoint,
		ClientID:     cfg.Casdoor.ClientID,
		ClientSecret: cfg.Casdoor.ClientSecret,
		Certificate:  cfg.Casdoor.Cert,
		Organization: cfg.Casdoor.Organization,
		Application:  cfg.Casdoor.Application,
	}, docs, aggregates, registry, slogLogger)

	// Domain engines
	progressEngine := progress.NewEngine(slogLogger, &achievementNotifier{
		collections: collections,
		logger:      slogLogger,
	})
	scheduler := review.NewScheduler()
	shares := share.NewManager(docs, slogLogger)
	sessions := session.NewManager(docs, collections, progressEngine, scheduler, shares, slogLogger)

	// External clients
	generator := generation.NewClient(cfg.GeminiAPIKey, slogLogger)
	billingClient := billing.NewClient(cfg.MidtransServerKey, cfg.MidtransProduction, identityManager, slogLogger)

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(handlers.HandlerDeps{
		Identity:    identityManager,
		Collections: collections,
		Documents:   docs,
		Sessions:    sessions,
		Shares:      shares,
		Progress:    progressEngine,
		Scheduler:   scheduler,
		Generator:   generator,
		Billing:     billingClient,
		Validator:   validator.NewBusinessValidator(),
		Logger:      logger,
	})

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Checkpoint running sessions, flush aggregates, drop subscriptions
	sessions.Shutdown(ctx)
	aggregates.Shutdown(ctx)
	registry.Shutdown()

	if err := bus.Close(); err != nil {
		log.Printf("Failed to close event bus: %v", err)
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Printf("Failed to close kafka publisher: %v", err)
		}
	}

	// Close database connection
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	// Close Redis connection
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}
