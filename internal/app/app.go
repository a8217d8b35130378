package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/internal/database"
	"github.com/temcen/cinerank/internal/handlers"
	"github.com/temcen/cinerank/internal/middleware"
	"github.com/temcen/cinerank/internal/repository"
	"github.com/temcen/cinerank/internal/services"
	"github.com/temcen/cinerank/pkg/models"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	stopConsumer context.CancelFunc
	consumerDone sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: NewLogger(cfg.Logging),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repository.NewSimilarityRepository(db.Neo4j).EnsureConstraints(ctx); err != nil {
		app.logger.WithError(err).Warn("Failed to ensure Neo4j constraints")
	}

	svc, err := services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	app.handlers = handlers.New(app.logger, cfg, svc)
	app.router = NewRouter(cfg, app.logger, app.handlers)

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// StartConsumers runs the interaction-event consumer until Shutdown. Without
// Kafka, recorded interactions invalidate the cache inline and there is nothing to run.
func (a *App) StartConsumers() {
	if a.services.MessageBus == nil {
		a.logger.Info("Kafka not configured, cache invalidation runs inline")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stopConsumer = cancel

	a.consumerDone.Add(1)
	go func() {
		defer a.consumerDone.Done()
		err := a.services.MessageBus.ConsumeInteractions(ctx, invalidateOnInteraction(a.services.Engine))
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Interaction consumer stopped")
		}
	}()
	a.logger.Info("Interaction consumer started")
}

type userInvalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

func invalidateOnInteraction(engine userInvalidator) func(context.Context, models.InteractionEvent) error {
	return func(ctx context.Context, event models.InteractionEvent) error {
		return engine.InvalidateUser(ctx, event.UserID)
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.stopConsumer != nil {
		a.stopConsumer()
		done := make(chan struct{})
		go func() {
			a.consumerDone.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("Interaction consumer did not stop in time")
		}
	}

	var errs []error
	if err := a.services.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing Kafka connections")
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func NewRouter(cfg *config.Config, logger *logrus.Logger, h *handlers.Handlers) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Security.CORS))

	router.GET("/health", h.Health.Check)
	if cfg.Monitoring.Enabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		users := api.Group("/users/:userId/recommendations")
		{
			users.GET("/collaborative", h.Recommendation.Collaborative)
			users.GET("/content", h.Recommendation.Content)
			users.GET("/hybrid", h.Recommendation.Hybrid)
			users.GET("/personalized", h.Recommendation.Personalized)
		}

		api.GET("/movies/:movieId/similar", h.Recommendation.Similar)
		api.POST("/interactions", h.Interaction.Record)

		// Operator endpoints; authentication is expected in front of the service.
		admin := api.Group("/admin")
		{
			admin.POST("/jobs/:name", h.Jobs.Start)
			admin.GET("/jobs/:jobId", h.Jobs.Status)
		}
	}

	return router
}
