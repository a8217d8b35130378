package services

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/internal/database"
	"github.com/temcen/cinerank/internal/messaging"
	"github.com/temcen/cinerank/internal/repository"
	"github.com/temcen/cinerank/internal/validation"
)

type Services struct {
	Health          *HealthService
	Engine          *RecommendationEngine
	Jobs            *BackgroundJobs
	UserInteraction *UserInteractionService
	Validator       *validation.SchemaValidator
	// MessageBus is nil when Kafka is not configured.
	MessageBus *messaging.MessageBus
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	interactions := repository.NewInteractionRepository(db.PG)
	preferences := repository.NewPreferenceRepository(db.PG)
	persisted := repository.NewCacheRepository(db.PG)
	similarities := repository.NewSimilarityRepository(db.Neo4j)

	healthChecks := map[string]HealthCheck{}
	var catalog CatalogStore = repository.NewCatalogRepository(db.PG)
	if cfg.Catalog.Breaker.Enabled {
		breaker := repository.NewCatalogBreaker(catalog, cfg.Catalog.Breaker, reg, logger)
		healthChecks["catalog_breaker"] = func(context.Context) error {
			if breaker.State() == gobreaker.StateOpen {
				return gobreaker.ErrOpenState
			}
			return nil
		}
		catalog = breaker
	}

	var backend CacheBackend
	switch cfg.Cache.Backend {
	case "memory":
		backend = NewLocalCacheBackend(cfg.Cache.MaxItems)
	default:
		backend = NewRedisCacheBackend(db.Redis)
	}
	cache := NewRecommendationCache(backend, cfg.Cache.KeyPrefix, cfg.Algorithms.Caching.RecommendationsTTL, logger)

	metrics := NewEngineMetrics(reg)
	engine := NewRecommendationEngine(EngineDeps{
		Interactions: interactions,
		Favorites:    interactions,
		Catalog:      catalog,
		Preferences:  preferences,
		Cache:        cache,
		Persisted:    persisted,
		Metrics:      metrics,
	}, &cfg.Algorithms, logger)

	jobs := NewBackgroundJobs(JobDeps{
		Engine:       engine,
		Interactions: interactions,
		Catalog:      catalog,
		Similarities: similarities,
		Persisted:    persisted,
		Tracker:      NewJobManager(db.Redis, logger),
		Metrics:      metrics,
	}, &cfg.Jobs, &cfg.Algorithms, logger)

	var (
		bus       *messaging.MessageBus
		publisher EventPublisher
	)
	if cfg.Kafka.Enabled() {
		bus = messaging.NewMessageBus(cfg.Kafka, validator, logger)
		publisher = bus
	}

	return &Services{
		Health:          NewHealthService(db, healthChecks, reg, logger),
		Engine:          engine,
		Jobs:            jobs,
		UserInteraction: NewUserInteractionService(interactions, publisher, engine, logger),
		Validator:       validator,
		MessageBus:      bus,
	}, nil
}

// Close releases the Kafka connections, if any.
func (s *Services) Close() error {
	if s.MessageBus == nil {
		return nil
	}
	return s.MessageBus.Close()
}
