package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/cinerank/pkg/models"
)

// InteractionStore is the durable log of user-movie events.
type InteractionStore interface {
	// ListRatings returns every rating interaction that carries a value.
	ListRatings(ctx context.Context) ([]models.Interaction, error)
	// ListUserInteractions returns a user's interactions, most recent first.
	ListUserInteractions(ctx context.Context, userID uuid.UUID) ([]models.Interaction, error)
	CountUserInteractions(ctx context.Context, userID uuid.UUID) (int, error)
	// ListInteractionSets maps each of at most maxUsers users to the movies they
	// touched with one of the given interaction types or marked as favorite.
	ListInteractionSets(ctx context.Context, types []string, maxUsers int) (map[uuid.UUID][]int64, error)
	// ListActiveUsers returns users with at least one interaction.
	ListActiveUsers(ctx context.Context, limit int) ([]uuid.UUID, error)
	Record(ctx context.Context, interaction *models.Interaction) error
}

// FavoriteStore exposes the per-user favorite movies.
type FavoriteStore interface {
	ListFavorites(ctx context.Context, userID uuid.UUID) ([]models.Favorite, error)
}

// CatalogStore is the local mirror of catalog movie metadata.
type CatalogStore interface {
	GetMovies(ctx context.Context, movieIDs []int64) (map[int64]models.CatalogEntry, error)
	// ListCatalog returns at most limit entries in a stable order.
	ListCatalog(ctx context.Context, limit int) ([]models.CatalogEntry, error)
	// ListPopular returns entries matching filter ordered by popularity descending.
	ListPopular(ctx context.Context, filter models.PopularFilter) ([]models.CatalogEntry, error)
}

// PreferenceStore returns a user's stated preferences, or nil when none exist.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID uuid.UUID) (*models.UserPreference, error)
}

// SimilarityStore persists derived similarity records.
type SimilarityStore interface {
	UpsertUserSimilarities(ctx context.Context, records []models.UserSimilarityRecord) error
	UpsertMovieSimilarities(ctx context.Context, records []models.MovieSimilarityRecord) error
	// PruneUserSimilarities removes records of algorithm computed before the given run start.
	PruneUserSimilarities(ctx context.Context, algorithm string, before time.Time) (int, error)
	PruneMovieSimilarities(ctx context.Context, algorithm string, before time.Time) (int, error)
	DeleteUserSimilaritiesOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	DeleteMovieSimilaritiesOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// PersistedCacheStore keeps a durable copy of pre-warmed recommendation results.
type PersistedCacheStore interface {
	UpsertEntry(ctx context.Context, userID uuid.UUID, entry *models.RecommendationCacheEntry) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// CacheBackend is a generic key/value cache with per-key TTL.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// EventPublisher publishes recorded interactions to downstream consumers.
type EventPublisher interface {
	PublishInteraction(ctx context.Context, event models.InteractionEvent) error
}

// RecommendationEngineInterface is the surface the HTTP layer and jobs depend on.
type RecommendationEngineInterface interface {
	CollaborativeRecommendations(ctx context.Context, userID uuid.UUID, limit int) *models.RecommendationResult
	ContentBasedRecommendations(ctx context.Context, movieID int64, limit int) *models.RecommendationResult
	ContentBasedRecommendationsForUser(ctx context.Context, userID uuid.UUID, limit int) *models.RecommendationResult
	HybridRecommendations(ctx context.Context, userID uuid.UUID, limit int, collaborativeWeight float64) *models.RecommendationResult
	PersonalizedRecommendations(ctx context.Context, userID uuid.UUID, limit int) *models.RecommendationResult
}

// InteractionRecorder records interactions on behalf of the HTTP layer.
type InteractionRecorder interface {
	Record(ctx context.Context, req *models.RecordInteractionRequest) (*models.Interaction, error)
}

// JobRunner runs background jobs by name.
type JobRunner interface {
	Run(ctx context.Context, name string, opts JobOptions) (*JobReport, error)
	Start(ctx context.Context, name string, opts JobOptions) (*JobProgress, error)
	Status(ctx context.Context, jobID uuid.UUID) (*JobProgress, error)
}
