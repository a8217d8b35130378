package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AlgorithmCollaborative   = "collaborative_filtering"
	AlgorithmContentBased    = "content_based"
	AlgorithmPopular         = "popular"
	AlgorithmPopularFiltered = "popular_filtered"
	AlgorithmHybrid          = "hybrid"
	AlgorithmPersonalized    = "personalized"
)

// Fallback reasons reported on a RecommendationResult.
const (
	FallbackNone             = ""
	FallbackInsufficientData = "insufficient_data"
	FallbackDataUnavailable  = "data_unavailable"
)

// ScoredMovie is one ranked candidate produced by a strategy.
type ScoredMovie struct {
	MovieID   int64   `json:"movie_id"`
	Score     float64 `json:"score"`
	Algorithm string  `json:"algorithm"`
}

// RecommendationParams is the normalized parameter set of a request. It is part of
// the cache key.
type RecommendationParams struct {
	Limit               int      `json:"limit"`
	CollaborativeWeight *float64 `json:"collaborative_weight,omitempty"`
	SeedMovieID         *int64   `json:"seed_movie_id,omitempty"`
}

// RecommendationResult is what the engine returns for every operation.
type RecommendationResult struct {
	UserID      *uuid.UUID    `json:"user_id,omitempty"`
	Algorithm   string        `json:"algorithm"`
	Items       []ScoredMovie `json:"recommendations"`
	Fallback    string        `json:"fallback,omitempty"`
	CacheHit    bool          `json:"cache_hit"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// RecommendationCacheEntry is a memoized result. It is stale once ExpiresAt passes.
type RecommendationCacheEntry struct {
	Subject     string               `json:"subject"`
	Algorithm   string               `json:"algorithm"`
	Fingerprint string               `json:"fingerprint"`
	Params      RecommendationParams `json:"params"`
	Items       []ScoredMovie        `json:"items"`
	Fallback    string               `json:"fallback,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

// Expired reports whether the entry must no longer be served at now.
func (e *RecommendationCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// RecommendationQuery carries the validated query parameters of a recommendation request.
type RecommendationQuery struct {
	Limit               int      `form:"limit" validate:"min=1,max=100"`
	CollaborativeWeight *float64 `form:"collaborative_weight" validate:"omitempty,min=0,max=1"`
}
