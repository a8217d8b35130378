package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/cinerank/pkg/models"
)

// CacheRepository keeps the durable copy of warmed recommendations in
// recommendation_cache, one row per (user, algorithm, fingerprint).
type CacheRepository struct {
	db DatabaseQuerier
}

func NewCacheRepository(db DatabaseQuerier) *CacheRepository {
	return &CacheRepository{db: db}
}

// UpsertEntry overwrites the row of the same key; the last writer wins.
func (r *CacheRepository) UpsertEntry(ctx context.Context, userID uuid.UUID, entry *models.RecommendationCacheEntry) error {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal cache params: %w", err)
	}
	items, err := json.Marshal(entry.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal cache items: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO recommendation_cache (user_id, algorithm, fingerprint, params, items, fallback, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, algorithm, fingerprint) DO UPDATE SET
			params = EXCLUDED.params,
			items = EXCLUDED.items,
			fallback = EXCLUDED.fallback,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		userID, entry.Algorithm, entry.Fingerprint, params, items, entry.Fallback, entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert recommendation cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM recommendation_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale recommendation cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
