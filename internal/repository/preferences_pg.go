package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/cinerank/pkg/models"
)

type PreferenceRepository struct {
	db DatabaseQuerier
}

func NewPreferenceRepository(db DatabaseQuerier) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetPreference returns nil without error when the user stated no preferences.
func (r *PreferenceRepository) GetPreference(ctx context.Context, userID uuid.UUID) (*models.UserPreference, error) {
	var p models.UserPreference
	err := r.db.QueryRow(ctx, `
		SELECT user_id, favorite_genres, min_rating, max_rating, min_year, max_year, preferred_language
		FROM user_preferences
		WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.FavoriteGenres, &p.MinRating, &p.MaxRating, &p.MinYear, &p.MaxYear, &p.PreferredLanguage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences of user %s: %w", userID, err)
	}
	return &p, nil
}
