package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/cinerank/pkg/models"
)

const interactionColumns = `id, user_id, movie_id, interaction_type, value, created_at`

// InteractionRepository stores interactions and favorites in PostgreSQL.
type InteractionRepository struct {
	db DatabaseQuerier
}

func NewInteractionRepository(db DatabaseQuerier) *InteractionRepository {
	return &InteractionRepository{db: db}
}

func (r *InteractionRepository) ListRatings(ctx context.Context) ([]models.Interaction, error) {
	query := `SELECT ` + interactionColumns + `
		FROM interactions
		WHERE interaction_type = 'rating' AND value IS NOT NULL`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	return collectInteractions(rows)
}

func (r *InteractionRepository) ListUserInteractions(ctx context.Context, userID uuid.UUID) ([]models.Interaction, error) {
	query := `SELECT ` + interactionColumns + `
		FROM interactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions of user %s: %w", userID, err)
	}
	return collectInteractions(rows)
}

func (r *InteractionRepository) CountUserInteractions(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM interactions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions of user %s: %w", userID, err)
	}
	return count, nil
}

// ListInteractionSets picks at most maxUsers users in user ID order; a
// non-positive maxUsers means no cap.
func (r *InteractionRepository) ListInteractionSets(ctx context.Context, types []string, maxUsers int) (map[uuid.UUID][]int64, error) {
	query := `
		WITH users AS (
			SELECT user_id FROM interactions WHERE interaction_type = ANY($1)
			UNION
			SELECT user_id FROM favorites
			ORDER BY user_id
			LIMIT $2
		)
		SELECT i.user_id, i.movie_id
		FROM interactions i JOIN users u ON u.user_id = i.user_id
		WHERE i.interaction_type = ANY($1)
		UNION
		SELECT f.user_id, f.movie_id
		FROM favorites f JOIN users u ON u.user_id = f.user_id
		ORDER BY 1, 2`

	rows, err := r.db.Query(ctx, query, types, limitArg(maxUsers))
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction sets: %w", err)
	}
	defer rows.Close()

	sets := make(map[uuid.UUID][]int64)
	for rows.Next() {
		var userID uuid.UUID
		var movieID int64
		if err := rows.Scan(&userID, &movieID); err != nil {
			return nil, fmt.Errorf("failed to scan interaction set row: %w", err)
		}
		sets[userID] = append(sets[userID], movieID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read interaction sets: %w", err)
	}
	return sets, nil
}

// ListActiveUsers returns the most recently active users first.
func (r *InteractionRepository) ListActiveUsers(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM interactions
		GROUP BY user_id
		ORDER BY MAX(created_at) DESC, user_id
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan active user: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// Record writes an interaction. A rating replaces the user's previous rating of
// the same movie; favorite and unfavorite also maintain the favorites table.
func (r *InteractionRepository) Record(ctx context.Context, interaction *models.Interaction) error {
	if interaction.InteractionType == models.InteractionRating {
		tag, err := r.db.Exec(ctx, `
			UPDATE interactions SET value = $1, created_at = $2
			WHERE user_id = $3 AND movie_id = $4 AND interaction_type = 'rating'`,
			interaction.Value, interaction.Timestamp, interaction.UserID, interaction.MovieID)
		if err != nil {
			return fmt.Errorf("failed to update rating: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		interaction.ID, interaction.UserID, interaction.MovieID,
		interaction.InteractionType, interaction.Value, interaction.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	switch interaction.InteractionType {
	case models.InteractionFavorite:
		_, err = r.db.Exec(ctx, `
			INSERT INTO favorites (user_id, movie_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, movie_id) DO NOTHING`,
			interaction.UserID, interaction.MovieID, interaction.Timestamp)
	case models.InteractionUnfavorite:
		_, err = r.db.Exec(ctx, `DELETE FROM favorites WHERE user_id = $1 AND movie_id = $2`,
			interaction.UserID, interaction.MovieID)
	}
	if err != nil {
		return fmt.Errorf("failed to update favorites: %w", err)
	}
	return nil
}

func (r *InteractionRepository) ListFavorites(ctx context.Context, userID uuid.UUID) ([]models.Favorite, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, movie_id, created_at
		FROM favorites
		WHERE user_id = $1
		ORDER BY created_at DESC, movie_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites of user %s: %w", userID, err)
	}
	defer rows.Close()

	var favorites []models.Favorite
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.UserID, &f.MovieID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}

func collectInteractions(rows pgx.Rows) ([]models.Interaction, error) {
	defer rows.Close()

	var interactions []models.Interaction
	for rows.Next() {
		var i models.Interaction
		if err := rows.Scan(&i.ID, &i.UserID, &i.MovieID, &i.InteractionType, &i.Value, &i.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		interactions = append(interactions, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}
	return interactions, nil
}

// limitArg maps a non-positive limit onto SQL NULL, which Postgres treats as no limit.
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}
