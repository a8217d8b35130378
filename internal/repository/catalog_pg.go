package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/temcen/cinerank/pkg/models"
)

const catalogColumns = `tmdb_id, title, overview, release_date, vote_average, vote_count, popularity, genres, original_language`

// CatalogRepository reads the local mirror of catalog movies from movie_cache.
type CatalogRepository struct {
	db DatabaseQuerier
}

func NewCatalogRepository(db DatabaseQuerier) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetMovies returns the known entries among movieIDs. Unknown IDs are absent
// from the map.
func (r *CatalogRepository) GetMovies(ctx context.Context, movieIDs []int64) (map[int64]models.CatalogEntry, error) {
	movies := make(map[int64]models.CatalogEntry, len(movieIDs))
	if len(movieIDs) == 0 {
		return movies, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+catalogColumns+` FROM movie_cache WHERE tmdb_id = ANY($1)`, movieIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog movies: %w", err)
	}
	entries, err := collectCatalog(rows)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		movies[entry.MovieID] = entry
	}
	return movies, nil
}

// ListCatalog returns the first limit entries by movie ID.
func (r *CatalogRepository) ListCatalog(ctx context.Context, limit int) ([]models.CatalogEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+catalogColumns+` FROM movie_cache ORDER BY tmdb_id LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	return collectCatalog(rows)
}

func (r *CatalogRepository) ListPopular(ctx context.Context, filter models.PopularFilter) ([]models.CatalogEntry, error) {
	conditions := []string{"vote_average >= $1"}
	args := []interface{}{filter.MinVoteAverage}
	argIndex := 2

	if filter.MaxVoteAverage != nil {
		conditions = append(conditions, fmt.Sprintf("vote_average <= $%d", argIndex))
		args = append(args, *filter.MaxVoteAverage)
		argIndex++
	}
	if len(filter.Genres) > 0 {
		conditions = append(conditions, fmt.Sprintf("genres @> $%d", argIndex))
		args = append(args, filter.Genres)
		argIndex++
	}
	if filter.MinYear != nil {
		conditions = append(conditions, fmt.Sprintf("EXTRACT(YEAR FROM release_date) >= $%d", argIndex))
		args = append(args, *filter.MinYear)
		argIndex++
	}
	if filter.MaxYear != nil {
		conditions = append(conditions, fmt.Sprintf("EXTRACT(YEAR FROM release_date) <= $%d", argIndex))
		args = append(args, *filter.MaxYear)
		argIndex++
	}

	query := fmt.Sprintf(`SELECT %s FROM movie_cache WHERE %s ORDER BY popularity DESC, tmdb_id LIMIT $%d`,
		catalogColumns, strings.Join(conditions, " AND "), argIndex)
	args = append(args, limitArg(filter.Limit))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular movies: %w", err)
	}
	return collectCatalog(rows)
}

func collectCatalog(rows pgx.Rows) ([]models.CatalogEntry, error) {
	defer rows.Close()

	var entries []models.CatalogEntry
	for rows.Next() {
		var e models.CatalogEntry
		if err := rows.Scan(&e.MovieID, &e.Title, &e.Overview, &e.ReleaseDate, &e.VoteAverage,
			&e.VoteCount, &e.Popularity, &e.Genres, &e.OriginalLanguage); err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return entries, nil
}
