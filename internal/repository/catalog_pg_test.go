package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/pkg/models"
)

var catalogCols = []string{"tmdb_id", "title", "overview", "release_date", "vote_average", "vote_count", "popularity", "genres", "original_language"}

func TestCatalogRepository_GetMovies(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewCatalogRepository(mockDB)
	released := time.Date(1999, 10, 15, 0, 0, 0, 0, time.UTC)

	t.Run("maps known movies by id", func(t *testing.T) {
		rows := pgxmock.NewRows(catalogCols).
			AddRow(int64(550), "Fight Club", "An insomniac office worker", &released, 8.4, 26280, 61.4, []string{"Drama"}, "en")
		mockDB.ExpectQuery("FROM movie_cache").
			WithArgs([]int64{550, 999}).
			WillReturnRows(rows)

		movies, err := repo.GetMovies(context.Background(), []int64{550, 999})

		require.NoError(t, err)
		require.Len(t, movies, 1)
		assert.Equal(t, "Fight Club", movies[550].Title)
		fightClub := movies[550]
		assert.Equal(t, 1999, fightClub.ReleaseYear())
		assert.Equal(t, []string{"Drama"}, movies[550].Genres)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("empty id list does not query", func(t *testing.T) {
		movies, err := repo.GetMovies(context.Background(), nil)

		require.NoError(t, err)
		assert.Empty(t, movies)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestCatalogRepository_ListPopular(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	minYear := 2000
	filter := models.PopularFilter{
		MinVoteAverage: 7,
		Genres:         []string{"Drama", "Comedy"},
		MinYear:        &minYear,
		Limit:          10,
	}
	mockDB.ExpectQuery(`genres @> \$2 AND EXTRACT\(YEAR FROM release_date\) >= \$3 ORDER BY popularity DESC, tmdb_id LIMIT \$4`).
		WithArgs(7.0, []string{"Drama", "Comedy"}, 2000, 10).
		WillReturnRows(pgxmock.NewRows(catalogCols).
			AddRow(int64(13), "Forrest Gump", "", (*time.Time)(nil), 8.5, 100, 90.0, []string{"Comedy"}, "en"))

	entries, err := NewCatalogRepository(mockDB).ListPopular(context.Background(), filter)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(13), entries[0].MovieID)
	assert.Equal(t, 0, entries[0].ReleaseYear())
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPreferenceRepository_GetPreference(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewPreferenceRepository(mockDB)
	userID := uuid.New()

	t.Run("no row means no preferences", func(t *testing.T) {
		mockDB.ExpectQuery("FROM user_preferences").WithArgs(userID).WillReturnError(pgx.ErrNoRows)

		prefs, err := repo.GetPreference(context.Background(), userID)

		require.NoError(t, err)
		assert.Nil(t, prefs)
	})

	t.Run("returns stated bounds", func(t *testing.T) {
		minRating, minYear := 6.5, 1990
		mockDB.ExpectQuery("FROM user_preferences").
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{"user_id", "favorite_genres", "min_rating", "max_rating", "min_year", "max_year", "preferred_language"}).
				AddRow(userID, []string{"Drama"}, &minRating, (*float64)(nil), &minYear, (*int)(nil), (*string)(nil)))

		prefs, err := repo.GetPreference(context.Background(), userID)

		require.NoError(t, err)
		require.NotNil(t, prefs)
		assert.Equal(t, []string{"Drama"}, prefs.FavoriteGenres)
		require.NotNil(t, prefs.MinRating)
		assert.Equal(t, 6.5, *prefs.MinRating)
		assert.Nil(t, prefs.MaxRating)
		require.NotNil(t, prefs.MinYear)
		assert.Equal(t, 1990, *prefs.MinYear)
	})

	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestCacheRepository(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewCacheRepository(mockDB)
	userID := uuid.New()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entry := &models.RecommendationCacheEntry{
		Algorithm:   models.AlgorithmHybrid,
		Fingerprint: "a1b2c3d4e5f60718",
		Params:      models.RecommendationParams{Limit: 20},
		Items:       []models.ScoredMovie{{MovieID: 1, Score: 0.9, Algorithm: models.AlgorithmHybrid}},
		CreatedAt:   created,
		ExpiresAt:   created.Add(2 * time.Hour),
	}

	t.Run("upsert", func(t *testing.T) {
		mockDB.ExpectExec("ON CONFLICT \\(user_id, algorithm, fingerprint\\) DO UPDATE").
			WithArgs(userID, models.AlgorithmHybrid, "a1b2c3d4e5f60718", pgxmock.AnyArg(), pgxmock.AnyArg(), "", created, created.Add(2*time.Hour)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.UpsertEntry(context.Background(), userID, entry))
	})

	t.Run("delete older than", func(t *testing.T) {
		cutoff := created.Add(-24 * time.Hour)
		mockDB.ExpectExec("DELETE FROM recommendation_cache").
			WithArgs(cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)

		require.NoError(t, err)
		assert.Equal(t, 4, deleted)
	})

	assert.NoError(t, mockDB.ExpectationsWereMet())
}

type failingCatalog struct {
	calls int
}

func (c *failingCatalog) GetMovies(context.Context, []int64) (map[int64]models.CatalogEntry, error) {
	c.calls++
	return nil, errors.New("catalog down")
}

func (c *failingCatalog) ListCatalog(context.Context, int) ([]models.CatalogEntry, error) {
	c.calls++
	return nil, errors.New("catalog down")
}

func (c *failingCatalog) ListPopular(context.Context, models.PopularFilter) ([]models.CatalogEntry, error) {
	c.calls++
	return nil, errors.New("catalog down")
}

func TestCatalogBreaker_OpensAfterFailures(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	inner := &failingCatalog{}
	breaker := NewCatalogBreaker(inner, config.BreakerConfig{
		MaxRequests:  1,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, nil, logger)

	ctx := context.Background()
	_, err := breaker.ListCatalog(ctx, 10)
	assert.ErrorContains(t, err, "catalog down")
	_, err = breaker.ListPopular(ctx, models.PopularFilter{Limit: 10})
	assert.ErrorContains(t, err, "catalog down")

	assert.Equal(t, gobreaker.StateOpen, breaker.State())

	_, err = breaker.GetMovies(ctx, []int64{1})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls)
}

func TestSimilarityRows(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	a, b := uuid.New(), uuid.New()
	user := models.NewUserSimilarityRecord(a, b, 0.42, models.SimilarityJaccard, at)

	rows := userSimilarityRows([]models.UserSimilarityRecord{user})
	require.Len(t, rows, 1)
	assert.Equal(t, user.UserA.String(), rows[0]["user_a"])
	assert.Equal(t, user.UserB.String(), rows[0]["user_b"])
	assert.Equal(t, 0.42, rows[0]["score"])
	assert.Equal(t, models.SimilarityJaccard, rows[0]["algorithm"])
	assert.Equal(t, time.UTC, rows[0]["computed_at"].(time.Time).Location())

	movie := models.NewMovieSimilarityRecord(20, 10, 0.3, models.SimilarityContent, at)
	movieRows := movieSimilarityRows([]models.MovieSimilarityRecord{movie})
	assert.Equal(t, int64(10), movieRows[0]["movie_a"])
	assert.Equal(t, int64(20), movieRows[0]["movie_b"])
}
