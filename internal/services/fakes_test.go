package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/pkg/models"
)

var errStoreDown = errors.New("connection refused")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testAlgorithmConfig() *config.AlgorithmConfig {
	return &config.AlgorithmConfig{
		MinSimilarity:              0.1,
		MaxNeighbors:               10,
		MinInteractions:            5,
		PopularMinRating:           7,
		FavoriteMinRating:          7,
		MaxSeedMovies:              5,
		DefaultLimit:               20,
		DefaultCollaborativeWeight: 0.6,
		DiverseUserThreshold:       0.7,
		Features:                   config.FeatureConfig{MaxTerms: 1000, MaxCatalog: 1000},
		Profiles: config.ProfileWeights{
			NewUser: config.StrategyWeights{Collaborative: 0.2, Content: 0.5, Popularity: 0.3},
			Diverse: config.StrategyWeights{Collaborative: 0.5, Content: 0.4, Popularity: 0.1},
			Focused: config.StrategyWeights{Collaborative: 0.7, Content: 0.3, Popularity: 0},
		},
		Caching: config.CachingConfig{RecommendationsTTL: time.Hour, WarmTTL: 2 * time.Hour},
	}
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rating(userID uuid.UUID, movieID int64, value float64, minutes int) models.Interaction {
	return models.Interaction{
		ID:              uuid.New(),
		UserID:          userID,
		MovieID:         movieID,
		InteractionType: models.InteractionRating,
		Value:           &value,
		Timestamp:       baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}

func interaction(userID uuid.UUID, movieID int64, kind string, minutes int) models.Interaction {
	return models.Interaction{
		ID:              uuid.New(),
		UserID:          userID,
		MovieID:         movieID,
		InteractionType: kind,
		Timestamp:       baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}

type fakeInteractions struct {
	mu          sync.Mutex
	all         []models.Interaction
	sets        map[uuid.UUID][]int64
	active      []uuid.UUID
	err         error
	ratingsErrs []error
	ratingCalls int
	recorded    []*models.Interaction
}

func (f *fakeInteractions) ListRatings(context.Context) ([]models.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratingCalls++
	if len(f.ratingsErrs) > 0 {
		err := f.ratingsErrs[0]
		f.ratingsErrs = f.ratingsErrs[1:]
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Interaction
	for _, in := range f.all {
		if in.InteractionType == models.InteractionRating && in.Value != nil {
			out = append(out, in)
		}
	}
	return out, nil
}

func (f *fakeInteractions) ListUserInteractions(_ context.Context, userID uuid.UUID) ([]models.Interaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Interaction
	for _, in := range f.all {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (f *fakeInteractions) CountUserInteractions(ctx context.Context, userID uuid.UUID) (int, error) {
	list, err := f.ListUserInteractions(ctx, userID)
	return len(list), err
}

func (f *fakeInteractions) ListInteractionSets(context.Context, []string, int) (map[uuid.UUID][]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sets, nil
}

func (f *fakeInteractions) ListActiveUsers(_ context.Context, limit int) ([]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.active) > limit {
		return f.active[:limit], nil
	}
	return f.active, nil
}

func (f *fakeInteractions) Record(_ context.Context, interaction *models.Interaction) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, interaction)
	return nil
}

type fakeFavorites struct {
	byUser map[uuid.UUID][]models.Favorite
	err    error
}

func (f *fakeFavorites) ListFavorites(_ context.Context, userID uuid.UUID) ([]models.Favorite, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byUser[userID], nil
}

type fakeCatalog struct {
	entries []models.CatalogEntry
	err     error
}

func (f *fakeCatalog) GetMovies(_ context.Context, ids []int64) (map[int64]models.CatalogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]models.CatalogEntry)
	for _, id := range ids {
		for _, e := range f.entries {
			if e.MovieID == id {
				out[id] = e
			}
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListCatalog(_ context.Context, limit int) ([]models.CatalogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]models.CatalogEntry(nil), f.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].MovieID < out[j].MovieID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCatalog) ListPopular(_ context.Context, filter models.PopularFilter) ([]models.CatalogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.CatalogEntry
	for _, e := range f.entries {
		if e.VoteAverage < filter.MinVoteAverage {
			continue
		}
		if filter.MaxVoteAverage != nil && e.VoteAverage > *filter.MaxVoteAverage {
			continue
		}
		if len(filter.Genres) > 0 && !hasAllGenres(e.Genres, filter.Genres) {
			continue
		}
		if filter.MinYear != nil && e.ReleaseYear() < *filter.MinYear {
			continue
		}
		if filter.MaxYear != nil && e.ReleaseYear() > *filter.MaxYear {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Popularity != out[j].Popularity {
			return out[i].Popularity > out[j].Popularity
		}
		return out[i].MovieID < out[j].MovieID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func hasAllGenres(have, want []string) bool {
	for _, g := range want {
		if !slices.Contains(have, g) {
			return false
		}
	}
	return true
}

type fakePreferences struct {
	byUser map[uuid.UUID]*models.UserPreference
	err    error
}

func (f *fakePreferences) GetPreference(_ context.Context, userID uuid.UUID) (*models.UserPreference, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byUser[userID], nil
}

type fakeSimilarityStore struct {
	mu            sync.Mutex
	users         map[string]models.UserSimilarityRecord
	movies        map[string]models.MovieSimilarityRecord
	failBatches   int
	userBatches   int
	movieBatches  int
	prunedBefore  []time.Time
	deleteCutoffs []time.Time
	deleteErr     error
}

func newFakeSimilarityStore() *fakeSimilarityStore {
	return &fakeSimilarityStore{
		users:  make(map[string]models.UserSimilarityRecord),
		movies: make(map[string]models.MovieSimilarityRecord),
	}
}

func (f *fakeSimilarityStore) UpsertUserSimilarities(_ context.Context, records []models.UserSimilarityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userBatches++
	if f.failBatches > 0 {
		f.failBatches--
		return errStoreDown
	}
	for _, r := range records {
		f.users[r.UserA.String()+"|"+r.UserB.String()+"|"+r.Algorithm] = r
	}
	return nil
}

func (f *fakeSimilarityStore) UpsertMovieSimilarities(_ context.Context, records []models.MovieSimilarityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movieBatches++
	if f.failBatches > 0 {
		f.failBatches--
		return errStoreDown
	}
	for _, r := range records {
		f.movies[movieKey(r.MovieA, r.MovieB)] = r
	}
	return nil
}

func movieKey(a, b int64) string {
	return fmt.Sprintf("%d|%d", a, b)
}

func (f *fakeSimilarityStore) PruneUserSimilarities(_ context.Context, algorithm string, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedBefore = append(f.prunedBefore, before)
	n := 0
	for k, r := range f.users {
		if r.Algorithm == algorithm && r.ComputedAt.Before(before) {
			delete(f.users, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeSimilarityStore) PruneMovieSimilarities(_ context.Context, algorithm string, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedBefore = append(f.prunedBefore, before)
	n := 0
	for k, r := range f.movies {
		if r.Algorithm == algorithm && r.ComputedAt.Before(before) {
			delete(f.movies, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeSimilarityStore) DeleteUserSimilaritiesOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.deleteCutoffs = append(f.deleteCutoffs, cutoff)
	return 2, f.deleteErr
}

func (f *fakeSimilarityStore) DeleteMovieSimilaritiesOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.deleteCutoffs = append(f.deleteCutoffs, cutoff)
	return 3, nil
}

type fakePersisted struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]*models.RecommendationCacheEntry
	cutoff  time.Time
}

func (f *fakePersisted) UpsertEntry(_ context.Context, userID uuid.UUID, entry *models.RecommendationCacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[uuid.UUID][]*models.RecommendationCacheEntry)
	}
	f.entries[userID] = append(f.entries[userID], entry)
	return nil
}

func (f *fakePersisted) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return 1, nil
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}

func (failingBackend) DeletePrefix(context.Context, string) (int, error) {
	return 0, errStoreDown
}

func movie(id int64, title, overview string, genres []string, vote, popularity float64, year int) models.CatalogEntry {
	entry := models.CatalogEntry{
		MovieID:     id,
		Title:       title,
		Overview:    overview,
		Genres:      genres,
		VoteAverage: vote,
		Popularity:  popularity,
	}
	if year > 0 {
		released := time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC)
		entry.ReleaseDate = &released
	}
	return entry
}

// testCatalog has two clusters of near-duplicate documents.
func testCatalog() []models.CatalogEntry {
	return []models.CatalogEntry{
		movie(1, "Space Voyage", "astronauts explore distant galaxy spaceship crew", []string{"Science Fiction"}, 8.0, 90, 2014),
		movie(2, "Galaxy Quest", "spaceship crew explore galaxy astronauts adventure", []string{"Science Fiction"}, 7.5, 80, 1999),
		movie(3, "Love in Paris", "romance couple falls in love paris cafe", []string{"Romance"}, 7.2, 70, 2005),
		movie(4, "Paris Romance", "couple love story romance paris streets", []string{"Romance"}, 6.5, 95, 2010),
		movie(5, "Deep Space", "astronauts spaceship galaxy survival crew", []string{"Science Fiction", "Thriller"}, 9.0, 60, 2020),
	}
}
