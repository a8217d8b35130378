package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/pkg/models"
)

// Candidates is the output of one strategy. Fallback is set when the strategy
// could not run and Items came from the popularity fallback instead.
type Candidates struct {
	Items    []models.ScoredMovie
	Fallback string
}

func (c Candidates) fellBack() bool {
	return c.Fallback != models.FallbackNone
}

// RecommendationAlgorithmsService implements the individual recommendation strategies.
// It holds no mutable state; every call reads fresh snapshots from its stores.
type RecommendationAlgorithmsService struct {
	interactions InteractionStore
	favorites    FavoriteStore
	catalog      CatalogStore
	preferences  PreferenceStore
	similarity   *SimilarityComputer
	config       *config.AlgorithmConfig
	logger       *logrus.Logger
}

// NewRecommendationAlgorithmsService creates a new recommendation algorithms service
func NewRecommendationAlgorithmsService(
	interactions InteractionStore,
	favorites FavoriteStore,
	catalog CatalogStore,
	preferences PreferenceStore,
	cfg *config.AlgorithmConfig,
	logger *logrus.Logger,
) *RecommendationAlgorithmsService {
	return &RecommendationAlgorithmsService{
		interactions: interactions,
		favorites:    favorites,
		catalog:      catalog,
		preferences:  preferences,
		similarity:   NewSimilarityComputer(interactions, catalog, cfg.Features.MaxTerms, logger),
		config:       cfg,
		logger:       logger,
	}
}

// CollaborativeFiltering scores unseen movies by the ratings of the user's nearest
// neighbours. Users without ratings, or a store failure, fall back to popularity.
func (s *RecommendationAlgorithmsService) CollaborativeFiltering(ctx context.Context, userID uuid.UUID, limit int) Candidates {
	matrix, err := s.similarity.UserItemMatrix(ctx)
	if err != nil {
		return s.popularityFallback(ctx, userID, limit, err)
	}
	if _, ok := matrix[userID]; !ok {
		return s.popularityFallback(ctx, userID, limit,
			fmt.Errorf("user %s has no ratings: %w", userID, ErrInsufficientData))
	}

	neighbors := matrix.Neighbors(userID, s.config.MaxNeighbors, s.config.MinSimilarity)

	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"users":     len(matrix),
		"neighbors": len(neighbors),
	}).Debug("Collaborative neighbourhood selected")

	return Candidates{Items: collaborativeScores(matrix, userID, neighbors, limit)}
}

// collaborativeScores accumulates similarity*rating over neighbours for every movie
// the target has not rated.
func collaborativeScores(matrix RatingMatrix, target uuid.UUID, neighbors []Neighbor, limit int) []models.ScoredMovie {
	rated := matrix[target]
	scores := make(map[int64]float64)

	for _, neighbor := range neighbors {
		for movieID, rating := range matrix[neighbor.UserID] {
			if rating <= 0 {
				continue
			}
			if _, seen := rated[movieID]; seen {
				continue
			}
			scores[movieID] += neighbor.Similarity * rating
		}
	}

	items := make([]models.ScoredMovie, 0, len(scores))
	for movieID, score := range scores {
		items = append(items, models.ScoredMovie{
			MovieID:   movieID,
			Score:     score,
			Algorithm: models.AlgorithmCollaborative,
		})
	}
	return rankAndTruncate(items, limit)
}

// ContentBased returns the movies whose features are closest to movieID.
func (s *RecommendationAlgorithmsService) ContentBased(ctx context.Context, movieID int64, limit int) Candidates {
	features, err := s.similarity.MovieFeatures(ctx, s.config.Features.MaxCatalog)
	if err != nil {
		s.logger.WithError(err).WithField("movie_id", movieID).Warn("Content-based recommendations unavailable")
		return Candidates{Items: []models.ScoredMovie{}, Fallback: fallbackReason(err)}
	}
	if features.Len() < 2 {
		return Candidates{Items: []models.ScoredMovie{}}
	}
	return Candidates{Items: SimilarMovies(features, movieID, limit, s.config.MinSimilarity)}
}

type seedMovie struct {
	movieID int64
	at      int64
}

// seedMovies returns the user's highly rated, watchlisted and favorited movies,
// most recent first and deduplicated, plus the full set of qualifying movies.
// Favorites come from the favorite store only, so an unfavorited movie stops seeding.
func (s *RecommendationAlgorithmsService) seedMovies(ctx context.Context, userID uuid.UUID) ([]int64, map[int64]struct{}, error) {
	interactions, err := s.interactions.ListUserInteractions(ctx, userID)
	if err != nil {
		return nil, nil, unavailable("interaction store", err)
	}
	favorites, err := s.favorites.ListFavorites(ctx, userID)
	if err != nil {
		return nil, nil, unavailable("favorite store", err)
	}

	var candidates []seedMovie
	for _, in := range interactions {
		switch in.InteractionType {
		case models.InteractionRating:
			if in.Value == nil || *in.Value < s.config.FavoriteMinRating {
				continue
			}
		case models.InteractionWatchlist:
		default:
			continue
		}
		candidates = append(candidates, seedMovie{movieID: in.MovieID, at: in.Timestamp.UnixNano()})
	}
	for _, fav := range favorites {
		candidates = append(candidates, seedMovie{movieID: fav.MovieID, at: fav.CreatedAt.UnixNano()})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].at > candidates[j].at
	})

	qualifying := make(map[int64]struct{}, len(candidates))
	var seeds []int64
	for _, c := range candidates {
		if _, dup := qualifying[c.movieID]; dup {
			continue
		}
		qualifying[c.movieID] = struct{}{}
		if len(seeds) < s.config.MaxSeedMovies {
			seeds = append(seeds, c.movieID)
		}
	}
	return seeds, qualifying, nil
}

// ContentBasedForUser merges content-based results for the user's most recent seed
// movies, keeping the best score per movie. Users without seeds get popular movies
// filtered by their stated preferences.
func (s *RecommendationAlgorithmsService) ContentBasedForUser(ctx context.Context, userID uuid.UUID, limit int) Candidates {
	seeds, qualifying, err := s.seedMovies(ctx, userID)
	if err != nil {
		return s.popularityFallback(ctx, userID, limit, err)
	}
	if len(seeds) == 0 {
		items, err := s.PopularForUser(ctx, userID, limit)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Filtered popularity fallback failed")
			return Candidates{Items: []models.ScoredMovie{}, Fallback: fallbackReason(err)}
		}
		return Candidates{Items: items, Fallback: models.FallbackInsufficientData}
	}

	features, err := s.similarity.MovieFeatures(ctx, s.config.Features.MaxCatalog)
	if err != nil {
		return s.popularityFallback(ctx, userID, limit, err)
	}

	best := make(map[int64]float64)
	for _, seed := range seeds {
		for _, item := range SimilarMovies(features, seed, limit, s.config.MinSimilarity) {
			if _, excluded := qualifying[item.MovieID]; excluded {
				continue
			}
			if score, ok := best[item.MovieID]; !ok || item.Score > score {
				best[item.MovieID] = item.Score
			}
		}
	}

	items := make([]models.ScoredMovie, 0, len(best))
	for movieID, score := range best {
		items = append(items, models.ScoredMovie{
			MovieID:   movieID,
			Score:     score,
			Algorithm: models.AlgorithmContentBased,
		})
	}
	return Candidates{Items: rankAndTruncate(items, limit)}
}

// Popular returns well rated movies by popularity, scored as vote average / 10.
func (s *RecommendationAlgorithmsService) Popular(ctx context.Context, limit int) ([]models.ScoredMovie, error) {
	return s.popular(ctx, models.PopularFilter{
		MinVoteAverage: s.config.PopularMinRating,
		Limit:          limit,
	}, models.AlgorithmPopular)
}

// PopularForUser narrows the popularity listing to the user's stated rating, year
// and genre preferences. A missing or unreadable preference record means no filter.
func (s *RecommendationAlgorithmsService) PopularForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoredMovie, error) {
	filter := models.PopularFilter{
		MinVoteAverage: s.config.PopularMinRating,
		Limit:          limit,
	}

	prefs, err := s.preferences.GetPreference(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to load user preferences")
		prefs = nil
	}
	if prefs != nil {
		if prefs.MinRating != nil && *prefs.MinRating > filter.MinVoteAverage {
			filter.MinVoteAverage = *prefs.MinRating
		}
		filter.MaxVoteAverage = prefs.MaxRating
		filter.Genres = prefs.FavoriteGenres
		filter.MinYear = prefs.MinYear
		filter.MaxYear = prefs.MaxYear
	}

	return s.popular(ctx, filter, models.AlgorithmPopularFiltered)
}

func (s *RecommendationAlgorithmsService) popular(ctx context.Context, filter models.PopularFilter, algorithm string) ([]models.ScoredMovie, error) {
	entries, err := s.catalog.ListPopular(ctx, filter)
	if err != nil {
		return nil, unavailable("catalog", err)
	}

	items := make([]models.ScoredMovie, 0, len(entries))
	for _, entry := range entries {
		if entry.VoteAverage < filter.MinVoteAverage {
			continue
		}
		if len(items) == filter.Limit {
			break
		}
		items = append(items, models.ScoredMovie{
			MovieID:   entry.MovieID,
			Score:     entry.VoteAverage / 10,
			Algorithm: algorithm,
		})
	}
	return rankAndTruncate(items, filter.Limit), nil
}

// popularityFallback serves popular movies in place of a strategy that failed with
// cause. When the catalog is also unreadable the result is empty.
func (s *RecommendationAlgorithmsService) popularityFallback(ctx context.Context, userID uuid.UUID, limit int, cause error) Candidates {
	reason := fallbackReason(cause)
	log := s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"reason":  reason,
	})
	if errors.Is(cause, ErrInsufficientData) {
		log.Debug("Falling back to popular movies")
	} else {
		log.WithError(cause).Warn("Falling back to popular movies")
	}

	items, err := s.Popular(ctx, limit)
	if err != nil {
		log.WithError(err).Error("Popularity fallback failed")
		return Candidates{Items: []models.ScoredMovie{}, Fallback: models.FallbackDataUnavailable}
	}
	return Candidates{Items: items, Fallback: reason}
}
