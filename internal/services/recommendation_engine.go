package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/pkg/models"
)

// RecommendationEngine serves the public recommendation operations. It checks the
// recommendation cache, runs the selected strategy on a miss, fuses strategy
// outputs for hybrid and personalized requests, and memoizes the result.
// Operations never fail: degraded paths still return a (possibly empty) list.
type RecommendationEngine struct {
	algorithms  *RecommendationAlgorithmsService
	cache       *RecommendationCache
	persisted   PersistedCacheStore
	preferences PreferenceStore
	catalog     CatalogStore
	config      *config.AlgorithmConfig
	metrics     *EngineMetrics
	logger      *logrus.Logger
	now         func() time.Time
}

// EngineDeps are the collaborators injected into a RecommendationEngine.
type EngineDeps struct {
	Interactions InteractionStore
	Favorites    FavoriteStore
	Catalog      CatalogStore
	Preferences  PreferenceStore
	Cache        *RecommendationCache
	Persisted    PersistedCacheStore
	Metrics      *EngineMetrics
}

func NewRecommendationEngine(deps EngineDeps, cfg *config.AlgorithmConfig, logger *logrus.Logger) *RecommendationEngine {
	return &RecommendationEngine{
		algorithms: NewRecommendationAlgorithmsService(
			deps.Interactions, deps.Favorites, deps.Catalog, deps.Preferences, cfg, logger,
		),
		cache:       deps.Cache,
		persisted:   deps.Persisted,
		preferences: deps.Preferences,
		catalog:     deps.Catalog,
		config:      cfg,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Algorithms exposes the underlying strategies to background jobs.
func (e *RecommendationEngine) Algorithms() *RecommendationAlgorithmsService {
	return e.algorithms
}

// Cache exposes the recommendation cache for invalidation.
func (e *RecommendationEngine) Cache() *RecommendationCache {
	return e.cache
}

func (e *RecommendationEngine) CollaborativeRecommendations(ctx context.Context, userID uuid.UUID, limit int) *models.RecommendationResult {
	params := models.RecommendationParams{Limit: limit}
	return e.serve(ctx, &userID, UserSubject(userID), models.AlgorithmCollaborative, params, func(ctx context.Context) Candidates {
		return e.algorithms.CollaborativeFiltering(ctx, userID, limit)
	})
}

func (e *RecommendationEngine) ContentBasedRecommendations(ctx context.Context, movieID int64, limit int) *models.RecommendationResult {
	params := models.RecommendationParams{Limit: limit, SeedMovieID: &movieID}
	return e.serve(ctx, nil, MovieSubject(movieID), models.AlgorithmContentBased, params, func(ctx context.Context) Candidates {
		return e.algorithms.ContentBased(ctx, movieID, limit)
	})
}

func (e *RecommendationEngine) ContentBasedRecommendationsForUser(ctx context.Context, userID uuid.UUID, limit int) *models.RecommendationResult {
	params := models.RecommendationParams{Limit: limit}
	return e.serve(ctx, &userID, UserSubject(userID), models.AlgorithmContentBased, params, func(ctx context.Context) Candidates {
		return e.algorithms.ContentBasedForUser(ctx, userID, limit)
	})
}

func (e *RecommendationEngine) HybridRecommendations(ctx context.Context, userID uuid.UUID, limit int, collaborativeWeight float64) *models.RecommendationResult {
	params := models.RecommendationParams{Limit: limit, CollaborativeWeight: &collaborativeWeight}
	return e.serve(ctx, &userID, UserSubject(userID), models.AlgorithmHybrid, params, func(ctx context.Context) Candidates {
		return e.hybrid(ctx, userID, limit, collaborativeWeight)
	})
}

func (e *RecommendationEngine) PersonalizedRecommendations(ctx context.Context, userID uuid.UUID, limit int) *models.RecommendationResult {
	params := models.RecommendationParams{Limit: limit}
	return e.serve(ctx, &userID, UserSubject(userID), models.AlgorithmPersonalized, params, func(ctx context.Context) Candidates {
		return e.personalized(ctx, userID, limit)
	})
}

// InvalidateUser drops every cached result of a user.
func (e *RecommendationEngine) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	n, err := e.cache.InvalidateSubject(ctx, UserSubject(userID))
	if err != nil {
		return fmt.Errorf("failed to invalidate recommendations for user %s: %w", userID, err)
	}
	e.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"entries": n,
	}).Debug("Invalidated cached recommendations")
	return nil
}

func (e *RecommendationEngine) serve(
	ctx context.Context,
	userID *uuid.UUID,
	subject, algorithm string,
	params models.RecommendationParams,
	compute func(context.Context) Candidates,
) *models.RecommendationResult {
	started := e.now()

	if entry := e.cache.Get(ctx, subject, algorithm, params); entry != nil {
		e.metrics.observeCache("hit")
		e.metrics.observeResult(algorithm, true, started)
		return &models.RecommendationResult{
			UserID:      userID,
			Algorithm:   algorithm,
			Items:       entry.Items,
			Fallback:    entry.Fallback,
			CacheHit:    true,
			GeneratedAt: entry.CreatedAt,
		}
	}
	e.metrics.observeCache("miss")

	candidates := compute(ctx)
	if candidates.Items == nil {
		candidates.Items = []models.ScoredMovie{}
	}
	e.metrics.observeFallback(algorithm, candidates.Fallback)

	// Outage results are not memoized so recovery is visible on the next request.
	if candidates.Fallback != models.FallbackDataUnavailable {
		if _, err := e.cache.Put(ctx, subject, algorithm, params, candidates); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"subject":   subject,
				"algorithm": algorithm,
			}).Warn("Failed to cache recommendations")
		}
	}

	e.metrics.observeResult(algorithm, false, started)
	return &models.RecommendationResult{
		UserID:      userID,
		Algorithm:   algorithm,
		Items:       candidates.Items,
		Fallback:    candidates.Fallback,
		GeneratedAt: e.now(),
	}
}

// hybrid fuses collaborative and content-based output, each asked for 2*limit
// candidates, with weights w and 1-w.
func (e *RecommendationEngine) hybrid(ctx context.Context, userID uuid.UUID, limit int, collaborativeWeight float64) Candidates {
	contentWeight := 1 - collaborativeWeight
	var collaborative, content Candidates

	g, gctx := errgroup.WithContext(ctx)
	if collaborativeWeight != 0 {
		g.Go(func() error {
			collaborative = e.algorithms.CollaborativeFiltering(gctx, userID, 2*limit)
			return nil
		})
	}
	if contentWeight != 0 {
		g.Go(func() error {
			content = e.algorithms.ContentBasedForUser(gctx, userID, 2*limit)
			return nil
		})
	}
	_ = g.Wait()

	items := CombineScores([]WeightedList{
		{Items: collaborative.Items, Weight: collaborativeWeight},
		{Items: content.Items, Weight: contentWeight},
	}, limit, models.AlgorithmHybrid)

	fallback := collaborative.Fallback
	if fallback == models.FallbackNone {
		fallback = content.Fallback
	}
	return Candidates{Items: items, Fallback: fallback}
}

// personalized weights collaborative, content and popularity output by the
// user's profile bucket, then removes candidates outside the user's rating and
// year bounds.
func (e *RecommendationEngine) personalized(ctx context.Context, userID uuid.UUID, limit int) Candidates {
	profile, err := e.algorithms.BuildUserProfile(ctx, userID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("Failed to build user profile, treating as new user")
		profile = &models.UserProfile{UserID: userID}
	}
	bucket := ProfileBucket(profile, e.config)
	weights := WeightsFor(bucket, e.config)

	e.logger.WithFields(logrus.Fields{
		"user_id":           userID,
		"profile":           bucket,
		"interaction_count": profile.InteractionCount,
		"diversity":         profile.DiversityScore,
	}).Debug("Personalized weights selected")

	var collaborative, content Candidates
	var popular []models.ScoredMovie

	g, gctx := errgroup.WithContext(ctx)
	if weights.Collaborative != 0 {
		g.Go(func() error {
			collaborative = e.algorithms.CollaborativeFiltering(gctx, userID, limit)
			return nil
		})
	}
	if weights.Content != 0 {
		g.Go(func() error {
			content = e.algorithms.ContentBasedForUser(gctx, userID, limit)
			return nil
		})
	}
	if weights.Popularity != 0 {
		g.Go(func() error {
			items, err := e.algorithms.Popular(gctx, limit)
			if err != nil {
				e.logger.WithError(err).WithField("user_id", userID).Warn("Popularity strategy failed")
				return nil
			}
			popular = items
			return nil
		})
	}
	_ = g.Wait()

	// A collaborative fallback is popularity in disguise; popularity has its own weight.
	collaborativeItems := collaborative.Items
	if collaborative.fellBack() {
		collaborativeItems = nil
	}

	items := CombineScores([]WeightedList{
		{Items: collaborativeItems, Weight: weights.Collaborative},
		{Items: content.Items, Weight: weights.Content},
		{Items: popular, Weight: weights.Popularity},
	}, -1, models.AlgorithmPersonalized)

	items = e.filterByPreferences(ctx, userID, items)
	items = rankAndTruncate(items, limit)

	fallback := models.FallbackNone
	if len(collaborativeItems) == 0 {
		fallback = content.Fallback
	}
	return Candidates{Items: items, Fallback: fallback}
}

func (e *RecommendationEngine) filterByPreferences(ctx context.Context, userID uuid.UUID, items []models.ScoredMovie) []models.ScoredMovie {
	if len(items) == 0 {
		return items
	}

	prefs, err := e.preferences.GetPreference(ctx, userID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("Failed to load preferences, skipping filter")
		return items
	}
	if !hasBounds(prefs) {
		return items
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.MovieID
	}
	movies, err := e.catalog.GetMovies(ctx, ids)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("Failed to load catalog entries, skipping filter")
		return items
	}
	return applyPreferenceBounds(items, prefs, movies)
}

// WarmUser precomputes every user-level algorithm with the warm TTL and persists
// the results. It returns the number of entries written.
func (e *RecommendationEngine) WarmUser(ctx context.Context, userID uuid.UUID, limit int) (int, error) {
	weight := e.config.DefaultCollaborativeWeight
	subject := UserSubject(userID)

	warmers := []struct {
		algorithm string
		params    models.RecommendationParams
		compute   func(context.Context) Candidates
	}{
		{models.AlgorithmCollaborative, models.RecommendationParams{Limit: limit}, func(ctx context.Context) Candidates {
			return e.algorithms.CollaborativeFiltering(ctx, userID, limit)
		}},
		{models.AlgorithmContentBased, models.RecommendationParams{Limit: limit}, func(ctx context.Context) Candidates {
			return e.algorithms.ContentBasedForUser(ctx, userID, limit)
		}},
		{models.AlgorithmHybrid, models.RecommendationParams{Limit: limit, CollaborativeWeight: &weight}, func(ctx context.Context) Candidates {
			return e.hybrid(ctx, userID, limit, weight)
		}},
		{models.AlgorithmPersonalized, models.RecommendationParams{Limit: limit}, func(ctx context.Context) Candidates {
			return e.personalized(ctx, userID, limit)
		}},
	}

	warmed := 0
	var lastErr error
	for _, w := range warmers {
		candidates := w.compute(ctx)
		if candidates.Fallback == models.FallbackDataUnavailable {
			lastErr = fmt.Errorf("%s recommendations for user %s: data unavailable", w.algorithm, userID)
			continue
		}

		entry, err := e.cache.PutWithTTL(ctx, subject, w.algorithm, w.params, candidates, e.config.Caching.WarmTTL)
		if err != nil {
			lastErr = err
			e.logger.WithError(err).WithFields(logrus.Fields{
				"user_id":   userID,
				"algorithm": w.algorithm,
			}).Warn("Failed to warm recommendations")
			continue
		}
		if e.persisted != nil && entry != nil {
			if err := e.persisted.UpsertEntry(ctx, userID, entry); err != nil {
				lastErr = err
				e.logger.WithError(err).WithField("user_id", userID).Warn("Failed to persist warmed recommendations")
				continue
			}
		}
		warmed++
	}

	if warmed == 0 && lastErr != nil {
		return 0, lastErr
	}
	return warmed, nil
}
