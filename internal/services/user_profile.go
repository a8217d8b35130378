package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/pkg/models"
)

// Profile buckets of the personalized strategy.
const (
	ProfileNewUser = "new_user"
	ProfileDiverse = "diverse"
	ProfileFocused = "focused"
)

// BuildUserProfile counts the user's interactions and measures how spread their
// ratings are across genres.
func (s *RecommendationAlgorithmsService) BuildUserProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	count, err := s.interactions.CountUserInteractions(ctx, userID)
	if err != nil {
		return nil, unavailable("interaction store", err)
	}

	profile := &models.UserProfile{UserID: userID, InteractionCount: count}
	if count == 0 {
		return profile, nil
	}

	interactions, err := s.interactions.ListUserInteractions(ctx, userID)
	if err != nil {
		return nil, unavailable("interaction store", err)
	}

	var rated []int64
	seen := make(map[int64]struct{})
	for _, in := range interactions {
		if in.InteractionType != models.InteractionRating || in.Value == nil {
			continue
		}
		if _, dup := seen[in.MovieID]; dup {
			continue
		}
		seen[in.MovieID] = struct{}{}
		rated = append(rated, in.MovieID)
	}
	if len(rated) == 0 {
		return profile, nil
	}

	movies, err := s.catalog.GetMovies(ctx, rated)
	if err != nil {
		return nil, unavailable("catalog", err)
	}

	genreLists := make([][]string, 0, len(movies))
	for _, id := range rated {
		if movie, ok := movies[id]; ok {
			genreLists = append(genreLists, movie.Genres)
		}
	}
	profile.DiversityScore = genreDiversity(genreLists)

	return profile, nil
}

// genreDiversity is the number of distinct genres divided by the total number of
// genre occurrences, or 0 when there are none.
func genreDiversity(genreLists [][]string) float64 {
	unique := make(map[string]struct{})
	total := 0
	for _, genres := range genreLists {
		for _, g := range genres {
			unique[g] = struct{}{}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(len(unique)) / float64(total)
}

// ProfileBucket classifies a profile for weight selection.
func ProfileBucket(profile *models.UserProfile, cfg *config.AlgorithmConfig) string {
	switch {
	case profile.InteractionCount < cfg.MinInteractions:
		return ProfileNewUser
	case profile.DiversityScore > cfg.DiverseUserThreshold:
		return ProfileDiverse
	default:
		return ProfileFocused
	}
}

// WeightsFor returns the fusion weights of a profile bucket.
func WeightsFor(bucket string, cfg *config.AlgorithmConfig) config.StrategyWeights {
	switch bucket {
	case ProfileNewUser:
		return cfg.Profiles.NewUser
	case ProfileDiverse:
		return cfg.Profiles.Diverse
	default:
		return cfg.Profiles.Focused
	}
}

// applyPreferenceBounds drops candidates whose catalog entry violates the user's
// rating or year bounds. Candidates missing from the catalog are dropped too;
// undated movies pass the year bounds. Genre preferences are not enforced here.
func applyPreferenceBounds(items []models.ScoredMovie, prefs *models.UserPreference, movies map[int64]models.CatalogEntry) []models.ScoredMovie {
	if prefs == nil {
		return items
	}

	filtered := make([]models.ScoredMovie, 0, len(items))
	for _, item := range items {
		movie, ok := movies[item.MovieID]
		if !ok {
			continue
		}
		if prefs.MinRating != nil && movie.VoteAverage < *prefs.MinRating {
			continue
		}
		if prefs.MaxRating != nil && movie.VoteAverage > *prefs.MaxRating {
			continue
		}
		year := movie.ReleaseYear()
		if prefs.MinYear != nil && year != 0 && year < *prefs.MinYear {
			continue
		}
		if prefs.MaxYear != nil && year != 0 && year > *prefs.MaxYear {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}

// hasBounds reports whether prefs carries any bound the post-filter enforces.
func hasBounds(prefs *models.UserPreference) bool {
	return prefs != nil &&
		(prefs.MinRating != nil || prefs.MaxRating != nil || prefs.MinYear != nil || prefs.MaxYear != nil)
}
