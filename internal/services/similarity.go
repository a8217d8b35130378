package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/pkg/models"
)

// RatingMatrix is a sparse user x movie matrix of rating values. Users without a
// rating are absent, never present with an empty row.
type RatingMatrix map[uuid.UUID]map[int64]float64

// BuildRatingMatrix pivots rating interactions into a RatingMatrix. Other
// interaction types and ratings without a value are ignored. When a user rated
// the same movie more than once, the most recent value wins.
func BuildRatingMatrix(interactions []models.Interaction) RatingMatrix {
	matrix := make(RatingMatrix)
	latest := make(map[uuid.UUID]map[int64]int64)

	for _, in := range interactions {
		if in.InteractionType != models.InteractionRating || in.Value == nil {
			continue
		}
		row, ok := matrix[in.UserID]
		if !ok {
			row = make(map[int64]float64)
			matrix[in.UserID] = row
			latest[in.UserID] = make(map[int64]int64)
		}
		ts := in.Timestamp.UnixNano()
		if seen, dup := latest[in.UserID][in.MovieID]; dup && seen > ts {
			continue
		}
		row[in.MovieID] = *in.Value
		latest[in.UserID][in.MovieID] = ts
	}

	return matrix
}

// cosineSparse is the cosine similarity of two sparse rows. Iterating the smaller
// row keeps the result independent of argument order.
func cosineSparse(a, b map[int64]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	keys := make([]int64, 0, len(small))
	for k := range small {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var dot float64
	for _, k := range keys {
		if v, ok := large[k]; ok {
			dot += small[k] * v
		}
	}
	if dot == 0 {
		return 0
	}
	denom := rowNorm(a) * rowNorm(b)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

func rowNorm(row map[int64]float64) float64 {
	keys := make([]int64, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var sum float64
	for _, k := range keys {
		sum += row[k] * row[k]
	}
	return math.Sqrt(sum)
}

// UserSimilarity returns the cosine similarity of two users' rating rows. It is
// undefined (ok == false) when either user is absent from the matrix.
func (m RatingMatrix) UserSimilarity(a, b uuid.UUID) (float64, bool) {
	rowA, okA := m[a]
	rowB, okB := m[b]
	if !okA || !okB {
		return 0, false
	}
	return cosineSparse(rowA, rowB), true
}

// Neighbor is another user and their similarity to a target user.
type Neighbor struct {
	UserID     uuid.UUID
	Similarity float64
}

// Neighbors returns up to k other users whose similarity to target is at least
// minSimilarity, most similar first. Ties are broken by user ID.
func (m RatingMatrix) Neighbors(target uuid.UUID, k int, minSimilarity float64) []Neighbor {
	row, ok := m[target]
	if !ok {
		return nil
	}

	var neighbors []Neighbor
	for other, otherRow := range m {
		if other == target {
			continue
		}
		sim := cosineSparse(row, otherRow)
		if sim < minSimilarity {
			continue
		}
		neighbors = append(neighbors, Neighbor{UserID: other, Similarity: sim})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].UserID.String() < neighbors[j].UserID.String()
	})
	if k > 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// movieDocument is the text vectorized for a catalog entry: its genres followed by
// its overview.
func movieDocument(entry models.CatalogEntry) string {
	return strings.Join(entry.Genres, " ") + " " + entry.Overview
}

// SimilarityComputer derives similarity structures from the Interaction Store and
// the Catalog Cache. Each call builds fresh structures; nothing is shared between
// requests.
type SimilarityComputer struct {
	interactions InteractionStore
	catalog      CatalogStore
	maxTerms     int
	logger       *logrus.Logger
}

func NewSimilarityComputer(interactions InteractionStore, catalog CatalogStore, maxTerms int, logger *logrus.Logger) *SimilarityComputer {
	return &SimilarityComputer{
		interactions: interactions,
		catalog:      catalog,
		maxTerms:     maxTerms,
		logger:       logger,
	}
}

// UserItemMatrix loads every rating and pivots it into a RatingMatrix.
func (sc *SimilarityComputer) UserItemMatrix(ctx context.Context) (RatingMatrix, error) {
	ratings, err := sc.interactions.ListRatings(ctx)
	if err != nil {
		return nil, unavailable("interaction store", err)
	}
	return BuildRatingMatrix(ratings), nil
}

// MovieFeatures vectorizes at most maxCatalog catalog entries.
func (sc *SimilarityComputer) MovieFeatures(ctx context.Context, maxCatalog int) (*FeatureSpace, error) {
	entries, err := sc.catalog.ListCatalog(ctx, maxCatalog)
	if err != nil {
		return nil, unavailable("catalog", err)
	}
	return sc.FeaturesFor(entries), nil
}

// FeaturesFor vectorizes the given catalog entries.
func (sc *SimilarityComputer) FeaturesFor(entries []models.CatalogEntry) *FeatureSpace {
	documents := make(map[int64]string, len(entries))
	for _, entry := range entries {
		documents[entry.MovieID] = movieDocument(entry)
	}
	fs := NewFeatureSpace(documents, sc.maxTerms)

	sc.logger.WithFields(logrus.Fields{
		"movies":     fs.Len(),
		"vocabulary": len(fs.Vocabulary()),
	}).Debug("Movie feature space built")

	return fs
}

// SimilarMovies returns the movies most similar to seed, excluding seed itself.
// Similarities below minSimilarity are dropped. A space with fewer than two
// movies, or a seed outside the space, yields nothing.
func SimilarMovies(fs *FeatureSpace, seed int64, limit int, minSimilarity float64) []models.ScoredMovie {
	if fs == nil || fs.Len() < 2 || !fs.Contains(seed) {
		return nil
	}

	var results []models.ScoredMovie
	for _, other := range fs.MovieIDs() {
		if other == seed {
			continue
		}
		sim, _ := fs.Similarity(seed, other)
		if sim < minSimilarity {
			continue
		}
		results = append(results, models.ScoredMovie{
			MovieID:   other,
			Score:     sim,
			Algorithm: models.AlgorithmContentBased,
		})
	}

	return rankAndTruncate(results, limit)
}

// AllMovieSimilarities computes every unordered pair whose similarity reaches
// minSimilarity. Pairs are emitted grouped by their lower movie ID.
func AllMovieSimilarities(fs *FeatureSpace, minSimilarity float64, computedAt time.Time, emit func(movieID int64, pairs []models.MovieSimilarityRecord) error) error {
	if fs == nil || fs.Len() < 2 {
		return nil
	}

	ids := fs.MovieIDs()
	for i, a := range ids {
		var pairs []models.MovieSimilarityRecord
		for _, b := range ids[i+1:] {
			sim, _ := fs.Similarity(a, b)
			if sim < minSimilarity {
				continue
			}
			pairs = append(pairs, models.NewMovieSimilarityRecord(a, b, sim, models.SimilarityContent, computedAt))
		}
		if err := emit(a, pairs); err != nil {
			return err
		}
	}
	return nil
}

// rankAndTruncate sorts by score descending, movie ID ascending, and keeps limit items.
func rankAndTruncate(items []models.ScoredMovie, limit int) []models.ScoredMovie {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].MovieID < items[j].MovieID
	})
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []models.ScoredMovie{}
	}
	return items
}
