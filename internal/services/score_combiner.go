package services

import (
	"github.com/temcen/cinerank/pkg/models"
)

// WeightedList is one strategy output entering the combiner.
type WeightedList struct {
	Items  []models.ScoredMovie
	Weight float64
}

// CombineScores fuses weighted lists into one ranked list of at most limit items
// tagged with algorithm. Each movie accumulates score*weight over every list it
// appears in. Weights need not sum to 1. A list with weight 0 contributes nothing
// and its movies do not enter the output through it.
func CombineScores(lists []WeightedList, limit int, algorithm string) []models.ScoredMovie {
	accumulated := make(map[int64]float64)

	for _, list := range lists {
		if list.Weight == 0 {
			continue
		}
		for _, item := range list.Items {
			accumulated[item.MovieID] += item.Score * list.Weight
		}
	}

	combined := make([]models.ScoredMovie, 0, len(accumulated))
	for movieID, score := range accumulated {
		combined = append(combined, models.ScoredMovie{
			MovieID:   movieID,
			Score:     score,
			Algorithm: algorithm,
		})
	}

	return rankAndTruncate(combined, limit)
}
