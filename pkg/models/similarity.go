package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SimilarityCosine  = "cosine"
	SimilarityJaccard = "jaccard"
	SimilarityContent = "content_based"
)

// UserSimilarityRecord stores an unordered user pair with UserA < UserB.
type UserSimilarityRecord struct {
	UserA      uuid.UUID `json:"user_a"`
	UserB      uuid.UUID `json:"user_b"`
	Score      float64   `json:"score"`
	Algorithm  string    `json:"algorithm"`
	ComputedAt time.Time `json:"computed_at"`
}

// MovieSimilarityRecord stores an unordered movie pair with MovieA < MovieB.
type MovieSimilarityRecord struct {
	MovieA     int64     `json:"movie_a"`
	MovieB     int64     `json:"movie_b"`
	Score      float64   `json:"score"`
	Algorithm  string    `json:"algorithm"`
	ComputedAt time.Time `json:"computed_at"`
}

// NewUserSimilarityRecord orders the pair so the same two users always map to one record.
func NewUserSimilarityRecord(a, b uuid.UUID, score float64, algorithm string, at time.Time) UserSimilarityRecord {
	if a.String() > b.String() {
		a, b = b, a
	}
	return UserSimilarityRecord{UserA: a, UserB: b, Score: score, Algorithm: algorithm, ComputedAt: at}
}

// NewMovieSimilarityRecord orders the pair so the same two movies always map to one record.
func NewMovieSimilarityRecord(a, b int64, score float64, algorithm string, at time.Time) MovieSimilarityRecord {
	if a > b {
		a, b = b, a
	}
	return MovieSimilarityRecord{MovieA: a, MovieB: b, Score: score, Algorithm: algorithm, ComputedAt: at}
}
