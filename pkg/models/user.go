package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	InteractionView       = "view"
	InteractionLike       = "like"
	InteractionDislike    = "dislike"
	InteractionFavorite   = "favorite"
	InteractionUnfavorite = "unfavorite"
	InteractionRating     = "rating"
	InteractionSearch     = "search"
	InteractionClick      = "click"
	InteractionWatchlist  = "watchlist"
)

// MaxRatingValue is the upper bound of a rating interaction value.
const MaxRatingValue = 10.0

var (
	ErrRatingValueRequired   = errors.New("rating interaction requires a value")
	ErrRatingValueOutOfRange = errors.New("rating value must be between 0 and 10")
	ErrUnexpectedValue       = errors.New("value is only allowed on rating interactions")
)

// Interaction is a timestamped user action on a movie.
type Interaction struct {
	ID              uuid.UUID `json:"id" db:"id"`
	UserID          uuid.UUID `json:"user_id" db:"user_id" validate:"required"`
	MovieID         int64     `json:"movie_id" db:"movie_id" validate:"required,gt=0"`
	InteractionType string    `json:"interaction_type" db:"interaction_type" validate:"required,oneof=view like dislike favorite unfavorite rating search click watchlist"`
	Value           *float64  `json:"value,omitempty" db:"value"`
	Timestamp       time.Time `json:"timestamp" db:"created_at"`
}

// CheckValue enforces that a value is present (and within 0-10) exactly when the
// interaction is a rating.
func (i *Interaction) CheckValue() error {
	if i.InteractionType != InteractionRating {
		if i.Value != nil {
			return fmt.Errorf("%s interaction: %w", i.InteractionType, ErrUnexpectedValue)
		}
		return nil
	}
	if i.Value == nil {
		return ErrRatingValueRequired
	}
	if *i.Value < 0 || *i.Value > MaxRatingValue {
		return ErrRatingValueOutOfRange
	}
	return nil
}

// RecordInteractionRequest is the payload accepted by the interaction endpoint.
type RecordInteractionRequest struct {
	UserID          uuid.UUID `json:"user_id" validate:"required"`
	MovieID         int64     `json:"movie_id" validate:"required,gt=0"`
	InteractionType string    `json:"interaction_type" validate:"required,oneof=view like dislike favorite unfavorite rating search click watchlist"`
	Value           *float64  `json:"value,omitempty" validate:"omitempty,min=0,max=10"`
}

type Favorite struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	MovieID   int64     `json:"movie_id" db:"movie_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UserPreference holds the bounds a user stated for their recommendations.
// Nil bounds are unset.
type UserPreference struct {
	UserID            uuid.UUID `json:"user_id" db:"user_id"`
	FavoriteGenres    []string  `json:"favorite_genres" db:"favorite_genres"`
	MinRating         *float64  `json:"min_rating,omitempty" db:"min_rating"`
	MaxRating         *float64  `json:"max_rating,omitempty" db:"max_rating"`
	MinYear           *int      `json:"min_year,omitempty" db:"min_year"`
	MaxYear           *int      `json:"max_year,omitempty" db:"max_year"`
	PreferredLanguage *string   `json:"preferred_language,omitempty" db:"preferred_language"`
}

// UserProfile summarises a user's behaviour for adaptive weighting.
type UserProfile struct {
	UserID           uuid.UUID `json:"user_id"`
	InteractionCount int       `json:"interaction_count"`
	DiversityScore   float64   `json:"diversity_score"`
}

// InteractionEvent is published whenever an interaction is recorded.
type InteractionEvent struct {
	EventType       string    `json:"event_type"`
	UserID          uuid.UUID `json:"user_id"`
	MovieID         int64     `json:"movie_id"`
	InteractionType string    `json:"interaction_type"`
	Value           *float64  `json:"value,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
