package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/pkg/models"
)

// CacheInvalidator drops cached recommendations of a user.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

// UserInteractionService records interactions and keeps derived recommendations
// fresh. With a publisher configured, invalidation happens downstream when the
// event is consumed; otherwise the user's cache is dropped inline.
type UserInteractionService struct {
	store       InteractionStore
	publisher   EventPublisher
	invalidator CacheInvalidator
	logger      *logrus.Logger
	now         func() time.Time
}

func NewUserInteractionService(store InteractionStore, publisher EventPublisher, invalidator CacheInvalidator, logger *logrus.Logger) *UserInteractionService {
	return &UserInteractionService{
		store:       store,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// Record stores an interaction. A rating for a movie the user already rated
// overwrites the previous value.
func (s *UserInteractionService) Record(ctx context.Context, req *models.RecordInteractionRequest) (*models.Interaction, error) {
	interaction := &models.Interaction{
		ID:              uuid.New(),
		UserID:          req.UserID,
		MovieID:         req.MovieID,
		InteractionType: req.InteractionType,
		Value:           req.Value,
		Timestamp:       s.now().UTC(),
	}
	if err := interaction.CheckValue(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	if err := s.store.Record(ctx, interaction); err != nil {
		return nil, fmt.Errorf("failed to store interaction: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":          interaction.UserID,
		"movie_id":         interaction.MovieID,
		"interaction_type": interaction.InteractionType,
	}).Info("Recorded interaction")

	s.propagate(ctx, interaction)
	return interaction, nil
}

func (s *UserInteractionService) propagate(ctx context.Context, interaction *models.Interaction) {
	if s.publisher != nil {
		event := models.InteractionEvent{
			EventType:       "interaction_recorded",
			UserID:          interaction.UserID,
			MovieID:         interaction.MovieID,
			InteractionType: interaction.InteractionType,
			Value:           interaction.Value,
			Timestamp:       interaction.Timestamp,
		}
		err := s.publisher.PublishInteraction(ctx, event)
		if err == nil {
			return
		}
		s.logger.WithError(err).WithField("user_id", interaction.UserID).Warn("Failed to publish interaction event, invalidating inline")
	}

	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, interaction.UserID); err != nil {
		s.logger.WithError(err).WithField("user_id", interaction.UserID).Warn("Failed to invalidate recommendations")
	}
}
