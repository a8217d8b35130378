package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/internal/services"
	"github.com/temcen/cinerank/pkg/models"
)

type RecommendationHandler struct {
	engine    services.RecommendationEngineInterface
	defaults  *config.AlgorithmConfig
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewRecommendationHandler(engine services.RecommendationEngineInterface, defaults *config.AlgorithmConfig, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		engine:    engine,
		defaults:  defaults,
		validator: validator.New(),
		logger:    logger,
	}
}

type userRecommender func(ctx context.Context, userID uuid.UUID, q *models.RecommendationQuery) *models.RecommendationResult

func (h *RecommendationHandler) Collaborative(c *gin.Context) {
	h.forUser(c, func(ctx context.Context, userID uuid.UUID, q *models.RecommendationQuery) *models.RecommendationResult {
		return h.engine.CollaborativeRecommendations(ctx, userID, q.Limit)
	})
}

func (h *RecommendationHandler) Content(c *gin.Context) {
	h.forUser(c, func(ctx context.Context, userID uuid.UUID, q *models.RecommendationQuery) *models.RecommendationResult {
		return h.engine.ContentBasedRecommendationsForUser(ctx, userID, q.Limit)
	})
}

func (h *RecommendationHandler) Hybrid(c *gin.Context) {
	h.forUser(c, func(ctx context.Context, userID uuid.UUID, q *models.RecommendationQuery) *models.RecommendationResult {
		weight := h.defaults.DefaultCollaborativeWeight
		if q.CollaborativeWeight != nil {
			weight = *q.CollaborativeWeight
		}
		return h.engine.HybridRecommendations(ctx, userID, q.Limit, weight)
	})
}

func (h *RecommendationHandler) Personalized(c *gin.Context) {
	h.forUser(c, func(ctx context.Context, userID uuid.UUID, q *models.RecommendationQuery) *models.RecommendationResult {
		return h.engine.PersonalizedRecommendations(ctx, userID, q.Limit)
	})
}

// Similar returns the movies closest in content to the movie in the path.
func (h *RecommendationHandler) Similar(c *gin.Context) {
	movieID, err := strconv.ParseInt(c.Param("movieId"), 10, 64)
	if err != nil || movieID <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_MOVIE_ID", "Movie ID must be a positive integer")
		return
	}

	q, ok := h.bindQuery(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.engine.ContentBasedRecommendations(c.Request.Context(), movieID, q.Limit))
}

func (h *RecommendationHandler) forUser(c *gin.Context, recommend userRecommender) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user ID format")
		return
	}

	q, ok := h.bindQuery(c)
	if !ok {
		return
	}

	result := recommend(c.Request.Context(), userID, q)
	if result.Fallback != models.FallbackNone {
		h.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"algorithm": result.Algorithm,
			"fallback":  result.Fallback,
		}).Debug("Served fallback recommendations")
	}
	c.JSON(http.StatusOK, result)
}

// bindQuery parses limit and collaborative_weight, applying the configured
// default limit. It writes the error response itself.
func (h *RecommendationHandler) bindQuery(c *gin.Context) (*models.RecommendationQuery, bool) {
	q := &models.RecommendationQuery{Limit: h.defaults.DefaultLimit}
	if err := c.ShouldBindQuery(q); err != nil {
		respondErrorDetails(c, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid query parameters", err.Error())
		return nil, false
	}
	if err := h.validator.Struct(q); err != nil {
		respondErrorDetails(c, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be in [1,100] and collaborative_weight in [0,1]", err.Error())
		return nil, false
	}
	return q, true
}
