package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/services"
	"github.com/temcen/cinerank/pkg/models"
)

type InteractionHandler struct {
	logger    *logrus.Logger
	recorder  services.InteractionRecorder
	validator *validator.Validate
}

func NewInteractionHandler(logger *logrus.Logger, recorder services.InteractionRecorder) *InteractionHandler {
	return &InteractionHandler{
		logger:    logger,
		recorder:  recorder,
		validator: validator.New(),
	}
}

func (h *InteractionHandler) Record(c *gin.Context) {
	var req models.RecordInteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Debug("Failed to bind interaction request")
		respondErrorDetails(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		respondErrorDetails(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
		return
	}

	interaction, err := h.recorder.Record(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidParameter) {
			respondErrorDetails(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
			return
		}
		h.logger.WithError(err).WithField("user_id", req.UserID).Error("Failed to record interaction")
		respondError(c, http.StatusInternalServerError, "INTERACTION_FAILED", "Failed to record interaction")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    interaction,
		"message": "Interaction recorded successfully",
	})
}
