package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/services"
)

type healthChecker interface {
	CheckHealth(ctx context.Context) *services.HealthStatus
}

// HealthHandler reports dependency health. A degraded service still answers 200
// because recommendations fall back without the non-critical stores.
type HealthHandler struct {
	logger  *logrus.Logger
	checker healthChecker
}

func NewHealthHandler(logger *logrus.Logger, checker *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		checker: checker,
	}
}

var healthStatusCodes = map[string]int{
	"healthy":   http.StatusOK,
	"degraded":  http.StatusOK,
	"unhealthy": http.StatusServiceUnavailable,
}

func (h *HealthHandler) Check(c *gin.Context) {
	status := h.checker.CheckHealth(c.Request.Context())

	code, ok := healthStatusCodes[status.Status]
	if !ok {
		code = http.StatusInternalServerError
	}
	if code != http.StatusOK {
		h.logger.WithFields(logrus.Fields{
			"status":            status.Status,
			"critical_failures": status.Critical,
		}).Warn("Health check failed")
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(code, status)
}
