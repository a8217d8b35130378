package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinerank/internal/services"
)

type stubHealth struct {
	status string
}

func (s stubHealth) CheckHealth(context.Context) *services.HealthStatus {
	return &services.HealthStatus{Status: s.status, Services: map[string]string{}}
}

func TestHealthHandler_Check(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		status         string
		expectedStatus int
	}{
		{"healthy", "healthy", http.StatusOK},
		{"degraded still serves", "degraded", http.StatusOK},
		{"unhealthy", "unhealthy", http.StatusServiceUnavailable},
		{"unknown status", "confused", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/health", (&HealthHandler{logger: testLogger(), checker: stubHealth{tt.status}}).Check)

			w := get(router, "/health")

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			var status services.HealthStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
			assert.Equal(t, tt.status, status.Status)
		})
	}
}

func TestHealthHandler_WithHealthService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	health := services.NewHealthService(nil, map[string]services.HealthCheck{
		"kafka": func(context.Context) error { return assert.AnError },
	}, prometheus.NewRegistry(), testLogger())
	router := gin.New()
	router.GET("/health", NewHealthHandler(testLogger(), health).Check)

	w := get(router, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kafka":"unhealthy"`)
}
