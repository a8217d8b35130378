package services

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHealthService_CheckHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errStoreDown }

	tests := []struct {
		name        string
		critical    map[string]HealthCheck
		nonCritical map[string]HealthCheck
		want        string
	}{
		{"all up", map[string]HealthCheck{"postgresql": ok}, map[string]HealthCheck{"redis": ok}, "healthy"},
		{"non-critical down", map[string]HealthCheck{"postgresql": ok}, map[string]HealthCheck{"redis": down, "neo4j": ok}, "degraded"},
		{"critical down", map[string]HealthCheck{"postgresql": down}, map[string]HealthCheck{"redis": down}, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHealthService(tt.critical, tt.nonCritical, prometheus.NewRegistry(), testLogger())

			status := hs.CheckHealth(context.Background())

			assert.Equal(t, tt.want, status.Status)
			assert.Len(t, status.Services, len(tt.critical)+len(tt.nonCritical))
		})
	}

	t.Run("reports failures by name and sets the gauge", func(t *testing.T) {
		hs := newHealthService(
			map[string]HealthCheck{"postgresql": ok},
			map[string]HealthCheck{"redis": down, "catalog_breaker": down},
			prometheus.NewRegistry(), testLogger(),
		)

		status := hs.CheckHealth(context.Background())

		assert.Empty(t, status.Critical)
		assert.Equal(t, []string{"catalog_breaker", "redis"}, status.NonCritical)
		assert.Equal(t, "unhealthy", status.Services["redis"])
		assert.Equal(t, 1.0, testutil.ToFloat64(hs.healthCheckStatus.WithLabelValues("postgresql")))
		assert.Equal(t, 0.0, testutil.ToFloat64(hs.healthCheckStatus.WithLabelValues("redis")))
	})
}

func TestNewHealthService_WithoutDatabase(t *testing.T) {
	hs := NewHealthService(nil, map[string]HealthCheck{
		"kafka": func(context.Context) error { return nil },
	}, nil, testLogger())

	status := hs.CheckHealth(context.Background())

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, map[string]string{"kafka": "healthy"}, status.Services)
}
