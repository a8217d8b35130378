package services

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/database"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HealthService struct {
	logger      *logrus.Logger
	critical    map[string]HealthCheck
	nonCritical map[string]HealthCheck
	timeout     time.Duration

	healthCheckStatus *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

// NewHealthService checks PostgreSQL as critical. Redis, Neo4j and Kafka degrade
// the service without making it unhealthy; the engine falls back without them.
func NewHealthService(db *database.Database, extra map[string]HealthCheck, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	critical := map[string]HealthCheck{}
	nonCritical := map[string]HealthCheck{}

	if db != nil {
		if db.PG != nil {
			critical["postgresql"] = func(ctx context.Context) error { return db.PG.Ping(ctx) }
		}
		if db.Redis != nil {
			nonCritical["redis"] = func(ctx context.Context) error { return db.Redis.Ping(ctx).Err() }
		}
		if db.Neo4j != nil {
			nonCritical["neo4j"] = func(ctx context.Context) error { return db.Neo4j.VerifyConnectivity(ctx) }
		}
	}
	for name, check := range extra {
		nonCritical[name] = check
	}

	return newHealthService(critical, nonCritical, reg, logger)
}

func newHealthService(critical, nonCritical map[string]HealthCheck, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	hs := &HealthService{
		logger:      logger,
		critical:    critical,
		nonCritical: nonCritical,
		timeout:     5 * time.Second,
		healthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cinerank_health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),
	}
	if reg != nil {
		hs.healthCheckStatus = register(reg, hs.healthCheckStatus)
	}
	return hs
}

// CheckHealth is unhealthy when a critical dependency fails and degraded when
// only non-critical ones do.
func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	status.Critical = s.run(ctx, s.critical, status, logrus.ErrorLevel)
	status.NonCritical = s.run(ctx, s.nonCritical, status, logrus.WarnLevel)

	switch {
	case len(status.Critical) > 0:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}
	return status
}

func (s *HealthService) run(ctx context.Context, checks map[string]HealthCheck, status *HealthStatus, level logrus.Level) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := checks[name](checkCtx)
		cancel()

		if err != nil {
			status.Services[name] = "unhealthy"
			failed = append(failed, name)
			s.logger.WithError(err).WithField("service", name).Log(level, "Dependency is unhealthy")
			s.healthCheckStatus.WithLabelValues(name).Set(0)
			continue
		}
		status.Services[name] = "healthy"
		s.healthCheckStatus.WithLabelValues(name).Set(1)
	}
	return failed
}
