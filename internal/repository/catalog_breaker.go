package repository

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/pkg/models"
)

type catalogReader interface {
	GetMovies(ctx context.Context, movieIDs []int64) (map[int64]models.CatalogEntry, error)
	ListCatalog(ctx context.Context, limit int) ([]models.CatalogEntry, error)
	ListPopular(ctx context.Context, filter models.PopularFilter) ([]models.CatalogEntry, error)
}

var breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "cinerank_circuit_breaker_state",
	Help: "Circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
}, []string{"name"})

// CatalogBreaker guards catalog reads with a circuit breaker. While open, calls
// fail fast with gobreaker.ErrOpenState and the engine serves its fallbacks.
type CatalogBreaker struct {
	catalog catalogReader
	cb      *gobreaker.CircuitBreaker[any]
}

// NewCatalogBreaker opens once at least cfg.MinRequests calls were made in the
// current interval and the failure ratio reaches cfg.FailureRatio.
func NewCatalogBreaker(catalog catalogReader, cfg config.BreakerConfig, reg prometheus.Registerer, logger *logrus.Logger) *CatalogBreaker {
	const name = "catalog"

	gauge := breakerState
	if reg != nil {
		if err := reg.Register(gauge); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
					gauge = existing
				}
			}
		}
	}
	gauge.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
			gauge.WithLabelValues(name).Set(stateValue(to))
		},
		// A caller giving up is not a catalog failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CatalogBreaker{catalog: catalog, cb: cb}
}

func (b *CatalogBreaker) GetMovies(ctx context.Context, movieIDs []int64) (map[int64]models.CatalogEntry, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.catalog.GetMovies(ctx, movieIDs)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[int64]models.CatalogEntry), nil
}

func (b *CatalogBreaker) ListCatalog(ctx context.Context, limit int) ([]models.CatalogEntry, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.catalog.ListCatalog(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.CatalogEntry), nil
}

func (b *CatalogBreaker) ListPopular(ctx context.Context, filter models.PopularFilter) ([]models.CatalogEntry, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.catalog.ListPopular(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.CatalogEntry), nil
}

// State reports the current breaker state.
func (b *CatalogBreaker) State() gobreaker.State {
	return b.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
