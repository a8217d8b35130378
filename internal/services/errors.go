package services

import (
	"errors"
	"fmt"

	"github.com/temcen/cinerank/pkg/models"
)

var (
	// ErrInsufficientData marks a strategy that had nothing to work with: no
	// ratings, no seed movies or fewer than two catalog entries.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidParameter is returned by request validation before the engine runs.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnknownJob is returned for job names the runner does not know.
	ErrUnknownJob = errors.New("unknown job")
)

// DataUnavailableError reports that a collaborator could not be read.
type DataUnavailableError struct {
	Source string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(source string, err error) error {
	return &DataUnavailableError{Source: source, Err: err}
}

// fallbackReason maps a strategy error onto the reason reported to callers.
func fallbackReason(err error) string {
	var dataErr *DataUnavailableError
	switch {
	case err == nil:
		return models.FallbackNone
	case errors.As(err, &dataErr):
		return models.FallbackDataUnavailable
	case errors.Is(err, ErrInsufficientData):
		return models.FallbackInsufficientData
	default:
		return models.FallbackDataUnavailable
	}
}
