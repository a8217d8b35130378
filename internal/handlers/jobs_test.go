package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinerank/internal/services"
	"github.com/temcen/cinerank/internal/validation"
)

type MockJobRunner struct {
	mock.Mock
}

func (m *MockJobRunner) Run(ctx context.Context, name string, opts services.JobOptions) (*services.JobReport, error) {
	args := m.Called(ctx, name, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.JobReport), args.Error(1)
}

func (m *MockJobRunner) Start(ctx context.Context, name string, opts services.JobOptions) (*services.JobProgress, error) {
	args := m.Called(ctx, name, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.JobProgress), args.Error(1)
}

func (m *MockJobRunner) Status(ctx context.Context, jobID uuid.UUID) (*services.JobProgress, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.JobProgress), args.Error(1)
}

func newJobRouter(t *testing.T, runner *MockJobRunner) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	handler := NewJobHandler(runner, validator, testLogger())
	router := gin.New()
	router.POST("/api/v1/admin/jobs/:name", handler.Start)
	router.GET("/api/v1/admin/jobs/:jobId", handler.Status)
	return router
}

func TestJobHandler_Start(t *testing.T) {
	jobID := uuid.New()

	t.Run("starts with options", func(t *testing.T) {
		runner := new(MockJobRunner)
		runner.On("Start", mock.Anything, services.JobUserSimilarity, services.JobOptions{Algorithm: "jaccard", MaxItems: 50}).
			Return(&services.JobProgress{JobID: jobID, Status: services.JobStatusQueued}, nil)

		w := postJSON(newJobRouter(t, runner), "/api/v1/admin/jobs/user-similarity", `{"algorithm":"jaccard","max_items":50}`)

		require.Equal(t, http.StatusAccepted, w.Code)
		var response map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, jobID.String(), response["job_id"])
		assert.Equal(t, services.JobStatusQueued, response["status"])
		runner.AssertExpectations(t)
	})

	t.Run("empty body uses defaults", func(t *testing.T) {
		runner := new(MockJobRunner)
		runner.On("Start", mock.Anything, services.JobCleanup, services.JobOptions{}).
			Return(&services.JobProgress{JobID: jobID, Status: services.JobStatusQueued}, nil)

		w := postJSON(newJobRouter(t, runner), "/api/v1/admin/jobs/cleanup", "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		runner.AssertExpectations(t)
	})

	t.Run("options failing the schema", func(t *testing.T) {
		runner := new(MockJobRunner)

		w := postJSON(newJobRouter(t, runner), "/api/v1/admin/jobs/user-similarity", `{"algorithm":"pearson"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		runner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown job", func(t *testing.T) {
		runner := new(MockJobRunner)
		runner.On("Start", mock.Anything, "reindex", services.JobOptions{}).
			Return(nil, fmt.Errorf("%w: reindex", services.ErrUnknownJob))

		w := postJSON(newJobRouter(t, runner), "/api/v1/admin/jobs/reindex", `{}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestJobHandler_Status(t *testing.T) {
	jobID := uuid.New()

	t.Run("returns progress", func(t *testing.T) {
		runner := new(MockJobRunner)
		runner.On("Status", mock.Anything, jobID).
			Return(&services.JobProgress{JobID: jobID, Name: services.JobWarmCache, Status: services.JobStatusCompleted, Progress: 100}, nil)

		w := get(newJobRouter(t, runner), "/api/v1/admin/jobs/"+jobID.String())

		require.Equal(t, http.StatusOK, w.Code)
		var progress services.JobProgress
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
		assert.Equal(t, services.JobStatusCompleted, progress.Status)
		assert.Equal(t, 100, progress.Progress)
	})

	t.Run("unknown job id", func(t *testing.T) {
		runner := new(MockJobRunner)
		runner.On("Status", mock.Anything, jobID).Return(nil, fmt.Errorf("%w: %s", services.ErrJobNotFound, jobID))

		w := get(newJobRouter(t, runner), "/api/v1/admin/jobs/"+jobID.String())

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed job id", func(t *testing.T) {
		w := get(newJobRouter(t, new(MockJobRunner)), "/api/v1/admin/jobs/42")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
