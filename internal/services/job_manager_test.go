package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyProgress(t *testing.T) {
	created := baseTime

	t.Run("processing job gets an estimate", func(t *testing.T) {
		job := &JobProgress{CreatedAt: created, Status: JobStatusQueued}

		applyProgress(job, 10, 4, 1, JobStatusProcessing, nil, created.Add(20*time.Second))

		assert.Equal(t, 10, job.TotalItems)
		assert.Equal(t, 50, job.Progress)
		require.NotNil(t, job.EstimatedTime)
		assert.Equal(t, 25, *job.EstimatedTime) // 5s per processed item, 5 left
		assert.Equal(t, created.Add(20*time.Second), job.UpdatedAt)
	})

	t.Run("zero total keeps the known total", func(t *testing.T) {
		job := &JobProgress{CreatedAt: created, TotalItems: 8}

		applyProgress(job, 0, 2, 0, JobStatusProcessing, nil, created.Add(time.Second))

		assert.Equal(t, 8, job.TotalItems)
		assert.Equal(t, 25, job.Progress)
	})

	t.Run("completed is always 100 percent", func(t *testing.T) {
		job := &JobProgress{CreatedAt: created}

		applyProgress(job, 0, 3, 0, JobStatusCompleted, nil, created)

		assert.Equal(t, 100, job.Progress)
		assert.Nil(t, job.EstimatedTime)
	})

	t.Run("failure keeps its message", func(t *testing.T) {
		job := &JobProgress{CreatedAt: created}
		msg := "catalog unavailable"

		applyProgress(job, 0, 0, 0, JobStatusFailed, &msg, created)
		applyProgress(job, 0, 0, 0, JobStatusFailed, nil, created)

		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, msg, *job.ErrorMessage)
	})
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, progressPercent(0, 5))
	assert.Equal(t, 33, progressPercent(3, 1))
	assert.Equal(t, 100, progressPercent(3, 3))
	assert.Equal(t, 100, progressPercent(3, 7))
}

func TestFinalStatus(t *testing.T) {
	tests := []struct {
		processed, failed int
		want              string
	}{
		{0, 0, JobStatusCompleted},
		{5, 0, JobStatusCompleted},
		{5, 2, JobStatusCompleted},
		{0, 3, JobStatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, finalStatus(tt.processed, tt.failed), "processed=%d failed=%d", tt.processed, tt.failed)
	}
}

func TestMemoryJobTracker(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryJobTracker()

	job, err := tracker.CreateJob(ctx, JobCleanup, 3)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.JobID)
	assert.Equal(t, JobStatusQueued, job.Status)

	require.NoError(t, tracker.UpdateJobProgress(ctx, job.JobID, 0, 3, 0, JobStatusCompleted, nil))

	got, err := tracker.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedItems)
	assert.Equal(t, 100, got.Progress)

	_, err = tracker.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, tracker.UpdateJobProgress(ctx, uuid.New(), 0, 0, 0, JobStatusFailed, nil), ErrJobNotFound)
}

func TestJobKey(t *testing.T) {
	id := uuid.MustParse("5f0e4a4c-1d2b-4c3d-9e8f-0a1b2c3d4e5f")
	assert.Equal(t, "job:5f0e4a4c-1d2b-4c3d-9e8f-0a1b2c3d4e5f", jobKey(id))
}
