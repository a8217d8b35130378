package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrJobNotFound is returned when no progress record exists for a job ID.
var ErrJobNotFound = errors.New("job not found")

type JobProgress struct {
	JobID          uuid.UUID `json:"job_id"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	FailedItems    int       `json:"failed_items"`
	EstimatedTime  *int      `json:"estimated_time,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobTracker records the progress of background jobs.
type JobTracker interface {
	CreateJob(ctx context.Context, name string, totalItems int) (*JobProgress, error)
	UpdateJobProgress(ctx context.Context, jobID uuid.UUID, totalItems, processedItems, failedItems int, status string, errorMessage *string) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*JobProgress, error)
}

// JobManager keeps job progress in Redis under job:<id>. Finished jobs expire
// after a day; active jobs never expire.
type JobManager struct {
	redis  *redis.Client
	logger *logrus.Logger
}

func NewJobManager(client *redis.Client, logger *logrus.Logger) *JobManager {
	return &JobManager{
		redis:  client,
		logger: logger,
	}
}

func (jm *JobManager) CreateJob(ctx context.Context, name string, totalItems int) (*JobProgress, error) {
	now := time.Now()
	job := &JobProgress{
		JobID:      uuid.New(),
		Name:       name,
		Status:     JobStatusQueued,
		TotalItems: totalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := jm.store(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job in Redis: %w", err)
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id":   job.JobID,
		"job_name": name,
	}).Info("Job created")

	return job, nil
}

func (jm *JobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	data, err := jm.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job from Redis: %w", err)
	}

	var job JobProgress
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (jm *JobManager) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, totalItems, processedItems, failedItems int, status string, errorMessage *string) error {
	job, err := jm.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	applyProgress(job, totalItems, processedItems, failedItems, status, errorMessage, time.Now())

	if err := jm.store(ctx, job); err != nil {
		return fmt.Errorf("failed to update job in Redis: %w", err)
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id":          jobID,
		"status":          status,
		"progress":        job.Progress,
		"processed_items": processedItems,
		"failed_items":    failedItems,
	}).Debug("Job progress updated")

	return nil
}

func (jm *JobManager) store(ctx context.Context, job *JobProgress) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ttl := time.Duration(0)
	if job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
		ttl = 24 * time.Hour
	}
	return jm.redis.Set(ctx, jobKey(job.JobID), data, ttl).Err()
}

func jobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID.String())
}

// applyProgress updates counters, the completion percentage and the remaining
// time estimate of job as of now.
func applyProgress(job *JobProgress, totalItems, processedItems, failedItems int, status string, errorMessage *string, now time.Time) {
	if totalItems > 0 {
		job.TotalItems = totalItems
	}
	job.ProcessedItems = processedItems
	job.FailedItems = failedItems
	job.Status = status
	job.UpdatedAt = now
	if errorMessage != nil {
		job.ErrorMessage = errorMessage
	}

	job.Progress = progressPercent(job.TotalItems, processedItems+failedItems)
	if status == JobStatusCompleted {
		job.Progress = 100
	}

	job.EstimatedTime = nil
	if status == JobStatusProcessing && processedItems > 0 {
		elapsed := now.Sub(job.CreatedAt).Seconds()
		remaining := job.TotalItems - processedItems - failedItems
		if remaining < 0 {
			remaining = 0
		}
		estimate := int(elapsed / float64(processedItems) * float64(remaining))
		job.EstimatedTime = &estimate
	}
}

func progressPercent(total, done int) int {
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(float64(done) / float64(total) * 100)
}

// finalStatus is failed only when every attempted item failed.
func finalStatus(processed, failed int) string {
	if failed > 0 && processed == 0 {
		return JobStatusFailed
	}
	return JobStatusCompleted
}

// memoryJobTracker keeps progress in process. The jobs CLI uses it when Redis is
// not configured.
type memoryJobTracker struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]JobProgress
}

func NewMemoryJobTracker() JobTracker {
	return &memoryJobTracker{jobs: make(map[uuid.UUID]JobProgress)}
}

func (m *memoryJobTracker) CreateJob(_ context.Context, name string, totalItems int) (*JobProgress, error) {
	now := time.Now()
	job := JobProgress{
		JobID:      uuid.New(),
		Name:       name,
		Status:     JobStatusQueued,
		TotalItems: totalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.jobs[job.JobID] = job
	m.mu.Unlock()
	return &job, nil
}

func (m *memoryJobTracker) UpdateJobProgress(_ context.Context, jobID uuid.UUID, totalItems, processedItems, failedItems int, status string, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	applyProgress(&job, totalItems, processedItems, failedItems, status, errorMessage, time.Now())
	m.jobs[jobID] = job
	return nil
}

func (m *memoryJobTracker) GetJob(_ context.Context, jobID uuid.UUID) (*JobProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return &job, nil
}
