package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/pkg/models"
)

// Background job names.
const (
	JobUserSimilarity  = "user-similarity"
	JobMovieSimilarity = "movie-similarity"
	JobWarmCache       = "warm-cache"
	JobCleanup         = "cleanup"
)

// JobNames lists every job the runner knows, in the order the CLI runs them for "all".
var JobNames = []string{JobUserSimilarity, JobMovieSimilarity, JobWarmCache, JobCleanup}

// jaccardInteractionTypes are the interactions that put a movie in a user's set.
var jaccardInteractionTypes = []string{models.InteractionView, models.InteractionLike, models.InteractionRating}

// JobOptions tune a single run. Zero values use the configured defaults.
type JobOptions struct {
	Algorithm string `json:"algorithm,omitempty"`
	MaxItems  int    `json:"max_items,omitempty"`
}

// JobReport summarizes a finished run.
type JobReport struct {
	JobID     uuid.UUID     `json:"job_id"`
	Name      string        `json:"name"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Stored    int           `json:"stored"`
	Pruned    int           `json:"pruned"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}

// BackgroundJobs runs the similarity recomputation, cache warming and cleanup jobs.
// Per-item failures are counted and skipped; only whole-batch loads are retried.
type BackgroundJobs struct {
	engine       *RecommendationEngine
	interactions InteractionStore
	catalog      CatalogStore
	similarities SimilarityStore
	persisted    PersistedCacheStore
	tracker      JobTracker
	features     *SimilarityComputer
	config       *config.JobsConfig
	minSimilar   float64
	metrics      *EngineMetrics
	logger       *logrus.Logger
	now          func() time.Time
	newBackOff   func() backoff.BackOff
}

// JobDeps are the collaborators of BackgroundJobs.
type JobDeps struct {
	Engine       *RecommendationEngine
	Interactions InteractionStore
	Catalog      CatalogStore
	Similarities SimilarityStore
	Persisted    PersistedCacheStore
	Tracker      JobTracker
	Metrics      *EngineMetrics
}

func NewBackgroundJobs(deps JobDeps, cfg *config.JobsConfig, algorithms *config.AlgorithmConfig, logger *logrus.Logger) *BackgroundJobs {
	tracker := deps.Tracker
	if tracker == nil {
		tracker = NewMemoryJobTracker()
	}
	retry := cfg.Retry
	return &BackgroundJobs{
		engine:       deps.Engine,
		interactions: deps.Interactions,
		catalog:      deps.Catalog,
		similarities: deps.Similarities,
		persisted:    deps.Persisted,
		tracker:      tracker,
		features:     NewSimilarityComputer(deps.Interactions, deps.Catalog, algorithms.Features.MaxTerms, logger),
		config:       cfg,
		minSimilar:   algorithms.MinSimilarity,
		metrics:      deps.Metrics,
		logger:       logger,
		now:          time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = retry.InitialInterval
			b.MaxInterval = retry.MaxInterval
			b.MaxElapsedTime = 0
			return backoff.WithMaxRetries(b, uint64(retry.MaxRetries))
		},
	}
}

// Run executes a job synchronously and returns its report.
func (j *BackgroundJobs) Run(ctx context.Context, name string, opts JobOptions) (*JobReport, error) {
	if !knownJob(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	progress, err := j.tracker.CreateJob(ctx, name, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return j.execute(ctx, progress.JobID, name, opts)
}

// Start launches a job in the background and returns its initial progress. The
// job outlives the request that started it.
func (j *BackgroundJobs) Start(ctx context.Context, name string, opts JobOptions) (*JobProgress, error) {
	if !knownJob(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	progress, err := j.tracker.CreateJob(ctx, name, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	go func(ctx context.Context) {
		if _, err := j.execute(ctx, progress.JobID, name, opts); err != nil {
			j.logger.WithError(err).WithField("job_id", progress.JobID).Error("Background job failed")
		}
	}(context.WithoutCancel(ctx))

	return progress, nil
}

// Status returns the tracked progress of a job.
func (j *BackgroundJobs) Status(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	return j.tracker.GetJob(ctx, jobID)
}

func knownJob(name string) bool {
	for _, n := range JobNames {
		if n == name {
			return true
		}
	}
	return false
}

func (j *BackgroundJobs) execute(ctx context.Context, jobID uuid.UUID, name string, opts JobOptions) (*JobReport, error) {
	started := j.now()
	report := &JobReport{JobID: jobID, Name: name}
	log := j.logger.WithFields(logrus.Fields{"job_id": jobID, "job_name": name})

	j.updateProgress(ctx, report, 0, JobStatusProcessing, nil)
	log.Info("Job started")

	var err error
	switch name {
	case JobUserSimilarity:
		err = j.computeUserSimilarities(ctx, report, opts, started)
	case JobMovieSimilarity:
		err = j.computeMovieSimilarities(ctx, report, opts, started)
	case JobWarmCache:
		err = j.warmCache(ctx, report, opts)
	case JobCleanup:
		err = j.cleanup(ctx, report, started)
	}
	report.Duration = j.now().Sub(started)

	j.metrics.observeJobItems(name, "processed", report.Processed)
	j.metrics.observeJobItems(name, "failed", report.Failed)

	if err != nil {
		msg := err.Error()
		j.updateProgress(ctx, report, 0, JobStatusFailed, &msg)
		log.WithError(err).WithField("attempts", report.Attempts).Error("Job failed")
		return report, err
	}

	j.updateProgress(ctx, report, 0, finalStatus(report.Processed, report.Failed), nil)
	log.WithFields(logrus.Fields{
		"processed": report.Processed,
		"failed":    report.Failed,
		"stored":    report.Stored,
		"pruned":    report.Pruned,
		"duration":  report.Duration,
	}).Info("Job completed")

	return report, nil
}

func (j *BackgroundJobs) updateProgress(ctx context.Context, report *JobReport, total int, status string, errorMessage *string) {
	if err := j.tracker.UpdateJobProgress(ctx, report.JobID, total, report.Processed, report.Failed, status, errorMessage); err != nil {
		j.logger.WithError(err).WithField("job_id", report.JobID).Warn("Failed to update job progress")
	}
}

// withRetry retries a whole-batch load with exponential backoff.
func (j *BackgroundJobs) withRetry(ctx context.Context, report *JobReport, what string, load func() error) error {
	operation := func() error {
		report.Attempts++
		return load()
	}
	notify := func(err error, wait time.Duration) {
		j.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":  report.JobID,
			"load":    what,
			"attempt": report.Attempts,
			"retry":   wait,
		}).Warn("Batch load failed, retrying")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(j.newBackOff(), ctx), notify); err != nil {
		return fmt.Errorf("failed to load %s after %d attempts: %w", what, report.Attempts, err)
	}
	return nil
}

func (j *BackgroundJobs) logWriteError(report *JobReport, err error, records int) error {
	if err != nil {
		j.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":  report.JobID,
			"records": records,
		}).Warn("Similarity batch write failed")
	}
	return err
}

func (j *BackgroundJobs) limit(opts JobOptions, fallback int) int {
	if opts.MaxItems > 0 {
		return opts.MaxItems
	}
	return fallback
}

func (j *BackgroundJobs) computeUserSimilarities(ctx context.Context, report *JobReport, opts JobOptions, runStart time.Time) error {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = models.SimilarityCosine
	}
	maxUsers := j.limit(opts, j.config.MaxUsers)

	var pairs func(emit func(uuid.UUID, []models.UserSimilarityRecord)) int
	switch algorithm {
	case models.SimilarityCosine:
		var ratings []models.Interaction
		if err := j.withRetry(ctx, report, "ratings", func() (err error) {
			ratings, err = j.interactions.ListRatings(ctx)
			return err
		}); err != nil {
			return err
		}
		matrix := capUsers(BuildRatingMatrix(ratings), maxUsers)
		pairs = func(emit func(uuid.UUID, []models.UserSimilarityRecord)) int {
			return cosineUserPairs(matrix, j.minSimilar, runStart, emit)
		}
	case models.SimilarityJaccard:
		var sets map[uuid.UUID][]int64
		if err := j.withRetry(ctx, report, "interaction sets", func() (err error) {
			sets, err = j.interactions.ListInteractionSets(ctx, jaccardInteractionTypes, maxUsers)
			return err
		}); err != nil {
			return err
		}
		pairs = func(emit func(uuid.UUID, []models.UserSimilarityRecord)) int {
			return jaccardUserPairs(sets, j.minSimilar, runStart, emit)
		}
	default:
		return fmt.Errorf("%w: user similarity algorithm %q", ErrInvalidParameter, algorithm)
	}

	writer := newBatchWriter(j.config.WriteBatchSize, func(batch []models.UserSimilarityRecord) error {
		return j.logWriteError(report, j.similarities.UpsertUserSimilarities(ctx, batch), len(batch))
	})
	total := pairs(func(_ uuid.UUID, records []models.UserSimilarityRecord) {
		report.Processed++
		writer.add(records...)
	})
	writer.flush()
	report.Stored, report.Failed = writer.stored, writer.failed

	j.updateProgress(ctx, report, total, JobStatusProcessing, nil)
	return j.pruneUsers(ctx, report, algorithm, runStart)
}

func (j *BackgroundJobs) pruneUsers(ctx context.Context, report *JobReport, algorithm string, runStart time.Time) error {
	// Superseded records are only removed after a clean run.
	if report.Failed > 0 {
		return nil
	}
	n, err := j.similarities.PruneUserSimilarities(ctx, algorithm, runStart)
	if err != nil {
		j.logger.WithError(err).WithField("job_id", report.JobID).Warn("Failed to prune superseded user similarities")
		return nil
	}
	report.Pruned = n
	return nil
}

func (j *BackgroundJobs) computeMovieSimilarities(ctx context.Context, report *JobReport, opts JobOptions, runStart time.Time) error {
	var entries []models.CatalogEntry
	if err := j.withRetry(ctx, report, "catalog", func() (err error) {
		entries, err = j.catalog.ListCatalog(ctx, j.limit(opts, j.config.MaxCatalog))
		return err
	}); err != nil {
		return err
	}
	if len(entries) < 2 {
		j.logger.WithField("job_id", report.JobID).Warn("Not enough movies to compute similarities")
		return nil
	}

	features := j.features.FeaturesFor(entries)

	writer := newBatchWriter(j.config.WriteBatchSize, func(batch []models.MovieSimilarityRecord) error {
		return j.logWriteError(report, j.similarities.UpsertMovieSimilarities(ctx, batch), len(batch))
	})
	_ = AllMovieSimilarities(features, j.minSimilar, runStart, func(_ int64, records []models.MovieSimilarityRecord) error {
		report.Processed++
		writer.add(records...)
		return nil
	})
	writer.flush()
	report.Stored, report.Failed = writer.stored, writer.failed

	j.updateProgress(ctx, report, features.Len(), JobStatusProcessing, nil)
	if report.Failed > 0 {
		return nil
	}
	n, err := j.similarities.PruneMovieSimilarities(ctx, models.SimilarityContent, runStart)
	if err != nil {
		j.logger.WithError(err).WithField("job_id", report.JobID).Warn("Failed to prune superseded movie similarities")
		return nil
	}
	report.Pruned = n
	return nil
}

func (j *BackgroundJobs) warmCache(ctx context.Context, report *JobReport, opts JobOptions) error {
	var users []uuid.UUID
	if err := j.withRetry(ctx, report, "active users", func() (err error) {
		users, err = j.interactions.ListActiveUsers(ctx, j.limit(opts, j.config.WarmUsers))
		return err
	}); err != nil {
		return err
	}
	j.updateProgress(ctx, report, len(users), JobStatusProcessing, nil)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.config.WarmConcurrency, 1))

	for _, userID := range users {
		g.Go(func() error {
			warmed, err := j.engine.WarmUser(gctx, userID, j.config.WarmLimit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				j.logger.WithError(err).WithField("user_id", userID).Warn("Failed to warm recommendations")
				return nil
			}
			report.Processed++
			report.Stored += warmed
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

func (j *BackgroundJobs) cleanup(ctx context.Context, report *JobReport, runStart time.Time) error {
	steps := []struct {
		what   string
		cutoff time.Time
		run    func(context.Context, time.Time) (int, error)
	}{
		{"recommendation cache", runStart.Add(-j.config.Cleanup.CacheMaxAge), j.persisted.DeleteOlderThan},
		{"user similarities", runStart.Add(-j.config.Cleanup.UserSimilarityMaxAge), j.similarities.DeleteUserSimilaritiesOlderThan},
		{"movie similarities", runStart.Add(-j.config.Cleanup.MovieSimilarityMaxAge), j.similarities.DeleteMovieSimilaritiesOlderThan},
	}

	for _, step := range steps {
		n, err := step.run(ctx, step.cutoff)
		if err != nil {
			report.Failed++
			j.logger.WithError(err).WithField("target", step.what).Warn("Cleanup step failed")
			continue
		}
		report.Processed++
		report.Pruned += n
	}
	return nil
}

// capUsers keeps the first maxUsers users by ID.
func capUsers(matrix RatingMatrix, maxUsers int) RatingMatrix {
	if maxUsers <= 0 || len(matrix) <= maxUsers {
		return matrix
	}
	ids := sortedUsers(matrix)
	capped := make(RatingMatrix, maxUsers)
	for _, id := range ids[:maxUsers] {
		capped[id] = matrix[id]
	}
	return capped
}

func sortedUsers[V any](m map[uuid.UUID]V) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a].String() < ids[b].String() })
	return ids
}

// cosineUserPairs emits, per user, the records pairing it with every later user
// whose similarity reaches minSimilarity. It returns the number of users.
func cosineUserPairs(matrix RatingMatrix, minSimilarity float64, at time.Time, emit func(uuid.UUID, []models.UserSimilarityRecord)) int {
	ids := sortedUsers(matrix)
	for i, a := range ids {
		var records []models.UserSimilarityRecord
		for _, b := range ids[i+1:] {
			sim := cosineSparse(matrix[a], matrix[b])
			if sim < minSimilarity {
				continue
			}
			records = append(records, models.NewUserSimilarityRecord(a, b, sim, models.SimilarityCosine, at))
		}
		emit(a, records)
	}
	return len(ids)
}

// jaccard is |a ∩ b| / |a ∪ b| over movie sets.
func jaccard(a, b map[int64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(a)+len(b)-intersection)
}

func jaccardUserPairs(sets map[uuid.UUID][]int64, minSimilarity float64, at time.Time, emit func(uuid.UUID, []models.UserSimilarityRecord)) int {
	ids := sortedUsers(sets)
	asSets := make(map[uuid.UUID]map[int64]struct{}, len(ids))
	for _, id := range ids {
		set := make(map[int64]struct{}, len(sets[id]))
		for _, movieID := range sets[id] {
			set[movieID] = struct{}{}
		}
		asSets[id] = set
	}

	for i, a := range ids {
		var records []models.UserSimilarityRecord
		for _, b := range ids[i+1:] {
			sim := jaccard(asSets[a], asSets[b])
			if sim < minSimilarity {
				continue
			}
			records = append(records, models.NewUserSimilarityRecord(a, b, sim, models.SimilarityJaccard, at))
		}
		emit(a, records)
	}
	return len(ids)
}

// batchWriter buffers records and writes them in fixed-size batches. A failed
// batch is counted and dropped; later batches are still attempted.
type batchWriter[T any] struct {
	size   int
	write  func([]T) error
	buf    []T
	stored int
	failed int
}

func newBatchWriter[T any](size int, write func([]T) error) *batchWriter[T] {
	if size <= 0 {
		size = 500
	}
	return &batchWriter[T]{size: size, write: write}
}

func (w *batchWriter[T]) add(records ...T) {
	w.buf = append(w.buf, records...)
	for len(w.buf) >= w.size {
		w.send(w.buf[:w.size])
		w.buf = w.buf[w.size:]
	}
}

func (w *batchWriter[T]) flush() {
	if len(w.buf) > 0 {
		w.send(w.buf)
		w.buf = nil
	}
}

func (w *batchWriter[T]) send(batch []T) {
	out := make([]T, len(batch))
	copy(out, batch)
	if err := w.write(out); err != nil {
		w.failed += len(out)
		return
	}
	w.stored += len(out)
}
