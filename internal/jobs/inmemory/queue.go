package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/qfx2qif/internal/jobs"
	"github.com/dvloznov/qfx2qif/internal/logger"
)

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// DefaultWorkers is used when NewQueue is given a non-positive worker count.
const DefaultWorkers = 4

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.ConvertFileJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	closed    bool

	// RetryBackoff returns the delay before retry n (1-based).
	// It must be set before Start.
	RetryBackoff func(retry int) time.Duration
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishConvertFile blocks.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		jobChan:      make(chan *jobs.ConvertFileJob, bufferSize),
		closeChan:    make(chan struct{}),
		store:        store,
		workers:      workers,
		RetryBackoff: LinearBackoff,
	}
}

// LinearBackoff waits one second per retry already made.
func LinearBackoff(retry int) time.Duration {
	return time.Duration(retry) * time.Second
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// PublishConvertFile implements the Publisher interface.
// It enqueues a file conversion job for asynchronous processing.
func (q *Queue) PublishConvertFile(ctx context.Context, job *jobs.ConvertFileJob) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	// Generate job ID if not provided
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	// Set initial status and timestamp
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = jobs.DefaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	// Workers get their own copy; job stays with the caller.
	return q.enqueue(ctx, copyJob(job))
}

// enqueue hands the job to the workers with context cancellation support.
func (q *Queue) enqueue(ctx context.Context, job *jobs.ConvertFileJob) error {
	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start implements the Consumer interface.
// It starts the configured number of workers, each calling handler for
// one job at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.ConvertFileJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err == nil {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		q.save(ctx, job)
		return
	}

	job.Error = err.Error()
	if jobs.IsPermanent(err) || job.RetryCount >= job.MaxRetries {
		job.Status = jobs.JobStatusFailed
		q.save(ctx, job)
		log.Warn().Err(err).Str("job_id", job.JobID).Int("retries", job.RetryCount).Msg("Job failed")
		return
	}

	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	q.save(ctx, job)

	backoff := q.RetryBackoff(job.RetryCount)
	log.Info().Err(err).Str("job_id", job.JobID).Dur("backoff", backoff).Msg("Job will be retried")

	retry := *job
	time.AfterFunc(backoff, func() {
		retry.Status = jobs.JobStatusPending
		retry.StartedAt = nil
		retry.CompletedAt = nil
		q.save(ctx, &retry)
		if err := q.enqueue(ctx, &retry); err != nil {
			// Nobody will pick the job up again; make that visible to waiters.
			retry.Status = jobs.JobStatusFailed
			retry.Error = fmt.Sprintf("%s; retry not scheduled: %v", retry.Error, err)
			q.save(context.WithoutCancel(ctx), &retry)
		}
	})
}

func (q *Queue) save(ctx context.Context, job *jobs.ConvertFileJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
