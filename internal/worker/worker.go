// Package worker runs the asynchronous billing job queue: a small pool of
// processors claiming jobs from Postgres, plus the cron schedule that feeds it
// periodic billing sweeps.
package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// Handler is a function that processes a job
type Handler func(ctx context.Context, job *models.Job) error

// Handlers maps job types to their handlers
type Handlers map[string]Handler

// Config holds worker configuration
type Config struct {
	// MaxConcurrent is the maximum number of concurrent job processors
	MaxConcurrent int
	// PollInterval is the time between polling for new jobs
	PollInterval time.Duration
	// RetryBaseDelay is the base delay for exponential backoff
	RetryBaseDelay time.Duration
	// RetryMaxDelay is the maximum delay between retries
	RetryMaxDelay time.Duration
	// RetryBackoffMultiplier is the multiplier for exponential backoff
	RetryBackoffMultiplier float64
	// JobTimeout is the maximum time allowed for a job to run
	JobTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for jobs to complete during shutdown
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           time.Second,
		RetryBaseDelay:         time.Second,
		RetryMaxDelay:          time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             5 * time.Minute,
		ShutdownTimeout:        30 * time.Second,
	}
}

// Worker is the async job queue processor
type Worker struct {
	config   Config
	store    *store.JobStore
	handlers Handlers

	workerID string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool
	mu       sync.Mutex

	// activeJobs tracks currently processing job IDs for graceful shutdown
	activeJobs map[int64]context.CancelFunc
}

// New creates a new Worker instance
func New(config Config, jobStore *store.JobStore) *Worker {
	defaults := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = defaults.RetryBackoffMultiplier
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	return &Worker{
		config:     config,
		store:      jobStore,
		handlers:   make(Handlers),
		workerID:   fmt.Sprintf("worker-%s", uuid.NewString()[:8]),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[int64]context.CancelFunc),
	}
}

// RegisterHandler binds a job type to its handler. Must be called before Start.
func (w *Worker) RegisterHandler(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Start begins the worker loop
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[worker] Starting with ID: %s, max concurrent: %d", w.workerID, w.config.MaxConcurrent)
	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}
}

// Stop gracefully shuts down the worker, releasing claimed jobs back to pending.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[worker] Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Printf("[worker] Shutdown timeout exceeded, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// processor is the main loop for a single worker goroutine
func (w *Worker) processor(ctx context.Context, id int) {
	defer w.wg.Done()

	processorID := fmt.Sprintf("%s-processor-%d", w.workerID, id)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker] Processor %s shutting down (context cancelled)", processorID)
			return
		case <-w.stopCh:
			log.Printf("[worker] Processor %s shutting down (stop signal)", processorID)
			return
		default:
			if err := w.processNextJob(ctx); err != nil {
				if err != context.Canceled && err != context.DeadlineExceeded {
					log.Printf("[worker] Processor %s error: %v", processorID, err)
				}
			}
		}
	}
}

// processNextJob attempts to claim and process the next available job
func (w *Worker) processNextJob(ctx context.Context) error {
	job, err := w.store.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-time.After(w.config.PollInterval):
			return nil
		}
	}

	w.processJob(ctx, job)
	return nil
}

// processJob handles the execution of a single job
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.mu.Lock()
	w.activeJobs[job.ID] = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.activeJobs, job.ID)
		w.mu.Unlock()
	}()

	log.Printf("[worker] Processing job %d (type: %s, attempt: %d/%d)",
		job.ID, job.JobType, job.Attempts, job.MaxAttempts)

	handler, ok := w.handlers[job.JobType]
	if !ok {
		w.handleError(jobCtx, job, fmt.Errorf("no handler registered for job type: %s", job.JobType), start)
		return
	}

	if err := handler(jobCtx, job); err != nil {
		w.handleError(jobCtx, job, err, start)
		return
	}

	log.Printf("[worker] Job %d completed in %v", job.ID, time.Since(start))
	if err := w.store.MarkCompleted(jobCtx, job.ID); err != nil {
		log.Printf("[worker] Failed to mark job %d as completed: %v", job.ID, err)
	}
}

// handleError handles a job failure, retrying with backoff if attempts remain.
func (w *Worker) handleError(ctx context.Context, job *models.Job, err error, start time.Time) {
	log.Printf("[worker] Job %d failed after %v: %v", job.ID, time.Since(start), err)

	if job.Attempts >= job.MaxAttempts {
		log.Printf("[worker] Job %d exhausted all %d attempts, marking as failed", job.ID, job.MaxAttempts)
		if err := w.store.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			log.Printf("[worker] Failed to mark job %d as failed: %v", job.ID, err)
		}
		return
	}

	baseDelay := float64(w.config.RetryBaseDelay) * math.Pow(w.config.RetryBackoffMultiplier, float64(job.Attempts-1))
	delay := time.Duration(math.Min(baseDelay, float64(w.config.RetryMaxDelay)))
	// Jitter (±20%) to prevent thundering herd.
	jitter := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
	retryAfter := time.Now().Add(jitter)

	log.Printf("[worker] Scheduling retry for job %d after %v (attempt %d/%d)",
		job.ID, jitter, job.Attempts, job.MaxAttempts)

	if err := w.store.ScheduleRetry(ctx, job.ID, err.Error(), retryAfter); err != nil {
		log.Printf("[worker] Failed to schedule retry for job %d: %v", job.ID, err)
	}
}

// releaseActiveJobs cancels in-flight job contexts and puts the jobs back to
// pending so another instance can pick them up.
func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	jobIDs := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		jobIDs = append(jobIDs, id)
		cancel()
	}
	w.mu.Unlock()

	for _, id := range jobIDs {
		if err := w.store.ReleaseJob(ctx, id); err != nil {
			log.Printf("[worker] Failed to release job %d: %v", id, err)
		} else {
			log.Printf("[worker] Released job %d back to pending", id)
		}
	}
}

// Enqueue creates a new job in the queue
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return err
	}
	if err := w.store.Enqueue(ctx, job); err != nil {
		return err
	}
	log.Printf("[worker] Enqueued job %d (type: %s, priority: %s)", job.ID, job.JobType, job.Priority)
	return nil
}

// CancelJob cancels a pending or failed job
func (w *Worker) CancelJob(ctx context.Context, jobID int64) error {
	if err := w.store.CancelJob(ctx, jobID); err != nil {
		return err
	}
	log.Printf("[worker] Cancelled job %d", jobID)
	return nil
}

// GetQueueStats returns statistics about the job queue
func (w *Worker) GetQueueStats(ctx context.Context) (*models.JobStats, error) {
	return w.store.GetStats(ctx)
}
