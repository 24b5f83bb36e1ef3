package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/jobs"
)

const (
	DefaultWorkers      = 5
	DefaultBufferSize   = 100
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// Options configure a Queue. Zero values use defaults.
type Options struct {
	Workers      int
	BufferSize   int
	MaxRetries   int
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return o
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.ProcessDocumentJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	opts      Options
	log       zerolog.Logger
	closed    bool
}

// NewQueue creates a new in-memory job queue. store may be nil.
func NewQueue(opts Options, store jobs.JobStore, log zerolog.Logger) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		jobChan:   make(chan *jobs.ProcessDocumentJob, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		opts:      opts,
		log:       log,
	}
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// PublishProcessDocument enqueues a document processing job.
func (q *Queue) PublishProcessDocument(ctx context.Context, job *jobs.ProcessDocumentJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	// Stop takes the write lock, so a job saved here is seen by its abandon pass.
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			q.mu.RUnlock()
			return fmt.Errorf("PublishProcessDocument: saving job: %w", err)
		}
	}
	q.mu.RUnlock()

	select {
	case q.jobChan <- job:
		q.log.Debug().Str("job_id", job.JobID).Str("document_id", job.DocumentID).Msg("job enqueued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start launches the workers. The handler is called concurrently for each
// job, up to the configured number of workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.isClosed() {
		return jobs.ErrQueueClosed
	}

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.log.Info().Int("workers", q.opts.Workers).Msg("job queue started")
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
func (q *Queue) processJob(ctx context.Context, job *jobs.ProcessDocumentJob, handler jobs.JobHandler) {
	log := q.log.With().Str("job_id", job.JobID).Str("document_id", job.DocumentID).Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Int("entries", job.EntriesCreated).Msg("job completed")

	case !jobs.IsPermanent(err) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		backoff := time.Duration(job.RetryCount) * q.opts.RetryBackoff
		log.Warn().Err(err).Int("retry", job.RetryCount).Dur("backoff", backoff).Msg("job failed, retrying")
		q.scheduleRetry(ctx, job, backoff)

	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Int("retries", job.RetryCount).Msg("job failed")
	}

	q.save(ctx, job)
}

// scheduleRetry re-enqueues job after backoff unless the queue stops first.
func (q *Queue) scheduleRetry(ctx context.Context, job *jobs.ProcessDocumentJob, backoff time.Duration) {
	retry := *job
	retry.Status = jobs.JobStatusPending
	retry.StartedAt = nil
	retry.CompletedAt = nil

	go func() {
		t := time.NewTimer(backoff)
		defer t.Stop()
		select {
		case <-t.C:
			if err := q.PublishProcessDocument(ctx, &retry); err != nil {
				q.log.Warn().Err(err).Str("job_id", retry.JobID).Msg("could not re-enqueue job")
			}
		case <-q.closeChan:
		case <-ctx.Done():
		}
	}()
}

func (q *Queue) save(ctx context.Context, job *jobs.ProcessDocumentJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("saving job state failed")
	}
}

// Stop stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if q.store == nil {
		return nil
	}
	n, err := q.store.AbandonUnfinished(ctx, "queue stopped before the job finished", time.Now())
	if err != nil {
		return fmt.Errorf("Stop: abandoning jobs: %w", err)
	}
	if n > 0 {
		q.log.Warn().Int("jobs", n).Msg("unfinished jobs marked failed")
	}
	return nil
}

// Close stops the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
