package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akovalyov/receipt-tracker/internal/jobs"
)

// DefaultMaxRetries is the outer retry budget for a job, applied at
// registration when the publisher did not set one.
const DefaultMaxRetries = 3

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Suitable for single-instance deployments and testing; a multi-instance
// deployment would swap in a managed queue behind the same interfaces.
type Queue struct {
	jobChan    chan *jobs.ExtractReceiptJob
	closeChan  chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	store      jobs.JobStore
	workers    int
	maxRetries int
	closed     bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before
// PublishExtractReceipt blocks; workers is the number of concurrent
// consumers started by Start. maxRetries <= 0 means DefaultMaxRetries.
func NewQueue(bufferSize, workers, maxRetries int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = 5
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{
		jobChan:    make(chan *jobs.ExtractReceiptJob, bufferSize),
		closeChan:  make(chan struct{}),
		store:      store,
		workers:    workers,
		maxRetries: maxRetries,
	}
}

// PublishExtractReceipt implements the Publisher interface.
// It enqueues a receipt extraction job for asynchronous processing.
func (q *Queue) PublishExtractReceipt(ctx context.Context, job *jobs.ExtractReceiptJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts the worker pool consuming jobs from the queue.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

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

// processJob executes a single job with retry logic. A failed job below its
// retry budget is re-enqueued with the same JobID, so checkpoint results
// recorded by earlier attempts still apply.
func (q *Queue) processJob(ctx context.Context, job *jobs.ExtractReceiptJob, handler jobs.JobHandler) {
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = jobs.JobStatusRetrying

			// The retry gets its own copy; the worker and SaveJob readers
			// keep mutating the original.
			retryJob := *job
			retryJob.Status = jobs.JobStatusPending
			retryJob.StartedAt = nil
			retryJob.CompletedAt = nil

			backoff := time.Duration(retryJob.RetryCount) * time.Second
			time.AfterFunc(backoff, func() {
				_ = q.PublishExtractReceipt(ctx, &retryJob)
			})
		} else {
			job.Status = jobs.JobStatusFailed
		}
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
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
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
