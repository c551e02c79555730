package pipeline

import (
	"context"
	"fmt"

	"github.com/akovalyov/receipt-tracker/internal/jobs"
)

// Checkpointer executes a named unit of work for a job at most once. When a
// job is retried, units that already produced a result are skipped and the
// recorded result is returned instead.
type Checkpointer interface {
	Run(ctx context.Context, jobID, step string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

// StoreCheckpointer records step results in a jobs.JobStore, keyed by job ID
// and step name.
type StoreCheckpointer struct {
	store jobs.JobStore
}

// NewStoreCheckpointer creates a Checkpointer backed by the given job store.
func NewStoreCheckpointer(store jobs.JobStore) *StoreCheckpointer {
	return &StoreCheckpointer{store: store}
}

// Run returns the recorded result for (jobID, step) if one exists. Otherwise
// it executes fn, records the result on success, and returns it. A failure in
// fn is returned without recording, so the step runs again on the next
// attempt.
func (c *StoreCheckpointer) Run(ctx context.Context, jobID, step string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	cached, ok, err := c.store.GetCheckpoint(ctx, jobID, step)
	if err != nil {
		return nil, fmt.Errorf("Run: getting checkpoint %s/%s: %w", jobID, step, err)
	}
	if ok {
		return cached, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store.SaveCheckpoint(ctx, jobID, step, result); err != nil {
		return nil, fmt.Errorf("Run: saving checkpoint %s/%s: %w", jobID, step, err)
	}
	return result, nil
}
