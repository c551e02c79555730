package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akovalyov/receipt-tracker/internal/jobs"
)

func TestQueue_PublishAndProcess(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, 0, store)
	defer q.Close()

	done := make(chan string, 1)
	err := q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		done <- job.GetID()
		return nil
	})
	require.NoError(t, err)

	job := &jobs.ExtractReceiptJob{ReceiptID: "r1", URL: "https://x/receipt.pdf"}
	require.NoError(t, q.PublishExtractReceipt(context.Background(), job))

	select {
	case id := <-done:
		assert.Equal(t, job.JobID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
}

func TestQueue_DefaultsAppliedOnPublish(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, 0, store)
	defer q.Close()

	job := &jobs.ExtractReceiptJob{ReceiptID: "r1", URL: "gs://b/o.pdf"}
	require.NoError(t, q.PublishExtractReceipt(context.Background(), job))

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.JobStatusPending, job.Status)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)
	assert.False(t, job.CreatedAt.IsZero())

	saved, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "r1", saved.ReceiptID)
}

func TestQueue_RetriesFailedJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, 0, store)
	defer q.Close()

	var calls atomic.Int32
	succeeded := make(chan struct{})
	err := q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		if calls.Add(1) < 2 {
			return errors.New("transient")
		}
		close(succeeded)
		return nil
	})
	require.NoError(t, err)

	job := &jobs.ExtractReceiptJob{ReceiptID: "r1", URL: "https://x/r.pdf"}
	require.NoError(t, q.PublishExtractReceipt(context.Background(), job))

	select {
	case <-succeeded:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not retried to success")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_ExhaustsRetryBudget(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, 0, store)
	defer q.Close()

	var calls atomic.Int32
	err := q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	require.NoError(t, err)

	job := &jobs.ExtractReceiptJob{ReceiptID: "r1", URL: "https://x/r.pdf", MaxRetries: 2}
	require.NoError(t, q.PublishExtractReceipt(context.Background(), job))

	// Initial attempt plus two retries with 1s and 2s backoff.
	require.Eventually(t, func() bool {
		saved, err := store.GetJob(context.Background(), job.JobID)
		return err == nil && saved.Status == jobs.JobStatusFailed
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, int32(3), calls.Load())
	saved, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "permanent", saved.Error)
}

func TestQueue_ClosedRejectsPublish(t *testing.T) {
	q := NewQueue(1, 1, 0, nil)
	require.NoError(t, q.Close())

	err := q.PublishExtractReceipt(context.Background(), &jobs.ExtractReceiptJob{})
	assert.Error(t, err)
}

func TestStore_Checkpoints(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, ok, err := store.GetCheckpoint(ctx, "j1", "extract")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveCheckpoint(ctx, "j1", "extract", []byte(`{"a":1}`)))

	got, ok, err := store.GetCheckpoint(ctx, "j1", "extract")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), got)

	// Steps are independent.
	_, ok, err = store.GetCheckpoint(ctx, "j1", "save")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_RetryGetsOwnJobCopy(t *testing.T) {
	store := NewStore()
	q := NewQueue(1, 1, 0, store)
	defer q.Close()

	job := &jobs.ExtractReceiptJob{JobID: "job-1", ReceiptID: "r1", URL: "https://x/r.pdf", MaxRetries: 1}
	require.NoError(t, store.SaveJob(context.Background(), job))

	q.processJob(context.Background(), job, func(ctx context.Context, j jobs.Job) error {
		return errors.New("transient")
	})

	// Mutations of the worker's job after the retry was scheduled must not
	// leak into the re-enqueued copy.
	job.Status = jobs.JobStatusFailed
	job.Error = "mutated after scheduling"

	select {
	case retried := <-q.jobChan:
		require.NotSame(t, job, retried)
		assert.Equal(t, jobs.JobStatusPending, retried.Status)
		assert.Equal(t, 1, retried.RetryCount)
		assert.Equal(t, "transient", retried.Error)
		assert.Nil(t, retried.StartedAt)
	case <-time.After(3 * time.Second):
		t.Fatal("retry was not re-enqueued")
	}
}

func TestStore_CheckpointsPrunedOnTerminalStatus(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, &jobs.ExtractReceiptJob{JobID: "j1", Status: jobs.JobStatusPending}))
	require.NoError(t, store.SaveCheckpoint(ctx, "j1", "extract", []byte("cached")))

	require.NoError(t, store.UpdateJobStatus(ctx, "j1", jobs.JobStatusExtracting, ""))
	_, ok, err := store.GetCheckpoint(ctx, "j1", "extract")
	require.NoError(t, err)
	assert.True(t, ok, "non-terminal statuses keep checkpoints")

	require.NoError(t, store.UpdateJobStatus(ctx, "j1", jobs.JobStatusCompleted, ""))
	_, ok, err = store.GetCheckpoint(ctx, "j1", "extract")
	require.NoError(t, err)
	assert.False(t, ok, "completed jobs release their checkpoints")
}

func TestStore_CheckpointsPrunedOnFailedJobSave(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, "j1", "extract", []byte("cached")))
	require.NoError(t, store.SaveJob(ctx, &jobs.ExtractReceiptJob{JobID: "j1", Status: jobs.JobStatusFailed}))

	_, ok, err := store.GetCheckpoint(ctx, "j1", "extract")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListJobsFilter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, &jobs.ExtractReceiptJob{JobID: "a", ReceiptID: "r1", Status: jobs.JobStatusCompleted}))
	require.NoError(t, store.SaveJob(ctx, &jobs.ExtractReceiptJob{JobID: "b", ReceiptID: "r2", Status: jobs.JobStatusFailed}))

	byReceipt, err := store.ListJobs(ctx, jobs.JobFilter{ReceiptID: "r1"})
	require.NoError(t, err)
	require.Len(t, byReceipt, 1)
	assert.Equal(t, "a", byReceipt[0].JobID)

	byStatus, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "b", byStatus[0].JobID)
}
