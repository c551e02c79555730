// Package pipeline orchestrates the receipt extraction flow: fetch the
// document, extract structured data with the model, normalize it, and persist
// the result. The flow is split into two checkpointed units so that a retry
// after a transient persistence failure does not repeat the model call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/akovalyov/receipt-tracker/internal/entitlement"
	"github.com/akovalyov/receipt-tracker/internal/jobs"
	"github.com/akovalyov/receipt-tracker/internal/receipt"
)

// Checkpoint step names. The extract step covers fetch, model extraction and
// normalization; the save step covers the persistence mutation.
const (
	StepExtract = "extract"
	StepSave    = "save"
)

// Fetcher retrieves the raw document bytes for a receipt.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns document bytes into parsed, schema-free JSON.
type Extractor interface {
	Extract(ctx context.Context, pdf []byte) (any, error)
}

// Repository persists extraction results. SaveExtraction returns the ID of
// the user that owns the receipt.
type Repository interface {
	SaveExtraction(ctx context.Context, receiptID string, rec *receipt.Receipt) (string, error)
	MarkFailed(ctx context.Context, receiptID string) error
}

// UsageReporter records feature usage after a successful save.
type UsageReporter interface {
	TrackUsage(ctx context.Context, userID, feature string) error
}

// Result is produced when a job completes.
type Result struct {
	ReceiptID string
	Receipt   *receipt.Receipt
	Summary   string
}

// Orchestrator runs extraction jobs end to end.
type Orchestrator struct {
	fetcher     Fetcher
	extractor   Extractor
	repo        Repository
	usage       UsageReporter
	store       jobs.JobStore
	checkpoints Checkpointer
	log         zerolog.Logger
}

// NewOrchestrator wires the pipeline stages together. usage may be nil, in
// which case usage reporting is skipped.
func NewOrchestrator(fetcher Fetcher, extractor Extractor, repo Repository, usage UsageReporter, store jobs.JobStore, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:     fetcher,
		extractor:   extractor,
		repo:        repo,
		usage:       usage,
		store:       store,
		checkpoints: NewStoreCheckpointer(store),
		log:         log.With().Str("component", "pipeline").Logger(),
	}
}

// Handler adapts the orchestrator to the queue's handler signature.
func (o *Orchestrator) Handler() jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		extractJob, ok := job.(*jobs.ExtractReceiptJob)
		if !ok {
			return fmt.Errorf("Handler: unexpected job type %s", job.GetType())
		}
		result, err := o.Process(ctx, extractJob)
		if err != nil {
			return err
		}
		o.log.Info().
			Str("job_id", extractJob.JobID).
			Str("receipt_id", result.ReceiptID).
			Str("summary", result.Summary).
			Msg("receipt processed")
		return nil
	}
}

// Process runs a single extraction job through both pipeline units. On the
// final failed attempt the receipt record is marked failed so the dashboard
// stops showing it as pending.
func (o *Orchestrator) Process(ctx context.Context, job *jobs.ExtractReceiptJob) (*Result, error) {
	rec, err := o.runExtract(ctx, job)
	if err != nil {
		o.failIfExhausted(ctx, job, err)
		return nil, err
	}

	if err := o.runSave(ctx, job, rec); err != nil {
		o.failIfExhausted(ctx, job, err)
		return nil, err
	}

	return &Result{
		ReceiptID: job.ReceiptID,
		Receipt:   rec,
		Summary:   rec.Summary(),
	}, nil
}

// runExtract executes the extract unit: fetch the document, extract its
// contents with the model, and normalize them into a Receipt. The normalized
// receipt is recorded as the step result, so a later attempt deserializes it
// instead of calling the model again.
func (o *Orchestrator) runExtract(ctx context.Context, job *jobs.ExtractReceiptJob) (*receipt.Receipt, error) {
	o.setStatus(ctx, job.JobID, jobs.JobStatusExtracting)

	data, err := o.checkpoints.Run(ctx, job.JobID, StepExtract, func(ctx context.Context) ([]byte, error) {
		pdf, err := o.fetcher.Fetch(ctx, job.URL)
		if err != nil {
			return nil, fmt.Errorf("runExtract: fetching document: %w", err)
		}

		parsed, err := o.extractor.Extract(ctx, pdf)
		if err != nil {
			return nil, fmt.Errorf("runExtract: extracting receipt data: %w", err)
		}

		rec, err := receipt.Normalize(parsed)
		if err != nil {
			return nil, fmt.Errorf("runExtract: normalizing receipt: %w", err)
		}

		return json.Marshal(rec)
	})
	if err != nil {
		return nil, err
	}

	var rec receipt.Receipt
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("runExtract: decoding checkpoint: %w", err)
	}

	o.setStatus(ctx, job.JobID, jobs.JobStatusExtracted)
	return &rec, nil
}

// runSave executes the save unit: one persistence mutation, then a
// best-effort usage event. A usage reporting failure never fails the job and
// never rolls back the saved receipt.
func (o *Orchestrator) runSave(ctx context.Context, job *jobs.ExtractReceiptJob, rec *receipt.Receipt) error {
	o.setStatus(ctx, job.JobID, jobs.JobStatusSaving)

	_, err := o.checkpoints.Run(ctx, job.JobID, StepSave, func(ctx context.Context) ([]byte, error) {
		userID, err := o.repo.SaveExtraction(ctx, job.ReceiptID, rec)
		if err != nil {
			return nil, fmt.Errorf("runSave: saving extraction: %w", err)
		}

		if o.usage != nil {
			if err := o.usage.TrackUsage(ctx, userID, entitlement.FeatureScan); err != nil {
				o.log.Warn().Err(err).
					Str("receipt_id", job.ReceiptID).
					Str("user_id", userID).
					Msg("usage tracking failed")
			}
		}

		return []byte(userID), nil
	})
	return err
}

// failIfExhausted marks the receipt record failed once the job has no
// attempts left. Earlier attempts leave the record alone so a later success
// can still complete it.
func (o *Orchestrator) failIfExhausted(ctx context.Context, job *jobs.ExtractReceiptJob, cause error) {
	if job.RetryCount < job.MaxRetries {
		return
	}
	o.log.Error().Err(cause).
		Str("job_id", job.JobID).
		Str("receipt_id", job.ReceiptID).
		Int("retry_count", job.RetryCount).
		Msg("job exhausted retries")
	if err := o.repo.MarkFailed(ctx, job.ReceiptID); err != nil {
		o.log.Error().Err(err).Str("receipt_id", job.ReceiptID).Msg("failed to mark receipt failed")
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, jobID string, status jobs.JobStatus) {
	if err := o.store.UpdateJobStatus(ctx, jobID, status, ""); err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Str("status", string(status)).Msg("failed to update job status")
	}
}
