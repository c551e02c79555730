package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeExtractReceipt represents a receipt extraction job.
	JobTypeExtractReceipt JobType = "extract_receipt"
)

// JobStatus represents the current stage of an extraction job. The stages
// mirror the pipeline: a job checkpoints after extraction and after saving.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusExtracting indicates the fetch/extract/normalize unit is running.
	JobStatusExtracting JobStatus = "extracting"
	// JobStatusExtracted indicates the extraction checkpoint has been reached.
	JobStatusExtracted JobStatus = "extracted"
	// JobStatusSaving indicates the persistence unit is running.
	JobStatusSaving JobStatus = "saving"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job exhausted its retries.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being re-enqueued.
	JobStatusRetrying JobStatus = "retrying"
)

// ExtractReceiptJob is the inbound trigger for the extraction pipeline:
// a document URL plus the opaque receipt id it belongs to.
type ExtractReceiptJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// ReceiptID is the externally-issued id of the receipt record. The
	// pipeline passes it through unmodified.
	ReceiptID string `json:"receipt_id"`

	// URL is where the uploaded document can be fetched from. Either an
	// HTTP(S) download URL or a gs:// URI.
	URL string `json:"url"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ExtractReceiptJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ExtractReceiptJob) GetType() JobType {
	return JobTypeExtractReceipt
}

// GetStatus implements the Job interface.
func (j *ExtractReceiptJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishExtractReceipt publishes a receipt extraction job.
	PublishExtractReceipt(ctx context.Context, job *ExtractReceiptJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job state,
// including per-step checkpoint results so a retried job does not repeat
// units of work that already succeeded.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ExtractReceiptJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ExtractReceiptJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ExtractReceiptJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error

	// SaveCheckpoint durably records the result of a named step for a job.
	SaveCheckpoint(ctx context.Context, jobID, step string, result []byte) error

	// GetCheckpoint returns a previously recorded step result, if any.
	GetCheckpoint(ctx context.Context, jobID, step string) ([]byte, bool, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// ReceiptID filters jobs by receipt ID.
	ReceiptID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
