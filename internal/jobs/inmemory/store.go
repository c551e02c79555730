package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/akovalyov/receipt-tracker/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It stores jobs and checkpoint results in memory and is safe for concurrent
// use. Data is lost on service restart - for durable checkpoints, use a
// database-backed store or an external scheduler.
type Store struct {
	mu          sync.RWMutex
	jobs        map[string]*jobs.ExtractReceiptJob
	checkpoints map[string]map[string][]byte
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs:        make(map[string]*jobs.ExtractReceiptJob),
		checkpoints: make(map[string]map[string][]byte),
	}
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ExtractReceiptJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid external modifications.
	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy

	// A terminal job will never replay its steps; drop its checkpoints so a
	// long-lived process does not accumulate them.
	if isTerminal(job.Status) {
		delete(s.checkpoints, job.JobID)
	}

	return nil
}

func isTerminal(status jobs.JobStatus) bool {
	return status == jobs.JobStatusCompleted || status == jobs.JobStatusFailed
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ExtractReceiptJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ExtractReceiptJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.ExtractReceiptJob

	for _, job := range s.jobs {
		if filter.ReceiptID != "" && job.ReceiptID != filter.ReceiptID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}

		jobCopy := *job
		result = append(result, &jobCopy)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.ExtractReceiptJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}

	if isTerminal(status) {
		delete(s.checkpoints, jobID)
	}

	return nil
}

// SaveCheckpoint implements the JobStore interface. The recorded result
// survives retry re-enqueues of the same job, so already-succeeded steps are
// not repeated.
func (s *Store) SaveCheckpoint(ctx context.Context, jobID, step string, result []byte) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints[jobID] == nil {
		s.checkpoints[jobID] = make(map[string][]byte)
	}
	cp := make([]byte, len(result))
	copy(cp, result)
	s.checkpoints[jobID][step] = cp

	return nil
}

// GetCheckpoint implements the JobStore interface.
func (s *Store) GetCheckpoint(ctx context.Context, jobID, step string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps, ok := s.checkpoints[jobID]
	if !ok {
		return nil, false, nil
	}
	result, ok := steps[step]
	if !ok {
		return nil, false, nil
	}

	cp := make([]byte, len(result))
	copy(cp, result)
	return cp, true, nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
