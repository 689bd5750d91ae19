// Package store keeps submission records: which requests were handed to
// which backend, the scheduler-assigned identifiers and the last reported
// state. The records are bookkeeping only; launcher behavior does not
// depend on them and identical requests are never deduplicated.
package store

import (
	"context"
	"time"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// SubmissionRecord is one submitted job as persisted by the store.
type SubmissionRecord struct {
	JobID       string            `db:"job_id"`
	JobName     string            `db:"job_name"`
	Backend     string            `db:"backend"`
	Request     models.JobRequest `db:"request"`
	State       models.JobState   `db:"state"`
	ExitCode    *int              `db:"exit_code"`
	LastError   string            `db:"last_error"`
	SubmittedAt time.Time         `db:"submitted_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
}

// SubmissionStore is the interface for persisting submission records, with
// in-memory and PostgreSQL implementations.
type SubmissionStore interface {
	// SaveSubmission stores a new record. Saving an existing job ID is an
	// error; job IDs are unique per submission.
	SaveSubmission(ctx context.Context, rec *SubmissionRecord) error

	// GetSubmission retrieves a record by scheduler-assigned job ID.
	GetSubmission(ctx context.Context, jobID string) (*SubmissionRecord, error)

	// UpdateState updates the record's state, exit code and last error, and
	// stamps UpdatedAt.
	UpdateState(ctx context.Context, jobID string, state models.JobState, exitCode *int, lastError string) error

	// ListByState returns up to limit records in the given state, newest
	// first.
	ListByState(ctx context.Context, state models.JobState, limit int) ([]*SubmissionRecord, error)

	// Initialize prepares the backing storage (e.g. creates tables).
	Initialize(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
