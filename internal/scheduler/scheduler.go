// Package scheduler contains the job launcher: it serializes a JobRequest
// into the form an external workload manager expects and hands it to that
// manager's submission interface. The manager itself (queueing, resource
// arbitration, walltime enforcement) is an opaque collaborator.
package scheduler

import (
	"context"
	"time"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// SubmissionResult carries the scheduler-assigned job identifier for an
// accepted request. A submission yields exactly one result or one error,
// never both and never neither.
type SubmissionResult struct {
	JobID       string    `json:"job_id"`
	Backend     string    `json:"backend"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Scheduler is the submission interface implemented by each backend.
type Scheduler interface {
	// Submit validates nothing itself; callers run JobRequest.Validate
	// first. On success the request has been accepted by the external
	// scheduler and the result carries its job identifier.
	Submit(ctx context.Context, jr *models.JobRequest) (*SubmissionResult, error)
}
