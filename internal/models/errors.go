package models

import "errors"

// Sentinel errors shared across the launcher. Handlers and stores wrap
// these with fmt.Errorf("...: %w", ...) so callers can use errors.Is.
var (
	// ErrInvalidJobRequest indicates the request violated a model invariant
	// before any scheduler was contacted.
	ErrInvalidJobRequest = errors.New("invalid job request")

	// ErrSubmissionRejected indicates the external scheduler refused the
	// resource request (malformed directive, quota exceeded).
	ErrSubmissionRejected = errors.New("submission rejected by scheduler")

	// ErrJobNotFound indicates the submission record does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyExists indicates a record with the same ID is already
	// stored. IDs are UUIDs, so this points at a caller bug.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrBudgetExceeded indicates the GPU-hour estimate for the request is
	// over the configured submit-time budget.
	ErrBudgetExceeded = errors.New("gpu-hour budget exceeded")
)
