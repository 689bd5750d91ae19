package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// InMemorySubmissionStore is a thread-safe in-memory store, used by default
// and in tests.
type InMemorySubmissionStore struct {
	mu      sync.RWMutex
	records map[string]*SubmissionRecord
}

// NewInMemorySubmissionStore creates an empty in-memory store.
func NewInMemorySubmissionStore() *InMemorySubmissionStore {
	return &InMemorySubmissionStore{
		records: make(map[string]*SubmissionRecord),
	}
}

// Initialize is a no-op; the map is created in the constructor.
func (s *InMemorySubmissionStore) Initialize(ctx context.Context) error {
	return nil
}

// Close is a no-op; there are no external resources to release.
func (s *InMemorySubmissionStore) Close() error {
	return nil
}

// SaveSubmission stores a new record.
func (s *InMemorySubmissionStore) SaveSubmission(ctx context.Context, rec *SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.JobID]; exists {
		return models.ErrJobAlreadyExists
	}
	stored := *rec
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.records[rec.JobID] = &stored
	return nil
}

// GetSubmission retrieves a record by job ID.
func (s *InMemorySubmissionStore) GetSubmission(ctx context.Context, jobID string) (*SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[jobID]
	if !exists {
		return nil, models.ErrJobNotFound
	}
	out := *rec
	return &out, nil
}

// UpdateState updates the record's state fields.
func (s *InMemorySubmissionStore) UpdateState(ctx context.Context, jobID string, state models.JobState, exitCode *int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[jobID]
	if !exists {
		return models.ErrJobNotFound
	}
	rec.State = state
	rec.ExitCode = exitCode
	rec.LastError = lastError
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByState returns up to limit records in the given state, newest first.
func (s *InMemorySubmissionStore) ListByState(ctx context.Context, state models.JobState, limit int) ([]*SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*SubmissionRecord
	for _, rec := range s.records {
		if rec.State == state {
			out := *rec
			matched = append(matched, &out)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
