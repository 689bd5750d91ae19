package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// PostgresSubmissionStore implements SubmissionStore on PostgreSQL. The
// full request is kept as JSONB with a few denormalized columns for
// querying.
type PostgresSubmissionStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSubmissionStore creates a store on an already-connected pool.
func NewPostgresSubmissionStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresSubmissionStore {
	return &PostgresSubmissionStore{db: db, logger: logger}
}

// Initialize creates the submissions table if it does not exist yet.
func (ps *PostgresSubmissionStore) Initialize(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS submissions (
		job_id VARCHAR(255) PRIMARY KEY,
		job_name VARCHAR(255) NOT NULL,
		backend VARCHAR(50) NOT NULL,
		request JSONB NOT NULL,
		state VARCHAR(50) NOT NULL,
		exit_code INTEGER,
		last_error TEXT,
		submitted_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_state ON submissions (state);
	CREATE INDEX IF NOT EXISTS idx_submissions_job_name ON submissions (job_name);
	CREATE INDEX IF NOT EXISTS idx_submissions_submitted_at ON submissions (submitted_at DESC);
	`

	if _, err := ps.db.Exec(ctx, createTableSQL); err != nil {
		ps.logger.Error("Failed to create 'submissions' table", zap.Error(err))
		return fmt.Errorf("initializing submissions table: %w", err)
	}
	ps.logger.Info("'submissions' table checked/created")
	return nil
}

// Close releases the connection pool.
func (ps *PostgresSubmissionStore) Close() error {
	ps.db.Close()
	return nil
}

// SaveSubmission inserts a new record. Each submission is its own row even
// when the request content is identical to an earlier one.
func (ps *PostgresSubmissionStore) SaveSubmission(ctx context.Context, rec *SubmissionRecord) error {
	requestJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("marshalling request for job %s: %w", rec.JobID, err)
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	insertSQL := `
	INSERT INTO submissions (job_id, job_name, backend, request, state, exit_code, last_error, submitted_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err = ps.db.Exec(ctx, insertSQL,
		rec.JobID, rec.JobName, rec.Backend, requestJSON, rec.State,
		rec.ExitCode, nullIfEmpty(rec.LastError), rec.SubmittedAt, updatedAt,
	)
	if err != nil {
		ps.logger.Error("Failed to insert submission record",
			zap.String("job_id", rec.JobID), zap.Error(err))
		return fmt.Errorf("saving submission %s: %w", rec.JobID, err)
	}
	return nil
}

// GetSubmission retrieves a record by job ID.
func (ps *PostgresSubmissionStore) GetSubmission(ctx context.Context, jobID string) (*SubmissionRecord, error) {
	selectSQL := `
	SELECT job_id, job_name, backend, request, state, exit_code, last_error, submitted_at, updated_at
	FROM submissions WHERE job_id = $1;
	`
	row := ps.db.QueryRow(ctx, selectSQL, jobID)
	rec, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		ps.logger.Error("Failed to get submission record",
			zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("getting submission %s: %w", jobID, err)
	}
	return rec, nil
}

// UpdateState updates the record's state, exit code and last error.
func (ps *PostgresSubmissionStore) UpdateState(ctx context.Context, jobID string, state models.JobState, exitCode *int, lastError string) error {
	updateSQL := `
	UPDATE submissions SET state = $2, exit_code = $3, last_error = $4, updated_at = $5
	WHERE job_id = $1;
	`
	tag, err := ps.db.Exec(ctx, updateSQL, jobID, state, exitCode, nullIfEmpty(lastError), time.Now().UTC())
	if err != nil {
		ps.logger.Error("Failed to update submission state",
			zap.String("job_id", jobID), zap.Error(err))
		return fmt.Errorf("updating submission %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// ListByState returns up to limit records in the given state, newest first.
func (ps *PostgresSubmissionStore) ListByState(ctx context.Context, state models.JobState, limit int) ([]*SubmissionRecord, error) {
	listSQL := `
	SELECT job_id, job_name, backend, request, state, exit_code, last_error, submitted_at, updated_at
	FROM submissions WHERE state = $1 ORDER BY submitted_at DESC LIMIT $2;
	`
	rows, err := ps.db.Query(ctx, listSQL, state, limit)
	if err != nil {
		return nil, fmt.Errorf("listing submissions by state %s: %w", state, err)
	}
	defer rows.Close()

	var records []*SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating submission rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*SubmissionRecord, error) {
	var rec SubmissionRecord
	var requestJSON []byte
	var lastError *string
	if err := row.Scan(
		&rec.JobID, &rec.JobName, &rec.Backend, &requestJSON, &rec.State,
		&rec.ExitCode, &lastError, &rec.SubmittedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastError != nil {
		rec.LastError = *lastError
	}
	if err := json.Unmarshal(requestJSON, &rec.Request); err != nil {
		return nil, fmt.Errorf("unmarshalling request JSON: %w", err)
	}
	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
