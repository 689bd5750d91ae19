package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// Publisher is the slice of the NATS connection the queue backend needs.
// *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// QueueScheduler submits jobs by publishing them to a NATS subject consumed
// by gpulaunch node agents. It is used on clusters where gpulaunch runs its
// own agents instead of deferring to Slurm.
type QueueScheduler struct {
	publisher Publisher
	subject   string
	logger    *zap.Logger
}

// NewQueueScheduler creates a queue-backed scheduler publishing to the
// given subject.
func NewQueueScheduler(publisher Publisher, subject string, logger *zap.Logger) *QueueScheduler {
	return &QueueScheduler{
		publisher: publisher,
		subject:   subject,
		logger:    logger,
	}
}

// Submit assigns the request a fresh UUID, marshals it and publishes it.
// Two submissions of the same request get two independent identifiers.
func (q *QueueScheduler) Submit(ctx context.Context, jr *models.JobRequest) (*SubmissionResult, error) {
	submitted := *jr
	submitted.ID = uuid.New().String()
	submitted.SubmittedAt = time.Now().UTC()

	data, err := json.Marshal(&submitted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job request: %w", err)
	}

	if err := q.publisher.Publish(q.subject, data); err != nil {
		q.logger.Error("Failed to publish job to queue",
			zap.String("job_name", jr.Name),
			zap.String("subject", q.subject),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", models.ErrSubmissionRejected, err)
	}

	q.logger.Info("Job published to queue",
		zap.String("job_id", submitted.ID),
		zap.String("job_name", submitted.Name),
		zap.String("subject", q.subject),
	)

	return &SubmissionResult{
		JobID:       submitted.ID,
		Backend:     "queue",
		SubmittedAt: submitted.SubmittedAt,
	}, nil
}
