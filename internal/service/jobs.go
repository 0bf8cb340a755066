package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chroniq.app/engine/common/id"
	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/internal/model"
	"chroniq.app/engine/internal/queue"
	"chroniq.app/engine/internal/store"
)

// ErrJobNotTerminal rejects a resubmit while the source job could still
// complete on its own.
var ErrJobNotTerminal = errors.New("job is not terminal")

// JobService is the query and recovery surface over job records.
type JobService interface {
	Get(ctx context.Context, ownerID, jobID int64) (*model.Job, error)
	// ListActive returns the owner's pending and processing jobs. Clients
	// call this after reconnecting to find jobs whose terminal notification
	// they may have missed.
	ListActive(ctx context.Context, ownerID int64) ([]model.Job, error)
	// Resubmit creates a fresh job for the entry of a terminal job.
	Resubmit(ctx context.Context, ownerID, jobID int64) (*SubmitResult, error)
}

type jobService struct {
	jobs     store.JobStore
	txRunner TxRunner
	producer queue.Producer
}

func NewJobService(jobs store.JobStore, txRunner TxRunner, producer queue.Producer) JobService {
	return &jobService{
		jobs:     jobs,
		txRunner: txRunner,
		producer: producer,
	}
}

func (s *jobService) Get(ctx context.Context, ownerID, jobID int64) (*model.Job, error) {
	return s.jobs.GetByOwnerAndID(ctx, ownerID, jobID)
}

func (s *jobService) ListActive(ctx context.Context, ownerID int64) ([]model.Job, error) {
	return s.jobs.ListByOwnerAndStatus(ctx, ownerID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing})
}

func (s *jobService) Resubmit(ctx context.Context, ownerID, jobID int64) (*SubmitResult, error) {
	source, err := s.jobs.GetByOwnerAndID(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if !source.Status.IsTerminal() {
		return nil, ErrJobNotTerminal
	}
	if source.EntryID == nil {
		return nil, fmt.Errorf("source job has no entry")
	}

	entryID := *source.EntryID
	newJobID := id.New()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     &newJobID,
		EntryID:   &entryID,
		OwnerID:   &ownerID,
		Component: "engine.jobs",
	})

	err = s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		job := &model.Job{
			ID:           newJobID,
			OwnerID:      ownerID,
			Type:         source.Type,
			Status:       model.JobStatusPending,
			EntryID:      &entryID,
			InputPayload: source.InputPayload,
		}
		if err := stores.Jobs().Create(ctx, job); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		// Back to the sentinel state so the new run owns the entry again.
		if err := stores.Entries().SetStatus(ctx, entryID, model.EntryStatusProcessing); err != nil {
			return fmt.Errorf("resetting entry status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.producer.Enqueue(ctx, queue.JobMessage{
		JobID:   newJobID,
		EntryID: &entryID,
		OwnerID: ownerID,
		TraceID: traceIDFromContext(ctx),
		Attempt: 1,
	}); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	slog.InfoContext(ctx, "job resubmitted", "source_job_id", jobID)

	return &SubmitResult{EntryID: entryID, JobID: newJobID}, nil
}
