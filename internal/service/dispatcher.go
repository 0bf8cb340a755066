package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"chroniq.app/engine/common/id"
	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/internal/model"
	"chroniq.app/engine/internal/queue"
)

// ErrEmptyText rejects submissions with no text to extract from.
var ErrEmptyText = errors.New("entry text is required")

type SubmitParams struct {
	Text          string
	ReferenceDate *string
	EvidenceIDs   []int64
}

type SubmitResult struct {
	EntryID int64
	JobID   int64
}

// DispatcherService accepts a submission, durably records the entry and its
// job, and hands the job to the queue. The caller gets ids back immediately;
// everything else happens in the worker.
type DispatcherService interface {
	Submit(ctx context.Context, ownerID int64, params SubmitParams) (*SubmitResult, error)
}

type dispatcherService struct {
	txRunner TxRunner
	producer queue.Producer
}

func NewDispatcherService(txRunner TxRunner, producer queue.Producer) DispatcherService {
	return &dispatcherService{
		txRunner: txRunner,
		producer: producer,
	}
}

func (s *dispatcherService) Submit(ctx context.Context, ownerID int64, params SubmitParams) (*SubmitResult, error) {
	if strings.TrimSpace(params.Text) == "" {
		return nil, ErrEmptyText
	}

	payload, err := json.Marshal(model.SubmitPayload{
		Text:          params.Text,
		ReferenceDate: params.ReferenceDate,
		EvidenceIDs:   params.EvidenceIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding submit payload: %w", err)
	}

	entryID := id.New()
	jobID := id.New()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     &jobID,
		EntryID:   &entryID,
		OwnerID:   &ownerID,
		Component: "engine.dispatcher",
	})

	// One transaction: the entry and its job either both exist or neither
	// does. The entry starts in the processing sentinel state; the pipeline
	// owns every transition out of it.
	err = s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		entry := &model.Entry{
			ID:            entryID,
			OwnerID:       ownerID,
			SubmittedText: params.Text,
			ReferenceDate: params.ReferenceDate,
			Status:        model.EntryStatusProcessing,
		}
		if err := stores.Entries().Create(ctx, entry); err != nil {
			return fmt.Errorf("creating entry: %w", err)
		}

		job := &model.Job{
			ID:           jobID,
			OwnerID:      ownerID,
			Type:         model.JobTypeEntryExtraction,
			Status:       model.JobStatusPending,
			EntryID:      &entryID,
			InputPayload: payload,
		}
		if err := stores.Jobs().Create(ctx, job); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.producer.Enqueue(ctx, queue.JobMessage{
		JobID:   jobID,
		EntryID: &entryID,
		OwnerID: ownerID,
		TraceID: traceIDFromContext(ctx),
		Attempt: 1,
	}); err != nil {
		// The job row exists in pending; the caller can resubmit once the
		// queue recovers.
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	slog.InfoContext(ctx, "submission accepted",
		"text_length", len(params.Text),
		"evidence_count", len(params.EvidenceIDs))

	return &SubmitResult{EntryID: entryID, JobID: jobID}, nil
}

func traceIDFromContext(ctx context.Context) *string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return nil
	}
	traceID := sc.TraceID().String()
	return &traceID
}
