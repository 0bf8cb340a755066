package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/trace"

	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/internal/queue"
	"chroniq.app/engine/internal/store"
)

type Config struct {
	MaxAttempts int // queue-level redelivery bound before DLQ
	Concurrency int // size of the job goroutine pool
}

// Worker consumes job messages from the stream and runs each through the
// step pipeline on a bounded goroutine pool. Steps inside one job stay
// strictly sequential; only distinct jobs run concurrently.
type Worker struct {
	consumer *queue.RedisConsumer
	jobs     store.JobStore
	runner   JobRunner
	pool     *ants.Pool
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer *queue.RedisConsumer, jobs store.JobStore, runner JobRunner, cfg Config) (*Worker, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	// Blocking pool: Submit waits when all slots are busy, which gives us
	// backpressure against the stream read loop.
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Worker{
		consumer:  consumer,
		jobs:      jobs,
		runner:    runner,
		pool:      pool,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)
	defer w.pool.Release()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.worker",
	})

	slog.InfoContext(ctx, "worker started", "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	// The batch is dispatched to the pool and waited on so redelivery
	// bookkeeping never races with the next Read.
	var wg sync.WaitGroup
	for _, msg := range messages {
		msg := msg
		wg.Add(1)
		submitErr := w.pool.Submit(func() {
			defer wg.Done()
			if err := w.processMessageSafe(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "message processing failed",
					"error", err,
					"message_id", msg.ID,
					"job_id", msg.JobID)
				w.handleFailedMessage(ctx, msg, err)
			}
		})
		if submitErr != nil {
			wg.Done()
			slog.ErrorContext(ctx, "failed to submit job to pool",
				"error", submitErr,
				"message_id", msg.ID)
		}
	}
	wg.Wait()

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"job_id", msg.JobID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage runs one queue message end to end. Exported so it can be
// reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(msg.JobID),
		EntryID:   msg.EntryID,
		OwnerID:   logger.Ptr(msg.OwnerID),
		MessageID: logger.Ptr(msg.ID),
	})

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_job",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "processing job message", "attempt", msg.Attempt)

	job, err := w.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Nothing to run against; ack so the message doesn't loop forever.
			slog.WarnContext(ctx, "job not found for message, acknowledging")
			return w.ack(ctx, msg)
		}
		return fmt.Errorf("loading job: %w", err)
	}

	if job.Status.IsTerminal() {
		// Duplicate delivery of an already-finished job.
		slog.InfoContext(ctx, "job already terminal, skipping", "status", job.Status)
		return w.ack(ctx, msg)
	}

	if err := w.runner.RunJob(ctx, msg.JobID); err != nil {
		sc.RecordError(err)
		return fmt.Errorf("running job: %w", err)
	}

	return w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) error {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Message will be reclaimed but that's safe: terminal jobs are skipped.
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"job_id", msg.JobID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"job_id", msg.JobID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
