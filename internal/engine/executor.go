package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/core/config"
	"chroniq.app/engine/internal/store"
)

// FailureHook is invoked at most once per Execute call, when a step exhausts
// its attempts or fails fatally. Implementations flip the job (and its domain
// entity) to failed. A hook error is logged, never retried.
type FailureHook func(ctx context.Context, jobID int64, stepName string, cause error)

// Executor drives an ordered step list with checkpoint-first semantics:
// every completed step is recorded before the next one starts, so a crashed
// or duplicated invocation replays checkpoints instead of re-running work.
type Executor struct {
	checkpoints store.CheckpointStore
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(checkpoints store.CheckpointStore, cfg config.EngineConfig) *Executor {
	return &Executor{
		checkpoints: checkpoints,
		maxAttempts: cfg.MaxStepAttempts,
		backoff:     cfg.RetryBackoff,
		sleep:       Sleep,
	}
}

// Execute runs steps in order for jobID. Returns nil when every step
// completed (now or previously). A returned error means the invocation could
// not finish: either infrastructure failed (checkpoint store unreachable,
// context cancelled) and the message should be redelivered, or a step failed
// for good and onFailure has already fired.
//
// There is a window between a step's side effect and its checkpoint write; a
// crash inside it re-runs that one step on the next delivery. Steps tolerate
// this with idempotent writes.
func (e *Executor) Execute(ctx context.Context, jobID int64, steps []Step, onFailure FailureHook) error {
	run := &Run{
		JobID:   jobID,
		results: make(map[string]json.RawMessage, len(steps)),
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(jobID),
		Component: "engine.executor",
	})

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execution interrupted before step %q: %w", step.Name, err)
		}

		stepCtx := logger.WithLogFields(ctx, logger.LogFields{Step: logger.Ptr(step.Name)})

		prior, found, err := e.checkpoints.Get(stepCtx, jobID, step.Name)
		if err != nil {
			return fmt.Errorf("load checkpoint for step %q: %w", step.Name, err)
		}
		if found {
			slog.DebugContext(stepCtx, "step already checkpointed, skipping")
			run.results[step.Name] = prior
			continue
		}

		result, err := e.runStep(stepCtx, run, step)
		if err != nil {
			var failed *stepFailedError
			if errors.As(err, &failed) {
				slog.ErrorContext(stepCtx, "step failed, invoking failure hook", "error", failed.cause)
				if onFailure != nil {
					onFailure(stepCtx, jobID, step.Name, failed.cause)
				}
			}
			return err
		}
		run.results[step.Name] = result
	}

	return nil
}

// runStep executes one step with bounded retries and writes its checkpoint.
// The returned bytes are the authoritative result: the winner's value when a
// concurrent invocation checkpointed first.
func (e *Executor) runStep(ctx context.Context, run *Run, step Step) (json.RawMessage, error) {
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %q interrupted: %w", step.Name, err)
		}

		res := step.Run(ctx, run)
		switch res.outcome {
		case outcomeOk:
			return e.checkpoint(ctx, run.JobID, step.Name, res.value)

		case outcomeFatal:
			return nil, &stepFailedError{step: step.Name, cause: res.err}

		case outcomeRetryable:
			lastErr = res.err
			if attempt == e.maxAttempts {
				break
			}
			delay := time.Duration(attempt) * e.backoff
			slog.WarnContext(ctx, "step attempt failed, retrying",
				"attempt", attempt, "delay", delay.String(), "error", res.err)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("step %q interrupted during backoff: %w", step.Name, err)
			}
		}
	}

	return nil, &stepFailedError{
		step:  step.Name,
		cause: fmt.Errorf("exhausted %d attempts: %w", e.maxAttempts, lastErr),
	}
}

func (e *Executor) checkpoint(ctx context.Context, jobID int64, stepName string, value any) (json.RawMessage, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, &stepFailedError{step: stepName, cause: fmt.Errorf("encode result: %w", err)}
	}

	inserted, err := e.checkpoints.PutIfAbsent(ctx, jobID, stepName, encoded)
	if err != nil {
		return nil, fmt.Errorf("write checkpoint for step %q: %w", stepName, err)
	}
	if inserted {
		return encoded, nil
	}

	// Lost the insert race: a concurrent invocation completed this step
	// first. Adopt its result so every invocation converges on one value.
	winner, found, err := e.checkpoints.Get(ctx, jobID, stepName)
	if err != nil {
		return nil, fmt.Errorf("read winning checkpoint for step %q: %w", stepName, err)
	}
	if !found {
		return nil, fmt.Errorf("checkpoint for step %q vanished after conflict", stepName)
	}
	slog.InfoContext(ctx, "lost checkpoint race, adopting winner result")
	return winner, nil
}

// stepFailedError marks a step exhausted or fatal, as opposed to an
// infrastructure error that warrants redelivery.
type stepFailedError struct {
	step  string
	cause error
}

func (e *stepFailedError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.step, e.cause)
}

func (e *stepFailedError) Unwrap() error {
	return e.cause
}
