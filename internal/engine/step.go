package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Step is one unit of a pipeline. Run returns a tagged StepResult rather
// than a bare error so the executor can tell a transient failure from a
// doomed one without string inspection.
type Step struct {
	Name string
	Run  func(ctx context.Context, run *Run) StepResult
}

type stepOutcome int

const (
	outcomeOk stepOutcome = iota
	outcomeRetryable
	outcomeFatal
)

// StepResult is the tagged outcome of a single step attempt.
type StepResult struct {
	outcome stepOutcome
	value   any
	err     error
}

// Ok marks the step complete. value is serialized into the checkpoint and
// becomes visible to later steps; it must be JSON-marshalable.
func Ok(value any) StepResult {
	return StepResult{outcome: outcomeOk, value: value}
}

// Retryable marks this attempt failed in a way worth retrying.
func Retryable(err error) StepResult {
	return StepResult{outcome: outcomeRetryable, err: err}
}

// Fatal marks the step failed with no point in retrying; the whole job fails.
func Fatal(err error) StepResult {
	return StepResult{outcome: outcomeFatal, err: err}
}

// Run carries the execution state handed to each step: the job identity and
// the results of every step that completed before it (whether in this
// invocation or a previous one, replayed from checkpoints).
type Run struct {
	JobID   int64
	results map[string]json.RawMessage
}

// Result returns the checkpointed result of a prior step.
func (r *Run) Result(stepName string) (json.RawMessage, bool) {
	res, ok := r.results[stepName]
	return res, ok
}

// Decode unmarshals a prior step's result into out.
func (r *Run) Decode(stepName string, out any) error {
	res, ok := r.results[stepName]
	if !ok {
		return fmt.Errorf("no result for step %q", stepName)
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode result of step %q: %w", stepName, err)
	}
	return nil
}

// Sleep suspends the calling step until the duration elapses or the context
// is cancelled. Suspension does not consume retry attempts; steps use this
// for deliberate waits, not for backoff.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
