package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chroniq.app/engine/common/id"
	"chroniq.app/engine/common/llm"
	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/internal/engine"
	"chroniq.app/engine/internal/model"
	"chroniq.app/engine/internal/notify"
	"chroniq.app/engine/internal/store"
)

// Step names. Checkpoints key on these, so they must stay stable across
// releases while jobs are in flight.
const (
	stepMarkProcessing = "mark-processing"
	stepExtractEvents  = "extract-events"
	stepSaveEvents     = "save-events"
	stepFinalize       = "finalize"
)

func evidenceStepName(evidenceID int64) string {
	return fmt.Sprintf("process-evidence-%d", evidenceID)
}

// extractResult is the checkpointed output of the extract-events step: the
// model's extraction plus the id assigned to every draft. Ids live inside the
// checkpoint so a retried or concurrently duplicated save-events writes the
// same rows instead of minting fresh ones.
type extractResult struct {
	Extraction    EventExtraction `json:"extraction"`
	EventIDs      []int64         `json:"event_ids"`
	ActionItemIDs []int64         `json:"action_item_ids"`
}

// saveResult is the checkpointed output of the save-events step.
type saveResult struct {
	EventIDs        []int64 `json:"event_ids"`
	ActionItemCount int     `json:"action_item_count"`
}

// Pipeline runs the entry extraction job: mark the job processing, summarize
// each evidence attachment, extract events with the LLM, persist them, and
// finalize the entry and job. Implements worker.JobRunner.
type Pipeline struct {
	jobs      store.JobStore
	entries   store.EntryStore
	evidence  store.EvidenceStore
	events    store.EventStore
	executor  *engine.Executor
	extractor EventExtractor
	publisher notify.Publisher
}

func NewPipeline(
	jobs store.JobStore,
	entries store.EntryStore,
	evidence store.EvidenceStore,
	events store.EventStore,
	executor *engine.Executor,
	extractor EventExtractor,
	publisher notify.Publisher,
) *Pipeline {
	return &Pipeline{
		jobs:      jobs,
		entries:   entries,
		evidence:  evidence,
		events:    events,
		executor:  executor,
		extractor: extractor,
		publisher: publisher,
	}
}

// RunJob executes the full pipeline for one job. Safe to call repeatedly for
// the same job: completed steps replay from checkpoints and terminal jobs
// are a no-op.
func (p *Pipeline) RunJob(ctx context.Context, jobID int64) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(jobID),
		Component: "engine.extraction",
	})

	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}
	if job.Status.IsTerminal() {
		slog.InfoContext(ctx, "job already terminal, nothing to run", "status", job.Status)
		return nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EntryID: job.EntryID,
		OwnerID: logger.Ptr(job.OwnerID),
	})

	var payload model.SubmitPayload
	if err := json.Unmarshal(job.InputPayload, &payload); err != nil {
		// Redelivery can't fix a corrupt payload; fail the job and ack.
		p.onFailure(ctx, jobID, stepMarkProcessing, fmt.Errorf("decoding input payload: %w", err))
		return nil
	}
	if job.EntryID == nil {
		p.onFailure(ctx, jobID, stepMarkProcessing, errors.New("job has no entry"))
		return nil
	}

	return p.executor.Execute(ctx, jobID, p.buildSteps(job, payload), p.onFailure)
}

func (p *Pipeline) buildSteps(job *model.Job, payload model.SubmitPayload) []engine.Step {
	steps := make([]engine.Step, 0, len(payload.EvidenceIDs)+4)

	steps = append(steps, p.markProcessingStep(job))
	for _, evidenceID := range payload.EvidenceIDs {
		steps = append(steps, p.processEvidenceStep(job, evidenceID))
	}
	steps = append(steps,
		p.extractEventsStep(payload),
		p.saveEventsStep(job),
		p.finalizeStep(job, payload),
	)

	return steps
}

func (p *Pipeline) markProcessingStep(job *model.Job) engine.Step {
	return engine.Step{
		Name: stepMarkProcessing,
		Run: func(ctx context.Context, _ *engine.Run) engine.StepResult {
			// processing is an allowed source state: a crashed invocation may
			// have flipped the status without reaching its checkpoint write.
			updated, err := p.jobs.Transition(ctx, job.ID,
				[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing},
				model.JobStatusProcessing,
				store.TransitionFields{SetStartedAt: true})
			if err != nil {
				if errors.Is(err, store.ErrStaleTransition) || errors.Is(err, store.ErrNotFound) {
					return engine.Fatal(fmt.Errorf("job not runnable: %w", err))
				}
				return engine.Retryable(fmt.Errorf("marking job processing: %w", err))
			}

			p.publishUpdate(ctx, notify.UpdateFromJob(updated))
			return engine.Ok(nil)
		},
	}
}

func (p *Pipeline) processEvidenceStep(job *model.Job, evidenceID int64) engine.Step {
	return engine.Step{
		Name: evidenceStepName(evidenceID),
		Run: func(ctx context.Context, _ *engine.Run) engine.StepResult {
			// Evidence is enrichment. Whatever goes wrong here is recorded
			// as skipped, never escalated; the extraction runs without it.
			ev, err := p.evidence.GetByOwnerAndID(ctx, job.OwnerID, evidenceID)
			if err != nil {
				slog.WarnContext(ctx, "evidence unavailable, skipping",
					"evidence_id", evidenceID, "error", err)
				return engine.Ok(EvidenceSummary{
					EvidenceID: evidenceID,
					Skipped:    true,
					Reason:     err.Error(),
				})
			}

			summary, err := p.extractor.SummarizeEvidence(ctx, ev)
			if err != nil {
				slog.WarnContext(ctx, "evidence summarization failed, skipping",
					"evidence_id", evidenceID, "error", err)
				return engine.Ok(EvidenceSummary{
					EvidenceID: evidenceID,
					Kind:       ev.Kind,
					Skipped:    true,
					Reason:     err.Error(),
				})
			}

			return engine.Ok(EvidenceSummary{
				EvidenceID: evidenceID,
				Kind:       ev.Kind,
				Summary:    summary,
			})
		},
	}
}

func (p *Pipeline) extractEventsStep(payload model.SubmitPayload) engine.Step {
	return engine.Step{
		Name: stepExtractEvents,
		Run: func(ctx context.Context, run *engine.Run) engine.StepResult {
			summaries := make([]EvidenceSummary, 0, len(payload.EvidenceIDs))
			for _, evidenceID := range payload.EvidenceIDs {
				var s EvidenceSummary
				if err := run.Decode(evidenceStepName(evidenceID), &s); err != nil {
					return engine.Fatal(fmt.Errorf("reading evidence summary: %w", err))
				}
				summaries = append(summaries, s)
			}

			extraction, err := p.extractor.Extract(ctx, ExtractInput{
				Text:              payload.Text,
				ReferenceDate:     payload.ReferenceDate,
				EvidenceSummaries: summaries,
			})
			if err != nil {
				if llm.IsRetryable(ctx, err) {
					return engine.Retryable(err)
				}
				return engine.Fatal(err)
			}

			res := extractResult{
				Extraction:    *extraction,
				EventIDs:      make([]int64, len(extraction.Events)),
				ActionItemIDs: make([]int64, len(extraction.ActionItems)),
			}
			for i := range res.EventIDs {
				res.EventIDs[i] = id.New()
			}
			for i := range res.ActionItemIDs {
				res.ActionItemIDs[i] = id.New()
			}

			slog.InfoContext(ctx, "events extracted",
				"event_count", len(extraction.Events),
				"action_item_count", len(extraction.ActionItems))
			return engine.Ok(res)
		},
	}
}

func (p *Pipeline) saveEventsStep(job *model.Job) engine.Step {
	return engine.Step{
		Name: stepSaveEvents,
		Run: func(ctx context.Context, run *engine.Run) engine.StepResult {
			var res extractResult
			if err := run.Decode(stepExtractEvents, &res); err != nil {
				return engine.Fatal(fmt.Errorf("reading extraction: %w", err))
			}

			// The checkpointed id set is the authoritative derived record for
			// this entry. Clearing first supersedes rows left by earlier runs
			// (resubmits) and partial rows from a failed attempt of this one.
			if err := p.events.DeleteByEntry(ctx, *job.EntryID); err != nil {
				return engine.Retryable(fmt.Errorf("clearing derived rows: %w", err))
			}

			result := saveResult{EventIDs: []int64{}}

			for i, draft := range res.Extraction.Events {
				event := &model.ExtractedEvent{
					ID:          res.EventIDs[i],
					EntryID:     *job.EntryID,
					OwnerID:     job.OwnerID,
					Title:       draft.Title,
					Description: optional(draft.Description),
					Category:    optional(draft.Category),
					OccurredAt:  parseOccurredAt(draft.OccurredAt),
				}
				if err := p.events.CreateEvent(ctx, event); err != nil {
					// Events are the primary record; without them the step
					// has not done its job.
					return engine.Retryable(fmt.Errorf("saving event: %w", err))
				}
				result.EventIDs = append(result.EventIDs, event.ID)

				p.saveEventChildren(ctx, event.ID, draft)
			}

			for i, item := range res.Extraction.ActionItems {
				actionItem := &model.ActionItem{
					ID:          res.ActionItemIDs[i],
					EntryID:     *job.EntryID,
					Description: item.Description,
					DueDate:     optional(item.DueDate),
				}
				if item.EventIndex != nil && *item.EventIndex >= 0 && *item.EventIndex < len(result.EventIDs) {
					actionItem.EventID = &result.EventIDs[*item.EventIndex]
				}
				if err := p.events.CreateActionItem(ctx, actionItem); err != nil {
					slog.WarnContext(ctx, "failed to save action item", "error", err)
					continue
				}
				result.ActionItemCount++
			}

			return engine.Ok(result)
		},
	}
}

// saveEventChildren persists participants and evidence links. These are
// best-effort enrichment: failures are logged and the save continues.
func (p *Pipeline) saveEventChildren(ctx context.Context, eventID int64, draft EventDraft) {
	for _, participant := range draft.Participants {
		if participant.Name == "" {
			continue
		}
		err := p.events.CreateParticipant(ctx, &model.Participant{
			EventID: eventID,
			Name:    participant.Name,
			Role:    optional(participant.Role),
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to save participant",
				"event_id", eventID, "error", err)
		}
	}

	for _, evidenceID := range draft.EvidenceIDs {
		err := p.events.CreateEvidenceLink(ctx, &model.EvidenceLink{
			EventID:    eventID,
			EvidenceID: evidenceID,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to save evidence link",
				"event_id", eventID, "evidence_id", evidenceID, "error", err)
		}
	}
}

func (p *Pipeline) finalizeStep(job *model.Job, payload model.SubmitPayload) engine.Step {
	return engine.Step{
		Name: stepFinalize,
		Run: func(ctx context.Context, run *engine.Run) engine.StepResult {
			var extracted extractResult
			if err := run.Decode(stepExtractEvents, &extracted); err != nil {
				return engine.Fatal(fmt.Errorf("reading extraction: %w", err))
			}
			var saved saveResult
			if err := run.Decode(stepSaveEvents, &saved); err != nil {
				return engine.Fatal(fmt.Errorf("reading save result: %w", err))
			}

			raw, err := json.Marshal(extracted.Extraction)
			if err != nil {
				return engine.Fatal(fmt.Errorf("encoding extraction: %w", err))
			}
			if err := p.entries.Complete(ctx, *job.EntryID, raw); err != nil {
				return engine.Retryable(fmt.Errorf("completing entry: %w", err))
			}

			processed := []int64{}
			for _, evidenceID := range payload.EvidenceIDs {
				var s EvidenceSummary
				if err := run.Decode(evidenceStepName(evidenceID), &s); err == nil && !s.Skipped {
					processed = append(processed, s.EvidenceID)
				}
			}

			summary := model.ResultSummary{
				EventIDs:          saved.EventIDs,
				EventCount:        len(saved.EventIDs),
				ActionItemCount:   saved.ActionItemCount,
				EvidenceProcessed: processed,
			}
			summaryJSON, err := json.Marshal(summary)
			if err != nil {
				return engine.Fatal(fmt.Errorf("encoding result summary: %w", err))
			}

			updated, err := p.jobs.Transition(ctx, job.ID,
				[]model.JobStatus{model.JobStatusProcessing},
				model.JobStatusCompleted,
				store.TransitionFields{SetCompletedAt: true, ResultSummary: summaryJSON})
			if err != nil {
				if errors.Is(err, store.ErrStaleTransition) || errors.Is(err, store.ErrNotFound) {
					return engine.Fatal(fmt.Errorf("completing job: %w", err))
				}
				return engine.Retryable(fmt.Errorf("completing job: %w", err))
			}

			slog.InfoContext(ctx, "job completed",
				"event_count", summary.EventCount,
				"action_item_count", summary.ActionItemCount)
			p.publishUpdate(ctx, notify.UpdateFromJob(updated))
			return engine.Ok(summary)
		},
	}
}

// onFailure flips the job and its entry to failed and pushes the terminal
// update. Runs at most once per job execution; a write failure here is
// logged and left for the reclaimer path to observe.
func (p *Pipeline) onFailure(ctx context.Context, jobID int64, stepName string, cause error) {
	errMsg := cause.Error()
	updated, err := p.jobs.Transition(ctx, jobID,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing},
		model.JobStatusFailed,
		store.TransitionFields{SetCompletedAt: true, ErrorMessage: &errMsg})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record job failure",
			"step", stepName, "cause", errMsg, "error", err)
		return
	}

	if updated.EntryID != nil {
		if err := p.entries.SetStatus(ctx, *updated.EntryID, model.EntryStatusFailed); err != nil {
			slog.ErrorContext(ctx, "failed to mark entry failed",
				"entry_id", *updated.EntryID, "error", err)
		}
	}

	slog.ErrorContext(ctx, "job failed", "step", stepName, "cause", errMsg)
	p.publishUpdate(ctx, notify.UpdateFromJob(updated))
}

func (p *Pipeline) publishUpdate(ctx context.Context, update model.JobUpdate) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishUpdate(ctx, update); err != nil {
		slog.WarnContext(ctx, "failed to publish job update",
			"job_id", update.JobID, "status", update.Status, "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseOccurredAt(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}
