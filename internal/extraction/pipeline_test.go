package extraction_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chroniq.app/engine/common/id"
	"chroniq.app/engine/core/config"
	"chroniq.app/engine/internal/engine"
	"chroniq.app/engine/internal/extraction"
	"chroniq.app/engine/internal/model"
	"chroniq.app/engine/internal/store"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx         context.Context
		jobs        *mockJobStore
		entries     *mockEntryStore
		evidence    *mockEvidenceStore
		events      *mockEventStore
		extractor   *mockExtractor
		publisher   *mockPublisher
		checkpoints *mockCheckpointStore
		pipeline    *extraction.Pipeline
	)

	const (
		jobID   = int64(100)
		entryID = int64(200)
		ownerID = int64(300)
	)

	newJob := func(evidenceIDs ...int64) *model.Job {
		payload, err := json.Marshal(model.SubmitPayload{
			Text:          "Had coffee with Dana yesterday, need to send her the photos.",
			ReferenceDate: strPtr("2026-08-20"),
			EvidenceIDs:   evidenceIDs,
		})
		Expect(err).NotTo(HaveOccurred())
		eID := entryID
		return &model.Job{
			ID:           jobID,
			OwnerID:      ownerID,
			Type:         model.JobTypeEntryExtraction,
			Status:       model.JobStatusPending,
			EntryID:      &eID,
			InputPayload: payload,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		jobs = &mockJobStore{}
		entries = newMockEntryStore()
		evidence = &mockEvidenceStore{}
		events = &mockEventStore{}
		extractor = &mockExtractor{}
		publisher = &mockPublisher{}
		checkpoints = newMockCheckpointStore()

		Expect(id.Init(1)).To(Succeed())

		exec := engine.New(checkpoints, config.EngineConfig{
			MaxStepAttempts: 3,
			RetryBackoff:    time.Millisecond,
		})
		pipeline = extraction.NewPipeline(jobs, entries, evidence, events, exec, extractor, publisher)
	})

	Describe("RunJob", func() {
		Context("with a simple entry and no evidence", func() {
			It("completes the job, the entry, and publishes one terminal update", func() {
				jobs.job = newJob()
				extractor.extractFn = func(_ context.Context, _ extraction.ExtractInput) (*extraction.EventExtraction, error) {
					return &extraction.EventExtraction{
						Events: []extraction.EventDraft{
							{Title: "Coffee with Dana", Category: "social", OccurredAt: "2026-08-19",
								Participants: []extraction.ParticipantDraft{{Name: "Dana", Role: "friend"}}},
						},
						ActionItems: []extraction.ActionItemDraft{
							{Description: "Send Dana the photos", EventIndex: intPtr(0)},
						},
					}, nil
				}

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())

				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))
				Expect(jobs.transitions).To(Equal([]model.JobStatus{
					model.JobStatusProcessing, model.JobStatusCompleted,
				}))

				Expect(events.events).To(HaveLen(1))
				Expect(events.events[0].Title).To(Equal("Coffee with Dana"))
				Expect(events.events[0].EntryID).To(Equal(entryID))
				Expect(events.events[0].OwnerID).To(Equal(ownerID))
				Expect(events.participants).To(HaveLen(1))
				Expect(events.actionItems).To(HaveLen(1))
				Expect(events.actionItems[0].EventID).NotTo(BeNil())
				Expect(*events.actionItems[0].EventID).To(Equal(events.events[0].ID))

				Expect(entries.completedID).NotTo(BeNil())
				Expect(*entries.completedID).To(Equal(entryID))

				var summary model.ResultSummary
				Expect(json.Unmarshal(jobs.job.ResultSummary, &summary)).To(Succeed())
				Expect(summary.EventCount).To(Equal(1))
				Expect(summary.ActionItemCount).To(Equal(1))
				Expect(summary.EventIDs).To(Equal([]int64{events.events[0].ID}))

				terminal := publisher.terminalUpdates()
				Expect(terminal).To(HaveLen(1))
				Expect(terminal[0].Status).To(Equal(model.JobStatusCompleted))
				Expect(terminal[0].JobID).To(Equal(jobID))
			})
		})

		Context("with evidence attachments", func() {
			It("summarizes each evidence item under its own checkpoint", func() {
				jobs.job = newJob(11, 12)

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())

				Expect(extractor.summarizeCalls).To(Equal(2))
				Expect(checkpoints.has(jobID, "process-evidence-11")).To(BeTrue())
				Expect(checkpoints.has(jobID, "process-evidence-12")).To(BeTrue())

				Expect(extractor.lastInput.EvidenceSummaries).To(HaveLen(2))
				Expect(extractor.lastInput.EvidenceSummaries[0].EvidenceID).To(Equal(int64(11)))

				var summary model.ResultSummary
				Expect(json.Unmarshal(jobs.job.ResultSummary, &summary)).To(Succeed())
				Expect(summary.EvidenceProcessed).To(Equal([]int64{11, 12}))
			})

			It("still completes the job when an evidence lookup fails", func() {
				jobs.job = newJob(11, 12)
				evidence.getFn = func(_ context.Context, oID, eID int64) (*model.Evidence, error) {
					if eID == 11 {
						return nil, errors.New("evidence service unavailable")
					}
					return &model.Evidence{ID: eID, OwnerID: oID, Kind: "photo", Content: "img"}, nil
				}

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())

				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))
				Expect(extractor.summarizeCalls).To(Equal(1), "only the available evidence is summarized")

				var summary model.ResultSummary
				Expect(json.Unmarshal(jobs.job.ResultSummary, &summary)).To(Succeed())
				Expect(summary.EvidenceProcessed).To(Equal([]int64{12}))
			})

			It("still completes the job when summarization fails", func() {
				jobs.job = newJob(11)
				extractor.summarizeFn = func(_ context.Context, _ *model.Evidence) (string, error) {
					return "", errors.New("model overloaded")
				}

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())
				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))

				var summary model.ResultSummary
				Expect(json.Unmarshal(jobs.job.ResultSummary, &summary)).To(Succeed())
				Expect(summary.EvidenceProcessed).To(BeEmpty())
			})
		})

		Context("when the LLM extraction fails transiently", func() {
			It("retries within the step budget and completes", func() {
				jobs.job = newJob()
				extractor.extractFn = func(_ context.Context, _ extraction.ExtractInput) (*extraction.EventExtraction, error) {
					if extractor.extractCalls < 3 {
						// Network-level failure: retryable.
						return nil, errors.New("connection reset")
					}
					return &extraction.EventExtraction{}, nil
				}

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())
				Expect(extractor.extractCalls).To(Equal(3))
				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))
			})
		})

		Context("when the LLM extraction keeps failing", func() {
			It("fails the job and the entry with the verbatim cause", func() {
				jobs.job = newJob()
				extractor.extractFn = func(_ context.Context, _ extraction.ExtractInput) (*extraction.EventExtraction, error) {
					return nil, errors.New("connection reset")
				}

				err := pipeline.RunJob(ctx, jobID)

				Expect(err).To(HaveOccurred())
				Expect(extractor.extractCalls).To(Equal(3))
				Expect(jobs.job.Status).To(Equal(model.JobStatusFailed))
				Expect(jobs.job.ErrorMessage).NotTo(BeNil())
				Expect(*jobs.job.ErrorMessage).To(ContainSubstring("connection reset"))

				Expect(entries.statuses[entryID]).To(Equal(model.EntryStatusFailed))

				terminal := publisher.terminalUpdates()
				Expect(terminal).To(HaveLen(1))
				Expect(terminal[0].Status).To(Equal(model.JobStatusFailed))
			})
		})

		Context("when a previous invocation already completed some steps", func() {
			It("replays checkpoints instead of re-running them", func() {
				jobs.job = newJob()
				jobs.job.Status = model.JobStatusProcessing

				stored, err := json.Marshal(struct {
					Extraction    extraction.EventExtraction `json:"extraction"`
					EventIDs      []int64                    `json:"event_ids"`
					ActionItemIDs []int64                    `json:"action_item_ids"`
				}{
					Extraction: extraction.EventExtraction{
						Events: []extraction.EventDraft{{Title: "Checkpointed event"}},
					},
					EventIDs: []int64{9001},
				})
				Expect(err).NotTo(HaveOccurred())
				checkpoints.seed(jobID, "mark-processing", json.RawMessage("null"))
				checkpoints.seed(jobID, "extract-events", stored)

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())

				Expect(extractor.extractCalls).To(BeZero(), "checkpointed extraction must not call the model again")
				Expect(events.events).To(HaveLen(1))
				Expect(events.events[0].Title).To(Equal("Checkpointed event"))
				Expect(events.events[0].ID).To(Equal(int64(9001)), "the id fixed at extraction time must survive the replay")
				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))
			})

			It("re-enters mark-processing when the crash happened after the status flip", func() {
				jobs.job = newJob()
				jobs.job.Status = model.JobStatusProcessing

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())
				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))
			})
		})

		Context("when the job is already terminal", func() {
			It("does nothing", func() {
				jobs.job = newJob()
				jobs.job.Status = model.JobStatusCompleted

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())
				Expect(extractor.extractCalls).To(BeZero())
				Expect(jobs.transitions).To(BeEmpty())
			})
		})

		Context("when the input payload is corrupt", func() {
			It("fails the job instead of looping on redelivery", func() {
				jobs.job = newJob()
				jobs.job.InputPayload = json.RawMessage(`{not json`)

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())
				Expect(jobs.job.Status).To(Equal(model.JobStatusFailed))
			})
		})

		Context("when saving an event fails transiently", func() {
			It("retries without duplicating already-persisted events", func() {
				jobs.job = newJob()
				extractor.extractFn = func(_ context.Context, _ extraction.ExtractInput) (*extraction.EventExtraction, error) {
					return &extraction.EventExtraction{
						Events: []extraction.EventDraft{{Title: "first"}, {Title: "second"}},
					}, nil
				}
				failedOnce := false
				events.createEventFn = func(_ context.Context, event *model.ExtractedEvent) error {
					if event.Title == "second" && !failedOnce {
						failedOnce = true
						return errors.New("deadlock detected")
					}
					return nil
				}

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())
				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))

				Expect(events.events).To(HaveLen(2), "the retried batch must not duplicate the event saved on the first attempt")
				Expect([]string{events.events[0].Title, events.events[1].Title}).To(ConsistOf("first", "second"))

				var summary model.ResultSummary
				Expect(json.Unmarshal(jobs.job.ResultSummary, &summary)).To(Succeed())
				Expect(summary.EventIDs).To(ConsistOf(events.events[0].ID, events.events[1].ID),
					"every persisted row must be referenced by the result summary")
			})
		})

		Context("when another worker finished the job mid-flight", func() {
			It("refuses the transition and leaves the terminal status untouched", func() {
				jobs.job = newJob()
				jobs.job.Status = model.JobStatusCompleted

				// Stale snapshot: the job looked pending when this delivery
				// was picked up, but it completed elsewhere in the meantime.
				stale := newJob()
				jobs.getByIDFn = func(_ context.Context, _ int64) (*model.Job, error) {
					return stale, nil
				}

				err := pipeline.RunJob(ctx, jobID)

				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, store.ErrStaleTransition)).To(BeTrue())
				Expect(jobs.job.Status).To(Equal(model.JobStatusCompleted))
				Expect(jobs.transitions).To(BeEmpty(), "a terminal job must not transition again")
				Expect(publisher.terminalUpdates()).To(BeEmpty())
			})
		})

		Context("when the entry already has derived rows from an earlier run", func() {
			It("supersedes them with the current extraction", func() {
				jobs.job = newJob()
				events.events = []model.ExtractedEvent{{ID: 1, EntryID: entryID, OwnerID: ownerID, Title: "Old event"}}
				events.participants = []model.Participant{{EventID: 1, Name: "Old participant"}}
				events.actionItems = []model.ActionItem{{ID: 2, EntryID: entryID, Description: "Old item"}}

				extractor.extractFn = func(_ context.Context, _ extraction.ExtractInput) (*extraction.EventExtraction, error) {
					return &extraction.EventExtraction{
						Events: []extraction.EventDraft{{Title: "Fresh event"}},
					}, nil
				}

				Expect(pipeline.RunJob(ctx, jobID)).To(Succeed())

				Expect(events.deleteCalls).To(Equal(1))
				Expect(events.events).To(HaveLen(1))
				Expect(events.events[0].Title).To(Equal("Fresh event"))
				Expect(events.participants).To(BeEmpty())
				Expect(events.actionItems).To(BeEmpty())
			})
		})

		Context("when saving an event fails persistently", func() {
			It("fails the job after exhausting retries", func() {
				jobs.job = newJob()
				extractor.extractFn = func(_ context.Context, _ extraction.ExtractInput) (*extraction.EventExtraction, error) {
					return &extraction.EventExtraction{
						Events: []extraction.EventDraft{{Title: "Doomed"}},
					}, nil
				}
				saveAttempts := 0
				events.createEventFn = func(_ context.Context, _ *model.ExtractedEvent) error {
					saveAttempts++
					return fmt.Errorf("deadlock detected")
				}

				err := pipeline.RunJob(ctx, jobID)

				Expect(err).To(HaveOccurred())
				Expect(saveAttempts).To(Equal(3))
				Expect(jobs.job.Status).To(Equal(model.JobStatusFailed))
			})
		})
	})
})

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
