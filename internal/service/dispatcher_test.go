package service_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chroniq.app/engine/common/id"
	"chroniq.app/engine/internal/model"
	"chroniq.app/engine/internal/queue"
	"chroniq.app/engine/internal/service"
)

var _ = Describe("DispatcherService", func() {
	var (
		ctx      context.Context
		jobs     *mockJobStore
		entries  *mockEntryStore
		txRunner *mockTxRunner
		producer *mockProducer
		svc      service.DispatcherService
	)

	const ownerID = int64(300)

	BeforeEach(func() {
		ctx = context.Background()
		jobs = &mockJobStore{}
		entries = newMockEntryStore()
		txRunner = &mockTxRunner{provider: &mockStoreProvider{jobs: jobs, entries: entries}}
		producer = &mockProducer{}

		Expect(id.Init(1)).To(Succeed())

		svc = service.NewDispatcherService(txRunner, producer)
	})

	Describe("Submit", func() {
		Context("with valid text", func() {
			It("creates entry and job in one transaction and enqueues the job", func() {
				result, err := svc.Submit(ctx, ownerID, service.SubmitParams{
					Text:          "Finished the marathon on Sunday.",
					ReferenceDate: strPtr("2026-08-20"),
					EvidenceIDs:   []int64{7},
				})

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())
				Expect(result.EntryID).NotTo(BeZero())
				Expect(result.JobID).NotTo(BeZero())
				Expect(txRunner.calls).To(Equal(1))

				Expect(entries.created).To(HaveLen(1))
				entry := entries.created[0]
				Expect(entry.ID).To(Equal(result.EntryID))
				Expect(entry.OwnerID).To(Equal(ownerID))
				Expect(entry.Status).To(Equal(model.EntryStatusProcessing))
				Expect(entry.SubmittedText).To(Equal("Finished the marathon on Sunday."))

				Expect(jobs.created).To(HaveLen(1))
				job := jobs.created[0]
				Expect(job.ID).To(Equal(result.JobID))
				Expect(job.Status).To(Equal(model.JobStatusPending))
				Expect(job.Type).To(Equal(model.JobTypeEntryExtraction))
				Expect(job.EntryID).NotTo(BeNil())
				Expect(*job.EntryID).To(Equal(result.EntryID))

				var payload model.SubmitPayload
				Expect(json.Unmarshal(job.InputPayload, &payload)).To(Succeed())
				Expect(payload.Text).To(Equal("Finished the marathon on Sunday."))
				Expect(payload.EvidenceIDs).To(Equal([]int64{7}))
				Expect(payload.ReferenceDate).NotTo(BeNil())
				Expect(*payload.ReferenceDate).To(Equal("2026-08-20"))

				Expect(producer.enqueued).To(HaveLen(1))
				msg := producer.enqueued[0]
				Expect(msg.JobID).To(Equal(result.JobID))
				Expect(msg.OwnerID).To(Equal(ownerID))
				Expect(msg.Attempt).To(Equal(1))
			})
		})

		Context("with empty or whitespace text", func() {
			It("rejects the submission before touching storage", func() {
				for _, text := range []string{"", "   ", "\n\t"} {
					result, err := svc.Submit(ctx, ownerID, service.SubmitParams{Text: text})
					Expect(err).To(MatchError(service.ErrEmptyText))
					Expect(result).To(BeNil())
				}
				Expect(txRunner.calls).To(BeZero())
				Expect(producer.enqueued).To(BeEmpty())
			})
		})

		Context("when the transaction fails", func() {
			It("returns the error and enqueues nothing", func() {
				txRunner.withTxErr = errors.New("connection lost")

				result, err := svc.Submit(ctx, ownerID, service.SubmitParams{Text: "text"})

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("connection lost"))
				Expect(result).To(BeNil())
				Expect(producer.enqueued).To(BeEmpty())
			})
		})

		Context("when enqueueing fails", func() {
			It("returns the error; the durable job remains for recovery", func() {
				producer.enqueueFn = func(_ context.Context, _ queue.JobMessage) error {
					return errors.New("redis unavailable")
				}

				result, err := svc.Submit(ctx, ownerID, service.SubmitParams{Text: "text"})

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("redis unavailable"))
				Expect(result).To(BeNil())
				Expect(jobs.created).To(HaveLen(1), "job row outlives the enqueue failure")
			})
		})
	})
})

func strPtr(s string) *string { return &s }
