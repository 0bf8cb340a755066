package extraction_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chroniq.app/engine/internal/extraction"
	"chroniq.app/engine/internal/model"
	"chroniq.app/engine/internal/store"
)

// mockJobStore keeps one job row in memory and honors the transition guard,
// so tests exercise the real state machine semantics.
type mockJobStore struct {
	mu  sync.Mutex
	job *model.Job

	getByIDFn    func(ctx context.Context, id int64) (*model.Job, error)
	transitionFn func(ctx context.Context, id int64, from []model.JobStatus, to model.JobStatus, fields store.TransitionFields) (*model.Job, error)
	transitions  []model.JobStatus
}

func (m *mockJobStore) Create(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job = job
	return nil
}

func (m *mockJobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil || m.job.ID != id {
		return nil, store.ErrNotFound
	}
	copied := *m.job
	return &copied, nil
}

func (m *mockJobStore) GetByOwnerAndID(ctx context.Context, ownerID, id int64) (*model.Job, error) {
	job, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (m *mockJobStore) Transition(ctx context.Context, id int64, from []model.JobStatus, to model.JobStatus, fields store.TransitionFields) (*model.Job, error) {
	if m.transitionFn != nil {
		return m.transitionFn(ctx, id, from, to, fields)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil || m.job.ID != id {
		return nil, store.ErrNotFound
	}
	allowed := false
	for _, status := range from {
		if m.job.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, store.ErrStaleTransition
	}
	m.job.Status = to
	if fields.ErrorMessage != nil {
		m.job.ErrorMessage = fields.ErrorMessage
	}
	if fields.ResultSummary != nil {
		m.job.ResultSummary = fields.ResultSummary
	}
	m.transitions = append(m.transitions, to)
	copied := *m.job
	return &copied, nil
}

func (m *mockJobStore) ListByOwnerAndStatus(_ context.Context, _ int64, _ []model.JobStatus) ([]model.Job, error) {
	return nil, nil
}

type mockEntryStore struct {
	completeFn  func(ctx context.Context, id int64, extraction json.RawMessage) error
	setStatusFn func(ctx context.Context, id int64, status model.EntryStatus) error

	completedID   *int64
	completedWith json.RawMessage
	statuses      map[int64]model.EntryStatus
}

func newMockEntryStore() *mockEntryStore {
	return &mockEntryStore{statuses: make(map[int64]model.EntryStatus)}
}

func (m *mockEntryStore) Create(_ context.Context, _ *model.Entry) error { return nil }

func (m *mockEntryStore) GetByID(_ context.Context, _ int64) (*model.Entry, error) {
	return nil, store.ErrNotFound
}

func (m *mockEntryStore) SetStatus(ctx context.Context, id int64, status model.EntryStatus) error {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, id, status)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockEntryStore) Complete(ctx context.Context, id int64, extraction json.RawMessage) error {
	if m.completeFn != nil {
		return m.completeFn(ctx, id, extraction)
	}
	m.completedID = &id
	m.completedWith = extraction
	m.statuses[id] = model.EntryStatusCompleted
	return nil
}

type mockEvidenceStore struct {
	getFn func(ctx context.Context, ownerID, id int64) (*model.Evidence, error)
}

func (m *mockEvidenceStore) GetByOwnerAndID(ctx context.Context, ownerID, id int64) (*model.Evidence, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ownerID, id)
	}
	return &model.Evidence{ID: id, OwnerID: ownerID, Kind: "note", Content: "evidence content"}, nil
}

type mockEventStore struct {
	createEventFn func(ctx context.Context, event *model.ExtractedEvent) error

	events       []model.ExtractedEvent
	participants []model.Participant
	links        []model.EvidenceLink
	actionItems  []model.ActionItem
	deleteCalls  int
}

func (m *mockEventStore) CreateEvent(ctx context.Context, event *model.ExtractedEvent) error {
	if m.createEventFn != nil {
		if err := m.createEventFn(ctx, event); err != nil {
			return err
		}
	}
	// Insert-or-noop on id, like the real store.
	for _, existing := range m.events {
		if existing.ID == event.ID {
			return nil
		}
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventStore) CreateParticipant(_ context.Context, p *model.Participant) error {
	for _, existing := range m.participants {
		if existing.EventID == p.EventID && existing.Name == p.Name {
			return nil
		}
	}
	m.participants = append(m.participants, *p)
	return nil
}

func (m *mockEventStore) CreateEvidenceLink(_ context.Context, l *model.EvidenceLink) error {
	for _, existing := range m.links {
		if existing.EventID == l.EventID && existing.EvidenceID == l.EvidenceID {
			return nil
		}
	}
	m.links = append(m.links, *l)
	return nil
}

func (m *mockEventStore) CreateActionItem(_ context.Context, item *model.ActionItem) error {
	for _, existing := range m.actionItems {
		if existing.ID == item.ID {
			return nil
		}
	}
	m.actionItems = append(m.actionItems, *item)
	return nil
}

func (m *mockEventStore) DeleteByEntry(_ context.Context, entryID int64) error {
	m.deleteCalls++

	removed := make(map[int64]bool)
	kept := m.events[:0]
	for _, e := range m.events {
		if e.EntryID == entryID {
			removed[e.ID] = true
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept

	participants := m.participants[:0]
	for _, p := range m.participants {
		if !removed[p.EventID] {
			participants = append(participants, p)
		}
	}
	m.participants = participants

	links := m.links[:0]
	for _, l := range m.links {
		if !removed[l.EventID] {
			links = append(links, l)
		}
	}
	m.links = links

	items := m.actionItems[:0]
	for _, item := range m.actionItems {
		if item.EntryID != entryID {
			items = append(items, item)
		}
	}
	m.actionItems = items

	return nil
}

type mockExtractor struct {
	extractFn   func(ctx context.Context, input extraction.ExtractInput) (*extraction.EventExtraction, error)
	summarizeFn func(ctx context.Context, ev *model.Evidence) (string, error)

	extractCalls   int
	summarizeCalls int
	lastInput      extraction.ExtractInput
}

func (m *mockExtractor) Extract(ctx context.Context, input extraction.ExtractInput) (*extraction.EventExtraction, error) {
	m.extractCalls++
	m.lastInput = input
	if m.extractFn != nil {
		return m.extractFn(ctx, input)
	}
	return &extraction.EventExtraction{}, nil
}

func (m *mockExtractor) SummarizeEvidence(ctx context.Context, ev *model.Evidence) (string, error) {
	m.summarizeCalls++
	if m.summarizeFn != nil {
		return m.summarizeFn(ctx, ev)
	}
	return "summary of " + ev.Kind, nil
}

type mockPublisher struct {
	mu      sync.Mutex
	updates []model.JobUpdate
}

func (m *mockPublisher) PublishUpdate(_ context.Context, update model.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

func (m *mockPublisher) terminalUpdates() []model.JobUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var terminal []model.JobUpdate
	for _, u := range m.updates {
		if u.Status.IsTerminal() {
			terminal = append(terminal, u)
		}
	}
	return terminal
}

// mockCheckpointStore mirrors the insert-or-noop contract in memory.
type mockCheckpointStore struct {
	mu      sync.Mutex
	results map[string]json.RawMessage
}

func newMockCheckpointStore() *mockCheckpointStore {
	return &mockCheckpointStore{results: make(map[string]json.RawMessage)}
}

func checkpointKey(jobID int64, stepName string) string {
	return fmt.Sprintf("%d/%s", jobID, stepName)
}

func (m *mockCheckpointStore) Get(_ context.Context, jobID int64, stepName string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[checkpointKey(jobID, stepName)]
	return res, ok, nil
}

func (m *mockCheckpointStore) PutIfAbsent(_ context.Context, jobID int64, stepName string, result json.RawMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := checkpointKey(jobID, stepName)
	if _, exists := m.results[key]; exists {
		return false, nil
	}
	m.results[key] = result
	return true, nil
}

func (m *mockCheckpointStore) DeleteByJob(_ context.Context, _ int64) error { return nil }

func (m *mockCheckpointStore) seed(jobID int64, stepName string, result json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[checkpointKey(jobID, stepName)] = result
}

func (m *mockCheckpointStore) has(jobID int64, stepName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.results[checkpointKey(jobID, stepName)]
	return ok
}
