package service_test

import (
	"context"
	"encoding/json"

	"chroniq.app/engine/internal/model"
	"chroniq.app/engine/internal/queue"
	"chroniq.app/engine/internal/service"
	"chroniq.app/engine/internal/store"
)

type mockJobStore struct {
	createFn            func(ctx context.Context, job *model.Job) error
	getByOwnerAndIDFn   func(ctx context.Context, ownerID, id int64) (*model.Job, error)
	listByOwnerStatusFn func(ctx context.Context, ownerID int64, statuses []model.JobStatus) ([]model.Job, error)

	created []model.Job
}

func (m *mockJobStore) Create(ctx context.Context, job *model.Job) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, job); err != nil {
			return err
		}
	}
	m.created = append(m.created, *job)
	return nil
}

func (m *mockJobStore) GetByID(_ context.Context, _ int64) (*model.Job, error) {
	return nil, store.ErrNotFound
}

func (m *mockJobStore) GetByOwnerAndID(ctx context.Context, ownerID, id int64) (*model.Job, error) {
	if m.getByOwnerAndIDFn != nil {
		return m.getByOwnerAndIDFn(ctx, ownerID, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockJobStore) Transition(_ context.Context, _ int64, _ []model.JobStatus, _ model.JobStatus, _ store.TransitionFields) (*model.Job, error) {
	return nil, store.ErrStaleTransition
}

func (m *mockJobStore) ListByOwnerAndStatus(ctx context.Context, ownerID int64, statuses []model.JobStatus) ([]model.Job, error) {
	if m.listByOwnerStatusFn != nil {
		return m.listByOwnerStatusFn(ctx, ownerID, statuses)
	}
	return nil, nil
}

type mockEntryStore struct {
	createFn    func(ctx context.Context, entry *model.Entry) error
	setStatusFn func(ctx context.Context, id int64, status model.EntryStatus) error

	created  []model.Entry
	statuses map[int64]model.EntryStatus
}

func newMockEntryStore() *mockEntryStore {
	return &mockEntryStore{statuses: make(map[int64]model.EntryStatus)}
}

func (m *mockEntryStore) Create(ctx context.Context, entry *model.Entry) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, entry); err != nil {
			return err
		}
	}
	m.created = append(m.created, *entry)
	return nil
}

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

func (m *mockEntryStore) Complete(_ context.Context, id int64, _ json.RawMessage) error {
	m.statuses[id] = model.EntryStatusCompleted
	return nil
}

// mockStoreProvider bundles the store mocks behind the transactional facade.
type mockStoreProvider struct {
	jobs    *mockJobStore
	entries *mockEntryStore
}

func (m *mockStoreProvider) Jobs() store.JobStore      { return m.jobs }
func (m *mockStoreProvider) Entries() store.EntryStore { return m.entries }

// mockTxRunner passes the provider straight through. withTxErr short-circuits
// the transaction, simulating a rollback.
type mockTxRunner struct {
	provider *mockStoreProvider
	withTxErr error
	calls     int
}

func (m *mockTxRunner) WithTx(_ context.Context, fn func(stores service.StoreProvider) error) error {
	m.calls++
	if m.withTxErr != nil {
		return m.withTxErr
	}
	return fn(m.provider)
}

type mockProducer struct {
	enqueueFn func(ctx context.Context, msg queue.JobMessage) error
	enqueued  []queue.JobMessage
}

func (m *mockProducer) Enqueue(ctx context.Context, msg queue.JobMessage) error {
	if m.enqueueFn != nil {
		if err := m.enqueueFn(ctx, msg); err != nil {
			return err
		}
	}
	m.enqueued = append(m.enqueued, msg)
	return nil
}

func (m *mockProducer) Close() error { return nil }
