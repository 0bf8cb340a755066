package store

import (
	"context"
	"encoding/json"
	"errors"

	"chroniq.app/engine/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing id
var ErrConflict = errors.New("conflict")

// ErrStaleTransition is returned when a conditional status update finds the
// row outside the expected source states. Callers treat it as "someone else
// already advanced (or terminated) this job" and back off.
var ErrStaleTransition = errors.New("stale transition")

// TransitionFields carries the columns written alongside a status change.
// Zero values leave the corresponding column untouched.
type TransitionFields struct {
	SetStartedAt   bool
	SetCompletedAt bool
	ErrorMessage   *string
	ResultSummary  json.RawMessage
}

// JobStore defines the contract for job record access.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	GetByOwnerAndID(ctx context.Context, ownerID, id int64) (*model.Job, error)
	// Transition atomically updates the row only if its current status is in
	// from. Returns ErrStaleTransition otherwise.
	Transition(ctx context.Context, id int64, from []model.JobStatus, to model.JobStatus, fields TransitionFields) (*model.Job, error)
	ListByOwnerAndStatus(ctx context.Context, ownerID int64, statuses []model.JobStatus) ([]model.Job, error)
}

// CheckpointStore defines the contract for step checkpoint access.
type CheckpointStore interface {
	Get(ctx context.Context, jobID int64, stepName string) (json.RawMessage, bool, error)
	// PutIfAbsent is insert-or-noop; returns true if this caller inserted.
	PutIfAbsent(ctx context.Context, jobID int64, stepName string, result json.RawMessage) (bool, error)
	// DeleteByJob garbage-collects checkpoints for a terminal job. Optional;
	// correctness never depends on it.
	DeleteByJob(ctx context.Context, jobID int64) error
}

// EntryStore defines the contract for journal entry access.
type EntryStore interface {
	Create(ctx context.Context, entry *model.Entry) error
	GetByID(ctx context.Context, id int64) (*model.Entry, error)
	SetStatus(ctx context.Context, id int64, status model.EntryStatus) error
	Complete(ctx context.Context, id int64, extraction json.RawMessage) error
}

// EvidenceStore reads evidence attachments produced upstream.
type EvidenceStore interface {
	GetByOwnerAndID(ctx context.Context, ownerID, id int64) (*model.Evidence, error)
}

// EventStore persists the entities derived from an extraction. Creates are
// insert-or-noop on id so a replayed save writes the same rows once.
type EventStore interface {
	CreateEvent(ctx context.Context, event *model.ExtractedEvent) error
	CreateParticipant(ctx context.Context, p *model.Participant) error
	CreateEvidenceLink(ctx context.Context, l *model.EvidenceLink) error
	CreateActionItem(ctx context.Context, item *model.ActionItem) error
	// DeleteByEntry removes every derived row for an entry, superseding the
	// output of earlier runs before the current set is written.
	DeleteByEntry(ctx context.Context, entryID int64) error
}
