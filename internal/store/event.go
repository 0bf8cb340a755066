package store

import (
	"context"

	"chroniq.app/engine/core/db"
	"chroniq.app/engine/internal/model"
)

type eventStore struct {
	db db.DBTX
}

func newEventStore(dbtx db.DBTX) EventStore {
	return &eventStore{db: dbtx}
}

func (s *eventStore) CreateEvent(ctx context.Context, event *model.ExtractedEvent) error {
	// Event ids are fixed in the extract-events checkpoint, so a replayed
	// save hits the same id and is a no-op.
	_, err := s.db.Exec(ctx, `
		INSERT INTO extracted_events (id, entry_id, owner_id, title, description, category, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.EntryID, event.OwnerID, event.Title,
		event.Description, event.Category, event.OccurredAt)
	return err
}

func (s *eventStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_participants (event_id, name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, name) DO NOTHING`,
		p.EventID, p.Name, p.Role)
	return err
}

func (s *eventStore) CreateEvidenceLink(ctx context.Context, l *model.EvidenceLink) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_evidence (event_id, evidence_id)
		VALUES ($1, $2)
		ON CONFLICT (event_id, evidence_id) DO NOTHING`,
		l.EventID, l.EvidenceID)
	return err
}

func (s *eventStore) CreateActionItem(ctx context.Context, item *model.ActionItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO action_items (id, entry_id, event_id, description, due_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, item.EntryID, item.EventID, item.Description, item.DueDate)
	return err
}

// DeleteByEntry clears the derived rows in FK order: children first, then the
// events themselves.
func (s *eventStore) DeleteByEntry(ctx context.Context, entryID int64) error {
	if _, err := s.db.Exec(ctx, `
		DELETE FROM event_participants
		WHERE event_id IN (SELECT id FROM extracted_events WHERE entry_id = $1)`, entryID); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM event_evidence
		WHERE event_id IN (SELECT id FROM extracted_events WHERE entry_id = $1)`, entryID); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM action_items WHERE entry_id = $1`, entryID); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM extracted_events WHERE entry_id = $1`, entryID)
	return err
}
