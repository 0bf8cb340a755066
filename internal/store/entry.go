package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"chroniq.app/engine/core/db"
	"chroniq.app/engine/internal/model"
)

type entryStore struct {
	db db.DBTX
}

func newEntryStore(dbtx db.DBTX) EntryStore {
	return &entryStore{db: dbtx}
}

const entryColumns = `id, owner_id, submitted_text, reference_date, status, extraction, created_at, updated_at`

func (s *entryStore) Create(ctx context.Context, entry *model.Entry) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO entries (id, owner_id, submitted_text, reference_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+entryColumns,
		entry.ID, entry.OwnerID, entry.SubmittedText, entry.ReferenceDate, string(entry.Status))

	created, err := scanEntry(row)
	if err != nil {
		return err
	}
	*entry = *created
	return nil
}

func (s *entryStore) GetByID(ctx context.Context, id int64) (*model.Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *entryStore) SetStatus(ctx context.Context, id int64, status model.EntryStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE entries SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *entryStore) Complete(ctx context.Context, id int64, extraction json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE entries SET status = $2, extraction = $3, updated_at = now() WHERE id = $1`,
		id, string(model.EntryStatusCompleted), extraction)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (*model.Entry, error) {
	var (
		entry  model.Entry
		status string
	)
	err := row.Scan(&entry.ID, &entry.OwnerID, &entry.SubmittedText, &entry.ReferenceDate,
		&status, &entry.Extraction, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Status = model.EntryStatus(status)
	return &entry, nil
}
