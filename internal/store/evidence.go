package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"chroniq.app/engine/core/db"
	"chroniq.app/engine/internal/model"
)

type evidenceStore struct {
	db db.DBTX
}

func newEvidenceStore(dbtx db.DBTX) EvidenceStore {
	return &evidenceStore{db: dbtx}
}

func (s *evidenceStore) GetByOwnerAndID(ctx context.Context, ownerID, id int64) (*model.Evidence, error) {
	var ev model.Evidence
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, kind, content, created_at
		FROM evidence WHERE id = $1 AND owner_id = $2`,
		id, ownerID).Scan(&ev.ID, &ev.OwnerID, &ev.Kind, &ev.Content, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}
