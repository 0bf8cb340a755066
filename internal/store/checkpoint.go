package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"chroniq.app/engine/core/db"
)

type checkpointStore struct {
	db db.DBTX
}

func newCheckpointStore(dbtx db.DBTX) CheckpointStore {
	return &checkpointStore{db: dbtx}
}

func (s *checkpointStore) Get(ctx context.Context, jobID int64, stepName string) (json.RawMessage, bool, error) {
	var result json.RawMessage
	err := s.db.QueryRow(ctx, `
		SELECT result FROM job_checkpoints
		WHERE job_id = $1 AND step_name = $2`,
		jobID, stepName).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return result, true, nil
}

// PutIfAbsent is the sole concurrency-control primitive for duplicate job
// invocations: ON CONFLICT DO NOTHING guarantees exactly one winner per
// (job, step), and the loser observes the winner's stored result via Get.
func (s *checkpointStore) PutIfAbsent(ctx context.Context, jobID int64, stepName string, result json.RawMessage) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO job_checkpoints (job_id, step_name, result)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, step_name) DO NOTHING`,
		jobID, stepName, result)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *checkpointStore) DeleteByJob(ctx context.Context, jobID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM job_checkpoints WHERE job_id = $1`, jobID)
	return err
}
