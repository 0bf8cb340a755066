package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chroniq.app/engine/core/db"
	"chroniq.app/engine/internal/model"
)

type jobStore struct {
	db db.DBTX
}

func newJobStore(dbtx db.DBTX) JobStore {
	return &jobStore{db: dbtx}
}

const jobColumns = `id, owner_id, job_type, status, entry_id, input_payload,
	error_message, result_summary, started_at, completed_at, created_at, updated_at`

func (s *jobStore) Create(ctx context.Context, job *model.Job) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO jobs (id, owner_id, job_type, status, entry_id, input_payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+jobColumns,
		job.ID, job.OwnerID, string(job.Type), string(job.Status), job.EntryID, job.InputPayload)

	created, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	*job = *created
	return nil
}

func (s *jobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *jobStore) GetByOwnerAndID(ctx context.Context, ownerID, id int64) (*model.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *jobStore) Transition(ctx context.Context, id int64, from []model.JobStatus, to model.JobStatus, fields TransitionFields) (*model.Job, error) {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	// started_at/completed_at use COALESCE so they are written exactly once
	// even if the same transition is replayed.
	row := s.db.QueryRow(ctx, `
		UPDATE jobs SET
			status = $2,
			started_at = CASE WHEN $3 THEN COALESCE(started_at, now()) ELSE started_at END,
			completed_at = CASE WHEN $4 THEN COALESCE(completed_at, now()) ELSE completed_at END,
			error_message = COALESCE($5, error_message),
			result_summary = COALESCE($6, result_summary),
			updated_at = now()
		WHERE id = $1 AND status = ANY($7)
		RETURNING `+jobColumns,
		id, string(to), fields.SetStartedAt, fields.SetCompletedAt,
		fields.ErrorMessage, fields.ResultSummary, fromStrs)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing job from a guard rejection.
			if _, getErr := s.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleTransition
		}
		return nil, err
	}
	return job, nil
}

func (s *jobStore) ListByOwnerAndStatus(ctx context.Context, ownerID int64, statuses []model.JobStatus) ([]model.Job, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE owner_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC`,
		ownerID, statusStrs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job       model.Job
		jobType   string
		status    string
		startedAt *time.Time
		doneAt    *time.Time
	)
	err := row.Scan(&job.ID, &job.OwnerID, &jobType, &status, &job.EntryID,
		&job.InputPayload, &job.ErrorMessage, &job.ResultSummary,
		&startedAt, &doneAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Type = model.JobType(jobType)
	job.Status = model.JobStatus(status)
	job.StartedAt = startedAt
	job.CompletedAt = doneAt
	return &job, nil
}
