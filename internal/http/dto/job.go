package dto

import (
	"encoding/json"
	"time"

	"chroniq.app/engine/internal/model"
)

type JobResponse struct {
	ID            int64           `json:"id,string"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	EntryID       *int64          `json:"entry_id,string,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func JobResponseFrom(job *model.Job) JobResponse {
	return JobResponse{
		ID:            job.ID,
		Status:        string(job.Status),
		Type:          string(job.Type),
		EntryID:       job.EntryID,
		ErrorMessage:  job.ErrorMessage,
		ResultSummary: job.ResultSummary,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		CreatedAt:     job.CreatedAt,
	}
}

type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}
