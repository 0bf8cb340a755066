package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobType string

const (
	JobTypeEntryExtraction JobType = "entry_extraction"
)

// Job is the unit of trackable background work. Created in pending by the
// dispatcher, mutated only by the pipeline's steps, never deleted by the engine.
type Job struct {
	ID            int64
	OwnerID       int64
	Type          JobType
	Status        JobStatus
	EntryID       *int64
	InputPayload  json.RawMessage // immutable submit payload, fixed at dispatch time
	ErrorMessage  *string
	ResultSummary json.RawMessage
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SubmitPayload is the immutable input captured at job creation time.
// Replays are safe because this never mutates mid-run.
type SubmitPayload struct {
	Text          string  `json:"text"`
	ReferenceDate *string `json:"reference_date,omitempty"`
	EvidenceIDs   []int64 `json:"evidence_ids,omitempty"`
}

// ResultSummary is written exactly once, on transition to completed.
type ResultSummary struct {
	EventIDs          []int64 `json:"event_ids"`
	EventCount        int     `json:"event_count"`
	ActionItemCount   int     `json:"action_item_count"`
	EvidenceProcessed []int64 `json:"evidence_processed"`
}

// JobUpdate is the payload pushed through the notification channel when a
// job record transitions.
type JobUpdate struct {
	JobID         int64           `json:"job_id"`
	OwnerID       int64           `json:"owner_id"`
	EntryID       *int64          `json:"entry_id,omitempty"`
	Status        JobStatus       `json:"status"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
}
