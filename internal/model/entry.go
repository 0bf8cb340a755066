package model

import (
	"encoding/json"
	"time"
)

type EntryStatus string

const (
	// EntryStatusProcessing is the sentinel state an entry is created in;
	// the pipeline owns the transition out of it.
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusFailed     EntryStatus = "failed"
)

// Entry is the domain entity an extraction job produces/updates.
type Entry struct {
	ID            int64
	OwnerID       int64
	SubmittedText string
	ReferenceDate *string
	Status        EntryStatus
	Extraction    json.RawMessage // raw extraction payload, attached by finalize
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Evidence is an attachment referenced by a submission. Rows are produced
// upstream (capture is out of scope); the pipeline only reads them.
type Evidence struct {
	ID        int64
	OwnerID   int64
	Kind      string
	Content   string
	CreatedAt time.Time
}
