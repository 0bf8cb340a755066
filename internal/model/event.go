package model

import "time"

// ExtractedEvent is a structured event derived from an entry's text.
// These are the primary record of an extraction; participants, evidence
// links, and action items are best-effort enrichment.
type ExtractedEvent struct {
	ID          int64
	EntryID     int64
	OwnerID     int64
	Title       string
	Description *string
	Category    *string
	OccurredAt  *time.Time
	CreatedAt   time.Time
}

type Participant struct {
	EventID int64
	Name    string
	Role    *string
}

type EvidenceLink struct {
	EventID    int64
	EvidenceID int64
}

type ActionItem struct {
	ID          int64
	EntryID     int64
	EventID     *int64
	Description string
	DueDate     *string
	CreatedAt   time.Time
}
