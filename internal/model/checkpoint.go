package model

import (
	"encoding/json"
	"time"
)

// Checkpoint records that a specific (job, step) pair has already run and
// with what outcome. Written once per successful step execution, never
// mutated afterward.
type Checkpoint struct {
	JobID     int64
	StepName  string
	Result    json.RawMessage
	CreatedAt time.Time
}
