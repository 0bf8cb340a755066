package worker

import (
	"context"
)

// JobRunner executes the full step pipeline for one job. Implemented by the
// extraction service; defined here to avoid an import cycle.
type JobRunner interface {
	RunJob(ctx context.Context, jobID int64) error
}
