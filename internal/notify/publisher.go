package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"chroniq.app/engine/internal/model"
)

// Publisher pushes job updates across the process boundary, from the worker
// that executes jobs to whatever server processes hold subscribers.
type Publisher interface {
	PublishUpdate(ctx context.Context, update model.JobUpdate) error
}

type redisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(client *redis.Client, stream string) Publisher {
	return &redisPublisher{client: client, stream: stream}
}

func (p *redisPublisher) PublishUpdate(ctx context.Context, update model.JobUpdate) error {
	fields := map[string]any{
		"job_id":   update.JobID,
		"owner_id": update.OwnerID,
		"status":   string(update.Status),
	}
	if update.EntryID != nil {
		fields["entry_id"] = *update.EntryID
	}
	if update.ErrorMessage != nil {
		fields["error_message"] = *update.ErrorMessage
	}
	if len(update.ResultSummary) > 0 {
		fields["result_summary"] = string(update.ResultSummary)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 10000,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish job update: %w", err)
	}

	slog.DebugContext(ctx, "published job update",
		"job_id", update.JobID,
		"status", update.Status)
	return nil
}
