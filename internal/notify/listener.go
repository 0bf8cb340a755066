package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/internal/model"
)

// Listener tails the update stream and feeds the in-process registry. Every
// server instance runs its own listener reading the whole stream, so updates
// fan out to subscribers wherever they are connected.
type Listener struct {
	client   *redis.Client
	stream   string
	registry *Registry

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewListener(client *redis.Client, stream string, registry *Registry) *Listener {
	return &Listener{
		client:    client,
		stream:    stream,
		registry:  registry,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the read loop. Returns immediately.
func (l *Listener) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop signals the loop and waits for it to exit.
func (l *Listener) Stop() {
	close(l.stopCh)
	<-l.stoppedCh
}

func (l *Listener) run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.notify.listener",
	})

	defer close(l.stoppedCh)

	slog.InfoContext(ctx, "update listener started", "stream", l.stream)

	// "$" = only updates published after this listener came up. Missed
	// history doesn't matter: subscribers get terminal state from the job
	// snapshot at subscribe time.
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			slog.InfoContext(ctx, "update listener stopping")
			return
		default:
		}

		streams, err := l.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{l.stream, lastID},
			Count:   64,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.ErrorContext(ctx, "reading update stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				update, err := parseUpdate(msg)
				if err != nil {
					slog.ErrorContext(ctx, "failed to parse job update",
						"error", err,
						"raw_message_id", msg.ID)
					continue
				}
				l.registry.Publish(update)
			}
		}
	}
}

func parseUpdate(msg redis.XMessage) (model.JobUpdate, error) {
	jobID, err := parseStreamInt64(msg.Values, "job_id")
	if err != nil {
		return model.JobUpdate{}, err
	}
	ownerID, err := parseStreamInt64(msg.Values, "owner_id")
	if err != nil {
		return model.JobUpdate{}, err
	}

	update := model.JobUpdate{
		JobID:   jobID,
		OwnerID: ownerID,
	}

	if raw, ok := msg.Values["status"]; ok {
		update.Status = model.JobStatus(fmt.Sprint(raw))
	}
	if raw, ok := msg.Values["entry_id"]; ok {
		entryID, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
		if err != nil {
			return model.JobUpdate{}, errors.New("invalid entry_id")
		}
		update.EntryID = &entryID
	}
	if raw, ok := msg.Values["error_message"]; ok {
		errMsg := fmt.Sprint(raw)
		update.ErrorMessage = &errMsg
	}
	if raw, ok := msg.Values["result_summary"]; ok {
		update.ResultSummary = json.RawMessage(fmt.Sprint(raw))
	}

	return update, nil
}

func parseStreamInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, errors.New("missing " + key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return num, nil
}
