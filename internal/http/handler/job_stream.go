package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chroniq.app/engine/internal/http/middleware"
	"chroniq.app/engine/internal/notify"
	"chroniq.app/engine/internal/service"
	"chroniq.app/engine/internal/store"
)

const streamPingInterval = 25 * time.Second

// JobStreamHandler serves the SSE feed of job updates. Each connection
// subscribes to the registry for one job; the terminal update ends the
// stream. Clients that reconnect after missing it recover via the active
// jobs listing and the job snapshot.
type JobStreamHandler struct {
	jobs     service.JobService
	registry *notify.Registry
}

func NewJobStreamHandler(jobs service.JobService, registry *notify.Registry) *JobStreamHandler {
	return &JobStreamHandler{jobs: jobs, registry: registry}
}

func (h *JobStreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	// The snapshot both authorizes the subscription (owner scoping) and
	// short-circuits it when the job already finished.
	job, err := h.jobs.Get(ctx, middleware.OwnerID(c), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	sub := h.registry.Subscribe(jobID, job)
	defer h.registry.Unsubscribe(sub)

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
		case update, open := <-sub.Updates():
			if !open {
				return
			}
			sseWrite(c.Writer, "update", update)
			flusher.Flush()
			if update.Status.IsTerminal() {
				return
			}
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
