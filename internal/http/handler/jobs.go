package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chroniq.app/engine/internal/http/dto"
	"chroniq.app/engine/internal/http/middleware"
	"chroniq.app/engine/internal/service"
	"chroniq.app/engine/internal/store"
)

type JobHandler struct {
	jobs service.JobService
}

func NewJobHandler(jobs service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(ctx, middleware.OwnerID(c), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	c.JSON(http.StatusOK, dto.JobResponseFrom(job))
}

func (h *JobHandler) ListActive(c *gin.Context) {
	ctx := c.Request.Context()

	jobs, err := h.jobs.ListActive(ctx, middleware.OwnerID(c))
	if err != nil {
		slog.ErrorContext(ctx, "failed to list active jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list active jobs"})
		return
	}

	resp := dto.JobListResponse{Jobs: make([]dto.JobResponse, 0, len(jobs))}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, dto.JobResponseFrom(&jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Resubmit(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	result, err := h.jobs.Resubmit(ctx, middleware.OwnerID(c), jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, service.ErrJobNotTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "job is still running"})
		default:
			slog.ErrorContext(ctx, "failed to resubmit job", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resubmit job"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitEntryResponse{
		EntryID: result.EntryID,
		JobID:   result.JobID,
	})
}

func parseJobID(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return jobID, true
}
