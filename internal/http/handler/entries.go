package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chroniq.app/engine/internal/http/dto"
	"chroniq.app/engine/internal/http/middleware"
	"chroniq.app/engine/internal/service"
)

type EntryHandler struct {
	dispatcher service.DispatcherService
}

func NewEntryHandler(dispatcher service.DispatcherService) *EntryHandler {
	return &EntryHandler{dispatcher: dispatcher}
}

func (h *EntryHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid submit request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.dispatcher.Submit(ctx, middleware.OwnerID(c), service.SubmitParams{
		Text:          req.Text,
		ReferenceDate: req.ReferenceDate,
		EvidenceIDs:   req.EvidenceIDs,
	})
	if err != nil {
		if errors.Is(err, service.ErrEmptyText) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entry text is required"})
			return
		}
		slog.ErrorContext(ctx, "failed to submit entry", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit entry"})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitEntryResponse{
		EntryID: result.EntryID,
		JobID:   result.JobID,
	})
}
