package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pos-resilience-backend/internal/model"
	"pos-resilience-backend/internal/syncq"
)

type enqueueRequest struct {
	Type          string          `json:"type" binding:"required"`
	Payload       json.RawMessage `json:"payload" binding:"required"`
	BaseTimestamp time.Time       `json:"base_timestamp"`
}

// EnqueueMutation handles POST /api/sync/queue. Enqueueing is local-only and
// must succeed with no connectivity.
func (h *Handler) EnqueueMutation(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.deps.Queue.Enqueue(c.Request.Context(), req.Type, req.Payload, req.BaseTimestamp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, m)
}

// RunSync handles POST /api/sync/run.
func (h *Handler) RunSync(c *gin.Context) {
	res, err := h.deps.Queue.SyncAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetSyncStatus handles GET /api/sync/status.
func (h *Handler) GetSyncStatus(c *gin.Context) {
	summary, err := h.deps.Queue.Summary(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize sync queue"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetMutations handles GET /api/sync/mutations with an optional status filter.
func (h *Handler) GetMutations(c *gin.Context) {
	status := model.SyncStatus(c.Query("status"))
	ms, err := h.deps.Queue.Mutations(c.Request.Context(), status)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to list mutations"})
		return
	}
	c.JSON(http.StatusOK, ms)
}

// RetryMutation handles POST /api/sync/mutations/:id/retry.
func (h *Handler) RetryMutation(c *gin.Context) {
	err := h.deps.Queue.Retry(c.Request.Context(), c.Param("id"))
	if errors.Is(err, syncq.ErrMutationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mutation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "mutation retried"})
}

// DiscardMutation handles DELETE /api/sync/mutations/:id. Destructive; the
// frontend confirms with the user before calling.
func (h *Handler) DiscardMutation(c *gin.Context) {
	err := h.deps.Queue.Discard(c.Request.Context(), c.Param("id"))
	if errors.Is(err, syncq.ErrMutationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mutation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetConflicts handles GET /api/sync/conflicts.
func (h *Handler) GetConflicts(c *gin.Context) {
	recs, err := h.deps.Resolver.Unresolved(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conflicts"})
		return
	}
	c.JSON(http.StatusOK, recs)
}

type resolveConflictRequest struct {
	Choice string `json:"choice" binding:"required,oneof=local remote"`
	Notes  string `json:"notes"`
}

// ResolveConflict handles POST /api/sync/conflicts/:id/resolve.
func (h *Handler) ResolveConflict(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.deps.Resolver.ResolveManual(c.Request.Context(), c.Param("id"), req.Choice, req.Notes)
	if errors.Is(err, syncq.ErrConflictNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conflict not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conflict resolved"})
}
