package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pos-resilience-backend/internal/recovery"
)

type startSessionRequest struct {
	SessionID       string `json:"session_id"`
	TransactionType string `json:"transaction_type" binding:"required,oneof=sale return hold"`
	CustomerID      *int64 `json:"customer_id"`
	IntervalMs      int    `json:"interval_ms"`
	Enabled         *bool  `json:"enabled"`
}

// StartSession handles POST /api/transaction/session/start. Starting a new
// transaction is the one action safe mode blocks; persisting an existing one
// never is.
func (h *Handler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.deps.Monitor.CanStartTransaction() {
		c.JSON(http.StatusConflict, gin.H{"error": "safe mode active, new transactions are blocked"})
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	interval := time.Duration(req.IntervalMs) * time.Millisecond
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	h.deps.AutoSaver.StartAutoSave(recovery.SessionParams{
		SessionID:  req.SessionID,
		Type:       req.TransactionType,
		CustomerID: req.CustomerID,
		Interval:   interval,
		Enabled:    enabled,
	})
	c.JSON(http.StatusCreated, gin.H{"session_id": req.SessionID})
}

// StopSession handles POST /api/transaction/session/stop.
func (h *Handler) StopSession(c *gin.Context) {
	h.deps.AutoSaver.StopAutoSave()
	c.Status(http.StatusNoContent)
}

type saveStateRequest struct {
	SessionID       string          `json:"session_id" binding:"required"`
	TransactionData json.RawMessage `json:"transaction_data" binding:"required"`
	LastAction      string          `json:"last_action"`
}

// checkSession rejects writes for a session that is no longer active, so a
// stale screen cannot clobber the snapshot of a newer transaction.
func (h *Handler) checkSession(c *gin.Context, sessionID string) bool {
	active, ok := h.deps.AutoSaver.ActiveSession()
	if !ok || active != sessionID {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not active"})
		return false
	}
	return true
}

// AutoSaveState handles POST /api/transaction/autosave: the debounced path.
func (h *Handler) AutoSaveState(c *gin.Context) {
	var req saveStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.checkSession(c, req.SessionID) {
		return
	}

	if err := h.deps.AutoSaver.RecordState(c.Request.Context(), req.TransactionData, req.LastAction); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// SaveTransactionState handles POST /api/transaction/save: the loud checkpoint
// path. Store failures surface to the caller instead of being swallowed.
func (h *Handler) SaveTransactionState(c *gin.Context) {
	var req saveStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.checkSession(c, req.SessionID) {
		return
	}

	if err := h.deps.AutoSaver.SaveNow(c.Request.Context(), req.TransactionData, req.LastAction); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction state saved"})
}

// GetPendingTransactions handles GET /api/transaction/pending.
func (h *Handler) GetPendingTransactions(c *gin.Context) {
	snaps, err := h.deps.Recovery.ListPending(c.Request.Context(), h.deps.TerminalID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve pending transactions"})
		return
	}
	c.JSON(http.StatusOK, snaps)
}

type recoverRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	Successful *bool  `json:"successful" binding:"required"`
	Notes      string `json:"notes"`
}

// RecoverTransaction handles POST /api/transaction/recover. There is no
// automatic resolution: a human decides whether an interrupted sale resumes.
func (h *Handler) RecoverTransaction(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.deps.Recovery.Resolve(c.Request.Context(), req.SessionID, *req.Successful, req.Notes)
	if errors.Is(err, recovery.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for session"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction resolved"})
}
