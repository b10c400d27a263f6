package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// powerStatusResponse flattens the monitor state for the UI power widget.
type powerStatusResponse struct {
	Status           string `json:"status"`
	BatteryLevel     int    `json:"battery_level"`
	EstimatedRuntime int    `json:"estimated_runtime"`
	IsCharging       bool   `json:"is_charging"`
	Voltage          float64 `json:"voltage"`
	Model            string `json:"model"`
	LastUpdate       string `json:"last_update"`
	SafeMode         bool   `json:"safe_mode"`
	Monitoring       bool   `json:"monitoring"`
}

// GetPowerStatus handles GET /api/power/status.
func (h *Handler) GetPowerStatus(c *gin.Context) {
	reading, safeMode := h.deps.Monitor.Current()
	c.JSON(http.StatusOK, powerStatusResponse{
		Status:           string(reading.Status),
		BatteryLevel:     reading.BatteryLevel,
		EstimatedRuntime: reading.EstimatedRuntime,
		IsCharging:       reading.IsCharging,
		Voltage:          reading.Voltage,
		Model:            reading.Model,
		LastUpdate:       reading.LastUpdate.Format("2006-01-02T15:04:05Z07:00"),
		SafeMode:         safeMode,
		Monitoring:       h.deps.Monitor.Monitoring(),
	})
}

// StartMonitoring handles POST /api/power/monitoring/start.
func (h *Handler) StartMonitoring(c *gin.Context) {
	h.deps.Monitor.StartMonitoring()
	c.JSON(http.StatusOK, gin.H{"message": "power monitoring started"})
}

// StopMonitoring handles POST /api/power/monitoring/stop.
func (h *Handler) StopMonitoring(c *gin.Context) {
	h.deps.Monitor.StopMonitoring()
	c.JSON(http.StatusOK, gin.H{"message": "power monitoring stopped"})
}

// GetPowerEvents handles GET /api/power/events.
func (h *Handler) GetPowerEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	eventType := c.Query("type")

	events, err := h.deps.Events.Recent(c.Request.Context(), limit, eventType)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve power events"})
		return
	}
	c.JSON(http.StatusOK, events)
}
