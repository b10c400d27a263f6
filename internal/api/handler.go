package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"pos-resilience-backend/internal/power"
	"pos-resilience-backend/internal/recovery"
	"pos-resilience-backend/internal/syncq"
)

// Deps holds the services the API exposes to the POS frontend.
type Deps struct {
	TerminalID string
	Monitor    *power.Monitor
	Events     power.EventStore
	Recovery   recovery.Store
	AutoSaver  *recovery.AutoSaver
	Queue      *syncq.Queue
	Resolver   *syncq.Resolver
	DB         *gorm.DB
	WebPush    *webpush.Options
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}
