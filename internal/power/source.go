package power

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pos-resilience-backend/config"
)

// Status classifies the power state of the terminal's UPS.
type Status string

const (
	StatusOnline      Status = "online"
	StatusOnBattery   Status = "on_battery"
	StatusLowBattery  Status = "low_battery"
	StatusCritical    Status = "critical"
	StatusNotDetected Status = "not_detected"
)

// Reading is a point-in-time observation of the power source.
type Reading struct {
	Status           Status    `json:"status"`
	BatteryLevel     int       `json:"battery_level"` // 0-100
	EstimatedRuntime int       `json:"estimated_runtime"` // minutes
	IsCharging       bool      `json:"is_charging"`
	Voltage          float64   `json:"voltage"`
	Model            string    `json:"model"`
	LastUpdate       time.Time `json:"last_update"`
}

// ErrSourceUnavailable signals that no power feed could be reached. The
// monitor degrades to StatusNotDetected instead of propagating it.
var ErrSourceUnavailable = errors.New("power source unavailable")

// Source provides power readings. Implementations may fail with
// ErrSourceUnavailable when no UPS hardware or feed is present.
type Source interface {
	Status(ctx context.Context) (Reading, error)
}

// HTTPSource polls a power feed endpoint that exposes the UPS status as JSON.
type HTTPSource struct {
	cfg    *config.FeedRequest
	client *http.Client
}

// NewHTTPSource creates a feed client with the configured timeout.
func NewHTTPSource(cfg *config.FeedRequest) *HTTPSource {
	return &HTTPSource{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// feedResponse models the power feed's JSON payload. Battery level arrives as
// a float from some UPS daemons and is rounded to a whole percentage.
type feedResponse struct {
	Status           string  `json:"status"`
	BatteryLevel     float64 `json:"battery_level"`
	EstimatedRuntime int     `json:"estimated_runtime"`
	IsCharging       bool    `json:"is_charging"`
	Voltage          float64 `json:"voltage"`
	Model            string  `json:"model"`
}

// Status fetches the current reading from the feed.
func (s *HTTPSource) Status(ctx context.Context) (Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to create feed request: %w", err)
	}
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("%w: feed returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to read feed response: %w", err)
	}

	var fr feedResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return Reading{}, fmt.Errorf("failed to unmarshal feed response: %w", err)
	}

	return Reading{
		Status:           Status(fr.Status),
		BatteryLevel:     int(fr.BatteryLevel + 0.5),
		EstimatedRuntime: fr.EstimatedRuntime,
		IsCharging:       fr.IsCharging,
		Voltage:          fr.Voltage,
		Model:            fr.Model,
		LastUpdate:       time.Now().UTC(),
	}, nil
}
