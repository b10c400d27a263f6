package syncq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pos-resilience-backend/config"
	"pos-resilience-backend/internal/model"
)

// Conflict is the descriptor the remote store returns when a submitted
// mutation's base timestamp is older than the record's current version.
type Conflict struct {
	TableName       string          `json:"table_name"`
	RecordID        string          `json:"record_id"`
	RemoteData      json.RawMessage `json:"remote_data"`
	RemoteTimestamp time.Time       `json:"remote_timestamp"`
}

// Transport transmits queued mutations to the authoritative remote store.
type Transport interface {
	// Healthy reports whether the remote endpoint is believed reachable.
	Healthy(ctx context.Context) bool
	// Submit transmits one mutation. A nil Conflict with nil error means the
	// mutation was accepted. force overwrites the remote copy regardless of
	// version, used after a resolution picked the local side.
	Submit(ctx context.Context, m *model.OfflineMutation, force bool) (*Conflict, error)
}

// HTTPTransport submits mutations to the central sync endpoint.
type HTTPTransport struct {
	cfg    *config.SyncEndpoint
	client *http.Client
}

// NewHTTPTransport creates a transport with the configured timeout.
func NewHTTPTransport(cfg *config.SyncEndpoint) *HTTPTransport {
	return &HTTPTransport{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Healthy probes the health endpoint with a short GET.
func (t *HTTPTransport) Healthy(ctx context.Context) bool {
	url := t.cfg.HealthURL
	if url == "" {
		url = t.cfg.URL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

type submitRequest struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	BaseTimestamp time.Time       `json:"base_timestamp"`
	Force         bool            `json:"force,omitempty"`
}

// Submit posts the mutation. HTTP 409 carries a conflict descriptor.
func (t *HTTPTransport) Submit(ctx context.Context, m *model.OfflineMutation, force bool) (*Conflict, error) {
	body, err := json.Marshal(submitRequest{
		ID:            m.ID,
		Type:          m.Type,
		Payload:       m.Payload,
		BaseTimestamp: m.BaseTimestamp,
		Force:         force,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation %s: %w", m.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil, nil
	case resp.StatusCode == http.StatusConflict:
		var c Conflict
		if err := json.Unmarshal(respBody, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict descriptor: %w", err)
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("sync endpoint returned status %d", resp.StatusCode)
	}
}
