package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/trail/pkg/classify"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTelemetryPath is where location samples are posted
const DefaultTelemetryPath = "/rest/v1/location_logs"

// maxErrorBody caps how much of an error response is kept
const maxErrorBody = 4 << 10

// Config holds the telemetry client configuration
type Config struct {
	BaseURL       string
	TelemetryPath string
	// DeviceID scopes idempotency keys to this installation
	DeviceID string
	// HTTPClient carries the auth-refreshing transport
	HTTPClient *http.Client
}

// Client posts location samples to the remote service
type Client struct {
	endpoint string
	deviceID string
	http     *http.Client
	logger   zerolog.Logger
}

// NewClient creates a telemetry client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	path := cfg.TelemetryPath
	if path == "" {
		path = DefaultTelemetryPath
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + path,
		deviceID: cfg.DeviceID,
		http:     httpClient,
		logger:   log.WithComponent("transport"),
	}, nil
}

// Deliver posts one queued entry. A non-2xx response is returned as a
// *classify.StatusError; transport failures are returned as-is. Any 2xx
// is success even when the body cannot be decoded; the record is nil then.
func (c *Client) Deliver(ctx context.Context, entry *types.BufferedEntry) (*types.Record, error) {
	body, err := json.Marshal(&entry.LocationSample)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sample: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Idempotency-Key", c.idempotencyKey(entry))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &classify.StatusError{Status: resp.StatusCode, Body: string(data)}
	}

	// A 2xx confirms the write; an unreadable representation must not
	// keep the entry queued.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn().Err(err).Uint64("entry_id", entry.ID).Int("status", resp.StatusCode).
			Msg("Delivery confirmed but response body could not be read")
		return nil, nil
	}
	record, err := decodeRecord(data)
	if err != nil {
		c.logger.Warn().Err(err).Uint64("entry_id", entry.ID).Int("status", resp.StatusCode).
			Msg("Delivery confirmed but response body could not be decoded")
		return nil, nil
	}
	return record, nil
}

func (c *Client) idempotencyKey(entry *types.BufferedEntry) string {
	return fmt.Sprintf("%s:%s:%d", c.deviceID, entry.OwnerUserID, entry.ID)
}

// decodeRecord accepts either a single object or a one-element array.
// An empty body (no representation) yields a nil record.
func decodeRecord(data []byte) (*types.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var records []types.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to decode records: %w", err)
		}
		if len(records) == 0 {
			return nil, nil
		}
		return &records[0], nil
	}

	var record types.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}
