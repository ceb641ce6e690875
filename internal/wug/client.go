// Package wug is a client for the WhatsUp Gold REST API.
//
// The client normalizes WUG's wire formats into Device and ScanStatus
// values and carries no sync policy of its own.
package wug

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNeedsDiscovery indicates WUG refused a direct device creation and a
// discovery scan must be used instead.
var ErrNeedsDiscovery = errors.New("device requires discovery scan")

// APIError is a non-2xx response from the WUG API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wug api: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the error is worth retrying.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// tokenRefreshMargin refreshes the token this long before it expires.
const tokenRefreshMargin = 60 * time.Second

// Config holds WUG connection settings.
type Config struct {
	Host      string
	Port      int
	UseSSL    bool
	VerifyTLS bool
	Username  string
	Password  string
	Timeout   time.Duration

	// Outbound request rate limit.
	RateLimit float64
	RateBurst int

	// Substrings in a 4xx response body that mean the device must go
	// through discovery instead of direct creation.
	NeedsDiscoverySignals []string

	// Total time spent retrying transient failures per call.
	MaxRetryElapsed time.Duration
}

// BaseURL returns the API root, e.g. https://wug.example.com:9644/api.
func (c Config) BaseURL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/api", scheme, c.Host, c.Port)
}

// Client talks to a single WhatsUp Gold server.
type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// NewClient creates a Client for the given connection settings.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 15 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  logger,
	}
}

// authenticate obtains a bearer token. Callers must hold c.mu.
func (c *Client) authenticate(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL()+"/v1/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decoding token response: %w", err)
	}

	token := tr.AccessToken
	if token == "" {
		token = tr.Token
	}
	if token == "" {
		return errors.New("no token in authentication response")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	c.token = token
	c.tokenExpires = time.Now().Add(time.Duration(expiresIn) * time.Second)
	c.logger.Debug("authenticated with wug", zap.Time("expires", c.tokenExpires))
	return nil
}

// bearer returns a valid token, authenticating or refreshing as needed.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || time.Now().After(c.tokenExpires.Add(-tokenRefreshMargin)) {
		if err := c.authenticate(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// do performs one authenticated request, re-authenticating once on 401.
// Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	retried := false
	for {
		token, err := c.bearer(ctx)
		if err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}

		var body io.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("encoding request body: %w", err)
			}
			body = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL()+path, body)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && !retried {
			resp.Body.Close()
			c.invalidateToken()
			retried = true
			continue
		}

		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decoding %s %s response: %w", method, path, err)
			}
		}
		return nil
	}
}

// call wraps do with exponential backoff on transient failures.
func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	operation := func() (struct{}, error) {
		err := c.do(ctx, method, path, payload, out)
		if err == nil {
			return struct{}{}, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			return struct{}{}, backoff.Permanent(err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(c.cfg.MaxRetryElapsed),
	)
	return err
}

// ListDevices returns all devices known to WUG.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/devices", nil, &raw); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	// The API returns either a bare array or {"devices": [...]}.
	var wires []deviceWire
	if err := json.Unmarshal(raw, &wires); err != nil {
		var wrapped devicesWire
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decoding device list: %w", err)
		}
		wires = wrapped.Devices
	}

	devices := make([]Device, 0, len(wires))
	for _, w := range wires {
		devices = append(devices, normalizeDevice(w))
	}
	return devices, nil
}

// GetDevice fetches a single device by its WUG ID.
func (c *Client) GetDevice(ctx context.Context, id string) (Device, error) {
	var w deviceWire
	if err := c.call(ctx, http.MethodGet, "/devices/"+id, nil, &w); err != nil {
		return Device{}, fmt.Errorf("getting device %s: %w", id, err)
	}
	return normalizeDevice(w), nil
}

// CreateDevice adds a device to WUG by IP address and returns its new ID.
// Returns ErrNeedsDiscovery when WUG requires the device to be discovered
// by a scan instead.
func (c *Client) CreateDevice(ctx context.Context, cfg DeviceConfig) (string, error) {
	payload := map[string]any{
		"ip_address":       cfg.Address,
		"discovery_method": "ip",
		"device_name":      cfg.Name,
	}
	if cfg.Group != "" {
		payload["group"] = cfg.Group
	}
	if cfg.Description != "" {
		payload["description"] = cfg.Description
	}
	if cfg.Location != "" {
		payload["location"] = cfg.Location
	}
	if cfg.Contact != "" {
		payload["contact"] = cfg.Contact
	}
	if cfg.SNMPCommunity != "" {
		payload["snmp_community"] = cfg.SNMPCommunity
		payload["snmp_version"] = cfg.SNMPVersion
	}
	if len(cfg.CustomFields) > 0 {
		payload["custom_fields"] = cfg.CustomFields
	}

	var w deviceWire
	err := c.call(ctx, http.MethodPost, "/devices/add-by-ip", payload, &w)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && c.needsDiscovery(apiErr) {
			return "", fmt.Errorf("%w: %s", ErrNeedsDiscovery, apiErr.Body)
		}
		return "", fmt.Errorf("creating device %s: %w", cfg.Address, err)
	}

	id := rawID(w.DeviceID)
	if id == "" {
		id = rawID(w.ID)
	}
	if id == "" {
		return "", fmt.Errorf("creating device %s: no device ID in response", cfg.Address)
	}
	return id, nil
}

// needsDiscovery checks whether a 4xx response means the address must be
// discovered by scan. 422 always does; otherwise the configured signal
// substrings are matched against the response body.
func (c *Client) needsDiscovery(e *APIError) bool {
	if e.StatusCode == http.StatusUnprocessableEntity {
		return true
	}
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	body := strings.ToLower(e.Body)
	for _, signal := range c.cfg.NeedsDiscoverySignals {
		if signal != "" && strings.Contains(body, strings.ToLower(signal)) {
			return true
		}
	}
	return false
}

// UpdateDeviceMetadata pushes NetBox attributes onto a WUG device as
// custom fields.
func (c *Client) UpdateDeviceMetadata(ctx context.Context, id string, md Metadata) error {
	fields := map[string]string{}
	if md.Name != "" {
		fields["netbox_device_name"] = md.Name
	}
	if md.Site != "" {
		fields["netbox_site"] = md.Site
	}
	if md.Role != "" {
		fields["netbox_device_role"] = md.Role
	}
	if md.Type != "" {
		fields["netbox_device_type"] = md.Type
	}
	if md.Platform != "" {
		fields["netbox_platform"] = md.Platform
	}
	if md.Serial != "" {
		fields["netbox_serial"] = md.Serial
	}
	if md.AssetTag != "" {
		fields["netbox_asset_tag"] = md.AssetTag
	}

	payload := map[string]any{
		"metadata_source": "NetBox",
		"custom_fields":   fields,
	}
	if md.Description != "" {
		payload["description"] = "NetBox: " + md.Description
	}

	if err := c.call(ctx, http.MethodPut, "/devices/"+id+"/metadata", payload, nil); err != nil {
		return fmt.Errorf("updating metadata for device %s: %w", id, err)
	}
	return nil
}

// DeleteDevice removes a device from WUG.
func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/devices/"+id, nil, nil); err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return nil
}

// ScanAddress triggers a discovery scan of a single IP and returns the
// scan ID to poll.
func (c *Client) ScanAddress(ctx context.Context, address string) (string, error) {
	payload := map[string]string{
		"ip_address": address,
		"scan_type":  "discovery",
	}

	var w scanWire
	if err := c.call(ctx, http.MethodPost, "/scan/ip", payload, &w); err != nil {
		return "", fmt.Errorf("scanning %s: %w", address, err)
	}

	id := rawID(w.ScanID)
	if id == "" {
		id = rawID(w.ID)
	}
	if id == "" {
		return "", fmt.Errorf("scanning %s: no scan ID in response", address)
	}
	return id, nil
}

// GetScanStatus polls a discovery scan.
func (c *Client) GetScanStatus(ctx context.Context, scanID string) (ScanStatus, error) {
	var w scanWire
	if err := c.call(ctx, http.MethodGet, "/scan/"+scanID+"/status", nil, &w); err != nil {
		return ScanStatus{}, fmt.Errorf("getting scan %s status: %w", scanID, err)
	}

	st := ScanStatus{ScanID: scanID, Message: w.Message}
	switch strings.ToLower(w.Status) {
	case "completed", "complete", "finished":
		st.State = ScanCompleted
		st.DeviceID = rawID(w.DeviceID)
	case "failed", "error":
		st.State = ScanFailed
	case "running", "in_progress", "pending", "queued":
		st.State = ScanRunning
	default:
		// Unknown states are treated as still running; the poller's
		// max-age timeout bounds how long that can last.
		c.logger.Debug("unrecognized scan state", zap.String("state", w.Status))
		st.State = ScanRunning
	}
	return st, nil
}

// TestConnection verifies credentials and returns the device count.
func (c *Client) TestConnection(ctx context.Context) (int, error) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

// normalizeDevice maps a wire record to a Device, tolerating the API's
// alternate field names.
func normalizeDevice(w deviceWire) Device {
	d := Device{
		Name:     w.Name,
		Address:  w.Address,
		Status:   w.Status,
		Vendor:   w.Vendor,
		Model:    w.Model,
		OS:       w.OS,
		Group:    w.Group,
		Location: w.Location,
		Notes:    w.Notes,
	}
	if d.Address == "" {
		d.Address = w.IP
	}
	d.ID = rawID(w.ID)
	if d.ID == "" {
		d.ID = rawID(w.DeviceID)
	}
	return d
}

// rawID renders a JSON id that may be a number or a string.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	s := strings.Trim(string(raw), `"`)
	if s == "null" {
		return ""
	}
	return s
}
