// Package netbox wraps the NetBox REST API v4 for the sync engine.
package netbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// APIError is a non-2xx response from the NetBox API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("netbox api: status %d: %s", e.StatusCode, e.Body)
}

// NotFound reports whether the error is a 404.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client wraps the NetBox REST API v4.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	pageSize   int
}

// NewClient creates a new NetBox API client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		pageSize:   50,
	}
}

// SetPageSize overrides the list page size (default 50).
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// DeviceFilter narrows ListDevices results.
type DeviceFilter struct {
	Name   string
	Site   string
	Status string
}

func (f DeviceFilter) query() string {
	q := url.Values{}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	if f.Site != "" {
		q.Set("site", f.Site)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if len(q) == 0 {
		return ""
	}
	return "&" + q.Encode()
}

// ListDevices retrieves devices matching the filter, following pagination.
func (c *Client) ListDevices(ctx context.Context, filter DeviceFilter) ([]NBDevice, error) {
	path := fmt.Sprintf("/api/dcim/devices/?limit=%d%s", c.pageSize, filter.query())

	var all []NBDevice
	for path != "" {
		var resp ListResponse[NBDevice]
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		all = append(all, resp.Results...)
		path = c.relativize(resp.Next)
	}
	return all, nil
}

// relativize strips the base URL from NetBox's absolute "next" links.
func (c *Client) relativize(next string) string {
	if next == "" {
		return ""
	}
	if strings.HasPrefix(next, c.baseURL) {
		return strings.TrimPrefix(next, c.baseURL)
	}
	if u, err := url.Parse(next); err == nil {
		return u.Path + "?" + u.RawQuery
	}
	return ""
}

// GetDevice retrieves a single device by ID.
func (c *Client) GetDevice(ctx context.Context, id int) (*NBDevice, error) {
	path := fmt.Sprintf("/api/dcim/devices/%d/", id)
	var device NBDevice
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &device); err != nil {
		return nil, fmt.Errorf("get device %d: %w", id, err)
	}
	return &device, nil
}

// FindDeviceByName looks up a device by exact name.
// Returns (nil, nil) when no device matches.
func (c *Client) FindDeviceByName(ctx context.Context, name string) (*NBDevice, error) {
	path := "/api/dcim/devices/?name=" + url.QueryEscape(name)
	var resp ListResponse[NBDevice]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("find device %q: %w", name, err)
	}
	if resp.Count == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// CreateDevice creates a new device in NetBox.
func (c *Client) CreateDevice(ctx context.Context, req NBDeviceCreateRequest) (*NBDevice, error) {
	var device NBDevice
	if err := c.doJSON(ctx, http.MethodPost, "/api/dcim/devices/", req, &device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	return &device, nil
}

// UpdateDevice patches an existing device in NetBox.
func (c *Client) UpdateDevice(ctx context.Context, id int, req NBDeviceCreateRequest) (*NBDevice, error) {
	path := fmt.Sprintf("/api/dcim/devices/%d/", id)
	var device NBDevice
	if err := c.doJSON(ctx, http.MethodPatch, path, req, &device); err != nil {
		return nil, fmt.Errorf("update device %d: %w", id, err)
	}
	return &device, nil
}

// EnsureSite finds a site by name or creates it.
func (c *Client) EnsureSite(ctx context.Context, name string) (int, error) {
	slug := SlugFromName(name)
	path := "/api/dcim/sites/?slug=" + slug
	var resp ListResponse[NBSite]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("list sites: %w", err)
	}
	if resp.Count > 0 {
		return resp.Results[0].ID, nil
	}

	body := map[string]string{"name": name, "slug": slug, "status": "active"}
	var created NBSite
	if err := c.doJSON(ctx, http.MethodPost, "/api/dcim/sites/", body, &created); err != nil {
		return 0, fmt.Errorf("create site %q: %w", name, err)
	}
	return created.ID, nil
}

// EnsureManufacturer finds a manufacturer by name or creates it.
func (c *Client) EnsureManufacturer(ctx context.Context, name string) (int, error) {
	slug := SlugFromName(name)
	path := "/api/dcim/manufacturers/?slug=" + slug
	var resp ListResponse[NBManufacturer]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("list manufacturers: %w", err)
	}
	if resp.Count > 0 {
		return resp.Results[0].ID, nil
	}

	body := map[string]string{"name": name, "slug": slug}
	var created NBManufacturer
	if err := c.doJSON(ctx, http.MethodPost, "/api/dcim/manufacturers/", body, &created); err != nil {
		return 0, fmt.Errorf("create manufacturer %q: %w", name, err)
	}
	return created.ID, nil
}

// EnsureDeviceType finds a device type by manufacturer and model or creates it.
func (c *Client) EnsureDeviceType(ctx context.Context, manufacturerID int, model string) (int, error) {
	slug := SlugFromName(model)
	path := fmt.Sprintf("/api/dcim/device-types/?manufacturer_id=%d&slug=%s", manufacturerID, slug)
	var resp ListResponse[NBDeviceType]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("list device types: %w", err)
	}
	if resp.Count > 0 {
		return resp.Results[0].ID, nil
	}

	body := map[string]interface{}{
		"manufacturer": manufacturerID,
		"model":        model,
		"slug":         slug,
	}
	var created NBDeviceType
	if err := c.doJSON(ctx, http.MethodPost, "/api/dcim/device-types/", body, &created); err != nil {
		return 0, fmt.Errorf("create device type %q: %w", model, err)
	}
	return created.ID, nil
}

// EnsureDeviceRole finds a device role by name or creates it.
func (c *Client) EnsureDeviceRole(ctx context.Context, name string) (int, error) {
	slug := SlugFromName(name)
	path := "/api/dcim/device-roles/?slug=" + slug
	var resp ListResponse[NBDeviceRole]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("list device roles: %w", err)
	}
	if resp.Count > 0 {
		return resp.Results[0].ID, nil
	}

	body := map[string]string{"name": name, "slug": slug, "color": "9e9e9e"}
	var created NBDeviceRole
	if err := c.doJSON(ctx, http.MethodPost, "/api/dcim/device-roles/", body, &created); err != nil {
		return 0, fmt.Errorf("create device role %q: %w", name, err)
	}
	return created.ID, nil
}

// CreatePrimaryIP creates a management interface and IP address on a device
// and marks the address as the device's primary IPv4.
func (c *Client) CreatePrimaryIP(ctx context.Context, deviceID int, address string) (*NBIPAddress, error) {
	ifaceReq := NBInterfaceCreateRequest{
		Device: deviceID,
		Name:   "mgmt0",
		Type:   "other",
	}
	var iface NBInterface
	if err := c.doJSON(ctx, http.MethodPost, "/api/dcim/interfaces/", ifaceReq, &iface); err != nil {
		return nil, fmt.Errorf("create interface: %w", err)
	}

	if !strings.Contains(address, "/") {
		address += "/32"
	}
	ipReq := NBIPAddressCreateRequest{
		Address:            address,
		Status:             "active",
		AssignedObjectType: "dcim.interface",
		AssignedObjectID:   iface.ID,
	}
	var ip NBIPAddress
	if err := c.doJSON(ctx, http.MethodPost, "/api/ipam/ip-addresses/", ipReq, &ip); err != nil {
		return nil, fmt.Errorf("create ip address: %w", err)
	}

	patch := map[string]int{"primary_ip4": ip.ID}
	path := fmt.Sprintf("/api/dcim/devices/%d/", deviceID)
	if err := c.doJSON(ctx, http.MethodPatch, path, patch, nil); err != nil {
		return nil, fmt.Errorf("set primary ip: %w", err)
	}
	return &ip, nil
}

// slugRegexp matches characters that are not alphanumeric or hyphens.
var slugRegexp = regexp.MustCompile(`[^a-z0-9-]+`)

// SlugFromName converts a human-readable name to a NetBox-compatible slug.
// Lowercases, replaces spaces/special chars with hyphens, and trims edges.
func SlugFromName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = slugRegexp.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// doJSON performs an HTTP request with JSON serialization/deserialization.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %w", method, path, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
