package wug

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

// tokenHandler serves the standard auth endpoint on the given mux.
func tokenHandler(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "admin" || creds["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	})
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	c := NewClient(Config{
		Host:                  u.Hostname(),
		Port:                  port,
		Username:              "admin",
		Password:              "secret",
		Timeout:               5 * time.Second,
		MaxRetryElapsed:       2 * time.Second,
		NeedsDiscoverySignals: []string{"not in discovery"},
	}, zap.NewNop())
	return c, ts
}

func TestClient_ListDevices(t *testing.T) {
	mux := http.NewServeMux()
	tokenHandler(mux)
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"devices": []map[string]any{
				{"id": 42, "name": "core-sw-01", "ip_address": "10.0.0.1", "status": "Up", "vendor": "Cisco"},
				{"id": "43", "name": "edge-fw-01", "address": "10.0.0.2", "status": "Down"},
			},
		})
	})

	c, _ := newTestClient(t, mux)
	devices, err := c.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].ID != "42" || devices[0].Address != "10.0.0.1" {
		t.Errorf("device[0] = %+v", devices[0])
	}
	if devices[1].ID != "43" || devices[1].Address != "10.0.0.2" {
		t.Errorf("device[1] = %+v", devices[1])
	}
}

func TestClient_ListDevices_BareArray(t *testing.T) {
	mux := http.NewServeMux()
	tokenHandler(mux)
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "name": "sw1", "ip_address": "192.0.2.1", "status": "Up"},
		})
	})

	c, _ := newTestClient(t, mux)
	devices, err := c.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "sw1" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestClient_ReauthOn401(t *testing.T) {
	var tokens int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/token", func(w http.ResponseWriter, r *http.Request) {
		tokens++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + strconv.Itoa(tokens),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("GET /api/devices/7", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			// Expired on the server side.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": "r1", "ip_address": "10.1.1.1", "status": "Up"})
	})

	c, _ := newTestClient(t, mux)
	dev, err := c.GetDevice(context.Background(), "7")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if dev.Name != "r1" {
		t.Errorf("device = %+v", dev)
	}
	if tokens != 2 {
		t.Errorf("authenticated %d times, want 2", tokens)
	}
}

func TestClient_CreateDevice(t *testing.T) {
	mux := http.NewServeMux()
	tokenHandler(mux)
	mux.HandleFunc("POST /api/devices/add-by-ip", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["ip_address"] != "10.0.0.50" {
			t.Errorf("ip_address = %v", payload["ip_address"])
		}
		if payload["discovery_method"] != "ip" {
			t.Errorf("discovery_method = %v", payload["discovery_method"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"device_id": 99})
	})

	c, _ := newTestClient(t, mux)
	id, err := c.CreateDevice(context.Background(), DeviceConfig{
		Name:    "netbox-dev",
		Address: "10.0.0.50",
	})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if id != "99" {
		t.Errorf("id = %q, want 99", id)
	}
}

func TestClient_CreateDevice_NeedsDiscovery(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"422 always", http.StatusUnprocessableEntity, `{"error":"validation"}`, true},
		{"signal match", http.StatusBadRequest, `{"error":"device not in discovery database"}`, true},
		{"plain 400", http.StatusBadRequest, `{"error":"bad ip format"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			tokenHandler(mux)
			mux.HandleFunc("POST /api/devices/add-by-ip", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			c, _ := newTestClient(t, mux)
			_, err := c.CreateDevice(context.Background(), DeviceConfig{Name: "d", Address: "10.0.0.1"})
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrNeedsDiscovery); got != tt.want {
				t.Errorf("errors.Is(err, ErrNeedsDiscovery) = %v, want %v (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestClient_RetriesTransient(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	tokenHandler(mux)
	mux.HandleFunc("GET /api/devices/1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "name": "sw1", "ip_address": "192.0.2.1", "status": "Up"})
	})

	c, _ := newTestClient(t, mux)
	dev, err := c.GetDevice(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetDevice after retry: %v", err)
	}
	if dev.Name != "sw1" || calls < 2 {
		t.Errorf("device = %+v after %d calls", dev, calls)
	}
}

func TestClient_DoesNotRetryFatal(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	tokenHandler(mux)
	mux.HandleFunc("GET /api/devices/1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	c, _ := newTestClient(t, mux)
	_, err := c.GetDevice(context.Background(), "1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 APIError", err)
	}
	if calls != 1 {
		t.Errorf("called %d times, want 1", calls)
	}
}

func TestClient_ScanLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	tokenHandler(mux)
	mux.HandleFunc("POST /api/scan/ip", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["scan_type"] != "discovery" {
			t.Errorf("scan_type = %q", payload["scan_type"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"scan_id": "scan-7"})
	})
	mux.HandleFunc("GET /api/scan/scan-7/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "completed", "device_id": 314})
	})

	c, _ := newTestClient(t, mux)

	scanID, err := c.ScanAddress(context.Background(), "10.0.0.60")
	if err != nil {
		t.Fatalf("ScanAddress: %v", err)
	}
	if scanID != "scan-7" {
		t.Fatalf("scanID = %q", scanID)
	}

	st, err := c.GetScanStatus(context.Background(), scanID)
	if err != nil {
		t.Fatalf("GetScanStatus: %v", err)
	}
	if st.State != ScanCompleted || st.DeviceID != "314" {
		t.Errorf("status = %+v", st)
	}
}

func TestClient_ScanStatusStates(t *testing.T) {
	tests := []struct {
		wire string
		want ScanState
	}{
		{"running", ScanRunning},
		{"in_progress", ScanRunning},
		{"pending", ScanRunning},
		{"completed", ScanCompleted},
		{"finished", ScanCompleted},
		{"failed", ScanFailed},
		{"error", ScanFailed},
		{"something-new", ScanRunning},
	}
	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			mux := http.NewServeMux()
			tokenHandler(mux)
			mux.HandleFunc("GET /api/scan/s1/status", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"status": tt.wire})
			})

			c, _ := newTestClient(t, mux)
			st, err := c.GetScanStatus(context.Background(), "s1")
			if err != nil {
				t.Fatalf("GetScanStatus: %v", err)
			}
			if st.State != tt.want {
				t.Errorf("state = %q, want %q", st.State, tt.want)
			}
		})
	}
}

func TestClient_UpdateDeviceMetadata(t *testing.T) {
	mux := http.NewServeMux()
	tokenHandler(mux)
	var got map[string]any
	mux.HandleFunc("PUT /api/devices/12/metadata", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	c, _ := newTestClient(t, mux)
	err := c.UpdateDeviceMetadata(context.Background(), "12", Metadata{
		Name:        "core-sw-01",
		Site:        "dc1",
		Serial:      "SN123",
		Description: "core switch",
	})
	if err != nil {
		t.Fatalf("UpdateDeviceMetadata: %v", err)
	}

	if got["metadata_source"] != "NetBox" {
		t.Errorf("metadata_source = %v", got["metadata_source"])
	}
	fields, _ := got["custom_fields"].(map[string]any)
	if fields["netbox_device_name"] != "core-sw-01" || fields["netbox_serial"] != "SN123" {
		t.Errorf("custom_fields = %v", fields)
	}
	if got["description"] != "NetBox: core switch" {
		t.Errorf("description = %v", got["description"])
	}
}

func TestClient_TestConnection(t *testing.T) {
	mux := http.NewServeMux()
	tokenHandler(mux)
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "name": "a", "ip_address": "10.0.0.1", "status": "Up"},
			{"id": 2, "name": "b", "ip_address": "10.0.0.2", "status": "Up"},
		})
	})

	c, _ := newTestClient(t, mux)
	n, err := c.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if n != 2 {
		t.Errorf("device count = %d, want 2", n)
	}
}
