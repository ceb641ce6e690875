package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nbtools/wugsync/pkg/plugin"
	"go.uber.org/zap"
)

type stubPlugin struct {
	info plugin.PluginInfo
}

func (p *stubPlugin) Info() plugin.PluginInfo                       { return p.info }
func (p *stubPlugin) Init(_ context.Context, _ plugin.Dependencies) error { return nil }
func (p *stubPlugin) Start(_ context.Context) error                 { return nil }
func (p *stubPlugin) Stop(_ context.Context) error                  { return nil }

type stubSource struct {
	routes  map[string][]plugin.Route
	plugins []plugin.Plugin
}

func (s *stubSource) AllRoutes() map[string][]plugin.Route { return s.routes }
func (s *stubSource) All() []plugin.Plugin                 { return s.plugins }

func newTestServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	src := &stubSource{
		routes: map[string][]plugin.Route{
			"sync": {
				{Method: "GET", Path: "/status", Handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte(`{"ok":true}`))
				}},
			},
		},
		plugins: []plugin.Plugin{
			&stubPlugin{info: plugin.PluginInfo{Name: "sync", Version: "0.1.0", Description: "inventory reconciliation"}},
		},
	}
	return New("127.0.0.1:0", src, zap.NewNop(), ready)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("status = %q, want alive", body["status"])
	}
}

func TestServer_Readyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		s := newTestServer(t, func(context.Context) error { return nil })
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("not ready", func(t *testing.T) {
		s := newTestServer(t, func(context.Context) error { return errors.New("db unavailable") })
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != "wugsync" {
		t.Errorf("service = %q, want wugsync", body.Service)
	}
}

func TestServer_Plugins(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil))

	var body []PluginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body[0].Name != "sync" {
		t.Errorf("plugins = %+v, want one entry named sync", body)
	}
}

func TestServer_MountsPluginRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Wugsync-Version") == "" {
		t.Error("expected version header on plugin route")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	v, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := v.GetInt("server.port"); got != 8080 {
		t.Errorf("server.port = %d, want 8080", got)
	}
	if got := v.GetString("modules.sync.sync_interval"); got != "15m" {
		t.Errorf("modules.sync.sync_interval = %q, want 15m", got)
	}
	if got := v.GetString("logging.format"); got != "json" {
		t.Errorf("logging.format = %q, want json", got)
	}
}

func TestConfig_Addr(t *testing.T) {
	c := Config{Host: "127.0.0.1", Port: 9090}
	if got := c.Addr(); got != "127.0.0.1:9090" {
		t.Errorf("Addr() = %q", got)
	}
}
