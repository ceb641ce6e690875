package netbox

import (
	"context"

	"github.com/nbtools/wugsync/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module wraps the NetBox client as a registry module so dependents can
// resolve it by name.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *Client
}

// New creates a new NetBox module instance.
func New() *Module {
	return &Module{}
}

// Client returns the configured API client, or nil when the module is
// unconfigured.
func (m *Module) Client() *Client {
	return m.client
}

// Info returns the module metadata.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "netbox",
		Version:     "0.1.0",
		Description: "NetBox inventory API access",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init initializes the module with its dependencies.
func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()

	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			m.logger.Warn("failed to unmarshal netbox config, using defaults", zap.Error(err))
		}
	}

	if m.cfg.URL != "" && m.cfg.Token != "" {
		m.client = NewClient(m.cfg.URL, m.cfg.Token, m.cfg.Timeout)
		m.client.SetPageSize(m.cfg.PageSize)
		m.logger.Info("netbox client configured", zap.String("url", m.cfg.URL))
	} else {
		m.logger.Warn("netbox module unconfigured (url or token missing)")
	}

	return nil
}

// Start begins the module's operations. The client is stateless and
// on-demand, so there is nothing to start.
func (m *Module) Start(_ context.Context) error {
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	return nil
}

// Health implements plugin.HealthChecker by probing the API root.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.client == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "netbox not configured"}
	}
	if _, err := m.client.ListDevices(ctx, DeviceFilter{Name: "__health__"}); err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	return plugin.HealthStatus{Status: "healthy"}
}
