package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nbtools/wugsync/internal/netbox"
	"github.com/nbtools/wugsync/internal/wug"
	"github.com/nbtools/wugsync/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Module is the reconciliation module. It owns connections, device links,
// export records and sync logs, and drives both sync directions.
type Module struct {
	cfg     Config
	logger  *zap.Logger
	bus     plugin.EventBus
	store   *Store
	engine  *Engine
	manager *Manager
	runCtx  context.Context
	cancel  context.CancelFunc
}

// New creates a new sync module instance.
func New() *Module {
	return &Module{}
}

// Info returns the module metadata.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "sync",
		Version:      "0.1.0",
		Description:  "NetBox / WhatsUp Gold device reconciliation",
		Dependencies: []string{"netbox"},
		Required:     true,
		APIVersion:   plugin.APIVersionCurrent,
	}
}

// Init initializes the module with its dependencies. Without a store or a
// configured netbox module the module stays inert: routes answer 503 and
// the scheduler never starts.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.cfg = DefaultConfig()

	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			m.logger.Warn("failed to unmarshal sync config, using defaults", zap.Error(err))
		}
	}

	if deps.Store == nil {
		m.logger.Warn("no store available, sync module inactive")
		return nil
	}
	if err := deps.Store.Migrate(ctx, "sync", migrations()); err != nil {
		return fmt.Errorf("sync migrations: %w", err)
	}
	m.store = NewStore(deps.Store.DB())

	var registry RegistryClient
	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("netbox"); ok {
			if nb, ok := p.(*netbox.Module); ok && nb.Client() != nil {
				registry = nb.Client()
			}
		}
	}
	if registry == nil {
		m.logger.Warn("netbox client not configured, sync module inactive")
		return nil
	}

	m.engine = NewEngine(m.store, registry, m.remoteFactory(), ProbePinger{}, m.cfg, m.logger)
	m.manager = NewManager(m.engine, m.store, m.cfg, m.logger)
	return nil
}

// remoteFactory builds a monitor client from a connection's stored
// credentials plus module-level tuning.
func (m *Module) remoteFactory() RemoteFactory {
	return func(conn *Connection) RemoteClient {
		return wug.NewClient(wug.Config{
			Host:                  conn.Host,
			Port:                  conn.Port,
			UseSSL:                conn.UseSSL,
			VerifyTLS:             conn.VerifySSL,
			Username:              conn.Username,
			Password:              conn.Password,
			Timeout:               m.cfg.WUGTimeout,
			RateLimit:             m.cfg.WUGRateLimit,
			RateBurst:             m.cfg.WUGRateBurst,
			NeedsDiscoverySignals: m.cfg.NeedsDiscoverySignals,
		}, m.logger.Named("wug"))
	}
}

func (m *Module) ready() bool {
	return m.store != nil && m.manager != nil
}

// schedulerContext is the lifetime context for connection schedulers
// started outside Start, e.g. by a configuration edit.
func (m *Module) schedulerContext() context.Context {
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

// Start launches the per-connection schedulers.
func (m *Module) Start(ctx context.Context) error {
	if !m.ready() {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.runCtx = runCtx
	m.cancel = cancel
	if err := m.manager.StartAll(runCtx); err != nil {
		return fmt.Errorf("start schedulers: %w", err)
	}
	return nil
}

// Stop cancels the schedulers and waits for in-flight passes.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.manager != nil {
		m.manager.StopAll()
	}
	return nil
}

// Health reports module readiness and connection counts.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if !m.ready() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "sync engine not configured",
		}
	}
	conns, err := m.store.ListConnections(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	active := 0
	for _, c := range conns {
		if c.Active {
			active++
		}
	}
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"connections":        fmt.Sprintf("%d", len(conns)),
			"active_connections": fmt.Sprintf("%d", active),
		},
	}
}

// Subscriptions declares the registry change topics this module consumes.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: TopicDeviceSaved, Handler: m.onDeviceSaved},
		{Topic: TopicDeviceDeleted, Handler: m.onDeviceDeleted},
	}
}

func (m *Module) onDeviceSaved(ctx context.Context, ev plugin.Event) {
	payload, ok := ev.Payload.(DeviceEvent)
	if !ok {
		return
	}
	m.handleDeviceSaved(ctx, payload.Device, payload.PrevStatus)
}

func (m *Module) onDeviceDeleted(ctx context.Context, ev plugin.Event) {
	payload, ok := ev.Payload.(DeviceEvent)
	if !ok {
		return
	}
	m.handleDeviceDeleted(ctx, payload.Device)
}

// handleDeviceSaved reacts to a registry device save. Failures are logged
// and recorded but never propagate: the registry's write path must not be
// disturbed by monitor-side trouble.
func (m *Module) handleDeviceSaved(ctx context.Context, dev netbox.NBDevice, prevStatus string) {
	defer m.recoverSignal("device saved")
	if !m.ready() {
		return
	}
	conns, err := m.store.ListActiveConnections(ctx)
	if err != nil {
		m.logger.Error("Failed to list connections for device event", zap.Error(err))
		return
	}
	status := ""
	if dev.Status != nil {
		status = dev.Status.Value
	}
	for i := range conns {
		conn := &conns[i]
		if prevStatus == "active" && status != "active" {
			if err := m.manager.RemoveDevice(ctx, conn, dev.ID); err != nil {
				m.recordSignalFailure(ctx, conn, DirectionImport, err)
			}
			continue
		}
		if status == "active" && conn.EnableExport && primaryAddress(dev) != "" {
			if _, err := m.manager.RunExport(ctx, conn, TriggerSignal, []netbox.NBDevice{dev}); err != nil {
				m.logger.Warn("Reactive export failed",
					zap.String("connection", conn.Name),
					zap.String("device", dev.Name),
					zap.Error(err))
			}
		}
	}
}

// handleDeviceDeleted removes the monitor counterpart of a deleted
// registry device on every active connection.
func (m *Module) handleDeviceDeleted(ctx context.Context, dev netbox.NBDevice) {
	defer m.recoverSignal("device deleted")
	if !m.ready() {
		return
	}
	conns, err := m.store.ListActiveConnections(ctx)
	if err != nil {
		m.logger.Error("Failed to list connections for device event", zap.Error(err))
		return
	}
	for i := range conns {
		conn := &conns[i]
		if err := m.manager.RemoveDevice(ctx, conn, dev.ID); err != nil {
			m.recordSignalFailure(ctx, conn, DirectionImport, err)
		}
	}
}

func (m *Module) recoverSignal(what string) {
	if r := recover(); r != nil {
		m.logger.Error("Panic in change notification handler",
			zap.String("event", what),
			zap.Any("panic", r))
	}
}

func (m *Module) recordSignalFailure(ctx context.Context, conn *Connection, dir Direction, cause error) {
	m.logger.Warn("Change notification handling failed",
		zap.String("connection", conn.Name),
		zap.Error(cause))
	now := time.Now().UTC()
	if err := m.store.InsertLog(ctx, &SyncLog{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		Direction:    dir,
		Trigger:      TriggerSignal,
		Status:       LogFailed,
		Failed:       1,
		Detail:       cause.Error(),
		StartedAt:    now,
		EndedAt:      now,
	}); err != nil {
		m.logger.Error("Failed to record sync log", zap.Error(err))
	}
}
