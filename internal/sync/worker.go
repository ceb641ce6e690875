package sync

import (
	"context"
	stdsync "sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/nbtools/wugsync/internal/netbox"
)

// ProbePinger checks address reachability with a single unprivileged
// ICMP echo.
type ProbePinger struct{}

func (ProbePinger) Reachable(ctx context.Context, address string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)
	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// runner owns the background schedule for one connection. Its mutex
// serializes all passes for that connection, scheduled and manual alike.
type runner struct {
	mu     stdsync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts and stops per-connection schedulers and funnels every
// pass through a per-connection lock.
type Manager struct {
	engine *Engine
	store  *Store
	cfg    Config
	logger *zap.Logger

	mu      stdsync.Mutex
	runners map[string]*runner
	wg      stdsync.WaitGroup
}

// NewManager creates a scheduler manager.
func NewManager(engine *Engine, store *Store, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		engine:  engine,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		runners: make(map[string]*runner),
	}
}

func (m *Manager) runnerFor(connID string) *runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[connID]
	if !ok {
		r = &runner{}
		m.runners[connID] = r
	}
	return r
}

// StartAll launches schedulers for every active connection.
func (m *Manager) StartAll(ctx context.Context) error {
	conns, err := m.store.ListActiveConnections(ctx)
	if err != nil {
		return err
	}
	for i := range conns {
		m.StartConnection(ctx, conns[i])
	}
	return nil
}

// StartConnection launches a background scheduler for one connection.
// An already-running scheduler for the same connection is stopped first.
func (m *Manager) StartConnection(ctx context.Context, conn Connection) {
	m.StopConnection(conn.ID)

	r := m.runnerFor(conn.ID)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	r.cancel = cancel
	r.done = done
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		m.schedule(runCtx, r, conn)
	}()
	m.logger.Info("Started connection scheduler",
		zap.String("connection", conn.Name),
		zap.Duration("import_interval", m.importInterval(conn)),
		zap.Bool("export", conn.EnableExport))
}

// StopConnection cancels a connection's scheduler and waits for the
// in-flight pass to wind down.
func (m *Manager) StopConnection(connID string) {
	m.mu.Lock()
	r, ok := m.runners[connID]
	var cancel context.CancelFunc
	var done chan struct{}
	if ok {
		cancel = r.cancel
		done = r.done
		r.cancel = nil
		r.done = nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// StopAll cancels every scheduler and waits for them to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.StopConnection(id)
	}
	m.wg.Wait()
}

func (m *Manager) importInterval(conn Connection) time.Duration {
	if conn.ImportInterval > 0 {
		return conn.ImportInterval
	}
	return m.cfg.SyncInterval
}

func (m *Manager) exportInterval(conn Connection) time.Duration {
	if conn.ExportInterval > 0 {
		return conn.ExportInterval
	}
	return m.cfg.ExportInterval
}

func (m *Manager) schedule(ctx context.Context, r *runner, conn Connection) {
	importTicker := time.NewTicker(m.importInterval(conn))
	defer importTicker.Stop()

	var exportC, pollC <-chan time.Time
	if conn.EnableExport {
		exportTicker := time.NewTicker(m.exportInterval(conn))
		defer exportTicker.Stop()
		pollTicker := time.NewTicker(m.cfg.ScanPollInterval)
		defer pollTicker.Stop()
		exportC = exportTicker.C
		pollC = pollTicker.C
	}

	// First import runs immediately so a new connection populates the
	// registry without waiting a full interval.
	m.runScheduledImport(ctx, r, conn.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-importTicker.C:
			m.runScheduledImport(ctx, r, conn.ID)
		case <-exportC:
			m.runScheduledExport(ctx, r, conn.ID)
		case <-pollC:
			m.runScheduledPoll(ctx, r, conn.ID)
		}
	}
}

// freshConn re-reads the connection so interval or credential edits made
// since scheduler start are honored on the next tick.
func (m *Manager) freshConn(ctx context.Context, connID string) *Connection {
	conn, err := m.store.GetConnection(ctx, connID)
	if err != nil {
		m.logger.Error("Failed to load connection", zap.String("id", connID), zap.Error(err))
		return nil
	}
	if conn == nil || !conn.Active {
		return nil
	}
	return conn
}

func (m *Manager) runScheduledImport(ctx context.Context, r *runner, connID string) {
	conn := m.freshConn(ctx, connID)
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := m.engine.RunImportPass(ctx, conn, TriggerScheduled, ""); err != nil && ctx.Err() == nil {
		m.logger.Error("Scheduled import pass failed",
			zap.String("connection", conn.Name), zap.Error(err))
	}
}

func (m *Manager) runScheduledExport(ctx context.Context, r *runner, connID string) {
	conn := m.freshConn(ctx, connID)
	if conn == nil || !conn.EnableExport {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := m.engine.RunExportPass(ctx, conn, TriggerScheduled, nil); err != nil && ctx.Err() == nil {
		m.logger.Error("Scheduled export pass failed",
			zap.String("connection", conn.Name), zap.Error(err))
	}
}

func (m *Manager) runScheduledPoll(ctx context.Context, r *runner, connID string) {
	conn := m.freshConn(ctx, connID)
	if conn == nil || !conn.EnableExport {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := m.engine.RunScanPoll(ctx, conn); err != nil && ctx.Err() == nil {
		m.logger.Error("Scheduled scan poll failed",
			zap.String("connection", conn.Name), zap.Error(err))
	}
}

// RunImport triggers an import pass, serialized with the scheduler.
// remoteID narrows the pass to a single monitor device when non-empty.
func (m *Manager) RunImport(ctx context.Context, conn *Connection, trig Trigger, remoteID string) (*SyncLog, error) {
	r := m.runnerFor(conn.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.engine.RunImportPass(ctx, conn, trig, remoteID)
}

// RunExport triggers an export pass, serialized with the scheduler.
func (m *Manager) RunExport(ctx context.Context, conn *Connection, trig Trigger, devices []netbox.NBDevice) (*SyncLog, error) {
	r := m.runnerFor(conn.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.engine.RunExportPass(ctx, conn, trig, devices)
}

// RunPoll triggers a scan poll pass, serialized with the scheduler.
func (m *Manager) RunPoll(ctx context.Context, conn *Connection) (*SyncLog, error) {
	r := m.runnerFor(conn.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.engine.RunScanPoll(ctx, conn)
}

// RemoveDevice runs the reactive removal path, serialized with the
// scheduler.
func (m *Manager) RemoveDevice(ctx context.Context, conn *Connection, registryID int) error {
	r := m.runnerFor(conn.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.engine.RemoveLinkedDevice(ctx, conn, registryID)
}
