package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nbtools/wugsync/internal/netbox"
	"github.com/nbtools/wugsync/internal/wug"
)

// RegistryClient is the registry-side surface the engine depends on.
// *netbox.Client satisfies it; tests substitute fakes.
type RegistryClient interface {
	ListDevices(ctx context.Context, filter netbox.DeviceFilter) ([]netbox.NBDevice, error)
	GetDevice(ctx context.Context, id int) (*netbox.NBDevice, error)
	FindDeviceByName(ctx context.Context, name string) (*netbox.NBDevice, error)
	CreateDevice(ctx context.Context, req netbox.NBDeviceCreateRequest) (*netbox.NBDevice, error)
	UpdateDevice(ctx context.Context, id int, req netbox.NBDeviceCreateRequest) (*netbox.NBDevice, error)
	EnsureSite(ctx context.Context, name string) (int, error)
	EnsureManufacturer(ctx context.Context, name string) (int, error)
	EnsureDeviceType(ctx context.Context, manufacturerID int, model string) (int, error)
	EnsureDeviceRole(ctx context.Context, name string) (int, error)
	CreatePrimaryIP(ctx context.Context, deviceID int, address string) (*netbox.NBIPAddress, error)
}

// RemoteClient is the monitor-side surface the engine depends on.
// *wug.Client satisfies it.
type RemoteClient interface {
	ListDevices(ctx context.Context) ([]wug.Device, error)
	GetDevice(ctx context.Context, id string) (wug.Device, error)
	CreateDevice(ctx context.Context, cfg wug.DeviceConfig) (string, error)
	UpdateDeviceMetadata(ctx context.Context, id string, md wug.Metadata) error
	DeleteDevice(ctx context.Context, id string) error
	ScanAddress(ctx context.Context, address string) (string, error)
	GetScanStatus(ctx context.Context, scanID string) (wug.ScanStatus, error)
	TestConnection(ctx context.Context) (int, error)
}

// RemoteFactory builds a monitor client for a connection. The engine calls
// it once per pass so credential edits take effect on the next run.
type RemoteFactory func(conn *Connection) RemoteClient

// Pinger checks reachability of an address before export. Satisfied by the
// pro-bing wrapper in worker.go; tests substitute stubs.
type Pinger interface {
	Reachable(ctx context.Context, address string, timeout time.Duration) bool
}

// Engine implements both reconciliation directions plus the scan poller.
// Callers must serialize passes per connection; the worker manager does so.
type Engine struct {
	store    *Store
	registry RegistryClient
	remotes  RemoteFactory
	pinger   Pinger
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(store *Store, registry RegistryClient, remotes RemoteFactory, pinger Pinger, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		remotes:  remotes,
		pinger:   pinger,
		cfg:      cfg,
		logger:   logger,
	}
}

type action int

const (
	actionCreated action = iota
	actionUpdated
	actionUnchanged
	actionSkipped
	actionRemoved
)

// counters accumulates per-pass results. notes collects human-readable
// warnings and errors for the SyncLog detail field.
type counters struct {
	created, updated, skipped, failed, unchanged int
	notes                                        []string
}

func (c *counters) count(a action) {
	switch a {
	case actionCreated:
		c.created++
	case actionUpdated:
		c.updated++
	case actionUnchanged:
		c.unchanged++
	case actionSkipped:
		c.skipped++
	case actionRemoved:
		// Removals share the updated counter in the log; the detail note
		// and the action metric keep them distinguishable.
		c.updated++
	}
}

func (c *counters) note(format string, args ...any) {
	if len(c.notes) < 50 {
		c.notes = append(c.notes, fmt.Sprintf(format, args...))
	}
}

func actionLabel(a action) string {
	switch a {
	case actionCreated:
		return "created"
	case actionUpdated:
		return "updated"
	case actionUnchanged:
		return "unchanged"
	case actionRemoved:
		return "removed"
	default:
		return "skipped"
	}
}

func (e *Engine) finishPass(ctx context.Context, conn *Connection, dir Direction, trig Trigger, status LogStatus, c *counters, start time.Time) *SyncLog {
	end := time.Now().UTC()
	log := &SyncLog{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		Direction:    dir,
		Trigger:      trig,
		Status:       status,
		Created:      c.created,
		Updated:      c.updated,
		Skipped:      c.skipped,
		Failed:       c.failed,
		Unchanged:    c.unchanged,
		Detail:       strings.Join(c.notes, "; "),
		StartedAt:    start,
		EndedAt:      end,
	}
	// Insert with a fresh context so a cancelled pass still leaves a log.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.InsertLog(logCtx, log); err != nil {
		e.logger.Error("Failed to record sync log",
			zap.String("connection", conn.Name), zap.Error(err))
	}
	passesTotal.WithLabelValues(string(dir), string(status)).Inc()
	passDuration.WithLabelValues(string(dir)).Observe(end.Sub(start).Seconds())
	return log
}

// RunImportPass reconciles monitor-side devices into the registry. With a
// non-empty remoteID only that device is processed; otherwise the full
// device list is fetched from the monitor.
func (e *Engine) RunImportPass(ctx context.Context, conn *Connection, trig Trigger, remoteID string) (*SyncLog, error) {
	start := time.Now().UTC()
	var c counters
	remote := e.remotes(conn)

	var devices []wug.Device
	if remoteID != "" {
		d, err := remote.GetDevice(ctx, remoteID)
		if err != nil {
			c.note("fetch device %s: %v", remoteID, err)
			return e.finishPass(ctx, conn, DirectionImport, trig, LogFailed, &c, start), err
		}
		devices = []wug.Device{d}
	} else {
		var err error
		devices, err = remote.ListDevices(ctx)
		if err != nil {
			c.note("list devices: %v", err)
			return e.finishPass(ctx, conn, DirectionImport, trig, LogFailed, &c, start), err
		}
	}

	usedNames := make(map[string]string, len(devices))
	for _, d := range devices {
		if ctx.Err() != nil {
			c.note("cancelled after %d devices", c.created+c.updated+c.unchanged+c.skipped+c.failed)
			return e.finishPass(ctx, conn, DirectionImport, trig, LogCancelled, &c, start), ctx.Err()
		}
		act, err := e.importDevice(ctx, conn, remote, d, usedNames, &c)
		if err != nil {
			kind := Classify(err)
			c.failed++
			c.note("device %s (%s): %v [%s]", d.Name, d.ID, err, kind)
			deviceActionsTotal.WithLabelValues(string(DirectionImport), "failed").Inc()
			deviceFailuresTotal.WithLabelValues(string(DirectionImport), kind.String()).Inc()
			e.logger.Warn("Import failed for device",
				zap.String("connection", conn.Name),
				zap.String("remote_id", d.ID),
				zap.String("device", d.Name),
				zap.String("kind", kind.String()),
				zap.Error(err))
			continue
		}
		c.count(act)
		deviceActionsTotal.WithLabelValues(string(DirectionImport), actionLabel(act)).Inc()
	}

	log := e.finishPass(ctx, conn, DirectionImport, trig, LogCompleted, &c, start)
	if err := e.store.TouchLastSync(ctx, conn.ID, log.EndedAt); err != nil {
		e.logger.Error("Failed to update last sync time",
			zap.String("connection", conn.Name), zap.Error(err))
	}
	e.logger.Info("Import pass finished",
		zap.String("connection", conn.Name),
		zap.Int("created", c.created),
		zap.Int("updated", c.updated),
		zap.Int("unchanged", c.unchanged),
		zap.Int("skipped", c.skipped),
		zap.Int("failed", c.failed))
	return log, nil
}

func (e *Engine) importDevice(ctx context.Context, conn *Connection, remote RemoteClient, d wug.Device, usedNames map[string]string, c *counters) (action, error) {
	attrs := MapDevice(d, e.cfg.DefaultSite)
	if attrs.Name == "" {
		c.note("device %s: name unusable after sanitization", d.ID)
		return actionSkipped, nil
	}
	if attrs.WarnUnmappedStatus {
		e.logger.Warn("Unmapped device status, falling back to offline",
			zap.String("connection", conn.Name),
			zap.String("device", d.Name),
			zap.String("remote_status", d.Status))
	}

	link, err := e.store.GetLinkByRemote(ctx, conn.ID, d.ID)
	if err != nil {
		return 0, err
	}
	if link != nil && !link.SyncEnabled {
		return actionSkipped, nil
	}

	// Resolve the linked registry record, tolerating its disappearance.
	var live *netbox.NBDevice
	if link != nil && link.RegistryID != nil {
		live, err = e.registry.GetDevice(ctx, *link.RegistryID)
		if err != nil {
			var apiErr *netbox.APIError
			if errors.As(err, &apiErr) && apiErr.NotFound() {
				live = nil
			} else {
				e.setLinkError(ctx, link, err)
				return 0, err
			}
		}
	}

	if live == nil {
		// No resolvable link. A same-named registry device is either a
		// re-sync of a device we created earlier or an ambiguous collision.
		candidate, err := e.registry.FindDeviceByName(ctx, attrs.Name)
		if err != nil {
			return 0, err
		}
		if candidate != nil {
			candLink, err := e.store.GetLinkByRegistry(ctx, conn.ID, candidate.ID)
			if err != nil {
				return 0, err
			}
			if candLink == nil || candLink.RemoteID != d.ID {
				conflict := fmt.Errorf("%w: %q held by registry device %d, wanted by remote %s",
					ErrConflict, attrs.Name, candidate.ID, d.ID)
				e.logger.Warn("Name collision, skipping device",
					zap.String("connection", conn.Name),
					zap.String("name", attrs.Name),
					zap.String("remote_id", d.ID),
					zap.Int("registry_id", candidate.ID))
				c.note("%v [%s]", conflict, Classify(conflict))
				return actionSkipped, nil
			}
			live = candidate
			link = candLink
		}
	}

	if live == nil {
		name, ok := dedupeName(attrs.Name, d.ID, usedNames)
		if !ok {
			c.note("could not find free name for %q (remote %s)", attrs.Name, d.ID)
			return actionSkipped, nil
		}
		attrs.Name = name
		return e.createRegistryDevice(ctx, conn, d, attrs, link)
	}
	usedNames[attrs.Name] = d.ID

	// An operator-set non-active status means the device should no longer
	// be monitored. The link snapshot holds the status this engine last
	// wrote, so a registry status that differs from it was set by hand.
	// A device recovering from Down still carries the engine-written
	// "failed" and must not trip this.
	liveStatus := ""
	if live.Status != nil {
		liveStatus = live.Status.Value
	}
	lastWritten := ""
	if link != nil {
		lastWritten = snapshotStatus(link.Snapshot)
	}
	if liveStatus != "active" && liveStatus != lastWritten {
		if err := e.removeRemote(ctx, conn, remote, d.ID, link); err != nil {
			return 0, err
		}
		e.logger.Info("Removed remote device after registry status change",
			zap.String("connection", conn.Name),
			zap.String("device", attrs.Name),
			zap.String("registry_status", liveStatus))
		c.note("removed remote device %s: registry status %q", d.ID, liveStatus)
		return actionRemoved, nil
	}

	return e.updateRegistryDevice(ctx, conn, d, attrs, live, link)
}

// dedupeName resolves sanitization collisions inside one pass by suffixing
// -2, -3 and so on. Names already claimed by the same remote device pass
// through unchanged.
func dedupeName(name, remoteID string, used map[string]string) (string, bool) {
	if owner, taken := used[name]; !taken || owner == remoteID {
		used[name] = remoteID
		return name, true
	}
	for i := 2; i <= 99; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if len(candidate) > maxDeviceNameLen {
			candidate = fmt.Sprintf("%s-%d", name[:maxDeviceNameLen-len(fmt.Sprintf("-%d", i))], i)
		}
		if _, taken := used[candidate]; !taken {
			used[candidate] = remoteID
			return candidate, true
		}
	}
	return "", false
}

func (e *Engine) createRegistryDevice(ctx context.Context, conn *Connection, d wug.Device, attrs RegistryAttrs, stale *DeviceLink) (action, error) {
	siteName := attrs.Site
	if !conn.AutoCreateSites {
		siteName = e.cfg.DefaultSite
	}
	siteID, err := e.registry.EnsureSite(ctx, siteName)
	if err != nil {
		return 0, fmt.Errorf("ensure site %q: %w", siteName, err)
	}
	mfrID, err := e.registry.EnsureManufacturer(ctx, attrs.Manufacturer)
	if err != nil {
		return 0, fmt.Errorf("ensure manufacturer %q: %w", attrs.Manufacturer, err)
	}
	model := attrs.Model
	if !conn.AutoCreateDeviceTypes {
		model = "Generic Device"
	}
	typeID, err := e.registry.EnsureDeviceType(ctx, mfrID, model)
	if err != nil {
		return 0, fmt.Errorf("ensure device type %q: %w", model, err)
	}
	roleID, err := e.registry.EnsureDeviceRole(ctx, e.cfg.DeviceRole)
	if err != nil {
		return 0, fmt.Errorf("ensure device role %q: %w", e.cfg.DeviceRole, err)
	}

	created, err := e.registry.CreateDevice(ctx, netbox.NBDeviceCreateRequest{
		Name:       attrs.Name,
		DeviceType: typeID,
		Role:       roleID,
		Site:       siteID,
		Status:     attrs.Status,
		Comments:   attrs.Comments,
		CustomFields: map[string]interface{}{
			"wug_device_id":  d.ID,
			"wug_connection": conn.Name,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("create registry device %q: %w", attrs.Name, err)
	}
	if attrs.Address != "" {
		if _, err := e.registry.CreatePrimaryIP(ctx, created.ID, attrs.Address); err != nil {
			return 0, fmt.Errorf("assign primary address %s: %w", attrs.Address, err)
		}
	}

	now := time.Now().UTC()
	registryID := created.ID
	if stale != nil {
		stale.RegistryID = &registryID
		stale.DeviceName = attrs.Name
		stale.Address = attrs.Address
		stale.LastSynced = &now
		stale.Snapshot = Snapshot(attrs)
		stale.SyncError = ""
		if err := e.store.UpdateLink(ctx, stale); err != nil {
			return 0, err
		}
	} else {
		if err := e.store.InsertLink(ctx, &DeviceLink{
			ID:           uuid.NewString(),
			ConnectionID: conn.ID,
			RemoteID:     d.ID,
			RegistryID:   &registryID,
			DeviceName:   attrs.Name,
			Address:      attrs.Address,
			SyncEnabled:  true,
			LastSynced:   &now,
			Snapshot:     Snapshot(attrs),
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return 0, err
		}
	}
	e.logger.Info("Created registry device",
		zap.String("connection", conn.Name),
		zap.String("device", attrs.Name),
		zap.Int("registry_id", created.ID))
	return actionCreated, nil
}

func (e *Engine) updateRegistryDevice(ctx context.Context, conn *Connection, d wug.Device, attrs RegistryAttrs, live *netbox.NBDevice, link *DeviceLink) (action, error) {
	now := time.Now().UTC()
	snap := Snapshot(attrs)
	if link != nil && link.Snapshot == snap {
		link.LastSynced = &now
		link.SyncError = ""
		if err := e.store.UpdateLink(ctx, link); err != nil {
			return 0, err
		}
		return actionUnchanged, nil
	}

	if _, err := e.registry.UpdateDevice(ctx, live.ID, netbox.NBDeviceCreateRequest{
		Name:     attrs.Name,
		Status:   attrs.Status,
		Comments: attrs.Comments,
		CustomFields: map[string]interface{}{
			"wug_device_id":  d.ID,
			"wug_connection": conn.Name,
		},
	}); err != nil {
		if link != nil {
			e.setLinkError(ctx, link, err)
		}
		return 0, fmt.Errorf("update registry device %q: %w", attrs.Name, err)
	}

	// The device PATCH cannot carry the primary IP; write an address
	// change (or a first-seen address) through the IP assignment path.
	if attrs.Address != "" && (link == nil || link.Address != attrs.Address) {
		if _, err := e.registry.CreatePrimaryIP(ctx, live.ID, attrs.Address); err != nil {
			if link != nil {
				e.setLinkError(ctx, link, err)
			}
			return 0, fmt.Errorf("assign primary address %s: %w", attrs.Address, err)
		}
	}

	registryID := live.ID
	if link == nil {
		link = &DeviceLink{
			ID:           uuid.NewString(),
			ConnectionID: conn.ID,
			RemoteID:     d.ID,
			SyncEnabled:  true,
			CreatedAt:    now,
		}
		link.RegistryID = &registryID
		link.DeviceName = attrs.Name
		link.Address = attrs.Address
		link.LastSynced = &now
		link.Snapshot = snap
		link.UpdatedAt = now
		return actionUpdated, e.store.InsertLink(ctx, link)
	}
	link.RegistryID = &registryID
	link.DeviceName = attrs.Name
	link.Address = attrs.Address
	link.LastSynced = &now
	link.Snapshot = snap
	link.SyncError = ""
	return actionUpdated, e.store.UpdateLink(ctx, link)
}

// removeRemote deletes the monitor-side device and its link. A missing
// remote device is treated as already removed.
func (e *Engine) removeRemote(ctx context.Context, conn *Connection, remote RemoteClient, remoteID string, link *DeviceLink) error {
	if err := remote.DeleteDevice(ctx, remoteID); err != nil {
		var apiErr *wug.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
			if link != nil {
				e.setLinkError(ctx, link, err)
			}
			return fmt.Errorf("delete remote device %s: %w", remoteID, err)
		}
	}
	if link != nil {
		return e.store.DeleteLink(ctx, link.ID)
	}
	return nil
}

// RemoveLinkedDevice handles the reactive removal path: a registry device
// left the active state, so its monitor counterpart is deleted.
func (e *Engine) RemoveLinkedDevice(ctx context.Context, conn *Connection, registryID int) error {
	link, err := e.store.GetLinkByRegistry(ctx, conn.ID, registryID)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}
	remote := e.remotes(conn)
	if err := e.removeRemote(ctx, conn, remote, link.RemoteID, link); err != nil {
		return err
	}
	e.logger.Info("Removed remote device",
		zap.String("connection", conn.Name),
		zap.String("remote_id", link.RemoteID),
		zap.Int("registry_id", registryID))
	return nil
}

func (e *Engine) setLinkError(ctx context.Context, link *DeviceLink, cause error) {
	link.SyncError = cause.Error()
	if err := e.store.UpdateLink(ctx, link); err != nil {
		e.logger.Error("Failed to record link error", zap.Error(err))
	}
}

// TestConnection verifies monitor credentials and returns the device count.
func (e *Engine) TestConnection(ctx context.Context, conn *Connection) (int, error) {
	return e.remotes(conn).TestConnection(ctx)
}
