package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nbtools/wugsync/internal/netbox"
	"github.com/nbtools/wugsync/internal/wug"
)

// RunExportPass pushes eligible registry devices to the monitor. With a
// non-nil devices slice only those are considered (reactive trigger);
// otherwise the full registry device list is fetched.
func (e *Engine) RunExportPass(ctx context.Context, conn *Connection, trig Trigger, devices []netbox.NBDevice) (*SyncLog, error) {
	start := time.Now().UTC()
	var c counters
	remote := e.remotes(conn)

	if devices == nil {
		var err error
		devices, err = e.registry.ListDevices(ctx, netbox.DeviceFilter{})
		if err != nil {
			c.note("list registry devices: %v", err)
			return e.finishPass(ctx, conn, DirectionExport, trig, LogFailed, &c, start), err
		}
	}

	for _, dev := range devices {
		if ctx.Err() != nil {
			c.note("cancelled after %d devices", c.created+c.updated+c.unchanged+c.skipped+c.failed)
			return e.finishPass(ctx, conn, DirectionExport, trig, LogCancelled, &c, start), ctx.Err()
		}
		act, err := e.exportDevice(ctx, conn, remote, dev, &c)
		if err != nil {
			kind := Classify(err)
			c.failed++
			c.note("export %s: %v [%s]", dev.Name, err, kind)
			deviceActionsTotal.WithLabelValues(string(DirectionExport), "failed").Inc()
			deviceFailuresTotal.WithLabelValues(string(DirectionExport), kind.String()).Inc()
			e.logger.Warn("Export failed for device",
				zap.String("connection", conn.Name),
				zap.String("device", dev.Name),
				zap.String("kind", kind.String()),
				zap.Error(err))
			continue
		}
		c.count(act)
		deviceActionsTotal.WithLabelValues(string(DirectionExport), actionLabel(act)).Inc()
	}

	log := e.finishPass(ctx, conn, DirectionExport, trig, LogCompleted, &c, start)
	if err := e.store.TouchLastExport(ctx, conn.ID, log.EndedAt); err != nil {
		e.logger.Error("Failed to update last export time",
			zap.String("connection", conn.Name), zap.Error(err))
	}
	e.logger.Info("Export pass finished",
		zap.String("connection", conn.Name),
		zap.Int("exported", c.created),
		zap.Int("scans_triggered", c.updated),
		zap.Int("skipped", c.skipped),
		zap.Int("failed", c.failed))
	return log, nil
}

// primaryAddress returns the device's monitoring address with any prefix
// length stripped, or "" when the device has no primary address.
func primaryAddress(dev netbox.NBDevice) string {
	if dev.PrimaryIP4 == nil {
		return ""
	}
	addr := dev.PrimaryIP4.Address
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

func (e *Engine) mapToRemote(conn *Connection, dev netbox.NBDevice, address string) wug.DeviceConfig {
	var desc []string
	if dev.DeviceType != nil {
		if dev.DeviceType.Manufacturer != nil {
			desc = append(desc, dev.DeviceType.Manufacturer.Name)
		}
		desc = append(desc, dev.DeviceType.Model)
	}
	location := ""
	if dev.Site != nil {
		location = dev.Site.Name
	}
	return wug.DeviceConfig{
		Name:          dev.Name,
		Address:       address,
		Group:         e.cfg.ExportGroup,
		Description:   strings.Join(desc, " "),
		Location:      location,
		Contact:       dev.Comments,
		SNMPCommunity: e.cfg.SNMPCommunity,
		SNMPVersion:   e.cfg.SNMPVersion,
	}
}

func (e *Engine) exportMetadataFor(dev netbox.NBDevice) wug.Metadata {
	site, role, devType, platform := "", "", "", ""
	if dev.Site != nil {
		site = dev.Site.Name
	}
	if dev.Role != nil {
		role = dev.Role.Name
	}
	if dev.DeviceType != nil {
		devType = dev.DeviceType.Model
	}
	if dev.Platform != nil {
		platform = dev.Platform.Name
	}
	return ExportMetadata(dev.Name, site, role, devType, platform, dev.Serial, dev.AssetTag)
}

// exportEligible gates the export direction: only active devices with a
// usable primary address leave the registry. Ineligible devices return a
// wrapped ErrNotExportable so callers can skip them silently.
func exportEligible(dev netbox.NBDevice) (string, error) {
	if dev.Status == nil || dev.Status.Value != "active" {
		return "", fmt.Errorf("%w: status not active", ErrNotExportable)
	}
	address := primaryAddress(dev)
	if address == "" {
		return "", fmt.Errorf("%w: no primary address", ErrNotExportable)
	}
	return address, nil
}

func (e *Engine) exportDevice(ctx context.Context, conn *Connection, remote RemoteClient, dev netbox.NBDevice, c *counters) (action, error) {
	// Ineligible devices are skipped without a record.
	address, err := exportEligible(dev)
	if err != nil {
		if Classify(err) == KindNotExportable {
			return actionSkipped, nil
		}
		return 0, err
	}

	// Devices the import direction already knows need no export.
	link, err := e.store.GetLinkByRegistry(ctx, conn.ID, dev.ID)
	if err != nil {
		return 0, err
	}
	if link != nil {
		return actionUnchanged, nil
	}
	latest, err := e.store.LatestExportForDevice(ctx, conn.ID, dev.ID)
	if err != nil {
		return 0, err
	}
	if latest != nil && latest.Status != ExportError {
		return actionSkipped, nil
	}

	if conn.PingBeforeExport && e.pinger != nil {
		if !e.pinger.Reachable(ctx, address, e.cfg.PingTimeout) {
			e.logger.Warn("Device unreachable, deferring export",
				zap.String("connection", conn.Name),
				zap.String("device", dev.Name),
				zap.String("address", address))
			c.note("%s unreachable at %s", dev.Name, address)
			return actionSkipped, nil
		}
	}

	now := time.Now().UTC()
	rec := &ExportRecord{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		RegistryID:   dev.ID,
		Address:      address,
		Status:       ExportPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.InsertExport(ctx, rec); err != nil {
		return 0, err
	}
	exportStatesTotal.WithLabelValues(string(ExportPending)).Inc()

	remoteID, err := remote.CreateDevice(ctx, e.mapToRemote(conn, dev, address))
	switch {
	case err == nil:
		if terr := e.store.TransitionExport(ctx, rec.ID, ExportPending, ExportExported, "", remoteID, ""); terr != nil {
			return 0, terr
		}
		exportStatesTotal.WithLabelValues(string(ExportExported)).Inc()
		if err := e.bindExportedLink(ctx, conn, dev, remoteID, address); err != nil {
			return 0, err
		}
		if err := remote.UpdateDeviceMetadata(ctx, remoteID, e.exportMetadataFor(dev)); err != nil {
			e.logger.Warn("Exported device but failed to push metadata",
				zap.String("connection", conn.Name),
				zap.String("device", dev.Name),
				zap.Error(err))
			c.note("metadata push failed for %s: %v", dev.Name, err)
		}
		if conn.AutoScanExportedIPs {
			if _, err := remote.ScanAddress(ctx, address); err != nil {
				e.logger.Warn("Post-export scan request failed",
					zap.String("connection", conn.Name),
					zap.String("address", address),
					zap.Error(err))
			}
		}
		e.logger.Info("Exported device to monitor",
			zap.String("connection", conn.Name),
			zap.String("device", dev.Name),
			zap.String("remote_id", remoteID))
		return actionCreated, nil

	case Classify(err) == KindNeedsDiscovery:
		scanID, serr := remote.ScanAddress(ctx, address)
		if serr != nil {
			if terr := e.store.TransitionExport(ctx, rec.ID, ExportPending, ExportError, "", "", serr.Error()); terr != nil {
				return 0, terr
			}
			exportStatesTotal.WithLabelValues(string(ExportError)).Inc()
			return 0, fmt.Errorf("trigger scan for %s: %w", address, serr)
		}
		if terr := e.store.TransitionExport(ctx, rec.ID, ExportPending, ExportScanTriggered, scanID, "", ""); terr != nil {
			return 0, terr
		}
		exportStatesTotal.WithLabelValues(string(ExportScanTriggered)).Inc()
		e.logger.Info("Export deferred to discovery scan",
			zap.String("connection", conn.Name),
			zap.String("device", dev.Name),
			zap.String("scan_id", scanID))
		return actionUpdated, nil

	default:
		if terr := e.store.TransitionExport(ctx, rec.ID, ExportPending, ExportError, "", "", err.Error()); terr != nil {
			return 0, terr
		}
		exportStatesTotal.WithLabelValues(string(ExportError)).Inc()
		return 0, err
	}
}

// bindExportedLink creates or refreshes the DeviceLink after a successful
// export so the import direction recognizes the device.
func (e *Engine) bindExportedLink(ctx context.Context, conn *Connection, dev netbox.NBDevice, remoteID, address string) error {
	now := time.Now().UTC()
	registryID := dev.ID
	if existing, err := e.store.GetLinkByRemote(ctx, conn.ID, remoteID); err != nil {
		return err
	} else if existing != nil {
		existing.RegistryID = &registryID
		existing.DeviceName = dev.Name
		existing.Address = address
		existing.LastSynced = &now
		existing.SyncError = ""
		return e.store.UpdateLink(ctx, existing)
	}
	return e.store.InsertLink(ctx, &DeviceLink{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		RemoteID:     remoteID,
		RegistryID:   &registryID,
		DeviceName:   dev.Name,
		Address:      address,
		SyncEnabled:  true,
		LastSynced:   &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// ExportSingle runs the export path for one registry device, used by the
// reactive trigger.
func (e *Engine) ExportSingle(ctx context.Context, conn *Connection, dev netbox.NBDevice, trig Trigger) (*SyncLog, error) {
	return e.RunExportPass(ctx, conn, trig, []netbox.NBDevice{dev})
}
