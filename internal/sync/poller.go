package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nbtools/wugsync/internal/wug"
)

// RunScanPoll checks every scan_triggered export record for the
// connection. Completed scans are resolved to scan_completed or error;
// still-running scans are left for the next cycle unless they exceed the
// configured timeout.
func (e *Engine) RunScanPoll(ctx context.Context, conn *Connection) (*SyncLog, error) {
	start := time.Now().UTC()
	var c counters
	remote := e.remotes(conn)

	records, err := e.store.ListExportsByStatus(ctx, conn.ID, ExportScanTriggered)
	if err != nil {
		c.note("list pending scans: %v", err)
		return e.finishPass(ctx, conn, DirectionExport, TriggerScheduled, LogFailed, &c, start), err
	}

	for i := range records {
		rec := &records[i]
		if ctx.Err() != nil {
			c.note("cancelled with %d scans unchecked", len(records)-i)
			return e.finishPass(ctx, conn, DirectionExport, TriggerScheduled, LogCancelled, &c, start), ctx.Err()
		}
		if err := e.pollScan(ctx, conn, remote, rec, start, &c); err != nil {
			c.failed++
			c.note("scan %s: %v", rec.ScanID, err)
			e.logger.Warn("Scan poll failed",
				zap.String("connection", conn.Name),
				zap.String("scan_id", rec.ScanID),
				zap.Error(err))
		}
	}

	return e.finishPass(ctx, conn, DirectionExport, TriggerScheduled, LogCompleted, &c, start), nil
}

func (e *Engine) pollScan(ctx context.Context, conn *Connection, remote RemoteClient, rec *ExportRecord, now time.Time, c *counters) error {
	if now.Sub(rec.CreatedAt) > e.cfg.ScanTimeout {
		if err := e.store.TransitionExport(ctx, rec.ID, ExportScanTriggered, ExportError, "", "", "scan timeout"); err != nil {
			return err
		}
		exportStatesTotal.WithLabelValues(string(ExportError)).Inc()
		c.failed++
		c.note("scan %s timed out for %s", rec.ScanID, rec.Address)
		return nil
	}

	status, err := remote.GetScanStatus(ctx, rec.ScanID)
	if err != nil {
		// Transient poll failure leaves the record for the next cycle.
		c.count(actionSkipped)
		e.logger.Debug("Scan status unavailable, will retry",
			zap.String("scan_id", rec.ScanID), zap.Error(err))
		return nil
	}

	switch status.State {
	case wug.ScanRunning:
		c.count(actionSkipped)
		return nil

	case wug.ScanFailed:
		msg := "scan failed"
		if status.Message != "" {
			msg = "scan failed: " + status.Message
		}
		if err := e.store.TransitionExport(ctx, rec.ID, ExportScanTriggered, ExportError, "", "", msg); err != nil {
			return err
		}
		exportStatesTotal.WithLabelValues(string(ExportError)).Inc()
		c.failed++
		return nil

	case wug.ScanCompleted:
		remoteID := status.DeviceID
		if remoteID == "" {
			remoteID = e.findByAddress(ctx, remote, rec.Address)
		} else if !e.addressMatches(ctx, remote, remoteID, rec.Address) {
			remoteID = ""
		}
		if remoteID == "" {
			if err := e.store.TransitionExport(ctx, rec.ID, ExportScanTriggered, ExportError, "", "", "no device discovered"); err != nil {
				return err
			}
			exportStatesTotal.WithLabelValues(string(ExportError)).Inc()
			c.failed++
			return nil
		}
		if err := e.store.TransitionExport(ctx, rec.ID, ExportScanTriggered, ExportScanCompleted, "", remoteID, ""); err != nil {
			return err
		}
		exportStatesTotal.WithLabelValues(string(ExportScanCompleted)).Inc()
		if err := e.bindDiscoveredLink(ctx, conn, rec, remoteID); err != nil {
			return err
		}
		e.logger.Info("Discovery scan completed",
			zap.String("connection", conn.Name),
			zap.String("address", rec.Address),
			zap.String("remote_id", remoteID))
		c.count(actionUpdated)
		return nil
	}
	c.count(actionSkipped)
	return nil
}

// addressMatches confirms a discovered device answers for the scanned
// address. A device whose address is unknown is accepted.
func (e *Engine) addressMatches(ctx context.Context, remote RemoteClient, remoteID, address string) bool {
	d, err := remote.GetDevice(ctx, remoteID)
	if err != nil {
		return true
	}
	return d.Address == "" || d.Address == address
}

func (e *Engine) findByAddress(ctx context.Context, remote RemoteClient, address string) string {
	devices, err := remote.ListDevices(ctx)
	if err != nil {
		return ""
	}
	for _, d := range devices {
		if d.Address == address {
			return d.ID
		}
	}
	return ""
}

func (e *Engine) bindDiscoveredLink(ctx context.Context, conn *Connection, rec *ExportRecord, remoteID string) error {
	dev, err := e.registry.GetDevice(ctx, rec.RegistryID)
	if err != nil || dev == nil {
		e.logger.Warn("Registry device missing after scan completion",
			zap.String("connection", conn.Name),
			zap.Int("registry_id", rec.RegistryID))
		return nil
	}
	return e.bindExportedLink(ctx, conn, *dev, remoteID, rec.Address)
}
