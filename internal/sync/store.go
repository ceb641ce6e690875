package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides database access for the sync module. All writes are
// serialized per Connection by the runner that owns them; the store itself
// performs no locking.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// -- Connections --

// InsertConnection inserts a new connection.
func (s *Store) InsertConnection(ctx context.Context, c *Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_connections (
			id, name, host, port, use_ssl, verify_ssl, username, password,
			auto_create_sites, auto_create_device_types, enable_export,
			auto_scan_exported_ips, ping_before_export,
			import_interval_seconds, export_interval_seconds, active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Host, c.Port, boolInt(c.UseSSL), boolInt(c.VerifySSL),
		c.Username, c.Password,
		boolInt(c.AutoCreateSites), boolInt(c.AutoCreateDeviceTypes),
		boolInt(c.EnableExport), boolInt(c.AutoScanExportedIPs),
		boolInt(c.PingBeforeExport),
		int(c.ImportInterval.Seconds()), int(c.ExportInterval.Seconds()),
		boolInt(c.Active), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// UpdateConnection rewrites a connection's mutable fields.
func (s *Store) UpdateConnection(ctx context.Context, c *Connection) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_connections SET
			name = ?, host = ?, port = ?, use_ssl = ?, verify_ssl = ?,
			username = ?, password = ?,
			auto_create_sites = ?, auto_create_device_types = ?,
			enable_export = ?, auto_scan_exported_ips = ?, ping_before_export = ?,
			import_interval_seconds = ?, export_interval_seconds = ?, active = ?,
			updated_at = ?
		WHERE id = ?`,
		c.Name, c.Host, c.Port, boolInt(c.UseSSL), boolInt(c.VerifySSL),
		c.Username, c.Password,
		boolInt(c.AutoCreateSites), boolInt(c.AutoCreateDeviceTypes),
		boolInt(c.EnableExport), boolInt(c.AutoScanExportedIPs),
		boolInt(c.PingBeforeExport),
		int(c.ImportInterval.Seconds()), int(c.ExportInterval.Seconds()),
		boolInt(c.Active), time.Now().UTC(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return nil
}

const connectionColumns = `id, name, host, port, use_ssl, verify_ssl,
	username, password, auto_create_sites, auto_create_device_types,
	enable_export, auto_scan_exported_ips, ping_before_export,
	import_interval_seconds, export_interval_seconds, active,
	last_sync, last_export, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*Connection, error) {
	var c Connection
	var useSSL, verifySSL, acs, acdt, exp, scan, ping, active int
	var importSecs, exportSecs int
	var lastSync, lastExport sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Host, &c.Port, &useSSL, &verifySSL,
		&c.Username, &c.Password, &acs, &acdt, &exp, &scan, &ping,
		&importSecs, &exportSecs, &active,
		&lastSync, &lastExport, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.UseSSL = useSSL != 0
	c.VerifySSL = verifySSL != 0
	c.AutoCreateSites = acs != 0
	c.AutoCreateDeviceTypes = acdt != 0
	c.EnableExport = exp != 0
	c.AutoScanExportedIPs = scan != 0
	c.PingBeforeExport = ping != 0
	c.Active = active != 0
	c.ImportInterval = time.Duration(importSecs) * time.Second
	c.ExportInterval = time.Duration(exportSecs) * time.Second
	if lastSync.Valid {
		c.LastSync = &lastSync.Time
	}
	if lastExport.Valid {
		c.LastExport = &lastExport.Time
	}
	return &c, nil
}

// GetConnection returns a connection by ID. Returns nil, nil if not found.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM sync_connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// ListConnections returns all connections ordered by name.
func (s *Store) ListConnections(ctx context.Context) ([]Connection, error) {
	return s.listConnections(ctx,
		`SELECT `+connectionColumns+` FROM sync_connections ORDER BY name`)
}

// ListActiveConnections returns connections with the active flag set.
func (s *Store) ListActiveConnections(ctx context.Context) ([]Connection, error) {
	return s.listConnections(ctx,
		`SELECT `+connectionColumns+` FROM sync_connections WHERE active = 1 ORDER BY name`)
}

func (s *Store) listConnections(ctx context.Context, query string) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteConnection removes a connection. Links and export records cascade.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_connections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// TouchLastSync records the end of an import pass.
func (s *Store) TouchLastSync(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_connections SET last_sync = ?, updated_at = ? WHERE id = ?`, t, t, id)
	if err != nil {
		return fmt.Errorf("touch last_sync: %w", err)
	}
	return nil
}

// TouchLastExport records the end of an export pass.
func (s *Store) TouchLastExport(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_connections SET last_export = ?, updated_at = ? WHERE id = ?`, t, t, id)
	if err != nil {
		return fmt.Errorf("touch last_export: %w", err)
	}
	return nil
}

// -- Device links --

const linkColumns = `id, connection_id, remote_id, registry_id, device_name,
	address, sync_enabled, last_synced, snapshot, sync_error, created_at, updated_at`

func scanLink(row interface{ Scan(...any) error }) (*DeviceLink, error) {
	var l DeviceLink
	var enabled int
	var registryID sql.NullInt64
	var lastSynced sql.NullTime
	err := row.Scan(
		&l.ID, &l.ConnectionID, &l.RemoteID, &registryID, &l.DeviceName,
		&l.Address, &enabled, &lastSynced, &l.Snapshot, &l.SyncError,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.SyncEnabled = enabled != 0
	if registryID.Valid {
		id := int(registryID.Int64)
		l.RegistryID = &id
	}
	if lastSynced.Valid {
		l.LastSynced = &lastSynced.Time
	}
	return &l, nil
}

// InsertLink inserts a new device link. The schema's unique constraints
// reject a second link for the same remote or registry device.
func (s *Store) InsertLink(ctx context.Context, l *DeviceLink) error {
	var registryID any
	if l.RegistryID != nil {
		registryID = *l.RegistryID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_device_links (
			id, connection_id, remote_id, registry_id, device_name, address,
			sync_enabled, last_synced, snapshot, sync_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ConnectionID, l.RemoteID, registryID, l.DeviceName, l.Address,
		boolInt(l.SyncEnabled), l.LastSynced, l.Snapshot, l.SyncError,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// UpdateLink rewrites a link's mutable fields.
func (s *Store) UpdateLink(ctx context.Context, l *DeviceLink) error {
	var registryID any
	if l.RegistryID != nil {
		registryID = *l.RegistryID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_device_links SET
			registry_id = ?, device_name = ?, address = ?, sync_enabled = ?,
			last_synced = ?, snapshot = ?, sync_error = ?, updated_at = ?
		WHERE id = ?`,
		registryID, l.DeviceName, l.Address, boolInt(l.SyncEnabled),
		l.LastSynced, l.Snapshot, l.SyncError, time.Now().UTC(), l.ID,
	)
	if err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	return nil
}

// GetLink returns a link by ID. Returns nil, nil if not found.
func (s *Store) GetLink(ctx context.Context, id string) (*DeviceLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM sync_device_links WHERE id = ?`, id)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return l, nil
}

// GetLinkByRemote returns the link for (connection, remote device).
// Returns nil, nil if not found.
func (s *Store) GetLinkByRemote(ctx context.Context, connID, remoteID string) (*DeviceLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM sync_device_links
		 WHERE connection_id = ? AND remote_id = ?`, connID, remoteID)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link by remote: %w", err)
	}
	return l, nil
}

// GetLinkByRegistry returns the link for (connection, registry device).
// Returns nil, nil if not found.
func (s *Store) GetLinkByRegistry(ctx context.Context, connID string, registryID int) (*DeviceLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM sync_device_links
		 WHERE connection_id = ? AND registry_id = ?`, connID, registryID)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link by registry: %w", err)
	}
	return l, nil
}

// ListLinks returns all links for a connection ordered by device name.
func (s *Store) ListLinks(ctx context.Context, connID string) ([]DeviceLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM sync_device_links
		 WHERE connection_id = ? ORDER BY device_name`, connID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []DeviceLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// DeleteLink removes a link.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_device_links WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

// SetLinkEnabled toggles a link's per-device sync opt-out.
func (s *Store) SetLinkEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_device_links SET sync_enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set link enabled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LinkStatsFor aggregates link counts for the status endpoint.
func (s *Store) LinkStatsFor(ctx context.Context, connID string) (LinkStats, error) {
	var st LinkStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(registry_id),
			SUM(CASE WHEN sync_enabled = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN sync_error != '' THEN 1 ELSE 0 END)
		FROM sync_device_links WHERE connection_id = ?`, connID,
	).Scan(&st.Total, &st.Linked, &st.Disabled, &st.Errored)
	if err != nil {
		return st, fmt.Errorf("link stats: %w", err)
	}
	return st, nil
}

// -- Export records --

const exportColumns = `id, connection_id, registry_id, address, status,
	scan_id, remote_id, error, created_at, updated_at`

func scanExport(row interface{ Scan(...any) error }) (*ExportRecord, error) {
	var e ExportRecord
	err := row.Scan(
		&e.ID, &e.ConnectionID, &e.RegistryID, &e.Address, &e.Status,
		&e.ScanID, &e.RemoteID, &e.Error, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertExport inserts a new export record, normally in state pending.
func (s *Store) InsertExport(ctx context.Context, e *ExportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_export_records (
			id, connection_id, registry_id, address, status, scan_id,
			remote_id, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConnectionID, e.RegistryID, e.Address, e.Status, e.ScanID,
		e.RemoteID, e.Error, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert export record: %w", err)
	}
	return nil
}

// GetExport returns an export record by ID. Returns nil, nil if not found.
func (s *Store) GetExport(ctx context.Context, id string) (*ExportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exportColumns+` FROM sync_export_records WHERE id = ?`, id)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get export record: %w", err)
	}
	return e, nil
}

// TransitionExport moves a record from one state to another, setting the
// given fields. The WHERE clause enforces the state machine: transitions
// from any state other than `from` (including terminal states) affect zero
// rows and return an error.
func (s *Store) TransitionExport(ctx context.Context, id string, from, to ExportStatus, scanID, remoteID, errText string) error {
	if from.Terminal() {
		return fmt.Errorf("transition export %s: %s is terminal", id, from)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_export_records
		SET status = ?, scan_id = CASE WHEN ? != '' THEN ? ELSE scan_id END,
			remote_id = CASE WHEN ? != '' THEN ? ELSE remote_id END,
			error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, scanID, scanID, remoteID, remoteID, errText, time.Now().UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("transition export %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition export %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("transition export %s: record not in state %s", id, from)
	}
	return nil
}

// ListExportsByStatus returns a connection's export records in one state.
func (s *Store) ListExportsByStatus(ctx context.Context, connID string, status ExportStatus) ([]ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+exportColumns+` FROM sync_export_records
		 WHERE connection_id = ? AND status = ? ORDER BY created_at`, connID, status)
	if err != nil {
		return nil, fmt.Errorf("list export records: %w", err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export record: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// LatestExportForDevice returns the most recent export record for a
// registry device, or nil, nil when the device was never exported.
func (s *Store) LatestExportForDevice(ctx context.Context, connID string, registryID int) (*ExportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exportColumns+` FROM sync_export_records
		 WHERE connection_id = ? AND registry_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, connID, registryID)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest export for device: %w", err)
	}
	return e, nil
}

// ExportStatsFor aggregates export record counts by state.
func (s *Store) ExportStatsFor(ctx context.Context, connID string) (ExportStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_export_records
		WHERE connection_id = ? GROUP BY status`, connID)
	if err != nil {
		return ExportStats{}, fmt.Errorf("export stats: %w", err)
	}
	defer rows.Close()

	var st ExportStats
	for rows.Next() {
		var status ExportStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return st, fmt.Errorf("scan export stats: %w", err)
		}
		switch status {
		case ExportPending:
			st.Pending = count
		case ExportExported:
			st.Exported = count
		case ExportScanTriggered:
			st.ScanTriggered = count
		case ExportScanCompleted:
			st.ScanCompleted = count
		case ExportError:
			st.Errored = count
		}
	}
	return st, rows.Err()
}

// -- Sync logs --

// InsertLog appends a finalized pass summary. Logs are never updated.
func (s *Store) InsertLog(ctx context.Context, l *SyncLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (
			id, connection_id, direction, trigger_kind, status,
			created_count, updated_count, skipped_count, failed_count,
			unchanged_count, detail, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ConnectionID, l.Direction, l.Trigger, l.Status,
		l.Created, l.Updated, l.Skipped, l.Failed, l.Unchanged,
		l.Detail, l.StartedAt, l.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

const logColumns = `id, connection_id, direction, trigger_kind, status,
	created_count, updated_count, skipped_count, failed_count,
	unchanged_count, detail, started_at, ended_at`

func scanLog(row interface{ Scan(...any) error }) (*SyncLog, error) {
	var l SyncLog
	err := row.Scan(
		&l.ID, &l.ConnectionID, &l.Direction, &l.Trigger, &l.Status,
		&l.Created, &l.Updated, &l.Skipped, &l.Failed, &l.Unchanged,
		&l.Detail, &l.StartedAt, &l.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LatestLog returns the most recent log for a connection, or nil, nil.
func (s *Store) LatestLog(ctx context.Context, connID string) (*SyncLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM sync_logs
		 WHERE connection_id = ? ORDER BY ended_at DESC, rowid DESC LIMIT 1`, connID)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest log: %w", err)
	}
	return l, nil
}

// ListLogs returns a connection's most recent logs, newest first.
func (s *Store) ListLogs(ctx context.Context, connID string, limit int) ([]SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM sync_logs
		 WHERE connection_id = ? ORDER BY ended_at DESC, rowid DESC LIMIT ?`, connID, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []SyncLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
