package sync

import (
	"database/sql"

	"github.com/nbtools/wugsync/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create sync tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS sync_connections (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL UNIQUE,
						host TEXT NOT NULL,
						port INTEGER NOT NULL DEFAULT 9644,
						use_ssl INTEGER NOT NULL DEFAULT 1,
						verify_ssl INTEGER NOT NULL DEFAULT 0,
						username TEXT NOT NULL,
						password TEXT NOT NULL,
						auto_create_sites INTEGER NOT NULL DEFAULT 1,
						auto_create_device_types INTEGER NOT NULL DEFAULT 1,
						enable_export INTEGER NOT NULL DEFAULT 0,
						auto_scan_exported_ips INTEGER NOT NULL DEFAULT 0,
						ping_before_export INTEGER NOT NULL DEFAULT 0,
						import_interval_seconds INTEGER NOT NULL DEFAULT 900,
						export_interval_seconds INTEGER NOT NULL DEFAULT 300,
						active INTEGER NOT NULL DEFAULT 1,
						last_sync DATETIME,
						last_export DATETIME,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS sync_device_links (
						id TEXT PRIMARY KEY,
						connection_id TEXT NOT NULL REFERENCES sync_connections(id) ON DELETE CASCADE,
						remote_id TEXT NOT NULL,
						registry_id INTEGER,
						device_name TEXT NOT NULL DEFAULT '',
						address TEXT NOT NULL DEFAULT '',
						sync_enabled INTEGER NOT NULL DEFAULT 1,
						last_synced DATETIME,
						snapshot TEXT NOT NULL DEFAULT '',
						sync_error TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE(connection_id, remote_id)
					)`,
					// Duplicate-prevention invariant: one link per registry
					// device per connection.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_links_registry
						ON sync_device_links(connection_id, registry_id)
						WHERE registry_id IS NOT NULL`,

					`CREATE TABLE IF NOT EXISTS sync_export_records (
						id TEXT PRIMARY KEY,
						connection_id TEXT NOT NULL REFERENCES sync_connections(id) ON DELETE CASCADE,
						registry_id INTEGER NOT NULL,
						address TEXT NOT NULL,
						status TEXT NOT NULL DEFAULT 'pending',
						scan_id TEXT NOT NULL DEFAULT '',
						remote_id TEXT NOT NULL DEFAULT '',
						error TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_exports_status
						ON sync_export_records(connection_id, status)`,
					`CREATE INDEX IF NOT EXISTS idx_exports_registry
						ON sync_export_records(connection_id, registry_id)`,

					`CREATE TABLE IF NOT EXISTS sync_logs (
						id TEXT PRIMARY KEY,
						connection_id TEXT NOT NULL,
						direction TEXT NOT NULL,
						trigger_kind TEXT NOT NULL,
						status TEXT NOT NULL,
						created_count INTEGER NOT NULL DEFAULT 0,
						updated_count INTEGER NOT NULL DEFAULT 0,
						skipped_count INTEGER NOT NULL DEFAULT 0,
						failed_count INTEGER NOT NULL DEFAULT 0,
						unchanged_count INTEGER NOT NULL DEFAULT 0,
						detail TEXT NOT NULL DEFAULT '',
						started_at DATETIME NOT NULL,
						ended_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_logs_connection_time
						ON sync_logs(connection_id, ended_at)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
