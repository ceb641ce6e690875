package sync

import "time"

// Direction of a reconciliation pass.
type Direction string

const (
	DirectionImport Direction = "remote_to_registry"
	DirectionExport Direction = "registry_to_remote"
)

// Trigger identifies what started a pass.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerSignal    Trigger = "signal"
)

// LogStatus is the final outcome of a pass.
type LogStatus string

const (
	LogCompleted LogStatus = "completed"
	LogFailed    LogStatus = "failed"
	LogCancelled LogStatus = "cancelled"
)

// ExportStatus is the lifecycle state of an ExportRecord.
type ExportStatus string

const (
	ExportPending       ExportStatus = "pending"
	ExportExported      ExportStatus = "exported"
	ExportScanTriggered ExportStatus = "scan_triggered"
	ExportScanCompleted ExportStatus = "scan_completed"
	ExportError         ExportStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
// A terminal record is never mutated; re-export opens a new record.
func (s ExportStatus) Terminal() bool {
	return s == ExportExported || s == ExportScanCompleted || s == ExportError
}

// Connection is one configured WhatsUp Gold endpoint.
type Connection struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	UseSSL    bool   `json:"use_ssl"`
	VerifySSL bool   `json:"verify_ssl"`
	Username  string `json:"username"`
	Password  string `json:"-"`

	AutoCreateSites       bool `json:"auto_create_sites"`
	AutoCreateDeviceTypes bool `json:"auto_create_device_types"`
	EnableExport          bool `json:"enable_export"`
	AutoScanExportedIPs   bool `json:"auto_scan_exported_ips"`
	PingBeforeExport      bool `json:"ping_before_export"`

	ImportInterval time.Duration `json:"import_interval"`
	ExportInterval time.Duration `json:"export_interval"`
	Active         bool          `json:"active"`

	LastSync   *time.Time `json:"last_sync,omitempty"`
	LastExport *time.Time `json:"last_export,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DeviceLink pairs one WUG device identity with at most one NetBox device,
// scoped to a Connection. RegistryID is nil while an export is pending
// resolution. For a given Connection a NetBox device appears in at most
// one link.
type DeviceLink struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	RemoteID     string     `json:"remote_id"`
	RegistryID   *int       `json:"registry_id,omitempty"`
	DeviceName   string     `json:"device_name"`
	Address      string     `json:"address"`
	SyncEnabled  bool       `json:"sync_enabled"`
	LastSynced   *time.Time `json:"last_synced,omitempty"`
	Snapshot     string     `json:"-"`
	SyncError    string     `json:"sync_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ExportRecord tracks one attempt to push a NetBox device into WUG.
type ExportRecord struct {
	ID           string       `json:"id"`
	ConnectionID string       `json:"connection_id"`
	RegistryID   int          `json:"registry_id"`
	Address      string       `json:"address"`
	Status       ExportStatus `json:"status"`
	ScanID       string       `json:"scan_id,omitempty"`
	RemoteID     string       `json:"remote_id,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// SyncLog is one finalized pass summary. Append-only.
type SyncLog struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Direction    Direction `json:"direction"`
	Trigger      Trigger   `json:"trigger"`
	Status       LogStatus `json:"status"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Unchanged    int       `json:"unchanged"`
	Detail       string    `json:"detail,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}

// LinkStats summarizes a Connection's links for the status endpoint.
type LinkStats struct {
	Total    int `json:"total"`
	Linked   int `json:"linked"`
	Disabled int `json:"disabled"`
	Errored  int `json:"errored"`
}

// ExportStats summarizes a Connection's export records by state.
type ExportStats struct {
	Pending       int `json:"pending"`
	Exported      int `json:"exported"`
	ScanTriggered int `json:"scan_triggered"`
	ScanCompleted int `json:"scan_completed"`
	Errored       int `json:"error"`
}
