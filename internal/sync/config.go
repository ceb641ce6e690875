package sync

import "time"

// Config holds the sync module configuration.
type Config struct {
	SyncInterval     time.Duration `mapstructure:"sync_interval"`      // Default import interval
	ExportInterval   time.Duration `mapstructure:"export_interval"`    // Default export interval
	ScanPollInterval time.Duration `mapstructure:"scan_poll_interval"` // How often triggered scans are polled
	ScanTimeout      time.Duration `mapstructure:"scan_timeout"`       // Max age before a running scan is failed

	PingBeforeExport bool          `mapstructure:"ping_before_export"` // Advisory reachability probe before export
	PingTimeout      time.Duration `mapstructure:"ping_timeout"`

	// Substrings of WUG 4xx bodies that mean "needs discovery".
	NeedsDiscoverySignals []string `mapstructure:"needs_discovery_signals"`

	DefaultSite   string `mapstructure:"default_site"`   // Site for imports when WUG has no location
	DeviceRole    string `mapstructure:"device_role"`    // NetBox role assigned to imported devices
	ExportGroup   string `mapstructure:"export_group"`   // WUG group for exported devices
	SNMPCommunity string `mapstructure:"snmp_community"`
	SNMPVersion   string `mapstructure:"snmp_version"`

	WUGTimeout   time.Duration `mapstructure:"wug_timeout"`
	WUGRateLimit float64       `mapstructure:"wug_rate_limit"`
	WUGRateBurst int           `mapstructure:"wug_rate_burst"`
}

// DefaultConfig returns a Config with the module defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:     15 * time.Minute,
		ExportInterval:   5 * time.Minute,
		ScanPollInterval: time.Minute,
		ScanTimeout:      30 * time.Minute,
		PingTimeout:      2 * time.Second,
		NeedsDiscoverySignals: []string{
			"device not found", "not in discovery", "discovery required",
		},
		DefaultSite:   "Imported",
		DeviceRole:    "Monitored",
		ExportGroup:   "NetBox Imports",
		SNMPCommunity: "public",
		SNMPVersion:   "v2c",
		WUGTimeout:    30 * time.Second,
		WUGRateLimit:  10,
		WUGRateBurst:  20,
	}
}
