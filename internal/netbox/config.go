package netbox

import "time"

// Config holds the NetBox integration configuration.
type Config struct {
	URL      string        `mapstructure:"url"`       // NetBox base URL (e.g., "https://netbox.example.com")
	Token    string        `mapstructure:"token"`     // API token
	PageSize int           `mapstructure:"page_size"` // List pagination size
	Timeout  time.Duration `mapstructure:"timeout"`   // HTTP client timeout (default: 30s)
}

// DefaultConfig returns a Config with sensible defaults.
// URL is empty, meaning the module is disabled until configured.
func DefaultConfig() Config {
	return Config{
		PageSize: 50,
		Timeout:  30 * time.Second,
	}
}
