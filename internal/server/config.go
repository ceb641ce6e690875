package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/wugsync.db")

	// Module defaults
	v.SetDefault("modules.netbox.enabled", true)
	v.SetDefault("modules.netbox.timeout", "30s")
	v.SetDefault("modules.netbox.page_size", 50)
	v.SetDefault("modules.wug.enabled", true)
	v.SetDefault("modules.wug.timeout", "30s")
	v.SetDefault("modules.wug.verify_tls", false)
	v.SetDefault("modules.wug.rate_limit", 10.0)
	v.SetDefault("modules.wug.rate_burst", 20)
	v.SetDefault("modules.sync.enabled", true)
	v.SetDefault("modules.sync.sync_interval", "15m")
	v.SetDefault("modules.sync.export_interval", "5m")
	v.SetDefault("modules.sync.scan_poll_interval", "1m")
	v.SetDefault("modules.sync.scan_timeout", "30m")
	v.SetDefault("modules.sync.ping_before_export", false)
	v.SetDefault("modules.sync.ping_timeout", "2s")
	v.SetDefault("modules.sync.needs_discovery_signals", []string{
		"device not found", "not in discovery", "discovery required",
	})

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("wugsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/wugsync")
	}

	// Environment variable support: WS_SERVER_PORT=9090
	v.SetEnvPrefix("WS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
