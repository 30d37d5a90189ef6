package app

import (
	"karavan/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug settings
	Debug bool

	// Silent suppresses all log output
	Silent bool

	// Directory holding config.yaml
	ConfigPath string

	// Loaded configuration. When set, ConfigPath is not read.
	KaravanConfig *config.KaravanConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
