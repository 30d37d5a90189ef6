package config

import (
	"time"

	"karavan/internal/resilience"
)

const (
	// DefaultEnvironment is the environment records belong to unless labeled.
	DefaultEnvironment = "dev"

	// DefaultDevModeImage runs the embedded live-reload runtime.
	DefaultDevModeImage = "ghcr.io/apache/camel-karavan-devmode:4.14.2"

	// DefaultServerAddress is where the HTTP API listens.
	DefaultServerAddress = ":8081"
)

// GetDefaultConfig returns the default configuration
func GetDefaultConfig() KaravanConfig {
	return KaravanConfig{
		Environment: DefaultEnvironment,
		Runtime: RuntimeConfig{
			Type:      "auto",
			Network:   "karavan",
			Namespace: "karavan",
		},
		DevMode: DevModeConfig{
			Image:   DefaultDevModeImage,
			Port:    8080,
			CodeDir: "/karavan/code",
		},
		Reconcile: ReconcileConfig{
			Interval:      2 * time.Second,
			TransitWindow: 10 * time.Second,
			Timeout:       30 * time.Second,
			MaxRetries:    5,
		},
		Statistics: StatisticsConfig{
			Enabled:     true,
			Interval:    10 * time.Second,
			CallTimeout: 5 * time.Second,
			Concurrency: 8,
		},
		Reload: ReloadConfig{
			CallTimeout:   time.Second,
			UploadRetries: 1,
			Breaker:       resilience.DefaultConfig(),
		},
		Events: EventsConfig{
			MaxConcurrent: 32,
		},
		Cache: CacheConfig{
			Backend: CacheBackendMemory,
		},
		Projects: ProjectsConfig{
			Root:     "projects",
			Debounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Address: DefaultServerAddress,
		},
	}
}
