package config

import (
	"time"

	"karavan/internal/resilience"
)

// KaravanConfig is the top-level configuration structure for karavan.
type KaravanConfig struct {
	// Environment is the default environment of records and commands.
	Environment string `yaml:"environment"`

	// Environments are reconciled by this instance. Defaults to
	// [Environment].
	Environments []string `yaml:"environments,omitempty"`

	Runtime    RuntimeConfig    `yaml:"runtime"`
	DevMode    DevModeConfig    `yaml:"devmode"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Statistics StatisticsConfig `yaml:"statistics"`
	Reload     ReloadConfig     `yaml:"reload"`
	Events     EventsConfig     `yaml:"events"`
	Cache      CacheConfig      `yaml:"cache"`
	Projects   ProjectsConfig   `yaml:"projects"`
	Server     ServerConfig     `yaml:"server"`
}

// RuntimeConfig selects the container runtime.
type RuntimeConfig struct {
	Type            string `yaml:"type"`                      // auto, docker or kubernetes (default: auto)
	Network         string `yaml:"network,omitempty"`         // Engine network for docker (default: karavan)
	Namespace       string `yaml:"namespace,omitempty"`       // Namespace for kubernetes (default: karavan)
	PodTemplatePath string `yaml:"podTemplatePath,omitempty"` // Overrides the built-in pod template
}

// DevModeConfig describes the dev-mode containers.
type DevModeConfig struct {
	Image          string `yaml:"image"`
	Port           int    `yaml:"port"`
	CodeDir        string `yaml:"codeDir,omitempty"`
	ServiceAccount string `yaml:"serviceAccount,omitempty"`
	CamelRuntime   string `yaml:"camelRuntime,omitempty"`
}

// ReconcileConfig tunes the status reconciler.
type ReconcileConfig struct {
	Interval       time.Duration `yaml:"interval"`
	TransitWindow  time.Duration `yaml:"transitWindow"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	Workers        int           `yaml:"workers,omitempty"`
	MaxRetries     int           `yaml:"maxRetries,omitempty"`
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"maxBackoff,omitempty"`
	WatchRetry     time.Duration `yaml:"watchRetry,omitempty"`
}

// StatisticsConfig tunes usage sampling.
type StatisticsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	CallTimeout time.Duration `yaml:"callTimeout"`
	Concurrency int           `yaml:"concurrency,omitempty"`
}

// ReloadConfig tunes the hot-reload protocol.
type ReloadConfig struct {
	CallTimeout   time.Duration     `yaml:"callTimeout"`
	UploadRetries int               `yaml:"uploadRetries"`
	Breaker       resilience.Config `yaml:"breaker"`
}

// EventsConfig tunes the event bus.
type EventsConfig struct {
	MaxConcurrent  int64         `yaml:"maxConcurrent"`
	HandlerTimeout time.Duration `yaml:"handlerTimeout,omitempty"`
}

// CacheBackend names a status store implementation.
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// CacheConfig selects the status store.
type CacheConfig struct {
	Backend CacheBackend `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// ProjectsConfig locates project sources.
type ProjectsConfig struct {
	Root     string        `yaml:"root"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// ManagedEnvironments returns Environments, or the default environment
// when none are listed.
func (c KaravanConfig) ManagedEnvironments() []string {
	if len(c.Environments) > 0 {
		return c.Environments
	}
	return []string{c.Environment}
}
