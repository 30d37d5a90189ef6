package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"karavan/internal/config"
	"karavan/internal/containerizer"
	"karavan/pkg/logging"
)

// Application represents the main application structure that bootstraps and runs karavan.
// It encapsulates the loaded configuration and the wired services.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: Load configuration, initialize logging, setup services
//  2. Execution phase: Start the services and serve the HTTP API until signaled
//
// Example usage:
//
//	cfg := app.NewConfig(true, false, "")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes a new application instance with the provided configuration.
// This function performs the complete bootstrap sequence:
//
//  1. Configures logging based on debug settings
//  2. Loads karavan configuration from cfg.ConfigPath (or the default directory)
//  3. Detects the process environment and connects to the container runtime
//  4. Wires the status store, event bus, reconciler and dev-mode services
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}

	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(appLogLevel, logOutput)

	if cfg.KaravanConfig == nil {
		configPath := cfg.ConfigPath
		if configPath == "" {
			configPath = config.GetDefaultConfigPathOrPanic()
		}
		karavanCfg, err := config.LoadConfig(configPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load karavan configuration from path: %s", configPath)
			return nil, fmt.Errorf("failed to load karavan configuration from path %s: %w", configPath, err)
		}
		cfg.KaravanConfig = &karavanCfg
	}

	env := containerizer.DetectEnvironment()
	runtime, err := containerizer.NewRuntime(containerizer.Options{
		Type:            cfg.KaravanConfig.Runtime.Type,
		Network:         cfg.KaravanConfig.Runtime.Network,
		Namespace:       cfg.KaravanConfig.Runtime.Namespace,
		PodTemplatePath: cfg.KaravanConfig.Runtime.PodTemplatePath,
	}, env)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to create container runtime")
		return nil, fmt.Errorf("failed to create container runtime: %w", err)
	}

	services, err := InitializeServices(context.Background(), cfg, runtime, env)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Run starts all services and blocks until ctx is cancelled or the process
// receives SIGINT or SIGTERM.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.config, a.services)
}
