package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"karavan/internal/app"
)

type serveOptions struct {
	debug      bool
	silent     bool
	configPath string
}

// newServeCmd creates the command that runs the reconcile engine and its
// HTTP API in the foreground.
func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the karavan engine and API server",
		Long: `Starts the karavan engine in the foreground.

The engine detects whether it runs on Docker or Kubernetes, keeps the status
cache of every dev-mode container up to date, collects resource usage and
serves the HTTP API used by the other karavan commands. It runs until it
receives SIGINT or SIGTERM.

Configuration:
  karavan loads config.yaml from ~/.config/karavan by default. Use
  --config-path to point at another directory. Every setting has a default,
  so the file is optional.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.silent, "silent", false, "Only log warnings and errors")
	cmd.Flags().StringVar(&opts.configPath, "config-path", "", "Configuration directory (default ~/.config/karavan)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg := app.NewConfig(opts.debug, opts.silent, opts.configPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}
