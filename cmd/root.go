package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"karavan/internal/client"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeNotFound indicates the requested project has no dev-mode container.
	ExitCodeNotFound = 2
)

// rootCmd represents the base command for the karavan application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "karavan",
	Short: "Run Camel integration projects in dev-mode containers",
	Long: `karavan keeps a live view of per-project dev-mode containers on Docker or
Kubernetes and pushes project code into them without restarting.

Start the engine with 'karavan serve', then use 'karavan run', 'karavan reload',
'karavan status' and 'karavan logs' to work with a project's container.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "karavan version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if errors.Is(err, client.ErrNotFound) {
		return ExitCodeNotFound
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReloadCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newWorkloadsCmd())
}
