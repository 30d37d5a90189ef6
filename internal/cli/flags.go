package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"karavan/internal/client"
)

// ServerEnvVar overrides the default server URL.
const ServerEnvVar = "KARAVAN_SERVER"

// CommandFlags holds the flag values shared by commands that talk to a
// running karavan server.
type CommandFlags struct {
	// OutputFormat is one of table, wide, json or yaml.
	OutputFormat string
	// NoHeaders suppresses the header row in table output.
	NoHeaders bool
	// Quiet suppresses spinners and informational messages.
	Quiet bool
	// Server is the base URL of the karavan server.
	Server string
	// Timeout bounds a single API request.
	Timeout time.Duration
}

// RegisterCommonFlags registers the connection and output flags on cmd.
//
// The registered flags are:
//   - --output/-o: Output format (table, wide, json, yaml), default: "table"
//   - --no-headers: Suppress header row in table output
//   - --quiet/-q: Suppress non-essential output
//   - --server: karavan server URL (env: KARAVAN_SERVER)
//   - --timeout: per request timeout
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, wide, json, yaml)")
	cmd.PersistentFlags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	RegisterConnectionFlags(cmd, flags)
}

// RegisterConnectionFlags registers only --server, --timeout and --quiet,
// for commands that print no formatted output.
func RegisterConnectionFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().StringVar(&flags.Server, "server", GetDefaultServer(), "karavan server URL (env: KARAVAN_SERVER)")
	cmd.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 10*time.Second, "Timeout for a single API request")
}

// GetDefaultServer returns the server URL from the environment, or the
// built-in default.
func GetDefaultServer() string {
	if v := os.Getenv(ServerEnvVar); v != "" {
		return v
	}
	return client.DefaultServerURL
}

// Client builds an API client from the flags.
func (f *CommandFlags) Client() *client.Client {
	return client.New(f.Server, f.Timeout)
}
