package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"karavan/internal/cli"
)

// newLogsCmd streams the log of a project's dev-mode container.
func newLogsCmd() *cobra.Command {
	flags := &cli.CommandFlags{}
	cmd := &cobra.Command{
		Use:   "logs <projectId>",
		Short: "Stream the log of a project's dev-mode container",
		Long: `Streams the log of a project's dev-mode container until the container
stops or the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err := flags.Client().Logs(ctx, args[0], func(line string) {
				fmt.Fprintln(out, line)
			})
			if ctx.Err() != nil {
				return nil
			}
			return cli.ExplainError(err, flags.Server)
		},
	}
	cli.RegisterConnectionFlags(cmd, flags)
	return cmd
}
