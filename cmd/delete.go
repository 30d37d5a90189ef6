package cmd

import (
	"github.com/spf13/cobra"

	"karavan/internal/cli"
)

// newDeleteCmd asks the engine to remove a project's dev-mode container.
func newDeleteCmd() *cobra.Command {
	flags := &cli.CommandFlags{}
	cmd := &cobra.Command{
		Use:     "delete <projectId>",
		Aliases: []string{"rm"},
		Short:   "Delete the dev-mode container of a project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			if err := flags.Client().Delete(cmd.Context(), projectID); err != nil {
				return cli.ExplainError(err, flags.Server)
			}
			cli.PrintInfo(cmd.OutOrStdout(), flags.Quiet, "%s", cli.FormatSuccess("Deletion of "+projectID+" requested"))
			return nil
		},
	}
	cli.RegisterConnectionFlags(cmd, flags)
	return cmd
}
