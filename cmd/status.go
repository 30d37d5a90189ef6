package cmd

import (
	"github.com/spf13/cobra"

	"karavan/internal/cli"
	"karavan/internal/client"
	"karavan/internal/status"
)

type statusOptions struct {
	flags cli.CommandFlags
	env   string
	kind  string
}

// newStatusCmd lists cached container statuses, or shows the dev-mode
// container of one project.
func newStatusCmd() *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status [projectId]",
		Short: "Show container status",
		Long: `Shows the cached status of managed containers.

Without arguments every container known to the engine is listed. With a
project ID only that project's dev-mode container is shown.

Examples:
  karavan status
  karavan status orders -o wide
  karavan status --env dev --type devmode -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts, args)
		},
	}

	cli.RegisterCommonFlags(cmd, &opts.flags)
	cmd.Flags().StringVar(&opts.env, "env", "", "Only show containers of this environment")
	cmd.Flags().StringVar(&opts.kind, "type", "", "Only show containers of this type (devmode, project, build, ...)")
	return cmd
}

func runStatus(cmd *cobra.Command, opts *statusOptions, args []string) error {
	if err := cli.ValidateOutputFormat(opts.flags.OutputFormat); err != nil {
		return err
	}
	c := opts.flags.Client()
	ctx := cmd.Context()

	var recs []status.ContainerStatus
	if len(args) == 1 {
		rec, err := c.GetStatus(ctx, args[0], opts.env)
		if err != nil {
			return cli.ExplainError(err, opts.flags.Server)
		}
		recs = []status.ContainerStatus{rec}
	} else {
		list, err := c.ListContainers(ctx, client.Filter{Env: opts.env, Type: opts.kind})
		if err != nil {
			return cli.ExplainError(err, opts.flags.Server)
		}
		recs = list
	}

	return cli.PrintStatuses(cmd.OutOrStdout(), recs, cli.PrintOptions{
		Format:    cli.OutputFormat(opts.flags.OutputFormat),
		NoHeaders: opts.flags.NoHeaders,
	})
}
