package cmd

import (
	"github.com/spf13/cobra"

	"karavan/internal/cli"
)

// newWorkloadsCmd lists the Kubernetes deployments and services the server
// tracks.
func newWorkloadsCmd() *cobra.Command {
	flags := &cli.CommandFlags{}
	var env string
	cmd := &cobra.Command{
		Use:   "workloads",
		Short: "Show Kubernetes deployments and services",
		Long: `Shows the deployments and services of projects on the cluster the
server manages. Only available when the server runs against Kubernetes.

Examples:
  karavan workloads
  karavan workloads --env dev -o wide`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ValidateOutputFormat(flags.OutputFormat); err != nil {
				return err
			}
			c := flags.Client()
			ctx := cmd.Context()

			deployments, err := c.ListDeployments(ctx, env)
			if err != nil {
				return cli.ExplainError(err, flags.Server)
			}
			services, err := c.ListServices(ctx, env)
			if err != nil {
				return cli.ExplainError(err, flags.Server)
			}
			return cli.PrintWorkloads(cmd.OutOrStdout(), cli.Workloads{
				Deployments: deployments,
				Services:    services,
			}, cli.PrintOptions{
				Format:    cli.OutputFormat(flags.OutputFormat),
				NoHeaders: flags.NoHeaders,
			})
		},
	}
	cli.RegisterCommonFlags(cmd, flags)
	cmd.Flags().StringVar(&env, "env", "", "Only show workloads of this environment")
	return cmd
}
