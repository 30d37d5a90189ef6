package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"karavan/internal/cli"
	"karavan/internal/client"
	"karavan/internal/status"
)

type runOptions struct {
	flags       cli.CommandFlags
	env         string
	wait        bool
	waitTimeout time.Duration
}

// newRunCmd asks the engine to start a dev-mode container for a project.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <projectId>",
		Short: "Start a dev-mode container for a project",
		Long: `Creates and starts the dev-mode container of a project, copying the
project's files into it. An existing stopped container is started again.

Examples:
  karavan run orders
  karavan run orders --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args[0])
		},
	}

	cli.RegisterCommonFlags(cmd, &opts.flags)
	cmd.Flags().StringVar(&opts.env, "env", "", "Environment to wait in (default: the server's)")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Wait until the container is running")
	cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 5*time.Minute, "How long --wait waits")
	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions, projectID string) error {
	if err := cli.ValidateOutputFormat(opts.flags.OutputFormat); err != nil {
		return err
	}
	c := opts.flags.Client()
	ctx := cmd.Context()

	if err := c.Run(ctx, projectID); err != nil {
		return cli.ExplainError(err, opts.flags.Server)
	}
	if !opts.wait {
		cli.PrintInfo(cmd.OutOrStdout(), opts.flags.Quiet, "%s", cli.FormatSuccess("Start of "+projectID+" requested"))
		return nil
	}

	progress := cli.StartProgress("Starting "+projectID+"...", opts.flags.Quiet)
	ctx, cancel := context.WithTimeout(ctx, opts.waitTimeout)
	defer cancel()

	rec, err := waitForRunning(ctx, c, projectID, opts.env)
	if err != nil {
		progress.Fail(projectID + " did not start")
		return err
	}
	progress.Succeed(projectID + " is running")

	return cli.PrintStatuses(cmd.OutOrStdout(), []status.ContainerStatus{rec}, cli.PrintOptions{
		Format:    cli.OutputFormat(opts.flags.OutputFormat),
		NoHeaders: opts.flags.NoHeaders,
	})
}

// waitForRunning polls until the dev-mode record of projectID is running
// and no longer in transit.
func waitForRunning(ctx context.Context, c *client.Client, projectID, env string) (status.ContainerStatus, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return status.ContainerStatus{}, fmt.Errorf("timed out waiting for %s to start: %w", projectID, ctx.Err())
		case <-ticker.C:
		}

		rec, err := c.GetStatus(ctx, projectID, env)
		switch {
		case errors.Is(err, client.ErrNotFound):
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			return status.ContainerStatus{}, err
		}
		switch {
		case rec.State == status.StateRunning && !rec.InTransit:
			return rec, nil
		case rec.State == status.StateDead || rec.State == status.StateExited:
			return rec, fmt.Errorf("container of %s is %s", projectID, rec.State)
		}
	}
}
