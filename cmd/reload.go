package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"karavan/internal/cli"
	"karavan/internal/client"
	"karavan/internal/reload"
)

const pollInterval = 500 * time.Millisecond

type reloadOptions struct {
	flags       cli.CommandFlags
	wait        bool
	waitTimeout time.Duration
}

// newReloadCmd asks the engine to push a project's code into its running
// dev-mode container.
func newReloadCmd() *cobra.Command {
	opts := &reloadOptions{}
	cmd := &cobra.Command{
		Use:   "reload <projectId>",
		Short: "Reload project code into its dev-mode container",
		Long: `Uploads the project's files into its running dev-mode container and
triggers a reload, without restarting the container.

The request is queued and the command returns immediately unless --wait is
given, in which case it waits for the reload to finish and prints its result.

Examples:
  karavan reload orders
  karavan reload orders --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReload(cmd, opts, args[0])
		},
	}

	cli.RegisterCommonFlags(cmd, &opts.flags)
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Wait for the reload to finish")
	cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 2*time.Minute, "How long --wait waits")
	return cmd
}

func runReload(cmd *cobra.Command, opts *reloadOptions, projectID string) error {
	if err := cli.ValidateOutputFormat(opts.flags.OutputFormat); err != nil {
		return err
	}
	c := opts.flags.Client()
	ctx := cmd.Context()

	previous, err := c.ReloadResult(ctx, projectID)
	if err != nil && !errors.Is(err, client.ErrNotFound) {
		return cli.ExplainError(err, opts.flags.Server)
	}

	if err := c.Reload(ctx, projectID); err != nil {
		return cli.ExplainError(err, opts.flags.Server)
	}
	if !opts.wait {
		cli.PrintInfo(cmd.OutOrStdout(), opts.flags.Quiet, "%s", cli.FormatSuccess("Reload of "+projectID+" requested"))
		return nil
	}

	progress := cli.StartProgress("Reloading "+projectID+"...", opts.flags.Quiet)
	ctx, cancel := context.WithTimeout(ctx, opts.waitTimeout)
	defer cancel()

	result, err := waitForReload(ctx, c, projectID, previous.Started)
	if err != nil {
		progress.Fail("Reload of " + projectID + " did not finish")
		return err
	}
	if result.Success {
		progress.Succeed("Reloaded " + projectID)
	} else {
		progress.Fail("Reload of " + projectID + " failed")
	}

	if err := cli.PrintReloadResult(cmd.OutOrStdout(), result, cli.OutputFormat(opts.flags.OutputFormat)); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("reload of %s failed: %s", projectID, result.Error)
	}
	return nil
}

// waitForReload polls until a result newer than after is recorded.
func waitForReload(ctx context.Context, c *client.Client, projectID string, after time.Time) (reload.Result, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return reload.Result{}, fmt.Errorf("timed out waiting for reload of %s: %w", projectID, ctx.Err())
		case <-ticker.C:
		}

		result, err := c.ReloadResult(ctx, projectID)
		switch {
		case errors.Is(err, client.ErrNotFound):
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			return reload.Result{}, err
		}
		if result.Started.After(after) && !result.Finished.IsZero() {
			return result, nil
		}
	}
}
