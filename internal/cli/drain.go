package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Send the persisted offline queue",
		Long: `Restore the persisted client state and send its offline queue in order.

Draining stops at the first failed operation; it stays at the front of the
queue and the rest keep their order for the next attempt. Stale resources
are refetched after the queued operations.

Exit codes:
  0 - Queue fully drained
  1 - Drain halted on a failed operation
  2 - Command error (database not found, etc.)

Examples:
  offsync drain --db ./client.db --endpoint http://localhost:4000/graphql
  offsync drain --db ./client.db --endpoint http://localhost:4000/graphql --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(opts, cmd)
		},
	}

	return cmd
}

func runDrain(opts *DrainOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, opts.Config, opts.logger(), opts.Sender)
	if err != nil {
		return err
	}
	defer s.Close()

	queued := len(s.engine.Queue())
	result := s.settle(ctx)

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: w}
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		// Refetches queue behind the restored operations.
		drained, refetched := result.Sent, 0
		if drained > queued {
			drained, refetched = queued, drained-queued
		}
		fmt.Fprintf(w, "Drained %d of %d queued operation(s)", drained, queued)
		if refetched > 0 {
			fmt.Fprintf(w, ", %d refetch(es)", refetched)
		}
		fmt.Fprintln(w)
		if result.Error != "" {
			fmt.Fprintf(w, "✗ halted with %d remaining: %s\n", result.Remaining, result.Error)
		}
	}

	if result.Error != "" {
		return NewExitError(ExitFailure, fmt.Sprintf("drain halted: %s", result.Error))
	}
	return nil
}
