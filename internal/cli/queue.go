package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
)

// QueueEntry is one pending operation as listed by the queue command.
type QueueEntry struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Resource  string    `json:"resource,omitempty"`
}

// NewQueueCommand creates the queue command with list and clear.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear the persisted offline queue",
		Long: `Inspect or clear the offline queue in the snapshot database.

Examples:
  offsync queue list --db ./client.db
  offsync queue clear --db ./client.db`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List pending operations, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "clear",
		Short:         "Drop every pending operation",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueClear(rootOpts, cmd)
		},
	})

	return cmd
}

func runQueueList(opts *RootOptions, cmd *cobra.Command) error {
	kv, snapshots, err := openSnapshots(opts.Config, opts.logger())
	if err != nil {
		return err
	}
	defer kv.Close()

	var queue []ir.Operation
	if snap, ok := snapshots.Load(cmd.Context()); ok {
		queue = snap.Queue
	}

	entries := make([]QueueEntry, len(queue))
	for i, op := range queue {
		entries[i] = QueueEntry{Seq: op.Seq, ID: op.ID, Kind: op.Kind, CreatedAt: op.CreatedAt, Resource: op.Resource}
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return (&OutputFormatter{Format: opts.Format, Writer: w}).Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "Queue empty.")
		return nil
	}
	fmt.Fprintf(w, "%d queued operation(s):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %4d  %-24s  %s  %s\n", e.Seq, e.Kind, shortID(e.ID), e.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runQueueClear(opts *RootOptions, cmd *cobra.Command) error {
	kv, snapshots, err := openSnapshots(opts.Config, opts.logger())
	if err != nil {
		return err
	}
	defer kv.Close()

	ctx := cmd.Context()
	dropped := 0
	if snap, ok := snapshots.Load(ctx); ok && len(snap.Queue) > 0 {
		dropped = len(snap.Queue)
		snap.Queue = nil
		snap.SavedAt = time.Now()
		if err := snapshots.Save(ctx, snap); err != nil {
			return WrapExitError(ExitCommandError, "failed to save snapshot", err)
		}
		opts.logger().Info("offline queue cleared", "dropped", dropped)
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return (&OutputFormatter{Format: opts.Format, Writer: w}).Success(map[string]int{"dropped": dropped})
	}
	fmt.Fprintf(w, "Dropped %d operation(s).\n", dropped)
	return nil
}

// shortID abbreviates an operation id for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
