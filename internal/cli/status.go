package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/state"
)

// StatusResult summarizes the persisted client state.
type StatusResult struct {
	SavedAt   *time.Time                    `json:"saved_at,omitempty"`
	Queued    int                           `json:"queued"`
	Pending   int                           `json:"pending"`
	Todos     []state.Todo                  `json:"todos"`
	Staleness map[string]ir.StalenessRecord `json:"staleness,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted todos, queue and freshness",
		Long: `Show what the last snapshot holds: the todo list with unsynced entries
marked, the number of queued operations, and when each resource was last
fetched.

Example:
  offsync status --db ./client.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	kv, snapshots, err := openSnapshots(opts.Config, opts.logger())
	if err != nil {
		return err
	}
	defer kv.Close()

	result := StatusResult{Todos: []state.Todo{}}
	if snap, ok := snapshots.Load(cmd.Context()); ok {
		todos := state.NewTodosSlice()
		st := state.NewStore()
		st.Register(todos, true)
		if err := st.Import(snap.Entities); err != nil {
			return WrapExitError(ExitCommandError, "failed to read snapshot entities", err)
		}
		savedAt := snap.SavedAt
		result = StatusResult{
			SavedAt:   &savedAt,
			Queued:    len(snap.Queue),
			Pending:   todos.Pending(),
			Todos:     todos.List(),
			Staleness: snap.Staleness,
		}
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return (&OutputFormatter{Format: opts.Format, Writer: w}).Success(result)
	}

	if result.SavedAt == nil {
		fmt.Fprintln(w, "No snapshot.")
		return nil
	}
	fmt.Fprintf(w, "Snapshot saved %s\n", result.SavedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Queued: %d  Unsynced todos: %d\n", result.Queued, result.Pending)
	printTodos(w, result.Todos)

	keys := make([]string, 0, len(result.Staleness))
	for k := range result.Staleness {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec := result.Staleness[k]
		fetched := "never"
		if rec.LastFetchedAt != nil {
			fetched = rec.LastFetchedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "Resource %s: fetched %s, ttl %s\n", k, fetched, rec.TTL)
	}
	return nil
}
