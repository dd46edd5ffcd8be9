package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	Payload string
	Offline bool
}

// DispatchResult reports a dispatched action and the sync that followed.
type DispatchResult struct {
	Action string `json:"action"`
	SettleResult
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch <action-type>",
		Short: "Dispatch one action and sync",
		Long: `Dispatch one action against the persisted client state.

The action applies to local state, then the engine syncs: the queue drains
in order, including the new operation. With --offline the operation is only
queued and persisted, to be sent by a later drain.

Exit codes:
  0 - Action applied; queue drained or left for later (--offline)
  1 - Sync halted on a failed operation
  2 - Command error (bad payload, unknown catalog, database error)

Examples:
  offsync dispatch todos/addTodo --payload '{"title":"milk"}' --db ./client.db --endpoint http://localhost:4000/graphql
  offsync dispatch todos/addTodo --payload '{"title":"eggs"}' --db ./client.db --offline`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "action payload as JSON")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "queue without contacting the server")

	return cmd
}

func runDispatch(opts *DispatchOptions, actionType string, cmd *cobra.Command) error {
	var payload ir.IRObject
	if err := json.Unmarshal([]byte(opts.Payload), &payload); err != nil {
		return WrapExitError(ExitCommandError, "invalid --payload JSON", err)
	}

	sender := opts.Sender
	if opts.Offline && sender == nil {
		sender = offlineSender{}
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, opts.Config, opts.logger(), sender)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Offline {
		s.engine.Monitor().SetOnline(false)
	}
	if _, err := s.dispatch(actionType, payload); err != nil {
		return WrapExitError(ExitCommandError, "action rejected", err)
	}
	result := DispatchResult{Action: actionType, SettleResult: s.settle(ctx)}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %s: %d sent, %d queued (%s)\n",
			actionType, result.Sent, result.Remaining, result.Status)
		if result.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", result.Error)
		}
	}

	if result.Error != "" {
		return NewExitError(ExitFailure, fmt.Sprintf("sync halted: %s", result.Error))
	}
	return nil
}

// offlineSender stands in for the server when nothing may be sent.
type offlineSender struct{}

func (offlineSender) Send(context.Context, ir.Operation) (ir.IRObject, error) {
	return nil, errors.New("offline")
}
