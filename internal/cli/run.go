package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/dashboard"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/hostsignal"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/state"
)

const runHelp = `Commands:
  add <title>        add a todo
  toggle <id>        toggle a todo's completed flag
  remove <id>        remove a todo
  list               show the todo list
  queue              show pending operations
  status             show network, sync state and send stats
  online | offline   change connectivity
  refresh [key]      refetch stale resources
  help               show this help
  quit               sync what can be synced and exit`

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive todo client",
		Long: `Start the sync engine with the persisted client state and read commands
from stdin.

Changes apply locally at once and are sent in order while online; offline
they queue and are persisted, to drain on reconnect. With --marker-file the
client goes offline while that file exists. With --dashboard-port the
engine's state is streamed to WebSocket clients at /ws.

Example:
  offsync run --db ./client.db --endpoint http://127.0.0.1:4000/graphql
  offsync run --db ./client.db --endpoint http://127.0.0.1:4000/graphql --marker-file /tmp/offline --dashboard-port 4001`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(opts, cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("marker-file", "", "treat the host as offline while this file exists")
	flags.Int("dashboard-port", 0, "serve the dashboard on this port (0 disables)")
	flags.Duration("retry-interval", defaultRetryInterval, "retry a halted queue this often (0 disables)")
	flags.Duration("default-ttl", 0, "staleness TTL for resources without one (0 keeps the engine default)")
	flags.Duration("poll-interval", defaultPollInterval, "check resources for staleness this often")
	rootOpts.bind(flags, "marker-file", "dashboard-port", "retry-interval", "default-ttl", "poll-interval")

	return cmd
}

func runClient(opts *RunOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	logger := opts.logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var extra []engine.Option
	if cfg.RetryInterval > 0 {
		extra = append(extra, engine.WithRetryInterval(cfg.RetryInterval))
	}
	s, err := openSession(ctx, cfg, logger, opts.Sender, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.kv.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	s.engine.Subscribe(func(n engine.Notification) {
		switch n.Kind {
		case engine.NotifySent:
			logger.Info("operation sent", "kind", n.Operation.Kind, "seq", n.Operation.Seq, "queued", n.QueueLen)
		case engine.NotifyFailed:
			logger.Warn("operation failed", "kind", n.Operation.Kind, "seq", n.Operation.Seq, "error", n.Error)
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- s.engine.Run(runCtx) }()

	if cfg.MarkerFile != "" {
		sig, err := hostsignal.NewFileSignal(cfg.MarkerFile, s.engine.Monitor(), logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --marker-file", err)
		}
		if err := sig.Start(); err != nil {
			return WrapExitError(ExitCommandError, "failed to watch marker file", err)
		}
		defer sig.Stop()
	}

	if cfg.DashboardPort > 0 {
		dash := dashboard.New(s.engine, dashboard.WithLogger(logger))
		if err := dash.Start(fmt.Sprintf("127.0.0.1:%d", cfg.DashboardPort)); err != nil {
			return WrapExitError(ExitCommandError, "failed to start dashboard", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer stopCancel()
			if err := dash.Stop(stopCtx); err != nil {
				logger.Warn("dashboard shutdown", "error", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Dashboard at ws://%s/ws\n", dash.Addr())
	}

	if cfg.PollInterval > 0 {
		go refreshLoop(runCtx, s, cfg.PollInterval)
	}

	if s.restored {
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %d todo(s), %d queued operation(s).\n", len(s.todos.List()), len(s.engine.Queue()))
	}
	s.engine.Monitor().MarkReady()
	fmt.Fprintln(cmd.OutOrStdout(), "Type 'help' for commands.")

	client := &repl{s: s, out: cmd.OutOrStdout(), settleTimeout: settleTimeout(cfg)}
	client.loop(ctx, cmd.InOrStdin())

	// Let in-flight and reachable queued sends finish before stopping.
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), client.settleTimeout)
	if err := s.engine.Settle(settleCtx); err != nil {
		logger.Warn("exiting with sync unsettled", "error", err)
	}
	settleCancel()

	s.engine.Stop()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	logger.Info("engine stopped gracefully", "queued", len(s.engine.Queue()))
	return nil
}

// settleTimeout bounds how long a command waits for sync to settle.
func settleTimeout(cfg Config) time.Duration {
	if cfg.RequestTimeout <= 0 {
		return 2 * defaultRequestTimeout
	}
	return 2 * cfg.RequestTimeout
}

// refreshLoop refetches stale resources every interval.
func refreshLoop(ctx context.Context, s *session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range s.catalog.ResourceKeys() {
				s.engine.CheckAndRefresh(key)
			}
		}
	}
}

// repl reads client commands line by line.
type repl struct {
	s             *session
	out           io.Writer
	settleTimeout time.Duration
}

// loop runs commands until quit, end of input or ctx is done.
func (r *repl) loop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !r.exec(ctx, line) {
				return
			}
		}
	}
}

// exec runs one command line and reports whether to keep reading.
func (r *repl) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	name, args := fields[0], fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), name))

	var err error
	switch name {
	case "quit", "exit":
		return false
	case "help":
		fmt.Fprintln(r.out, runHelp)
	case "add":
		if rest == "" {
			err = errors.New("usage: add <title>")
			break
		}
		err = r.dispatch(ctx, state.AddTodo, ir.Obj(ir.O("title", ir.IRString(rest))))
	case "toggle", "remove":
		if len(args) != 1 {
			err = fmt.Errorf("usage: %s <id>", name)
			break
		}
		err = r.mutate(ctx, name, args[0])
	case "list":
		printTodos(r.out, r.s.todos.List())
	case "queue":
		r.printQueue()
	case "status":
		r.printStatus()
	case "online":
		r.s.engine.Monitor().SetOnline(true)
		r.settle(ctx)
		r.printStatus()
	case "offline":
		r.s.engine.Monitor().SetOnline(false)
		r.settle(ctx)
		r.printStatus()
	case "refresh":
		keys := args
		if len(keys) == 0 {
			keys = r.s.catalog.ResourceKeys()
		}
		for _, key := range keys {
			if r.s.engine.CheckAndRefresh(key) {
				fmt.Fprintf(r.out, "Refreshing %s\n", key)
			}
		}
		r.settle(ctx)
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", name)
	}

	if err != nil {
		fmt.Fprintf(r.out, "✗ %v\n", err)
	}
	return true
}

func (r *repl) mutate(ctx context.Context, name, clientID string) error {
	payload, err := r.s.serverPayload(clientID)
	if err != nil {
		return err
	}
	actionType := state.ToggleTodo
	if name == "remove" {
		actionType = state.RemoveTodo
	}
	return r.dispatch(ctx, actionType, payload)
}

func (r *repl) dispatch(ctx context.Context, actionType string, payload ir.IRObject) error {
	action, err := r.s.dispatch(actionType, payload)
	if err != nil {
		return err
	}
	r.settle(ctx)

	st := r.s.engine.Status()
	if st.Status == ir.StatusError {
		fmt.Fprintf(r.out, "✗ %s queued, sync halted: %s\n", actionType, st.Error)
		return nil
	}
	label := actionType
	if cid, ok := action.Payload.String(ir.KeyClientID); ok {
		label += " " + cid
	}
	fmt.Fprintf(r.out, "✓ %s (%d queued)\n", label, len(r.s.engine.Queue()))
	return nil
}

// settle waits for the engine to work through what the last command set
// off, so the next prompt sees its effect.
func (r *repl) settle(ctx context.Context) {
	settleCtx, cancel := context.WithTimeout(ctx, r.settleTimeout)
	defer cancel()
	if err := r.s.engine.Settle(settleCtx); err != nil {
		r.s.logger.Warn("sync still in progress", "error", err)
	}
}

func (r *repl) printQueue() {
	queue := r.s.engine.Queue()
	if len(queue) == 0 {
		fmt.Fprintln(r.out, "Queue empty.")
		return
	}
	fmt.Fprintf(r.out, "%d queued operation(s):\n", len(queue))
	for _, op := range queue {
		fmt.Fprintf(r.out, "  %4d  %-24s  %s\n", op.Seq, op.Kind, shortID(op.ID))
	}
}

func (r *repl) printStatus() {
	network := r.s.engine.Monitor().State()
	st := r.s.engine.Status()
	stats := r.s.engine.Stats()

	online := "offline"
	if network.Online {
		online = "online"
	}
	fmt.Fprintf(r.out, "Network: %s  Sync: %s  Queued: %d\n", online, st.Status, len(r.s.engine.Queue()))
	if st.Error != "" {
		fmt.Fprintf(r.out, "  error: %s\n", st.Error)
	}
	fmt.Fprintf(r.out, "Sent: %d  Failed: %d  Avg latency: %s\n", stats.Sent, stats.Failed, stats.AvgLatency.Round(time.Millisecond))
	if polls := r.s.engine.ActivePolls(); len(polls) > 0 {
		fmt.Fprintf(r.out, "Polling: %s\n", strings.Join(polls, ", "))
	}
}
