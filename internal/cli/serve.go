package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/devserver"
)

const defaultServeAddr = "127.0.0.1:4000"

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory todo GraphQL backend",
		Long: `Serve an in-memory todo backend over HTTP for local development.

It answers the todos query and the addTodo, toggleTodo and deleteTodo
mutations at /graphql, replays the reply of a request whose
Idempotency-Key it has already answered, and starts with two seed todos.

Example:
  offsync serve --addr 127.0.0.1:4000
  offsync run --endpoint http://127.0.0.1:4000/graphql --db ./client.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}

	cmd.Flags().String("addr", defaultServeAddr, "listen address")
	rootOpts.bind(cmd.Flags(), "addr")

	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	backend := devserver.New(devserver.WithTodos(devserver.DefaultTodos()), devserver.WithLogger(logger))

	mux := http.NewServeMux()
	mux.Handle("/graphql", backend.Handler())

	ln, err := net.Listen("tcp", opts.Config.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	logger.Info("backend listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving todo backend at http://%s/graphql\n", ln.Addr())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server shutdown", err)
	}
	logger.Info("backend stopped")
	return nil
}
