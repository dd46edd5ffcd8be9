package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/offsync/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is resolved from flags, OFFSYNC_* environment variables and
	// the --config file before any command runs.
	Config Config

	// Logger is built from Config in PersistentPreRunE.
	Logger *slog.Logger

	// Sender overrides --endpoint (for testing).
	Sender engine.Sender

	v       *viper.Viper
	logSink io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// EnvPrefix is the prefix of environment variables read as configuration.
const EnvPrefix = "OFFSYNC"

// NewRootCommand creates the root command for the offsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.v == nil {
		opts.v = viper.New()
	}

	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "offsync - offline-first sync engine",
		Long: `An offline-first synchronization engine for todo clients.

User actions apply to local state immediately. Syncable actions become
operations that are sent to a GraphQL backend when online and queued
durably when not; the queue drains in order on reconnect.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			logger, sink, err := newLogger(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open log file", err)
			}
			opts.Logger, opts.logSink = logger, sink
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logSink != nil {
				return opts.logSink.Close()
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-file", "", "write logs to this file, rotated")
	flags.String("db", "", "path to the snapshot database")
	flags.String("backend", "sqlite", "snapshot store backend (sqlite|badger)")
	flags.String("endpoint", "", "GraphQL endpoint URL")
	flags.String("catalog", "", "operation catalog (.cue); empty uses the built-in todo catalog")
	flags.Duration("request-timeout", defaultRequestTimeout, "timeout for a single server request")
	opts.bind(flags, "verbose", "format", "config", "log-file", "db", "backend", "endpoint", "catalog", "request-timeout")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// logger returns the configured logger, or slog.Default() when the root
// command has not run (subcommands built on their own in tests).
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
