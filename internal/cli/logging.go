package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for --log-file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// newLogger builds the process logger: text on stderr, or JSON when the
// output format is json, at debug level with --verbose. With a log file
// set, records go to a rotating file instead of stderr and the returned
// closer must be closed on exit.
func newLogger(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var (
		w      = stderr
		closer io.Closer
	)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		w, closer = rotating, rotating
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), closer, nil
}
