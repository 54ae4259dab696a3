// Package logger configures structured logging for the orchestration
// core. Components take an optional *slog.Logger; hosts that want a
// consistent setup call Configure once at startup.
package logger

import (
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
)

// configMutex serializes Configure calls, which mutate process-global
// logging state (slog.SetDefault and the legacy log package).
var configMutex sync.Mutex //nolint:gochecknoglobals

// Options configures logging output.
type Options struct {
	// Subsystem is attached to every record as a "subsystem" attribute.
	Subsystem string
	// JSON selects JSON output; the default is text.
	JSON bool
	// MinLevel is the minimum level that will be logged.
	MinLevel slog.Level
	// Output defaults to os.Stdout.
	Output io.Writer
}

// Configure sets up the default slog logger (and redirects the legacy
// log package into it) and returns the configured logger. Thread-safe;
// concurrent calls are serialized.
func Configure(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{Level: opts.MinLevel})
	} else {
		handler = slog.NewTextHandler(opts.Output, &slog.HandlerOptions{Level: opts.MinLevel})
	}

	logger := slog.New(handler)
	if opts.Subsystem != "" {
		logger = logger.With("subsystem", opts.Subsystem)
	}

	slog.SetDefault(logger)

	// Third-party packages may still use the old log package; route it
	// through the same handler.
	def := log.Default()
	*def = *slog.NewLogLogger(handler, slog.LevelInfo)

	return logger
}

// Default returns the process default logger. Components use this when
// no logger was injected.
func Default() *slog.Logger {
	return slog.Default()
}
