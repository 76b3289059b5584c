// Package common holds shared service metadata and logger setup.
package common

import (
	"log/slog"
	"os"
)

// PackageName identifies the service in logs and metrics.
const PackageName = "overlay-provisioning-backend"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Debug lowers the log level to debug.
	Debug bool
	// JSON switches the handler to JSON output.
	JSON bool
	// Service is added as a "service" attribute to all records.
	Service string
	// Version is added as a "version" attribute to all records.
	Version string
}

// SetupLogger creates a slog logger writing to stderr.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}
