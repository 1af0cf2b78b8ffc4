package shaderopt

import (
	"log/slog"

	"github.com/gogpu/shaderopt/internal/logging"
)

// SetLogger configures the logger for shaderopt and all its sub-packages.
// By default, shaderopt produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore silence.
//
// Log levels used by shaderopt:
//   - [slog.LevelDebug]: pass diagnostics (slot assignment, bindless fallbacks, progress)
//   - [slog.LevelError]: contract violations, just before the pass panics
//
// Example:
//
//	shaderopt.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return logging.L()
}
