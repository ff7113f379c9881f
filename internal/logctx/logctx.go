// Package logctx sets up the daemon's structured logging. Every component
// gets its own named logger so log lines carry "component=keyboard";
// no logger here is ever handed a title, URL, path, or key character — only
// monitor names, counts, durations, and hash prefixes.
package logctx

import (
	"io"
	"log/slog"
	"os"
)

var root *slog.Logger

func init() {
	root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Init wires the root logger to stderr plus an optional log file, at the
// given level ("debug", "info", "warn", "error").
func Init(level string, logFile string) error {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writers := []io.Writer{os.Stderr}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})
	root = slog.New(handler)
	slog.SetDefault(root)
	return nil
}

// For returns a logger scoped to a component name, e.g. "monitor.keyboard" or
// "spool" or "quota". Callers attach additional key/value pairs with .With.
func For(component string) *slog.Logger {
	return root.With("component", component)
}
