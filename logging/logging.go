// Package logging builds the daemon's structured logger, grounded on
// encodeous-nylon/core/entrypoint.go's Start: a tint console handler for
// humans, optionally fanned out via slog-multi to a plain text file
// handler for persistence.
package logging

import (
	"log/slog"
	"os"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// New builds a *slog.Logger at the given level, with prefix identifying
// this node in the console output, optionally also writing to logFile.
func New(levelName, prefix, logFile string) (*slog.Logger, error) {
	level := parseLevel(levelName)

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    level <= slog.LevelDebug,
			CustomPrefix: prefix,
		}),
	}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
