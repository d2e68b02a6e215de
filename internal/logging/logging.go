package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	Time   bool
	Color  bool
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// New returns a logger writing to w in the configured format.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(opts.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case "", "text":
		return slog.New(NewTextHandler(w, level, opts.Time, opts.Color)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", opts.Format)
}

// Component returns a child logger whose records are tagged with name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(ComponentKey, name)
}
