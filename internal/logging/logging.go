// Package logging builds the slog loggers used by the commands and adapts
// them to libraries with their own logger interfaces.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Config holds logger configuration.
type Config struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	AddSource bool   `yaml:"addSource"`
}

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New creates a logger writing to w.
func New(w io.Writer, cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// Badger adapts l to badger's printf-style logger.
func Badger(l *slog.Logger) badger.Logger {
	return badgerLogger{l.With("component", "badger")}
}

type badgerLogger struct {
	l *slog.Logger
}

var _ badger.Logger = badgerLogger{}

func trim(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(trim(format, args))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(trim(format, args))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Info(trim(format, args))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(trim(format, args))
}
