// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for the engram daemon and CLI.
//
// The package wraps log/slog with a small amount of plumbing: a level type
// that parses from configuration strings, optional mirroring of all records
// to a JSON log file, and a quiet mode that silences stderr for use under
// another program's terminal UI.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level controls the minimum severity of records that are emitted.
type Level int

const (
	// LevelDebug emits everything, including per-message protocol traces.
	LevelDebug Level = iota

	// LevelInfo is the default operating level.
	LevelInfo

	// LevelWarn emits only warnings and errors.
	LevelWarn

	// LevelError emits only errors.
	LevelError
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a configuration string to a Level. Unrecognized values
// fall back to LevelInfo so a typo in an environment variable never
// silences the daemon entirely.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config describes how a Logger should be constructed.
type Config struct {
	// Level is the minimum severity to emit. Defaults to LevelInfo.
	Level Level

	// Service is attached to every record as the "service" attribute.
	Service string

	// LogDir, when set, mirrors all records to a JSON file named
	// <service>.log inside the directory. The directory is created if
	// it does not exist and "~" is expanded to the user's home.
	LogDir string

	// JSON switches the stderr handler from human-readable text to JSON.
	JSON bool

	// Quiet suppresses the stderr handler entirely. File logging, when
	// configured, is unaffected.
	Quiet bool
}

// Logger is a leveled structured logger backed by one or more slog handlers.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a Logger from cfg.
//
// # Description
//
// At least one handler is always installed: if Quiet is set and no LogDir
// is given, records go to a discard handler so call sites never need a nil
// check. Opening the log file is the only fallible step.
//
// # Inputs
//
//   - cfg: handler selection and minimum level.
//
// # Outputs
//
//   - *Logger: ready to use, never nil on success.
//   - error: non-nil when the log directory or file cannot be created.
func New(cfg Config) (*Logger, error) {
	if cfg.Service == "" {
		cfg.Service = "engram"
	}

	var handlers []slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlog()}

	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	var file *os.File
	if cfg.LogDir != "" {
		dir := expandPath(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		path := filepath.Join(dir, cfg.Service+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		file = f
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, opts))
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = &multiHandler{handlers: handlers}
	}
	h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})

	return &Logger{slog: slog.New(h), file: file}, nil
}

// Default returns a stderr text logger at info level. It never fails.
func Default() *Logger {
	lg, _ := New(Config{Service: "engram"})
	return lg
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a Logger whose records carry the given additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

// Slog exposes the underlying *slog.Logger for libraries that accept one,
// and for installing as the process default via slog.SetDefault.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close flushes and closes the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// multiHandler fans a record out to every wrapped handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// expandPath expands a leading "~" to the current user's home directory.
func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
	}
	return p
}

// Timestamp returns the current wall-clock time in epoch milliseconds.
// Every persisted record and live event in engram uses this resolution.
func Timestamp() int64 {
	return time.Now().UnixMilli()
}
