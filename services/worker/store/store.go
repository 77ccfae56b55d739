// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists sessions, the pending message queue, and all
// extracted memory records in a single SQLite file.
//
// The database is opened in WAL mode with a busy timeout and a single
// connection, which serializes writers without application-level locking
// and keeps the file safe to inspect with external tools while the
// daemon runs. All timestamps are epoch milliseconds assigned at insert
// time by this package.
package store

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config describes where and how to open the database.
type Config struct {
	// Path is the SQLite file location. "~" is expanded to the user's
	// home directory and parent directories are created as needed.
	Path string

	// LogLevel controls gorm's own statement logging. Defaults to
	// logger.Warn, which surfaces slow queries and errors only.
	LogLevel logger.LogLevel
}

// Store owns the database handle and the pending-queue wakeup channels.
type Store struct {
	db *gorm.DB

	mu        sync.Mutex
	notifiers map[int64][]chan struct{}
}

// Open opens (creating if necessary) the SQLite database at cfg.Path and
// migrates the schema.
//
// # Description
//
// The DSN enables WAL journaling, a 5 second busy timeout and foreign
// keys. The connection pool is pinned to a single connection: SQLite
// allows one writer at a time, and funneling all access through one
// connection turns would-be SQLITE_BUSY errors into ordinary queueing.
//
// # Outputs
//
//   - *Store: ready for use.
//   - error: when the directory cannot be created, the file cannot be
//     opened, or migration fails.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Warn
	}

	path := expandPath(cfg.Path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)

	gormLog := logger.New(
		log.New(&slogWriter{}, "", 0),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  cfg.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{
		db:        db,
		notifiers: make(map[int64][]chan struct{}),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Session{},
		&PendingMessage{},
		&Observation{},
		&Summary{},
		&UserPrompt{},
	)
}

// subscribePending registers a wakeup channel for a session's queue.
// The channel has capacity one so notifications coalesce.
func (s *Store) subscribePending(sessionID int64) chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.notifiers[sessionID] = append(s.notifiers[sessionID], ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) unsubscribePending(sessionID int64, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.notifiers[sessionID]
	for i, c := range subs {
		if c == ch {
			s.notifiers[sessionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.notifiers[sessionID]) == 0 {
		delete(s.notifiers, sessionID)
	}
}

// notifyPending wakes every iterator blocked on the session's queue.
func (s *Store) notifyPending(sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.notifiers[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func epochNow() int64 {
	return time.Now().UnixMilli()
}

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

// slogWriter forwards gorm's log lines to the process slog logger.
type slogWriter struct{}

func (w *slogWriter) Write(p []byte) (int, error) {
	slog.Debug("gorm", "msg", strings.TrimSpace(string(p)))
	return len(p), nil
}
