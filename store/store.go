// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package store owns the embedded sqlite database: opening it with the
// journaling and integrity options the sidecar requires, applying the
// forward-only schema migrations, and reporting store health.
//
// Concurrency contract: the store is a single-writer resource. Writers
// go through WithTx, which serializes on a process-wide mutex; readers
// issue short autocommit queries directly against DB.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"sentryvolt/sidecar/shared/logger"
)

// Store wraps the sqlite handle and the single-writer lock shared by
// every repository.
type Store struct {
	DB *sql.DB

	path    string
	writeMu sync.Mutex
	log     *logger.Logger
}

// Health describes the current state of the store.
type Health struct {
	Connected      bool   `json:"connected"`
	SchemaVersion  int    `json:"schema_version"`
	TargetVersion  int    `json:"target_version"`
	RecordCount    int64  `json:"record_count"`
	DatabasePath   string `json:"database_path"`
	PendingMigrate bool   `json:"pending_migrations"`
}

// Open opens (creating if necessary) the database file at path with
// write-ahead logging, foreign keys, and a busy timeout, then applies
// any pending migrations. A migration failure is fatal to startup and
// is returned as an error.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		DB:   db,
		path: path,
		log:  logger.New("store"),
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open handle. The caller keeps ownership
// of the handle's lifecycle and migrations.
func NewWithDB(db *sql.DB, path string) *Store {
	return &Store{
		DB:   db,
		path: path,
		log:  logger.New("store"),
	}
}

// WithTx runs fn inside a write transaction, holding the single-writer
// lock for the duration. The transaction is rolled back when fn errors.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Errorf("", "", "rollback failed", rbErr, nil)
		}
		return err
	}
	return tx.Commit()
}

// Health reports connectivity, schema version, and the event record count.
func (s *Store) Health(ctx context.Context) Health {
	h := Health{DatabasePath: s.path, TargetVersion: TargetVersion()}

	if err := s.DB.PingContext(ctx); err != nil {
		return h
	}
	h.Connected = true

	version, err := s.currentVersion(ctx)
	if err == nil {
		h.SchemaVersion = version
	}
	h.PendingMigrate = h.SchemaVersion < h.TargetVersion

	var count int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err == nil {
		h.RecordCount = count
	}
	return h
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}
