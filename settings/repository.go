// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentryvolt/sidecar/store"
)

// ErrInvalidRetention rejects out-of-range retention values before the
// schema CHECK fires with a less useful message.
var ErrInvalidRetention = errors.New("retention_days must be between 1 and 365")

// Repository is the typed accessor for the singleton settings row.
type Repository struct {
	store *store.Store
}

// NewRepository creates a repository backed by the shared store.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// Get reads the singleton row. It always exists: the initial migration
// inserts it.
func (r *Repository) Get(ctx context.Context) (*Settings, error) {
	row := r.store.DB.QueryRowContext(ctx, `
		SELECT theme, host, port, retention_days, store_text, notifications,
		       launch_on_startup, minimize_to_tray, window_state,
		       cloud_enabled, cloud_email, cloud_connected_at
		FROM settings WHERE id = 1`)

	var s Settings
	var windowState, cloudEmail sql.NullString
	var cloudConnectedAt sql.NullTime
	if err := row.Scan(&s.Theme, &s.Host, &s.Port, &s.RetentionDays,
		&s.StoreText, &s.Notifications, &s.LaunchOnStartup, &s.MinimizeToTray,
		&windowState, &s.CloudEnabled, &cloudEmail, &cloudConnectedAt); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	s.WindowState = windowState.String
	s.CloudEmail = cloudEmail.String
	if cloudConnectedAt.Valid {
		t := cloudConnectedAt.Time
		s.CloudConnectedAt = &t
	}
	return &s, nil
}

// Update rewrites the singleton row.
func (r *Repository) Update(ctx context.Context, s *Settings) error {
	if s.RetentionDays < 1 || s.RetentionDays > 365 {
		return ErrInvalidRetention
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE settings SET theme = ?, host = ?, port = ?, retention_days = ?,
				store_text = ?, notifications = ?, launch_on_startup = ?,
				minimize_to_tray = ?, window_state = ?
			WHERE id = 1`,
			s.Theme, s.Host, s.Port, s.RetentionDays,
			s.StoreText, s.Notifications, s.LaunchOnStartup,
			s.MinimizeToTray, nullable(s.WindowState),
		)
		return err
	})
}

// SetCloud records cloud-mode connection state. Credentials themselves
// go to the OS keychain, never the database.
func (r *Repository) SetCloud(ctx context.Context, enabled bool, email string) error {
	var connectedAt interface{}
	if enabled {
		connectedAt = time.Now().UTC()
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE settings SET cloud_enabled = ?, cloud_email = ?, cloud_connected_at = ?
			WHERE id = 1`,
			enabled, nullable(email), connectedAt,
		)
		return err
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
