// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is a single forward-only schema change. Versions are
// monotonic and never re-ordered or rewritten; the schema_version table
// is the source of truth for what has been applied.
type Migration struct {
	Version     int
	Description string
	Apply       func(tx *sql.Tx) error
}

// migrations is the ordered registry of every schema version. Append
// only; never edit an entry that has shipped.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Apply:       applyInitialSchema,
	},
	{
		Version:     2,
		Description: "seed default pricing",
		Apply:       seedDefaultPricing,
	},
	{
		Version:     3,
		Description: "index events by session",
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`)
			return err
		},
	},
}

// TargetVersion returns the highest schema version this build supports.
func TargetVersion() int {
	return migrations[len(migrations)-1].Version
}

// Migrate brings the database schema up to the target version. Each
// migration runs inside its own transaction together with its
// schema_version row, so a crash mid-migration leaves the recorded
// version consistent with the actual schema.
func (s *Store) Migrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMP NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to ensure schema_version table: %w", err)
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if err := m.Apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
		s.log.Info("", "", "applied migration", map[string]interface{}{
			"version":     m.Version,
			"description": m.Description,
		})
	}
	return nil
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func applyInitialSchema(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE events (
			id              TEXT PRIMARY KEY,
			request_id      TEXT,
			content         TEXT,
			content_hash    TEXT NOT NULL,
			content_length  INTEGER NOT NULL DEFAULT 0,
			is_threat       INTEGER NOT NULL DEFAULT 0,
			threat_type     TEXT NOT NULL DEFAULT 'none',
			risk_score      INTEGER NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 100),
			confidence      REAL NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 1),
			matched_rules   TEXT NOT NULL DEFAULT '[]',
			source          TEXT,
			session_id      TEXT,
			processing_ms   REAL NOT NULL DEFAULT 0,
			metadata        TEXT,
			review          TEXT,
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_events_created_at ON events(created_at)`,
		`CREATE INDEX idx_events_is_threat ON events(is_threat)`,
		`CREATE INDEX idx_events_threat_type ON events(threat_type)`,
		`CREATE INDEX idx_events_source ON events(source)`,

		`CREATE TABLE rules (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			category    TEXT NOT NULL,
			description TEXT,
			severity    TEXT NOT NULL CHECK (severity IN ('low','medium','high','critical')),
			patterns    TEXT NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 1,
			source      TEXT NOT NULL CHECK (source IN ('community','custom')),
			origin_file TEXT,
			metadata    TEXT,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_rules_enabled ON rules(enabled)`,
		`CREATE INDEX idx_rules_source ON rules(source)`,

		`CREATE TABLE rule_overrides (
			id         TEXT PRIMARY KEY,
			rule_id    TEXT NOT NULL UNIQUE REFERENCES rules(id) ON DELETE CASCADE,
			enabled    INTEGER,
			severity   TEXT CHECK (severity IS NULL OR severity IN ('low','medium','high','critical')),
			patterns   TEXT,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE tool_overrides (
			tool_id        TEXT PRIMARY KEY,
			action         TEXT NOT NULL CHECK (action IN ('block','allow','log_only')),
			max_calls      INTEGER,
			window_seconds INTEGER,
			updated_at     TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE custom_tools (
			tool_id        TEXT PRIMARY KEY,
			label          TEXT NOT NULL,
			risk_tier      TEXT NOT NULL CHECK (risk_tier IN ('read','write','delete','admin')),
			default_action TEXT NOT NULL CHECK (default_action IN ('block','allow','log_only')),
			created_at     TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE pricing (
			provider        TEXT NOT NULL,
			model           TEXT NOT NULL,
			input_per_mtok  REAL NOT NULL CHECK (input_per_mtok >= 0),
			output_per_mtok REAL NOT NULL CHECK (output_per_mtok >= 0),
			PRIMARY KEY (provider, model)
		)`,

		`CREATE TABLE cost_records (
			id                  TEXT PRIMARY KEY,
			agent_id            TEXT NOT NULL,
			provider            TEXT NOT NULL,
			model               TEXT NOT NULL,
			input_tokens        INTEGER NOT NULL DEFAULT 0,
			output_tokens       INTEGER NOT NULL DEFAULT 0,
			cached_input_tokens INTEGER NOT NULL DEFAULT 0,
			input_cost          REAL NOT NULL DEFAULT 0,
			output_cost         REAL NOT NULL DEFAULT 0,
			total_cost          REAL NOT NULL DEFAULT 0,
			input_rate          REAL NOT NULL DEFAULT 0,
			output_rate         REAL NOT NULL DEFAULT 0,
			pricing_known       INTEGER NOT NULL DEFAULT 1,
			request_id          TEXT,
			created_at          TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_cost_agent_created ON cost_records(agent_id, created_at)`,
		`CREATE INDEX idx_cost_provider ON cost_records(provider)`,

		`CREATE TABLE budgets (
			scope_id        TEXT PRIMARY KEY,
			daily_limit_usd REAL CHECK (daily_limit_usd IS NULL OR daily_limit_usd >= 0),
			action          TEXT NOT NULL DEFAULT 'warn' CHECK (action IN ('warn','block')),
			updated_at      TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE settings (
			id                 INTEGER PRIMARY KEY CHECK (id = 1),
			theme              TEXT NOT NULL DEFAULT 'system',
			host               TEXT NOT NULL DEFAULT '127.0.0.1',
			port               INTEGER NOT NULL DEFAULT 8743,
			retention_days     INTEGER NOT NULL DEFAULT 30 CHECK (retention_days BETWEEN 1 AND 365),
			store_text         INTEGER NOT NULL DEFAULT 1,
			notifications      INTEGER NOT NULL DEFAULT 1,
			launch_on_startup  INTEGER NOT NULL DEFAULT 0,
			minimize_to_tray   INTEGER NOT NULL DEFAULT 1,
			window_state       TEXT,
			cloud_enabled      INTEGER NOT NULL DEFAULT 0,
			cloud_email        TEXT,
			cloud_connected_at TIMESTAMP
		)`,
		`INSERT INTO settings (id) VALUES (1)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}
	return nil
}

// seedDefaultPricing ships rates for the common models so cost records
// carry pricing_known = true out of the box. Rates are USD per million
// tokens and can be edited through the pricing API afterwards.
func seedDefaultPricing(tx *sql.Tx) error {
	rows := []struct {
		provider string
		model    string
		in, out  float64
	}{
		{"openai", "gpt-4o", 2.50, 10.00},
		{"openai", "gpt-4o-mini", 0.15, 0.60},
		{"openai", "gpt-4.1", 2.00, 8.00},
		{"openai", "o3-mini", 1.10, 4.40},
		{"anthropic", "claude-3-5-sonnet", 3.00, 15.00},
		{"anthropic", "claude-3-5-haiku", 0.80, 4.00},
		{"anthropic", "claude-3-opus", 15.00, 75.00},
		{"gemini", "gemini-1.5-pro", 1.25, 5.00},
		{"gemini", "gemini-1.5-flash", 0.075, 0.30},
		{"gemini", "gemini-2.0-flash", 0.10, 0.40},
		{"mistral", "mistral-large-latest", 2.00, 6.00},
		{"mistral", "mistral-small-latest", 0.20, 0.60},
		{"deepseek", "deepseek-chat", 0.27, 1.10},
		{"groq", "llama-3.3-70b-versatile", 0.59, 0.79},
		{"xai", "grok-2", 2.00, 10.00},
		{"ollama", "llama3", 0, 0},
	}
	for _, r := range rows {
		if _, err := tx.Exec(
			`INSERT INTO pricing (provider, model, input_per_mtok, output_per_mtok) VALUES (?, ?, ?, ?)`,
			r.provider, r.model, r.in, r.out,
		); err != nil {
			return err
		}
	}
	return nil
}
