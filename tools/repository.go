// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentryvolt/sidecar/store"
)

// Repository errors
var (
	ErrOverrideNotFound = errors.New("tool override not found")
	ErrToolNotFound     = errors.New("custom tool not found")
	ErrToolExists       = errors.New("custom tool already exists")
)

// Repository is the typed accessor for tool overrides and the
// custom-tool registry.
type Repository struct {
	store *store.Store
}

// NewRepository creates a repository backed by the shared store.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// UpsertOverride creates or replaces the override for a tool.
func (r *Repository) UpsertOverride(ctx context.Context, o *ToolOverride) error {
	if !o.Action.Valid() {
		return fmt.Errorf("invalid action %q", o.Action)
	}
	o.UpdatedAt = time.Now().UTC()

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tool_overrides (tool_id, action, max_calls, window_seconds, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tool_id) DO UPDATE SET
				action = excluded.action,
				max_calls = excluded.max_calls,
				window_seconds = excluded.window_seconds,
				updated_at = excluded.updated_at`,
			o.ToolID, string(o.Action), nullInt(o.MaxCalls), nullInt(o.WindowSeconds), o.UpdatedAt,
		)
		return err
	})
}

// GetOverride fetches the override for a tool id.
func (r *Repository) GetOverride(ctx context.Context, toolID string) (*ToolOverride, error) {
	var o ToolOverride
	var action string
	var maxCalls, windowSeconds sql.NullInt64
	err := r.store.DB.QueryRowContext(ctx, `
		SELECT tool_id, action, max_calls, window_seconds, updated_at
		FROM tool_overrides WHERE tool_id = ?`, toolID).
		Scan(&o.ToolID, &action, &maxCalls, &windowSeconds, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOverrideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool override: %w", err)
	}
	o.Action = Action(action)
	if maxCalls.Valid {
		v := int(maxCalls.Int64)
		o.MaxCalls = &v
	}
	if windowSeconds.Valid {
		v := int(windowSeconds.Int64)
		o.WindowSeconds = &v
	}
	return &o, nil
}

// DeleteOverride removes the override, reverting the tool to its
// registry default.
func (r *Repository) DeleteOverride(ctx context.Context, toolID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM tool_overrides WHERE tool_id = ?`, toolID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrOverrideNotFound
		}
		return nil
	})
}

// ListOverrides returns every tool override.
func (r *Repository) ListOverrides(ctx context.Context) ([]ToolOverride, error) {
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT tool_id, action, max_calls, window_seconds, updated_at
		FROM tool_overrides ORDER BY tool_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool overrides: %w", err)
	}
	defer rows.Close()

	var overrides []ToolOverride
	for rows.Next() {
		var o ToolOverride
		var action string
		var maxCalls, windowSeconds sql.NullInt64
		if err := rows.Scan(&o.ToolID, &action, &maxCalls, &windowSeconds, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Action = Action(action)
		if maxCalls.Valid {
			v := int(maxCalls.Int64)
			o.MaxCalls = &v
		}
		if windowSeconds.Valid {
			v := int(windowSeconds.Int64)
			o.WindowSeconds = &v
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// CreateCustomTool registers a user-defined tool.
func (r *Repository) CreateCustomTool(ctx context.Context, t *CustomTool) error {
	if !t.Tier.Valid() {
		return fmt.Errorf("invalid risk tier %q", t.Tier)
	}
	if !t.DefaultAction.Valid() {
		return fmt.Errorf("invalid action %q", t.DefaultAction)
	}
	t.CreatedAt = time.Now().UTC()

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO custom_tools (tool_id, label, risk_tier, default_action, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			t.ToolID, t.Label, string(t.Tier), string(t.DefaultAction), t.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrToolExists
		}
		return nil
	})
}

// GetCustomTool fetches a custom tool by id.
func (r *Repository) GetCustomTool(ctx context.Context, toolID string) (*CustomTool, error) {
	var t CustomTool
	var tier, action string
	err := r.store.DB.QueryRowContext(ctx, `
		SELECT tool_id, label, risk_tier, default_action, created_at
		FROM custom_tools WHERE tool_id = ?`, toolID).
		Scan(&t.ToolID, &t.Label, &tier, &action, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrToolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom tool: %w", err)
	}
	t.Tier = RiskTier(tier)
	t.DefaultAction = Action(action)
	return &t, nil
}

// ListCustomTools returns every registered custom tool.
func (r *Repository) ListCustomTools(ctx context.Context) ([]CustomTool, error) {
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT tool_id, label, risk_tier, default_action, created_at
		FROM custom_tools ORDER BY tool_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom tools: %w", err)
	}
	defer rows.Close()

	var list []CustomTool
	for rows.Next() {
		var t CustomTool
		var tier, action string
		if err := rows.Scan(&t.ToolID, &t.Label, &tier, &action, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Tier = RiskTier(tier)
		t.DefaultAction = Action(action)
		list = append(list, t)
	}
	return list, rows.Err()
}

// DeleteCustomTool removes a custom tool.
func (r *Repository) DeleteCustomTool(ctx context.Context, toolID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM custom_tools WHERE tool_id = ?`, toolID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrToolNotFound
		}
		return nil
	})
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
