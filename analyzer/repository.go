// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentryvolt/sidecar/store"
)

// Repository errors
var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrRuleExists       = errors.New("rule already exists")
	ErrOverrideNotFound = errors.New("rule override not found")
)

// RulesRepository is the typed accessor for rules and rule overrides.
// Callers never build queries against the rules tables directly.
type RulesRepository struct {
	store *store.Store
}

// NewRulesRepository creates a repository backed by the shared store.
func NewRulesRepository(s *store.Store) *RulesRepository {
	return &RulesRepository{store: s}
}

// CreateRule inserts a new rule. The caller is responsible for pattern
// validation; the repository only enforces storage constraints.
func (r *RulesRepository) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	patterns, err := json.Marshal(rule.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}
	metadata, err := marshalMetadata(rule.Metadata)
	if err != nil {
		return err
	}

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO rules (id, name, category, description, severity, patterns,
				enabled, source, origin_file, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, rule.Name, rule.Category, rule.Description, string(rule.Severity),
			string(patterns), rule.Enabled, string(rule.Source),
			nullString(rule.OriginFile), metadata, rule.CreatedAt, rule.UpdatedAt,
		)
		if err != nil && isUniqueViolation(err) {
			return ErrRuleExists
		}
		return err
	})
}

// GetRule fetches one rule by id.
func (r *RulesRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := r.store.DB.QueryRowContext(ctx, `
		SELECT id, name, category, description, severity, patterns, enabled,
		       source, origin_file, metadata, created_at, updated_at
		FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// ListRules returns all rules, optionally filtered by source.
func (r *RulesRepository) ListRules(ctx context.Context, source RuleSource) ([]Rule, error) {
	query := `
		SELECT id, name, category, description, severity, patterns, enabled,
		       source, origin_file, metadata, created_at, updated_at
		FROM rules`
	args := []interface{}{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY category, name`

	rows, err := r.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// UpdateRule rewrites the mutable fields of an existing rule.
func (r *RulesRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	patterns, err := json.Marshal(rule.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}
	metadata, err := marshalMetadata(rule.Metadata)
	if err != nil {
		return err
	}

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE rules SET name = ?, category = ?, description = ?, severity = ?,
				patterns = ?, enabled = ?, metadata = ?, updated_at = ?
			WHERE id = ?`,
			rule.Name, rule.Category, rule.Description, string(rule.Severity),
			string(patterns), rule.Enabled, metadata, time.Now().UTC(), rule.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrRuleNotFound
		}
		return nil
	})
}

// DeleteRule removes a rule and, via the foreign key, its override.
func (r *RulesRepository) DeleteRule(ctx context.Context, id string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM rules WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrRuleNotFound
		}
		return nil
	})
}

// CountBySource returns rule counts keyed by source.
func (r *RulesRepository) CountBySource(ctx context.Context) (map[RuleSource]int, error) {
	rows, err := r.store.DB.QueryContext(ctx, `SELECT source, COUNT(*) FROM rules GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}
	defer rows.Close()

	counts := make(map[RuleSource]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[RuleSource(source)] = n
	}
	return counts, rows.Err()
}

// HasCommunityRules reports whether the community cache has been seeded.
func (r *RulesRepository) HasCommunityRules(ctx context.Context) (bool, error) {
	var n int
	err := r.store.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rules WHERE source = 'community'`).Scan(&n)
	return n > 0, err
}

// UpsertOverride creates or replaces the single override for a rule.
func (r *RulesRepository) UpsertOverride(ctx context.Context, o *RuleOverride) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.UpdatedAt = time.Now().UTC()

	var patterns interface{}
	if o.Patterns != nil {
		b, err := json.Marshal(o.Patterns)
		if err != nil {
			return fmt.Errorf("failed to marshal override patterns: %w", err)
		}
		patterns = string(b)
	}
	var severity interface{}
	if o.Severity != nil {
		severity = string(*o.Severity)
	}
	var enabled interface{}
	if o.Enabled != nil {
		enabled = *o.Enabled
	}

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO rule_overrides (id, rule_id, enabled, severity, patterns, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(rule_id) DO UPDATE SET
				enabled = excluded.enabled,
				severity = excluded.severity,
				patterns = excluded.patterns,
				updated_at = excluded.updated_at`,
			o.ID, o.RuleID, enabled, severity, patterns, o.UpdatedAt,
		)
		return err
	})
}

// DeleteOverride removes the override for a rule, reverting it to the
// community defaults.
func (r *RulesRepository) DeleteOverride(ctx context.Context, ruleID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM rule_overrides WHERE rule_id = ?`, ruleID)
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

// ListOverrides returns all rule overrides.
func (r *RulesRepository) ListOverrides(ctx context.Context) ([]RuleOverride, error) {
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT id, rule_id, enabled, severity, patterns, updated_at
		FROM rule_overrides`)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []RuleOverride
	for rows.Next() {
		var o RuleOverride
		var enabled sql.NullBool
		var severity, patterns sql.NullString
		if err := rows.Scan(&o.ID, &o.RuleID, &enabled, &severity, &patterns, &o.UpdatedAt); err != nil {
			return nil, err
		}
		if enabled.Valid {
			v := enabled.Bool
			o.Enabled = &v
		}
		if severity.Valid {
			s := Severity(severity.String)
			o.Severity = &s
		}
		if patterns.Valid {
			if err := json.Unmarshal([]byte(patterns.String), &o.Patterns); err != nil {
				return nil, fmt.Errorf("failed to unmarshal override patterns: %w", err)
			}
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// ListEnabled returns every rule that should participate in matching:
// enabled community and custom rules, with override enabled/severity/
// patterns already applied.
func (r *RulesRepository) ListEnabled(ctx context.Context) ([]Rule, error) {
	rules, err := r.ListRules(ctx, "")
	if err != nil {
		return nil, err
	}
	overrides, err := r.ListOverrides(ctx)
	if err != nil {
		return nil, err
	}
	byRule := make(map[string]RuleOverride, len(overrides))
	for _, o := range overrides {
		byRule[o.RuleID] = o
	}

	enabled := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if o, ok := byRule[rule.ID]; ok {
			if o.Enabled != nil {
				rule.Enabled = *o.Enabled
			}
			if o.Severity != nil {
				rule.Severity = *o.Severity
			}
			if o.Patterns != nil {
				rule.Patterns = o.Patterns
			}
		}
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var severity, source string
	var patterns string
	var description, originFile, metadata sql.NullString
	err := row.Scan(&rule.ID, &rule.Name, &rule.Category, &description, &severity,
		&patterns, &rule.Enabled, &source, &originFile, &metadata,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.Description = description.String
	rule.Severity = Severity(severity)
	rule.Source = RuleSource(source)
	rule.OriginFile = originFile.String
	if err := json.Unmarshal([]byte(patterns), &rule.Patterns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patterns for rule %s: %w", rule.ID, err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rule.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for rule %s: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

func marshalMetadata(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
