// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentryvolt/sidecar/store"
)

// Repository errors
var (
	ErrPricingNotFound = errors.New("pricing entry not found")
	ErrBudgetNotFound  = errors.New("budget not found")
	ErrBadPagination   = errors.New("invalid pagination parameters")
	ErrBadAction       = errors.New("budget action must be warn or block")
	ErrNegativeRate    = errors.New("pricing rates must be non-negative")
)

// MaxPageSize caps a single cost-record listing page.
const MaxPageSize = 100

// Repository is the typed accessor for cost records, the pricing table
// and budgets.
type Repository struct {
	store *store.Store
}

// NewRepository creates a repository backed by the shared store.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// InsertCost persists one priced call. A zero ID and CreatedAt are
// filled in.
func (r *Repository) InsertCost(ctx context.Context, c *CostRecord) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO cost_records (id, agent_id, provider, model,
				input_tokens, output_tokens, cached_input_tokens,
				input_cost, output_cost, total_cost,
				input_rate, output_rate, pricing_known, request_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.AgentID, c.Provider, c.Model,
			c.InputTokens, c.OutputTokens, c.CachedInputTokens,
			c.InputCost, c.OutputCost, c.TotalCost,
			c.InputRate, c.OutputRate, c.PricingKnown, nullable(c.RequestID), c.CreatedAt,
		)
		return err
	})
}

// ListCosts returns a filtered page of cost records, newest first.
func (r *Repository) ListCosts(ctx context.Context, f Filter) (*Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page_size exceeds %d", ErrBadPagination, MaxPageSize)
	}

	var clauses []string
	var args []interface{}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Start != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Start.UTC())
	}
	if f.End != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.End.UTC())
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM cost_records`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count cost records: %w", err)
	}

	query := `
		SELECT id, agent_id, provider, model, input_tokens, output_tokens,
		       cached_input_tokens, input_cost, output_cost, total_cost,
		       input_rate, output_rate, pricing_known, request_id, created_at
		FROM cost_records` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost records: %w", err)
	}
	defer rows.Close()

	items := []CostRecord{}
	for rows.Next() {
		var c CostRecord
		var requestID sql.NullString
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Provider, &c.Model,
			&c.InputTokens, &c.OutputTokens, &c.CachedInputTokens,
			&c.InputCost, &c.OutputCost, &c.TotalCost,
			&c.InputRate, &c.OutputRate, &c.PricingKnown, &requestID, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.RequestID = requestID.String
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Page{
		Items:      items,
		Total:      total,
		PageNum:    f.Page,
		PageSize:   f.PageSize,
		TotalPages: (total + f.PageSize - 1) / f.PageSize,
	}, nil
}

// DayTotal sums spend inside the local calendar day containing at.
// An empty agentID sums across all agents.
func (r *Repository) DayTotal(ctx context.Context, agentID string, at time.Time) (float64, error) {
	start, end := dayBounds(at)
	query := `SELECT COALESCE(SUM(total_cost), 0) FROM cost_records WHERE created_at >= ? AND created_at < ?`
	args := []interface{}{start.UTC(), end.UTC()}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	var total float64
	if err := r.store.DB.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum day total: %w", err)
	}
	return total, nil
}

// SummaryByAgent aggregates per-agent spend inside the local calendar
// day containing at, highest spend first.
func (r *Repository) SummaryByAgent(ctx context.Context, at time.Time) ([]AgentDaySummary, error) {
	start, end := dayBounds(at)
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT agent_id, COALESCE(SUM(total_cost), 0),
		       COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COUNT(*)
		FROM cost_records
		WHERE created_at >= ? AND created_at < ?
		GROUP BY agent_id
		ORDER BY SUM(total_cost) DESC`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to summarize costs: %w", err)
	}
	defer rows.Close()

	out := []AgentDaySummary{}
	for rows.Next() {
		var s AgentDaySummary
		if err := rows.Scan(&s.AgentID, &s.TotalUSD, &s.InputTokens, &s.OutputTokens, &s.Requests); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertPricing inserts or replaces one rate-card row.
func (r *Repository) UpsertPricing(ctx context.Context, p *Pricing) error {
	if p.InputPerMTok < 0 || p.OutputPerMTok < 0 {
		return ErrNegativeRate
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO pricing (provider, model, input_per_mtok, output_per_mtok)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(provider, model) DO UPDATE SET
				input_per_mtok = excluded.input_per_mtok,
				output_per_mtok = excluded.output_per_mtok`,
			p.Provider, p.Model, p.InputPerMTok, p.OutputPerMTok,
		)
		return err
	})
}

// ListPricing returns the whole rate card ordered by provider then model.
func (r *Repository) ListPricing(ctx context.Context) ([]Pricing, error) {
	rows, err := r.store.DB.QueryContext(ctx,
		`SELECT provider, model, input_per_mtok, output_per_mtok FROM pricing ORDER BY provider, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing: %w", err)
	}
	defer rows.Close()

	out := []Pricing{}
	for rows.Next() {
		var p Pricing
		if err := rows.Scan(&p.Provider, &p.Model, &p.InputPerMTok, &p.OutputPerMTok); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePricing removes one rate-card row.
func (r *Repository) DeletePricing(ctx context.Context, provider, model string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM pricing WHERE provider = ? AND model = ?`, provider, model)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrPricingNotFound
		}
		return nil
	})
}

// UpsertBudget inserts or replaces the budget for one scope.
func (r *Repository) UpsertBudget(ctx context.Context, b *Budget) error {
	if b.Action == "" {
		b.Action = ActionWarn
	}
	if b.Action != ActionWarn && b.Action != ActionBlock {
		return ErrBadAction
	}
	b.UpdatedAt = time.Now().UTC()
	var limit interface{}
	if b.DailyLimitUSD != nil {
		limit = *b.DailyLimitUSD
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO budgets (scope_id, daily_limit_usd, action, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(scope_id) DO UPDATE SET
				daily_limit_usd = excluded.daily_limit_usd,
				action = excluded.action,
				updated_at = excluded.updated_at`,
			b.ScopeID, limit, string(b.Action), b.UpdatedAt,
		)
		return err
	})
}

// GetBudget fetches the budget for one scope.
func (r *Repository) GetBudget(ctx context.Context, scopeID string) (*Budget, error) {
	row := r.store.DB.QueryRowContext(ctx,
		`SELECT scope_id, daily_limit_usd, action, updated_at FROM budgets WHERE scope_id = ?`, scopeID)
	var b Budget
	var limit sql.NullFloat64
	var action string
	err := row.Scan(&b.ScopeID, &limit, &action, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, err
	}
	if limit.Valid {
		v := limit.Float64
		b.DailyLimitUSD = &v
	}
	b.Action = BudgetAction(action)
	return &b, nil
}

// ListBudgets returns all configured budgets.
func (r *Repository) ListBudgets(ctx context.Context) ([]Budget, error) {
	rows, err := r.store.DB.QueryContext(ctx,
		`SELECT scope_id, daily_limit_usd, action, updated_at FROM budgets ORDER BY scope_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	out := []Budget{}
	for rows.Next() {
		var b Budget
		var limit sql.NullFloat64
		var action string
		if err := rows.Scan(&b.ScopeID, &limit, &action, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if limit.Valid {
			v := limit.Float64
			b.DailyLimitUSD = &v
		}
		b.Action = BudgetAction(action)
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBudget removes the budget for one scope.
func (r *Repository) DeleteBudget(ctx context.Context, scopeID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM budgets WHERE scope_id = ?`, scopeID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrBudgetNotFound
		}
		return nil
	})
}

// dayBounds returns the local midnight bracketing at. Budgets reset on
// the machine's calendar day, not UTC.
func dayBounds(at time.Time) (time.Time, time.Time) {
	local := at.Local()
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return start, start.Add(24 * time.Hour)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
