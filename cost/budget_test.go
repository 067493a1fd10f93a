// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryvolt/sidecar/store"
)

func seedSpend(t *testing.T, repo *Repository, agentID string, usd float64) {
	t.Helper()
	require.NoError(t, repo.InsertCost(context.Background(), &CostRecord{
		AgentID: agentID, Provider: "openai", Model: "gpt-4o",
		TotalCost: usd, PricingKnown: true,
	}))
}

func limit(v float64) *float64 { return &v }

func TestCheckNoBudgetsAllows(t *testing.T) {
	repo := newTestRepo(t)
	g := NewGuardian(repo)

	d := g.Check(context.Background(), "agent-1")
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestCheckGlobalBlock(t *testing.T) {
	repo := newTestRepo(t)
	g := NewGuardian(repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBudget(ctx, &Budget{
		ScopeID: GlobalScope, DailyLimitUSD: limit(1.00), Action: ActionBlock,
	}))
	seedSpend(t, repo, "agent-1", 0.60)
	seedSpend(t, repo, "agent-2", 0.50)

	d := g.Check(ctx, "agent-1")
	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.Equal(t, GlobalScope, d.Scope)
	assert.InDelta(t, 1.10, d.DayTotalUSD, 1e-9)
	assert.Greater(t, d.RetryAfterSeconds, 0)
	assert.LessOrEqual(t, d.RetryAfterSeconds, 24*60*60)
}

func TestCheckAgentWarnUnderGlobal(t *testing.T) {
	repo := newTestRepo(t)
	g := NewGuardian(repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBudget(ctx, &Budget{
		ScopeID: "agent-1", DailyLimitUSD: limit(0.50), Action: ActionWarn,
	}))
	seedSpend(t, repo, "agent-1", 0.75)

	d := g.Check(ctx, "agent-1")
	assert.Equal(t, VerdictWarn, d.Verdict)
	assert.Equal(t, "agent-1", d.Scope)
	assert.Zero(t, d.RetryAfterSeconds)

	// a different agent is unaffected
	d = g.Check(ctx, "agent-2")
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestCheckDenyBeatsWarn(t *testing.T) {
	repo := newTestRepo(t)
	g := NewGuardian(repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBudget(ctx, &Budget{
		ScopeID: GlobalScope, DailyLimitUSD: limit(1.00), Action: ActionWarn,
	}))
	require.NoError(t, repo.UpsertBudget(ctx, &Budget{
		ScopeID: "agent-1", DailyLimitUSD: limit(0.10), Action: ActionBlock,
	}))
	seedSpend(t, repo, "agent-1", 2.00)

	d := g.Check(ctx, "agent-1")
	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.Equal(t, "agent-1", d.Scope)
}

func TestCheckNilLimitDisablesBudget(t *testing.T) {
	repo := newTestRepo(t)
	g := NewGuardian(repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBudget(ctx, &Budget{
		ScopeID: GlobalScope, DailyLimitUSD: nil, Action: ActionBlock,
	}))
	seedSpend(t, repo, "agent-1", 1000)

	d := g.Check(ctx, "agent-1")
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestCheckYesterdaySpendIgnored(t *testing.T) {
	repo := newTestRepo(t)
	g := NewGuardian(repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBudget(ctx, &Budget{
		ScopeID: GlobalScope, DailyLimitUSD: limit(1.00), Action: ActionBlock,
	}))
	require.NoError(t, repo.InsertCost(ctx, &CostRecord{
		AgentID: "agent-1", Provider: "openai", Model: "gpt-4o",
		TotalCost: 5.00, CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))

	d := g.Check(ctx, "agent-1")
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestSecondsToLocalMidnight(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 59, 0, 0, time.Local)
	assert.Equal(t, 60, secondsToLocalMidnight(now))

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)
	assert.Equal(t, 24*60*60, secondsToLocalMidnight(start))
}

func TestBudgetRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBudget(ctx, &Budget{
		ScopeID: "agent-9", DailyLimitUSD: limit(2.50), Action: ActionBlock,
	}))

	b, err := repo.GetBudget(ctx, "agent-9")
	require.NoError(t, err)
	require.NotNil(t, b.DailyLimitUSD)
	assert.Equal(t, 2.50, *b.DailyLimitUSD)
	assert.Equal(t, ActionBlock, b.Action)

	// replace wins
	require.NoError(t, repo.UpsertBudget(ctx, &Budget{ScopeID: "agent-9", Action: ActionWarn}))
	b, err = repo.GetBudget(ctx, "agent-9")
	require.NoError(t, err)
	assert.Nil(t, b.DailyLimitUSD)
	assert.Equal(t, ActionWarn, b.Action)

	require.NoError(t, repo.DeleteBudget(ctx, "agent-9"))
	_, err = repo.GetBudget(ctx, "agent-9")
	assert.ErrorIs(t, err, ErrBudgetNotFound)

	assert.ErrorIs(t, repo.UpsertBudget(ctx, &Budget{ScopeID: "x", Action: "explode"}), ErrBadAction)
}

func TestSummaryByAgent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedSpend(t, repo, "agent-a", 0.10)
	seedSpend(t, repo, "agent-a", 0.20)
	seedSpend(t, repo, "agent-b", 0.05)

	sums, err := repo.SummaryByAgent(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "agent-a", sums[0].AgentID)
	assert.InDelta(t, 0.30, sums[0].TotalUSD, 1e-9)
	assert.Equal(t, 2, sums[0].Requests)
}

// A broken database must never turn into a blanket deny; the check
// fails open. Error injection needs a mocked driver.
func TestCheckFailsOpenOnStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT scope_id, daily_limit_usd, action, updated_at FROM budgets").
		WithArgs(GlobalScope).
		WillReturnRows(sqlmock.NewRows([]string{"scope_id", "daily_limit_usd", "action", "updated_at"}).
			AddRow(GlobalScope, 1.0, "block", time.Now()))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_cost\), 0\) FROM cost_records`).
		WillReturnError(errors.New("disk I/O error"))

	g := NewGuardian(NewRepository(store.NewWithDB(db, "mock")))
	d := g.Check(context.Background(), "")

	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
