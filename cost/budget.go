// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentryvolt/sidecar/shared/logger"
)

// Guardian performs the pre-call budget check. It combines the global
// budget and the agent's own budget pessimistically: deny beats warn
// beats allow.
type Guardian struct {
	repo *Repository
	log  *logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewGuardian wires a guardian over the cost repository.
func NewGuardian(repo *Repository) *Guardian {
	return &Guardian{
		repo: repo,
		log:  logger.New("budget-guardian"),
		now:  time.Now,
	}
}

// Check evaluates today's spend against the global budget and, when
// agentID is non-empty, the agent budget. Store errors fail open with a
// warning log: a broken database must not silence every agent.
func (g *Guardian) Check(ctx context.Context, agentID string) Decision {
	decision := Decision{Verdict: VerdictAllow}

	g.apply(ctx, &decision, GlobalScope, "")
	if agentID != "" && agentID != GlobalScope {
		g.apply(ctx, &decision, agentID, agentID)
	}
	return decision
}

func (g *Guardian) apply(ctx context.Context, decision *Decision, scopeID, agentFilter string) {
	budget, err := g.repo.GetBudget(ctx, scopeID)
	if errors.Is(err, ErrBudgetNotFound) {
		return
	}
	if err != nil {
		g.log.Errorf(agentFilter, "", "Budget lookup failed, allowing request", err,
			map[string]interface{}{"scope": scopeID})
		return
	}
	if budget.DailyLimitUSD == nil {
		return
	}

	total, err := g.repo.DayTotal(ctx, agentFilter, g.now())
	if err != nil {
		g.log.Errorf(agentFilter, "", "Day total query failed, allowing request", err,
			map[string]interface{}{"scope": scopeID})
		return
	}
	if scopeID == GlobalScope || total > decision.DayTotalUSD {
		decision.DayTotalUSD = total
	}
	if total < *budget.DailyLimitUSD {
		return
	}

	verdict := VerdictWarn
	if budget.Action == ActionBlock {
		verdict = VerdictDeny
	}
	if rank(verdict) <= rank(decision.Verdict) {
		return
	}

	decision.Verdict = verdict
	decision.Scope = scopeID
	decision.LimitUSD = *budget.DailyLimitUSD
	decision.Message = fmt.Sprintf("daily budget for %s reached: $%.4f of $%.4f spent",
		scopeID, total, *budget.DailyLimitUSD)
	if verdict == VerdictDeny {
		decision.RetryAfterSeconds = secondsToLocalMidnight(g.now())
	}
}

func rank(v Verdict) int {
	switch v {
	case VerdictDeny:
		return 2
	case VerdictWarn:
		return 1
	default:
		return 0
	}
}

// secondsToLocalMidnight is the Retry-After horizon: budgets reset at
// the machine's next local midnight.
func secondsToLocalMidnight(now time.Time) int {
	local := now.Local()
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).Add(24 * time.Hour)
	secs := int(next.Sub(local).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
