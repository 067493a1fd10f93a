// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package cost records token usage as dollar costs and enforces daily
// spending budgets per agent and globally.
package cost

import "time"

// GlobalScope is the budget scope id covering all agents.
const GlobalScope = "global"

// Pricing is the rate card entry for one provider + canonical model.
// Rates are USD per million tokens.
type Pricing struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	InputPerMTok  float64 `json:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok"`
}

// TokenUsage is the normalized token extraction from one response body.
type TokenUsage struct {
	Model             string `json:"model"`
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	CachedInputTokens int    `json:"cached_input_tokens"`
}

// CostRecord is one completed upstream call priced out.
type CostRecord struct {
	ID                string    `json:"id"`
	AgentID           string    `json:"agent_id"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	InputTokens       int       `json:"input_tokens"`
	OutputTokens      int       `json:"output_tokens"`
	CachedInputTokens int       `json:"cached_input_tokens"`
	InputCost         float64   `json:"input_cost"`
	OutputCost        float64   `json:"output_cost"`
	TotalCost         float64   `json:"total_cost"`
	InputRate         float64   `json:"input_rate"`
	OutputRate        float64   `json:"output_rate"`
	PricingKnown      bool      `json:"pricing_known"`
	RequestID         string    `json:"request_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// BudgetAction is what happens when a budget is exceeded.
type BudgetAction string

const (
	ActionWarn  BudgetAction = "warn"
	ActionBlock BudgetAction = "block"
)

// Budget is the daily spending limit for one scope (an agent id, or
// GlobalScope). A nil limit disables the budget.
type Budget struct {
	ScopeID       string       `json:"scope_id"`
	DailyLimitUSD *float64     `json:"daily_limit_usd"`
	Action        BudgetAction `json:"action"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Verdict is the budget guardian outcome.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictWarn  Verdict = "warn"
	VerdictDeny  Verdict = "deny"
)

// Decision is the pre-call budget check result. Scope names the budget
// that produced the verdict when it is not allow.
type Decision struct {
	Verdict           Verdict `json:"verdict"`
	Scope             string  `json:"scope,omitempty"`
	DayTotalUSD       float64 `json:"day_total_usd"`
	LimitUSD          float64 `json:"limit_usd,omitempty"`
	RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	Message           string  `json:"message,omitempty"`
}

// Filter narrows a paginated cost-record listing.
type Filter struct {
	Page     int
	PageSize int
	AgentID  string
	Provider string
	Model    string
	Start    *time.Time
	End      *time.Time
}

// Page is one page of cost records.
type Page struct {
	Items      []CostRecord `json:"items"`
	Total      int          `json:"total"`
	PageNum    int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

// AgentDaySummary aggregates one agent's spend for one calendar day.
type AgentDaySummary struct {
	AgentID      string  `json:"agent_id"`
	TotalUSD     float64 `json:"total_usd"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Requests     int     `json:"requests"`
}
