// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package tools extracts tool invocations from model responses and
// decides what to do with each one: the essential-tool registry supplies
// defaults, user overrides win, and anything unrecognized passes through
// as log-only.
package tools

import "time"

// RiskTier classifies the blast radius of a tool.
type RiskTier string

const (
	TierRead   RiskTier = "read"
	TierWrite  RiskTier = "write"
	TierDelete RiskTier = "delete"
	TierAdmin  RiskTier = "admin"
)

// Score maps a tier to its numeric risk contribution.
func (t RiskTier) Score() int {
	switch t {
	case TierRead:
		return 20
	case TierWrite:
		return 50
	case TierDelete:
		return 75
	case TierAdmin:
		return 90
	default:
		return 0
	}
}

// Valid reports whether t is a recognized tier.
func (t RiskTier) Valid() bool {
	switch t {
	case TierRead, TierWrite, TierDelete, TierAdmin:
		return true
	}
	return false
}

// Action is the enforcement outcome for a tool invocation.
type Action string

const (
	ActionBlock   Action = "block"
	ActionAllow   Action = "allow"
	ActionLogOnly Action = "log_only"
)

// Valid reports whether a is a recognized action.
func (a Action) Valid() bool {
	switch a {
	case ActionBlock, ActionAllow, ActionLogOnly:
		return true
	}
	return false
}

// EssentialTool is one entry of the registry shipped with the product.
type EssentialTool struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Tier          RiskTier `json:"risk_tier"`
	DefaultAction Action   `json:"default_action"`
}

// ToolOverride is a user override for an essential or custom tool. The
// rate-limit facet is persisted and surfaced but not enforced by the
// proxy.
type ToolOverride struct {
	ToolID        string    `json:"tool_id"`
	Action        Action    `json:"action"`
	MaxCalls      *int      `json:"max_calls,omitempty"`
	WindowSeconds *int      `json:"window_seconds,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CustomTool is a user-registered tool consulted after the essential
// registry during evaluation.
type CustomTool struct {
	ToolID        string    `json:"tool_id"`
	Label         string    `json:"label"`
	Tier          RiskTier  `json:"risk_tier"`
	DefaultAction Action    `json:"default_action"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToolCall is one tool invocation extracted from a model response.
type ToolCall struct {
	FunctionName   string `json:"function_name"`
	ArgumentsHash  string `json:"arguments_hash"`
	ProviderFormat string `json:"provider_format"`
	ToolCallID     string `json:"tool_call_id,omitempty"`
	Index          int    `json:"index"`
}

// Decision is the permission verdict for one tool invocation.
type Decision struct {
	ToolID       string   `json:"tool_id"`
	FunctionName string   `json:"function_name"`
	Action       Action   `json:"action"`
	RiskTier     RiskTier `json:"risk_tier,omitempty"`
	RiskScore    int      `json:"risk_score"`
	Reason       string   `json:"reason"`
	IsEssential  bool     `json:"is_essential"`
}
