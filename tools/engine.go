// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"

	"sentryvolt/sidecar/metrics"
	"sentryvolt/sidecar/shared/logger"
)

// Engine resolves permission decisions for parsed tool calls.
type Engine struct {
	repo *Repository
	log  *logger.Logger
}

// NewEngine creates an Engine backed by the overrides repository.
func NewEngine(repo *Repository) *Engine {
	return &Engine{repo: repo, log: logger.New("tool-engine")}
}

// Evaluate resolves one invocation, in precedence order: exact or
// suffix match in the essential registry, then the custom-tool registry,
// then pass-through. At every step a user override on the resolved tool
// id wins over the registry default.
func (e *Engine) Evaluate(ctx context.Context, call ToolCall) Decision {
	if tool, ok := lookupEssential(call.FunctionName); ok {
		return e.decide(ctx, call, tool.ID, tool.Tier, tool.DefaultAction, true, "essential tool")
	}

	if custom, err := e.repo.GetCustomTool(ctx, call.FunctionName); err == nil {
		return e.decide(ctx, call, custom.ToolID, custom.Tier, custom.DefaultAction, false, "custom tool")
	} else if !errors.Is(err, ErrToolNotFound) {
		e.log.Errorf("", "", "custom tool lookup failed", err, map[string]interface{}{
			"function": call.FunctionName,
		})
	}

	return Decision{
		ToolID:       call.FunctionName,
		FunctionName: call.FunctionName,
		Action:       ActionLogOnly,
		Reason:       "non-essential",
		IsEssential:  false,
	}
}

// EvaluateAll resolves every invocation in order.
func (e *Engine) EvaluateAll(ctx context.Context, calls []ToolCall) []Decision {
	decisions := make([]Decision, 0, len(calls))
	for _, call := range calls {
		decisions = append(decisions, e.Evaluate(ctx, call))
	}
	return decisions
}

func (e *Engine) decide(ctx context.Context, call ToolCall, toolID string, tier RiskTier, defaultAction Action, essential bool, reason string) Decision {
	action := defaultAction
	if override, err := e.repo.GetOverride(ctx, toolID); err == nil {
		action = override.Action
		reason = "user override"
	} else if !errors.Is(err, ErrOverrideNotFound) {
		e.log.Errorf("", "", "tool override lookup failed", err, map[string]interface{}{
			"tool_id": toolID,
		})
	}
	metrics.ToolDecisions.WithLabelValues(string(action), string(tier)).Inc()
	return Decision{
		ToolID:       toolID,
		FunctionName: call.FunctionName,
		Action:       action,
		RiskTier:     tier,
		RiskScore:    tier.Score(),
		Reason:       reason,
		IsEssential:  essential,
	}
}
