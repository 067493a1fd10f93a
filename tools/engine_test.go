// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryvolt/sidecar/store"
)

func newTestEngine(t *testing.T) (*Engine, *Repository) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	repo := NewRepository(s)
	return NewEngine(repo), repo
}

func TestEvaluateEssentialDefault(t *testing.T) {
	e, _ := newTestEngine(t)

	d := e.Evaluate(context.Background(), ToolCall{FunctionName: "aws.iam_create_user"})
	assert.Equal(t, ActionBlock, d.Action)
	assert.True(t, d.IsEssential)
	assert.Equal(t, TierAdmin, d.RiskTier)
	assert.Equal(t, 90, d.RiskScore)
}

func TestEvaluateOverridePrecedence(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	// default is block
	d := e.Evaluate(ctx, ToolCall{FunctionName: "aws.iam_create_user"})
	require.Equal(t, ActionBlock, d.Action)

	// user override flips to allow
	require.NoError(t, repo.UpsertOverride(ctx, &ToolOverride{
		ToolID: "aws.iam_create_user", Action: ActionAllow,
	}))
	d = e.Evaluate(ctx, ToolCall{FunctionName: "aws.iam_create_user"})
	assert.Equal(t, ActionAllow, d.Action)
	assert.True(t, d.IsEssential)
	assert.Equal(t, "user override", d.Reason)

	// removing the override reverts the decision
	require.NoError(t, repo.DeleteOverride(ctx, "aws.iam_create_user"))
	d = e.Evaluate(ctx, ToolCall{FunctionName: "aws.iam_create_user"})
	assert.Equal(t, ActionBlock, d.Action)
}

func TestEvaluateSuffixMatch(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	// bare "send_email" resolves to gmail.send_email
	d := e.Evaluate(ctx, ToolCall{FunctionName: "send_email"})
	assert.Equal(t, "gmail.send_email", d.ToolID)
	assert.Equal(t, "send_email", d.FunctionName)
	assert.Equal(t, ActionLogOnly, d.Action)
	assert.True(t, d.IsEssential)

	// overrides keyed by the resolved tool id still win
	require.NoError(t, repo.UpsertOverride(ctx, &ToolOverride{
		ToolID: "gmail.send_email", Action: ActionBlock,
	}))
	d = e.Evaluate(ctx, ToolCall{FunctionName: "send_email"})
	assert.Equal(t, ActionBlock, d.Action)
}

func TestEvaluateCustomTool(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateCustomTool(ctx, &CustomTool{
		ToolID: "internal.deploy", Label: "Internal deploy",
		Tier: TierWrite, DefaultAction: ActionBlock,
	}))

	d := e.Evaluate(ctx, ToolCall{FunctionName: "internal.deploy"})
	assert.Equal(t, ActionBlock, d.Action)
	assert.False(t, d.IsEssential)
	assert.Equal(t, TierWrite, d.RiskTier)

	require.NoError(t, repo.UpsertOverride(ctx, &ToolOverride{
		ToolID: "internal.deploy", Action: ActionAllow,
	}))
	d = e.Evaluate(ctx, ToolCall{FunctionName: "internal.deploy"})
	assert.Equal(t, ActionAllow, d.Action)
}

func TestEvaluateNonEssentialPassThrough(t *testing.T) {
	e, _ := newTestEngine(t)

	d := e.Evaluate(context.Background(), ToolCall{FunctionName: "lookup_weather"})
	assert.Equal(t, ActionLogOnly, d.Action)
	assert.Equal(t, "non-essential", d.Reason)
	assert.False(t, d.IsEssential)
	assert.Equal(t, 0, d.RiskScore)
}

func TestEndToEndOpenAIBlockDecision(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	body := []byte(`{"choices":[{"message":{"tool_calls":[{"function":{"name":"aws.iam_create_user","arguments":"{}"}}]}}]}`)
	calls := ParseToolCalls(body)
	require.Len(t, calls, 1)

	decisions := e.EvaluateAll(ctx, calls)
	require.Len(t, decisions, 1)
	assert.Equal(t, ActionBlock, decisions[0].Action)
	assert.True(t, decisions[0].IsEssential)

	require.NoError(t, repo.UpsertOverride(ctx, &ToolOverride{
		ToolID: "aws.iam_create_user", Action: ActionAllow,
	}))
	decisions = e.EvaluateAll(ctx, calls)
	assert.Equal(t, ActionAllow, decisions[0].Action)
}

func TestOverrideRateLimitFacetPersists(t *testing.T) {
	_, repo := newTestEngine(t)
	ctx := context.Background()

	maxCalls, window := 5, 60
	require.NoError(t, repo.UpsertOverride(ctx, &ToolOverride{
		ToolID: "gmail.send_email", Action: ActionAllow,
		MaxCalls: &maxCalls, WindowSeconds: &window,
	}))

	o, err := repo.GetOverride(ctx, "gmail.send_email")
	require.NoError(t, err)
	require.NotNil(t, o.MaxCalls)
	assert.Equal(t, 5, *o.MaxCalls)
	require.NotNil(t, o.WindowSeconds)
	assert.Equal(t, 60, *o.WindowSeconds)
}
