// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := Rule{
		Name:     "test rule",
		Category: "testing",
		Severity: SeverityMedium,
		Patterns: []string{`abc`},
		Enabled:  true,
		Source:   SourceCustom,
		Metadata: map[string]interface{}{"origin": "unit-test"},
	}
	require.NoError(t, repo.CreateRule(ctx, &rule))
	require.NotEmpty(t, rule.ID)

	got, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "test rule", got.Name)
	assert.Equal(t, "unit-test", got.Metadata["origin"])

	got.Name = "renamed"
	got.Severity = SeverityHigh
	require.NoError(t, repo.UpdateRule(ctx, got))

	got, err = repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, SeverityHigh, got.Severity)

	require.NoError(t, repo.DeleteRule(ctx, rule.ID))
	_, err = repo.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestCreateRuleDuplicateID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := Rule{ID: "dup", Name: "a", Category: "c", Severity: SeverityLow,
		Patterns: []string{`x`}, Enabled: true, Source: SourceCustom}
	require.NoError(t, repo.CreateRule(ctx, &rule))

	again := rule
	err := repo.CreateRule(ctx, &again)
	assert.ErrorIs(t, err, ErrRuleExists)
}

func TestUpdateMissingRule(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.UpdateRule(context.Background(), &Rule{ID: "nope", Severity: SeverityLow, Patterns: []string{}})
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestAtMostOneOverridePerRule(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, Rule{ID: "r1", Name: "r1", Category: "c", Severity: SeverityLow,
		Patterns: []string{`x`}, Enabled: true, Source: SourceCommunity})

	enabled := false
	require.NoError(t, repo.UpsertOverride(ctx, &RuleOverride{RuleID: "r1", Enabled: &enabled}))

	// A second upsert replaces, never duplicates.
	high := SeverityHigh
	require.NoError(t, repo.UpsertOverride(ctx, &RuleOverride{RuleID: "r1", Severity: &high}))

	overrides, err := repo.ListOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Nil(t, overrides[0].Enabled)
	require.NotNil(t, overrides[0].Severity)
	assert.Equal(t, SeverityHigh, *overrides[0].Severity)
}

func TestOverridePatternsApplied(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, Rule{ID: "r2", Name: "r2", Category: "c", Severity: SeverityLow,
		Patterns: []string{`original`}, Enabled: true, Source: SourceCommunity})

	require.NoError(t, repo.UpsertOverride(ctx, &RuleOverride{
		RuleID: "r2", Patterns: []string{`replacement`},
	}))

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, []string{`replacement`}, enabled[0].Patterns)
}

func TestDeleteOverrideReverts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, Rule{ID: "r3", Name: "r3", Category: "c", Severity: SeverityLow,
		Patterns: []string{`x`}, Enabled: true, Source: SourceCommunity})

	off := false
	require.NoError(t, repo.UpsertOverride(ctx, &RuleOverride{RuleID: "r3", Enabled: &off}))
	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, repo.DeleteOverride(ctx, "r3"))
	enabled, err = repo.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	assert.ErrorIs(t, repo.DeleteOverride(ctx, "r3"), ErrOverrideNotFound)
}

func TestCountBySource(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, Rule{ID: "c1", Name: "c1", Category: "c", Severity: SeverityLow,
		Patterns: []string{`x`}, Enabled: true, Source: SourceCommunity})
	mustCreate(t, repo, Rule{ID: "c2", Name: "c2", Category: "c", Severity: SeverityLow,
		Patterns: []string{`y`}, Enabled: true, Source: SourceCommunity})
	mustCreate(t, repo, Rule{ID: "u1", Name: "u1", Category: "c", Severity: SeverityLow,
		Patterns: []string{`z`}, Enabled: true, Source: SourceCustom})

	counts, err := repo.CountBySource(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[SourceCommunity])
	assert.Equal(t, 1, counts[SourceCustom])
}
