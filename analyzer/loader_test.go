// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadDirectoryShapes(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "standard.yaml", `
rules:
  - id: std-1
    name: Standard
    category: cat-a
    severity: high
    patterns:
      - first\s+pattern
      - second\s+pattern
`)
	writeRuleFile(t, dir, "scalar.yaml", `
rules:
  - id: scalar-1
    name: Scalar pattern
    category: cat-b
    severity: low
    patterns: lone\s+pattern
`)
	writeRuleFile(t, dir, "value.yaml", `
rules:
  - id: val-1
    name: Value shape
    category: cat-c
    severity: critical
    pattern:
      value: value\s+shape
`)
	writeRuleFile(t, dir, "detect.yaml", `
rules:
  - id: det-1
    name: Detection shape
    category: cat-d
    severity: medium
    rule:
      detection:
        - match: det\s+one
        - match: det\s+two
`)
	writeRuleFile(t, dir, "legacy.yaml", `
category: legacy-cat
severity: high
patterns:
  - legacy\s+one
  - legacy\s+two
`)
	writeRuleFile(t, dir, "ignored.txt", "not a rule file")

	repo := newTestRepo(t)
	loader := NewLoader(repo)
	n, err := loader.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 6, n) // 1 + 1 + 1 + 1 + 2 legacy

	rules, err := repo.ListRules(context.Background(), SourceCommunity)
	require.NoError(t, err)
	byID := make(map[string]Rule)
	for _, r := range rules {
		byID[r.ID] = r
	}

	assert.Len(t, byID["std-1"].Patterns, 2)
	assert.Equal(t, []string{`lone\s+pattern`}, byID["scalar-1"].Patterns)
	assert.Equal(t, []string{`value\s+shape`}, byID["val-1"].Patterns)
	assert.Len(t, byID["det-1"].Patterns, 2)

	// legacy entries get synthetic ids from the file stem
	legacy1, ok := byID["legacy-001"]
	require.True(t, ok)
	assert.Equal(t, "legacy-cat", legacy1.Category)
	assert.Equal(t, SeverityHigh, legacy1.Severity)
	_, ok = byID["legacy-002"]
	assert.True(t, ok)
}

func TestLoadDirectoryParseErrorDoesNotAbortOthers(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "broken.yaml", "rules: [unterminated")
	writeRuleFile(t, dir, "good.yaml", `
rules:
  - id: good-1
    name: Good
    category: cat
    severity: medium
    patterns: [ok\s+pattern]
`)

	repo := newTestRepo(t)
	n, err := NewLoader(repo).LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadDirectoryUnknownKeysIgnored(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "extra.yaml", `
version: 3
author: someone
rules:
  - id: x-1
    name: Extra
    category: cat
    severity: low
    patterns: [p1]
    tags: [a, b]
    references:
      - https://example.com
`)

	repo := newTestRepo(t)
	n, err := NewLoader(repo).LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadDirectoryIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "a.yaml", `
rules:
  - id: a-1
    name: A
    category: cat
    severity: low
    patterns: [p1]
`)

	repo := newTestRepo(t)
	loader := NewLoader(repo)
	ctx := context.Background()
	n, err := loader.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second load finds the rule already cached.
	n, err = loader.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBundledRuleFileWithBadPattern(t *testing.T) {
	// A file mixing one uncompilable regex with valid ones: all cached
	// (compilation happens at snapshot build), the bad one skipped at
	// match time, the valid ones still matching.
	dir := t.TempDir()
	writeRuleFile(t, dir, "mixed.yaml", `
rules:
  - id: m-1
    name: Mixed
    category: cat
    severity: high
    patterns:
      - '[bad'
      - good\s+one
      - good\s+two
      - good\s+three
      - good\s+four
      - good\s+five
`)

	repo := newTestRepo(t)
	a := New(repo, dir)
	result, err := a.Analyze(context.Background(), "good three")
	require.NoError(t, err)
	assert.True(t, result.IsThreat)
	assert.Equal(t, 5, a.PatternCount())
}
