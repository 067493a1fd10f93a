// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryvolt/sidecar/cost"
	"sentryvolt/sidecar/store"
)

func newTestManager(t *testing.T) (*FileManager, *Repository, *cost.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	settingsRepo := NewRepository(s)
	costRepo := cost.NewRepository(s)
	path := filepath.Join(dir, "config.yaml")
	return NewFileManager(path, settingsRepo, costRepo), settingsRepo, costRepo, path
}

func TestSettingsDefaults(t *testing.T) {
	_, repo, _, _ := newTestManager(t)

	s, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", s.Host)
	assert.Equal(t, 8743, s.Port)
	assert.Equal(t, 30, s.RetentionDays)
	assert.True(t, s.StoreText)
	assert.False(t, s.CloudEnabled)
}

func TestSettingsUpdateRoundTrip(t *testing.T) {
	_, repo, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := repo.Get(ctx)
	require.NoError(t, err)
	s.Port = 9000
	s.RetentionDays = 7
	s.StoreText = false
	require.NoError(t, repo.Update(ctx, s))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9000, got.Port)
	assert.Equal(t, 7, got.RetentionDays)
	assert.False(t, got.StoreText)
}

func TestSettingsRetentionBounds(t *testing.T) {
	_, repo, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := repo.Get(ctx)
	require.NoError(t, err)
	s.RetentionDays = 0
	assert.ErrorIs(t, repo.Update(ctx, s), ErrInvalidRetention)
	s.RetentionDays = 366
	assert.ErrorIs(t, repo.Update(ctx, s), ErrInvalidRetention)
}

func TestSetCloud(t *testing.T) {
	_, repo, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, repo.SetCloud(ctx, true, "user@example.com"))
	s, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, s.CloudEnabled)
	assert.Equal(t, "user@example.com", s.CloudEmail)
	require.NotNil(t, s.CloudConnectedAt)

	require.NoError(t, repo.SetCloud(ctx, false, ""))
	s, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.False(t, s.CloudEnabled)
	assert.Nil(t, s.CloudConnectedAt)
}

func TestSyncRegeneratesMissingFile(t *testing.T) {
	m, _, _, path := newTestManager(t)

	cfg, err := m.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8743, cfg.Server.Port)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# SentryVolt sidecar configuration")
	assert.Contains(t, string(raw), "server:")
	assert.Contains(t, string(raw), "budget:")
}

func TestSyncAppliesFileToStore(t *testing.T) {
	m, repo, costs, path := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9100
budget:
  daily_limit: 5.0
  block: true
`), 0o600))

	cfg, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)

	s, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9100, s.Port)

	b, err := costs.GetBudget(ctx, cost.GlobalScope)
	require.NoError(t, err)
	require.NotNil(t, b.DailyLimitUSD)
	assert.Equal(t, 5.0, *b.DailyLimitUSD)
	assert.Equal(t, cost.ActionBlock, b.Action)
}

func TestSyncRegeneratesGarbageFile(t *testing.T) {
	m, _, _, path := newTestManager(t)

	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o600))
	cfg, err := m.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8743, cfg.Server.Port)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "server:")
}

func TestRewriteReflectsSettingsChange(t *testing.T) {
	m, repo, _, path := newTestManager(t)
	ctx := context.Background()

	_, err := m.Sync(ctx)
	require.NoError(t, err)

	s, err := repo.Get(ctx)
	require.NoError(t, err)
	s.Port = 9999
	require.NoError(t, repo.Update(ctx, s))
	require.NoError(t, m.Rewrite(ctx))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "port: 9999")
}

func TestRewriteIsIdempotent(t *testing.T) {
	m, _, _, path := newTestManager(t)
	ctx := context.Background()

	_, err := m.Sync(ctx)
	require.NoError(t, err)
	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, m.Rewrite(ctx))
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "unchanged content must not be rewritten")
}
