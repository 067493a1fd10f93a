// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryvolt/sidecar/analyzer"
	"sentryvolt/sidecar/store"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewRepository(s)
}

func seedEvents(t *testing.T, repo *Repository, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		threat := i%2 == 0
		e := Event{
			ContentHash:   fmt.Sprintf("hash-%03d", i),
			Content:       fmt.Sprintf("content %d", i),
			ContentLength: 10,
			IsThreat:      threat,
			RiskScore:     i % 101,
			Confidence:    0.5,
			Source:        "proxy",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if threat {
			e.ThreatType = "prompt_injection"
			e.MatchedRules = []analyzer.MatchedRule{{RuleID: "pi-001", Severity: analyzer.SeverityHigh}}
		}
		require.NoError(t, repo.Insert(ctx, &e))
	}
}

func TestInsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := Event{
		Content:       "some text",
		ContentHash:   "abc",
		ContentLength: 9,
		IsThreat:      true,
		ThreatType:    "prompt_injection",
		RiskScore:     90,
		Confidence:    0.8,
		MatchedRules:  []analyzer.MatchedRule{{RuleID: "pi-001", Name: "x", Category: "prompt_injection", Severity: analyzer.SeverityCritical, Pattern: "p"}},
		Metadata:      map[string]interface{}{"provider": "anthropic"},
	}
	require.NoError(t, repo.Insert(ctx, &e))
	require.NotEmpty(t, e.ID)

	got, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "some text", got.Content)
	assert.Equal(t, 90, got.RiskScore)
	require.Len(t, got.MatchedRules, 1)
	assert.Equal(t, "pi-001", got.MatchedRules[0].RuleID)
	assert.Equal(t, "anthropic", got.Metadata["provider"])
}

func TestGetMissing(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestListPagination(t *testing.T) {
	repo := newTestRepo(t)
	seedEvents(t, repo, 25)
	ctx := context.Background()

	page, err := repo.List(ctx, Filter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 10)

	page3, err := repo.List(ctx, Filter{Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page3.Items, 5)
}

func TestListFilters(t *testing.T) {
	repo := newTestRepo(t)
	seedEvents(t, repo, 20)
	ctx := context.Background()

	threat := true
	page, err := repo.List(ctx, Filter{Page: 1, PageSize: 50, IsThreat: &threat})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total)
	for _, e := range page.Items {
		assert.True(t, e.IsThreat)
	}

	page, err = repo.List(ctx, Filter{Page: 1, PageSize: 50, ThreatType: "prompt_injection"})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total)

	start := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 12, 14, 0, 0, time.UTC)
	page, err = repo.List(ctx, Filter{Page: 1, PageSize: 50, Start: &start, End: &end})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
}

func TestListSortOrder(t *testing.T) {
	repo := newTestRepo(t)
	seedEvents(t, repo, 10)
	ctx := context.Background()

	asc, err := repo.List(ctx, Filter{Page: 1, PageSize: 10, SortBy: "created_at", Order: "asc"})
	require.NoError(t, err)
	for i := 1; i < len(asc.Items); i++ {
		assert.False(t, asc.Items[i].CreatedAt.Before(asc.Items[i-1].CreatedAt))
	}

	desc, err := repo.List(ctx, Filter{Page: 1, PageSize: 10, SortBy: "risk_score", Order: "desc"})
	require.NoError(t, err)
	for i := 1; i < len(desc.Items); i++ {
		assert.GreaterOrEqual(t, desc.Items[i-1].RiskScore, desc.Items[i].RiskScore)
	}
}

func TestListRejectsBadInput(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.List(context.Background(), Filter{Page: 1, PageSize: 500})
	assert.ErrorIs(t, err, ErrBadPagination)

	_, err = repo.List(context.Background(), Filter{Page: 1, PageSize: 10, SortBy: "content"})
	assert.ErrorIs(t, err, ErrBadSortField)

	_, err = repo.List(context.Background(), Filter{Page: 1, PageSize: 10, Order: "sideways"})
	assert.ErrorIs(t, err, ErrBadPagination)
}

func TestSetReview(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := Event{ContentHash: "h", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Insert(ctx, &e))

	require.NoError(t, repo.SetReview(ctx, e.ID, &Review{
		Agree: true, Confidence: 0.9, Explanation: "confirmed",
	}))

	got, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Review)
	assert.True(t, got.Review.Agree)
	assert.Equal(t, 0.9, got.Review.Confidence)

	assert.ErrorIs(t, repo.SetReview(ctx, "missing", &Review{}), ErrEventNotFound)
}

func TestDeleteOlderThan(t *testing.T) {
	repo := newTestRepo(t)
	seedEvents(t, repo, 10)
	ctx := context.Background()

	cutoff := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	page, err := repo.List(ctx, Filter{Page: 1, PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
}

func TestInsertScrubsSecrets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := Event{
		ContentHash: "h",
		Content:     "use api_key=sk-abc123def456ghi789 for the request",
		Metadata:    map[string]interface{}{"note": "password: hunter22", "count": 3},
	}
	require.NoError(t, repo.Insert(ctx, &e))

	got, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Content, "sk-abc123def456ghi789")
	assert.Contains(t, got.Content, "****")
	assert.NotContains(t, got.Metadata["note"], "hunter22")
}
