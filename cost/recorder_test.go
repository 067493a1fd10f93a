// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryvolt/sidecar/store"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewRepository(s)
}

func newTestRecorder(t *testing.T) (*Recorder, *Repository) {
	t.Helper()
	repo := newTestRepo(t)
	return NewRecorder(repo, NewPricingCache(repo)), repo
}

func TestExtractUsageOpenAI(t *testing.T) {
	body := []byte(`{"model":"gpt-4o-2024-11-20","usage":{"prompt_tokens":1000,"completion_tokens":500,"prompt_tokens_details":{"cached_tokens":200}}}`)
	u := ExtractUsage(body)
	require.NotNil(t, u)
	assert.Equal(t, 1000, u.InputTokens)
	assert.Equal(t, 500, u.OutputTokens)
	assert.Equal(t, 200, u.CachedInputTokens)
	assert.Equal(t, "gpt-4o-2024-11-20", u.Model)
}

func TestExtractUsageResponsesWrapper(t *testing.T) {
	body := []byte(`{"type":"response.completed","response":{"model":"gpt-4o","usage":{"input_tokens":100,"output_tokens":40,"input_tokens_details":{"cached_tokens":10}}}}`)
	u := ExtractUsage(body)
	require.NotNil(t, u)
	assert.Equal(t, 100, u.InputTokens)
	assert.Equal(t, 40, u.OutputTokens)
	assert.Equal(t, 10, u.CachedInputTokens)
}

func TestExtractUsageAnthropic(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":1000,"output_tokens":500,"cache_read_input_tokens":0}}`)
	u := ExtractUsage(body)
	require.NotNil(t, u)
	assert.Equal(t, 1000, u.InputTokens)
	assert.Equal(t, 500, u.OutputTokens)
	assert.Equal(t, 0, u.CachedInputTokens)
}

func TestExtractUsageGemini(t *testing.T) {
	body := []byte(`{"usageMetadata":{"promptTokenCount":80,"candidatesTokenCount":20,"cachedContentTokenCount":5},"modelVersion":"gemini-1.5-pro-002"}`)
	u := ExtractUsage(body)
	require.NotNil(t, u)
	assert.Equal(t, 80, u.InputTokens)
	assert.Equal(t, 20, u.OutputTokens)
	assert.Equal(t, 5, u.CachedInputTokens)
}

func TestExtractUsageOllama(t *testing.T) {
	body := []byte(`{"model":"llama3.2","prompt_eval_count":30,"eval_count":12,"done":true}`)
	u := ExtractUsage(body)
	require.NotNil(t, u)
	assert.Equal(t, 30, u.InputTokens)
	assert.Equal(t, 12, u.OutputTokens)
}

func TestExtractUsageGarbage(t *testing.T) {
	assert.Nil(t, ExtractUsage([]byte(`not json`)))
	assert.Nil(t, ExtractUsage([]byte(`{}`)))
	assert.Nil(t, ExtractUsage([]byte(`{"choices":[]}`)))
	assert.Nil(t, ExtractUsage(nil))
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "gpt-4o", NormalizeModel("gpt-4o-2024-11-20"))
	assert.Equal(t, "claude-3-5-sonnet", NormalizeModel("claude-3-5-sonnet-20241022"))
	assert.Equal(t, "mistral-large-latest", NormalizeModel("mistral-large-2407"))
	assert.Equal(t, "gpt-4o", NormalizeModel("gpt-4o"))
}

func TestPriceAnthropicNoCache(t *testing.T) {
	rec, _ := newTestRecorder(t)

	// rate_in=3, rate_out=15, 1000 in + 500 out
	c := rec.Price(context.Background(), "anthropic", &TokenUsage{
		Model: "claude-3-5-sonnet-20241022", InputTokens: 1000, OutputTokens: 500,
	})
	require.True(t, c.PricingKnown)
	assert.InDelta(t, 0.003, c.InputCost, 1e-12)
	assert.InDelta(t, 0.0075, c.OutputCost, 1e-12)
	assert.InDelta(t, 0.0105, c.TotalCost, 1e-12)
}

func TestPriceCachedTokensDiscounted(t *testing.T) {
	rec, repo := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPricing(ctx, &Pricing{
		Provider: "openai", Model: "test-model", InputPerMTok: 3.0, OutputPerMTok: 15.0,
	}))

	// all 1000 input tokens cached, openai discount 0.5
	c := rec.Price(ctx, "openai", &TokenUsage{
		Model: "test-model", InputTokens: 1000, CachedInputTokens: 1000,
	})
	require.True(t, c.PricingKnown)
	assert.InDelta(t, 0.0015, c.InputCost, 1e-12)

	// anthropic cache reads are charged at a tenth of the rate
	require.NoError(t, repo.UpsertPricing(ctx, &Pricing{
		Provider: "anthropic", Model: "test-model", InputPerMTok: 3.0, OutputPerMTok: 15.0,
	}))
	c = rec.Price(ctx, "anthropic", &TokenUsage{
		Model: "test-model", InputTokens: 1000, CachedInputTokens: 1000,
	})
	assert.InDelta(t, 0.0003, c.InputCost, 1e-12)
}

func TestPriceUnknownModelZeroCost(t *testing.T) {
	rec, _ := newTestRecorder(t)

	c := rec.Price(context.Background(), "openai", &TokenUsage{
		Model: "never-heard-of-it", InputTokens: 5000, OutputTokens: 5000,
	})
	assert.False(t, c.PricingKnown)
	assert.Zero(t, c.TotalCost)
	assert.Equal(t, 5000, c.InputTokens)
}

func TestRecordPersists(t *testing.T) {
	rec, repo := newTestRecorder(t)
	ctx := context.Background()

	body := []byte(`{"model":"gpt-4o","usage":{"prompt_tokens":100,"completion_tokens":50}}`)
	c := rec.Record(ctx, "openai", "agent-1", "req-1", body)
	require.NotNil(t, c)
	assert.True(t, c.PricingKnown)

	page, err := repo.ListCosts(ctx, Filter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "agent-1", page.Items[0].AgentID)
	assert.Equal(t, "gpt-4o", page.Items[0].Model)
}

func TestRecordNoUsageIsNoop(t *testing.T) {
	rec, repo := newTestRecorder(t)
	ctx := context.Background()

	assert.Nil(t, rec.Record(ctx, "openai", "agent-1", "", []byte(`{"error":"rate limited"}`)))

	page, err := repo.ListCosts(ctx, Filter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestPricingCacheSuffixFallback(t *testing.T) {
	repo := newTestRepo(t)
	cache := NewPricingCache(repo)
	ctx := context.Background()

	// claude-3-5-sonnet is seeded under anthropic; an aggregator
	// provider still resolves it by model suffix.
	p, ok := cache.Lookup(ctx, "openrouter", "claude-3-5-sonnet")
	require.True(t, ok)
	assert.Equal(t, 3.00, p.InputPerMTok)
}

func TestPricingCacheInvalidate(t *testing.T) {
	repo := newTestRepo(t)
	cache := NewPricingCache(repo)
	ctx := context.Background()

	_, ok := cache.Lookup(ctx, "openai", "brand-new")
	require.False(t, ok)

	require.NoError(t, repo.UpsertPricing(ctx, &Pricing{
		Provider: "openai", Model: "brand-new", InputPerMTok: 1, OutputPerMTok: 2,
	}))

	// still a miss until invalidated: the TTL copy is served
	_, ok = cache.Lookup(ctx, "openai", "brand-new")
	assert.False(t, ok)

	cache.Invalidate()
	p, ok := cache.Lookup(ctx, "openai", "brand-new")
	require.True(t, ok)
	assert.Equal(t, 1.0, p.InputPerMTok)
}

func TestExtractUsageSSEOpenAI(t *testing.T) {
	body := []byte("data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"model\":\"gpt-4o\",\"choices\":[],\"usage\":{\"prompt_tokens\":1000,\"completion_tokens\":500}}\n\n" +
		"data: [DONE]\n\n")
	u := ExtractUsage(body)
	require.NotNil(t, u)
	assert.Equal(t, "gpt-4o", u.Model)
	assert.Equal(t, 1000, u.InputTokens)
	assert.Equal(t, 500, u.OutputTokens)
}

func TestExtractUsageSSEAnthropicMergesEvents(t *testing.T) {
	// input tokens arrive in message_start, output tokens in message_delta
	body := []byte("event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-3-5-sonnet-20241022\",\"usage\":{\"input_tokens\":1000,\"cache_read_input_tokens\":200,\"output_tokens\":1}}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n" +
		"event: message_delta\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":500}}\n\n")
	u := ExtractUsage(body)
	require.NotNil(t, u)
	assert.Equal(t, "claude-3-5-sonnet-20241022", u.Model)
	assert.Equal(t, 1000, u.InputTokens)
	assert.Equal(t, 500, u.OutputTokens)
	assert.Equal(t, 200, u.CachedInputTokens)
}

func TestExtractUsageSSEWithoutUsage(t *testing.T) {
	body := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	assert.Nil(t, ExtractUsage(body))
}
