// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"bytes"
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"sentryvolt/sidecar/metrics"
	"sentryvolt/sidecar/shared/logger"
)

// modelAliases maps dated or versioned model names onto the canonical
// names the rate card is keyed by.
var modelAliases = map[string]string{
	"mistral-large-2407":   "mistral-large-latest",
	"mistral-large-2411":   "mistral-large-latest",
	"mistral-small-2409":   "mistral-small-latest",
	"gpt-4o-latest":        "gpt-4o",
	"chatgpt-4o-latest":    "gpt-4o",
	"gemini-1.5-pro-002":   "gemini-1.5-pro",
	"gemini-2.0-flash-exp": "gemini-2.0-flash",
}

// Dated suffixes: gpt-4o-2024-11-20, claude-3-5-sonnet-20241022.
var (
	dashDateSuffix = regexp.MustCompile(`-\d{4}-\d{2}-\d{2}$`)
	compactDate    = regexp.MustCompile(`-\d{8}$`)
)

// NormalizeModel reduces a reported model name to its canonical
// rate-card name.
func NormalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if alias, ok := modelAliases[model]; ok {
		return alias
	}
	if m := dashDateSuffix.ReplaceAllString(model, ""); m != model {
		return m
	}
	return compactDate.ReplaceAllString(model, "")
}

// cacheDiscount is the fraction of the input rate charged for cached
// input tokens, per provider family.
func cacheDiscount(provider string) float64 {
	switch provider {
	case "openai", "azure":
		return 0.5
	case "anthropic":
		return 0.1
	case "gemini":
		return 0.25
	default:
		return 1.0
	}
}

// round8 keeps stored amounts stable across float formatting.
func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// Recorder turns completed upstream responses into persisted cost
// records. It never fails a proxied request: extraction or persistence
// problems are logged and swallowed.
type Recorder struct {
	repo  *Repository
	cache *PricingCache
	log   *logger.Logger
}

// NewRecorder wires a recorder over the repository and pricing cache.
func NewRecorder(repo *Repository, cache *PricingCache) *Recorder {
	return &Recorder{repo: repo, cache: cache, log: logger.New("cost-recorder")}
}

// Record extracts usage from a response body, prices it and persists a
// cost record. It returns nil when the body carries no recognizable
// usage block.
func (r *Recorder) Record(ctx context.Context, provider, agentID, requestID string, body []byte) *CostRecord {
	usage := ExtractUsage(body)
	if usage == nil {
		return nil
	}
	rec := r.Price(ctx, provider, usage)
	rec.AgentID = agentID
	rec.RequestID = requestID

	metrics.LLMTokens.WithLabelValues(provider, rec.Model, "input").Add(float64(rec.InputTokens))
	metrics.LLMTokens.WithLabelValues(provider, rec.Model, "output").Add(float64(rec.OutputTokens))
	if rec.CachedInputTokens > 0 {
		metrics.LLMTokens.WithLabelValues(provider, rec.Model, "cached").Add(float64(rec.CachedInputTokens))
	}
	metrics.LLMCost.WithLabelValues(provider, rec.Model).Add(rec.TotalCost)

	if err := r.repo.InsertCost(ctx, rec); err != nil {
		r.log.Errorf(agentID, requestID, "Failed to persist cost record", err, map[string]interface{}{
			"provider": provider,
			"model":    rec.Model,
		})
	}
	return rec
}

// Price computes the dollar amounts for one usage sample. Unknown
// models produce a zero-cost record flagged pricing_known = false so
// the gap shows up in summaries instead of silently undercounting.
func (r *Recorder) Price(ctx context.Context, provider string, usage *TokenUsage) *CostRecord {
	model := NormalizeModel(usage.Model)
	rec := &CostRecord{
		Provider:          provider,
		Model:             model,
		InputTokens:       usage.InputTokens,
		OutputTokens:      usage.OutputTokens,
		CachedInputTokens: usage.CachedInputTokens,
	}

	pricing, ok := r.cache.Lookup(ctx, provider, model)
	if !ok {
		r.log.Warn("", "", "No pricing for model, recording zero cost", map[string]interface{}{
			"provider": provider,
			"model":    model,
		})
		return rec
	}

	rec.PricingKnown = true
	rec.InputRate = pricing.InputPerMTok
	rec.OutputRate = pricing.OutputPerMTok

	uncached := usage.InputTokens - usage.CachedInputTokens
	if uncached < 0 {
		uncached = 0
	}
	d := cacheDiscount(provider)
	rec.InputCost = round8(float64(uncached)/1e6*pricing.InputPerMTok +
		float64(usage.CachedInputTokens)/1e6*pricing.InputPerMTok*d)
	rec.OutputCost = round8(float64(usage.OutputTokens) / 1e6 * pricing.OutputPerMTok)
	rec.TotalCost = round8(rec.InputCost + rec.OutputCost)
	return rec
}

// ExtractUsage probes a response body for token counts. It understands
// the OpenAI chat shape, the OpenAI responses API (including its
// {"response": {...}} event wrapper), Anthropic messages, Gemini
// usageMetadata, Ollama eval counts, and SSE-framed streams carrying
// any of those shapes in their data events. Returns nil when nothing
// matches; it never panics on garbage input.
func ExtractUsage(body []byte) *TokenUsage {
	if gjson.ValidBytes(body) {
		return extractUsageJSON(body)
	}
	return extractUsageSSE(body)
}

func extractUsageJSON(body []byte) *TokenUsage {
	doc := gjson.ParseBytes(body)
	if wrapped := doc.Get("response"); wrapped.IsObject() && wrapped.Get("usage").Exists() {
		doc = wrapped
	}
	// Anthropic stream message_start nests everything under "message".
	if wrapped := doc.Get("message"); wrapped.IsObject() && wrapped.Get("usage").Exists() {
		doc = wrapped
	}

	model := doc.Get("model").String()
	usage := doc.Get("usage")

	// OpenAI chat completions
	if usage.Get("prompt_tokens").Exists() {
		return &TokenUsage{
			Model:        model,
			InputTokens:  int(usage.Get("prompt_tokens").Int()),
			OutputTokens: int(usage.Get("completion_tokens").Int()),
			CachedInputTokens: int(firstInt(usage,
				"prompt_tokens_details.cached_tokens",
				"input_tokens_details.cached_tokens")),
		}
	}

	// Anthropic messages and the OpenAI responses API both report
	// input_tokens / output_tokens. Anthropic's message_delta carries
	// output_tokens alone.
	if usage.Get("input_tokens").Exists() || usage.Get("output_tokens").Exists() {
		return &TokenUsage{
			Model:        model,
			InputTokens:  int(usage.Get("input_tokens").Int()),
			OutputTokens: int(usage.Get("output_tokens").Int()),
			CachedInputTokens: int(firstInt(usage,
				"cache_read_input_tokens",
				"input_tokens_details.cached_tokens")),
		}
	}

	// Gemini
	if meta := doc.Get("usageMetadata"); meta.Exists() {
		return &TokenUsage{
			Model:             model,
			InputTokens:       int(meta.Get("promptTokenCount").Int()),
			OutputTokens:      int(meta.Get("candidatesTokenCount").Int()),
			CachedInputTokens: int(meta.Get("cachedContentTokenCount").Int()),
		}
	}

	// Ollama
	if doc.Get("prompt_eval_count").Exists() || doc.Get("eval_count").Exists() {
		return &TokenUsage{
			Model:        model,
			InputTokens:  int(doc.Get("prompt_eval_count").Int()),
			OutputTokens: int(doc.Get("eval_count").Int()),
		}
	}

	return nil
}

// extractUsageSSE merges usage across the data events of a captured
// SSE stream. Providers split the counts: OpenAI reports usage only in
// the final chunk, Anthropic reports input tokens in message_start and
// output tokens in message_delta. Later non-zero values win per field.
func extractUsageSSE(body []byte) *TokenUsage {
	var merged *TokenUsage
	model := ""
	for _, data := range sseDataEvents(body) {
		doc := gjson.ParseBytes(data)
		if m := doc.Get("model").String(); m != "" {
			model = m
		} else if m := doc.Get("message.model").String(); m != "" {
			model = m
		}

		u := extractUsageJSON(data)
		if u == nil {
			continue
		}
		if merged == nil {
			merged = u
			continue
		}
		if u.InputTokens > 0 {
			merged.InputTokens = u.InputTokens
		}
		if u.OutputTokens > 0 {
			merged.OutputTokens = u.OutputTokens
		}
		if u.CachedInputTokens > 0 {
			merged.CachedInputTokens = u.CachedInputTokens
		}
		if u.Model != "" {
			merged.Model = u.Model
		}
	}
	if merged != nil && merged.Model == "" {
		merged.Model = model
	}
	return merged
}

// sseDataEvents returns the JSON payloads of an SSE body's data lines,
// skipping the [DONE] sentinel and anything that is not valid JSON.
func sseDataEvents(body []byte) [][]byte {
	var payloads [][]byte
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) || !gjson.ValidBytes(data) {
			continue
		}
		payloads = append(payloads, data)
	}
	return payloads
}

func firstInt(doc gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}
