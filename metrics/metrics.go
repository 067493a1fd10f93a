// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package metrics declares the sidecar's Prometheus instruments.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ProxyRequests counts proxied requests by provider and outcome
	// (forwarded, budget_blocked, threat_blocked, upstream_error).
	ProxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryvolt_proxy_requests_total",
			Help: "Total number of proxied LLM requests",
		},
		[]string{"provider", "outcome"},
	)

	// AnalyzeDuration tracks analyzer latency.
	AnalyzeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentryvolt_analyze_duration_milliseconds",
			Help:    "Threat analysis duration in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	// ThreatsDetected counts positive analyses by threat type and source.
	ThreatsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryvolt_threats_detected_total",
			Help: "Total number of threat verdicts",
		},
		[]string{"threat_type", "source"},
	)

	// LLMTokens counts tokens by provider, model and type (input,
	// output, cached).
	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryvolt_llm_tokens_total",
			Help: "Total LLM tokens recorded",
		},
		[]string{"provider", "model", "type"},
	)

	// LLMCost accumulates recorded spend in USD.
	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryvolt_llm_cost_usd_total",
			Help: "Recorded LLM spend in USD",
		},
		[]string{"provider", "model"},
	)

	// ToolDecisions counts permission-engine outcomes.
	ToolDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryvolt_tool_decisions_total",
			Help: "Total tool-call permission decisions",
		},
		[]string{"action", "risk_tier"},
	)

	// SideEffectDrops counts writes dropped by a full side-effect queue.
	SideEffectDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryvolt_side_effect_drops_total",
			Help: "Side-effect writes dropped because the queue was full",
		},
	)
)

var registerOnce sync.Once

// Register installs all instruments on the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		_ = prometheus.Register(ProxyRequests)
		_ = prometheus.Register(AnalyzeDuration)
		_ = prometheus.Register(ThreatsDetected)
		_ = prometheus.Register(LLMTokens)
		_ = prometheus.Register(LLMCost)
		_ = prometheus.Register(ToolDecisions)
		_ = prometheus.Register(SideEffectDrops)
	})
}
