// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package redact scrubs secrets out of text before it is logged or
// persisted. Rules run in declaration order; the JWT rule runs first so
// that the generic token rules never see the signature segments.
package redact

import (
	"regexp"
	"strings"
)

type rule struct {
	pattern *regexp.Regexp
	replace func(match string) string
}

var rules = []rule{
	// JWT: keep the header segment, redact payload and signature.
	{
		pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		replace: func(match string) string {
			parts := strings.SplitN(match, ".", 3)
			return parts[0] + ".[REDACTED].[REDACTED]"
		},
	},
	// Prefixed API keys (Stripe/OpenAI style, GitHub, Slack, AWS access keys).
	{
		pattern: regexp.MustCompile(`\b(sk_live_|sk_test_|pk_live_|pk_test_|sk-ant-|sk-|ghp_|gho_|xoxb-|xoxp-)[A-Za-z0-9_-]{8,}`),
		replace: func(match string) string {
			return keyPrefix(match) + "****"
		},
	},
	{
		pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		replace: func(string) string { return "AKIA****" },
	},
	// Bearer tokens in header-shaped text.
	{
		pattern: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{8,}`),
		replace: func(string) string { return "Bearer ****" },
	},
	// key=value / key: value style assignments.
	{
		pattern: regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token)(["']?\s*[:=]\s*["']?)([^\s"',;&]+)`),
		replace: nil, // handled with submatches in Scrub
	},
}

var assignmentRule = rules[len(rules)-1].pattern

var keyPrefixes = []string{
	"sk_live_", "sk_test_", "pk_live_", "pk_test_", "sk-ant-", "sk-",
	"ghp_", "gho_", "xoxb-", "xoxp-",
}

func keyPrefix(match string) string {
	for _, p := range keyPrefixes {
		if strings.HasPrefix(match, p) {
			return p
		}
	}
	return ""
}

// Scrub returns text with every recognized secret replaced by a
// masked placeholder. The input is never modified in place.
func Scrub(text string) string {
	for _, r := range rules {
		if r.replace != nil {
			text = r.pattern.ReplaceAllStringFunc(text, r.replace)
		}
	}
	return assignmentRule.ReplaceAllString(text, "$1$2****")
}

// ScrubMap scrubs every string value in a shallow metadata map.
func ScrubMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = Scrub(s)
		} else {
			out[k] = v
		}
	}
	return out
}
