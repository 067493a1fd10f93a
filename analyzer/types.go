// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package analyzer implements the rule-based threat analyzer: community
// rule loading, user rules and overrides, pattern compilation, and text
// matching. The analyzer is deterministic pattern matching plus score
// aggregation; it is not a learned model.
package analyzer

import (
	"time"
)

// Severity is the declared severity of a rule.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskScore maps severity to the base risk score of a match.
func (s Severity) RiskScore() int {
	switch s {
	case SeverityCritical:
		return 90
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 25
	default:
		return 0
	}
}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RuleSource distinguishes shipped community rules from user rules.
type RuleSource string

const (
	SourceCommunity RuleSource = "community"
	SourceCustom    RuleSource = "custom"
)

// Rule is a threat-detection rule, community or custom.
type Rule struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Category    string                 `json:"category"`
	Description string                 `json:"description,omitempty"`
	Severity    Severity               `json:"severity"`
	Patterns    []string               `json:"patterns"`
	Enabled     bool                   `json:"enabled"`
	Source      RuleSource             `json:"source"`
	OriginFile  string                 `json:"origin_file,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RuleOverride is a user modification layered over a community rule.
// Nil fields leave the underlying rule's value in effect. At most one
// override exists per rule.
type RuleOverride struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	Enabled   *bool     `json:"enabled,omitempty"`
	Severity  *Severity `json:"severity,omitempty"`
	Patterns  []string  `json:"patterns,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchedRule identifies one rule that matched the analyzed text,
// including the specific pattern that fired.
type MatchedRule struct {
	RuleID   string     `json:"rule_id"`
	Name     string     `json:"name"`
	Category string     `json:"category"`
	Severity Severity   `json:"severity"`
	Source   RuleSource `json:"source"`
	Pattern  string     `json:"pattern"`
}

// Analysis is the analyzer verdict for one piece of text.
//
// Invariants: 0 <= RiskScore <= 100, 0 <= Confidence <= 1, and
// MatchedRules is non-empty exactly when IsThreat is true.
type Analysis struct {
	IsThreat     bool          `json:"is_threat"`
	ThreatType   string        `json:"threat_type"`
	RiskScore    int           `json:"risk_score"`
	Confidence   float64       `json:"confidence"`
	MatchedRules []MatchedRule `json:"matched_rules"`
	ProcessingMS float64       `json:"processing_time_ms"`
}
