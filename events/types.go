// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package events persists and queries the timeline of analyzed events.
package events

import (
	"time"

	"sentryvolt/sidecar/analyzer"
)

// Review is an optional human or model review attached to an event.
type Review struct {
	Agree          bool    `json:"agree"`
	Confidence     float64 `json:"confidence"`
	Explanation    string  `json:"explanation,omitempty"`
	RiskAdjustment int     `json:"risk_adjustment,omitempty"`
	Model          string  `json:"model,omitempty"`
}

// Event is one analyzed piece of traffic. Content may be empty when
// store-text is disabled; the digest and length are always kept.
type Event struct {
	ID            string                 `json:"id"`
	RequestID     string                 `json:"request_id,omitempty"`
	Content       string                 `json:"content,omitempty"`
	ContentHash   string                 `json:"content_hash"`
	ContentLength int                    `json:"content_length"`
	IsThreat      bool                   `json:"is_threat"`
	ThreatType    string                 `json:"threat_type"`
	RiskScore     int                    `json:"risk_score"`
	Confidence    float64                `json:"confidence"`
	MatchedRules  []analyzer.MatchedRule `json:"matched_rules"`
	Source        string                 `json:"source,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	ProcessingMS  float64                `json:"processing_time_ms"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Review        *Review                `json:"review,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Filter narrows and orders a paginated event listing.
type Filter struct {
	Page       int
	PageSize   int
	IsThreat   *bool
	ThreatType string
	Source     string
	Start      *time.Time
	End        *time.Time
	SortBy     string
	Order      string
}

// Page is one page of a listing plus pagination bookkeeping.
type Page struct {
	Items      []Event `json:"items"`
	Total      int     `json:"total"`
	PageNum    int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalPages int     `json:"total_pages"`
}
