// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"
	"strings"

	"sentryvolt/sidecar/analyzer"
	"sentryvolt/sidecar/events"
	"sentryvolt/sidecar/metrics"
	"sentryvolt/sidecar/store"
)

type analyzeRequest struct {
	Text      string                 `json:"text"`
	Content   string                 `json:"content"` // accepted alias
	Source    string                 `json:"source,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (req *analyzeRequest) text() string {
	if req.Text != "" {
		return req.Text
	}
	return req.Content
}

type healthResponse struct {
	Status      string       `json:"status"`
	Version     string       `json:"version"`
	Database    store.Health `json:"database"`
	RulesLoaded int          `json:"rules_loaded"`
	Proxy       interface{}  `json:"proxy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.store.Health(r.Context())

	status := "ok"
	if !health.Connected || health.PendingMigrate {
		status = "degraded"
	}
	if !s.analyzer.Loaded() {
		if err := s.analyzer.EnsureLoaded(r.Context()); err != nil {
			status = "degraded"
		}
	}

	respond(w, http.StatusOK, healthResponse{
		Status:      status,
		Version:     Version,
		Database:    health,
		RulesLoaded: s.analyzer.PatternCount(),
		Proxy:       s.controller.Status(),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := req.text()
	if strings.TrimSpace(text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text must not be empty", nil)
		return
	}

	res, err := s.analyzer.Analyze(r.Context(), text)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "analyzer_error", "analysis failed", err.Error())
		return
	}
	s.recordAnalysis(text, &req, res, "local")
	respond(w, http.StatusOK, res)
}

// handleThreatAnalytics is the cloud-compatible analyze endpoint. In
// cloud mode the request is proxied to the cloud service; any cloud
// failure falls back to local analysis so the caller always gets a
// verdict.
func (s *Server) handleThreatAnalytics(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := req.text()
	if strings.TrimSpace(text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text must not be empty", nil)
		return
	}

	source := "local"
	var res *analyzer.Analysis

	if row, err := s.settings.Get(r.Context()); err == nil && row.CloudEnabled {
		cloudRes, err := s.cloud.Analyze(r.Context(), text)
		if err == nil {
			res = cloudRes
			source = "cloud"
		} else {
			s.log.Warn("", "", "Cloud analysis failed, falling back to local", map[string]interface{}{
				"error": err.Error(),
			})
			source = "local_fallback"
		}
	}

	if res == nil {
		local, err := s.analyzer.Analyze(r.Context(), text)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "analyzer_error", "analysis failed", err.Error())
			return
		}
		res = local
	}

	s.recordAnalysis(text, &req, res, source)

	respond(w, http.StatusOK, map[string]interface{}{
		"is_threat":          res.IsThreat,
		"threat_type":        res.ThreatType,
		"risk_score":         res.RiskScore,
		"confidence":         res.Confidence,
		"matched_rules":      res.MatchedRules,
		"processing_time_ms": res.ProcessingMS,
		"analysis_source":    source,
	})
}

// recordAnalysis persists the analysis as an event off the response
// path.
func (s *Server) recordAnalysis(text string, req *analyzeRequest, res *analyzer.Analysis, analysisSource string) {
	metrics.AnalyzeDuration.Observe(res.ProcessingMS)

	eventSource := req.Source
	if eventSource == "" {
		eventSource = "api"
	}
	if res.IsThreat {
		metrics.ThreatsDetected.WithLabelValues(res.ThreatType, eventSource).Inc()
	}

	storeText := true
	if row, err := s.settings.Get(context.Background()); err == nil {
		storeText = row.StoreText
	}

	metadata := req.Metadata
	if analysisSource != "local" {
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["analysis_source"] = analysisSource
	}

	e := events.Event{
		ContentHash:   contentDigest(text),
		ContentLength: len(text),
		IsThreat:      res.IsThreat,
		ThreatType:    res.ThreatType,
		RiskScore:     res.RiskScore,
		Confidence:    res.Confidence,
		MatchedRules:  res.MatchedRules,
		Source:        eventSource,
		SessionID:     req.SessionID,
		ProcessingMS:  res.ProcessingMS,
		Metadata:      metadata,
	}
	if storeText {
		e.Content = text
	}
	s.writer.Enqueue(func(ctx context.Context) {
		if err := s.events.Insert(ctx, &e); err != nil {
			s.log.Errorf("", "", "Failed to persist analysis event", err, nil)
		}
	})
}
