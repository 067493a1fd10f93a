// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"sentryvolt/sidecar/analyzer"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	source := analyzer.RuleSource(r.URL.Query().Get("source"))
	rules, err := s.rules.ListRules(r.Context(), source)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list rules", err.Error())
		return
	}
	overrides, err := s.rules.ListOverrides(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list overrides", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"rules":     rules,
		"overrides": overrides,
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.GetRule(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, analyzer.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no such rule", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load rule", err.Error())
		return
	}
	respond(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule analyzer.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	if strings.TrimSpace(rule.Name) == "" || len(rule.Patterns) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_rule", "name and at least one pattern are required", nil)
		return
	}
	if !rule.Severity.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_rule", "severity must be low, medium, high or critical", nil)
		return
	}
	if err := analyzer.ValidatePatterns(rule.Patterns); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pattern", err.Error(), nil)
		return
	}

	rule.Source = analyzer.SourceCustom
	rule.Enabled = true
	if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
		if errors.Is(err, analyzer.ErrRuleExists) {
			respondError(w, http.StatusConflict, "conflict", "a rule with this id already exists", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "failed to create rule", err.Error())
		return
	}
	s.reloadAnalyzer(r)
	respond(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.rules.GetRule(r.Context(), id)
	if errors.Is(err, analyzer.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no such rule", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load rule", err.Error())
		return
	}
	if existing.Source == analyzer.SourceCommunity {
		respondError(w, http.StatusBadRequest, "immutable_rule",
			"community rules cannot be edited directly; use an override", nil)
		return
	}

	var rule analyzer.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = id
	rule.Source = existing.Source
	if !rule.Severity.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_rule", "severity must be low, medium, high or critical", nil)
		return
	}
	if err := analyzer.ValidatePatterns(rule.Patterns); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pattern", err.Error(), nil)
		return
	}

	if err := s.rules.UpdateRule(r.Context(), &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to update rule", err.Error())
		return
	}
	s.reloadAnalyzer(r)
	respond(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	err := s.rules.DeleteRule(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, analyzer.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no such rule", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to delete rule", err.Error())
		return
	}
	s.reloadAnalyzer(r)
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUpsertRuleOverride(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var o analyzer.RuleOverride
	if !decodeBody(w, r, &o) {
		return
	}
	o.RuleID = id
	if o.Severity != nil && !o.Severity.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_override", "severity must be low, medium, high or critical", nil)
		return
	}
	if len(o.Patterns) > 0 {
		if err := analyzer.ValidatePatterns(o.Patterns); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_pattern", err.Error(), nil)
			return
		}
	}

	if _, err := s.rules.GetRule(r.Context(), id); errors.Is(err, analyzer.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no such rule", nil)
		return
	}
	if err := s.rules.UpsertOverride(r.Context(), &o); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to save override", err.Error())
		return
	}
	s.reloadAnalyzer(r)
	respond(w, http.StatusOK, o)
}

func (s *Server) handleDeleteRuleOverride(w http.ResponseWriter, r *http.Request) {
	err := s.rules.DeleteOverride(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, analyzer.ErrOverrideNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no override for this rule", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to delete override", err.Error())
		return
	}
	s.reloadAnalyzer(r)
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleGenerateRule proposes regex candidates from a plain-language
// description. Candidates are suggestions only; nothing is persisted
// until the caller creates a rule from them.
func (s *Server) handleGenerateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		respondError(w, http.StatusBadRequest, "empty_description", "description must not be empty", nil)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"candidates": analyzer.GeneratePatterns(req.Description),
	})
}

// reloadAnalyzer rebuilds the compiled snapshot after any rule or
// override change. A reload failure leaves the previous snapshot in
// place, so it is logged rather than surfaced.
func (s *Server) reloadAnalyzer(r *http.Request) {
	if err := s.analyzer.Reload(r.Context()); err != nil {
		s.log.Errorf("", "", "Analyzer reload failed", err, nil)
	}
}
