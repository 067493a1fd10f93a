// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sentryvolt/sidecar/cost"
)

func (s *Server) handleListPricing(w http.ResponseWriter, r *http.Request) {
	rows, err := s.costs.ListPricing(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list pricing", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"items": rows})
}

func (s *Server) handleUpsertPricing(w http.ResponseWriter, r *http.Request) {
	var p cost.Pricing
	if !decodeBody(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.Provider) == "" || strings.TrimSpace(p.Model) == "" {
		respondError(w, http.StatusBadRequest, "invalid_pricing", "provider and model are required", nil)
		return
	}
	if err := s.costs.UpsertPricing(r.Context(), &p); err != nil {
		if errors.Is(err, cost.ErrNegativeRate) {
			respondError(w, http.StatusBadRequest, "invalid_pricing", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "failed to save pricing", err.Error())
		return
	}
	s.pricing.Invalidate()
	respond(w, http.StatusOK, p)
}

func (s *Server) handleDeletePricing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := s.costs.DeletePricing(r.Context(), vars["provider"], vars["model"])
	if errors.Is(err, cost.ErrPricingNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no such pricing entry", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to delete pricing", err.Error())
		return
	}
	s.pricing.Invalidate()
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	rows, err := s.costs.ListBudgets(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list budgets", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"items": rows})
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]
	b, err := s.costs.GetBudget(r.Context(), scope)
	if errors.Is(err, cost.ErrBudgetNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no budget for scope "+scope, nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load budget", err.Error())
		return
	}
	respond(w, http.StatusOK, b)
}

func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	var b cost.Budget
	if !decodeBody(w, r, &b) {
		return
	}
	b.ScopeID = mux.Vars(r)["scope"]
	if b.DailyLimitUSD != nil && *b.DailyLimitUSD < 0 {
		respondError(w, http.StatusBadRequest, "invalid_budget", "daily_limit_usd must be non-negative", nil)
		return
	}

	if err := s.costs.UpsertBudget(r.Context(), &b); err != nil {
		if errors.Is(err, cost.ErrBadAction) {
			respondError(w, http.StatusBadRequest, "invalid_budget", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "failed to save budget", err.Error())
		return
	}
	if err := s.configFile.Rewrite(r.Context()); err != nil {
		s.log.Warn("", "", "Failed to rewrite config file after budget change", map[string]interface{}{
			"error": err.Error(),
		})
	}
	respond(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	err := s.costs.DeleteBudget(r.Context(), mux.Vars(r)["scope"])
	if errors.Is(err, cost.ErrBudgetNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no budget for this scope", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to delete budget", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListCosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := cost.Filter{
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("page_size"), 20),
		AgentID:  q.Get("agent_id"),
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
	}
	var ok bool
	if f.Start, ok = queryTime(w, q.Get("start_date"), "start_date"); !ok {
		return
	}
	if f.End, ok = queryTime(w, q.Get("end_date"), "end_date"); !ok {
		return
	}

	page, err := s.costs.ListCosts(r.Context(), f)
	if err != nil {
		if errors.Is(err, cost.ErrBadPagination) {
			respondError(w, http.StatusBadRequest, "invalid_query", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list cost records", err.Error())
		return
	}
	respond(w, http.StatusOK, page)
}

// handleCostSummary aggregates per-agent spend for one local calendar
// day (today unless ?date= is given).
func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_filter", "date must be YYYY-MM-DD", nil)
			return
		}
		day = parsed
	}

	sums, err := s.costs.SummaryByAgent(r.Context(), day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to summarize costs", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"date":  day.Format("2006-01-02"),
		"items": sums,
	})
}
