// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"sentryvolt/sidecar/events"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := events.Filter{
		Page:       queryInt(q.Get("page"), 1),
		PageSize:   queryInt(q.Get("page_size"), 20),
		ThreatType: q.Get("threat_type"),
		Source:     q.Get("source"),
		SortBy:     q.Get("sort"),
		Order:      q.Get("order"),
	}
	if v := q.Get("is_threat"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_filter", "is_threat must be a boolean", nil)
			return
		}
		f.IsThreat = &b
	}
	var ok bool
	if f.Start, ok = queryTime(w, q.Get("start_date"), "start_date"); !ok {
		return
	}
	if f.End, ok = queryTime(w, q.Get("end_date"), "end_date"); !ok {
		return
	}

	page, err := s.events.List(r.Context(), f)
	if err != nil {
		if errors.Is(err, events.ErrBadPagination) || errors.Is(err, events.ErrBadSortField) {
			respondError(w, http.StatusBadRequest, "invalid_query", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list events", err.Error())
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, err := s.events.Get(r.Context(), id)
	if errors.Is(err, events.ErrEventNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no event with id "+id, nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load event", err.Error())
		return
	}
	respond(w, http.StatusOK, e)
}

func (s *Server) handleReviewEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var review events.Review
	if !decodeBody(w, r, &review) {
		return
	}
	if review.Confidence < 0 || review.Confidence > 1 {
		respondError(w, http.StatusBadRequest, "invalid_review", "confidence must be in [0,1]", nil)
		return
	}

	err := s.events.SetReview(r.Context(), id, &review)
	if errors.Is(err, events.ErrEventNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no event with id "+id, nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to save review", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// queryTime parses an RFC 3339 timestamp or a bare date. The bool is
// false when a response has already been written.
func queryTime(w http.ResponseWriter, raw, name string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	respondError(w, http.StatusBadRequest, "invalid_filter", name+" must be RFC 3339 or YYYY-MM-DD", nil)
	return nil, false
}
