// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"sentryvolt/sidecar/tools"
)

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.tools.ListOverrides(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list tool overrides", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"essential": tools.EssentialTools(),
		"overrides": overrides,
	})
}

func (s *Server) handleUpsertToolOverride(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var o tools.ToolOverride
	if !decodeBody(w, r, &o) {
		return
	}
	o.ToolID = id
	if !o.Action.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_action",
			"action must be allow, block or log_only", nil)
		return
	}
	if err := s.tools.UpsertOverride(r.Context(), &o); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to save tool override", err.Error())
		return
	}
	respond(w, http.StatusOK, o)
}

func (s *Server) handleDeleteToolOverride(w http.ResponseWriter, r *http.Request) {
	err := s.tools.DeleteOverride(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, tools.ErrOverrideNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no override for this tool", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to delete tool override", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListCustomTools(w http.ResponseWriter, r *http.Request) {
	list, err := s.tools.ListCustomTools(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list custom tools", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"items": list})
}

func (s *Server) handleCreateCustomTool(w http.ResponseWriter, r *http.Request) {
	var t tools.CustomTool
	if !decodeBody(w, r, &t) {
		return
	}
	if strings.TrimSpace(t.ToolID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_tool", "tool_id is required", nil)
		return
	}
	if !t.Tier.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_tool",
			"tier must be read, write, delete or admin", nil)
		return
	}
	if !t.DefaultAction.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_tool",
			"default_action must be allow, block or log_only", nil)
		return
	}

	if err := s.tools.CreateCustomTool(r.Context(), &t); err != nil {
		if errors.Is(err, tools.ErrToolExists) {
			respondError(w, http.StatusConflict, "conflict", "a custom tool with this id already exists", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "failed to create custom tool", err.Error())
		return
	}
	respond(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteCustomTool(w http.ResponseWriter, r *http.Request) {
	err := s.tools.DeleteCustomTool(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, tools.ErrToolNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no such custom tool", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to delete custom tool", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}
