// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"

	"sentryvolt/sidecar/proxy"
)

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	// Body is optional; the configured defaults apply when absent.
	_ = decodeOptionalBody(r, &req)
	if req.Host == "" {
		req.Host = "127.0.0.1"
	}
	if req.Port == 0 {
		req.Port = 8744
	}

	if err := s.controller.Start(req.Host, req.Port); err != nil {
		if errors.Is(err, proxy.ErrAlreadyRunning) {
			respond(w, http.StatusOK, s.controller.Status())
			return
		}
		respondError(w, http.StatusInternalServerError, "proxy_error", "failed to start proxy", err.Error())
		return
	}
	respond(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleProxyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Stop(r.Context()); err != nil {
		if errors.Is(err, proxy.ErrNotRunning) {
			respond(w, http.StatusOK, s.controller.Status())
			return
		}
		respondError(w, http.StatusInternalServerError, "proxy_error", "failed to stop proxy", err.Error())
		return
	}
	respond(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleProxyProviders(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{"items": proxy.Providers()})
}
