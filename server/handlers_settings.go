// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"sentryvolt/sidecar/settings"
	"sentryvolt/sidecar/shared/paths"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	row, err := s.settings.Get(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load settings", err.Error())
		return
	}
	respond(w, http.StatusOK, row)
}

// handleUpdateSettings decodes the body over the stored row, so fields
// the caller omits keep their current values.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	row, err := s.settings.Get(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load settings", err.Error())
		return
	}
	if !decodeBody(w, r, row) {
		return
	}
	if err := s.settings.Update(r.Context(), row); err != nil {
		if errors.Is(err, settings.ErrInvalidRetention) {
			respondError(w, http.StatusBadRequest, "invalid_settings", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", "failed to save settings", err.Error())
		return
	}
	if err := s.configFile.Rewrite(r.Context()); err != nil {
		s.log.Warn("", "", "Failed to rewrite config file after settings change", map[string]interface{}{
			"error": err.Error(),
		})
	}
	respond(w, http.StatusOK, row)
}

// handleCloudCredentials validates an API key against the cloud service
// and, if accepted, stores it in the env file and flips cloud mode on.
// The key is never written to the database and never echoed back.
func (s *Server) handleCloudCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		respondError(w, http.StatusBadRequest, "invalid_credentials", "api_key is required", nil)
		return
	}

	valid, email, message, err := s.cloud.Validate(r.Context(), req.APIKey)
	if err != nil {
		respond(w, http.StatusOK, map[string]interface{}{
			"valid":   false,
			"message": "cloud service unreachable: " + err.Error(),
		})
		return
	}
	if !valid {
		respond(w, http.StatusOK, map[string]interface{}{
			"valid":   false,
			"message": message,
		})
		return
	}

	if err := persistCloudKey(req.APIKey); err != nil {
		respondError(w, http.StatusInternalServerError, "keystore_error", "failed to store credential", err.Error())
		return
	}
	if err := s.settings.SetCloud(r.Context(), true, email); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", "failed to enable cloud mode", err.Error())
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"valid":      true,
		"user_email": email,
	})
}

// persistCloudKey writes the key into the env file and the running
// process environment.
func persistCloudKey(apiKey string) error {
	envPath, err := paths.EnvPath()
	if err != nil {
		return err
	}
	env, err := godotenv.Read(envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env["SV_CLOUD_API_KEY"] = apiKey
	if err := godotenv.Write(env, envPath); err != nil {
		return err
	}
	return os.Setenv("SV_CLOUD_API_KEY", apiKey)
}
