// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for SentryVolt sidecar
components.

Each entry carries a timestamp (RFC3339Nano), level, component name,
optional agent and request correlation ids, a message, and a free-form
fields map. Output is one JSON object per line on stdout so that log
collectors and the local UI can consume it without a parser beyond JSON.

Create a logger per component:

	log := logger.New("proxy")
	log.Info("agent-A", reqID, "request forwarded", map[string]interface{}{
	    "provider": "anthropic",
	    "status":   200,
	})

The minimum level is controlled by the SV_LOG_LEVEL environment variable
(DEBUG, INFO, WARN, ERROR); it defaults to INFO.
*/
package logger
