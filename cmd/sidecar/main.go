// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the SentryVolt security sidecar.
//
// The sidecar is a local security gateway that:
// - Proxies LLM traffic to 17 upstream providers
// - Scans prompts and responses against the threat rule set
// - Evaluates tool calls against the permission engine
// - Records per-request cost and enforces daily budgets
//
// Usage:
//
//	./sidecar
//
// Environment Variables:
//
//	SV_DATA_DIR - data directory (default: platform app-data dir)
//	SV_LOG_LEVEL - debug, info, warn or error (default: info)
//	SV_CLOUD_API_KEY - cloud analysis API key (optional)
package main

import (
	"fmt"
	"os"

	"sentryvolt/sidecar/server"
)

func main() {
	if err := server.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "sidecar:", err)
		os.Exit(1)
	}
}
