// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

/*
Command sidecar runs the SentryVolt security sidecar.

The sidecar is a local-host companion for AI agents: it proxies LLM
traffic to upstream providers, scans prompts and responses for threats,
gates risky tool calls, and tracks per-agent spend against daily
budgets. Everything runs on 127.0.0.1 against a local SQLite database;
no traffic leaves the machine unless cloud mode is enabled.

# Usage

	sidecar

# Environment Variables

Optional:
  - SV_DATA_DIR: data directory (default: the platform app-data dir)
  - SV_LOG_LEVEL: debug, info, warn or error (default: info)
  - SV_RULES_DIR: directory of bundled community rule files
  - SV_CLOUD_URL: cloud analysis service base URL
  - SV_CLOUD_API_KEY: cloud analysis API key
  - SV_<PROVIDER>_BASE_URL: per-provider upstream override, e.g.
    SV_OPENAI_BASE_URL
  - AZURE_OPENAI_ENDPOINT: Azure OpenAI resource endpoint

Provider credentials are read from the environment under each
provider's conventional variable (OPENAI_API_KEY, ANTHROPIC_API_KEY,
and so on) or from the env file in the data directory.

# Example

	export OPENAI_API_KEY="sk-..."
	export ANTHROPIC_API_KEY="sk-ant-..."
	./sidecar

Point the agent at http://127.0.0.1:8744/openai/v1/chat/completions
instead of the provider, with an x-sv-agent header naming the agent.
*/
package main
