// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package proxy forwards agent traffic to upstream LLM providers while
// running budget checks, threat analysis and cost recording around it.
package proxy

import (
	"fmt"
	"os"
	"strings"
)

// Dialect names the response/request body shape a provider speaks.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
	DialectGemini    Dialect = "gemini"
	DialectOllama    Dialect = "ollama"
)

// Provider declares one routable upstream. Name doubles as the URL
// prefix agents address it by (/openai/..., /anthropic/...).
type Provider struct {
	Name       string  `json:"name"`
	BaseURL    string  `json:"base_url"`
	AuthHeader string  `json:"auth_header,omitempty"`
	AuthFormat string  `json:"-"` // value template, e.g. "Bearer %s"
	EnvKey     string  `json:"-"` // credential environment variable
	Dialect    Dialect `json:"dialect"`
}

// providers is the built-in routing table. A provider's base URL can be
// overridden with SV_<NAME>_BASE_URL; credentials come from the
// provider's own conventional environment variable.
var providers = map[string]Provider{
	"openai":     {Name: "openai", BaseURL: "https://api.openai.com", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "OPENAI_API_KEY", Dialect: DialectOpenAI},
	"anthropic":  {Name: "anthropic", BaseURL: "https://api.anthropic.com", AuthHeader: "x-api-key", AuthFormat: "%s", EnvKey: "ANTHROPIC_API_KEY", Dialect: DialectAnthropic},
	"gemini":     {Name: "gemini", BaseURL: "https://generativelanguage.googleapis.com", AuthHeader: "x-goog-api-key", AuthFormat: "%s", EnvKey: "GEMINI_API_KEY", Dialect: DialectGemini},
	"ollama":     {Name: "ollama", BaseURL: "http://127.0.0.1:11434", Dialect: DialectOllama},
	"groq":       {Name: "groq", BaseURL: "https://api.groq.com/openai", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "GROQ_API_KEY", Dialect: DialectOpenAI},
	"openrouter": {Name: "openrouter", BaseURL: "https://openrouter.ai/api", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "OPENROUTER_API_KEY", Dialect: DialectOpenAI},
	"deepseek":   {Name: "deepseek", BaseURL: "https://api.deepseek.com", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "DEEPSEEK_API_KEY", Dialect: DialectOpenAI},
	"mistral":    {Name: "mistral", BaseURL: "https://api.mistral.ai", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "MISTRAL_API_KEY", Dialect: DialectOpenAI},
	"azure":      {Name: "azure", BaseURL: "", AuthHeader: "api-key", AuthFormat: "%s", EnvKey: "AZURE_OPENAI_API_KEY", Dialect: DialectOpenAI},
	"together":   {Name: "together", BaseURL: "https://api.together.xyz", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "TOGETHER_API_KEY", Dialect: DialectOpenAI},
	"fireworks":  {Name: "fireworks", BaseURL: "https://api.fireworks.ai/inference", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "FIREWORKS_API_KEY", Dialect: DialectOpenAI},
	"perplexity": {Name: "perplexity", BaseURL: "https://api.perplexity.ai", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "PERPLEXITY_API_KEY", Dialect: DialectOpenAI},
	"cohere":     {Name: "cohere", BaseURL: "https://api.cohere.com", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "COHERE_API_KEY", Dialect: DialectOpenAI},
	"xai":        {Name: "xai", BaseURL: "https://api.x.ai", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "XAI_API_KEY", Dialect: DialectOpenAI},
	"moonshot":   {Name: "moonshot", BaseURL: "https://api.moonshot.ai", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "MOONSHOT_API_KEY", Dialect: DialectOpenAI},
	"minimax":    {Name: "minimax", BaseURL: "https://api.minimax.io", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "MINIMAX_API_KEY", Dialect: DialectOpenAI},
	"cerebras":   {Name: "cerebras", BaseURL: "https://api.cerebras.ai", AuthHeader: "Authorization", AuthFormat: "Bearer %s", EnvKey: "CEREBRAS_API_KEY", Dialect: DialectOpenAI},
}

// LookupProvider resolves a URL prefix to its provider declaration,
// applying any SV_<NAME>_BASE_URL override.
func LookupProvider(prefix string) (Provider, bool) {
	p, ok := providers[strings.ToLower(prefix)]
	if !ok {
		return Provider{}, false
	}
	envName := "SV_" + strings.ToUpper(p.Name) + "_BASE_URL"
	if base := os.Getenv(envName); base != "" {
		p.BaseURL = strings.TrimRight(base, "/")
	}
	// Azure has no global endpoint; the deployment URL is required.
	if p.Name == "azure" && p.BaseURL == "" {
		if base := os.Getenv("AZURE_OPENAI_ENDPOINT"); base != "" {
			p.BaseURL = strings.TrimRight(base, "/")
		}
	}
	return p, true
}

// Providers lists all built-in providers, for the control surface.
func Providers() []Provider {
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		out = append(out, p)
	}
	return out
}

// credential resolves the upstream API key for a provider. Ollama and
// other local upstreams need none.
func credential(p Provider) (string, error) {
	if p.EnvKey == "" {
		return "", nil
	}
	key := os.Getenv(p.EnvKey)
	if key == "" && p.AuthHeader != "" {
		return "", fmt.Errorf("no credential for %s: set %s", p.Name, p.EnvKey)
	}
	return key, nil
}
