// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"sentryvolt/sidecar/cost"
	"sentryvolt/sidecar/shared/logger"
)

// FileManager reconciles the human-editable config file with the
// settings store. The store is canonical once running; the file is the
// way a user edits things with the sidecar stopped.
type FileManager struct {
	path     string
	settings *Repository
	costs    *cost.Repository
	log      *logger.Logger

	mu      sync.Mutex
	current Config
}

// NewFileManager creates a manager for the config file at path.
func NewFileManager(path string, settingsRepo *Repository, costRepo *cost.Repository) *FileManager {
	return &FileManager{
		path:     path,
		settings: settingsRepo,
		costs:    costRepo,
		log:      logger.New("config-file"),
	}
}

// Current returns the last synced configuration.
func (m *FileManager) Current() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Sync loads the config file and pushes recognized sections into the
// store. A missing or unparsable file is regenerated from the store
// with the commented template.
func (m *FileManager) Sync(ctx context.Context) (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m.regenerate(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		m.log.Warn("", "", "Config file is not valid YAML, regenerating", map[string]interface{}{
			"path":  m.path,
			"error": err.Error(),
		})
		return m.regenerate(ctx)
	}

	if err := m.applyToStore(ctx, &cfg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	// Rewrite so missing sections are filled in with the template.
	if err := m.Rewrite(ctx); err != nil {
		m.log.Warn("", "", "Failed to rewrite config file after sync", map[string]interface{}{"error": err.Error()})
	}
	return &cfg, nil
}

// Rewrite renders the current store state back to disk. Called after
// every settings update so file and store stay in lock-step.
func (m *FileManager) Rewrite(ctx context.Context) error {
	s, err := m.settings.Get(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	cfg := m.current
	m.mu.Unlock()
	cfg.Server.Host = s.Host
	cfg.Server.Port = s.Port

	if budget, err := m.costs.GetBudget(ctx, cost.GlobalScope); err == nil {
		cfg.Budget.DailyLimit = budget.DailyLimitUSD
		cfg.Budget.Warn = budget.Action == cost.ActionWarn
		cfg.Budget.Block = budget.Action == cost.ActionBlock
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	rendered, err := renderConfig(&cfg)
	if err != nil {
		return err
	}
	// Skip the write when nothing changed, so the file watcher does not
	// chase its own rewrites.
	if existing, err := os.ReadFile(m.path); err == nil && bytes.Equal(existing, rendered) {
		return nil
	}
	if err := os.WriteFile(m.path, rendered, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (m *FileManager) regenerate(ctx context.Context) (*Config, error) {
	cfg := defaultConfig()
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	if err := m.Rewrite(ctx); err != nil {
		return nil, err
	}
	out := m.Current()
	return &out, nil
}

// applyToStore pushes the file's recognized sections into the store.
func (m *FileManager) applyToStore(ctx context.Context, cfg *Config) error {
	s, err := m.settings.Get(ctx)
	if err != nil {
		return err
	}
	if cfg.Server.Host != "" {
		s.Host = cfg.Server.Host
	}
	if cfg.Server.Port != 0 {
		s.Port = cfg.Server.Port
	}
	if err := m.settings.Update(ctx, s); err != nil {
		return fmt.Errorf("failed to apply server section: %w", err)
	}

	if cfg.Budget.DailyLimit != nil {
		action := cost.ActionWarn
		if cfg.Budget.Block {
			action = cost.ActionBlock
		}
		if err := m.costs.UpsertBudget(ctx, &cost.Budget{
			ScopeID:       cost.GlobalScope,
			DailyLimitUSD: cfg.Budget.DailyLimit,
			Action:        action,
		}); err != nil {
			return fmt.Errorf("failed to apply budget section: %w", err)
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8743},
		Security: SecurityConfig{BlockMode: false, OutputScan: true},
		Budget:   BudgetConfig{Warn: true},
		Tools:    ToolsConfig{Enforcement: true},
		Proxy: ProxyConfig{
			Integration: true,
			Mode:        "multi-provider",
			Host:        "127.0.0.1",
			Port:        8744,
		},
	}
}

// renderConfig emits the commented template with current values.
func renderConfig(cfg *Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	header := `# SentryVolt sidecar configuration.
#
# Edit with the sidecar stopped, or use the settings API; the file is
# rewritten on every settings change so manual edits made while the
# sidecar is running will be reconciled on the next sync.
#
# server:   management API bind address
# security: block_mode stops threatening traffic instead of annotating;
#           output_scan analyzes response bodies as well as prompts
# budget:   global daily USD limit (daily_limit empty = disabled)
# tools:    enforcement applies essential-tool decisions to responses
# proxy:    mode is multi-provider (route by /{provider}/ prefix) or
#           single (everything to one provider)

`
	return append([]byte(header), body...), nil
}
