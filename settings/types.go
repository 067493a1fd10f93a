// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package settings owns the singleton settings row and the on-disk
// config file that mirrors it.
package settings

import "time"

// Settings is the singleton row (id = 1). It always exists; Update
// rewrites it in place.
type Settings struct {
	Theme            string     `json:"theme"`
	Host             string     `json:"host"`
	Port             int        `json:"port"`
	RetentionDays    int        `json:"retention_days"`
	StoreText        bool       `json:"store_text"`
	Notifications    bool       `json:"notifications"`
	LaunchOnStartup  bool       `json:"launch_on_startup"`
	MinimizeToTray   bool       `json:"minimize_to_tray"`
	WindowState      string     `json:"window_state,omitempty"`
	CloudEnabled     bool       `json:"cloud_enabled"`
	CloudEmail       string     `json:"cloud_email,omitempty"`
	CloudConnectedAt *time.Time `json:"cloud_connected_at,omitempty"`
}

// Config is the declarative on-disk configuration. Sections the file
// does not mention keep their stored values.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Budget   BudgetConfig   `yaml:"budget"`
	Tools    ToolsConfig    `yaml:"tools"`
	Proxy    ProxyConfig    `yaml:"proxy"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type SecurityConfig struct {
	BlockMode  bool `yaml:"block_mode"`
	OutputScan bool `yaml:"output_scan"`
}

type BudgetConfig struct {
	DailyLimit *float64 `yaml:"daily_limit"`
	Warn       bool     `yaml:"warn"`
	Block      bool     `yaml:"block"`
}

type ToolsConfig struct {
	Enforcement bool `yaml:"enforcement"`
}

type ProxyConfig struct {
	Integration bool   `yaml:"integration"`
	Mode        string `yaml:"mode"` // multi-provider or single
	Provider    string `yaml:"provider"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
}
