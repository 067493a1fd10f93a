// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package paths resolves OS-appropriate data, log, and config directories
// for the sidecar. All persistent state lives under the data directory.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "sentryvolt"

// DataDir returns the directory holding the database, the config file,
// and the bundled rule cache. The directory is created if absent.
//
//	linux:   $XDG_DATA_HOME/sentryvolt or ~/.local/share/sentryvolt
//	darwin:  ~/Library/Application Support/sentryvolt
//	windows: %APPDATA%\sentryvolt
//
// SV_DATA_DIR overrides the platform default, which tests rely on.
func DataDir() (string, error) {
	if dir := os.Getenv("SV_DATA_DIR"); dir != "" {
		return ensure(dir)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var dir string
	switch runtime.GOOS {
	case "darwin":
		dir = filepath.Join(home, "Library", "Application Support", appDirName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			dir = filepath.Join(appData, appDirName)
		} else {
			dir = filepath.Join(home, "AppData", "Roaming", appDirName)
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dir = filepath.Join(xdg, appDirName)
		} else {
			dir = filepath.Join(home, ".local", "share", appDirName)
		}
	}
	return ensure(dir)
}

// LogDir returns the directory for log files, created if absent.
func LogDir() (string, error) {
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	return ensure(filepath.Join(data, "logs"))
}

// DatabasePath returns the full path of the sqlite database file.
func DatabasePath() (string, error) {
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "sentryvolt.db"), nil
}

// ConfigPath returns the full path of the declarative config file.
func ConfigPath() (string, error) {
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "config.yaml"), nil
}

// RulesDir returns the directory holding bundled community rule files.
// SV_RULES_DIR points at a checkout's rules/community during
// development; installs ship the files under the data directory.
func RulesDir() (string, error) {
	if dir := os.Getenv("SV_RULES_DIR"); dir != "" {
		return dir, nil
	}
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	return ensure(filepath.Join(data, "rules"))
}

// EnvPath returns the path of the optional credentials env file.
func EnvPath() (string, error) {
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "sentryvolt.env"), nil
}

func ensure(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
