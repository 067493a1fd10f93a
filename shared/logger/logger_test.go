// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(fn func()) string {
	var buf bytes.Buffer
	orig := log.Writer()
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(orig)
		log.SetFlags(flags)
	}()
	fn()
	return buf.String()
}

func TestLoggerEmitsJSON(t *testing.T) {
	l := New("test-component")

	out := captureOutput(func() {
		l.Info("agent-1", "req-42", "hello", map[string]interface{}{"k": "v"})
	})

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, INFO, entry.Level)
	assert.Equal(t, "test-component", entry.Component)
	assert.Equal(t, "agent-1", entry.AgentID)
	assert.Equal(t, "req-42", entry.RequestID)
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, "v", entry.Fields["k"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	l := &Logger{Component: "test", minLevel: WARN}

	out := captureOutput(func() {
		l.Debug("", "", "dropped", nil)
		l.Info("", "", "dropped", nil)
		l.Warn("", "", "kept", nil)
	})

	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestErrorfAttachesError(t *testing.T) {
	l := New("test")

	out := captureOutput(func() {
		l.Errorf("", "", "boom", assert.AnError, nil)
	})

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, ERROR, entry.Level)
	assert.Equal(t, assert.AnError.Error(), entry.Fields["error"])
}

func TestInfoWithDuration(t *testing.T) {
	l := New("test")

	out := captureOutput(func() {
		l.InfoWithDuration("", "", "done", 12.5, nil)
	})

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, 12.5, entry.Fields["duration_ms"])
}
