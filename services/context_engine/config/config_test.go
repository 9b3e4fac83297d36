// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 4096, cfg.Budget.ReservedResponseTokens)
	assert.Equal(t, 8000, cfg.Optimization.TargetTokens)
	assert.True(t, cfg.Aggregation.LabelSections)
}

func TestLoad_MissingFileMeansDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
model: claude-3-5-sonnet-latest
optimization:
  target_tokens: 150000
  preserve_recent: 6
  smart_tool_summarize: true
  min_chars_to_summarize: 2000
  summary_max_tokens: 500
aggregation:
  max_tokens: 12000
  fetch_timeout: 5s
  max_concurrent_fetches: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Model)
	assert.Equal(t, 150000, cfg.Optimization.TargetTokens)
	assert.Equal(t, 6, cfg.Optimization.PreserveRecent)
	assert.Equal(t, 12000, cfg.Aggregation.MaxTokens)
	assert.Equal(t, 5*time.Second, cfg.Aggregation.FetchTimeout)

	// Untouched sections keep their defaults.
	assert.Equal(t, 4096, cfg.Budget.ReservedResponseTokens)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: gpt-4o\n"), 0644))

	t.Setenv("CONTEXT_ENGINE_MODEL", "llama3.1:70b")
	t.Setenv("CONTEXT_ENGINE_TARGET_TOKENS", "2500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3.1:70b", cfg.Model)
	assert.Equal(t, 2500, cfg.Optimization.TargetTokens)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
optimization:
  target_tokens: -5
  preserve_recent: 4
  min_chars_to_summarize: 2000
  summary_max_tokens: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_OversizedFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	big := make([]byte, MaxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	require.NoError(t, os.WriteFile(path, big, 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: gpt-4o\n"), 0644))

	reloaded := make(chan EngineConfig, 4)
	w, err := NewWatcher(path, func(cfg EngineConfig) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Start(t.Context()))

	// Settle before writing so the create events above are not picked up.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("model: claude-3-opus\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "claude-3-opus", cfg.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reloaded")
	}
}

func TestWatcher_InvalidReloadDropped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: gpt-4o\n"), 0644))

	reloaded := make(chan EngineConfig, 4)
	w, err := NewWatcher(path, func(cfg EngineConfig) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Start(t.Context()))
	time.Sleep(100 * time.Millisecond)

	// Broken YAML must not reach the handler.
	require.NoError(t, os.WriteFile(path, []byte("model: [broken\n"), 0644))

	select {
	case cfg := <-reloaded:
		t.Fatalf("handler received invalid reload: %+v", cfg)
	case <-time.After(time.Second):
	}
}
