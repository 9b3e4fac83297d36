// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the context engine configuration with
// priority: environment > file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize caps config reads so a mispointed path cannot exhaust
// memory.
const MaxConfigFileSize = 1 << 20 // 1 MiB

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// EngineConfig is the top-level configuration for the context engine.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation; hot reload hands out fresh copies instead.
type EngineConfig struct {
	// Model selects the token budget via the model window table.
	Model string `json:"model" yaml:"model" validate:"required"`

	// Budget contains token reservation settings.
	Budget BudgetConfig `json:"budget" yaml:"budget"`

	// Aggregation contains context source fan-out settings.
	Aggregation AggregationConfig `json:"aggregation" yaml:"aggregation"`

	// Optimization contains conversation shrinking settings.
	Optimization OptimizationConfig `json:"optimization" yaml:"optimization"`

	// Memory contains local conversation memory settings.
	Memory MemoryConfig `json:"memory" yaml:"memory"`

	// Knowledge contains semantic retrieval settings.
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`

	// Server contains HTTP API settings.
	Server ServerConfig `json:"server" yaml:"server"`
}

// BudgetConfig contains token reservation settings.
type BudgetConfig struct {
	ReservedResponseTokens int `json:"reserved_response_tokens" yaml:"reserved_response_tokens" validate:"gte=0"`
	ReservedSystemTokens   int `json:"reserved_system_tokens" yaml:"reserved_system_tokens" validate:"gte=0"`
	ReservedHistoryTokens  int `json:"reserved_history_tokens" yaml:"reserved_history_tokens" validate:"gte=0"`

	// ModelMaxTokens overrides the model window lookup when > 0.
	ModelMaxTokens int `json:"model_max_tokens" yaml:"model_max_tokens" validate:"gte=0"`
}

// AggregationConfig contains context source fan-out settings.
type AggregationConfig struct {
	MaxTokens            int           `json:"max_tokens" yaml:"max_tokens" validate:"gt=0"`
	FetchTimeout         time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" validate:"gt=0"`
	MaxConcurrentFetches int           `json:"max_concurrent_fetches" yaml:"max_concurrent_fetches" validate:"gte=0"`
	LabelSections        bool          `json:"label_sections" yaml:"label_sections"`
}

// OptimizationConfig contains conversation shrinking settings.
type OptimizationConfig struct {
	TargetTokens        int  `json:"target_tokens" yaml:"target_tokens" validate:"gt=0"`
	PreserveRecent      int  `json:"preserve_recent" yaml:"preserve_recent" validate:"gte=0"`
	SmartToolSummarize  bool `json:"smart_tool_summarize" yaml:"smart_tool_summarize"`
	MinCharsToSummarize int  `json:"min_chars_to_summarize" yaml:"min_chars_to_summarize" validate:"gt=0"`
	SummaryMaxTokens    int  `json:"summary_max_tokens" yaml:"summary_max_tokens" validate:"gt=0"`
}

// MemoryConfig contains local conversation memory settings.
type MemoryConfig struct {
	Path       string `json:"path" yaml:"path"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
	RecentN    int    `json:"recent_n" yaml:"recent_n" validate:"gte=0"`
}

// KnowledgeConfig contains semantic retrieval settings.
type KnowledgeConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Scheme       string  `json:"scheme" yaml:"scheme" validate:"omitempty,oneof=http https"`
	Host         string  `json:"host" yaml:"host"`
	ClassName    string  `json:"class_name" yaml:"class_name"`
	DataSpace    string  `json:"data_space" yaml:"data_space"`
	TopK         int     `json:"top_k" yaml:"top_k" validate:"gte=0"`
	MinCertainty float64 `json:"min_certainty" yaml:"min_certainty" validate:"gte=0,lte=1"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port" validate:"gt=0,lte=65535"`
}

// Default returns the default configuration.
func Default() EngineConfig {
	return EngineConfig{
		Model: "gpt-4o-mini",
		Budget: BudgetConfig{
			ReservedResponseTokens: 4096,
			ReservedSystemTokens:   1024,
			ReservedHistoryTokens:  2048,
		},
		Aggregation: AggregationConfig{
			MaxTokens:            4000,
			FetchTimeout:         10 * time.Second,
			MaxConcurrentFetches: 8,
			LabelSections:        true,
		},
		Optimization: OptimizationConfig{
			TargetTokens:        8000,
			PreserveRecent:      4,
			SmartToolSummarize:  true,
			MinCharsToSummarize: 2000,
			SummaryMaxTokens:    500,
		},
		Memory: MemoryConfig{
			Path:       "data/context-memory",
			SyncWrites: true,
			RecentN:    10,
		},
		Knowledge: KnowledgeConfig{
			Scheme:       "http",
			Host:         "localhost:8080",
			ClassName:    "Document",
			TopK:         5,
			MinCertainty: 0.6,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8180,
		},
	}
}

// Load builds the configuration with priority: env > file > defaults.
//
// Inputs:
//
//	path - Path to a YAML config file. Empty or missing means defaults.
//
// Outputs:
//
//	EngineConfig - Merged configuration.
//	error - Non-nil if the file exists but is invalid, or validation fails.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *EngineConfig) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // missing file means defaults
		}
		return err
	}
	if info.Size() > MaxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func loadEnv(cfg *EngineConfig) {
	if v := os.Getenv("CONTEXT_ENGINE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("CONTEXT_ENGINE_RESERVED_RESPONSE_TOKENS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Budget.ReservedResponseTokens = i
		}
	}
	if v := os.Getenv("CONTEXT_ENGINE_MODEL_MAX_TOKENS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Budget.ModelMaxTokens = i
		}
	}
	if v := os.Getenv("CONTEXT_ENGINE_AGGREGATE_MAX_TOKENS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Aggregation.MaxTokens = i
		}
	}
	if v := os.Getenv("CONTEXT_ENGINE_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Aggregation.FetchTimeout = d
		}
	}
	if v := os.Getenv("CONTEXT_ENGINE_TARGET_TOKENS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Optimization.TargetTokens = i
		}
	}
	if v := os.Getenv("CONTEXT_ENGINE_PRESERVE_RECENT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Optimization.PreserveRecent = i
		}
	}
	if v := os.Getenv("CONTEXT_ENGINE_SMART_TOOL_SUMMARIZE"); v != "" {
		cfg.Optimization.SmartToolSummarize = v == "true" || v == "1"
	}
	if v := os.Getenv("CONTEXT_ENGINE_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("CONTEXT_ENGINE_WEAVIATE_HOST"); v != "" {
		cfg.Knowledge.Host = v
		cfg.Knowledge.Enabled = true
	}
	if v := os.Getenv("CONTEXT_ENGINE_WEAVIATE_SCHEME"); v != "" {
		cfg.Knowledge.Scheme = v
	}
	if v := os.Getenv("CONTEXT_ENGINE_DATA_SPACE"); v != "" {
		cfg.Knowledge.DataSpace = v
	}
	if v := os.Getenv("CONTEXT_ENGINE_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = i
		}
	}
}
