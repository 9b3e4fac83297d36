// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianContext/pkg/logging"
	"github.com/AleutianAI/AleutianContext/services/context_engine/aggregate"
	"github.com/AleutianAI/AleutianContext/services/context_engine/config"
)

var (
	aggregateMaxTokens int
	aggregateSession   string

	aggregateCmd = &cobra.Command{
		Use:   "aggregate [query]",
		Short: "Aggregate context for a query from the configured sources",
		Long: `Runs one aggregation over the configured sources (local conversation
memory, plus semantic knowledge when enabled) and prints the merged,
budget-respecting result as JSON.

Examples:
  context-engine aggregate "how do we rotate the signing keys"
  context-engine aggregate "deploy steps" --max-tokens 2000 --session ops`,
		Args: cobra.ExactArgs(1),
		RunE: runAggregateCommand,
	}
)

func init() {
	aggregateCmd.Flags().IntVar(&aggregateMaxTokens, "max-tokens", 0,
		"token budget for the merged context (default from config)")
	aggregateCmd.Flags().StringVar(&aggregateSession, "session", defaultMemorySession,
		"conversation memory session to read from")
}

func runAggregateCommand(cmd *cobra.Command, args []string) error {
	_, cleanup := logging.Setup(logging.Config{
		Level:   logLevel,
		Service: "context-engine",
	})
	defer cleanup()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	memory, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = memory.Close() }()

	agg, err := buildAggregator(cfg, memory, aggregateSession)
	if err != nil {
		return err
	}

	maxTokens := cfg.Aggregation.MaxTokens
	if aggregateMaxTokens > 0 {
		maxTokens = aggregateMaxTokens
	}

	result, err := agg.Aggregate(cmd.Context(), args[0], aggregate.WithMaxTokens(maxTokens))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
