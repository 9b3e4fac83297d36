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
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianContext/pkg/logging"
	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
	"github.com/AleutianAI/AleutianContext/services/context_engine/config"
	"github.com/AleutianAI/AleutianContext/services/context_engine/lineage"
	"github.com/AleutianAI/AleutianContext/services/context_engine/optimize"
	"github.com/AleutianAI/AleutianContext/services/context_engine/sources"
)

// maxOptimizeInputBytes caps the message file read in one shot.
const maxOptimizeInputBytes = 64 << 20

var (
	optimizeTargetTokens   int
	optimizePreserveRecent int
	optimizeNoSummarize    bool

	optimizeCmd = &cobra.Command{
		Use:   "optimize [messages.json]",
		Short: "Shrink a conversation to fit a token budget",
		Long: `Reads a JSON array of messages from the given file (or stdin when no
file is given), runs the optimization pipeline, and prints the result as
JSON on stdout.

Summarization uses the OpenAI API when OPENAI_API_KEY is set; without a
key the pipeline skips straight to truncation.

Examples:
  context-engine optimize conversation.json --target-tokens 8000
  cat conversation.json | context-engine optimize --no-summarize`,
		Args: cobra.MaximumNArgs(1),
		RunE: runOptimizeCommand,
	}
)

func init() {
	optimizeCmd.Flags().IntVar(&optimizeTargetTokens, "target-tokens", 0,
		"token budget to shrink to (default from config)")
	optimizeCmd.Flags().IntVar(&optimizePreserveRecent, "preserve-recent", -1,
		"most recent visible messages to leave untouched (default from config)")
	optimizeCmd.Flags().BoolVar(&optimizeNoSummarize, "no-summarize", false,
		"skip LLM summarization and rely on truncation only")
}

func runOptimizeCommand(cmd *cobra.Command, args []string) error {
	_, cleanup := logging.Setup(logging.Config{
		Level:   logLevel,
		Service: "context-engine",
	})
	defer cleanup()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	messages, err := readMessages(args)
	if err != nil {
		return err
	}
	if issues := lineage.NewValidator(false).ValidateAll(messages); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintln(os.Stderr, issue.Error())
		}
		return fmt.Errorf("%d invalid messages", len(issues))
	}

	optCfg := optimize.Config{
		TargetTokens:        cfg.Optimization.TargetTokens,
		PreserveRecent:      cfg.Optimization.PreserveRecent,
		SmartToolSummarize:  cfg.Optimization.SmartToolSummarize,
		MinCharsToSummarize: cfg.Optimization.MinCharsToSummarize,
		SummaryMaxTokens:    cfg.Optimization.SummaryMaxTokens,
	}
	if optimizeTargetTokens > 0 {
		optCfg.TargetTokens = optimizeTargetTokens
	}
	if optimizePreserveRecent >= 0 {
		optCfg.PreserveRecent = optimizePreserveRecent
	}

	var summarize optimize.SummarizeFunc
	if !optimizeNoSummarize {
		if summarizer, err := sources.NewOpenAISummarizer(); err != nil {
			slog.Warn("summarization unavailable, truncation only", "error", err)
		} else {
			summarize = summarizer.Summarize
		}
	}

	counter := budget.NewTiktokenCounter("cl100k_base")
	optimizer := optimize.NewOptimizer(summarize, counter, optCfg)
	result := optimizer.Optimize(cmd.Context(), messages)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// readMessages loads the message list from the file argument or stdin.
func readMessages(args []string) ([]lineage.Message, error) {
	var reader io.Reader = os.Stdin
	if len(args) == 1 {
		file, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening messages file: %w", err)
		}
		defer func() { _ = file.Close() }()
		reader = file
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxOptimizeInputBytes))
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	var messages []lineage.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parsing messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages in input")
	}
	return messages, nil
}
