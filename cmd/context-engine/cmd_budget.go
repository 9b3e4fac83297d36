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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
)

var (
	budgetReservedResponse int
	budgetJSONOutput       bool

	budgetCmd = &cobra.Command{
		Use:   "budget [model]",
		Short: "Show the token budget for a model",
		Long: `Resolves a model name to its context window and prints the derived
budget. Unknown models degrade to a conservative default window rather
than failing.

Examples:
  context-engine budget claude-3-5-sonnet-latest
  context-engine budget gpt-4o --reserved-response 8192
  context-engine budget llama3.1:70b --json`,
		Args: cobra.ExactArgs(1),
		Run:  runBudgetCommand,
	}
)

func init() {
	budgetCmd.Flags().IntVar(&budgetReservedResponse, "reserved-response", -1,
		"tokens reserved for the model's reply (default from the budget table)")
	budgetCmd.Flags().BoolVar(&budgetJSONOutput, "json", false, "output as JSON")
}

func runBudgetCommand(cmd *cobra.Command, args []string) {
	model := args[0]

	var opts []budget.Option
	if budgetReservedResponse >= 0 {
		opts = append(opts, budget.WithReservedResponse(budgetReservedResponse))
	}
	b := budget.FromModel(model, opts...)

	if budgetJSONOutput {
		out := map[string]any{
			"model":              model,
			"context_window":     b.ModelMaxTokens,
			"max_context_tokens": b.MaxContextTokens(),
			"reserved_response":  b.ReservedResponseTokens,
			"reserved_system":    b.ReservedSystemTokens,
			"reserved_history":   b.ReservedHistoryTokens,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	fmt.Printf("Model:               %s\n", model)
	fmt.Printf("Context window:      %d tokens\n", b.ModelMaxTokens)
	fmt.Printf("Reserved (response): %d\n", b.ReservedResponseTokens)
	fmt.Printf("Reserved (system):   %d\n", b.ReservedSystemTokens)
	fmt.Printf("Reserved (history):  %d\n", b.ReservedHistoryTokens)
	fmt.Printf("Available context:   %d tokens\n", b.MaxContextTokens())
}
