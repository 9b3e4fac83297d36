// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package budget

import (
	"sort"
	"strings"
)

// DefaultContextWindow is the conservative fallback used when a model name
// cannot be resolved against the known-model table. Unknown models are never
// an error; they degrade to this window.
const DefaultContextWindow = 8192

// modelContextWindows maps model family names to their context window size
// in tokens. Keys are matched case-insensitively: first by exact match, then
// by longest matching prefix, then by substring family heuristics.
//
// Sizes are the provider-documented totals, not usable budgets. Reservations
// are subtracted by Budget.
var modelContextWindows = map[string]int{
	// Anthropic
	"claude-3-opus":            200000,
	"claude-3-sonnet":          200000,
	"claude-3-haiku":           200000,
	"claude-3-5-sonnet":        200000,
	"claude-3-5-sonnet-latest": 200000,
	"claude-3-5-haiku":         200000,
	"claude-3-7-sonnet":        200000,
	"claude-sonnet-4":          200000,
	"claude-opus-4":            200000,
	"claude-2.1":               200000,
	"claude-2.0":               100000,
	"claude-instant":           100000,

	// OpenAI
	"gpt-4o":          128000,
	"gpt-4o-mini":     128000,
	"gpt-4-turbo":     128000,
	"gpt-4":           8192,
	"gpt-4-32k":       32768,
	"gpt-3.5-turbo":   16385,
	"o1":              200000,
	"o1-mini":         128000,
	"o3-mini":         200000,
	"gpt-4.1":         1047576,
	"gpt-4.1-mini":    1047576,
	"text-davinci-3":  4097,

	// Google
	"gemini-1.5-pro":   2097152,
	"gemini-1.5-flash": 1048576,
	"gemini-2.0-flash": 1048576,
	"gemini-pro":       32768,

	// Common local / open-weight families served via Ollama or vLLM.
	"llama3":      8192,
	"llama3.1":    131072,
	"llama3.2":    131072,
	"llama2":      4096,
	"mistral":     32768,
	"mixtral":     32768,
	"qwen2.5":     32768,
	"codellama":   16384,
	"deepseek-r1": 131072,
	"phi3":        131072,
	"gemma2":      8192,
}

// familyWindows maps substring markers to a representative family window.
// Checked only after exact and prefix matching fail, so a more specific
// table entry always wins. Order of evaluation is longest marker first to
// keep resolution deterministic.
var familyWindows = map[string]int{
	"claude-3": 200000,
	"claude":   100000,
	"gpt-4o":   128000,
	"gemini":   32768,
	"llama":    4096,
	"mistral":  32768,
}

// ModelContextWindow resolves the context window size for a model name.
//
// Description:
//
//	Resolution happens in four stages: exact match against the model table,
//	longest matching table-key prefix, substring family heuristics (any name
//	containing "claude-3" resolves to the claude-3 family window), and
//	finally DefaultContextWindow. Matching is case-insensitive.
//
// Inputs:
//
//	modelName - The model identifier (e.g. "claude-3-5-sonnet-latest").
//
// Outputs:
//
//	int - The context window in tokens. Always > 0; never an error.
func ModelContextWindow(modelName string) int {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name == "" {
		return DefaultContextWindow
	}

	// Stage 1: exact match.
	if window, ok := modelContextWindows[name]; ok {
		return window
	}

	// Stage 2: longest matching prefix. "claude-3-5-sonnet-20241022" should
	// resolve via "claude-3-5-sonnet", not the shorter "claude-3-sonnet".
	bestLen := 0
	bestWindow := 0
	for key, window := range modelContextWindows {
		if strings.HasPrefix(name, key) && len(key) > bestLen {
			bestLen = len(key)
			bestWindow = window
		}
	}
	if bestLen > 0 {
		return bestWindow
	}

	// Stage 3: substring family heuristics, longest marker first.
	markers := make([]string, 0, len(familyWindows))
	for marker := range familyWindows {
		markers = append(markers, marker)
	}
	sort.Slice(markers, func(i, j int) bool {
		if len(markers[i]) != len(markers[j]) {
			return len(markers[i]) > len(markers[j])
		}
		return markers[i] < markers[j]
	})
	for _, marker := range markers {
		if strings.Contains(name, marker) {
			return familyWindows[marker]
		}
	}

	return DefaultContextWindow
}

// KnownModels returns the model names in the lookup table, sorted.
// Intended for diagnostics output (CLI `budget --list`).
func KnownModels() []string {
	names := make([]string, 0, len(modelContextWindows))
	for name := range modelContextWindows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
