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

import "testing"

func TestModelContextWindow(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  int
	}{
		{"exact match", "claude-3-5-sonnet-latest", 200000},
		{"exact match openai", "gpt-4o", 128000},
		{"dated snapshot resolves by prefix", "claude-3-5-sonnet-20241022", 200000},
		{"longest prefix wins", "gpt-4-32k-0613", 32768},
		{"family substring", "anthropic/claude-3-thinking", 200000},
		{"family substring bare claude", "my-claude-proxy", 100000},
		{"case insensitive", "Claude-3-Opus", 200000},
		{"whitespace trimmed", "  gpt-4o  ", 128000},
		{"unknown model", "totally-unknown-model", 8192},
		{"empty name", "", 8192},
		{"ollama tag resolves by prefix", "llama3.1:70b", 131072},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModelContextWindow(tt.model); got != tt.want {
				t.Errorf("ModelContextWindow(%q) = %d, want %d", tt.model, got, tt.want)
			}
		})
	}
}

func TestModelContextWindow_Deterministic(t *testing.T) {
	// Family resolution iterates a map; the longest-marker-first ordering
	// must make repeated lookups stable.
	const model = "vendor-claude-3-experimental"
	first := ModelContextWindow(model)
	for i := 0; i < 50; i++ {
		if got := ModelContextWindow(model); got != first {
			t.Fatalf("resolution not deterministic: %d then %d", first, got)
		}
	}
}

func TestKnownModels_SortedNonEmpty(t *testing.T) {
	names := KnownModels()
	if len(names) == 0 {
		t.Fatal("expected non-empty model table")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted: %q >= %q", names[i-1], names[i])
		}
	}
}
