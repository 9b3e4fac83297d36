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

func TestFromModel_Defaults(t *testing.T) {
	b := FromModel("claude-3-5-sonnet-latest")

	if b.ModelMaxTokens != 200000 {
		t.Errorf("ModelMaxTokens = %d, want 200000", b.ModelMaxTokens)
	}
	if b.ReservedResponseTokens != DefaultReservedResponseTokens {
		t.Errorf("ReservedResponseTokens = %d, want %d",
			b.ReservedResponseTokens, DefaultReservedResponseTokens)
	}

	want := 200000 - DefaultReservedResponseTokens - DefaultReservedSystemTokens - DefaultReservedHistoryTokens
	if got := b.MaxContextTokens(); got != want {
		t.Errorf("MaxContextTokens = %d, want %d", got, want)
	}
}

func TestFromModel_UnknownModelDegrades(t *testing.T) {
	b := FromModel("totally-unknown-model")

	if b.ModelMaxTokens != DefaultContextWindow {
		t.Errorf("ModelMaxTokens = %d, want %d", b.ModelMaxTokens, DefaultContextWindow)
	}
}

func TestFromModel_Overrides(t *testing.T) {
	b := FromModel("gpt-4o",
		WithReservedResponse(1000),
		WithReservedSystem(500),
		WithReservedHistory(0),
	)

	if got := b.MaxContextTokens(); got != 128000-1000-500 {
		t.Errorf("MaxContextTokens = %d, want %d", got, 128000-1500)
	}
}

func TestFromModel_NegativeOverridesIgnored(t *testing.T) {
	b := FromModel("gpt-4o", WithReservedResponse(-50))

	if b.ReservedResponseTokens != DefaultReservedResponseTokens {
		t.Errorf("negative override applied: %d", b.ReservedResponseTokens)
	}
}

func TestMaxContextTokens_ClampsAtZero(t *testing.T) {
	tests := []struct {
		name   string
		budget Budget
	}{
		{
			name: "reservations exceed window",
			budget: Budget{
				ModelMaxTokens:         4096,
				ReservedResponseTokens: 4096,
				ReservedSystemTokens:   4096,
				ReservedHistoryTokens:  4096,
			},
		},
		{
			name: "oversized single reservation",
			budget: Budget{
				ModelMaxTokens:         8192,
				ReservedResponseTokens: 1 << 30,
			},
		},
		{
			name:   "zero window",
			budget: Budget{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.budget.MaxContextTokens(); got < 0 {
				t.Errorf("MaxContextTokens = %d, want >= 0", got)
			}
		})
	}
}

func TestDynamicBudget(t *testing.T) {
	b := Budget{
		ModelMaxTokens:         100000,
		ReservedResponseTokens: 4000,
	}

	if got := b.DynamicBudget(10000, 20000, 1000); got != 65000 {
		t.Errorf("DynamicBudget = %d, want 65000", got)
	}
}

func TestDynamicBudget_ClampsAtZero(t *testing.T) {
	b := FromModel("gpt-4") // 8192 window

	if got := b.DynamicBudget(1<<30, 1<<30, 1<<30); got != 0 {
		t.Errorf("DynamicBudget = %d, want 0", got)
	}
}

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}

	tests := []struct {
		text string
		want int
	}{
		{"", 1},
		{"abcd", 2},
		{"hello world, this is text", 7},
	}

	for _, tt := range tests {
		if got := c.Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestTiktokenCounter_NeverNegative(t *testing.T) {
	c := NewTiktokenCounter("cl100k_base")

	if got := c.Count("the quick brown fox"); got <= 0 {
		t.Errorf("Count = %d, want > 0", got)
	}
	if got := c.Count(""); got < 0 {
		t.Errorf("Count(\"\") = %d, want >= 0", got)
	}
}
