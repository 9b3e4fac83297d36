// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package budget computes token budgets against a model's context window.
//
// A Budget is a pure value object: it is created fresh per model invocation
// from the model-name lookup table, is immutable after construction, and
// every derived quantity clamps at zero. The package never returns an error;
// unknown models degrade to DefaultContextWindow rather than failing.
//
// Design principles:
//   - A budget is never negative, regardless of input magnitudes
//   - Unknown model names resolve to a conservative default, never an error
//   - Token counting is pluggable via the TokenCounter interface
package budget

// Default reservations applied by FromModel when no overrides are given.
// Chosen to leave generous headroom for retrieved context on small windows.
const (
	// DefaultReservedResponseTokens is held back for the model's reply.
	DefaultReservedResponseTokens = 4096

	// DefaultReservedSystemTokens is held back for the system prompt.
	DefaultReservedSystemTokens = 1024

	// DefaultReservedHistoryTokens is held back for conversation history.
	DefaultReservedHistoryTokens = 2048
)

// Budget is a per-invocation token budget for a target model.
//
// All fields are fixed at construction. Derived values (MaxContextTokens,
// DynamicBudget) are computed on demand and clamp at zero.
//
// Thread Safety: Budget is an immutable value type and safe for concurrent use.
type Budget struct {
	// ModelMaxTokens is the model's total context window.
	ModelMaxTokens int `json:"model_max_tokens"`

	// ReservedResponseTokens is held back for the completion.
	ReservedResponseTokens int `json:"reserved_response_tokens"`

	// ReservedSystemTokens is held back for the system prompt.
	ReservedSystemTokens int `json:"reserved_system_tokens"`

	// ReservedHistoryTokens is held back for conversation history.
	ReservedHistoryTokens int `json:"reserved_history_tokens"`
}

// Option overrides a reservation on a Budget under construction.
type Option func(*Budget)

// WithReservedResponse overrides the response reservation.
// Negative values are ignored.
func WithReservedResponse(n int) Option {
	return func(b *Budget) {
		if n >= 0 {
			b.ReservedResponseTokens = n
		}
	}
}

// WithReservedSystem overrides the system prompt reservation.
// Negative values are ignored.
func WithReservedSystem(n int) Option {
	return func(b *Budget) {
		if n >= 0 {
			b.ReservedSystemTokens = n
		}
	}
}

// WithReservedHistory overrides the history reservation.
// Negative values are ignored.
func WithReservedHistory(n int) Option {
	return func(b *Budget) {
		if n >= 0 {
			b.ReservedHistoryTokens = n
		}
	}
}

// WithModelMaxTokens overrides the resolved context window entirely.
// Intended for tests and for callers that already know the exact window.
// Values <= 0 are ignored.
func WithModelMaxTokens(n int) Option {
	return func(b *Budget) {
		if n > 0 {
			b.ModelMaxTokens = n
		}
	}
}

// FromModel builds a Budget for the named model.
//
// Description:
//
//	Resolves the model's context window via ModelContextWindow (exact match,
//	longest prefix, family heuristic, then DefaultContextWindow) and applies
//	default reservations, which the options may override. FromModel never
//	fails: an unrecognized model name produces a usable conservative budget.
//
// Inputs:
//
//	modelName - The target model identifier. May be unknown or empty.
//	opts - Optional reservation overrides.
//
// Outputs:
//
//	Budget - The immutable budget value.
//
// Example:
//
//	b := budget.FromModel("claude-3-5-sonnet-latest",
//	    budget.WithReservedResponse(8192),
//	)
//	available := b.MaxContextTokens()
func FromModel(modelName string, opts ...Option) Budget {
	b := Budget{
		ModelMaxTokens:         ModelContextWindow(modelName),
		ReservedResponseTokens: DefaultReservedResponseTokens,
		ReservedSystemTokens:   DefaultReservedSystemTokens,
		ReservedHistoryTokens:  DefaultReservedHistoryTokens,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// MaxContextTokens returns the static headroom for retrieved context:
// the context window minus all fixed reservations, clamped at zero.
func (b Budget) MaxContextTokens() int {
	headroom := b.ModelMaxTokens -
		b.ReservedResponseTokens -
		b.ReservedSystemTokens -
		b.ReservedHistoryTokens
	if headroom < 0 {
		return 0
	}
	return headroom
}

// DynamicBudget returns the headroom net of actual usage so far.
//
// Description:
//
//	Unlike MaxContextTokens, which subtracts fixed reservations, this
//	subtracts the measured prompt, history, and system token counts plus
//	the response reservation. Used once real token counts are known.
//
// Inputs:
//
//	promptTokens - Tokens in the pending prompt.
//	historyTokens - Tokens in the effective conversation history.
//	systemTokens - Tokens in the system prompt.
//
// Outputs:
//
//	int - Remaining tokens. Never negative, even for oversized inputs.
func (b Budget) DynamicBudget(promptTokens, historyTokens, systemTokens int) int {
	remaining := b.ModelMaxTokens -
		(promptTokens + historyTokens + systemTokens + b.ReservedResponseTokens)
	if remaining < 0 {
		return 0
	}
	return remaining
}
