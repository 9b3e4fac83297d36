// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate merges context fragments fetched concurrently from
// registered named sources into one budget-respecting block of text.
//
// Each aggregation call fans out one fetch task per source, joins them, and
// merges the successful results in ascending priority order (registration
// order breaks ties). Fetch order is unspecified; merge order is
// deterministic. A failing or slow source is logged and contributes nothing;
// it never fails the aggregation. Budget exhaustion is a normal terminal
// condition signaled by omission, never an error.
//
// Design principles:
//   - Respect token budgets strictly (never exceed)
//   - One bad source never fails the whole aggregation
//   - Merge order is priority, then registration order; always deterministic
package aggregate

import (
	"context"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
)

// Default configuration values.
const (
	// DefaultPriority is assigned to sources registered without an explicit
	// priority. Lower runs earlier in the merge.
	DefaultPriority = 50

	// DefaultMaxTokens bounds the merged output when the caller gives no
	// budget of its own.
	DefaultMaxTokens = 4000

	// DefaultFetchTimeout bounds a single source fetch. A source that has
	// not returned by then is treated the same as a failed source.
	DefaultFetchTimeout = 10 * time.Second

	// MinPartialFitTokens is the smallest remaining headroom worth filling
	// with a truncated section. Below this the overflowing section is
	// dropped instead.
	MinPartialFitTokens = 100

	// SectionSeparator joins adjacent source sections in the merged output.
	SectionSeparator = "\n\n"
)

// FetchFunc retrieves candidate context for a query from one source.
//
// Implementations may be synchronous or natively concurrent; the aggregator
// always invokes them off the critical path so a slow synchronous fetch
// cannot serialize the fan-out. A returned error (or a panic, or exceeding
// the fetch timeout) marks the source failed for this call only.
//
// Thread Safety: Implementations must tolerate concurrent invocations.
type FetchFunc func(ctx context.Context, query string) (string, error)

// RecordsFetch adapts a record-list fetcher to a FetchFunc by joining the
// records with newlines. Empty records are skipped.
func RecordsFetch(fn func(ctx context.Context, query string) ([]string, error)) FetchFunc {
	return func(ctx context.Context, query string) (string, error) {
		records, err := fn(ctx, query)
		if err != nil {
			return "", err
		}
		kept := make([]string, 0, len(records))
		for _, r := range records {
			if strings.TrimSpace(r) != "" {
				kept = append(kept, r)
			}
		}
		return strings.Join(kept, "\n"), nil
	}
}

// AggregatedContext is the result of one aggregation call.
type AggregatedContext struct {
	// Context is the merged, budget-respecting text.
	Context string `json:"context"`

	// SourcesUsed lists the sources actually included, in inclusion order.
	SourcesUsed []string `json:"sources_used"`

	// TokensUsed is the estimated token count of Context.
	TokensUsed int `json:"tokens_used"`

	// FetchTimes records per-source fetch latency, including failed sources.
	FetchTimes map[string]time.Duration `json:"fetch_times"`

	// SourceErrors maps failed source names to their error text. Failures
	// are informational; they were already handled.
	SourceErrors map[string]string `json:"source_errors,omitempty"`

	// Truncated is true when at least one section was cut or dropped to
	// meet the budget.
	Truncated bool `json:"truncated"`

	// AggregationDurationMs is the wall time of the whole call.
	AggregationDurationMs int64 `json:"aggregation_duration_ms"`
}

// Options configures an Aggregator instance.
type Options struct {
	// Counter estimates token counts during the merge. Defaults to the
	// len/4+1 heuristic.
	Counter budget.TokenCounter

	// FetchTimeout bounds each source fetch (default: 10s).
	FetchTimeout time.Duration

	// MaxConcurrentFetches bounds the fan-out width. Zero means unbounded.
	MaxConcurrentFetches int

	// LabelSections prefixes each section with "### <source>" attribution
	// (default: true).
	LabelSections bool
}

// DefaultOptions returns sensible aggregator defaults.
func DefaultOptions() Options {
	return Options{
		Counter:       budget.HeuristicCounter{},
		FetchTimeout:  DefaultFetchTimeout,
		LabelSections: true,
	}
}

// Option is a functional option for configuring an Aggregator.
type Option func(*Options)

// WithTokenCounter substitutes the token estimator (e.g. a BPE-backed
// counter) without changing the merge algorithm.
func WithTokenCounter(c budget.TokenCounter) Option {
	return func(o *Options) {
		if c != nil {
			o.Counter = c
		}
	}
}

// WithFetchTimeout sets the per-source fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.FetchTimeout = d
		}
	}
}

// WithMaxConcurrentFetches bounds how many fetches run at once.
func WithMaxConcurrentFetches(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxConcurrentFetches = n
		}
	}
}

// WithLabelSections toggles source-name section headers.
func WithLabelSections(enabled bool) Option {
	return func(o *Options) {
		o.LabelSections = enabled
	}
}

// AggregateOptions configures a single Aggregate call.
type AggregateOptions struct {
	// Sources restricts the call to a subset of registered names. Nil means
	// all registered sources. Unknown names are ignored.
	Sources []string

	// MaxTokens is the budget for the merged output (default:
	// DefaultMaxTokens).
	MaxTokens int
}

// AggregateOption is a functional option for one Aggregate call.
type AggregateOption func(*AggregateOptions)

// WithSources restricts the call to the named sources.
func WithSources(names ...string) AggregateOption {
	return func(o *AggregateOptions) {
		o.Sources = names
	}
}

// WithMaxTokens sets the merge budget for the call.
func WithMaxTokens(n int) AggregateOption {
	return func(o *AggregateOptions) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}
