// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// registeredSource is one (name, fetch, priority) entry in the source table.
type registeredSource struct {
	name     string
	fetch    FetchFunc
	priority int

	// seq is the registration sequence number, used to break priority ties
	// so the merge order stays deterministic.
	seq int
}

// Aggregator fetches and merges candidate context fragments from registered
// named sources under a token budget.
//
// Thread Safety:
//
//	Aggregate calls are read-only over the source table and may run
//	concurrently with each other. RegisterSource and UnregisterSource mutate
//	the table and must be externally synchronized if the instance is shared
//	across concurrent callers; the usual pattern is to register everything
//	during setup and only aggregate afterwards.
type Aggregator struct {
	sources map[string]*registeredSource
	nextSeq int
	options Options
}

// NewAggregator creates an aggregator with no registered sources.
//
// Example:
//
//	agg := aggregate.NewAggregator(
//	    aggregate.WithTokenCounter(budget.NewTiktokenCounter("cl100k_base")),
//	)
//	agg.RegisterSource("memory", memorySource.Fetch, 10)
//	agg.RegisterSource("knowledge", kbSource.Fetch, 20)
//	result, _ := agg.Aggregate(ctx, query, aggregate.WithMaxTokens(b.MaxContextTokens()))
func NewAggregator(opts ...Option) *Aggregator {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Aggregator{
		sources: make(map[string]*registeredSource),
		options: options,
	}
}

// RegisterSource adds or replaces a named source.
//
// Inputs:
//
//	name - Source name. Used for attribution and subset selection.
//	fetch - The fetch capability. Must not be nil.
//	priority - Merge priority; lower merges earlier. Values < 0 are clamped
//	    to DefaultPriority.
//
// Replacing an existing name keeps its registration order for tie-breaking.
func (a *Aggregator) RegisterSource(name string, fetch FetchFunc, priority int) {
	if fetch == nil || name == "" {
		return
	}
	if priority < 0 {
		priority = DefaultPriority
	}
	if existing, ok := a.sources[name]; ok {
		existing.fetch = fetch
		existing.priority = priority
		return
	}
	a.sources[name] = &registeredSource{
		name:     name,
		fetch:    fetch,
		priority: priority,
		seq:      a.nextSeq,
	}
	a.nextSeq++
}

// UnregisterSource removes a named source. Unknown names are a no-op.
func (a *Aggregator) UnregisterSource(name string) {
	delete(a.sources, name)
}

// SourceNames returns the registered source names sorted by merge order.
func (a *Aggregator) SourceNames() []string {
	selected := a.selectSources(nil)
	names := make([]string, len(selected))
	for i, s := range selected {
		names[i] = s.name
	}
	return names
}

// fetchResult is the immutable output of one fetch task.
type fetchResult struct {
	source   *registeredSource
	text     string
	err      error
	duration time.Duration
}

// Aggregate fetches from the selected sources concurrently and merges the
// results by priority under the token budget.
//
// Description:
//
//	Fan-out/fan-in: one task per source, no shared mutable state between
//	tasks, suspension only at the join. After the join the successful,
//	non-empty results are stable-sorted by priority (registration order
//	breaks ties) and greedily appended to the merged output. When a whole
//	section would exceed the budget and the remaining headroom is above
//	MinPartialFitTokens, a character-proportional truncation of that one
//	section is appended (marked with a trailing ellipsis) and the merge
//	stops; otherwise the merge stops without it. Later sections are never
//	considered: the merge is strictly priority-ordered and monotonic in
//	token usage.
//
// Inputs:
//
//	ctx - Bounds the whole call. A caller-imposed deadline also bounds the
//	    join; sources still in flight at the deadline count as failed.
//	query - The retrieval query passed to every source.
//	opts - Per-call source subset and budget.
//
// Outputs:
//
//	*AggregatedContext - Always a valid, budget-respecting result.
//	error - Only when ctx is already cancelled before any work happens.
//
// Source failures (error, panic, timeout) are logged and recorded in
// SourceErrors; they never propagate.
func (a *Aggregator) Aggregate(ctx context.Context, query string, opts ...AggregateOption) (*AggregatedContext, error) {
	callOpts := AggregateOptions{MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&callOpts)
	}

	ctx, span := startAggregateSpan(ctx, len(query), callOpts.MaxTokens)
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selected := a.selectSources(callOpts.Sources)

	// Fan-out. Each task writes only its own slot; the join is the only
	// suspension point.
	results := make([]fetchResult, len(selected))
	g, fetchCtx := errgroup.WithContext(ctx)
	if a.options.MaxConcurrentFetches > 0 {
		g.SetLimit(a.options.MaxConcurrentFetches)
	}
	for i, src := range selected {
		g.Go(func() error {
			results[i] = a.fetchOne(fetchCtx, src, query)
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors; failures live in the slots

	result := a.merge(selected, results, callOpts.MaxTokens)
	result.AggregationDurationMs = time.Since(start).Milliseconds()

	setAggregateSpanResult(span, result.TokensUsed, len(result.SourcesUsed), result.Truncated)
	recordAggregateMetrics(ctx, time.Since(start), result.TokensUsed, len(result.SourcesUsed), len(result.SourceErrors))

	return result, nil
}

// selectSources resolves the source subset for a call, sorted into merge
// order (priority ascending, then registration order).
func (a *Aggregator) selectSources(requested []string) []*registeredSource {
	var selected []*registeredSource
	if requested == nil {
		selected = make([]*registeredSource, 0, len(a.sources))
		for _, src := range a.sources {
			selected = append(selected, src)
		}
	} else {
		selected = make([]*registeredSource, 0, len(requested))
		seen := make(map[string]bool, len(requested))
		for _, name := range requested {
			if src, ok := a.sources[name]; ok && !seen[name] {
				selected = append(selected, src)
				seen[name] = true
			}
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].priority != selected[j].priority {
			return selected[i].priority < selected[j].priority
		}
		return selected[i].seq < selected[j].seq
	})
	return selected
}

// fetchOne runs a single source fetch under the per-source timeout,
// converting panics and timeouts into ordinary failures.
func (a *Aggregator) fetchOne(ctx context.Context, src *registeredSource, query string) (res fetchResult) {
	res.source = src
	start := time.Now()
	defer func() {
		res.duration = time.Since(start)
		if res.err != nil {
			slog.Warn("context source fetch failed",
				"source", src.name,
				"error", res.err,
				"duration", res.duration,
			)
			recordSourceFailure(ctx, src.name)
		}
	}()

	if a.options.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.options.FetchTimeout)
		defer cancel()
	}

	type fetched struct {
		text string
		err  error
	}
	done := make(chan fetched, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetched{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		text, err := src.fetch(ctx, query)
		done <- fetched{text: text, err: err}
	}()

	// A synchronous fetch that ignores ctx must not block the join past
	// the deadline; the goroutine is abandoned and its late result dropped.
	select {
	case f := <-done:
		res.text, res.err = f.text, f.err
	case <-ctx.Done():
		res.text, res.err = "", fmt.Errorf("source timed out: %w", ctx.Err())
	}
	return res
}

// merge performs the priority-ordered greedy merge under maxTokens.
func (a *Aggregator) merge(selected []*registeredSource, results []fetchResult, maxTokens int) *AggregatedContext {
	out := &AggregatedContext{
		SourcesUsed:  make([]string, 0, len(selected)),
		FetchTimes:   make(map[string]time.Duration, len(selected)),
		SourceErrors: make(map[string]string),
	}

	// Index results by source; selection order is the merge order.
	bySource := make(map[string]fetchResult, len(results))
	for _, r := range results {
		if r.source == nil {
			continue
		}
		bySource[r.source.name] = r
		out.FetchTimes[r.source.name] = r.duration
		if r.err != nil {
			out.SourceErrors[r.source.name] = r.err.Error()
		}
	}

	counter := a.options.Counter
	separatorTokens := counter.Count(SectionSeparator)

	var builder strings.Builder
	tokensUsed := 0

	for _, src := range selected {
		r, ok := bySource[src.name]
		if !ok || r.err != nil || strings.TrimSpace(r.text) == "" {
			continue
		}

		section := r.text
		if a.options.LabelSections {
			section = fmt.Sprintf("### %s\n%s", src.name, r.text)
		}

		sectionTokens := counter.Count(section)
		cost := sectionTokens
		if builder.Len() > 0 {
			cost += separatorTokens
		}

		if tokensUsed+cost > maxTokens {
			remaining := maxTokens - tokensUsed
			if builder.Len() > 0 {
				remaining -= separatorTokens
			}
			if remaining > MinPartialFitTokens {
				truncated := truncateProportional(section, sectionTokens, remaining)
				if builder.Len() > 0 {
					builder.WriteString(SectionSeparator)
					tokensUsed += separatorTokens
				}
				builder.WriteString(truncated)
				tokensUsed += counter.Count(truncated)
				out.SourcesUsed = append(out.SourcesUsed, src.name)
			}
			out.Truncated = true
			break
		}

		if builder.Len() > 0 {
			builder.WriteString(SectionSeparator)
		}
		builder.WriteString(section)
		tokensUsed += cost
		out.SourcesUsed = append(out.SourcesUsed, src.name)
	}

	out.Context = builder.String()
	out.TokensUsed = tokensUsed
	return out
}

// truncateProportional cuts a section to roughly targetTokens by scaling the
// character length proportionally, marking the cut with an ellipsis.
func truncateProportional(section string, sectionTokens, targetTokens int) string {
	if sectionTokens <= 0 || targetTokens >= sectionTokens {
		return section
	}
	// Aim two tokens low so the ellipsis and estimator rounding cannot push
	// the truncated section past the budget.
	if targetTokens > 2 {
		targetTokens -= 2
	}
	chars := len(section) * targetTokens / sectionTokens
	if chars > len(section) {
		chars = len(section)
	}
	// Back off to a rune boundary so the cut never splits a code point.
	for chars > 0 && chars < len(section) && section[chars]&0xC0 == 0x80 {
		chars--
	}
	if chars <= 0 {
		return "..."
	}
	return section[:chars] + "..."
}
