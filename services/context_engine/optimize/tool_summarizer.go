// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimize shrinks an over-budget conversation to a target token
// count without silently destroying information.
//
// Two cooperating strategies run in order: tool-output summarization, then
// whole-window condensation, then hard truncation as the last resort. Every
// stage is an idempotent no-op when the conversation is already under
// budget, and summarization is fail-safe: content is only ever replaced by
// an explicit, successful transformation, never as a side effect of an
// error. "Could not fit" is not an error; the pipeline always returns a
// valid, budget-respecting result with metadata describing what it did.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
	"github.com/AleutianAI/AleutianContext/services/context_engine/lineage"
)

// Default configuration values.
const (
	// DefaultMinCharsToSummarize is the content length above which a tool
	// output becomes a summarization candidate.
	DefaultMinCharsToSummarize = 2000

	// DefaultSummaryMaxTokens bounds the summary the LLM may produce for
	// one tool output.
	DefaultSummaryMaxTokens = 500

	// DefaultSummarizeRate bounds summarize-capability calls per second so
	// a burst of huge tool outputs cannot stampede the LLM backend.
	DefaultSummarizeRate = rate.Limit(5)

	// DefaultSummarizeBurst is the rate limiter burst size.
	DefaultSummarizeBurst = 5
)

// SummarizeFunc condenses content to at most maxOutputTokens tokens.
//
// Supplied by the orchestrator; treated as fallible and possibly slow. An
// error leaves the original content untouched.
type SummarizeFunc func(ctx context.Context, content string, maxOutputTokens int) (string, error)

// ToolSummarizer replaces oversized tool outputs with LLM summaries.
//
// Thread Safety: Safe for concurrent use; every call works on its own
// snapshot.
type ToolSummarizer struct {
	summarize SummarizeFunc
	limiter   *rate.Limiter
	counter   budget.TokenCounter

	// MinChars is the content length threshold for summarization.
	MinChars int

	// MaxSummaryTokens bounds each produced summary.
	MaxSummaryTokens int
}

// NewToolSummarizer creates a tool-output summarizer.
//
// Inputs:
//
//	summarize - The summarization capability. May be nil, in which case
//	    every message passes through untouched.
//	counter - Token estimator for refreshed token counts. Nil defaults to
//	    the len/4+1 heuristic.
func NewToolSummarizer(summarize SummarizeFunc, counter budget.TokenCounter) *ToolSummarizer {
	if counter == nil {
		counter = budget.HeuristicCounter{}
	}
	return &ToolSummarizer{
		summarize:        summarize,
		limiter:          rate.NewLimiter(DefaultSummarizeRate, DefaultSummarizeBurst),
		counter:          counter,
		MinChars:         DefaultMinCharsToSummarize,
		MaxSummaryTokens: DefaultSummaryMaxTokens,
	}
}

// SummarizeToolOutputs summarizes every oversized tool output in messages.
//
// Description:
//
//	For each tool-role message whose content exceeds MinChars, attempts the
//	summarization capability. On success the content is replaced and the
//	message flagged Summarized with a refreshed token count. On any failure
//	(capability error, rate-limit wait cancelled, or no capability at all)
//	the original message passes through untouched and unflagged: information
//	loss must be an explicit, successful transformation.
//
// Inputs:
//
//	ctx - Bounds the summarization calls.
//	messages - The conversation snapshot. Not mutated.
//
// Outputs:
//
//	[]lineage.Message - A new slice with summarized tool outputs replaced.
//	int - How many messages were summarized.
func (t *ToolSummarizer) SummarizeToolOutputs(ctx context.Context, messages []lineage.Message) ([]lineage.Message, int) {
	out := make([]lineage.Message, len(messages))
	copy(out, messages)

	if t.summarize == nil {
		return out, 0
	}

	summarized := 0
	for i := range out {
		m := &out[i]
		if m.Role != lineage.RoleTool || m.Metadata.Summarized {
			continue
		}
		if len(m.Content) <= t.MinChars {
			continue
		}

		summary, err := t.summarizeOne(ctx, m.Content)
		if err != nil {
			slog.Warn("tool output summarization failed, keeping original",
				"tool", m.Metadata.ToolName,
				"content_chars", len(m.Content),
				"error", err,
			)
			recordSummarizeFailure(ctx)
			continue
		}

		m.Content = summary
		m.Metadata.Summarized = true
		m.Metadata.TokenCount = t.counter.Count(summary)
		summarized++
	}
	return out, summarized
}

// summarizeOne runs one rate-limited summarization call.
func (t *ToolSummarizer) summarizeOne(ctx context.Context, content string) (string, error) {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	summary, err := t.summarize(ctx, content, t.MaxSummaryTokens)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", fmt.Errorf("summarizer returned empty content")
	}

	recordSummarizeSuccess(ctx, time.Since(start), len(content), len(summary))
	return summary, nil
}
