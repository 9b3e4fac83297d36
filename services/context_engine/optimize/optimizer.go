// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
	"github.com/AleutianAI/AleutianContext/services/context_engine/lineage"
)

// Stage names reported in OptimizeResult.Stage.
const (
	// StageNone means the conversation was already under budget.
	StageNone = "none"

	// StageToolSummarize means tool-output summarization alone met the target.
	StageToolSummarize = "tool_summarize"

	// StageCondense means the older window was condensed into a summary.
	StageCondense = "condense"

	// StageTruncate means the oldest messages were hidden behind a marker.
	StageTruncate = "truncate"
)

// Config configures the optimizer pipeline.
type Config struct {
	// TargetTokens is the budget the effective history must fit in.
	TargetTokens int `json:"target_tokens" yaml:"target_tokens"`

	// PreserveRecent is how many of the most recent visible messages are
	// exempt from every transformation.
	PreserveRecent int `json:"preserve_recent" yaml:"preserve_recent"`

	// SmartToolSummarize enables the tool-output summarization stage.
	SmartToolSummarize bool `json:"smart_tool_summarize" yaml:"smart_tool_summarize"`

	// MinCharsToSummarize is the tool-output length threshold.
	MinCharsToSummarize int `json:"min_chars_to_summarize" yaml:"min_chars_to_summarize"`

	// SummaryMaxTokens bounds each produced summary.
	SummaryMaxTokens int `json:"summary_max_tokens" yaml:"summary_max_tokens"`
}

// DefaultConfig returns sensible optimizer defaults.
func DefaultConfig() Config {
	return Config{
		TargetTokens:        8000,
		PreserveRecent:      4,
		SmartToolSummarize:  true,
		MinCharsToSummarize: DefaultMinCharsToSummarize,
		SummaryMaxTokens:    DefaultSummaryMaxTokens,
	}
}

// OptimizeResult describes what one Optimize call did.
//
// The pipeline never fails for "could not fit": the result always carries a
// valid message list, and the metadata lets the caller decide whether to
// retry with a larger budget or accept partial context.
type OptimizeResult struct {
	// Messages is the transformed conversation (full list including
	// superseded originals; filter with lineage.EffectiveHistory).
	Messages []lineage.Message `json:"messages"`

	// TokensBefore and TokensAfter are effective-history estimates.
	TokensBefore int `json:"tokens_before"`
	TokensAfter  int `json:"tokens_after"`

	// TargetTokens echoes the budget the call aimed for.
	TargetTokens int `json:"target_tokens"`

	// ToolOutputsSummarized counts tool messages replaced by summaries.
	ToolOutputsSummarized int `json:"tool_outputs_summarized"`

	// MessagesCondensed counts originals folded into the window summary.
	MessagesCondensed int `json:"messages_condensed"`

	// MessagesTruncated counts originals hidden behind the marker.
	MessagesTruncated int `json:"messages_truncated"`

	// Stage is the last stage that ran (StageNone if already under budget).
	Stage string `json:"stage"`

	// DurationMs is the wall time of the call.
	DurationMs int64 `json:"duration_ms"`
}

// Optimizer fits a conversation into a target token budget by summarizing
// before truncating.
//
// Thread Safety: Safe for concurrent use; every call works on its own
// snapshot and returns a new list.
type Optimizer struct {
	summarize SummarizeFunc
	counter   budget.TokenCounter
	tools     *ToolSummarizer
	config    Config
}

// NewOptimizer creates an optimizer.
//
// Inputs:
//
//	summarize - The LLM summarization capability. May be nil; the pipeline
//	    then skips straight from the no-op check to truncation.
//	counter - Token estimator. Nil defaults to the len/4+1 heuristic.
//	config - Pipeline configuration. Zero-valued fields fall back to
//	    DefaultConfig values.
func NewOptimizer(summarize SummarizeFunc, counter budget.TokenCounter, config Config) *Optimizer {
	if counter == nil {
		counter = budget.HeuristicCounter{}
	}
	defaults := DefaultConfig()
	if config.TargetTokens <= 0 {
		config.TargetTokens = defaults.TargetTokens
	}
	if config.PreserveRecent < 0 {
		config.PreserveRecent = defaults.PreserveRecent
	}
	if config.MinCharsToSummarize <= 0 {
		config.MinCharsToSummarize = defaults.MinCharsToSummarize
	}
	if config.SummaryMaxTokens <= 0 {
		config.SummaryMaxTokens = defaults.SummaryMaxTokens
	}

	tools := NewToolSummarizer(summarize, counter)
	tools.MinChars = config.MinCharsToSummarize

	return &Optimizer{
		summarize: summarize,
		counter:   counter,
		tools:     tools,
		config:    config,
	}
}

// Optimize fits the conversation into the configured target.
//
// Description:
//
//	Stages run in order, each re-measuring and only proceeding while still
//	over target: (1) no-op when already under budget, checked before any
//	LLM call; (2) tool-output summarization over the non-preserved window
//	when SmartToolSummarize is set; (3) condensation of the non-preserved
//	older window into a single summary message (originals kept, marked
//	superseded); (4) truncation of the oldest non-preserved messages behind
//	a truncation marker. The last PreserveRecent visible messages are never
//	transformed by any stage.
//
// Inputs:
//
//	ctx - Bounds the LLM calls.
//	messages - The conversation snapshot. Not mutated.
//
// Outputs:
//
//	*OptimizeResult - Always non-nil, always a valid message list.
func (o *Optimizer) Optimize(ctx context.Context, messages []lineage.Message) *OptimizeResult {
	ctx, span := startOptimizeSpan(ctx, len(messages), o.config.TargetTokens)
	defer span.End()
	start := time.Now()

	result := &OptimizeResult{
		TargetTokens: o.config.TargetTokens,
		Stage:        StageNone,
	}

	working := make([]lineage.Message, len(messages))
	copy(working, messages)

	result.TokensBefore = lineage.EffectiveTokens(working, o.counter.Count)
	result.TokensAfter = result.TokensBefore

	finish := func() *OptimizeResult {
		result.Messages = working
		result.DurationMs = time.Since(start).Milliseconds()
		setOptimizeSpanResult(span, result.Stage, result.TokensBefore, result.TokensAfter)
		recordOptimizeMetrics(ctx, time.Since(start), result)
		return result
	}

	// Stage 1: already under budget. Checked before any summarization
	// attempt so an idle conversation never costs an LLM call.
	if result.TokensBefore <= o.config.TargetTokens {
		return finish()
	}

	boundary := o.preserveBoundary(working)

	// Stage 2: summarize oversized tool outputs in the older window.
	if o.config.SmartToolSummarize && o.summarize != nil && boundary > 0 {
		older, summarized := o.tools.SummarizeToolOutputs(ctx, working[:boundary])
		copy(working, older)
		result.ToolOutputsSummarized = summarized
		if summarized > 0 {
			result.Stage = StageToolSummarize
		}

		result.TokensAfter = lineage.EffectiveTokens(working, o.counter.Count)
		if result.TokensAfter <= o.config.TargetTokens {
			return finish()
		}
	}

	// Stage 3: condense the older window into one summary message.
	if o.summarize != nil {
		condensed, count, ok := o.condenseWindow(ctx, working)
		if ok {
			working = condensed
			result.MessagesCondensed = count
			result.Stage = StageCondense

			result.TokensAfter = lineage.EffectiveTokens(working, o.counter.Count)
			if result.TokensAfter <= o.config.TargetTokens {
				return finish()
			}
		}
	}

	// Stage 4: hide the oldest non-preserved messages behind a marker.
	truncated, count := o.truncateWindow(working)
	if count > 0 {
		working = truncated
		result.MessagesTruncated = count
		result.Stage = StageTruncate
	}
	result.TokensAfter = lineage.EffectiveTokens(working, o.counter.Count)

	return finish()
}

// preserveBoundary returns the full-list index of the first preserved
// visible message. Every message before the boundary may be transformed.
func (o *Optimizer) preserveBoundary(messages []lineage.Message) int {
	if o.config.PreserveRecent == 0 {
		return len(messages)
	}
	visible := visibleIndexes(messages)
	if len(visible) <= o.config.PreserveRecent {
		return 0
	}
	return visible[len(visible)-o.config.PreserveRecent]
}

// visibleIndexes returns the full-list indexes of the effective history.
func visibleIndexes(messages []lineage.Message) []int {
	summaryIDs := make(map[string]bool)
	truncationIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Metadata.IsSummary && m.Metadata.SummaryID != "" {
			summaryIDs[m.Metadata.SummaryID] = true
		}
		if m.Metadata.IsTruncationMarker && m.Metadata.TruncationID != "" {
			truncationIDs[m.Metadata.TruncationID] = true
		}
	}

	var indexes []int
	for i, m := range messages {
		if !m.Superseded(summaryIDs, truncationIDs) {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

// condenseWindow folds the non-preserved visible window into one summary
// message. Returns ok=false when there was nothing to fold or the LLM call
// failed; the input is returned unchanged in that case.
func (o *Optimizer) condenseWindow(ctx context.Context, messages []lineage.Message) ([]lineage.Message, int, bool) {
	boundary := o.preserveBoundary(messages)
	if boundary == 0 {
		return messages, 0, false
	}

	folded := make([]int, 0, boundary)
	var transcript strings.Builder
	for _, i := range visibleIndexes(messages) {
		if i >= boundary {
			break
		}
		m := messages[i]
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n\n")
		folded = append(folded, i)
	}
	if len(folded) == 0 {
		return messages, 0, false
	}

	summary, err := o.summarize(ctx, transcript.String(), o.config.SummaryMaxTokens)
	if err != nil || summary == "" {
		if err == nil {
			err = fmt.Errorf("summarizer returned empty content")
		}
		slog.Warn("window condensation failed, falling back to truncation",
			"window_messages", len(folded),
			"error", err,
		)
		recordSummarizeFailure(ctx)
		return messages, 0, false
	}

	summaryID := uuid.NewString()

	out := make([]lineage.Message, 0, len(messages)+1)
	out = append(out, messages[:boundary]...)
	for _, i := range folded {
		out[i].Metadata.CondenseParent = summaryID
	}

	summaryMsg := lineage.NewMessage(lineage.RoleAssistant, summary)
	summaryMsg.Metadata.IsSummary = true
	summaryMsg.Metadata.SummaryID = summaryID
	summaryMsg.Metadata.TokenCount = o.counter.Count(summary)
	out = append(out, summaryMsg)
	out = append(out, messages[boundary:]...)

	return out, len(folded), true
}

// truncateWindow hides the oldest non-preserved visible messages behind a
// truncation marker until the effective history fits the target. The
// originals are kept in the list for audit; only their visibility changes.
func (o *Optimizer) truncateWindow(messages []lineage.Message) ([]lineage.Message, int) {
	boundary := o.preserveBoundary(messages)
	if boundary == 0 {
		return messages, 0
	}

	working := make([]lineage.Message, len(messages))
	copy(working, messages)

	truncationID := uuid.NewString()
	markerBudget := o.counter.Count(truncationMarkerContent(len(messages)))

	hidden := 0
	lastHidden := -1
	remaining := lineage.EffectiveTokens(working, o.counter.Count)
	for _, i := range visibleIndexes(messages) {
		if i >= boundary {
			break
		}
		if remaining+markerBudget <= o.config.TargetTokens {
			break
		}
		m := &working[i]
		if m.Metadata.TokenCount > 0 {
			remaining -= m.Metadata.TokenCount
		} else {
			remaining -= o.counter.Count(m.Content)
		}
		m.Metadata.TruncationParent = truncationID
		hidden++
		lastHidden = i
	}
	if hidden == 0 {
		return messages, 0
	}

	marker := lineage.NewMessage(lineage.RoleSystem, truncationMarkerContent(hidden))
	marker.Metadata.IsTruncationMarker = true
	marker.Metadata.TruncationID = truncationID
	marker.Metadata.TokenCount = o.counter.Count(marker.Content)

	// The marker stands in for the hidden range, so it goes right after the
	// last hidden message and before every surviving one.
	insertAt := lastHidden + 1
	out := make([]lineage.Message, 0, len(working)+1)
	out = append(out, working[:insertAt]...)
	out = append(out, marker)
	out = append(out, working[insertAt:]...)
	return out, hidden
}

// truncationMarkerContent is the placeholder text standing in for a hidden
// range.
func truncationMarkerContent(n int) string {
	return fmt.Sprintf("[Earlier conversation truncated: %d messages hidden to fit the context window]", n)
}
