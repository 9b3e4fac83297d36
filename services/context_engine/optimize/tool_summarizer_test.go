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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianContext/services/context_engine/lineage"
)

func staticSummarizer(summary string) SummarizeFunc {
	return func(ctx context.Context, content string, maxOutputTokens int) (string, error) {
		return summary, nil
	}
}

func failingSummarizer(err error) SummarizeFunc {
	return func(ctx context.Context, content string, maxOutputTokens int) (string, error) {
		return "", err
	}
}

func toolMessage(chars int) lineage.Message {
	m := lineage.NewMessage(lineage.RoleTool, strings.Repeat("output ", chars/7+1)[:chars])
	m.Metadata.ToolName = "web_search"
	return m
}

func TestSummarizeToolOutputs_ReplacesOversizedOutput(t *testing.T) {
	ts := NewToolSummarizer(staticSummarizer("condensed findings"), nil)

	msgs := []lineage.Message{
		lineage.NewMessage(lineage.RoleUser, "search for something"),
		toolMessage(20000),
	}

	out, n := ts.SummarizeToolOutputs(context.Background(), msgs)
	require.Equal(t, 1, n)

	assert.Equal(t, "condensed findings", out[1].Content)
	assert.True(t, out[1].Metadata.Summarized)
	assert.Equal(t, len("condensed findings")/4+1, out[1].Metadata.TokenCount,
		"token count must be refreshed for the new content")

	// The input snapshot stays untouched.
	assert.Len(t, msgs[1].Content, 20000)
	assert.False(t, msgs[1].Metadata.Summarized)
}

func TestSummarizeToolOutputs_FailureKeepsOriginal(t *testing.T) {
	ts := NewToolSummarizer(failingSummarizer(errors.New("model unavailable")), nil)

	original := toolMessage(20000)
	out, n := ts.SummarizeToolOutputs(context.Background(), []lineage.Message{original})

	assert.Equal(t, 0, n)
	assert.Equal(t, original.Content, out[0].Content)
	assert.False(t, out[0].Metadata.Summarized,
		"a failed summarization must not flag the message")
}

func TestSummarizeToolOutputs_EmptySummaryTreatedAsFailure(t *testing.T) {
	ts := NewToolSummarizer(staticSummarizer(""), nil)

	original := toolMessage(20000)
	out, n := ts.SummarizeToolOutputs(context.Background(), []lineage.Message{original})

	assert.Equal(t, 0, n)
	assert.Equal(t, original.Content, out[0].Content)
}

func TestSummarizeToolOutputs_SkipsShortAndNonToolMessages(t *testing.T) {
	calls := 0
	ts := NewToolSummarizer(func(ctx context.Context, content string, maxOutputTokens int) (string, error) {
		calls++
		return "summary", nil
	}, nil)

	long := strings.Repeat("x", 20000)
	msgs := []lineage.Message{
		lineage.NewMessage(lineage.RoleAssistant, long),
		lineage.NewMessage(lineage.RoleTool, "short result"),
	}

	_, n := ts.SummarizeToolOutputs(context.Background(), msgs)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, calls, "neither message qualifies for summarization")
}

func TestSummarizeToolOutputs_AlreadySummarizedSkipped(t *testing.T) {
	calls := 0
	ts := NewToolSummarizer(func(ctx context.Context, content string, maxOutputTokens int) (string, error) {
		calls++
		return "summary", nil
	}, nil)

	m := toolMessage(20000)
	m.Metadata.Summarized = true

	_, n := ts.SummarizeToolOutputs(context.Background(), []lineage.Message{m})
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, calls)
}

func TestSummarizeToolOutputs_NilCapabilityPassesThrough(t *testing.T) {
	ts := NewToolSummarizer(nil, nil)

	original := toolMessage(20000)
	out, n := ts.SummarizeToolOutputs(context.Background(), []lineage.Message{original})

	assert.Equal(t, 0, n)
	assert.Equal(t, original.Content, out[0].Content)
}
