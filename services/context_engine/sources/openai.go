// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sources

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultSummaryModel is used when OPENAI_MODEL is not set.
const DefaultSummaryModel = "gpt-4o-mini"

// summarySystemPrompt steers the model toward dense, lossless-enough output.
const summarySystemPrompt = "You are a summarization engine. Condense the " +
	"provided content, preserving identifiers, numbers, file paths, and " +
	"decisions verbatim. Output only the summary."

// OpenAISummarizer provides the summarization capability over the OpenAI
// chat completion API.
//
// Thread Safety: Safe for concurrent use; the underlying client is.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer creates a summarizer from the environment.
//
// Description:
//
//	Reads OPENAI_API_KEY from the environment, falling back to the Podman
//	secret mount when unset. OPENAI_MODEL selects the model, defaulting to
//	gpt-4o-mini; summaries do not need a frontier model.
//
// Outputs:
//
//	*OpenAISummarizer - The configured summarizer
//	error - Non-nil if no API key can be found
func NewOpenAISummarizer() (*OpenAISummarizer, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API Key from Podman Secrets")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = DefaultSummaryModel
	}
	slog.Info("Initializing OpenAI summarizer", "model", model)

	return &OpenAISummarizer{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// NewOpenAISummarizerWithClient creates a summarizer around an existing
// client. Useful for tests and custom base URLs.
func NewOpenAISummarizerWithClient(client *openai.Client, model string) *OpenAISummarizer {
	if model == "" {
		model = DefaultSummaryModel
	}
	return &OpenAISummarizer{client: client, model: model}
}

// Summarize condenses content to at most maxOutputTokens tokens. Satisfies
// optimize.SummarizeFunc.
func (s *OpenAISummarizer) Summarize(ctx context.Context, content string, maxOutputTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	}
	if maxOutputTokens > 0 {
		req.MaxCompletionTokens = maxOutputTokens
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("Received summary from OpenAI",
		"model", s.model,
		"input_chars", len(content),
		"output_chars", len(summary),
		"finish_reason", resp.Choices[0].FinishReason)
	return summary, nil
}
