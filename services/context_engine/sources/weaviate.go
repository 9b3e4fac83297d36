// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sources provides ready-made context sources and capabilities for
// the aggregation and optimization layers: semantic knowledge retrieval from
// Weaviate, local conversation memory on BadgerDB, and an OpenAI-backed
// summarization capability.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Default knowledge-retrieval parameters.
const (
	DefaultKnowledgeClass = "Document"
	DefaultKnowledgeTopK  = 5
	DefaultMinCertainty   = 0.6
)

// KnowledgeConfig configures a Weaviate-backed knowledge source.
type KnowledgeConfig struct {
	// ClassName is the Weaviate class to search. Default: Document.
	ClassName string

	// DataSpace isolates results to one project or session. Empty means no
	// data-space filtering.
	DataSpace string

	// TopK bounds the number of retrieved fragments.
	TopK int

	// MinCertainty drops weak matches. Certainty is always in [0,1], unlike
	// distance which varies by metric.
	MinCertainty float64
}

// DefaultKnowledgeConfig returns sensible retrieval defaults.
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		ClassName:    DefaultKnowledgeClass,
		TopK:         DefaultKnowledgeTopK,
		MinCertainty: DefaultMinCertainty,
	}
}

// KnowledgeSource retrieves semantically relevant fragments from Weaviate.
//
// Thread Safety: Safe for concurrent use. The underlying Weaviate client
// handles connection pooling.
type KnowledgeSource struct {
	client *weaviate.Client
	config KnowledgeConfig
}

// NewKnowledgeSource creates a knowledge source.
//
// Inputs:
//
//	client - Weaviate client. Must not be nil.
//	config - Retrieval configuration. Zero-valued fields fall back to
//	    DefaultKnowledgeConfig values.
//
// Outputs:
//
//	*KnowledgeSource - The configured source
//	error - Non-nil if client is nil
func NewKnowledgeSource(client *weaviate.Client, config KnowledgeConfig) (*KnowledgeSource, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	defaults := DefaultKnowledgeConfig()
	if config.ClassName == "" {
		config.ClassName = defaults.ClassName
	}
	if config.TopK <= 0 {
		config.TopK = defaults.TopK
	}
	if config.MinCertainty <= 0 {
		config.MinCertainty = defaults.MinCertainty
	}
	return &KnowledgeSource{client: client, config: config}, nil
}

// Fetch retrieves fragments relevant to query, joined newline-separated in
// certainty order. Satisfies aggregate.FetchFunc.
//
// Description:
//
//	Runs a nearText search over the configured class, filtered by data
//	space when one is set. Fragments below MinCertainty are dropped. An
//	empty result is not an error; the aggregator omits empty sections.
func (s *KnowledgeSource) Fetch(ctx context.Context, query string) (string, error) {
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query}).
		WithCertainty(float32(s.config.MinCertainty))

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(s.config.ClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(s.config.TopK)

	if s.config.DataSpace != "" {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"dataSpace"}).
			WithOperator(filters.Equal).
			WithValueString(s.config.DataSpace))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("weaviate search failed: %w", err)
	}

	fragments, err := extractContents(result, s.config.ClassName)
	if err != nil {
		return "", fmt.Errorf("parsing weaviate response: %w", err)
	}
	return strings.Join(fragments, "\n"), nil
}

// extractContents pulls the content field out of a GraphQL Get response.
func extractContents(resp *models.GraphQLResponse, className string) ([]string, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}

	get, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, errors.New("response missing Get block")
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		// No matches for the class is an empty result, not a failure.
		return nil, nil
	}

	contents := make([]string, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if content, ok := obj["content"].(string); ok && strings.TrimSpace(content) != "" {
			contents = append(contents, content)
		}
	}
	return contents, nil
}
