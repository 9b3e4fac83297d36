// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianContext/services/context_engine/aggregate"
	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
	"github.com/AleutianAI/AleutianContext/services/context_engine/config"
	"github.com/AleutianAI/AleutianContext/services/context_engine/sources"
)

// Source priorities: conversation memory merges before semantic knowledge.
const (
	memorySourcePriority    = 10
	knowledgeSourcePriority = 20
)

// defaultMemorySession is the session the server-wide memory source reads
// from. Per-session reads go through the memory store directly.
const defaultMemorySession = "default"

// buildAggregator wires an aggregator with the configured sources: the local
// conversation memory always, semantic knowledge when enabled.
func buildAggregator(cfg config.EngineConfig, memory *sources.ConversationMemory, session string) (*aggregate.Aggregator, error) {
	agg := aggregate.NewAggregator(
		aggregate.WithTokenCounter(budget.NewTiktokenCounter("cl100k_base")),
		aggregate.WithFetchTimeout(cfg.Aggregation.FetchTimeout),
		aggregate.WithMaxConcurrentFetches(cfg.Aggregation.MaxConcurrentFetches),
		aggregate.WithLabelSections(cfg.Aggregation.LabelSections),
	)
	agg.RegisterSource("memory",
		aggregate.RecordsFetch(memory.Source(session, cfg.Memory.RecentN)),
		memorySourcePriority)

	if cfg.Knowledge.Enabled {
		client, err := weaviate.NewClient(weaviate.Config{
			Scheme: cfg.Knowledge.Scheme,
			Host:   cfg.Knowledge.Host,
		})
		if err != nil {
			return nil, fmt.Errorf("creating weaviate client: %w", err)
		}
		knowledge, err := sources.NewKnowledgeSource(client, sources.KnowledgeConfig{
			ClassName:    cfg.Knowledge.ClassName,
			DataSpace:    cfg.Knowledge.DataSpace,
			TopK:         cfg.Knowledge.TopK,
			MinCertainty: cfg.Knowledge.MinCertainty,
		})
		if err != nil {
			return nil, fmt.Errorf("creating knowledge source: %w", err)
		}
		agg.RegisterSource("knowledge", knowledge.Fetch, knowledgeSourcePriority)
	}
	return agg, nil
}

// openMemory opens the conversation memory store from the configuration.
func openMemory(cfg config.EngineConfig) (*sources.ConversationMemory, error) {
	memory, err := sources.OpenConversationMemory(sources.MemoryConfig{
		Path:       cfg.Memory.Path,
		InMemory:   cfg.Memory.InMemory,
		SyncWrites: cfg.Memory.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("opening conversation memory: %w", err)
	}
	return memory, nil
}
