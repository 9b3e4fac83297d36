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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for aggregation operations.
var (
	tracer = otel.Tracer("aleutian.context_engine.aggregate")
	meter  = otel.Meter("aleutian.context_engine.aggregate")
)

// Metrics for aggregation operations.
var (
	aggregateLatency metric.Float64Histogram
	aggregateTotal   metric.Int64Counter
	tokensUsed       metric.Int64Histogram
	sourcesIncluded  metric.Int64Histogram
	sourceFailures   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		aggregateLatency, err = meter.Float64Histogram(
			"context_aggregate_duration_seconds",
			metric.WithDescription("Duration of context aggregation operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		aggregateTotal, err = meter.Int64Counter(
			"context_aggregate_total",
			metric.WithDescription("Total number of context aggregation operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		tokensUsed, err = meter.Int64Histogram(
			"context_aggregate_tokens_used",
			metric.WithDescription("Estimated tokens in the merged context"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sourcesIncluded, err = meter.Int64Histogram(
			"context_aggregate_sources_included",
			metric.WithDescription("Number of sources included in the merged context"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sourceFailures, err = meter.Int64Counter(
			"context_aggregate_source_failures_total",
			metric.WithDescription("Total number of failed source fetches"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startAggregateSpan creates a span for one aggregation call.
func startAggregateSpan(ctx context.Context, queryLen, maxTokens int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Aggregator.Aggregate",
		trace.WithAttributes(
			attribute.Int("aggregate.query_length", queryLen),
			attribute.Int("aggregate.max_tokens", maxTokens),
		),
	)
}

// setAggregateSpanResult sets the result attributes on an aggregation span.
func setAggregateSpanResult(span trace.Span, tokens, sources int, truncated bool) {
	span.SetAttributes(
		attribute.Int("aggregate.tokens_used", tokens),
		attribute.Int("aggregate.sources_included", sources),
		attribute.Bool("aggregate.truncated", truncated),
	)
}

// recordAggregateMetrics records metrics for one aggregation call.
func recordAggregateMetrics(ctx context.Context, duration time.Duration, tokens, sources, failures int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("partial", failures > 0))

	aggregateLatency.Record(ctx, duration.Seconds(), attrs)
	aggregateTotal.Add(ctx, 1, attrs)
	tokensUsed.Record(ctx, int64(tokens))
	sourcesIncluded.Record(ctx, int64(sources))
}

// recordSourceFailure counts one failed source fetch.
func recordSourceFailure(ctx context.Context, source string) {
	if err := initMetrics(); err != nil {
		return
	}
	sourceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
