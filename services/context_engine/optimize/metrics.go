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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for optimization operations.
var (
	tracer = otel.Tracer("aleutian.context_engine.optimize")
	meter  = otel.Meter("aleutian.context_engine.optimize")
)

// Metrics for optimization operations.
var (
	optimizeLatency    metric.Float64Histogram
	optimizeTotal      metric.Int64Counter
	tokensReclaimed    metric.Int64Histogram
	summarizeLatency   metric.Float64Histogram
	summarizeTotal     metric.Int64Counter
	summarizeFailures  metric.Int64Counter
	summarizeReduction metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		optimizeLatency, err = meter.Float64Histogram(
			"context_optimize_duration_seconds",
			metric.WithDescription("Duration of context optimization operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		optimizeTotal, err = meter.Int64Counter(
			"context_optimize_total",
			metric.WithDescription("Total number of context optimization operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		tokensReclaimed, err = meter.Int64Histogram(
			"context_optimize_tokens_reclaimed",
			metric.WithDescription("Estimated tokens reclaimed by one optimization"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		summarizeLatency, err = meter.Float64Histogram(
			"context_summarize_duration_seconds",
			metric.WithDescription("Duration of individual summarization calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		summarizeTotal, err = meter.Int64Counter(
			"context_summarize_total",
			metric.WithDescription("Total number of successful summarization calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		summarizeFailures, err = meter.Int64Counter(
			"context_summarize_failures_total",
			metric.WithDescription("Total number of failed summarization calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		summarizeReduction, err = meter.Float64Histogram(
			"context_summarize_reduction_ratio",
			metric.WithDescription("Output to input character ratio of summarization calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOptimizeSpan creates a span for one optimization call.
func startOptimizeSpan(ctx context.Context, messageCount, targetTokens int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Optimizer.Optimize",
		trace.WithAttributes(
			attribute.Int("optimize.message_count", messageCount),
			attribute.Int("optimize.target_tokens", targetTokens),
		),
	)
}

// setOptimizeSpanResult sets the result attributes on an optimization span.
func setOptimizeSpanResult(span trace.Span, stage string, tokensBefore, tokensAfter int) {
	span.SetAttributes(
		attribute.String("optimize.stage", stage),
		attribute.Int("optimize.tokens_before", tokensBefore),
		attribute.Int("optimize.tokens_after", tokensAfter),
	)
}

// recordOptimizeMetrics records metrics for one optimization call.
func recordOptimizeMetrics(ctx context.Context, duration time.Duration, result *OptimizeResult) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("stage", result.Stage))

	optimizeLatency.Record(ctx, duration.Seconds(), attrs)
	optimizeTotal.Add(ctx, 1, attrs)
	if reclaimed := result.TokensBefore - result.TokensAfter; reclaimed > 0 {
		tokensReclaimed.Record(ctx, int64(reclaimed), attrs)
	}
}

// recordSummarizeSuccess records one successful summarization call.
func recordSummarizeSuccess(ctx context.Context, duration time.Duration, inChars, outChars int) {
	if err := initMetrics(); err != nil {
		return
	}
	summarizeLatency.Record(ctx, duration.Seconds())
	summarizeTotal.Add(ctx, 1)
	if inChars > 0 {
		summarizeReduction.Record(ctx, float64(outChars)/float64(inChars))
	}
}

// recordSummarizeFailure counts one failed summarization call.
func recordSummarizeFailure(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	summarizeFailures.Add(ctx, 1)
}
