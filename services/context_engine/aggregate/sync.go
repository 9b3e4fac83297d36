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
	"time"
)

// AggregateSync runs Aggregate to completion from a plain blocking caller.
//
// Description:
//
//	Convenience entry point for callers without their own cancellation
//	plumbing. The call is bridged through a dedicated goroutine rather than
//	executed inline, so invoking it from code that already runs under its
//	own concurrency machinery cannot deadlock the caller's scheduler; it
//	simply blocks the calling goroutine until the aggregation completes or
//	the deadline expires.
//
// Inputs:
//
//	query - The retrieval query.
//	deadline - Overall bound for the call. Zero or negative means
//	    DefaultFetchTimeout plus a small join margin.
//	opts - Per-call options, as for Aggregate.
//
// Outputs:
//
//	*AggregatedContext - The merged result, possibly partial on deadline.
//	error - Only when the deadline expires before any result is ready.
func (a *Aggregator) AggregateSync(query string, deadline time.Duration, opts ...AggregateOption) (*AggregatedContext, error) {
	if deadline <= 0 {
		deadline = a.options.FetchTimeout + 2*time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	type outcome struct {
		result *AggregatedContext
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		result, err := a.Aggregate(ctx, query, opts...)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
