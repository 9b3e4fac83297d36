// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token count of a text.
//
// The aggregation and optimization algorithms only ever consume this
// interface, so an exact BPE-backed counter can be substituted for the
// character heuristic without touching the budget or merge logic.
//
// Thread Safety: Implementations must be safe for concurrent use.
type TokenCounter interface {
	// Count returns an estimated token count for text. Always >= 0.
	Count(text string) int
}

// HeuristicCounter approximates tokens as len(text)/4 + 1.
//
// This is intentionally crude: it is a throughput heuristic for budget
// bookkeeping, not a tokenizer. Real English text runs ~4 characters per
// token; code and CJK text diverge. Use TiktokenCounter where exact counts
// matter.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	return len(text)/4 + 1
}

// TiktokenCounter counts tokens with an exact BPE encoding.
//
// The encoding is resolved lazily on first use and cached for the lifetime
// of the counter. If the encoding cannot be loaded (e.g. the embedded BPE
// data is missing for the requested name), the counter degrades to the
// len/4 heuristic rather than failing the caller.
//
// Thread Safety: Safe for concurrent use.
type TiktokenCounter struct {
	encodingName string

	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the given encoding name
// (e.g. "cl100k_base"). An empty name defaults to cl100k_base.
func NewTiktokenCounter(encodingName string) *TiktokenCounter {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	return &TiktokenCounter{encodingName: encodingName}
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encodingName)
		if err == nil {
			c.encoding = enc
		}
	})
	if c.encoding == nil {
		return HeuristicCounter{}.Count(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}
