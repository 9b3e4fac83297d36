// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

// collectLineageIDs builds the live summary-id and truncation-id sets for a
// message list in one pass.
func collectLineageIDs(messages []Message) (summaryIDs, truncationIDs map[string]bool) {
	summaryIDs = make(map[string]bool)
	truncationIDs = make(map[string]bool)
	for _, m := range messages {
		if m.Metadata.IsSummary && m.Metadata.SummaryID != "" {
			summaryIDs[m.Metadata.SummaryID] = true
		}
		if m.Metadata.IsTruncationMarker && m.Metadata.TruncationID != "" {
			truncationIDs[m.Metadata.TruncationID] = true
		}
	}
	return summaryIDs, truncationIDs
}

// EffectiveHistory returns the visible subset of a message list.
//
// Description:
//
//	Builds the set of SummaryID values among messages with IsSummary set and
//	the set of TruncationID values among messages with IsTruncationMarker
//	set, then emits, in original order, every message whose CondenseParent
//	is unset or not in the summary set AND whose TruncationParent is unset
//	or not in the truncation set. A single linear pass with two lookups.
//
//	The filter is fail-open: a dangling parent reference leaves the message
//	visible. It is idempotent (summaries and markers filter their children,
//	never themselves) and never reorders messages.
//
// Inputs:
//
//	messages - The conversation snapshot. Not mutated.
//
// Outputs:
//
//	[]Message - A new slice holding the visible messages.
func EffectiveHistory(messages []Message) []Message {
	summaryIDs, truncationIDs := collectLineageIDs(messages)

	effective := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Superseded(summaryIDs, truncationIDs) {
			continue
		}
		effective = append(effective, m)
	}
	return effective
}

// CleanupOrphanedParents clears parent references that no longer resolve.
//
// Description:
//
//	For every message, if CondenseParent does not match any live SummaryID,
//	the reference is cleared; same for TruncationParent against live
//	TruncationID values. This is a mark-and-sweep pass over the lineage
//	graph (parents are always summary or marker messages, so there are no
//	cycles). Run it before persistence, or before handing the list to a
//	caller that may delete summaries, so a message can never stay hidden
//	after its parent was removed elsewhere.
//
//	The pass is a fixed point: running it a second time changes nothing.
//
// Inputs:
//
//	messages - The conversation snapshot. Not mutated.
//
// Outputs:
//
//	[]Message - A new slice with dangling references cleared.
func CleanupOrphanedParents(messages []Message) []Message {
	summaryIDs, truncationIDs := collectLineageIDs(messages)

	cleaned := make([]Message, len(messages))
	copy(cleaned, messages)

	for i := range cleaned {
		md := &cleaned[i].Metadata
		if md.CondenseParent != "" && !summaryIDs[md.CondenseParent] {
			md.CondenseParent = ""
		}
		if md.TruncationParent != "" && !truncationIDs[md.TruncationParent] {
			md.TruncationParent = ""
		}
	}
	return cleaned
}

// EffectiveTokens sums the visible messages' token counts, consulting count
// for messages without a cached estimate. count may be nil, in which case
// uncounted messages contribute zero.
func EffectiveTokens(messages []Message, count func(string) int) int {
	total := 0
	for _, m := range EffectiveHistory(messages) {
		if m.Metadata.TokenCount > 0 {
			total += m.Metadata.TokenCount
			continue
		}
		if count != nil {
			total += count(m.Content)
		}
	}
	return total
}
