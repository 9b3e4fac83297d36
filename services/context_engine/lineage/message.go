// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineage models conversation messages and their condensation and
// truncation lineage.
//
// A conversation is a flat, ordered, append-only message list owned by the
// calling session. Lineage is expressed purely as string-id back-references
// (CondenseParent, TruncationParent) resolved by a linear scan, never as
// object pointers: the list is the arena, ids are the keys. Original
// messages are never deleted when folded into a summary or dropped behind
// a truncation marker; they are marked superseded so the audit trail stays
// intact.
//
// Visibility is fail-open: a message whose parent reference cannot be
// resolved to a live summary or marker is visible. Ambiguous lineage never
// hides content.
//
// Thread Safety:
//
//	All functions treat their input as an immutable snapshot and return new
//	slices. The package holds no state and imposes no concurrency constraints.
package lineage

// Role is the conversational role of a message. The set is closed; anything
// else is rejected at the validation boundary.
type Role string

const (
	// RoleSystem is a system prompt message.
	RoleSystem Role = "system"

	// RoleUser is an end-user message.
	RoleUser Role = "user"

	// RoleAssistant is a model-generated message.
	RoleAssistant Role = "assistant"

	// RoleTool is a tool invocation result.
	RoleTool Role = "tool"
)

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Metadata carries lineage and accounting annotations for a message.
type Metadata struct {
	// AgentID identifies the agent that produced the message.
	AgentID string `json:"agent_id,omitempty"`

	// TurnID identifies the conversation turn the message belongs to.
	TurnID string `json:"turn_id,omitempty"`

	// TokenCount is a cached token estimate for the content. Zero means
	// not yet measured.
	TokenCount int `json:"token_count,omitempty"`

	// ToolCallID links a tool-role message to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is the tool that produced the output, if any.
	ToolName string `json:"tool_name,omitempty"`

	// IsToolOutput is true iff the message role is tool. It is derived,
	// never set independently, and must never disagree with the role.
	IsToolOutput bool `json:"is_tool_output,omitempty"`

	// CondenseParent is the SummaryID of the summary this message was
	// folded into. The message is superseded only while a live summary
	// carries that id.
	CondenseParent string `json:"condense_parent,omitempty"`

	// TruncationParent is the TruncationID of the marker that hides this
	// message. Same resolution rule as CondenseParent.
	TruncationParent string `json:"truncation_parent,omitempty"`

	// IsSummary marks a message that IS a summary covering a prior range.
	IsSummary bool `json:"is_summary,omitempty"`

	// SummaryID is the id other messages reference via CondenseParent.
	SummaryID string `json:"summary_id,omitempty"`

	// IsTruncationMarker marks a placeholder standing in for a truncated
	// range. No summary text was generated for the range.
	IsTruncationMarker bool `json:"is_truncation_marker,omitempty"`

	// TruncationID is the id other messages reference via TruncationParent.
	TruncationID string `json:"truncation_id,omitempty"`

	// IsMasked hides a message from prompts without lineage (e.g. secrets
	// scrubbed after the fact).
	IsMasked bool `json:"is_masked,omitempty"`

	// Summarized is set when the message content was replaced by a
	// successful tool-output summarization. Never set on failure.
	Summarized bool `json:"summarized,omitempty"`
}

// Message is one turn of conversation.
//
// Validation uses go-playground/validator tags plus the cross-field checks
// in Validator (role/IsToolOutput agreement, strict-mode ToolCallID).
type Message struct {
	// Role is one of system, user, assistant, tool.
	Role Role `json:"role" validate:"required,oneof=system user assistant tool"`

	// Content is the text payload.
	Content string `json:"content" validate:"required"`

	// Metadata carries lineage and accounting annotations.
	Metadata Metadata `json:"metadata,omitempty"`
}

// NewMessage builds a message with IsToolOutput derived from the role.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:    role,
		Content: content,
		Metadata: Metadata{
			IsToolOutput: role == RoleTool,
		},
	}
}

// Superseded reports whether the message is hidden by a live summary or
// truncation marker, given the id sets present in the same list.
func (m Message) Superseded(summaryIDs, truncationIDs map[string]bool) bool {
	if m.Metadata.CondenseParent != "" && summaryIDs[m.Metadata.CondenseParent] {
		return true
	}
	if m.Metadata.TruncationParent != "" && truncationIDs[m.Metadata.TruncationParent] {
		return true
	}
	return false
}
