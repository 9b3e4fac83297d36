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

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// messageValidate is the shared validator instance for message schema checks.
var messageValidate *validator.Validate

func init() {
	messageValidate = validator.New()
}

// ValidationIssue describes one schema violation in a message list.
//
// The engine rejects nothing on its own: issues are handed back with a
// descriptive reason and the caller decides whether to drop or repair the
// offending message.
type ValidationIssue struct {
	// Index is the position of the offending message in the input list.
	Index int `json:"index"`

	// Field is the field that failed validation.
	Field string `json:"field"`

	// Reason is a human-readable description of the violation.
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (v ValidationIssue) Error() string {
	return fmt.Sprintf("message %d: %s: %s", v.Index, v.Field, v.Reason)
}

// Validator performs schema validation over message lists.
//
// Thread Safety: Safe for concurrent use.
type Validator struct {
	// Strict additionally requires ToolCallID on tool-role messages.
	Strict bool
}

// NewValidator creates a validator. Strict mode additionally requires a
// ToolCallID on every tool-role message.
func NewValidator(strict bool) *Validator {
	return &Validator{Strict: strict}
}

// ValidateMessage checks one message against the schema.
//
// Outputs:
//
//	[]ValidationIssue - Empty when the message is valid. The index on each
//	issue is set to the given index.
func (v *Validator) ValidateMessage(index int, m Message) []ValidationIssue {
	var issues []ValidationIssue

	if err := messageValidate.Struct(m); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				issues = append(issues, ValidationIssue{
					Index:  index,
					Field:  fe.Field(),
					Reason: reasonForField(fe, m),
				})
			}
		} else {
			issues = append(issues, ValidationIssue{
				Index:  index,
				Field:  "message",
				Reason: err.Error(),
			})
		}
	}

	// IsToolOutput is derived from the role and must never disagree with it.
	if m.Metadata.IsToolOutput != (m.Role == RoleTool) {
		issues = append(issues, ValidationIssue{
			Index:  index,
			Field:  "metadata.is_tool_output",
			Reason: fmt.Sprintf("is_tool_output=%t disagrees with role %q", m.Metadata.IsToolOutput, m.Role),
		})
	}

	if v.Strict && m.Role == RoleTool && m.Metadata.ToolCallID == "" {
		issues = append(issues, ValidationIssue{
			Index:  index,
			Field:  "metadata.tool_call_id",
			Reason: "tool-role message missing tool_call_id (strict mode)",
		})
	}

	return issues
}

// ValidateAll checks every message in a list and returns all violations.
// An empty result means the whole list is schema-valid.
func (v *Validator) ValidateAll(messages []Message) []ValidationIssue {
	var issues []ValidationIssue
	for i, m := range messages {
		issues = append(issues, v.ValidateMessage(i, m)...)
	}
	return issues
}

// reasonForField translates a validator field error into a descriptive
// reason string.
func reasonForField(fe validator.FieldError, m Message) string {
	switch fe.Field() {
	case "Role":
		if m.Role == "" {
			return "missing role"
		}
		return fmt.Sprintf("invalid role %q (want one of system, user, assistant, tool)", m.Role)
	case "Content":
		return "missing content"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
