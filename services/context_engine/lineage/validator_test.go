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
	"strings"
	"testing"
)

func TestValidator_ValidMessages(t *testing.T) {
	v := NewValidator(false)

	msgs := []Message{
		NewMessage(RoleSystem, "You are a helpful assistant."),
		NewMessage(RoleUser, "hello"),
		NewMessage(RoleAssistant, "hi"),
		NewMessage(RoleTool, "tool output"),
	}

	if issues := v.ValidateAll(msgs); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestValidator_MissingRole(t *testing.T) {
	v := NewValidator(false)

	issues := v.ValidateMessage(0, Message{Content: "text"})

	if len(issues) == 0 {
		t.Fatal("expected issue for missing role")
	}
	if !strings.Contains(issues[0].Reason, "missing role") {
		t.Errorf("reason = %q, want mention of missing role", issues[0].Reason)
	}
}

func TestValidator_InvalidRole(t *testing.T) {
	v := NewValidator(false)

	issues := v.ValidateMessage(3, Message{Role: "narrator", Content: "text"})

	if len(issues) == 0 {
		t.Fatal("expected issue for invalid role")
	}
	if issues[0].Index != 3 {
		t.Errorf("index = %d, want 3", issues[0].Index)
	}
	if !strings.Contains(issues[0].Reason, "narrator") {
		t.Errorf("reason should name the bad role: %q", issues[0].Reason)
	}
}

func TestValidator_MissingContent(t *testing.T) {
	v := NewValidator(false)

	issues := v.ValidateMessage(0, Message{Role: RoleUser})

	found := false
	for _, issue := range issues {
		if issue.Field == "Content" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected content issue, got %v", issues)
	}
}

func TestValidator_ToolOutputFlagMustAgreeWithRole(t *testing.T) {
	v := NewValidator(false)

	// Tool role without the derived flag.
	m := Message{Role: RoleTool, Content: "output"}
	if issues := v.ValidateMessage(0, m); len(issues) == 0 {
		t.Error("expected issue: tool role with is_tool_output=false")
	}

	// Non-tool role with the flag set.
	m = NewMessage(RoleUser, "hello")
	m.Metadata.IsToolOutput = true
	if issues := v.ValidateMessage(0, m); len(issues) == 0 {
		t.Error("expected issue: user role with is_tool_output=true")
	}
}

func TestValidator_StrictRequiresToolCallID(t *testing.T) {
	m := NewMessage(RoleTool, "output")

	if issues := NewValidator(false).ValidateMessage(0, m); len(issues) != 0 {
		t.Errorf("lenient mode should accept tool message without call id: %v", issues)
	}

	issues := NewValidator(true).ValidateMessage(0, m)
	if len(issues) == 0 {
		t.Fatal("strict mode should reject tool message without call id")
	}
	if issues[0].Field != "metadata.tool_call_id" {
		t.Errorf("field = %q, want metadata.tool_call_id", issues[0].Field)
	}

	m.Metadata.ToolCallID = "call-1"
	if issues := NewValidator(true).ValidateMessage(0, m); len(issues) != 0 {
		t.Errorf("strict mode should accept tool message with call id: %v", issues)
	}
}

func TestValidationIssue_Error(t *testing.T) {
	issue := ValidationIssue{Index: 2, Field: "Role", Reason: "missing role"}

	msg := issue.Error()
	if !strings.Contains(msg, "message 2") || !strings.Contains(msg, "missing role") {
		t.Errorf("unexpected error string: %q", msg)
	}
}
