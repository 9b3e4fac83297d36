// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sources

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMemory(t *testing.T) *ConversationMemory {
	t.Helper()
	mem, err := OpenConversationMemory(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

func TestConversationMemory_AppendAndRecent(t *testing.T) {
	mem := openTestMemory(t)

	require.NoError(t, mem.Append("sess-1", "first note"))
	require.NoError(t, mem.Append("sess-1", "second note"))
	require.NoError(t, mem.Append("sess-1", "third note"))

	notes, err := mem.Recent("sess-1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first note", "second note", "third note"}, notes)
}

func TestConversationMemory_RecentLimitKeepsNewest(t *testing.T) {
	mem := openTestMemory(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, mem.Append("sess-1", fmt.Sprintf("note %d", i)))
	}

	notes, err := mem.Recent("sess-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"note 4", "note 5"}, notes)
}

func TestConversationMemory_SessionIsolation(t *testing.T) {
	mem := openTestMemory(t)

	require.NoError(t, mem.Append("sess-a", "alpha"))
	require.NoError(t, mem.Append("sess-b", "beta"))

	notes, err := mem.Recent("sess-a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, notes)

	notes, err = mem.Recent("sess-unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestConversationMemory_AppendValidation(t *testing.T) {
	mem := openTestMemory(t)

	assert.Error(t, mem.Append("", "content"))
	assert.Error(t, mem.Append("sess-1", ""))
}

func TestConversationMemory_Source(t *testing.T) {
	mem := openTestMemory(t)
	require.NoError(t, mem.Append("sess-1", "remembered fact"))

	fetch := mem.Source("sess-1", 10)
	records, err := fetch(context.Background(), "unused query")
	require.NoError(t, err)
	assert.Equal(t, []string{"remembered fact"}, records)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fetch(cancelled, "query")
	assert.Error(t, err)
}

func TestOpenConversationMemory_RequiresPath(t *testing.T) {
	_, err := OpenConversationMemory(MemoryConfig{})
	assert.Error(t, err)
}
