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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestNewKnowledgeSource_RequiresClient(t *testing.T) {
	_, err := NewKnowledgeSource(nil, DefaultKnowledgeConfig())
	assert.Error(t, err)
}

func TestExtractContents(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"Document": []interface{}{
					map[string]interface{}{"content": "first fragment"},
					map[string]interface{}{"content": "   "},
					map[string]interface{}{"content": "second fragment"},
					map[string]interface{}{"unexpected": true},
				},
			},
		},
	}

	contents, err := extractContents(resp, "Document")
	require.NoError(t, err)
	assert.Equal(t, []string{"first fragment", "second fragment"}, contents)
}

func TestExtractContents_NoMatchesIsEmpty(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{},
		},
	}

	contents, err := extractContents(resp, "Document")
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestExtractContents_GraphQLErrors(t *testing.T) {
	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}

	_, err := extractContents(resp, "Document")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}
