package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePipelineDocument_AcceptsMinimalValidDefinition(t *testing.T) {
	doc := map[string]any{
		"name": "deploy",
		"stages": []any{
			map[string]any{
				"name": "build",
				"steps": []any{
					map[string]any{
						"name":    "compile",
						"type":    "shell",
						"command": "make build",
					},
				},
			},
		},
	}
	assert.NoError(t, validatePipelineDocument(doc))
}

func TestValidatePipelineDocument_RejectsMissingRequiredFields(t *testing.T) {
	doc := map[string]any{
		"stages": []any{},
	}
	err := validatePipelineDocument(doc)
	assert.Error(t, err)
}

func TestValidatePipelineDocument_RejectsUnknownStepType(t *testing.T) {
	doc := map[string]any{
		"name": "deploy",
		"stages": []any{
			map[string]any{
				"name": "build",
				"steps": []any{
					map[string]any{
						"name": "compile",
						"type": "vm-snapshot",
					},
				},
			},
		},
	}
	err := validatePipelineDocument(doc)
	assert.Error(t, err)
}

func TestGetPipelineSchema_CompilesOnceAndCaches(t *testing.T) {
	schemaA, err := getPipelineSchema()
	require.NoError(t, err)
	schemaB, err := getPipelineSchema()
	require.NoError(t, err)
	assert.Same(t, schemaA, schemaB)
}
