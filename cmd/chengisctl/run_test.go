package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/stepexec"
)

func TestToDefinition_ConvertsStagesStepsAndMatrix(t *testing.T) {
	def := yamlDefinition{
		Name: "deploy",
		Stages: []yamlStage{
			{
				Name:      "build",
				DependsOn: []string{"lint"},
				Steps: []yamlStep{
					{Name: "compile", Type: "docker", Command: "make build", Timeout: "30s"},
				},
			},
		},
		Matrix: yamlMatrix{Axes: map[string][]string{"os": {"linux", "darwin"}}},
	}
	def.Source.URL = "git@host/repo.git"

	got, err := toDefinition(def)
	require.NoError(t, err)

	assert.Equal(t, "deploy", got.PipelineName)
	assert.Equal(t, "git@host/repo.git", got.SourceURL)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "build", got.Stages[0].StageName)
	assert.Equal(t, []string{"lint"}, got.Stages[0].DependsOn)
	require.Len(t, got.Stages[0].Steps, 1)
	assert.Equal(t, stepexec.TypeDocker, got.Stages[0].Steps[0].Type)
	assert.Equal(t, 30*time.Second, got.Stages[0].Steps[0].Timeout)
	assert.Equal(t, []string{"linux", "darwin"}, got.Matrix.Axes["os"])
}

func TestToDefinition_DefaultsStepTypeToShell(t *testing.T) {
	def := yamlDefinition{
		Stages: []yamlStage{
			{Name: "build", Steps: []yamlStep{{Name: "compile", Command: "make"}}},
		},
	}

	got, err := toDefinition(def)
	require.NoError(t, err)
	assert.Equal(t, stepexec.TypeShell, got.Stages[0].Steps[0].Type)
}

func TestToDefinition_RejectsUnparsableTimeout(t *testing.T) {
	def := yamlDefinition{
		Stages: []yamlStage{
			{Name: "build", Steps: []yamlStep{{Name: "compile", Timeout: "not-a-duration"}}},
		},
	}

	_, err := toDefinition(def)
	assert.Error(t, err)
}

func TestToDefinition_ConvertsConditionWhenPresent(t *testing.T) {
	def := yamlDefinition{
		Stages: []yamlStage{
			{Name: "build", Steps: []yamlStep{{
				Name:      "deploy-prod",
				Condition: &yamlCondition{Type: "branch", Branch: "main"},
			}}},
		},
	}

	got, err := toDefinition(def)
	require.NoError(t, err)
	require.NotNil(t, got.Stages[0].Steps[0].Condition)
	assert.Equal(t, stepexec.ConditionBranch, got.Stages[0].Steps[0].Condition.Type)
	assert.Equal(t, "main", got.Stages[0].Steps[0].Condition.Branch)
}
