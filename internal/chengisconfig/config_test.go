package chengisconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault_PopulatesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 256, cfg.EventBus.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.EventBus.CriticalTimeout)
	assert.Equal(t, 100, cfg.Matrix.MaxExpandedStages)
	assert.Equal(t, 4, cfg.DAG.MaxConcurrent)
	assert.Equal(t, "cosign", cfg.Provenance.SigningTool)
	assert.Equal(t, time.Hour, cfg.Scheduler.RetentionInterval)
	assert.False(t, cfg.Features.SecretRotation)
}
