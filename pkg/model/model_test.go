package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildStatus_TerminalClassifiesLifecycleStates(t *testing.T) {
	assert.True(t, BuildSuccess.Terminal())
	assert.True(t, BuildFailure.Terminal())
	assert.True(t, BuildAborted.Terminal())
	assert.False(t, BuildQueued.Terminal())
	assert.False(t, BuildRunning.Terminal())
	assert.False(t, BuildWaitingApproval.Terminal())
}

func TestWorstStageStatus_RanksFailureAbortedSuccessSkipped(t *testing.T) {
	assert.Equal(t, StageFailure, WorstStageStatus(StageSuccess, StageFailure))
	assert.Equal(t, StageFailure, WorstStageStatus(StageFailure, StageAborted))
	assert.Equal(t, StageAborted, WorstStageStatus(StageSuccess, StageAborted))
	assert.Equal(t, StageSuccess, WorstStageStatus(StageSkipped, StageSuccess))
	assert.Equal(t, StageSkipped, WorstStageStatus(StageSkipped, StageRunning))
}

func TestWorstStageStatus_IsCommutativeForEachPair(t *testing.T) {
	statuses := []StageStatus{StageSkipped, StageRunning, StageSuccess, StageFailure, StageAborted}
	for _, a := range statuses {
		for _, b := range statuses {
			assert.Equal(t, WorstStageStatus(a, b), WorstStageStatus(b, a))
		}
	}
}

func TestEventType_IsCriticalMarksBuildAndStageAndStepLifecycleEvents(t *testing.T) {
	assert.True(t, EventBuildCompleted.IsCritical())
	assert.True(t, EventStageCompleted.IsCritical())
	assert.True(t, EventStepStarted.IsCritical())
}

func TestGateStatus_TerminalIsTrueForEverythingButPending(t *testing.T) {
	assert.False(t, GatePending.Terminal())
	assert.True(t, GateApproved.Terminal())
	assert.True(t, GateRejected.Terminal())
	assert.True(t, GateTimedOut.Terminal())
	assert.True(t, GateCancelled.Terminal())
}
