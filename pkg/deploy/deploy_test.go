package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

func newEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st := store.NewMemory()
	return New(st, clock.System{}), st
}

func createEnv(t *testing.T, st store.Store, id string, requiresApproval bool) model.Environment {
	t.Helper()
	env := model.Environment{ID: id, OrgID: "org-1", Name: id, RequiresApproval: requiresApproval}
	require.NoError(t, st.CreateEnvironment(context.Background(), env))
	return env
}

func succeedAll(ctx context.Context, deployment model.Deployment, step model.DeploymentStep) error {
	return nil
}

func TestExecute_DirectStrategy_OneStep(t *testing.T) {
	eng, st := newEngine(t)
	createEnv(t, st, "prod", false)

	d, err := eng.Execute(context.Background(), "build-1", "prod", "lock-1", model.StrategyDirect, nil, succeedAll)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentSucceeded, d.Status)

	steps, err := st.ListDeploymentSteps(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "deploy", steps[0].Name)
}

func TestExecute_BlueGreenStrategy_FourSteps(t *testing.T) {
	eng, st := newEngine(t)
	createEnv(t, st, "prod", false)

	d, err := eng.Execute(context.Background(), "build-1", "prod", "lock-1", model.StrategyBlueGreen, nil, succeedAll)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentSucceeded, d.Status)

	steps, err := st.ListDeploymentSteps(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, []string{"deploy-green", "warm", "switch", "retire-blue"}, names(steps))
}

func TestExecute_CanaryStrategy_PromoteSteps(t *testing.T) {
	eng, st := newEngine(t)
	createEnv(t, st, "prod", false)

	d, err := eng.Execute(context.Background(), "build-1", "prod", "lock-1", model.StrategyCanary, []int{10, 50, 100}, succeedAll)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentSucceeded, d.Status)

	steps, err := st.ListDeploymentSteps(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"promote-10%", "promote-50%", "promote-100%"}, names(steps))
}

func names(steps []model.DeploymentStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}

func TestExecute_StepFailure_LeavesDeploymentFailedAndUnlocks(t *testing.T) {
	eng, st := newEngine(t)
	createEnv(t, st, "prod", false)

	calls := 0
	run := func(ctx context.Context, deployment model.Deployment, step model.DeploymentStep) error {
		calls++
		if step.Name == "warm" {
			return errors.New("warm-up failed")
		}
		return nil
	}

	d, err := eng.Execute(context.Background(), "build-1", "prod", "lock-1", model.StrategyBlueGreen, nil, run)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentFailed, d.Status)
	assert.Equal(t, 2, calls) // deploy-green, warm; switch/retire-blue never run

	env, err := st.GetEnvironment(context.Background(), "prod")
	require.NoError(t, err)
	assert.Empty(t, env.LockedBy)
}

func TestExecute_RefusesWhenLockedByAnotherOwner(t *testing.T) {
	eng, st := newEngine(t)
	createEnv(t, st, "prod", false)

	require.NoError(t, st.LockEnvironment(context.Background(), "prod", "owner-a"))

	_, err := eng.Execute(context.Background(), "build-1", "prod", "owner-b", model.StrategyDirect, nil, succeedAll)
	assert.ErrorIs(t, err, ErrEnvironmentLocked)
}

func TestRollback_RequiresPriorSucceededDeployment(t *testing.T) {
	eng, st := newEngine(t)
	createEnv(t, st, "prod", false)

	_, err := eng.Rollback(context.Background(), "prod", "lock-1", succeedAll)
	assert.ErrorIs(t, err, ErrNoPriorDeployment)

	_, err = eng.Execute(context.Background(), "build-1", "prod", "lock-1", model.StrategyDirect, nil, succeedAll)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	rollback, err := eng.Rollback(context.Background(), "prod", "lock-2", succeedAll)
	require.NoError(t, err)
	assert.Equal(t, "build-1", rollback.BuildID)
	assert.Equal(t, model.DeploymentSucceeded, rollback.Status)
}

func TestPromote_RejectsNonSuccessBuild(t *testing.T) {
	eng, st := newEngine(t)
	from := createEnv(t, st, "staging", false)
	to := createEnv(t, st, "prod", false)

	build := model.Build{ID: "build-1", Status: model.BuildFailure}
	_, err := eng.Promote(context.Background(), build, from, to, "lock-1", succeedAll)
	assert.ErrorIs(t, err, ErrBuildNotSuccessful)
}

func TestPromote_NoApprovalRequired_PlacesArtifactAndDeploys(t *testing.T) {
	eng, st := newEngine(t)
	from := createEnv(t, st, "staging", false)
	to := createEnv(t, st, "prod", false)

	build := model.Build{ID: "build-1", Status: model.BuildSuccess}
	promotion, err := eng.Promote(context.Background(), build, from, to, "lock-1", succeedAll)
	require.NoError(t, err)
	assert.Equal(t, model.PromotionPlaced, promotion.Status)

	placed, err := st.ArtifactPlaced(context.Background(), "prod", "build-1")
	require.NoError(t, err)
	assert.True(t, placed)
}

func TestPromote_RequiresApproval_LeavesPendingWithNoArtifact(t *testing.T) {
	eng, st := newEngine(t)
	from := createEnv(t, st, "staging", false)
	to := createEnv(t, st, "prod", true)

	build := model.Build{ID: "build-1", Status: model.BuildSuccess}
	promotion, err := eng.Promote(context.Background(), build, from, to, "lock-1", succeedAll)
	require.NoError(t, err)
	assert.Equal(t, model.PromotionPending, promotion.Status)

	placed, err := st.ArtifactPlaced(context.Background(), "prod", "build-1")
	require.NoError(t, err)
	assert.False(t, placed)
}
