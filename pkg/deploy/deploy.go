// Package deploy is the deployment & promotion engine (component R):
// environment-locked deployment execution per strategy, rollback against a
// prior succeeded deployment, and the env-ordered promotion chain.
package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

var log = logging.New("deploy")

// ErrEnvironmentLocked is returned when a caller that does not already
// hold the environment's lock tries to deploy to it.
var ErrEnvironmentLocked = errors.New("deploy: environment locked by another owner")

// ErrNoPriorDeployment is returned by Rollback when no earlier succeeded
// deployment exists on the environment to roll back to.
var ErrNoPriorDeployment = errors.New("deploy: no prior succeeded deployment to roll back to")

// ErrBuildNotSuccessful is returned by Promote for a non-success build.
var ErrBuildNotSuccessful = errors.New("deploy: build is not successful")

// StepRunner executes one deployment step against a build, returning
// whether it succeeded. Callers supply the strategy-specific step bodies
// (warm-up checks, traffic switch, canary promotion, etc).
type StepRunner func(ctx context.Context, deployment model.Deployment, step model.DeploymentStep) error

// Engine runs deployments and promotions against a Store.
type Engine struct {
	st  store.Store
	clk clock.Clock
}

// New constructs an Engine.
func New(st store.Store, clk clock.Clock) *Engine {
	return &Engine{st: st, clk: clk}
}

func stepsFor(strategy model.DeploymentStrategy, canarySteps []int) []string {
	switch strategy {
	case model.StrategyBlueGreen:
		return []string{"deploy-green", "warm", "switch", "retire-blue"}
	case model.StrategyCanary:
		out := make([]string, len(canarySteps))
		for i, pct := range canarySteps {
			out[i] = fmt.Sprintf("promote-%d%%", pct)
		}
		return out
	default:
		return []string{"deploy"}
	}
}

// Execute atomically acquires the environment lock, creates the
// deployment and its strategy-expanded steps, and runs them in order via
// run. A step failure marks the deployment failed and releases the lock;
// remaining steps are not run.
func (e *Engine) Execute(ctx context.Context, buildID, environmentID, lockID string, strategy model.DeploymentStrategy, canaryPercents []int, run StepRunner) (model.Deployment, error) {
	if err := e.st.LockEnvironment(ctx, environmentID, lockID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.Deployment{}, ErrEnvironmentLocked
		}
		return model.Deployment{}, fmt.Errorf("deploy: lock environment: %w", err)
	}

	deployment := model.Deployment{
		ID: clock.NewID(e.clk), BuildID: buildID, EnvironmentID: environmentID,
		Strategy: strategy, Status: model.DeploymentRunning, LockID: lockID, CreatedAt: e.clk.Now(),
	}
	if err := e.st.CreateDeployment(ctx, deployment); err != nil {
		_ = e.st.UnlockEnvironment(ctx, environmentID, lockID)
		return model.Deployment{}, fmt.Errorf("deploy: create deployment: %w", err)
	}

	stepNames := stepsFor(strategy, canaryPercents)
	failed := false
	for i, name := range stepNames {
		step := model.DeploymentStep{
			ID: clock.NewID(e.clk), DeploymentID: deployment.ID, Name: name,
		}
		if strategy == model.StrategyCanary {
			step.Percent = canaryPercents[i]
		}
		started := e.clk.Now()
		step.StartedAt = &started
		if err := e.st.CreateDeploymentStep(ctx, step); err != nil {
			log.Warn("create deployment step failed", "deployment_id", deployment.ID, "step", name, "error", err)
		}

		runErr := run(ctx, deployment, step)
		completed := e.clk.Now()
		step.CompletedAt = &completed
		if runErr != nil {
			step.Status = model.StepFailure
			failed = true
		} else {
			step.Status = model.StepSuccess
		}
		if err := e.st.UpdateDeploymentStep(ctx, step); err != nil {
			log.Warn("update deployment step failed", "deployment_id", deployment.ID, "step", name, "error", err)
		}
		if failed {
			break
		}
	}

	finalStatus := model.DeploymentSucceeded
	if failed {
		finalStatus = model.DeploymentFailed
	}
	if err := e.st.UpdateDeploymentStatus(ctx, deployment.ID, finalStatus); err != nil {
		log.Warn("update deployment status failed", "deployment_id", deployment.ID, "error", err)
	}
	deployment.Status = finalStatus

	if err := e.st.UnlockEnvironment(ctx, environmentID, lockID); err != nil {
		log.Warn("unlock environment failed", "environment_id", environmentID, "error", err)
	}

	return deployment, nil
}

// Rollback requires a prior succeeded deployment on the same environment,
// strictly earlier than now, and creates a reverse direct deployment
// against that earlier deployment's build.
func (e *Engine) Rollback(ctx context.Context, environmentID, lockID string, run StepRunner) (model.Deployment, error) {
	now := e.clk.Now()
	// The store compares whole seconds, so ask for everything up to the end
	// of the current second and keep the result only if it is strictly
	// earlier than now.
	prior, ok, err := e.st.LastSucceededDeployment(ctx, environmentID, now.Unix()+1)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("deploy: last succeeded deployment: %w", err)
	}
	if !ok || !prior.CreatedAt.Before(now) {
		return model.Deployment{}, ErrNoPriorDeployment
	}
	return e.Execute(ctx, prior.BuildID, environmentID, lockID, model.StrategyDirect, nil, run)
}

// Promote evaluates a build for promotion from fromEnv to toEnv. Only
// success builds may be promoted. If toEnv requires approval, the
// promotion is recorded pending and no artifact is placed; otherwise the
// artifact is placed immediately and a direct deployment is created.
func (e *Engine) Promote(ctx context.Context, build model.Build, fromEnv, toEnv model.Environment, lockID string, run StepRunner) (model.Promotion, error) {
	if build.Status != model.BuildSuccess {
		return model.Promotion{}, ErrBuildNotSuccessful
	}

	promotion := model.Promotion{
		ID: clock.NewID(e.clk), BuildID: build.ID, FromEnvID: fromEnv.ID, ToEnvID: toEnv.ID,
		Status: model.PromotionPending, CreatedAt: e.clk.Now(),
	}
	if err := e.st.CreatePromotion(ctx, promotion); err != nil {
		return model.Promotion{}, fmt.Errorf("deploy: create promotion: %w", err)
	}

	if toEnv.RequiresApproval {
		return promotion, nil
	}

	if err := e.st.PlaceArtifact(ctx, model.EnvironmentArtifact{EnvironmentID: toEnv.ID, BuildID: build.ID, PlacedAt: e.clk.Now()}); err != nil {
		return model.Promotion{}, fmt.Errorf("deploy: place artifact: %w", err)
	}
	promotion.Status = model.PromotionPlaced
	if err := e.st.UpdatePromotionStatus(ctx, promotion.ID, model.PromotionPlaced); err != nil {
		return model.Promotion{}, fmt.Errorf("deploy: update promotion status: %w", err)
	}

	if _, err := e.Execute(ctx, build.ID, toEnv.ID, lockID, model.StrategyDirect, nil, run); err != nil {
		return model.Promotion{}, fmt.Errorf("deploy: execute promoted deployment: %w", err)
	}

	return promotion, nil
}

// ApprovePromotion places the artifact and runs the deployment for a
// promotion that was left pending by a requires-approval environment.
func (e *Engine) ApprovePromotion(ctx context.Context, promotionID, buildID, toEnvID, lockID string, run StepRunner) error {
	if err := e.st.PlaceArtifact(ctx, model.EnvironmentArtifact{EnvironmentID: toEnvID, BuildID: buildID, PlacedAt: e.clk.Now()}); err != nil {
		return fmt.Errorf("deploy: place artifact: %w", err)
	}
	if err := e.st.UpdatePromotionStatus(ctx, promotionID, model.PromotionPlaced); err != nil {
		return fmt.Errorf("deploy: update promotion status: %w", err)
	}
	if _, err := e.Execute(ctx, buildID, toEnvID, lockID, model.StrategyDirect, nil, run); err != nil {
		return fmt.Errorf("deploy: execute approved deployment: %w", err)
	}
	return nil
}
