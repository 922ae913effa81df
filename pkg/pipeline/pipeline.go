// Package pipeline is the pipeline executor (component J): the top-level
// build loop that ties together workspace allocation, matrix expansion,
// DAG/linear stage scheduling, policy and approval gating, stage-result
// caching, step execution, post-actions, and the terminal status rollup.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/approval"
	"github.com/sremani/chengis/pkg/bus"
	"github.com/sremani/chengis/pkg/cache"
	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/dag"
	"github.com/sremani/chengis/pkg/matrix"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/policy"
	"github.com/sremani/chengis/pkg/process"
	"github.com/sremani/chengis/pkg/scm"
	"github.com/sremani/chengis/pkg/stepexec"
	"github.com/sremani/chengis/pkg/store"
	"github.com/sremani/chengis/pkg/workspace"
)

var log = logging.New("pipeline")

// ApprovalConfig is a stage's approval-gate configuration, after any policy
// override has been merged onto it.
type ApprovalConfig struct {
	Message        string
	Role           string
	MinApprovals   int
	ApproverGroup  []string
	TimeoutMinutes int
}

// CacheConfig is a stage's artifact-cache declaration.
type CacheConfig struct {
	Key   string
	Paths []string
}

// StageDef is one stage of a pipeline definition, in the shape the executor
// consumes (already parsed from whatever format the pipeline source used).
type StageDef struct {
	StageName         string
	DependsOn         []string
	MatrixCombination map[string]string
	Approval          *ApprovalConfig
	Cache             *CacheConfig
	Steps             []stepexec.StepDef
}

// PostActions groups the three post-stage-loop hooks.
type PostActions struct {
	Always    []stepexec.StepDef
	OnSuccess []stepexec.StepDef
	OnFailure []stepexec.StepDef
}

// Definition is a fully resolved pipeline definition ready for execution.
type Definition struct {
	PipelineName string
	SourceURL    string // the pipeline's `source.url`, used for SCM status/merge dispatch
	Stages       []StageDef
	Matrix       matrix.Definition
	PostActions  PostActions
}

// Flags is the subset of feature flags the executor consults.
type Flags struct {
	BuildResultCache       bool
	ArtifactCache          bool
	ParallelStageExecution bool
	SCMStatus              bool
	AutoMerge              bool
}

// Config bounds the executor's scheduling and polling behavior.
type Config struct {
	MaxMatrixCombinations int
	MaxConcurrentStages   int
	ApprovalPollInterval  time.Duration
	LogChunkSize          int
}

// PolicyProvider resolves the policy rules that apply to a job.
type PolicyProvider func(ctx context.Context, job model.Job) ([]policy.Rule, error)

// TriggerDownstreamFunc fires dependent jobs per Job.Dependencies once a
// build completes.
type TriggerDownstreamFunc func(ctx context.Context, job model.Job, build model.Build) error

// ProvenanceFunc runs the provenance chain (SBOM, signing, SLSA) for a
// completed build.
type ProvenanceFunc func(ctx context.Context, build model.Build) error

// AutoMergeFunc dispatches an auto-merge attempt for a completed build.
type AutoMergeFunc func(ctx context.Context, job model.Job, build model.Build) error

// SecretMasker returns the secret values to mask in a job's step output.
type SecretMasker func(job model.Job) []string

// Executor runs Definitions against Builds. Every dependency is a
// previously-built component; Executor only sequences them.
type Executor struct {
	st         store.Store
	events     *bus.Bus
	workspaces *workspace.Manager
	steps      *stepexec.Executor
	artifacts  *cache.ArtifactCache
	stageCache *cache.StageCache
	gates      *approval.Gates
	clk        clock.Clock

	policyProvider    PolicyProvider
	triggerDownstream TriggerDownstreamFunc
	provenance        ProvenanceFunc
	autoMerge         AutoMergeFunc
	scmReporter       scm.Reporter
	secretMasker      SecretMasker

	cfg Config
}

// New constructs an Executor. triggerDownstream, provenance, autoMerge,
// scmReporter, and secretMasker may be nil: a nil hook is simply skipped at
// the point of §4.J step 7, rather than failing the build.
func New(
	st store.Store,
	events *bus.Bus,
	workspaces *workspace.Manager,
	steps *stepexec.Executor,
	artifacts *cache.ArtifactCache,
	stageCache *cache.StageCache,
	gates *approval.Gates,
	clk clock.Clock,
	policyProvider PolicyProvider,
	cfg Config,
) *Executor {
	if cfg.MaxMatrixCombinations <= 0 {
		cfg.MaxMatrixCombinations = 100
	}
	if cfg.MaxConcurrentStages <= 0 {
		cfg.MaxConcurrentStages = 4
	}
	if cfg.ApprovalPollInterval <= 0 {
		cfg.ApprovalPollInterval = 5 * time.Second
	}
	return &Executor{
		st:             st,
		events:         events,
		workspaces:     workspaces,
		steps:          steps,
		artifacts:      artifacts,
		stageCache:     stageCache,
		gates:          gates,
		clk:            clk,
		policyProvider: policyProvider,
		cfg:            cfg,
	}
}

// WithTriggerDownstream registers the downstream-trigger hook.
func (e *Executor) WithTriggerDownstream(f TriggerDownstreamFunc) *Executor { e.triggerDownstream = f; return e }

// WithProvenance registers the provenance-chain hook.
func (e *Executor) WithProvenance(f ProvenanceFunc) *Executor { e.provenance = f; return e }

// WithAutoMerge registers the auto-merge hook.
func (e *Executor) WithAutoMerge(f AutoMergeFunc) *Executor { e.autoMerge = f; return e }

// WithSCMReporter registers the commit-status reporter.
func (e *Executor) WithSCMReporter(r scm.Reporter) *Executor { e.scmReporter = r; return e }

// WithSecretMasker registers the per-job secret-masking source.
func (e *Executor) WithSecretMasker(f SecretMasker) *Executor { e.secretMasker = f; return e }

// Execute runs def against build per §4.J's seven steps, returning the
// terminal build status. The build's own Status row is updated and a
// build-completed event is always emitted before returning, even on an
// early validation failure.
func (e *Executor) Execute(ctx context.Context, job model.Job, build model.Build, def Definition, flags Flags) (model.BuildStatus, error) {
	ws, err := e.workspaces.Allocate(build.ID)
	if err != nil {
		return e.fail(ctx, job, build, fmt.Errorf("pipeline: allocate workspace: %w", err))
	}
	defer func() {
		if releaseErr := e.workspaces.Release(ws); releaseErr != nil {
			log.Warn("workspace release failed", "build_id", build.ID, "error", releaseErr)
		}
	}()

	e.publish(ctx, build.ID, model.EventBuildStarted, "", "", nil)

	stages := def.Stages
	if len(def.Matrix.Axes) > 0 {
		expanded, err := expandMatrix(stages, def.Matrix, e.cfg.MaxMatrixCombinations)
		if err != nil {
			return e.fail(ctx, job, build, err)
		}
		stages = expanded
	}

	outcomes := e.runStages(ctx, job, build, stages, flags, ws)

	anyFailure := false
	worst := model.StageSkipped
	for _, o := range outcomes {
		worst = model.WorstStageStatus(worst, o.Status)
		if o.Status == model.StageFailure {
			anyFailure = true
		}
	}
	finalStatus := stageStatusToBuildStatus(worst)

	e.runPostActions(ctx, build, ws, def.PostActions, finalStatus == model.BuildSuccess, anyFailure)

	return e.complete(ctx, job, build, finalStatus, def.SourceURL)
}

func (e *Executor) runStages(ctx context.Context, job model.Job, build model.Build, stages []StageDef, flags Flags, ws workspace.Handle) []dag.StageOutcome {
	dagDefs := toDagDefs(stages)
	if flags.ParallelStageExecution && dag.HasDAG(dagDefs) {
		g, err := dag.Build(dagDefs)
		if err != nil {
			log.Error("dag build failed", "build_id", build.ID, "error", err)
			out := make([]dag.StageOutcome, len(stages))
			for i, s := range stages {
				out[i] = dag.StageOutcome{Name: s.StageName, Status: model.StageFailure}
			}
			return out
		}
		return dag.RunWaves(ctx, g, e.cfg.MaxConcurrentStages, func(ctx context.Context, name string) dag.StageOutcome {
			sd := findStage(stages, name)
			return dag.StageOutcome{Name: name, Status: e.runStage(ctx, job, build, sd, flags, ws)}
		})
	}

	var outcomes []dag.StageOutcome
	stopped := false
	for _, sd := range stages {
		if stopped || ctx.Err() != nil {
			outcomes = append(outcomes, dag.StageOutcome{Name: sd.StageName, Status: model.StageAborted})
			continue
		}
		status := e.runStage(ctx, job, build, sd, flags, ws)
		outcomes = append(outcomes, dag.StageOutcome{Name: sd.StageName, Status: status})
		if status == model.StageFailure || status == model.StageAborted {
			stopped = true
		}
	}
	return outcomes
}

// runStage executes steps 4a-4f of §4.J for a single stage.
func (e *Executor) runStage(ctx context.Context, job model.Job, build model.Build, sd StageDef, flags Flags, ws workspace.Handle) model.StageStatus {
	started := e.clk.Now()
	stageID := clock.NewID(e.clk)
	if err := e.st.AppendStage(ctx, model.Stage{
		ID: stageID, BuildID: build.ID, StageName: sd.StageName, Status: model.StageRunning,
		StartedAt: &started, DependsOn: sd.DependsOn, MatrixCombination: sd.MatrixCombination,
	}); err != nil {
		log.Warn("append stage failed", "build_id", build.ID, "stage", sd.StageName, "error", err)
	}
	e.publish(ctx, build.ID, model.EventStageStarted, sd.StageName, "", nil)

	// 4a. policy
	rules, err := e.resolveRules(ctx, job)
	if err != nil {
		log.Error("policy resolution failed", "build_id", build.ID, "stage", sd.StageName, "error", err)
		return e.finishStage(ctx, stageID, build, sd, model.StageFailure, started)
	}
	bc := policy.BuildContext{
		BuildID: build.ID, JobID: job.ID, OrgID: job.OrgID,
		Branch: build.GitBranch, Author: build.GitAuthor, Parameters: build.Parameters, StageName: sd.StageName,
	}
	evalResult := policy.Evaluate(ctx, rules, bc)
	if evalResult.Denied {
		log.Warn("stage denied by policy", "build_id", build.ID, "stage", sd.StageName, "reason", evalResult.DenyReason)
		return e.finishStage(ctx, stageID, build, sd, model.StageFailure, started)
	}

	// 4b. merge approval override onto stage's own approval config.
	approvalCfg := mergeApproval(sd.Approval, evalResult.ApprovalOverride)

	// 4c. approval gate.
	if approvalCfg != nil {
		status, ok := e.waitForApproval(ctx, build.ID, sd.StageName, *approvalCfg)
		if !ok {
			return e.finishStage(ctx, stageID, build, sd, status, started)
		}
	}

	// 4d. stage-result cache check.
	fingerprint, fpErr := stageFingerprint(build.GitCommit, sd)
	if fpErr != nil {
		log.Warn("stage fingerprint failed", "build_id", build.ID, "stage", sd.StageName, "error", fpErr)
	}
	if flags.BuildResultCache && fpErr == nil {
		if rec, hit, err := e.stageCache.Get(ctx, job.ID, fingerprint); err == nil && hit {
			e.publish(ctx, build.ID, model.EventCacheHit, sd.StageName, "", map[string]any{"fingerprint": fingerprint})
			return e.finishStage(ctx, stageID, build, sd, rec.Status, started)
		}
	}

	if flags.ArtifactCache && sd.Cache != nil {
		e.restoreArtifacts(ctx, job.ID, sd.Cache, ws)
	}

	// 4e. run steps, aggregating status.
	stageStatus := e.runSteps(ctx, build, sd, ws)

	// 4f. save stage result + artifacts on success.
	if stageStatus == model.StageSuccess {
		if flags.BuildResultCache && fpErr == nil {
			if _, err := e.stageCache.Save(ctx, model.StageCacheRecord{
				JobID: job.ID, Fingerprint: fingerprint, StageName: sd.StageName,
				Status: stageStatus, CreatedAt: e.clk.Now(),
			}); err != nil {
				log.Warn("stage cache save failed", "build_id", build.ID, "stage", sd.StageName, "error", err)
			}
		}
		if flags.ArtifactCache && sd.Cache != nil {
			e.saveArtifacts(ctx, job.ID, sd.Cache, ws)
		}
	}

	return e.finishStage(ctx, stageID, build, sd, stageStatus, started)
}

func (e *Executor) resolveRules(ctx context.Context, job model.Job) ([]policy.Rule, error) {
	if e.policyProvider == nil {
		return nil, nil
	}
	return e.policyProvider(ctx, job)
}

func (e *Executor) waitForApproval(ctx context.Context, buildID, stageName string, cfg ApprovalConfig) (model.StageStatus, bool) {
	gate, err := e.gates.Create(ctx, buildID, stageName, cfg.Role, cfg.Message, cfg.TimeoutMinutes)
	if err != nil {
		log.Error("create approval gate failed", "build_id", buildID, "stage", stageName, "error", err)
		return model.StageFailure, false
	}
	e.publish(ctx, buildID, model.EventApprovalRequested, stageName, "", map[string]any{"gate_id": gate.ID, "required_role": cfg.Role})

	outcome, err := e.gates.Wait(ctx, gate.ID, e.cfg.ApprovalPollInterval, func() bool { return ctx.Err() != nil })
	if err != nil {
		log.Error("approval wait failed", "build_id", buildID, "stage", stageName, "error", err)
		return model.StageFailure, false
	}
	if !outcome.Proceed {
		if outcome.Status == model.GateCancelled {
			return model.StageAborted, false
		}
		return model.StageFailure, false
	}
	return model.StageSuccess, true
}

func (e *Executor) runSteps(ctx context.Context, build model.Build, sd StageDef, ws workspace.Handle) model.StageStatus {
	stageStatus := model.StageSuccess
	mask := e.secretValues(build)

	for _, step := range sd.Steps {
		if stageStatus == model.StageFailure || stageStatus == model.StageAborted {
			e.recordStep(ctx, build.ID, sd.StageName, step.StepName, model.StepSkipped, 0, nil, nil)
			continue
		}

		e.publish(ctx, build.ID, model.EventStepStarted, sd.StageName, step.StepName, nil)
		started := e.clk.Now()

		res, err := e.steps.Execute(ctx, step, ws, stepexec.ExecContext{
			Branch:     build.GitBranch,
			Parameters: build.Parameters,
			Cancelled:  func() bool { return ctx.Err() != nil },
			MaskValues: mask,
			ChunkSize:  e.cfg.LogChunkSize,
			OnLine: func(l process.Line) {
				e.onLogLine(ctx, build.ID, sd.StageName, step.StepName, l)
			},
		})
		if err != nil {
			log.Error("step execution error", "build_id", build.ID, "stage", sd.StageName, "step", step.StepName, "error", err)
			res = stepexec.Result{Status: model.StepFailure}
		}
		completed := e.clk.Now()
		e.recordStep(ctx, build.ID, sd.StageName, step.StepName, res.Status, res.ExitCode, &started, &completed)
		e.publish(ctx, build.ID, model.EventStepCompleted, sd.StageName, step.StepName, map[string]any{"status": string(res.Status), "exit_code": res.ExitCode})

		switch res.Status {
		case model.StepFailure, model.StepTimedOut:
			stageStatus = model.StageFailure
		case model.StepAborted:
			stageStatus = model.StageAborted
		}
	}
	return stageStatus
}

func (e *Executor) recordStep(ctx context.Context, buildID, stageName, stepName string, status model.StepStatus, exitCode int, started, completed *time.Time) {
	step := model.Step{
		ID: clock.NewID(e.clk), BuildID: buildID, StageName: stageName, StepName: stepName,
		Status: status, StartedAt: started, CompletedAt: completed,
	}
	if status != model.StepSkipped {
		step.ExitCode = &exitCode
	}
	if err := e.st.AppendStep(ctx, step); err != nil {
		log.Warn("append step failed", "build_id", buildID, "stage", stageName, "step", stepName, "error", err)
	}
}

func (e *Executor) finishStage(ctx context.Context, stageID string, build model.Build, sd StageDef, status model.StageStatus, started time.Time) model.StageStatus {
	completed := e.clk.Now()
	if err := e.st.UpdateStage(ctx, model.Stage{
		ID: stageID, BuildID: build.ID, StageName: sd.StageName, Status: status,
		StartedAt: &started, CompletedAt: &completed, DependsOn: sd.DependsOn, MatrixCombination: sd.MatrixCombination,
	}); err != nil {
		log.Warn("update stage failed", "build_id", build.ID, "stage", sd.StageName, "error", err)
	}
	e.publish(ctx, build.ID, model.EventStageCompleted, sd.StageName, "", map[string]any{"status": string(status)})
	return status
}

func (e *Executor) runPostActions(ctx context.Context, build model.Build, ws workspace.Handle, pa PostActions, success, anyFailure bool) {
	run := func(steps []stepexec.StepDef, label string) {
		for _, step := range steps {
			res, err := e.steps.Execute(ctx, step, ws, stepexec.ExecContext{
				Branch: build.GitBranch, Parameters: build.Parameters,
				Cancelled: func() bool { return false },
			})
			if err != nil || res.Status == model.StepFailure {
				log.Warn("post-action step failed, build status unaffected", "build_id", build.ID, "group", label, "step", step.StepName, "error", err)
			}
		}
	}
	run(pa.Always, "always")
	if success {
		run(pa.OnSuccess, "on-success")
	}
	if anyFailure {
		run(pa.OnFailure, "on-failure")
	}
}

// complete performs §4.J step 7: persist terminal status, emit
// build-completed, then trigger downstream builds, SCM status, provenance,
// and auto-merge, in that order. Each hook's failure is logged and never
// aborts the remaining hooks.
func (e *Executor) complete(ctx context.Context, job model.Job, build model.Build, status model.BuildStatus, sourceURL string) (model.BuildStatus, error) {
	now := e.clk.Now()
	nowUnix := now.Unix()
	if err := e.st.UpdateBuildStatus(ctx, build.ID, status, &nowUnix); err != nil {
		log.Warn("update build status failed", "build_id", build.ID, "error", err)
	}
	build.Status = status
	build.CompletedAt = &now

	e.publish(ctx, build.ID, model.EventBuildCompleted, "", "", map[string]any{"status": string(status)})

	if e.triggerDownstream != nil {
		if err := e.triggerDownstream(ctx, job, build); err != nil {
			log.Warn("trigger downstream failed", "build_id", build.ID, "error", err)
		}
	}

	if e.scmReporter != nil {
		owner, repo := ownerRepo(sourceURL)
		info := scm.BuildInfo{
			RepoURL: sourceURL, CommitSHA: build.GitCommit, Owner: owner, Repo: repo,
			PRNumber: intOrZero(build.PRNumber), MergeRequestNumber: intOrZero(build.MergeRequestNumber),
		}
		if !scm.Skip(info, true) {
			if err := e.scmReporter.Report(ctx, info, status, fmt.Sprintf("build %s", status)); err != nil {
				log.Warn("scm status report failed", "build_id", build.ID, "error", err)
			}
		}
	}

	if e.provenance != nil {
		if err := e.provenance(ctx, build); err != nil {
			log.Warn("provenance chain failed", "build_id", build.ID, "error", err)
		}
	}

	if e.autoMerge != nil && status == model.BuildSuccess {
		if err := e.autoMerge(ctx, job, build); err != nil {
			log.Warn("auto-merge failed", "build_id", build.ID, "error", err)
		}
	}

	return status, nil
}

// fail persists an immediate-failure build (e.g. a validation error before
// any stage ran) and still emits build-completed.
func (e *Executor) fail(ctx context.Context, job model.Job, build model.Build, cause error) (model.BuildStatus, error) {
	log.Error("pipeline execution failed before stages ran", "build_id", build.ID, "error", cause)
	status, _ := e.complete(ctx, job, build, model.BuildFailure, "")
	return status, cause
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// ownerRepo best-effort extracts "owner/repo" from a repo URL's path, for
// providers (GitHub) whose reporter addresses by owner+repo rather than the
// full URL.
func ownerRepo(repoURL string) (owner, repo string) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", ""
	}
	repo = trimmed[idx+1:]
	rest := trimmed[:idx]
	idx2 := strings.LastIndexAny(rest, "/:")
	if idx2 < 0 {
		return "", repo
	}
	return rest[idx2+1:], repo
}

func (e *Executor) secretValues(build model.Build) []string {
	if e.secretMasker == nil {
		return nil
	}
	return e.secretMasker(model.Job{ID: build.JobID, OrgID: build.OrgID})
}

func (e *Executor) onLogLine(ctx context.Context, buildID, stageName, stepName string, l process.Line) {
	if err := e.st.AppendLog(ctx, model.BuildLog{
		BuildID: buildID, Timestamp: e.clk.Now(), Level: "info", Source: stepName, Message: l.Text,
	}); err != nil {
		log.Warn("append log failed", "build_id", buildID, "error", err)
	}
	e.publish(ctx, buildID, model.EventLogLine, stageName, stepName, map[string]any{"text": l.Text, "stream": string(l.Source)})
}

func (e *Executor) restoreArtifacts(ctx context.Context, jobID string, cfg *CacheConfig, ws workspace.Handle) {
	key, err := cache.ResolveKey(cfg.Key, ws.Path)
	if err != nil {
		log.Warn("artifact cache key resolution failed", "job_id", jobID, "error", err)
		return
	}
	if _, err := e.artifacts.Restore(ctx, jobID, key, ws.Path); err != nil {
		log.Warn("artifact cache restore failed", "job_id", jobID, "key", key, "error", err)
	}
}

func (e *Executor) saveArtifacts(ctx context.Context, jobID string, cfg *CacheConfig, ws workspace.Handle) {
	key, err := cache.ResolveKey(cfg.Key, ws.Path)
	if err != nil {
		log.Warn("artifact cache key resolution failed", "job_id", jobID, "error", err)
		return
	}
	if _, err := e.artifacts.Save(ctx, jobID, key, ws.Path); err != nil {
		log.Warn("artifact cache save failed", "job_id", jobID, "key", key, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, buildID string, t model.EventType, stageName, stepName string, data map[string]any) {
	e.events.Publish(ctx, model.BuildEvent{
		ID: clock.NewID(e.clk), BuildID: buildID, EventType: t,
		StageName: stageName, StepName: stepName, Data: data, CreatedAt: e.clk.Now(),
	})
}

// mergeApproval merges a policy-derived ApprovalOverride onto a stage's own
// approval config. An override with no effective values (zero min-approvals,
// empty group) leaves a nil config nil: required-approval rules only ever
// strengthen approval, they never invent it from nothing.
func mergeApproval(cfg *ApprovalConfig, override policy.ApprovalOverride) *ApprovalConfig {
	hasOverride := override.MinApprovals > 0 || len(override.ApproverGroup) > 0
	if cfg == nil {
		if !hasOverride {
			return nil
		}
		return &ApprovalConfig{MinApprovals: override.MinApprovals, ApproverGroup: override.ApproverGroup, TimeoutMinutes: 60}
	}
	merged := *cfg
	if override.MinApprovals > merged.MinApprovals {
		merged.MinApprovals = override.MinApprovals
	}
	seen := make(map[string]bool, len(merged.ApproverGroup))
	for _, g := range merged.ApproverGroup {
		seen[g] = true
	}
	for _, g := range override.ApproverGroup {
		if !seen[g] {
			merged.ApproverGroup = append(merged.ApproverGroup, g)
			seen[g] = true
		}
	}
	return &merged
}

func stageStatusToBuildStatus(s model.StageStatus) model.BuildStatus {
	switch s {
	case model.StageFailure:
		return model.BuildFailure
	case model.StageAborted:
		return model.BuildAborted
	default:
		return model.BuildSuccess
	}
}

func toDagDefs(stages []StageDef) []dag.StageDef {
	out := make([]dag.StageDef, len(stages))
	for i, s := range stages {
		out[i] = dag.StageDef{Name: s.StageName, DependsOn: s.DependsOn}
	}
	return out
}

func findStage(stages []StageDef, name string) StageDef {
	for _, s := range stages {
		if s.StageName == name {
			return s
		}
	}
	return StageDef{}
}

// stageFingerprint computes the stage-result cache key per §3: SHA-256 of
// the git commit, the stage's own step definitions, and its stable
// (non-per-build-varying) environment.
func stageFingerprint(gitCommit string, sd StageDef) (string, error) {
	env := make(map[string]string)
	for _, step := range sd.Steps {
		for k, v := range step.Env {
			env[k] = v
		}
	}
	return clock.Fingerprint(gitCommit, sd.Steps, clock.StableEnv(env))
}

// expandMatrix expands every stage by the matrix's cartesian product,
// rewiring depends-on so every combination of a dependency stage must
// complete before any combination of a dependent stage starts.
func expandMatrix(stages []StageDef, def matrix.Definition, max int) ([]StageDef, error) {
	combos := matrix.Expand(def)
	if len(combos) == 0 {
		return stages, nil
	}
	if err := matrix.CheckLimit(len(combos), len(stages), max); err != nil {
		return nil, err
	}

	expandedNamesByBase := make(map[string][]string, len(stages))
	for _, s := range stages {
		for _, c := range combos {
			expandedNamesByBase[s.StageName] = append(expandedNamesByBase[s.StageName], matrix.StageName(s.StageName, c))
		}
	}

	var out []StageDef
	for _, s := range stages {
		for _, c := range combos {
			expanded := s
			expanded.StageName = matrix.StageName(s.StageName, c)
			expanded.MatrixCombination = map[string]string(c)

			var deps []string
			for _, d := range s.DependsOn {
				deps = append(deps, expandedNamesByBase[d]...)
			}
			expanded.DependsOn = deps
			expanded.Steps = injectMatrixEnv(s.Steps, c)

			out = append(out, expanded)
		}
	}
	return out, nil
}

func injectMatrixEnv(steps []stepexec.StepDef, c matrix.Combination) []stepexec.StepDef {
	env := matrix.Env(c)
	out := make([]stepexec.StepDef, len(steps))
	for i, s := range steps {
		merged := make(map[string]string, len(s.Env)+len(env))
		for k, v := range s.Env {
			merged[k] = v
		}
		for k, v := range env {
			merged[k] = v
		}
		s.Env = merged
		out[i] = s
	}
	return out
}
