// Package stepexec is the step executor (component F): it resolves a
// step's condition and environment, masks secrets, dispatches to a shell or
// containerized process, and turns the exit code into a step result.
package stepexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sremani/chengis/internal/errs"
	"github.com/sremani/chengis/internal/pathsafe"
	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/dockerrun"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/process"
	"github.com/sremani/chengis/pkg/registry"
	"github.com/sremani/chengis/pkg/workspace"
)

var log = logging.New("stepexec")

// ConditionType names the step condition kinds the pipeline executor can
// evaluate before dispatch.
type ConditionType string

const (
	ConditionAlways ConditionType = "always"
	ConditionBranch ConditionType = "branch"
	ConditionParam  ConditionType = "param"
)

// Condition gates whether a step runs at all.
type Condition struct {
	Type      ConditionType
	Branch    string // for ConditionBranch: exact branch match
	ParamKey  string // for ConditionParam: parameters[ParamKey] == ParamValue
	ParamValue string
}

// Evaluate reports whether the condition holds against the current build's
// branch and parameters. A falsy condition means the step result is
// "skipped" rather than executed.
func (c *Condition) Evaluate(branch string, parameters map[string]string) bool {
	if c == nil {
		return true
	}
	switch c.Type {
	case ConditionAlways, "":
		return true
	case ConditionBranch:
		return branch == c.Branch
	case ConditionParam:
		return parameters[c.ParamKey] == c.ParamValue
	default:
		return false
	}
}

// StepType names the dispatch target for a step.
type StepType string

const (
	TypeShell   StepType = "shell"
	TypeDocker  StepType = "docker"
	TypeCompose StepType = "compose"
)

// StepDef is the concretely-typed step definition consumed from the
// (externally parsed) pipeline definition tree.
type StepDef struct {
	StepName     string
	Type         StepType
	Command      string
	Image        string
	Workdir      string // docker only; default "/workspace"
	Env          map[string]string
	Timeout      time.Duration
	Condition    *Condition
	CacheVolumes map[string]string // name -> absolute mount target
	Volumes      []string          // raw volume tokens, may use ":workspace" or "${WORKSPACE}"
	Network      string
	ExtraArgs    []string
}

// ExecContext carries the per-build values a step needs that are not part
// of its own definition: the current branch/parameters for condition
// evaluation, the cancellation flag, and the secret values to mask.
type ExecContext struct {
	Branch     string
	Parameters map[string]string
	Cancelled  func() bool
	MaskValues []string
	ChunkSize  int
	OnLine     func(process.Line)
	OnChunk    func(process.Chunk)
}

// Result is what the pipeline executor needs to record a step outcome.
type Result struct {
	Status     model.StepStatus
	ExitCode   int
	DurationMS int64
}

// Executor dispatches a StepDef to the right process invocation. Custom
// step types (compose, or user plugins) are resolved through the registry
// under registry.CategoryStepExecutor; "shell" and "docker" are built in.
// The Docker Engine client is dialed lazily on first use, so a run with no
// docker-typed steps never touches the daemon.
type Executor struct {
	reg *registry.Registry

	dockerOnce   sync.Once
	dockerRunner *dockerrun.Runner
	dockerErr    error
}

// New constructs an Executor backed by reg for custom step types.
func New(reg *registry.Registry) *Executor {
	return &Executor{reg: reg}
}

func (e *Executor) docker() (*dockerrun.Runner, error) {
	e.dockerOnce.Do(func() {
		e.dockerRunner, e.dockerErr = dockerrun.NewRunner()
	})
	return e.dockerRunner, e.dockerErr
}

// PluginStepExecutor is the interface a registered custom step type must
// implement.
type PluginStepExecutor interface {
	Execute(ctx context.Context, step StepDef, ws workspace.Handle, ec ExecContext) (Result, error)
}

// Execute runs one step: evaluates its condition, honors cancellation,
// dispatches by type, and returns a Result whose Status is always one of
// success/failure/aborted/skipped/timed-out.
func (e *Executor) Execute(ctx context.Context, step StepDef, ws workspace.Handle, ec ExecContext) (Result, error) {
	if !step.Condition.Evaluate(ec.Branch, ec.Parameters) {
		return Result{Status: model.StepSkipped}, nil
	}

	if ec.Cancelled != nil && ec.Cancelled() {
		return Result{Status: model.StepAborted, ExitCode: process.ExitAborted}, nil
	}

	switch step.Type {
	case TypeShell, "":
		return e.executeShell(ctx, step, ws, ec)
	case TypeDocker:
		return e.executeDocker(ctx, step, ws, ec)
	default:
		plugin, ok := registry.Lookup[PluginStepExecutor](e.reg, registry.CategoryStepExecutor, string(step.Type))
		if !ok {
			return Result{}, errs.Validationf("no step executor registered for type %q", step.Type)
		}
		return plugin.Execute(ctx, step, ws, ec)
	}
}

func (e *Executor) executeShell(ctx context.Context, step StepDef, ws workspace.Handle, ec ExecContext) (Result, error) {
	req := process.Request{
		Command:    step.Command,
		Dir:        ws.Path,
		Env:        step.Env,
		Timeout:    step.Timeout,
		ChunkSize:  ec.ChunkSize,
		MaskValues: ec.MaskValues,
		OnLine:     ec.OnLine,
		OnChunk:    ec.OnChunk,
	}
	res, err := process.Execute(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("stepexec: shell step %q: %w", step.StepName, err)
	}
	return toResult(res), nil
}

func (e *Executor) executeDocker(ctx context.Context, step StepDef, ws workspace.Handle, ec ExecContext) (Result, error) {
	req, err := buildDockerRequest(step, ws, ec)
	if err != nil {
		return Result{}, errs.New(errs.KindValidation, fmt.Sprintf("docker step %q", step.StepName), err)
	}

	runner, err := e.docker()
	if err != nil {
		return Result{}, errs.New(errs.KindExternalToolMissing, fmt.Sprintf("docker step %q", step.StepName), err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	res, err := runner.Run(runCtx, req)
	if err != nil {
		return Result{}, fmt.Errorf("stepexec: docker step %q: %w", step.StepName, err)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Status: model.StepTimedOut, ExitCode: process.ExitTimeout, DurationMS: res.DurationMS}, nil
	}
	return toDockerResult(res), nil
}

// buildDockerRequest resolves a StepDef into a dockerrun.Request per the
// contracts: workspace always mounted at workdir (default /workspace)
// absolute-only; ":workspace"/"${WORKSPACE}" volume tokens substitute the
// workspace path; env/volume names match a safe identifier; cache-volume
// targets are absolute and traversal-free; image/network names are
// validated; extra args must each be a flag (leading "-") and are otherwise
// rejected, and accepted flags are not forwarded since the Engine API client
// takes no free-form flags.
func buildDockerRequest(step StepDef, ws workspace.Handle, ec ExecContext) (dockerrun.Request, error) {
	workdir := step.Workdir
	if workdir == "" {
		workdir = "/workspace"
	}
	if _, err := pathsafe.ValidateAbsolute(workdir); err != nil {
		return dockerrun.Request{}, fmt.Errorf("workdir: %w", err)
	}
	if err := pathsafe.ValidateImageName(step.Image); err != nil {
		return dockerrun.Request{}, err
	}
	if step.Network != "" {
		if err := pathsafe.ValidateIdentifier(step.Network); err != nil {
			return dockerrun.Request{}, fmt.Errorf("network: %w", err)
		}
	}
	for _, arg := range step.ExtraArgs {
		if err := pathsafe.ValidateExtraArg(arg); err != nil {
			return dockerrun.Request{}, err
		}
	}

	binds := []string{fmt.Sprintf("%s:%s", ws.Path, workdir)}
	for _, v := range step.Volumes {
		resolved, err := ws.ResolveMountTarget(v)
		if err != nil {
			return dockerrun.Request{}, fmt.Errorf("volume %q: %w", v, err)
		}
		binds = append(binds, resolved)
	}
	for name, target := range step.CacheVolumes {
		if err := pathsafe.ValidateIdentifier(name); err != nil {
			return dockerrun.Request{}, fmt.Errorf("cache volume name: %w", err)
		}
		cleanTarget, err := pathsafe.ValidateMountTarget(target)
		if err != nil {
			return dockerrun.Request{}, fmt.Errorf("cache volume %q target: %w", name, err)
		}
		binds = append(binds, fmt.Sprintf("%s:%s", name, cleanTarget))
	}
	for k := range step.Env {
		if err := pathsafe.ValidateIdentifier(k); err != nil {
			return dockerrun.Request{}, fmt.Errorf("env name: %w", err)
		}
	}

	return dockerrun.Request{
		Image:      step.Image,
		Command:    step.Command,
		Workdir:    workdir,
		Env:        step.Env,
		Binds:      binds,
		Network:    step.Network,
		MaskValues: ec.MaskValues,
		ChunkSize:  ec.ChunkSize,
		OnLine:     ec.OnLine,
		OnChunk:    ec.OnChunk,
	}, nil
}

func toDockerResult(res dockerrun.Result) Result {
	r := Result{ExitCode: res.ExitCode, DurationMS: res.DurationMS}
	switch {
	case res.ExitCode == process.ExitAborted:
		r.Status = model.StepAborted
	case res.ExitCode == 0:
		r.Status = model.StepSuccess
	default:
		r.Status = model.StepFailure
	}
	return r
}

func toResult(res process.Result) Result {
	r := Result{ExitCode: res.ExitCode, DurationMS: res.DurationMS}
	switch {
	case res.TimedOut:
		r.Status = model.StepTimedOut
	case res.ExitCode == process.ExitAborted:
		r.Status = model.StepAborted
	case res.ExitCode == 0:
		r.Status = model.StepSuccess
	default:
		r.Status = model.StepFailure
	}
	return r
}
