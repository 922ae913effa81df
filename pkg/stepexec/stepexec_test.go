package stepexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/registry"
	"github.com/sremani/chengis/pkg/workspace"
)

func newTestWorkspace(t *testing.T) workspace.Handle {
	t.Helper()
	m, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	h, err := m.Allocate("build-1")
	require.NoError(t, err)
	return h
}

func TestCondition_Evaluate(t *testing.T) {
	assert.True(t, (*Condition)(nil).Evaluate("main", nil))

	branch := &Condition{Type: ConditionBranch, Branch: "main"}
	assert.True(t, branch.Evaluate("main", nil))
	assert.False(t, branch.Evaluate("dev", nil))

	param := &Condition{Type: ConditionParam, ParamKey: "deploy", ParamValue: "true"}
	assert.True(t, param.Evaluate("", map[string]string{"deploy": "true"}))
	assert.False(t, param.Evaluate("", map[string]string{"deploy": "false"}))
}

func TestExecute_SkipsWhenConditionFalse(t *testing.T) {
	ws := newTestWorkspace(t)
	e := New(registry.New())

	res, err := e.Execute(context.Background(), StepDef{
		StepName:  "deploy",
		Type:      TypeShell,
		Command:   "exit 0",
		Condition: &Condition{Type: ConditionBranch, Branch: "main"},
	}, ws, ExecContext{Branch: "feature/x"})

	require.NoError(t, err)
	assert.Equal(t, model.StepSkipped, res.Status)
}

func TestExecute_AbortsWhenCancelled(t *testing.T) {
	ws := newTestWorkspace(t)
	e := New(registry.New())

	res, err := e.Execute(context.Background(), StepDef{StepName: "build", Type: TypeShell, Command: "exit 0"}, ws, ExecContext{
		Cancelled: func() bool { return true },
	})

	require.NoError(t, err)
	assert.Equal(t, model.StepAborted, res.Status)
}

func TestExecute_ShellSuccessAndFailure(t *testing.T) {
	ws := newTestWorkspace(t)
	e := New(registry.New())

	res, err := e.Execute(context.Background(), StepDef{StepName: "ok", Type: TypeShell, Command: "exit 0"}, ws, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, model.StepSuccess, res.Status)

	res, err = e.Execute(context.Background(), StepDef{StepName: "bad", Type: TypeShell, Command: "exit 3"}, ws, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, model.StepFailure, res.Status)
	assert.Equal(t, 3, res.ExitCode)
}

type fakePlugin struct {
	called bool
}

func (f *fakePlugin) Execute(ctx context.Context, step StepDef, ws workspace.Handle, ec ExecContext) (Result, error) {
	f.called = true
	return Result{Status: model.StepSuccess}, nil
}

func TestExecute_DispatchesToRegisteredPlugin(t *testing.T) {
	ws := newTestWorkspace(t)
	reg := registry.New()
	plugin := &fakePlugin{}
	registry.Register[PluginStepExecutor](reg, registry.CategoryStepExecutor, "compose", plugin)

	e := New(reg)
	res, err := e.Execute(context.Background(), StepDef{StepName: "stack", Type: "compose"}, ws, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, model.StepSuccess, res.Status)
	assert.True(t, plugin.called)
}

func TestExecute_UnknownTypeErrors(t *testing.T) {
	ws := newTestWorkspace(t)
	e := New(registry.New())
	_, err := e.Execute(context.Background(), StepDef{StepName: "mystery", Type: "mystery"}, ws, ExecContext{})
	require.Error(t, err)
}

func TestBuildDockerRequest_ValidatesWorkdirAndImage(t *testing.T) {
	ws := newTestWorkspace(t)

	_, err := buildDockerRequest(StepDef{Image: "alpine", Workdir: "relative/path"}, ws, ExecContext{})
	assert.Error(t, err)

	req, err := buildDockerRequest(StepDef{Image: "alpine:3.19", Command: "echo hi"}, ws, ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "/workspace", req.Workdir)
	assert.Contains(t, req.Binds, ws.Path+":/workspace")
}

func TestBuildDockerRequest_ResolvesWorkspaceVolumeToken(t *testing.T) {
	ws := newTestWorkspace(t)

	req, err := buildDockerRequest(StepDef{
		Image:   "alpine",
		Volumes: []string{":workspace/cache:/cache"},
	}, ws, ExecContext{})
	require.NoError(t, err)
	assert.Contains(t, req.Binds[1], "/cache")
}

func TestBuildDockerRequest_RejectsBadExtraArg(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := buildDockerRequest(StepDef{Image: "alpine", ExtraArgs: []string{"rm -rf /"}}, ws, ExecContext{})
	assert.Error(t, err)
}
