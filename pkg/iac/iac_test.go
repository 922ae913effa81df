package iac

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/store"
)

func TestDetectTool_Terraform(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.tf"), []byte(""), 0o644))
	tool, err := DetectTool(dir)
	require.NoError(t, err)
	assert.Equal(t, Terraform, tool)
}

func TestDetectTool_Pulumi(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Pulumi.yaml"), []byte(""), 0o644))
	tool, err := DetectTool(dir)
	require.NoError(t, err)
	assert.Equal(t, Pulumi, tool)
}

func TestDetectTool_CloudFormation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "template.json"), []byte(""), 0o644))
	tool, err := DetectTool(dir)
	require.NoError(t, err)
	assert.Equal(t, CloudFormation, tool)
}

func TestDetectTool_NoneFound(t *testing.T) {
	dir := t.TempDir()
	_, err := DetectTool(dir)
	assert.ErrorIs(t, err, ErrNoToolDetected)
}

func TestBuildCommand_TerraformApplyAddsAutoApprove(t *testing.T) {
	cmd, err := BuildCommand(Terraform, "apply")
	require.NoError(t, err)
	assert.Equal(t, "terraform apply -no-color -input=false -auto-approve", cmd)
}

func TestBuildCommand_TerraformPlanOmitsAutoApprove(t *testing.T) {
	cmd, err := BuildCommand(Terraform, "plan")
	require.NoError(t, err)
	assert.Equal(t, "terraform plan -no-color -input=false", cmd)
}

func TestBuildCommand_Pulumi(t *testing.T) {
	cmd, err := BuildCommand(Pulumi, "preview")
	require.NoError(t, err)
	assert.Equal(t, "pulumi preview --non-interactive --json", cmd)
}

func TestBuildCommand_CloudFormation(t *testing.T) {
	cmd, err := BuildCommand(CloudFormation, "create-change-set")
	require.NoError(t, err)
	assert.Equal(t, "aws cloudformation create-change-set --output json", cmd)
}

func TestParsePlan_Terraform(t *testing.T) {
	raw := `{
		"resource_changes": [
			{"type": "aws_instance", "name": "web", "change": {"actions": ["create"]}},
			{"type": "aws_s3_bucket", "name": "logs", "change": {"actions": ["update"]}},
			{"type": "aws_eip", "name": "old", "change": {"actions": ["delete"]}},
			{"type": "aws_vpc", "name": "main", "change": {"actions": ["no-op"]}}
		]
	}`
	plan, err := ParsePlan(Terraform, raw)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.ResourcesAdd)
	assert.Equal(t, 1, plan.ResourcesChange)
	assert.Equal(t, 1, plan.ResourcesDestroy)
	assert.Len(t, plan.Resources, 4)
}

func TestEstimateMonthlyCost_SkipsNoopAndDelete(t *testing.T) {
	plan := Plan{Resources: []Resource{
		{ResourceType: "aws_instance", Action: ActionCreate},
		{ResourceType: "aws_instance", Action: ActionDelete},
		{ResourceType: "unknown_type", Action: ActionCreate},
		{ResourceType: "aws_vpc", Action: ActionNoop},
	}}
	cost := EstimateMonthlyCost(plan, map[string]float64{"aws_instance": 50, "aws_vpc": 10})
	assert.Equal(t, float64(50), cost)
}

func TestStateManager_SaveAndLoadRoundTrip(t *testing.T) {
	st := store.NewMemory()
	mgr := NewStateManager(st, clock.System{}, 0)

	plaintext := []byte(`{"resource.a": {"id": "1"}}`)
	saved, err := mgr.SaveState(context.Background(), "proj-1", "default", "alice", plaintext)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
	assert.NotEmpty(t, saved.StateHash)

	loaded, err := mgr.LoadState(context.Background(), "proj-1", "default")
	require.NoError(t, err)
	assert.Equal(t, plaintext, loaded)
}

func TestStateManager_SaveState_EnforcesSizeLimit(t *testing.T) {
	st := store.NewMemory()
	mgr := NewStateManager(st, clock.System{}, 4)

	_, err := mgr.SaveState(context.Background(), "proj-1", "default", "alice", []byte("way too big"))
	assert.ErrorIs(t, err, ErrStateTooLarge)
}

func TestStateManager_Lock_RefusesOtherUser(t *testing.T) {
	st := store.NewMemory()
	mgr := NewStateManager(st, clock.System{}, 0)

	require.NoError(t, mgr.AcquireLock(context.Background(), "proj-1", "alice"))
	err := mgr.AcquireLock(context.Background(), "proj-1", "bob")
	assert.ErrorIs(t, err, ErrLockedByAnotherUser)
}

func TestStateManager_ForceUnlock_IgnoresOwnership(t *testing.T) {
	st := store.NewMemory()
	mgr := NewStateManager(st, clock.System{}, 0)

	require.NoError(t, mgr.AcquireLock(context.Background(), "proj-1", "alice"))
	require.NoError(t, mgr.ForceUnlock(context.Background(), "proj-1"))
	require.NoError(t, mgr.AcquireLock(context.Background(), "proj-1", "bob"))
}

func TestDiffState_AddedRemovedChanged(t *testing.T) {
	old := []byte(`{"a": {"v": 1}, "b": {"v": 2}}`)
	new := []byte(`{"a": {"v": 1}, "b": {"v": 3}, "c": {"v": 4}}`)

	diff, err := DiffState(old, new)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, diff.Added)
	assert.Equal(t, []string{"b"}, diff.Changed)
	assert.Nil(t, diff.Removed)
}
