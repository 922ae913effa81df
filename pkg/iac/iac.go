// Package iac is the infrastructure-as-code engine (component S): tool
// detection by file presence, safe-default command construction, uniform
// plan-output parsing, gzipped state versioning, and per-project locking.
package iac

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/process"
	"github.com/sremani/chengis/pkg/store"
)

// Tool names a detected IaC tool.
type Tool string

const (
	Terraform     Tool = "terraform"
	Pulumi        Tool = "pulumi"
	CloudFormation Tool = "cloudformation"
)

// ErrNoToolDetected is returned when no recognized IaC file is present.
var ErrNoToolDetected = errors.New("iac: no tool detected in project directory")

// ErrStateTooLarge is returned by SaveState when content exceeds the
// configured size limit.
var ErrStateTooLarge = errors.New("iac: state content exceeds size limit")

// ErrLockedByAnotherUser is returned by AcquireLock when the project is
// locked by someone else.
var ErrLockedByAnotherUser = errors.New("iac: project locked by another user")

// DetectTool inspects dir for the file markers that identify an IaC tool.
func DetectTool(dir string) (Tool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("iac: read dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == "Pulumi.yaml":
			return Pulumi, nil
		case name == "template.json" || name == "template.yaml":
			return CloudFormation, nil
		}
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tf") {
			return Terraform, nil
		}
	}
	return "", ErrNoToolDetected
}

// Action names a plan operation, one of terraform/pulumi/cloudformation's
// unified action vocabulary.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoop   Action = "no-op"
)

// Resource is one planned resource change.
type Resource struct {
	ResourceType string
	Name         string
	Action       Action
}

// Plan is the uniform plan-output shape every tool's output is parsed into.
type Plan struct {
	ResourcesAdd     int
	ResourcesChange  int
	ResourcesDestroy int
	Resources        []Resource
}

// BuildCommand constructs the plan or apply command for tool with fixed
// safe defaults: -no-color -input=false for terraform, apply adds
// -auto-approve; pulumi adds --non-interactive --json; cloudformation
// shells out to the aws CLI with --output json.
func BuildCommand(tool Tool, op string, extraArgs ...string) (string, error) {
	var parts []string
	switch tool {
	case Terraform:
		parts = []string{"terraform", op, "-no-color", "-input=false"}
		if op == "apply" {
			parts = append(parts, "-auto-approve")
		}
	case Pulumi:
		parts = []string{"pulumi", op, "--non-interactive", "--json"}
	case CloudFormation:
		parts = []string{"aws", "cloudformation", op, "--output", "json"}
	default:
		return "", fmt.Errorf("iac: unknown tool %q", tool)
	}
	parts = append(parts, extraArgs...)
	return strings.Join(parts, " "), nil
}

// Run executes tool's plan/apply command in dir and returns its raw
// stdout for ParsePlan to consume.
func Run(ctx context.Context, tool Tool, op, dir string, extraArgs ...string) (string, error) {
	cmd, err := BuildCommand(tool, op, extraArgs...)
	if err != nil {
		return "", err
	}
	res, err := process.Execute(ctx, process.Request{Command: cmd, Dir: dir})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("iac: %s %s exited %d", tool, op, res.ExitCode)
	}
	return strings.Join(res.StdoutLines, "\n"), nil
}

type terraformPlanJSON struct {
	ResourceChanges []struct {
		Type   string   `json:"type"`
		Name   string   `json:"name"`
		Change struct {
			Actions []string `json:"actions"`
		} `json:"change"`
	} `json:"resource_changes"`
}

type pulumiPlanJSON struct {
	Steps []struct {
		Op       string `json:"op"`
		URN      string `json:"urn"`
	} `json:"steps"`
}

// ParsePlan parses tool's raw plan output into the uniform Plan shape.
// Unrecognized actions map to ActionNoop.
func ParsePlan(tool Tool, raw string) (Plan, error) {
	switch tool {
	case Terraform:
		return parseTerraformPlan(raw)
	case Pulumi:
		return parsePulumiPlan(raw)
	case CloudFormation:
		return parseCloudFormationPlan(raw)
	default:
		return Plan{}, fmt.Errorf("iac: unknown tool %q", tool)
	}
}

func parseTerraformPlan(raw string) (Plan, error) {
	var doc terraformPlanJSON
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Plan{}, fmt.Errorf("iac: parse terraform plan: %w", err)
	}
	var plan Plan
	for _, rc := range doc.ResourceChanges {
		action := terraformAction(rc.Change.Actions)
		plan.Resources = append(plan.Resources, Resource{ResourceType: rc.Type, Name: rc.Name, Action: action})
		tallyAction(&plan, action)
	}
	return plan, nil
}

func terraformAction(actions []string) Action {
	switch strings.Join(actions, ",") {
	case "create":
		return ActionCreate
	case "update":
		return ActionUpdate
	case "delete":
		return ActionDelete
	case "delete,create", "create,delete":
		return ActionUpdate
	default:
		return ActionNoop
	}
}

func parsePulumiPlan(raw string) (Plan, error) {
	var doc pulumiPlanJSON
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Plan{}, fmt.Errorf("iac: parse pulumi plan: %w", err)
	}
	var plan Plan
	for _, s := range doc.Steps {
		action := pulumiAction(s.Op)
		plan.Resources = append(plan.Resources, Resource{ResourceType: "", Name: s.URN, Action: action})
		tallyAction(&plan, action)
	}
	return plan, nil
}

func pulumiAction(op string) Action {
	switch op {
	case "create":
		return ActionCreate
	case "update":
		return ActionUpdate
	case "delete":
		return ActionDelete
	default:
		return ActionNoop
	}
}

type cloudformationChangeSet struct {
	Changes []struct {
		ResourceChange struct {
			ResourceType string `json:"ResourceType"`
			LogicalResourceId string `json:"LogicalResourceId"`
			Action       string `json:"Action"`
		} `json:"ResourceChange"`
	} `json:"Changes"`
}

func parseCloudFormationPlan(raw string) (Plan, error) {
	var doc cloudformationChangeSet
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Plan{}, fmt.Errorf("iac: parse cloudformation change set: %w", err)
	}
	var plan Plan
	for _, c := range doc.Changes {
		action := cloudformationAction(c.ResourceChange.Action)
		plan.Resources = append(plan.Resources, Resource{
			ResourceType: c.ResourceChange.ResourceType, Name: c.ResourceChange.LogicalResourceId, Action: action,
		})
		tallyAction(&plan, action)
	}
	return plan, nil
}

func cloudformationAction(action string) Action {
	switch strings.ToLower(action) {
	case "add":
		return ActionCreate
	case "modify":
		return ActionUpdate
	case "remove":
		return ActionDelete
	default:
		return ActionNoop
	}
}

func tallyAction(plan *Plan, action Action) {
	switch action {
	case ActionCreate:
		plan.ResourcesAdd++
	case ActionUpdate:
		plan.ResourcesChange++
	case ActionDelete:
		plan.ResourcesDestroy++
	}
}

// EstimateMonthlyCost sums a per-resource-type monthly cost table over a
// plan's resources. no-op and delete actions contribute nothing; an
// unrecognized resource type costs 0.
func EstimateMonthlyCost(plan Plan, costTable map[string]float64) float64 {
	var total float64
	for _, r := range plan.Resources {
		if r.Action == ActionNoop || r.Action == ActionDelete {
			continue
		}
		total += costTable[r.ResourceType]
	}
	return total
}

// StateDiff is the {added, removed, changed} resource-name vectors
// between two state versions.
type StateDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// StateManager saves, loads, locks, and diffs IaC state through a Store.
type StateManager struct {
	st          store.Store
	clk         clock.Clock
	maxStateSize int
}

// NewStateManager constructs a StateManager. maxStateSize <= 0 means no
// limit.
func NewStateManager(st store.Store, clk clock.Clock, maxStateSize int) *StateManager {
	return &StateManager{st: st, clk: clk, maxStateSize: maxStateSize}
}

// SaveState gzip-compresses plaintext, base64-encodes it for storage, and
// writes a new immutable version. The size limit applies to the
// plaintext, before compression.
func (m *StateManager) SaveState(ctx context.Context, projectID, workspaceName, createdBy string, plaintext []byte) (model.IaCState, error) {
	if m.maxStateSize > 0 && len(plaintext) > m.maxStateSize {
		return model.IaCState{}, ErrStateTooLarge
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(plaintext); err != nil {
		return model.IaCState{}, fmt.Errorf("iac: gzip state: %w", err)
	}
	if err := gw.Close(); err != nil {
		return model.IaCState{}, fmt.Errorf("iac: gzip close: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	state := model.IaCState{
		ProjectID: projectID, WorkspaceName: workspaceName,
		StateContent: []byte(encoded), StateHash: clock.SHA256Hex(plaintext),
		StateSize: int64(len(plaintext)), CreatedBy: createdBy, CreatedAt: m.clk.Now(),
	}
	return m.st.SaveIaCState(ctx, state)
}

// LoadState returns the latest version's decompressed plaintext.
func (m *StateManager) LoadState(ctx context.Context, projectID, workspaceName string) ([]byte, error) {
	state, err := m.st.LatestIaCState(ctx, projectID, workspaceName)
	if err != nil {
		return nil, err
	}
	return decodeState(state.StateContent)
}

func decodeState(encoded []byte) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("iac: decode state: %w", err)
	}
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("iac: gunzip state: %w", err)
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// AcquireLock refuses if the project is locked by a different user.
func (m *StateManager) AcquireLock(ctx context.Context, projectID, lockedBy string) error {
	if err := m.st.AcquireIaCLock(ctx, projectID, lockedBy, m.clk.Now().Unix()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrLockedByAnotherUser
		}
		return err
	}
	return nil
}

// ReleaseLock releases a lock held by lockedBy.
func (m *StateManager) ReleaseLock(ctx context.Context, projectID, lockedBy string) error {
	return m.st.ReleaseIaCLock(ctx, projectID, lockedBy)
}

// ForceUnlock removes any lock on projectID regardless of ownership.
func (m *StateManager) ForceUnlock(ctx context.Context, projectID string) error {
	return m.st.ForceUnlockIaC(ctx, projectID)
}

// DiffState compares two plaintext state blobs' top-level resource name
// sets (parsed as a flat JSON object of resource-name -> definition) into
// {added, removed, changed}.
func DiffState(oldState, newState []byte) (StateDiff, error) {
	var oldRes, newRes map[string]json.RawMessage
	if len(oldState) > 0 {
		if err := json.Unmarshal(oldState, &oldRes); err != nil {
			return StateDiff{}, fmt.Errorf("iac: parse old state: %w", err)
		}
	}
	if len(newState) > 0 {
		if err := json.Unmarshal(newState, &newRes); err != nil {
			return StateDiff{}, fmt.Errorf("iac: parse new state: %w", err)
		}
	}

	var diff StateDiff
	for name, newVal := range newRes {
		oldVal, existed := oldRes[name]
		if !existed {
			diff.Added = append(diff.Added, name)
			continue
		}
		if !bytes.Equal(normalizeJSON(oldVal), normalizeJSON(newVal)) {
			diff.Changed = append(diff.Changed, name)
		}
	}
	for name := range oldRes {
		if _, stillPresent := newRes[name]; !stillPresent {
			diff.Removed = append(diff.Removed, name)
		}
	}
	return diff, nil
}

func normalizeJSON(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
