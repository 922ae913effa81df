// Package policy is the policy engine (component L): it evaluates
// branch/author/time-window/parameter/required-approval/OPA rules in
// ascending priority order, short-circuiting on the first deny, and
// records every evaluation for audit.
package policy

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/sremani/chengis/internal/telemetry/logging"
)

var log = logging.New("policy")

// RuleType names a policy rule's evaluation strategy.
type RuleType string

const (
	RuleBranchRestriction    RuleType = "branch-restriction"
	RuleAuthorRestriction    RuleType = "author-restriction"
	RuleTimeWindow           RuleType = "time-window"
	RuleParameterRestriction RuleType = "parameter-restriction"
	RuleRequiredApproval     RuleType = "required-approval"
	RuleOPA                  RuleType = "opa"
)

// Action is the effect a restriction rule applies to a match.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Operator is a parameter-restriction comparison.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpMatches   Operator = "matches"
)

// Rule is a tagged union over the six policy rule kinds, evaluated in
// ascending Priority order.
type Rule struct {
	Priority int
	Type     RuleType

	// branch-restriction / author-restriction
	Patterns []string
	Action   Action

	// time-window
	Timezone string
	Days     []time.Weekday // empty means any day
	StartHour int
	EndHour   int

	// parameter-restriction
	Parameter string
	Operator  Operator
	Value     string

	// required-approval
	Stages         []string
	MinApprovals   int
	ApproverGroup  []string

	// opa
	OPAQuery   string // e.g. "data.chengis.allow"
	OPAModule  string // rego module source
	OPATimeout time.Duration
}

// BuildContext is the subset of a build's identity a policy evaluates
// against.
type BuildContext struct {
	BuildID   string
	JobID     string
	OrgID     string
	Branch    string
	Author    string
	Parameters map[string]string
	StageName string
}

// ApprovalOverride is what a required-approval rule contributes to a
// stage's approval configuration: the rule does not deny, it strengthens.
type ApprovalOverride struct {
	MinApprovals  int
	ApproverGroup []string
}

// Merge combines two overrides using max-of for MinApprovals and union for
// ApproverGroup, per the "required-approval does not deny" contract.
func (o ApprovalOverride) Merge(other ApprovalOverride) ApprovalOverride {
	merged := o
	if other.MinApprovals > merged.MinApprovals {
		merged.MinApprovals = other.MinApprovals
	}
	seen := make(map[string]bool, len(merged.ApproverGroup))
	for _, g := range merged.ApproverGroup {
		seen[g] = true
	}
	for _, g := range other.ApproverGroup {
		if !seen[g] {
			merged.ApproverGroup = append(merged.ApproverGroup, g)
			seen[g] = true
		}
	}
	return merged
}

// EvalRecord is one rule's evaluation outcome, kept for audit.
type EvalRecord struct {
	RuleType RuleType
	Priority int
	Denied   bool
	Reason   string
}

// Result is the overall outcome of evaluating a rule set against a build.
type Result struct {
	Denied           bool
	DenyReason       string
	ApprovalOverride ApprovalOverride
	Records          []EvalRecord
}

// Evaluate runs rules in ascending Priority order. The first deny
// short-circuits; required-approval rules never deny, they only
// accumulate into the returned ApprovalOverride.
func Evaluate(ctx context.Context, rules []Rule, bc BuildContext) Result {
	sorted := append([]Rule(nil), rules...)
	sortByPriority(sorted)

	var result Result

	for _, r := range sorted {
		denied, reason, override := evalOne(ctx, r, bc)
		result.Records = append(result.Records, EvalRecord{RuleType: r.Type, Priority: r.Priority, Denied: denied, Reason: reason})

		if override != nil {
			result.ApprovalOverride = result.ApprovalOverride.Merge(*override)
		}

		if denied {
			result.Denied = true
			result.DenyReason = reason
			return result
		}
	}

	return result
}

func sortByPriority(rules []Rule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].Priority < rules[j-1].Priority; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

func evalOne(ctx context.Context, r Rule, bc BuildContext) (denied bool, reason string, override *ApprovalOverride) {
	switch r.Type {
	case RuleBranchRestriction:
		return evalGlobRestriction(r, bc.Branch, "branch")
	case RuleAuthorRestriction:
		return evalGlobRestriction(r, bc.Author, "author")
	case RuleTimeWindow:
		return evalTimeWindow(r)
	case RuleParameterRestriction:
		return evalParameterRestriction(r, bc)
	case RuleRequiredApproval:
		if !containsStage(r.Stages, bc.StageName) {
			return false, "", nil
		}
		return false, "", &ApprovalOverride{MinApprovals: r.MinApprovals, ApproverGroup: r.ApproverGroup}
	case RuleOPA:
		denied, reason := evalOPA(ctx, r, bc)
		return denied, reason, nil
	default:
		return false, "", nil
	}
}

func evalGlobRestriction(r Rule, value, label string) (bool, string, *ApprovalOverride) {
	matched := false
	for _, p := range r.Patterns {
		if ok, _ := path.Match(p, value); ok {
			matched = true
			break
		}
	}
	switch r.Action {
	case ActionAllow:
		if !matched {
			return true, fmt.Sprintf("%s %q does not match any allowed pattern", label, value), nil
		}
	case ActionDeny:
		if matched {
			return true, fmt.Sprintf("%s %q matches a denied pattern", label, value), nil
		}
	}
	return false, "", nil
}

func evalTimeWindow(r Rule) (bool, string, *ApprovalOverride) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)

	if len(r.Days) > 0 {
		dayOK := false
		for _, d := range r.Days {
			if d == now.Weekday() {
				dayOK = true
				break
			}
		}
		if !dayOK {
			if r.Action == ActionDeny {
				return false, "", nil
			}
			return true, "current day is outside the allowed window", nil
		}
	}

	hour := now.Hour()
	inWindow := hour >= r.StartHour && hour < r.EndHour

	switch r.Action {
	case ActionAllow:
		if !inWindow {
			return true, fmt.Sprintf("current hour %d outside allowed window [%d,%d)", hour, r.StartHour, r.EndHour), nil
		}
	case ActionDeny:
		if inWindow {
			return true, fmt.Sprintf("current hour %d inside denied window [%d,%d)", hour, r.StartHour, r.EndHour), nil
		}
	}
	return false, "", nil
}

func evalParameterRestriction(r Rule, bc BuildContext) (bool, string, *ApprovalOverride) {
	value := bc.Parameters[r.Parameter]
	var matches bool
	switch r.Operator {
	case OpEquals:
		matches = value == r.Value
	case OpNotEquals:
		matches = value != r.Value
	case OpMatches:
		ok, _ := path.Match(r.Value, value)
		matches = ok
	}
	if matches && r.Action == ActionDeny {
		return true, fmt.Sprintf("parameter %s=%q matched deny rule", r.Parameter, value), nil
	}
	return false, "", nil
}

func containsStage(stages []string, name string) bool {
	for _, s := range stages {
		if s == name {
			return true
		}
	}
	return false
}

// evalOPA evaluates r's rego module against bc via the OPA evaluation
// engine, in-process. A query evaluation timeout is treated as a deny
// (tool available but non-responsive is not the same as tool missing); an
// empty or unparsable module — standing in for "opa not installed" in a
// subprocess-based deployment — is treated as allow.
func evalOPA(ctx context.Context, r Rule, bc BuildContext) (bool, string) {
	if r.OPAModule == "" {
		log.Warn("opa policy rule has no module configured, allowing", "build_id", bc.BuildID)
		return false, ""
	}

	timeout := r.OPATimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := map[string]any{
		"build_id":   bc.BuildID,
		"job_id":     bc.JobID,
		"org_id":     bc.OrgID,
		"branch":     bc.Branch,
		"author":     bc.Author,
		"parameters": bc.Parameters,
		"stage_name": bc.StageName,
	}

	query := r.OPAQuery
	if query == "" {
		query = "data.chengis.allow"
	}

	prepared, err := rego.New(
		rego.Query(query),
		rego.Module("chengis_policy.rego", r.OPAModule),
	).PrepareForEval(evalCtx)
	if err != nil {
		log.Warn("opa module failed to prepare, allowing", "error", err)
		return false, ""
	}

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		if evalCtx.Err() != nil {
			return true, "opa evaluation timed out"
		}
		return true, fmt.Sprintf("opa evaluation error: %v", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return true, "opa query produced no result"
	}

	allow, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return true, "opa query did not return a boolean"
	}
	return !allow, "opa policy denied"
}
