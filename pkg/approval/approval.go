// Package approval is the approval-gate state machine (component K):
// pending -> approved | rejected | timed-out | cancelled, with a
// concurrency-safe single-winner conditional update for approve/reject and
// a cancellation- and timeout-aware wait loop for the pipeline executor.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

// roleRank orders required-role strings so a caller's role can be checked
// against a gate's RequiredRole before the conditional update is even
// attempted (the 403-at-the-handler check belongs to the control plane;
// this just gives it a rank to compare against).
var roleRank = map[string]int{
	"viewer":    0,
	"developer": 1,
	"approver":  2,
	"admin":     3,
}

// RoleRank returns role's numeric rank, or -1 for an unknown role.
func RoleRank(role string) int {
	r, ok := roleRank[role]
	if !ok {
		return -1
	}
	return r
}

// RoleAllowed reports whether callerRole meets or exceeds requiredRole.
func RoleAllowed(callerRole, requiredRole string) bool {
	return RoleRank(callerRole) >= RoleRank(requiredRole)
}

// Gates performs the store-backed state transitions for approval gates.
type Gates struct {
	st store.Store
	c  clock.Clock
}

// New constructs a Gates backed by st, using c for transition timestamps.
func New(st store.Store, c clock.Clock) *Gates {
	return &Gates{st: st, c: c}
}

// Create opens a new pending gate for a stage.
func (g *Gates) Create(ctx context.Context, buildID, stageName, requiredRole, message string, timeoutMinutes int) (model.ApprovalGate, error) {
	gate := model.ApprovalGate{
		ID:             clock.NewID(g.c),
		BuildID:        buildID,
		StageName:      stageName,
		Status:         model.GatePending,
		RequiredRole:   requiredRole,
		Message:        message,
		TimeoutMinutes: timeoutMinutes,
		CreatedAt:      g.c.Now(),
	}
	if err := g.st.CreateGate(ctx, gate); err != nil {
		return model.ApprovalGate{}, fmt.Errorf("approval: create gate: %w", err)
	}
	return gate, nil
}

// Approve attempts the conditional update
// SET status='approved' WHERE id=gateID AND status='pending'. winner is
// true only for the single caller (among any number of concurrent callers)
// whose update actually flips the row.
func (g *Gates) Approve(ctx context.Context, gateID, user string) (winner bool, err error) {
	n, err := g.st.ApproveGate(ctx, gateID, user, g.c.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("approval: approve %s: %w", gateID, err)
	}
	return n == 1, nil
}

// Reject is Approve's symmetric counterpart.
func (g *Gates) Reject(ctx context.Context, gateID, user string) (winner bool, err error) {
	n, err := g.st.RejectGate(ctx, gateID, user, g.c.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("approval: reject %s: %w", gateID, err)
	}
	return n == 1, nil
}

// WaitOutcome is what the pipeline executor needs from a resolved or timed
// out approval wait.
type WaitOutcome struct {
	Proceed bool
	Status  model.GateStatus
	Reason  string
}

// Wait polls the gate at pollInterval until it reaches a terminal status,
// the gate's own timeout elapses, or cancelled reports true. A cancelled
// build resolves the wait as "cancelled" without writing that status back
// to the gate — the gate itself is left pending in the store, matching the
// "cancellation never auto-rejects" contract.
func (g *Gates) Wait(ctx context.Context, gateID string, pollInterval time.Duration, cancelled func() bool) (WaitOutcome, error) {
	gate, err := g.st.GetGate(ctx, gateID)
	if err != nil {
		return WaitOutcome{}, fmt.Errorf("approval: wait get gate %s: %w", gateID, err)
	}

	deadline := gate.CreatedAt.Add(time.Duration(gate.TimeoutMinutes) * time.Minute)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if cancelled != nil && cancelled() {
			return WaitOutcome{Proceed: false, Status: model.GateCancelled, Reason: "build cancelled while gate pending"}, nil
		}

		gate, err = g.st.GetGate(ctx, gateID)
		if err != nil {
			return WaitOutcome{}, fmt.Errorf("approval: wait refresh gate %s: %w", gateID, err)
		}

		switch gate.Status {
		case model.GateApproved:
			return WaitOutcome{Proceed: true, Status: model.GateApproved}, nil
		case model.GateRejected:
			return WaitOutcome{Proceed: false, Status: model.GateRejected, Reason: "rejected by " + gate.RejectedBy}, nil
		case model.GateTimedOut, model.GateCancelled:
			return WaitOutcome{Proceed: false, Status: gate.Status, Reason: string(gate.Status)}, nil
		}

		if gate.TimeoutMinutes > 0 && g.c.Now().After(deadline) {
			return WaitOutcome{Proceed: false, Status: model.GateTimedOut, Reason: "approval timed out"}, nil
		}

		select {
		case <-ctx.Done():
			return WaitOutcome{Proceed: false, Status: model.GateCancelled, Reason: "context cancelled while gate pending"}, nil
		case <-ticker.C:
		}
	}
}
