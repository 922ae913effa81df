package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

func TestSingleWinner_ConcurrentApprovals(t *testing.T) {
	st := store.NewMemory()
	g := New(st, clock.System{})

	gate, err := g.Create(context.Background(), "build-1", "deploy", "approver", "go?", 10)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := g.Approve(context.Background(), gate.ID, "user")
			require.NoError(t, err)
			wins[i] = won
		}(i)
	}
	wg.Wait()

	winCount := 0
	for _, w := range wins {
		if w {
			winCount++
		}
	}
	assert.Equal(t, 1, winCount)

	final, err := st.GetGate(context.Background(), gate.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GateApproved, final.Status)
}

func TestWait_CancellationLeavesGatePending(t *testing.T) {
	st := store.NewMemory()
	g := New(st, clock.System{})

	gate, err := g.Create(context.Background(), "build-1", "deploy", "approver", "go?", 60)
	require.NoError(t, err)

	var cancelled bool
	var mu sync.Mutex
	go func() {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		cancelled = true
		mu.Unlock()
	}()

	outcome, err := g.Wait(context.Background(), gate.ID, 5*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cancelled
	})
	require.NoError(t, err)
	assert.False(t, outcome.Proceed)
	assert.Equal(t, model.GateCancelled, outcome.Status)
	assert.Contains(t, outcome.Reason, "cancelled")

	final, err := st.GetGate(context.Background(), gate.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GatePending, final.Status, "gate must remain pending, not auto-rejected")
}

func TestWait_Approved(t *testing.T) {
	st := store.NewMemory()
	g := New(st, clock.System{})

	gate, err := g.Create(context.Background(), "build-1", "deploy", "approver", "go?", 60)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = g.Approve(context.Background(), gate.ID, "alice")
	}()

	outcome, err := g.Wait(context.Background(), gate.ID, 5*time.Millisecond, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Proceed)
	assert.Equal(t, model.GateApproved, outcome.Status)
}

func TestRoleAllowed(t *testing.T) {
	assert.True(t, RoleAllowed("admin", "approver"))
	assert.False(t, RoleAllowed("viewer", "approver"))
}
