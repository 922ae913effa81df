package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

func TestPublish_CriticalDeliveredAndPersisted(t *testing.T) {
	st := store.NewMemory()
	b := New(st, 4, 50*time.Millisecond)

	sub := b.Subscribe("build-1")
	defer sub.Close()

	evt := model.BuildEvent{ID: "01", BuildID: "build-1", EventType: model.EventBuildStarted, CreatedAt: time.Now()}
	res := b.Publish(context.Background(), evt)
	assert.Equal(t, Delivered, res)

	select {
	case got := <-sub.Events:
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscriber channel")
	}

	events, err := st.ListEvents(context.Background(), "build-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPublish_NonCriticalDroppedWhenFull(t *testing.T) {
	st := store.NewMemory()
	b := New(st, 1, 10*time.Millisecond)

	sub := b.Subscribe("build-1")
	defer sub.Close()

	fill := model.BuildEvent{ID: "01", BuildID: "build-1", EventType: model.EventLogLine}
	res := b.Publish(context.Background(), fill)
	assert.Equal(t, Delivered, res)

	overflow := model.BuildEvent{ID: "02", BuildID: "build-1", EventType: model.EventLogLine}
	res = b.Publish(context.Background(), overflow)
	assert.Equal(t, Dropped, res)
}

func TestPublish_CriticalTimesOutWhenFull(t *testing.T) {
	st := store.NewMemory()
	b := New(st, 1, 10*time.Millisecond)

	sub := b.Subscribe("build-1")
	defer sub.Close()

	fill := model.BuildEvent{ID: "01", BuildID: "build-1", EventType: model.EventStageStarted}
	res := b.Publish(context.Background(), fill)
	assert.Equal(t, Delivered, res)

	overflow := model.BuildEvent{ID: "02", BuildID: "build-1", EventType: model.EventStageStarted}
	res = b.Publish(context.Background(), overflow)
	assert.Equal(t, TimedOut, res)
}

func TestPublish_BuildCompletedForwardsToGlobal(t *testing.T) {
	st := store.NewMemory()
	b := New(st, 4, 50*time.Millisecond)

	global := b.SubscribeGlobal()
	defer global.Close()

	evt := model.BuildEvent{ID: "01", BuildID: "build-1", EventType: model.EventBuildCompleted}
	b.Publish(context.Background(), evt)

	select {
	case got := <-global.Events:
		assert.Equal(t, "build-1", got.BuildID)
	case <-time.After(time.Second):
		t.Fatal("expected build-completed forwarded to global topic")
	}
}

func TestReplay_OrdersByID(t *testing.T) {
	st := store.NewMemory()
	b := New(st, 4, 50*time.Millisecond)

	ctx := context.Background()
	b.Publish(ctx, model.BuildEvent{ID: "02", BuildID: "b", EventType: model.EventLogLine})
	b.Publish(ctx, model.BuildEvent{ID: "01", BuildID: "b", EventType: model.EventLogLine})
	b.Publish(ctx, model.BuildEvent{ID: "03", BuildID: "b", EventType: model.EventLogLine})

	events, err := b.Replay(ctx, "b")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"01", "02", "03"}, []string{events[0].ID, events[1].ID, events[2].ID})
}
