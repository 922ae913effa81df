// Package bus is the event bus (component D): a per-build topic plus a
// global topic, publishing with critical/non-critical backpressure
// semantics, durable persistence, and id-ordered replay.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

var log = logging.New("bus")

// PublishResult reports what happened to an event on the broadcast path.
// Persistence to the Store is independent of this result: an event is
// always attempted to be persisted regardless of broadcast outcome.
type PublishResult string

const (
	// Delivered means every current subscriber received the event.
	Delivered PublishResult = "delivered"
	// Dropped means a non-critical event was discarded because a
	// subscriber's channel was full.
	Dropped PublishResult = "dropped"
	// TimedOut means a critical event could not be delivered to at least
	// one subscriber within CriticalTimeout.
	TimedOut PublishResult = "timeout"
)

const globalTopic = "global"

// Bus fans build events out to per-build and global topic subscribers and
// persists every event to the Store.
type Bus struct {
	st              store.Store
	bufferSize      int
	criticalTimeout time.Duration

	mu          sync.RWMutex
	subscribers map[string][]chan model.BuildEvent // topic (buildID or "global") -> subscriber channels
}

// New constructs a Bus. bufferSize sizes each subscriber channel;
// criticalTimeout bounds how long a critical-event publish blocks on a full
// subscriber channel before giving up.
func New(st store.Store, bufferSize int, criticalTimeout time.Duration) *Bus {
	return &Bus{
		st:              st,
		bufferSize:      bufferSize,
		criticalTimeout: criticalTimeout,
		subscribers:     make(map[string][]chan model.BuildEvent),
	}
}

// Subscription is a live handle on a topic's event stream.
type Subscription struct {
	Events <-chan model.BuildEvent
	cancel func()
}

// Close unsubscribes and releases the channel. Safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Subscribe returns a Subscription to buildID's per-build topic.
func (b *Bus) Subscribe(buildID string) *Subscription {
	return b.subscribeTopic(buildID)
}

// SubscribeGlobal returns a Subscription to the global topic, which only
// ever carries build-completed events.
func (b *Bus) SubscribeGlobal() *Subscription {
	return b.subscribeTopic(globalTopic)
}

func (b *Bus) subscribeTopic(topic string) *Subscription {
	ch := make(chan model.BuildEvent, b.bufferSize)
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	return &Subscription{
		Events: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[topic]
			for i, s := range subs {
				if s == ch {
					b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		},
	}
}

// Publish persists event to the Store and broadcasts it on event.BuildID's
// topic. Critical event types (see model.EventType.IsCritical) block up to
// CriticalTimeout per subscriber before giving up and reporting TimedOut;
// non-critical events are dropped on any subscriber whose channel is full.
// build-completed is additionally forwarded to the global topic.
//
// Persistence happens before the broadcast is attempted; if it fails, a
// warning is logged and the broadcast still proceeds — the channel is the
// source of liveness, the Store is the source of durability.
func (b *Bus) Publish(ctx context.Context, event model.BuildEvent) PublishResult {
	if err := b.st.AppendEvent(ctx, event); err != nil {
		log.Warn("event persistence failed", "build_id", event.BuildID, "event_type", event.EventType, "error", err)
	}

	result := b.broadcast(event.BuildID, event)

	if event.EventType == model.EventBuildCompleted {
		if g := b.broadcast(globalTopic, event); g == TimedOut {
			result = TimedOut
		}
	}

	return result
}

func (b *Bus) broadcast(topic string, event model.BuildEvent) PublishResult {
	b.mu.RLock()
	subs := append([]chan model.BuildEvent(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return Delivered
	}

	critical := event.EventType.IsCritical()
	result := Delivered

	for _, ch := range subs {
		if critical {
			timer := time.NewTimer(b.criticalTimeout)
			select {
			case ch <- event:
			case <-timer.C:
				result = TimedOut
			}
			timer.Stop()
			continue
		}

		select {
		case ch <- event:
		default:
			result = Dropped
		}
	}

	return result
}

// Replay returns the events for buildID in id order: the authoritative
// sequence that channel ordering is required to match.
func (b *Bus) Replay(ctx context.Context, buildID string) ([]model.BuildEvent, error) {
	return b.st.ListEvents(ctx, buildID)
}
