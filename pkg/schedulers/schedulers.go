// Package schedulers is the retention/rotation/analytics background
// scheduler subsystem (component P): long-running ticker-driven loops
// with graceful start/stop, plus the concrete retention, rotation, and
// analytics tasks that ride on the same loop.
package schedulers

import (
	"context"
	"fmt"
	"time"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/secrets"
	"github.com/sremani/chengis/pkg/store"
)

var log = logging.New("schedulers")

// Task is one unit of scheduled work. A returned error is logged, not
// fatal: the loop keeps ticking.
type Task func(ctx context.Context) error

// Loop runs a Task on a fixed interval until stopped. Stop blocks until
// any in-flight tick finishes, the same "no operation spins, everything
// sleeps between ticks" shape the cron/approval-gate pollers use.
type Loop struct {
	name     string
	interval time.Duration
	task     Task

	stop chan struct{}
	done chan struct{}
}

// NewLoop constructs a Loop. It does not start running until Start is
// called.
func NewLoop(name string, interval time.Duration, task Task) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		task:     task,
	}
}

// Start runs the loop in its own goroutine until Stop is called or ctx is
// cancelled. Calling Start more than once has undefined effect; callers
// own a Loop's lifecycle single-threaded.
func (l *Loop) Start(ctx context.Context) {
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				if err := l.task(ctx); err != nil {
					log.Error("scheduler task failed", "loop", l.name, "error", err)
				}
			}
		}
	}()
}

// Stop signals the loop to exit and blocks until its goroutine has
// returned (so an in-flight tick completes before Stop returns).
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// RetentionConfig bounds how long webhook deliveries are kept.
type RetentionConfig struct {
	WebhookRetention time.Duration
}

// RetentionTask deletes webhook deliveries older than cfg.WebhookRetention.
// A zero WebhookRetention disables webhook pruning (never deletes).
func RetentionTask(st store.Store, clk clock.Clock, cfg RetentionConfig) Task {
	return func(ctx context.Context) error {
		if cfg.WebhookRetention <= 0 {
			return nil
		}
		payloads, err := st.ListWebhookPayloads(ctx, "")
		if err != nil {
			return fmt.Errorf("schedulers: retention list webhook payloads: %w", err)
		}
		cutoff := clk.Now().Add(-cfg.WebhookRetention)
		var deleted, failed int
		for _, p := range payloads {
			if p.ReceivedAt.After(cutoff) {
				continue
			}
			if err := st.DeleteWebhookPayload(ctx, p.ID); err != nil {
				failed++
				log.Error("retention failed to delete webhook payload", "id", p.ID, "error", err)
				continue
			}
			deleted++
		}
		if deleted > 0 || failed > 0 {
			log.Info("webhook retention pass complete", "deleted", deleted, "failed", failed)
		}
		return nil
	}
}

// RotateFunc performs one secret/key rotation cycle (e.g. re-encrypting
// stored secrets under a new master key, or issuing a new signing key).
// The rotation mechanics themselves are the caller's concern; this package
// only supplies the scheduling loop around them.
type RotateFunc func(ctx context.Context) error

// SealedSecret is one secret value at rest, identified for write-back.
type SealedSecret struct {
	ID     string
	Label  string
	Sealed []byte
}

// SecretSource lists every secret due for rotation.
type SecretSource func(ctx context.Context) ([]SealedSecret, error)

// SecretSink persists a secret's newly re-sealed value.
type SecretSink func(ctx context.Context, id string, resealed []byte) error

// SecretRotateFunc builds a RotateFunc that re-seals every secret source
// returns from oldKey to newKey via pkg/secrets.Rotate, writing each
// result back through sink. A single secret's rotation failure is logged
// and skipped rather than aborting the whole cycle, so one malformed
// stored value cannot block every other secret's rotation.
func SecretRotateFunc(source SecretSource, sink SecretSink, oldKey, newKey []byte) RotateFunc {
	return func(ctx context.Context) error {
		pending, err := source(ctx)
		if err != nil {
			return fmt.Errorf("schedulers: secret rotation: list secrets: %w", err)
		}
		var rotated, failed int
		for _, s := range pending {
			resealed, err := secrets.Rotate(oldKey, newKey, s.Sealed, s.Label)
			if err != nil {
				failed++
				log.Error("secret rotation failed for one secret", "id", s.ID, "error", err)
				continue
			}
			if err := sink(ctx, s.ID, resealed); err != nil {
				failed++
				log.Error("secret rotation write-back failed", "id", s.ID, "error", err)
				continue
			}
			rotated++
		}
		log.Info("secret rotation cycle complete", "rotated", rotated, "failed", failed)
		return nil
	}
}

// RotationTask wraps rotate with logging so a caller only has to supply
// the rotation mechanics, not the scheduling boilerplate.
func RotationTask(rotate RotateFunc) Task {
	return func(ctx context.Context) error {
		if err := rotate(ctx); err != nil {
			return fmt.Errorf("schedulers: rotation: %w", err)
		}
		log.Info("secret rotation cycle complete")
		return nil
	}
}

// AnalyticsSnapshot is one periodic sample of build-analytics-relevant
// counters, handed to a caller-supplied sink (a dashboard store, a metrics
// exporter) rather than persisted by this package.
type AnalyticsSnapshot struct {
	TakenAt         time.Time
	AuditEntryCount int
	WebhookCount    int
}

// AnalyticsSink receives each computed snapshot.
type AnalyticsSink func(ctx context.Context, snap AnalyticsSnapshot) error

// AnalyticsTask computes a snapshot of current audit/webhook volume and
// hands it to sink on every tick.
func AnalyticsTask(st store.Store, clk clock.Clock, sink AnalyticsSink) Task {
	return func(ctx context.Context) error {
		audit, err := st.ListAudit(ctx)
		if err != nil {
			return fmt.Errorf("schedulers: analytics list audit: %w", err)
		}
		webhooks, err := st.ListWebhookPayloads(ctx, "")
		if err != nil {
			return fmt.Errorf("schedulers: analytics list webhooks: %w", err)
		}
		snap := AnalyticsSnapshot{
			TakenAt:         clk.Now(),
			AuditEntryCount: len(audit),
			WebhookCount:    len(webhooks),
		}
		if err := sink(ctx, snap); err != nil {
			return fmt.Errorf("schedulers: analytics sink: %w", err)
		}
		return nil
	}
}
