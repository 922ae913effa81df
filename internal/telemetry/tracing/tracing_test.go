package tracing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpan_RecordsParentChildAndAttributes(t *testing.T) {
	var mu sync.Mutex
	var spans []Span

	p := Setup("chengis-test", 1.0, func(s Span) {
		mu.Lock()
		defer mu.Unlock()
		spans = append(spans, s)
	})
	defer p.Shutdown(context.Background())

	ctx, parent := p.StartSpan(context.Background(), "build", map[string]string{"build_id": "b1"})
	_, child := p.StartSpan(ctx, "stage", map[string]string{"stage_name": "test"})
	EndOK(child)
	EndOK(parent)

	require.NoError(t, p.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, spans, 2)

	var childSpan, parentSpan Span
	for _, s := range spans {
		if s.Name == "stage" {
			childSpan = s
		} else {
			parentSpan = s
		}
	}
	assert.Equal(t, parentSpan.SpanID, childSpan.ParentSpanID)
	assert.Equal(t, parentSpan.TraceID, childSpan.TraceID)
	assert.True(t, childSpan.StatusOK)
}

func TestEndError_RecordsFailure(t *testing.T) {
	var mu sync.Mutex
	var spans []Span

	p := Setup("chengis-test", 1.0, func(s Span) {
		mu.Lock()
		defer mu.Unlock()
		spans = append(spans, s)
	})

	_, span := p.StartSpan(context.Background(), "step", nil)
	EndError(span, assertErr{})

	require.NoError(t, p.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, spans, 1)
	assert.False(t, spans[0].StatusOK)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestNoopProvider_DoesNotPanic(t *testing.T) {
	p := NoopProvider()
	_, span := p.StartSpan(context.Background(), "noop", nil)
	EndOK(span)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_SampleRatioZeroDropsSpans(t *testing.T) {
	var mu sync.Mutex
	var spans []Span

	p := Setup("chengis-test", 0.0, func(s Span) {
		mu.Lock()
		defer mu.Unlock()
		spans = append(spans, s)
	})
	_, span := p.StartSpan(context.Background(), "dropped", nil)
	EndOK(span)
	require.NoError(t, p.Shutdown(context.Background()))

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, spans)
}
