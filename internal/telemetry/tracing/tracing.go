// Package tracing is the tracing subsystem (component V): a span tree with
// parent/child relationships and sampling, built on the OpenTelemetry SDK,
// exported in an OTLP-shaped record for local persistence rather than over
// the network (no collector endpoint is assumed by this spec).
package tracing

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sremani/chengis/internal/telemetry/logging"
)

var log = logging.New("tracing")

// Span is the OTLP-shaped record persisted for one completed span: enough
// to reconstruct the parent/child tree and render a waterfall without
// depending on the OTel SDK's internal types.
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Name         string
	StartTime    time.Time
	EndTime      time.Time
	Attributes   map[string]string
	StatusOK     bool
}

// Sink receives every completed span. The pipeline executor and other
// subsystems register one to persist spans (e.g. to the Store) or forward
// them to a real OTLP collector later without this package knowing about
// storage.
type Sink func(Span)

// recordingExporter adapts sdktrace.SpanExporter to a Sink, converting each
// OTel ReadOnlySpan into our persisted Span shape.
type recordingExporter struct {
	mu   sync.Mutex
	sink Sink
}

func (e *recordingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return nil
	}
	for _, s := range spans {
		attrs := make(map[string]string, len(s.Attributes()))
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		parent := ""
		if s.Parent().IsValid() {
			parent = spanIDHex(s.Parent().SpanID())
		}
		sink(Span{
			TraceID:      traceIDHex(s.SpanContext().TraceID()),
			SpanID:       spanIDHex(s.SpanContext().SpanID()),
			ParentSpanID: parent,
			Name:         s.Name(),
			StartTime:    s.StartTime(),
			EndTime:      s.EndTime(),
			Attributes:   attrs,
			StatusOK:     s.Status().Code != codes.Error,
		})
	}
	return nil
}

func (e *recordingExporter) Shutdown(ctx context.Context) error { return nil }

func traceIDHex(id trace.TraceID) string { return hex.EncodeToString(id[:]) }
func spanIDHex(id trace.SpanID) string    { return hex.EncodeToString(id[:]) }

// Provider owns the SDK tracer provider and the service's named tracer.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup builds a Provider sampling at sampleRatio ([0,1]; 1 = always
// sample), forwarding every completed span to sink. Feature flag `tracing`
// off should make callers skip Setup entirely and use NoopProvider instead.
func Setup(serviceName string, sampleRatio float64, sink Sink) *Provider {
	exporter := &recordingExporter{sink: sink}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(serviceName)}
}

// NoopProvider returns a Provider backed by the OTel no-op implementation,
// for when tracing is feature-flagged off.
func NoopProvider() *Provider {
	return &Provider{tracer: trace.NewNoopTracerProvider().Tracer("chengis")}
}

// Shutdown flushes any buffered spans and stops the batch exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		log.Warn("tracer provider shutdown failed", "error", err)
		return err
	}
	return nil
}

// StartSpan starts a child span named name under the span (if any) carried
// in ctx, tagging it with attrs, and returns the span-carrying context and
// the span itself; callers must call span.End() or pass the span to
// EndOK/EndError.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, trace.Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(kvs...))
}

// EndOK ends span successfully.
func EndOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
	span.End()
}

// EndError ends span recording err as its failure reason.
func EndError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
