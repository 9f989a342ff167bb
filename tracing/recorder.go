// Package tracing records chat turns with OpenTelemetry. It uses the global
// tracer and meter providers, which are no-ops unless the process configures
// an exporter.
package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"wick_chat/datastream"
	"wick_chat/runevent"
	"wick_chat/turn"
)

const instrumentationName = "wick_chat"

// Recorder creates per-turn observers.
type Recorder struct {
	tracer  trace.Tracer
	events  metric.Int64Counter
	frames  metric.Int64Counter
	dropped metric.Int64Counter
}

// NewRecorder builds a recorder on the global providers.
func NewRecorder() (*Recorder, error) {
	return NewRecorderWith(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewRecorderWith builds a recorder on explicit providers.
func NewRecorderWith(tp trace.TracerProvider, mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(instrumentationName)
	events, err := meter.Int64Counter("wickchat.turn.events", metric.WithDescription("Run events received per kind"))
	if err != nil {
		return nil, err
	}
	frames, err := meter.Int64Counter("wickchat.turn.frames", metric.WithDescription("Frames pushed per kind"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("wickchat.turn.dropped", metric.WithDescription("Frames dropped on encoding failure"))
	if err != nil {
		return nil, err
	}
	return &Recorder{tracer: tp.Tracer(instrumentationName), events: events, frames: frames, dropped: dropped}, nil
}

// Start opens the chat.turn span. The returned Turn must be handed to the
// driver as its Observer; the span ends when the turn ends.
func (r *Recorder) Start(ctx context.Context, chatID, modelID string) (context.Context, *Turn) {
	ctx, span := r.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("chat.model", modelID),
	))
	return ctx, &Turn{rec: r, span: span, model: attribute.String("chat.model", modelID)}
}

// Turn observes one turn. It implements turn.Observer.
type Turn struct {
	rec   *Recorder
	span  trace.Span
	model attribute.KeyValue
}

var _ turn.Observer = (*Turn)(nil)

func (t *Turn) EventObserved(ctx context.Context, kind runevent.EventKind) {
	t.rec.events.Add(ctx, 1, metric.WithAttributes(t.model, attribute.String("kind", kind.String())))
}

func (t *Turn) FramePushed(ctx context.Context, kind datastream.Kind) {
	t.rec.frames.Add(ctx, 1, metric.WithAttributes(t.model, attribute.String("kind", kind.String())))
}

func (t *Turn) FrameDropped(ctx context.Context, kind datastream.Kind, err error) {
	t.rec.dropped.Add(ctx, 1, metric.WithAttributes(t.model, attribute.String("kind", kind.String())))
	t.span.AddEvent("frame.dropped", trace.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("error", err.Error()),
	))
}

func (t *Turn) TurnEnded(_ context.Context, sum turn.Summary, err error) {
	t.span.SetAttributes(
		attribute.Int("turn.events", sum.Events),
		attribute.Int("turn.unrecognized", sum.Unrecognized),
		attribute.Int("turn.frames", sum.Frames),
		attribute.Int("turn.dropped", sum.Dropped),
		attribute.Int("turn.persisted", sum.Persisted),
		attribute.Bool("turn.streamed", sum.Streamed),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
}
