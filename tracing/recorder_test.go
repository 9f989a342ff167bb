package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"wick_chat/datastream"
	"wick_chat/runevent"
	"wick_chat/turn"
)

func TestRecorder_TurnLifecycle(t *testing.T) {
	rec, err := NewRecorderWith(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)

	ctx, tr := rec.Start(context.Background(), "chat-1", "gpt-4o")
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() {
		tr.EventObserved(ctx, runevent.KindModelStreamDelta)
		tr.FramePushed(ctx, datastream.KindTextDelta)
		tr.FrameDropped(ctx, datastream.KindToolCall, datastream.ErrEncode)
		tr.TurnEnded(ctx, turn.Summary{Events: 1, Frames: 1, Dropped: 1}, errors.New("upstream"))
	})
}

func TestNewRecorder_GlobalProviders(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)
	_, tr := rec.Start(context.Background(), "c", "m")
	tr.TurnEnded(context.Background(), turn.Summary{}, nil)
}
