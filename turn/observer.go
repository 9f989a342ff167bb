package turn

import (
	"context"

	"wick_chat/datastream"
	"wick_chat/runevent"
)

// Observer receives per-turn telemetry from the driver. A nil Observer is
// valid and records nothing.
type Observer interface {
	// EventObserved is called once per upstream event after classification.
	EventObserved(ctx context.Context, kind runevent.EventKind)
	// FramePushed is called once per frame accepted by the pipe.
	FramePushed(ctx context.Context, kind datastream.Kind)
	// FrameDropped is called when a frame could not be encoded.
	FrameDropped(ctx context.Context, kind datastream.Kind, err error)
	// TurnEnded is called exactly once when Run returns.
	TurnEnded(ctx context.Context, sum Summary, err error)
}

type nopObserver struct{}

func (nopObserver) EventObserved(context.Context, runevent.EventKind) {}
func (nopObserver) FramePushed(context.Context, datastream.Kind) {}
func (nopObserver) FrameDropped(context.Context, datastream.Kind, error) {}
func (nopObserver) TurnEnded(context.Context, Summary, error) {}
