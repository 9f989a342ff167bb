// Package transcode turns classified run events into data-stream frames.
//
// All mutable state lives in a State value owned by a single turn. The
// package keeps nothing at package level, so concurrent turns never share
// a streaming flag or an accumulator.
package transcode

import "wick_chat/runevent"

// Options tune per-turn behavior.
type Options struct {
	// PersistToolInvocations records tool calls and their results on the
	// accumulator. Off by default: only completed assistant text is kept.
	PersistToolInvocations bool
}

// Tracker records whether token-level streaming has started in this turn.
type Tracker struct {
	streaming bool
}

// Observe sets the streaming flag when kind is a model stream delta. The flag
// is never cleared.
func (t *Tracker) Observe(kind runevent.EventKind) {
	if kind == runevent.KindModelStreamDelta {
		t.streaming = true
	}
}

// IsStreaming reports whether a delta has been observed.
func (t *Tracker) IsStreaming() bool { return t.streaming }

// State is the per-turn state threaded through Transcode.
type State struct {
	opts    Options
	tracker Tracker
	acc     Accumulator
}

// NewState returns fresh state for one turn.
func NewState(opts Options) *State {
	return &State{opts: opts}
}

// IsStreaming reports the turn's streaming flag.
func (s *State) IsStreaming() bool { return s.tracker.IsStreaming() }

// Accumulator exposes the turn's accumulator.
func (s *State) Accumulator() *Accumulator { return &s.acc }

// Drain hands off the accumulated messages. See Accumulator.Drain.
func (s *State) Drain() []Message { return s.acc.Drain() }
