// Package turn drives one chat turn: it pulls run events from the upstream
// source, transcodes them and pushes encoded frames to a bounded pipe, then
// hands the completed assistant messages to a persister.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"goa.design/clue/log"

	"wick_chat/datastream"
	"wick_chat/runevent"
	"wick_chat/transcode"
)

// DefaultPersistTimeout bounds the persistence call made after the stream closes.
const DefaultPersistTimeout = 10 * time.Second

// Source is an upstream agent run. Next returns io.EOF once the run is
// exhausted. Close releases the run and may be called at any time.
type Source interface {
	Next(ctx context.Context) (runevent.RunEvent, error)
	Close() error
}

// Persister stores the messages completed during a turn.
type Persister interface {
	Persist(ctx context.Context, msgs []transcode.Message) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, msgs []transcode.Message) error

func (f PersisterFunc) Persist(ctx context.Context, msgs []transcode.Message) error {
	return f(ctx, msgs)
}

// Options configures a Driver.
type Options struct {
	Transcode      transcode.Options
	PersistTimeout time.Duration
}

// Summary describes a finished turn.
type Summary struct {
	Events       int
	Unrecognized int
	Frames       int
	Dropped      int
	Persisted    int
	Streamed     bool
}

// Driver runs turns. A Driver holds no per-turn state and may run many turns
// concurrently.
type Driver struct {
	Persister Persister
	Observer  Observer
	Options   Options

	// encode is swapped in tests to exercise the drop path.
	encode func(datastream.Frame) ([]byte, error)
}

// Run processes src to completion, pushing frames to pipe in event order.
// The pipe is always closed when Run returns: cleanly on upstream exhaustion,
// with an error otherwise. Messages are persisted only after a clean close.
func (d *Driver) Run(ctx context.Context, src Source, pipe *Pipe) (sum Summary, err error) {
	obs := d.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	encode := d.encode
	if encode == nil {
		encode = datastream.Encode
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Debug(ctx, log.KV{K: "msg", V: "close run"}, log.KV{K: "err", V: cerr.Error()})
		}
		obs.TurnEnded(ctx, sum, err)
	}()

	st := transcode.NewState(d.Options.Transcode)
	for {
		if cerr := ctx.Err(); cerr != nil {
			pipe.CloseWithError(cerr)
			return sum, cerr
		}
		raw, nerr := src.Next(ctx)
		if errors.Is(nerr, io.EOF) {
			break
		}
		if nerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				nerr = cerr
			} else {
				nerr = fmt.Errorf("upstream run: %w", nerr)
			}
			pipe.CloseWithError(nerr)
			return sum, nerr
		}

		sum.Events++
		ev := runevent.Classify(raw)
		obs.EventObserved(ctx, ev.Kind())
		if u, ok := ev.(runevent.Unrecognized); ok {
			sum.Unrecognized++
			log.Debug(ctx, log.KV{K: "msg", V: "unrecognized run event"},
				log.KV{K: "event", V: u.Name}, log.KV{K: "reason", V: u.Reason})
			continue
		}

		for _, f := range transcode.Transcode(ev, st) {
			b, eerr := encode(f)
			if eerr != nil {
				sum.Dropped++
				obs.FrameDropped(ctx, f.Kind, eerr)
				log.Error(ctx, eerr, log.KV{K: "frame", V: f.Kind.String()})
				continue
			}
			if perr := pipe.Push(ctx, b); perr != nil {
				pipe.CloseWithError(perr)
				return sum, perr
			}
			sum.Frames++
			obs.FramePushed(ctx, f.Kind)
		}
	}

	pipe.Close()
	sum.Streamed = st.IsStreaming()
	msgs := st.Drain()
	if d.Persister == nil {
		return sum, nil
	}

	timeout := d.Options.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	// The client may already be gone; persistence must not inherit its cancellation.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if perr := d.Persister.Persist(pctx, msgs); perr != nil {
		log.Error(ctx, perr, log.KV{K: "msg", V: "persist turn"}, log.KV{K: "messages", V: len(msgs)})
		return sum, nil
	}
	sum.Persisted = len(msgs)
	return sum, nil
}
