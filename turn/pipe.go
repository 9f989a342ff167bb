package turn

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Push after the pipe has been closed.
	ErrClosed = errors.New("turn: pipe closed")
	// ErrConsumerGone is returned by Push once the consumer stopped draining.
	ErrConsumerGone = errors.New("turn: consumer gone")
)

// Sink receives encoded frames from a pipe.
type Sink interface {
	WriteFrame(frame []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame []byte) error

func (f SinkFunc) WriteFrame(frame []byte) error { return f(frame) }

// Pipe is the bounded outbound channel of one turn. It has a single producer
// (the driver) and a single consumer (Drain). Push blocks while the buffer is
// full, which backpressures the producer to the consumer's pace.
type Pipe struct {
	frames chan []byte
	done   chan struct{}
	gone   chan struct{}

	closeOnce sync.Once
	goneOnce  sync.Once
	err       error
}

// NewPipe returns a pipe buffering at most capacity frames. A capacity of
// zero makes every Push wait for the consumer.
func NewPipe(capacity int) *Pipe {
	if capacity < 0 {
		capacity = 0
	}
	return &Pipe{
		frames: make(chan []byte, capacity),
		done:   make(chan struct{}),
		gone:   make(chan struct{}),
	}
}

// Push enqueues one frame. It returns ctx.Err() if ctx ends while waiting
// for capacity.
func (p *Pipe) Push(ctx context.Context, frame []byte) error {
	select {
	case <-p.gone:
		return ErrConsumerGone
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.frames <- frame:
		return nil
	case <-p.gone:
		return ErrConsumerGone
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the turn. Frames already pushed are still delivered.
func (p *Pipe) Close() { p.CloseWithError(nil) }

// CloseWithError closes the pipe in an error state. Only the first close
// counts.
func (p *Pipe) CloseWithError(err error) {
	p.closeOnce.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the pipe is closed.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Drain forwards frames to sink in push order until the pipe is closed, then
// returns the close error. If the sink fails or ctx ends, the pipe is
// abandoned and later pushes fail with ErrConsumerGone.
func (p *Pipe) Drain(ctx context.Context, sink Sink) error {
	for {
		select {
		case frame := <-p.frames:
			if err := sink.WriteFrame(frame); err != nil {
				p.abandon()
				return err
			}
		case <-p.done:
			// Deliver whatever was buffered before the close.
			for {
				select {
				case frame := <-p.frames:
					if err := sink.WriteFrame(frame); err != nil {
						p.abandon()
						return err
					}
				default:
					return p.err
				}
			}
		case <-ctx.Done():
			p.abandon()
			return ctx.Err()
		}
	}
}

func (p *Pipe) abandon() {
	p.goneOnce.Do(func() { close(p.gone) })
}
