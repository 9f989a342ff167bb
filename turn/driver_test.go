package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wick_chat/datastream"
	"wick_chat/runevent"
	"wick_chat/transcode"
)

type fakeSource struct {
	events []runevent.RunEvent
	err    error // returned after events are exhausted, io.EOF when nil
	pos    int
	closed bool
	block  bool // block on Next until ctx ends once events run out
}

func (s *fakeSource) Next(ctx context.Context) (runevent.RunEvent, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.block {
		<-ctx.Done()
		return runevent.RunEvent{}, ctx.Err()
	}
	if s.err != nil {
		return runevent.RunEvent{}, s.err
	}
	return runevent.RunEvent{}, io.EOF
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func delta(text string) runevent.RunEvent {
	b, _ := json.Marshal(map[string]any{"chunk": map[string]any{"content": text}})
	return runevent.RunEvent{Name: runevent.NameChatModelStream, Payload: b}
}

func modelEnd(text string) runevent.RunEvent {
	b, _ := json.Marshal(map[string]any{"output": map[string]any{"content": text, "tool_calls": []any{}}})
	return runevent.RunEvent{Name: runevent.NameChatModelEnd, Payload: b}
}

func toolEnd(id, content string) runevent.RunEvent {
	b, _ := json.Marshal(map[string]any{"output": map[string]any{"tool_call_id": id, "content": content}})
	return runevent.RunEvent{Name: runevent.NameToolEnd, Payload: b}
}

// runTurn drives src and drains the pipe concurrently, the way a handler does.
func runTurn(t *testing.T, ctx context.Context, d *Driver, src Source, capacity int) (Summary, error, []string, error) {
	t.Helper()
	pipe := NewPipe(capacity)
	sink := &recordingSink{}
	drained := make(chan error, 1)
	go func() { drained <- pipe.Drain(ctx, sink) }()
	sum, err := d.Run(ctx, src, pipe)
	derr := <-drained
	return sum, err, sink.got(), derr
}

func TestDriver_StreamedTurn(t *testing.T) {
	src := &fakeSource{events: []runevent.RunEvent{
		{Name: "on_chain_start", Payload: json.RawMessage(`{}`)},
		delta("Hel"),
		delta("lo"),
		modelEnd("Hello"),
	}}

	var persisted []transcode.Message
	d := &Driver{Persister: PersisterFunc(func(_ context.Context, msgs []transcode.Message) error {
		persisted = msgs
		return nil
	})}

	sum, err, frames, derr := runTurn(t, context.Background(), d, src, 2)
	require.NoError(t, err)
	require.NoError(t, derr)
	assert.Equal(t, []string{"0:\"Hel\"\n", "0:\"lo\"\n"}, frames)
	require.Len(t, persisted, 1)
	assert.Equal(t, "Hello", persisted[0].Content)
	assert.True(t, src.closed)
	assert.Equal(t, Summary{Events: 4, Unrecognized: 1, Frames: 2, Persisted: 1, Streamed: true}, sum)
}

func TestDriver_ToolTurn(t *testing.T) {
	calls, _ := json.Marshal(map[string]any{"output": map[string]any{
		"content": "",
		"tool_calls": []any{
			map[string]any{"id": "c1", "name": "search", "args": map[string]any{"q": "x"}},
		},
	}})
	src := &fakeSource{events: []runevent.RunEvent{
		{Name: runevent.NameChatModelEnd, Payload: calls},
		toolEnd("c1", "42"),
		modelEnd("It is 42."),
	}}

	_, err, frames, _ := runTurn(t, context.Background(), &Driver{}, src, 8)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`9:{"toolCallId":"c1","toolName":"search","args":{"q":"x"}}` + "\n",
		`a:{"toolCallId":"c1","result":"42"}` + "\n",
		"0:\"It is 42.\"\n",
	}, frames)
}

func TestDriver_PersistsAfterClose(t *testing.T) {
	pipe := NewPipe(4)
	closedFirst := false
	d := &Driver{Persister: PersisterFunc(func(ctx context.Context, _ []transcode.Message) error {
		select {
		case <-pipe.Done():
			closedFirst = true
		default:
		}
		return nil
	})}

	_, err := d.Run(context.Background(), &fakeSource{events: []runevent.RunEvent{modelEnd("x")}}, pipe)
	require.NoError(t, err)
	assert.True(t, closedFirst)
}

func TestDriver_PersistenceFailureIsNotFatal(t *testing.T) {
	calls := 0
	d := &Driver{Persister: PersisterFunc(func(context.Context, []transcode.Message) error {
		calls++
		return errors.New("db down")
	})}

	sum, err, frames, derr := runTurn(t, context.Background(), d, &fakeSource{events: []runevent.RunEvent{modelEnd("Done")}}, 1)
	require.NoError(t, err)
	require.NoError(t, derr)
	assert.Equal(t, []string{"0:\"Done\"\n"}, frames)
	assert.Equal(t, 1, calls)
	assert.Zero(t, sum.Persisted)
}

func TestDriver_PersistDetachedFromCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var persistErr error
	d := &Driver{
		Options: Options{PersistTimeout: time.Second},
		Persister: PersisterFunc(func(pctx context.Context, _ []transcode.Message) error {
			cancel()
			persistErr = pctx.Err()
			_, hasDeadline := pctx.Deadline()
			assert.True(t, hasDeadline)
			return nil
		}),
	}
	_, err := d.Run(ctx, &fakeSource{events: []runevent.RunEvent{modelEnd("x")}}, NewPipe(4))
	require.NoError(t, err)
	assert.NoError(t, persistErr)
}

func TestDriver_UpstreamFailure(t *testing.T) {
	boom := errors.New("connection reset")
	persisted := false
	d := &Driver{Persister: PersisterFunc(func(context.Context, []transcode.Message) error {
		persisted = true
		return nil
	})}
	src := &fakeSource{events: []runevent.RunEvent{delta("par")}, err: boom}

	_, err, frames, derr := runTurn(t, context.Background(), d, src, 4)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, derr, boom, "pipe closes in an error state")
	assert.Equal(t, []string{"0:\"par\"\n"}, frames)
	assert.False(t, persisted)
	assert.True(t, src.closed)
}

func TestDriver_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{events: []runevent.RunEvent{delta("a")}, block: true}
	pipe := NewPipe(4)

	done := make(chan error, 1)
	go func() {
		_, err := (&Driver{}).Run(ctx, src, pipe)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
	assert.True(t, src.closed)
}

func TestDriver_ConsumerGone(t *testing.T) {
	events := make([]runevent.RunEvent, 10)
	for i := range events {
		events[i] = delta("x")
	}
	src := &fakeSource{events: events}
	pipe := NewPipe(0)
	sink := &recordingSink{err: errors.New("broken pipe")}

	go func() { _ = pipe.Drain(context.Background(), sink) }()
	sum, err := (&Driver{}).Run(context.Background(), src, pipe)
	assert.ErrorIs(t, err, ErrConsumerGone)
	assert.Less(t, src.pos, len(events), "driver stops pulling")
	assert.Equal(t, 1, sum.Frames)
}

func TestDriver_EncodingFailureDropsOneFrame(t *testing.T) {
	d := &Driver{encode: func(f datastream.Frame) ([]byte, error) {
		if f.Payload == "bad" {
			return nil, datastream.ErrEncode
		}
		return datastream.Encode(f)
	}}
	src := &fakeSource{events: []runevent.RunEvent{delta("a"), delta("bad"), delta("c")}}

	sum, err, frames, _ := runTurn(t, context.Background(), d, src, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"0:\"a\"\n", "0:\"c\"\n"}, frames)
	assert.Equal(t, 1, sum.Dropped)
}

func TestDriver_Backpressure(t *testing.T) {
	events := make([]runevent.RunEvent, 20)
	for i := range events {
		events[i] = delta("x")
	}
	src := &fakeSource{events: events}
	pipe := NewPipe(2)

	done := make(chan struct{})
	go func() {
		_, _ = (&Driver{}).Run(context.Background(), src, pipe)
		close(done)
	}()

	// Without a consumer the driver can get at most capacity+1 events ahead.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("driver finished without a consumer")
	default:
	}

	require.NoError(t, pipe.Drain(context.Background(), &recordingSink{}))
	<-done
}

type countingObserver struct {
	mu      sync.Mutex
	events  int
	frames  int
	dropped int
	ended   int
	sum     Summary
}

func (o *countingObserver) EventObserved(context.Context, runevent.EventKind) {
	o.mu.Lock()
	o.events++
	o.mu.Unlock()
}

func (o *countingObserver) FramePushed(context.Context, datastream.Kind) {
	o.mu.Lock()
	o.frames++
	o.mu.Unlock()
}

func (o *countingObserver) FrameDropped(context.Context, datastream.Kind, error) {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func (o *countingObserver) TurnEnded(_ context.Context, sum Summary, _ error) {
	o.mu.Lock()
	o.ended++
	o.sum = sum
	o.mu.Unlock()
}

func TestDriver_Observer(t *testing.T) {
	obs := &countingObserver{}
	d := &Driver{Observer: obs}
	src := &fakeSource{events: []runevent.RunEvent{delta("a"), delta("b"), modelEnd("ab")}}

	sum, err, _, _ := runTurn(t, context.Background(), d, src, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, obs.events)
	assert.Equal(t, 2, obs.frames)
	assert.Equal(t, 1, obs.ended)
	assert.Equal(t, sum, obs.sum)
}
