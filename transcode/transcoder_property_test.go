package transcode

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"wick_chat/datastream"
	"wick_chat/runevent"
)

// eventAt builds a deterministic event from a generated code. Every produced
// frame carries the event's position so order can be checked afterwards.
func eventAt(i, code int) runevent.Event {
	tag := fmt.Sprintf("e%d", i)
	switch code {
	case 0:
		return runevent.ModelStreamDelta{Text: tag}
	case 1:
		return runevent.ModelTurnEnd{Text: tag}
	case 2:
		return runevent.ModelTurnEnd{ToolCalls: []runevent.ToolCall{
			{ID: tag + "a", Name: "t", Args: json.RawMessage(`{}`)},
			{ID: tag + "b", Name: "t", Args: json.RawMessage(`{}`)},
		}}
	case 3:
		return runevent.ToolTurnEnd{ToolCallID: tag, Content: json.RawMessage(`"r"`)}
	case 4:
		return runevent.ModelStreamDelta{}
	default:
		return runevent.Unrecognized{Name: tag}
	}
}

func frameOrigin(f datastream.Frame) string {
	switch p := f.Payload.(type) {
	case string:
		return p
	case datastream.ToolCallPayload:
		return p.ToolCallID[:len(p.ToolCallID)-1]
	case datastream.ToolResultPayload:
		return p.ToolCallID
	}
	return ""
}

func TestTranscodeOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("frames follow input order", prop.ForAll(
		func(codes []int) bool {
			st := NewState(Options{})
			last := -1
			for i, code := range codes {
				for _, f := range Transcode(eventAt(i, code), st) {
					if frameOrigin(f) != fmt.Sprintf("e%d", i) {
						return false
					}
					if i < last {
						return false
					}
					last = i
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.Property("completed text reaches the client at most once", prop.ForAll(
		func(codes []int) bool {
			st := NewState(Options{})
			streamed := false
			for i, code := range codes {
				ev := eventAt(i, code)
				frames := Transcode(ev, st)
				if ev.Kind() == runevent.KindModelStreamDelta {
					streamed = true
				}
				if end, ok := ev.(runevent.ModelTurnEnd); ok && end.Text != "" {
					want := 1
					if streamed {
						want = 0
					}
					if len(frames) != want {
						return false
					}
				}
				if st.IsStreaming() != streamed {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.Property("accumulator holds one message per completed text", prop.ForAll(
		func(codes []int) bool {
			st := NewState(Options{})
			want := 0
			for i, code := range codes {
				if code == 1 {
					want++
				}
				Transcode(eventAt(i, code), st)
			}
			return len(st.Drain()) == want && st.Drain() == nil
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
