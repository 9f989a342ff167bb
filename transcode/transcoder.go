package transcode

import (
	"wick_chat/datastream"
	"wick_chat/runevent"
)

// Transcode maps one classified event to zero or more frames, updating st.
//
//   - ModelStreamDelta: one text frame when the fragment is non-empty.
//   - ModelTurnEnd with text: one text frame unless deltas were already
//     streamed; the text is accumulated either way. Text wins over tool calls.
//   - ModelTurnEnd with tool calls: one tool call frame per call, in order.
//   - ToolTurnEnd: one tool result frame.
//   - Unrecognized: nothing.
func Transcode(ev runevent.Event, st *State) []datastream.Frame {
	st.tracker.Observe(ev.Kind())

	switch e := ev.(type) {
	case runevent.ModelStreamDelta:
		if e.Text == "" {
			return nil
		}
		return []datastream.Frame{datastream.TextDelta(e.Text)}

	case runevent.ModelTurnEnd:
		if e.Text != "" {
			st.acc.Append(Message{Role: RoleAssistant, Content: e.Text})
			if st.tracker.IsStreaming() {
				return nil
			}
			return []datastream.Frame{datastream.TextDelta(e.Text)}
		}
		if len(e.ToolCalls) == 0 {
			return nil
		}
		frames := make([]datastream.Frame, 0, len(e.ToolCalls))
		for _, tc := range e.ToolCalls {
			frames = append(frames, datastream.ToolCall(tc.ID, tc.Name, tc.Args))
		}
		if st.opts.PersistToolInvocations {
			invs := make([]ToolInvocation, 0, len(e.ToolCalls))
			for _, tc := range e.ToolCalls {
				invs = append(invs, ToolInvocation{ToolCallID: tc.ID, ToolName: tc.Name, Args: tc.Args})
			}
			st.acc.RecordToolCalls(invs)
		}
		return frames

	case runevent.ToolTurnEnd:
		if st.opts.PersistToolInvocations {
			st.acc.RecordToolResult(e.ToolCallID, e.Content)
		}
		return []datastream.Frame{datastream.ToolResult(e.ToolCallID, e.Content)}
	}
	return nil
}
