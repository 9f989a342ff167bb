// Package runevent classifies the loosely-typed events emitted by a LangGraph
// agent run into a closed set of typed variants.
//
// Upstream payloads are schema-less JSON. Their shape is validated once, here,
// so that downstream code only ever sees well-formed values. Anything that
// does not match a recognized name and shape becomes Unrecognized.
package runevent

import "encoding/json"

// Upstream event names (LangGraph runs streamed with stream_mode "events").
const (
	NameChatModelStream = "on_chat_model_stream"
	NameChatModelEnd    = "on_chat_model_end"
	NameToolEnd         = "on_tool_end"
)

// RunEvent is one envelope emitted by an agent run. Envelopes arrive in strict
// emission order.
type RunEvent struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"data,omitempty"`
}

// EventKind identifies the category of a classified event.
type EventKind int

const (
	// KindUnrecognized is the zero value. Unrecognized events produce no frames.
	KindUnrecognized EventKind = iota
	KindModelStreamDelta
	KindModelTurnEnd
	KindToolTurnEnd
)

func (k EventKind) String() string {
	switch k {
	case KindModelStreamDelta:
		return "model_stream_delta"
	case KindModelTurnEnd:
		return "model_turn_end"
	case KindToolTurnEnd:
		return "tool_turn_end"
	default:
		return "unrecognized"
	}
}

// Event is a classified run event. The concrete type is one of
// ModelStreamDelta, ModelTurnEnd, ToolTurnEnd or Unrecognized.
type Event interface {
	Kind() EventKind
}

// ModelStreamDelta is an incremental text fragment of the assistant's current message.
type ModelStreamDelta struct {
	Text string
}

// ModelTurnEnd is the end of one model call: either a completed text message
// or a list of tool-call requests. When the message has text, ToolCalls is
// nil and the tool-call fields are never inspected.
type ModelTurnEnd struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a request by the model to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage // always a JSON object
}

// ToolTurnEnd is a tool result answering a previous tool call.
type ToolTurnEnd struct {
	ToolCallID string
	ToolName   string
	Content    json.RawMessage // raw JSON value, usually a string
}

// Unrecognized is any event whose name is unknown or whose payload is
// malformed for its name.
type Unrecognized struct {
	Name   string
	Reason string
}

func (ModelStreamDelta) Kind() EventKind { return KindModelStreamDelta }
func (ModelTurnEnd) Kind() EventKind     { return KindModelTurnEnd }
func (ToolTurnEnd) Kind() EventKind      { return KindToolTurnEnd }
func (Unrecognized) Kind() EventKind     { return KindUnrecognized }
