// Package datastream implements the downstream data-stream wire protocol:
// newline-delimited frames of the form <code>:<json>.
package datastream

import "encoding/json"

// Kind identifies a frame type by its single-character wire code.
type Kind byte

const (
	KindTextDelta  Kind = '0'
	KindToolCall   Kind = '9'
	KindToolResult Kind = 'a'
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindToolCall:
		return "tool_call"
	case KindToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Frame is one logical unit of the outbound protocol.
type Frame struct {
	Kind    Kind
	Payload any
}

// ToolCallPayload is the body of a tool call frame.
type ToolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

// ToolResultPayload is the body of a tool result frame.
type ToolResultPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

// TextDelta returns a frame carrying a text fragment or a whole message.
func TextDelta(text string) Frame {
	return Frame{Kind: KindTextDelta, Payload: text}
}

// ToolCall returns a frame announcing a tool invocation. Nil args encode as {}.
func ToolCall(id, name string, args json.RawMessage) Frame {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return Frame{Kind: KindToolCall, Payload: ToolCallPayload{ToolCallID: id, ToolName: name, Args: args}}
}

// ToolResult returns a frame mapping a tool result to its call id.
// Nil results encode as null.
func ToolResult(id string, result json.RawMessage) Frame {
	if len(result) == 0 {
		result = json.RawMessage(`null`)
	}
	return Frame{Kind: KindToolResult, Payload: ToolResultPayload{ToolCallID: id, Result: result}}
}
