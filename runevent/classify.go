package runevent

import (
	"bytes"
	"encoding/json"
	"strings"
)

// message is the serialized LangChain message shape carried in event payloads.
// Messages serialized with the "constructor" form nest their fields under kwargs.
type message struct {
	Content    json.RawMessage `json:"content"`
	ToolCalls  []toolCall      `json:"tool_calls"`
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Kwargs     *message        `json:"kwargs"`
}

func (m *message) unwrap() *message {
	if m.Kwargs != nil {
		return m.Kwargs
	}
	return m
}

type toolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Classify maps a raw run event onto its typed variant. It never fails:
// unknown names and malformed payloads come back as Unrecognized.
func Classify(ev RunEvent) Event {
	switch ev.Name {
	case NameChatModelStream:
		return classifyDelta(ev)
	case NameChatModelEnd:
		return classifyModelEnd(ev)
	case NameToolEnd:
		return classifyToolEnd(ev)
	default:
		return Unrecognized{Name: ev.Name, Reason: "unknown event name"}
	}
}

func classifyDelta(ev RunEvent) Event {
	var p struct {
		Chunk *message `json:"chunk"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Unrecognized{Name: ev.Name, Reason: "payload is not an object"}
	}
	if p.Chunk == nil {
		return Unrecognized{Name: ev.Name, Reason: "missing chunk"}
	}
	text, ok := decodeContent(p.Chunk.unwrap().Content)
	if !ok {
		return Unrecognized{Name: ev.Name, Reason: "unsupported chunk content"}
	}
	return ModelStreamDelta{Text: text}
}

func classifyModelEnd(ev RunEvent) Event {
	var p struct {
		Output *message `json:"output"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Unrecognized{Name: ev.Name, Reason: "payload is not an object"}
	}
	if p.Output == nil {
		return Unrecognized{Name: ev.Name, Reason: "missing output"}
	}
	out := p.Output.unwrap()
	text, ok := decodeContent(out.Content)
	if !ok {
		return Unrecognized{Name: ev.Name, Reason: "unsupported output content"}
	}
	// Completed text wins; tool calls alongside it are not inspected.
	if text != "" {
		return ModelTurnEnd{Text: text}
	}
	calls := make([]ToolCall, 0, len(out.ToolCalls))
	for _, tc := range out.ToolCalls {
		if tc.ID == "" || tc.Name == "" {
			return Unrecognized{Name: ev.Name, Reason: "tool call without id or name"}
		}
		args := tc.Args
		if isNull(args) {
			args = json.RawMessage(`{}`)
		} else if !isObject(args) {
			return Unrecognized{Name: ev.Name, Reason: "tool call args are not an object"}
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Name, Args: args})
	}
	if len(calls) == 0 {
		calls = nil
	}
	return ModelTurnEnd{Text: text, ToolCalls: calls}
}

func classifyToolEnd(ev RunEvent) Event {
	var p struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Unrecognized{Name: ev.Name, Reason: "payload is not an object"}
	}
	// Tools that return a bare value instead of a ToolMessage carry no call id.
	if !isObject(p.Output) {
		return Unrecognized{Name: ev.Name, Reason: "output is not a tool message"}
	}
	var m message
	if err := json.Unmarshal(p.Output, &m); err != nil {
		return Unrecognized{Name: ev.Name, Reason: "output is not a tool message"}
	}
	out := m.unwrap()
	if out.ToolCallID == "" {
		return Unrecognized{Name: ev.Name, Reason: "missing tool_call_id"}
	}
	content := out.Content
	if isNull(content) {
		content = json.RawMessage(`""`)
	}
	return ToolTurnEnd{ToolCallID: out.ToolCallID, ToolName: out.Name, Content: content}
}

// decodeContent accepts either a plain string or a list of content parts and
// returns the concatenated text. Non-text parts are ignored.
func decodeContent(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", false
	}
	var b strings.Builder
	for _, rp := range parts {
		var part contentPart
		if err := json.Unmarshal(rp, &part); err != nil {
			continue
		}
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return b.String(), true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
