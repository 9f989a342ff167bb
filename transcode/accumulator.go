package transcode

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RoleAssistant is the only role the accumulator produces.
const RoleAssistant = "assistant"

// Tool invocation states.
const (
	InvocationCall   = "call"
	InvocationResult = "result"
)

// Message is one assistant message completed during the turn.
type Message struct {
	ID              string
	Role            string
	Content         string
	ToolInvocations []ToolInvocation
}

// ToolInvocation is a tool call and, once it arrives, its result.
type ToolInvocation struct {
	State      string
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Result     json.RawMessage
}

// Accumulator collects the messages to persist once the turn is over. It is
// not safe for concurrent use; a turn has exactly one driver goroutine.
type Accumulator struct {
	msgs []Message
	// call id -> (message index, invocation index)
	calls map[string][2]int
}

// Append records m, assigning an id if it has none.
func (a *Accumulator) Append(m Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Role == "" {
		m.Role = RoleAssistant
	}
	a.msgs = append(a.msgs, m)
}

// RecordToolCalls appends one assistant message carrying invocations in the
// "call" state.
func (a *Accumulator) RecordToolCalls(invs []ToolInvocation) {
	if len(invs) == 0 {
		return
	}
	if a.calls == nil {
		a.calls = make(map[string][2]int)
	}
	m := Message{ToolInvocations: make([]ToolInvocation, len(invs))}
	copy(m.ToolInvocations, invs)
	idx := len(a.msgs)
	for i := range m.ToolInvocations {
		m.ToolInvocations[i].State = InvocationCall
		a.calls[m.ToolInvocations[i].ToolCallID] = [2]int{idx, i}
	}
	a.Append(m)
}

// RecordToolResult moves the matching invocation to the "result" state.
// It reports false when no recorded call has that id.
func (a *Accumulator) RecordToolResult(callID string, result json.RawMessage) bool {
	pos, ok := a.calls[callID]
	if !ok {
		return false
	}
	inv := &a.msgs[pos[0]].ToolInvocations[pos[1]]
	inv.State = InvocationResult
	inv.Result = result
	return true
}

// Len returns the number of pending messages.
func (a *Accumulator) Len() int { return len(a.msgs) }

// Drain returns the accumulated messages and resets the accumulator.
// A second call returns nil.
func (a *Accumulator) Drain() []Message {
	out := a.msgs
	a.msgs = nil
	a.calls = nil
	return out
}
