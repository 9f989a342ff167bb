// Package store persists chats and their messages. Three backends share the
// Store interface: an in-memory store with TTL eviction, MongoDB and Redis.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a chat does not exist.
	ErrNotFound = errors.New("chat not found")
	// ErrForbidden is returned when a chat belongs to another user.
	ErrForbidden = errors.New("chat belongs to another user")
)

// Chat is a conversation owned by one user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is one persisted chat message.
type Message struct {
	ID              string           `json:"id"`
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// ToolInvocation is a tool call made by the assistant. Args and Result hold
// raw JSON text.
type ToolInvocation struct {
	State      string `json:"state"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Args       string `json:"args,omitempty"`
	Result     string `json:"result,omitempty"`
}

// Store is the persistence collaborator of the chat handlers.
type Store interface {
	// SaveChat creates the chat if it does not exist and returns it without
	// messages. It fails with ErrForbidden if the chat is owned by someone else.
	SaveChat(ctx context.Context, id, userID string) (*Chat, error)
	// GetChat returns the chat and its messages in insertion order.
	GetChat(ctx context.Context, id string) (*Chat, error)
	// AppendMessages adds msgs to the end of the chat.
	AppendMessages(ctx context.Context, chatID string, msgs []Message) error
	// DeleteChat removes the chat and its messages.
	DeleteChat(ctx context.Context, id string) error
	// Close releases the backend.
	Close(ctx context.Context) error
}

func stamp(msgs []Message, now time.Time) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
	}
	return out
}
