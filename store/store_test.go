package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore runs the behavior every backend must share.
func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and reload", func(t *testing.T) {
		c, err := s.SaveChat(ctx, "chat-1", "alice")
		require.NoError(t, err)
		assert.Equal(t, "chat-1", c.ID)
		assert.Equal(t, "alice", c.UserID)
		assert.False(t, c.CreatedAt.IsZero())

		again, err := s.SaveChat(ctx, "chat-1", "alice")
		require.NoError(t, err)
		assert.Equal(t, c.CreatedAt.Unix(), again.CreatedAt.Unix())
	})

	t.Run("other owner is forbidden", func(t *testing.T) {
		_, err := s.SaveChat(ctx, "chat-1", "mallory")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("append keeps order", func(t *testing.T) {
		require.NoError(t, s.AppendMessages(ctx, "chat-1", []Message{{ID: "m1", Role: "user", Content: "hi"}}))
		require.NoError(t, s.AppendMessages(ctx, "chat-1", []Message{
			{ID: "m2", Role: "assistant", Content: "hello"},
			{ID: "m3", Role: "assistant", ToolInvocations: []ToolInvocation{
				{State: "result", ToolCallID: "c1", ToolName: "search", Args: `{"q":"x"}`, Result: `"42"`},
			}},
		}))

		c, err := s.GetChat(ctx, "chat-1")
		require.NoError(t, err)
		require.Len(t, c.Messages, 3)
		assert.Equal(t, []string{"m1", "m2", "m3"}, []string{c.Messages[0].ID, c.Messages[1].ID, c.Messages[2].ID})
		assert.Equal(t, "hello", c.Messages[1].Content)
		assert.False(t, c.Messages[0].CreatedAt.IsZero())
		require.Len(t, c.Messages[2].ToolInvocations, 1)
		assert.Equal(t, `"42"`, c.Messages[2].ToolInvocations[0].Result)
	})

	t.Run("append to missing chat", func(t *testing.T) {
		assert.ErrorIs(t, s.AppendMessages(ctx, "missing", []Message{{ID: "x"}}), ErrNotFound)
	})

	t.Run("get missing chat", func(t *testing.T) {
		_, err := s.GetChat(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteChat(ctx, "chat-1"))
		_, err := s.GetChat(ctx, "chat-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteChat(ctx, "chat-1"), ErrNotFound)
	})
}
