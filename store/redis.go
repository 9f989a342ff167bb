package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "chat:"
	maxAppendRetries   = 10
)

// RedisOptions configures RedisStore.
type RedisOptions struct {
	Client *redis.Client
	// Prefix namespaces keys; defaults to "chat:".
	Prefix string
	// TTL expires idle chats. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps the chat header as JSON under <prefix><id> and its
// messages as a list of JSON values under <prefix><id>:messages.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type chatHeader struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRedisStore returns a store backed by rdb.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: opts.Client, prefix: prefix, ttl: opts.TTL}, nil
}

func (s *RedisStore) chatKey(id string) string { return s.prefix + id }
func (s *RedisStore) msgsKey(id string) string { return s.prefix + id + ":messages" }

func (s *RedisStore) SaveChat(ctx context.Context, id, userID string) (*Chat, error) {
	now := time.Now().UTC()
	h := chatHeader{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	created, err := s.rdb.SetNX(ctx, s.chatKey(id), b, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("save chat: %w", err)
	}
	if created {
		return h.toChat(), nil
	}
	existing, err := s.header(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, ErrForbidden
	}
	s.touch(ctx, id)
	return existing.toChat(), nil
}

func (s *RedisStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	h, err := s.header(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := s.rdb.LRange(ctx, s.msgsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	c := h.toChat()
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	return c, nil
}

// AppendMessages pushes msgs and bumps the header's UpdatedAt. The header key
// is watched, so a chat deleted concurrently stays deleted.
func (s *RedisStore) AppendMessages(ctx context.Context, chatID string, msgs []Message) error {
	now := time.Now().UTC()
	values := make([]any, 0, len(msgs))
	for _, m := range stamp(msgs, now) {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, b)
	}

	appendTx := func(tx *redis.Tx) error {
		h, err := readHeader(ctx, tx, s.chatKey(chatID))
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return nil
		}
		h.UpdatedAt = now
		hb, err := json.Marshal(h)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, s.msgsKey(chatID), values...)
			p.Set(ctx, s.chatKey(chatID), hb, s.ttl)
			if s.ttl > 0 {
				p.Expire(ctx, s.msgsKey(chatID), s.ttl)
			}
			return nil
		})
		return err
	}

	for range maxAppendRetries {
		err := s.rdb.Watch(ctx, appendTx, s.chatKey(chatID))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("append messages: %w", err)
		}
		return err
	}
	return fmt.Errorf("append messages: %w", redis.TxFailedErr)
}

func (s *RedisStore) DeleteChat(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.chatKey(id), s.msgsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close(context.Context) error {
	return s.rdb.Close()
}

func (s *RedisStore) header(ctx context.Context, id string) (*chatHeader, error) {
	return readHeader(ctx, s.rdb, s.chatKey(id))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readHeader(ctx context.Context, c getter, key string) (*chatHeader, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	var h chatHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	return &h, nil
}

func (s *RedisStore) touch(ctx context.Context, id string) {
	if s.ttl <= 0 {
		return
	}
	s.rdb.Expire(ctx, s.chatKey(id), s.ttl)
	s.rdb.Expire(ctx, s.msgsKey(id), s.ttl)
}

func (h *chatHeader) toChat() *Chat {
	return &Chat{ID: h.ID, UserID: h.UserID, CreatedAt: h.CreatedAt, UpdatedAt: h.UpdatedAt}
}
