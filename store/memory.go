package store

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryTTL is how long an idle chat is kept by MemoryStore.
const DefaultMemoryTTL = 24 * time.Hour

type memEntry struct {
	chat       Chat
	lastAccess time.Time
}

// MemoryStore keeps chats in process memory and evicts the ones that have not
// been touched within the TTL.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]*memEntry
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryStore creates a store and starts its eviction loop. A ttl of zero
// uses DefaultMemoryTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return newMemoryStore(ttl, time.Now)
}

func newMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	s := &MemoryStore{
		chats: make(map[string]*memEntry),
		ttl:   ttl,
		now:   now,
		stop:  make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

func (s *MemoryStore) SaveChat(_ context.Context, id, userID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.chats[id]; ok {
		if e.chat.UserID != userID {
			return nil, ErrForbidden
		}
		e.lastAccess = now
		c := e.chat
		c.Messages = nil
		return &c, nil
	}
	e := &memEntry{chat: Chat{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, lastAccess: now}
	s.chats[id] = e
	c := e.chat
	return &c, nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastAccess = s.now()
	c := e.chat
	c.Messages = append([]Message(nil), e.chat.Messages...)
	return &c, nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, chatID string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	e.chat.Messages = append(e.chat.Messages, stamp(msgs, now)...)
	e.chat.UpdatedAt = now
	e.lastAccess = now
	return nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return ErrNotFound
	}
	delete(s.chats, id)
	return nil
}

// Len returns the number of stored chats.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

// Close stops the eviction loop.
func (s *MemoryStore) Close(context.Context) error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) evictLoop() {
	ticker := time.NewTicker(evictInterval(s.ttl))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evict()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	for id, e := range s.chats {
		if e.lastAccess.Before(cutoff) {
			delete(s.chats, id)
		}
	}
}

// evictInterval is a quarter of ttl, kept within [1s, 5m].
func evictInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), 5*time.Minute)
}
