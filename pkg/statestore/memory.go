// Package statestore provides StateBackend implementations: an in-memory
// store (the default), a JSON-file store for single-node persistence and
// a SQLite store for durable multi-process state.
package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courierbot/courier/pkg/chat"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a process-local StateBackend. Lock acquisition blocks
// the calling goroutine until the per-thread mutex is free, which gives
// the dispatcher its per-thread mutual exclusion.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]*sync.Mutex
	subs    map[string]struct{}

	now func() time.Time // overridable in tests
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]*sync.Mutex),
		subs:    make(map[string]struct{}),
		now:     time.Now,
	}
}

// Get returns a value; expired entries read as absent and are removed.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores a value; ttl <= 0 means no expiry.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// AcquireLock blocks until the thread's lock is free.
func (s *MemoryStore) AcquireLock(_ context.Context, threadID string) (chat.Lock, error) {
	s.mu.Lock()
	m, ok := s.locks[threadID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[threadID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return chat.Lock{ThreadID: threadID, Token: uuid.NewString()}, nil
}

// ReleaseLock frees the thread's lock. Each acquired lock must be
// released exactly once.
func (s *MemoryStore) ReleaseLock(_ context.Context, lock chat.Lock) error {
	s.mu.Lock()
	m, ok := s.locks[lock.ThreadID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	m.Unlock()
	return nil
}

// IsSubscribed reports the thread's subscription flag.
func (s *MemoryStore) IsSubscribed(_ context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[threadID]
	return ok, nil
}

// Subscribe sets the thread's subscription flag.
func (s *MemoryStore) Subscribe(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[threadID] = struct{}{}
	return nil
}

// Unsubscribe clears the thread's subscription flag.
func (s *MemoryStore) Unsubscribe(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, threadID)
	return nil
}

// Sweep removes expired entries. The memory store expires lazily on Get;
// Sweep exists for long-running processes with many one-shot keys.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
