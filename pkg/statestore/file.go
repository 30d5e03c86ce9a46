package statestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courierbot/courier/pkg/chat"
)

// fileEntry is the on-disk record, one JSON file per key.
type fileEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix seconds, 0 = no expiry
}

// FileStore is a JSON-file-backed StateBackend. It keeps an in-memory
// cache and persists to disk on every write, so state survives restarts.
// Locks are process-local: a FileStore serializes threads within one
// process only, use the SQLite store when several processes share state.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
	entries map[string]fileEntry
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

// NewFileStore opens (creating if needed) a store rooted at baseDir and
// loads all existing records into memory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create %s: %w", baseDir, err)
	}
	s := &FileStore{
		baseDir: baseDir,
		entries: make(map[string]fileEntry),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	dirEntries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("statestore: read dir %s: %w", s.baseDir, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, de.Name()))
		if err != nil {
			continue
		}
		var e fileEntry
		if err := json.Unmarshal(data, &e); err != nil || e.Key == "" {
			continue
		}
		s.entries[e.Key] = e
	}
	return nil
}

// fileName derives a filesystem-safe name for a key; keys contain ":"
// and other characters the filesystem may reject.
func (s *FileStore) fileName(key string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(s.baseDir, encoded+".json")
}

func (s *FileStore) persist(e fileEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("statestore: marshal %q: %w", e.Key, err)
	}
	if err := os.WriteFile(s.fileName(e.Key), data, 0o644); err != nil {
		return fmt.Errorf("statestore: write %q: %w", e.Key, err)
	}
	return nil
}

func (s *FileStore) remove(key string) {
	os.Remove(s.fileName(key))
}

func (s *FileStore) expired(e fileEntry) bool {
	return e.ExpiresAt != 0 && s.now().Unix() > e.ExpiresAt
}

// Get returns a value; expired entries read as absent and are removed.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if s.expired(e) {
		delete(s.entries, key)
		s.remove(key)
		return "", false, nil
	}
	return e.Value, true, nil
}

// Set stores a value; ttl <= 0 means no expiry.
func (s *FileStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := fileEntry{Key: key, Value: value}
	if ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl).Unix()
	}
	s.entries[key] = e
	return s.persist(e)
}

// AcquireLock blocks until the thread's lock is free. Locks are held in
// memory only.
func (s *FileStore) AcquireLock(_ context.Context, threadID string) (chat.Lock, error) {
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

// ReleaseLock frees the thread's lock.
func (s *FileStore) ReleaseLock(_ context.Context, lock chat.Lock) error {
	s.mu.Lock()
	m, ok := s.locks[lock.ThreadID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	m.Unlock()
	return nil
}

func subscriptionKey(threadID string) string {
	return "sub:" + threadID
}

// IsSubscribed reports the thread's subscription flag.
func (s *FileStore) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	_, ok, err := s.Get(ctx, subscriptionKey(threadID))
	return ok, err
}

// Subscribe sets the thread's subscription flag.
func (s *FileStore) Subscribe(ctx context.Context, threadID string) error {
	return s.Set(ctx, subscriptionKey(threadID), "1", 0)
}

// Unsubscribe clears the thread's subscription flag.
func (s *FileStore) Unsubscribe(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subscriptionKey(threadID)
	delete(s.entries, key)
	s.remove(key)
	return nil
}

// Keys returns all live keys with the given prefix, for inspection and
// tests.
func (s *FileStore) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key, e := range s.entries {
		if strings.HasPrefix(key, prefix) && !s.expired(e) {
			keys = append(keys, key)
		}
	}
	return keys
}
