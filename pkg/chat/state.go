package chat

import (
	"context"
	"time"
)

// Lock is an acquired per-thread lock. The token disambiguates the holder;
// backends may ignore it but must release on the thread id.
type Lock struct {
	ThreadID string
	Token    string
}

// StateBackend is the external key/value + lock + subscription store the
// dispatcher consumes. All of it is optional in aggregate: a dispatcher
// with a nil backend degrades to no dedup, no locking and no
// subscriptions rather than failing.
//
// Get/Set/AcquireLock may block (network stores); AcquireLock blocks
// until the per-thread lock is free.
type StateBackend interface {
	// Get returns the value for key and whether it exists. Expired keys
	// read as absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	AcquireLock(ctx context.Context, threadID string) (Lock, error)
	ReleaseLock(ctx context.Context, lock Lock) error

	IsSubscribed(ctx context.Context, threadID string) (bool, error)
	Subscribe(ctx context.Context, threadID string) error
	Unsubscribe(ctx context.Context, threadID string) error
}
