package chat

import (
	"context"
	"errors"
)

// ErrNotImplemented is returned by adapters for operations the platform
// does not support (e.g. reactions on platforms without them).
var ErrNotImplemented = errors.New("chat: operation not implemented by adapter")

// Adapter is the contract every platform implementation satisfies. The
// dispatcher consumes this interface only; it never inspects adapter
// internals, never catches adapter errors and never retries.
//
// Outbound operations may fail with platform-specific errors (network,
// rate limit, ErrNotImplemented); handling those is the caller's job.
type Adapter interface {
	// Name is the stable adapter name used as the thread-id prefix and
	// as the dedup-key namespace (e.g. "slack").
	Name() string
	// UserName is the bot's login on the platform, used for mention
	// detection.
	UserName() string
	// BotUserID is the bot's platform user id, or "" if unknown.
	BotUserID() string

	// EncodeThreadID builds a thread id from platform-specific parts.
	// DecodeThreadID is its inverse and fails with *ThreadIDError on
	// malformed input.
	EncodeThreadID(parts ...string) string
	DecodeThreadID(threadID string) ([]string, error)

	// ParseMessage converts a platform payload into a canonical Message.
	ParseMessage(payload any) (*Message, error)
	// IsDM reports whether the thread is a direct-message conversation.
	IsDM(threadID string) bool

	PostMessage(ctx context.Context, threadID string, msg *PostableMessage) (*SentMessage, error)
	EditMessage(ctx context.Context, threadID, messageID string, msg *PostableMessage) error
	DeleteMessage(ctx context.Context, threadID, messageID string) error
	AddReaction(ctx context.Context, threadID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, threadID, messageID, emoji string) error
	StartTyping(ctx context.Context, threadID string) error
	// OpenDM opens (or finds) a direct-message thread with a user and
	// returns its thread id.
	OpenDM(ctx context.Context, userID string) (string, error)
	// FetchMessages returns up to limit recent messages from a thread,
	// newest last.
	FetchMessages(ctx context.Context, threadID string, limit int) ([]*Message, error)
}

// Chat is the dispatcher-side surface a Thread needs: adapter resolution,
// the shared state backend and subscription-change notification. The
// dispatcher implements it; Thread holds it as a non-owning reference.
type Chat interface {
	AdapterByName(name string) (Adapter, bool)
	// Backend returns the configured state backend, or nil when the
	// dispatcher runs without one.
	Backend() StateBackend
	// SubscriptionChanged runs the subscribe/unsubscribe handler fan-out
	// after a thread's subscription flag flips.
	SubscriptionChanged(ctx context.Context, thread *Thread, subscribed bool) error
}
