package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Thread is a live handle on one conversation. It binds a thread id to
// its adapter and the owning dispatcher, both borrowed for the handle's
// lifetime; a Thread is created fresh per event dispatch and never cached
// across events. The only thread-scoped data that outlives a single
// event (the subscription flag and the state bag) lives in the state
// backend, not here.
type Thread struct {
	ID        string
	ChannelID string
	IsDM      bool

	// CurrentMessage is set only while one incoming message is being
	// handled.
	CurrentMessage *Message

	adapter Adapter
	chat    Chat
}

// NewThread builds a thread handle. adapter and chat are non-owning
// references.
func NewThread(id string, adapter Adapter, c Chat) *Thread {
	return &Thread{
		ID:      id,
		IsDM:    adapter.IsDM(id),
		adapter: adapter,
		chat:    c,
	}
}

// Adapter returns the adapter owning this thread.
func (t *Thread) Adapter() Adapter { return t.adapter }

// Chat returns the owning dispatcher.
func (t *Thread) Chat() Chat { return t.chat }

// Post sends a message to this thread.
func (t *Thread) Post(ctx context.Context, msg *PostableMessage) (*SentMessage, error) {
	return t.adapter.PostMessage(ctx, t.ID, msg)
}

// PostText is shorthand for Post with a plain-text payload.
func (t *Thread) PostText(ctx context.Context, text string) (*SentMessage, error) {
	return t.adapter.PostMessage(ctx, t.ID, Text(text))
}

// StartTyping shows a typing indicator where the platform supports one.
func (t *Thread) StartTyping(ctx context.Context) error {
	return t.adapter.StartTyping(ctx, t.ID)
}

// FetchMessages returns up to limit recent messages, newest last.
func (t *Thread) FetchMessages(ctx context.Context, limit int) ([]*Message, error) {
	return t.adapter.FetchMessages(ctx, t.ID, limit)
}

// IsSubscribed reports whether this thread receives all messages
// (bypassing mention gating). Without a backend it is always false.
func (t *Thread) IsSubscribed(ctx context.Context) (bool, error) {
	backend := t.chat.Backend()
	if backend == nil {
		return false, nil
	}
	return backend.IsSubscribed(ctx, t.ID)
}

// Subscribe marks the thread subscribed and runs the dispatcher's
// subscribe handler fan-out. Without a backend it is a no-op.
func (t *Thread) Subscribe(ctx context.Context) error {
	backend := t.chat.Backend()
	if backend == nil {
		return nil
	}
	if err := backend.Subscribe(ctx, t.ID); err != nil {
		return err
	}
	return t.chat.SubscriptionChanged(ctx, t, true)
}

// Unsubscribe clears the subscription flag and runs the unsubscribe
// handler fan-out. Without a backend it is a no-op.
func (t *Thread) Unsubscribe(ctx context.Context) error {
	backend := t.chat.Backend()
	if backend == nil {
		return nil
	}
	if err := backend.Unsubscribe(ctx, t.ID); err != nil {
		return err
	}
	return t.chat.SubscriptionChanged(ctx, t, false)
}

func (t *Thread) stateKey(key string) string {
	return "state:" + t.ID + ":" + key
}

// GetState reads a value from the thread's persisted state bag.
func (t *Thread) GetState(ctx context.Context, key string) (string, bool, error) {
	backend := t.chat.Backend()
	if backend == nil {
		return "", false, nil
	}
	return backend.Get(ctx, t.stateKey(key))
}

// SetState writes a value into the thread's persisted state bag.
// ttl <= 0 keeps the value until overwritten.
func (t *Thread) SetState(ctx context.Context, key, value string, ttl time.Duration) error {
	backend := t.chat.Backend()
	if backend == nil {
		return nil
	}
	return backend.Set(ctx, t.stateKey(key), value, ttl)
}

// threadJSON is the wire form: identity only. Subscription state and the
// state bag are re-fetched from the backend on reconstruction, never
// embedded.
type threadJSON struct {
	ID          string `json:"id"`
	AdapterName string `json:"adapter_name"`
	ChannelID   string `json:"channel_id,omitempty"`
	IsDM        bool   `json:"is_dm,omitempty"`
}

// MarshalJSON encodes the thread's identity.
func (t *Thread) MarshalJSON() ([]byte, error) {
	return json.Marshal(threadJSON{
		ID:          t.ID,
		AdapterName: t.adapter.Name(),
		ChannelID:   t.ChannelID,
		IsDM:        t.IsDM,
	})
}

// ThreadFromJSON reconstructs a thread handle, re-resolving its adapter
// by name through the dispatcher.
func ThreadFromJSON(data []byte, c Chat) (*Thread, error) {
	var w threadJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("chat: unmarshal thread: %w", err)
	}
	adapter, ok := c.AdapterByName(w.AdapterName)
	if !ok {
		return nil, fmt.Errorf("chat: unknown adapter %q for thread %q", w.AdapterName, w.ID)
	}
	return &Thread{
		ID:        w.ID,
		ChannelID: w.ChannelID,
		IsDM:      w.IsDM,
		adapter:   adapter,
		chat:      c,
	}, nil
}
