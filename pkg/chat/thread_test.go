package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter records outbound calls for assertions.
type stubAdapter struct {
	name  string
	dm    bool
	calls []string
}

func (s *stubAdapter) Name() string      { return s.name }
func (s *stubAdapter) UserName() string  { return "courier" }
func (s *stubAdapter) BotUserID() string { return "B1" }

func (s *stubAdapter) EncodeThreadID(parts ...string) string {
	return EncodeThreadID(s.name, parts...)
}

func (s *stubAdapter) DecodeThreadID(threadID string) ([]string, error) {
	return ParseThreadID(threadID, s.name, 1)
}

func (s *stubAdapter) ParseMessage(any) (*Message, error) { return nil, ErrNotImplemented }
func (s *stubAdapter) IsDM(string) bool                   { return s.dm }

func (s *stubAdapter) PostMessage(_ context.Context, threadID string, msg *PostableMessage) (*SentMessage, error) {
	s.calls = append(s.calls, "post "+threadID+" "+msg.Text())
	return NewSentMessage(Message{ID: "out-1", ThreadID: threadID, Text: msg.Text()}, s), nil
}

func (s *stubAdapter) EditMessage(_ context.Context, threadID, messageID string, msg *PostableMessage) error {
	s.calls = append(s.calls, "edit "+threadID+" "+messageID+" "+msg.Text())
	return nil
}

func (s *stubAdapter) DeleteMessage(_ context.Context, threadID, messageID string) error {
	s.calls = append(s.calls, "delete "+threadID+" "+messageID)
	return nil
}

func (s *stubAdapter) AddReaction(_ context.Context, threadID, messageID, emoji string) error {
	s.calls = append(s.calls, "react "+threadID+" "+messageID+" "+emoji)
	return nil
}

func (s *stubAdapter) RemoveReaction(_ context.Context, threadID, messageID, emoji string) error {
	s.calls = append(s.calls, "unreact "+threadID+" "+messageID+" "+emoji)
	return nil
}

func (s *stubAdapter) StartTyping(_ context.Context, threadID string) error {
	s.calls = append(s.calls, "typing "+threadID)
	return nil
}

func (s *stubAdapter) OpenDM(context.Context, string) (string, error) {
	return s.EncodeThreadID("dm"), nil
}

func (s *stubAdapter) FetchMessages(context.Context, string, int) ([]*Message, error) {
	return nil, ErrNotImplemented
}

// stubChat is a minimal Chat with an in-memory backend.
type stubChat struct {
	adapters map[string]Adapter
	backend  StateBackend
	changes  []bool
}

func (c *stubChat) AdapterByName(name string) (Adapter, bool) {
	a, ok := c.adapters[name]
	return a, ok
}

func (c *stubChat) Backend() StateBackend { return c.backend }

func (c *stubChat) SubscriptionChanged(_ context.Context, _ *Thread, subscribed bool) error {
	c.changes = append(c.changes, subscribed)
	return nil
}

type memBackend struct {
	kv   map[string]string
	subs map[string]bool
}

func newMemBackend() *memBackend {
	return &memBackend{kv: map[string]string{}, subs: map[string]bool{}}
}

func (b *memBackend) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := b.kv[key]
	return v, ok, nil
}

func (b *memBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	b.kv[key] = value
	return nil
}

func (b *memBackend) AcquireLock(_ context.Context, threadID string) (Lock, error) {
	return Lock{ThreadID: threadID, Token: "t"}, nil
}

func (b *memBackend) ReleaseLock(context.Context, Lock) error { return nil }

func (b *memBackend) IsSubscribed(_ context.Context, threadID string) (bool, error) {
	return b.subs[threadID], nil
}

func (b *memBackend) Subscribe(_ context.Context, threadID string) error {
	b.subs[threadID] = true
	return nil
}

func (b *memBackend) Unsubscribe(_ context.Context, threadID string) error {
	delete(b.subs, threadID)
	return nil
}

func newStubChat(adapters ...Adapter) *stubChat {
	c := &stubChat{adapters: map[string]Adapter{}, backend: newMemBackend()}
	for _, a := range adapters {
		c.adapters[a.Name()] = a
	}
	return c
}

func TestThreadPostAndTyping(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "stub"}
	thread := NewThread("stub:t1", adapter, newStubChat(adapter))

	ctx := context.Background()
	sent, err := thread.PostText(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "out-1", sent.ID)
	require.NoError(t, thread.StartTyping(ctx))

	assert.Equal(t, []string{"post stub:t1 hello", "typing stub:t1"}, adapter.calls)
}

func TestThreadIsDMFromAdapter(t *testing.T) {
	t.Parallel()

	dm := &stubAdapter{name: "stub", dm: true}
	assert.True(t, NewThread("stub:t1", dm, newStubChat(dm)).IsDM)

	channel := &stubAdapter{name: "stub"}
	assert.False(t, NewThread("stub:t1", channel, newStubChat(channel)).IsDM)
}

func TestThreadSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "stub"}
	c := newStubChat(adapter)
	thread := NewThread("stub:t1", adapter, c)
	ctx := context.Background()

	sub, err := thread.IsSubscribed(ctx)
	require.NoError(t, err)
	assert.False(t, sub)

	require.NoError(t, thread.Subscribe(ctx))
	sub, err = thread.IsSubscribed(ctx)
	require.NoError(t, err)
	assert.True(t, sub)

	require.NoError(t, thread.Unsubscribe(ctx))
	sub, err = thread.IsSubscribed(ctx)
	require.NoError(t, err)
	assert.False(t, sub)

	assert.Equal(t, []bool{true, false}, c.changes, "each flip notifies the dispatcher")
}

func TestThreadStateBagIsNamespaced(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "stub"}
	c := newStubChat(adapter)
	t1 := NewThread("stub:t1", adapter, c)
	t2 := NewThread("stub:t2", adapter, c)
	ctx := context.Background()

	require.NoError(t, t1.SetState(ctx, "step", "3", 0))

	v, ok, err := t1.GetState(ctx, "step")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok, err = t2.GetState(ctx, "step")
	require.NoError(t, err)
	assert.False(t, ok, "state is scoped per thread")
}

func TestThreadWithoutBackendDegrades(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "stub"}
	c := newStubChat(adapter)
	c.backend = nil
	thread := NewThread("stub:t1", adapter, c)
	ctx := context.Background()

	sub, err := thread.IsSubscribed(ctx)
	require.NoError(t, err)
	assert.False(t, sub)

	require.NoError(t, thread.Subscribe(ctx))
	assert.Empty(t, c.changes, "no backend means no subscription fan-out")

	_, ok, err := thread.GetState(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, thread.SetState(ctx, "k", "v", 0))
}

func TestThreadJSONRoundTrip(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "stub", dm: true}
	c := newStubChat(adapter)
	thread := NewThread("stub:t1", adapter, c)
	thread.ChannelID = "C9"
	thread.CurrentMessage = &Message{ID: "m1", Text: "transient"}

	data, err := thread.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "transient", "the current message is not part of the wire form")

	got, err := ThreadFromJSON(data, c)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, got.ID)
	assert.Equal(t, thread.ChannelID, got.ChannelID)
	assert.True(t, got.IsDM)
	assert.Nil(t, got.CurrentMessage)
	assert.Same(t, Adapter(adapter), got.Adapter(), "adapter is re-resolved by name")
}

func TestThreadFromJSONUnknownAdapter(t *testing.T) {
	t.Parallel()

	c := newStubChat()
	_, err := ThreadFromJSON([]byte(`{"id":"ghost:t1","adapter_name":"ghost"}`), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestSentMessageForwardsThroughAdapter(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "stub"}
	sent := NewSentMessage(Message{ID: "m1", ThreadID: "stub:t1"}, adapter)
	ctx := context.Background()

	require.NoError(t, sent.Edit(ctx, Text("new text")))
	require.NoError(t, sent.AddReaction(ctx, "thumbsup"))
	require.NoError(t, sent.RemoveReaction(ctx, "thumbsup"))
	require.NoError(t, sent.Delete(ctx))

	assert.Equal(t, []string{
		"edit stub:t1 m1 new text",
		"react stub:t1 m1 thumbsup",
		"unreact stub:t1 m1 thumbsup",
		"delete stub:t1 m1",
	}, adapter.calls)
}

func TestPostableModes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ModeText, Text("hi").Mode())
	assert.Equal(t, "hi", Text("hi").Text())

	assert.Equal(t, ModeMarkdown, Markdown("**hi**").Mode())

	card := &Card{Title: "Deploy", Buttons: []CardButton{{Label: "Go", ActionID: "deploy"}}}
	pm := CardMessage(card)
	assert.Equal(t, ModeCard, pm.Mode())
	assert.Same(t, card, pm.Card())

	raw := RawMessage(map[string]any{"blocks": 1})
	assert.Equal(t, ModeRaw, raw.Mode())

	ch := make(chan string)
	close(ch)
	assert.Equal(t, ModeStream, Stream(ch).Mode())

	withAtt := Text("file").WithAttachments(Attachment{Type: "file", Name: "a.txt"})
	require.Len(t, withAtt.Attachments(), 1)
	assert.Equal(t, "a.txt", withAtt.Attachments()[0].Name)
}
