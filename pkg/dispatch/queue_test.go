package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierbot/courier/pkg/chat"
)

func TestQueueDropOldestWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue("test", 2)
	require.True(t, q.Enqueue(Job{ID: "1"}))
	require.True(t, q.Enqueue(Job{ID: "2"}))
	require.True(t, q.Enqueue(Job{ID: "3"}), "overflow must evict, not reject")

	assert.Equal(t, uint64(1), q.Dropped())

	ctx := context.Background()
	first, ok := q.Dequeue(ctx)
	require.True(t, ok)
	second, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"2", "3"}, []string{first.ID, second.ID}, "the oldest job is the one dropped")
}

func TestQueueClosedRejectsAndDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue("test", 4)
	require.True(t, q.Enqueue(Job{ID: "1"}))
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(Job{ID: "2"}))

	ctx := context.Background()
	job, ok := q.Dequeue(ctx)
	require.True(t, ok, "backlog drains after close")
	assert.Equal(t, "1", job.ID)

	_, ok = q.Dequeue(ctx)
	assert.False(t, ok, "drained closed queue reports done")
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue("test", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestJobRoundTrip(t *testing.T) {
	t.Parallel()

	adapter := newMockAdapter("mock")
	d := New()
	d.RegisterAdapter(adapter)

	var got *chat.Message
	d.OnNewMessage(regexp.MustCompile(`ping`), func(_ context.Context, _ *chat.Thread, msg *chat.Message) error {
		got = msg
		return nil
	})

	msg := incoming("77", "mock:t1", "ping")
	msg.Raw = struct{ c chan int }{} // non-serializable payloads must not leak to the wire
	job, err := EncodeJob(&IncomingMessage{Adapter: adapter, ThreadID: "mock:t1", Message: msg}, "default")
	require.NoError(t, err)
	assert.Equal(t, KindIncomingMessage, job.Kind)
	assert.Equal(t, "mock", job.AdapterName)
	assert.Equal(t, "default", job.Queue)
	assert.NotEmpty(t, job.ID)

	require.NoError(t, d.RunJob(context.Background(), job))
	require.NotNil(t, got)
	assert.Equal(t, "77", got.ID)
	assert.Equal(t, "ping", got.Text)
	assert.Nil(t, got.Raw, "raw platform payload stays out of the serialized job")
}

func TestRunJobUnknownAdapter(t *testing.T) {
	t.Parallel()

	d := New()
	err := d.RunJob(context.Background(), Job{ID: "x", Kind: KindAction, AdapterName: "ghost", Payload: []byte(`{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestQueuedDispatchThroughWorker(t *testing.T) {
	t.Parallel()

	adapter := newMockAdapter("mock")
	q := NewQueue("default", 8)
	d := New(WithExecutor(NewQueueExecutor(q, nil)))
	d.RegisterAdapter(adapter)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	d.OnNewMessage(regexp.MustCompile(`job`), func(_ context.Context, _ *chat.Thread, msg *chat.Message) error {
		mu.Lock()
		seen = append(seen, msg.ID)
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWorker(d, q).Run(ctx)

	for i := 1; i <= 3; i++ {
		msg := incoming(fmt.Sprintf("j%d", i), "mock:t1", "job")
		require.NoError(t, d.DispatchIncomingMessage(ctx, adapter, "mock:t1", msg))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process jobs in time")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"j1", "j2", "j3"}, seen)
}

func TestQueuedActionRoundTrip(t *testing.T) {
	t.Parallel()

	adapter := newMockAdapter("mock")
	d := New()
	d.RegisterAdapter(adapter)

	var got *ActionEvent
	d.OnAction(ID("approve"), func(_ context.Context, ev *ActionEvent) error {
		got = ev
		return nil
	})

	job, err := EncodeJob(&ActionEvent{
		Adapter:  adapter,
		ActionID: "approve",
		Value:    "order-123",
		User:     user("alice"),
		ThreadID: "mock:t1",
	}, "default")
	require.NoError(t, err)

	require.NoError(t, d.RunJob(context.Background(), job))
	require.NotNil(t, got)
	assert.Equal(t, "order-123", got.Value)
	assert.Same(t, chat.Adapter(adapter), got.Adapter, "worker re-resolves the adapter by name")
	require.NotNil(t, got.Thread)
	assert.Equal(t, "mock:t1", got.Thread.ID)
}

func TestQueuedMessageDeleteKindRestored(t *testing.T) {
	t.Parallel()

	adapter := newMockAdapter("mock")
	d := New()
	d.RegisterAdapter(adapter)

	var deleted bool
	d.OnMessageDeleted(func(_ context.Context, ev *MessageChangeEvent) error {
		deleted = ev.Deleted
		return nil
	})

	ev := &MessageChangeEvent{Adapter: adapter, ThreadID: "mock:t1", MessageID: "m1", Deleted: true}
	job, err := EncodeJob(ev, "default")
	require.NoError(t, err)
	assert.Equal(t, KindMessageDeleted, job.Kind)

	require.NoError(t, d.RunJob(context.Background(), job))
	assert.True(t, deleted)
}
