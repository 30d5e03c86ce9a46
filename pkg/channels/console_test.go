package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/dispatch"
)

func newTestConsole() *Console {
	return NewConsole(dispatch.New(), zerolog.Nop())
}

func TestConsoleThreadID(t *testing.T) {
	t.Parallel()

	c := newTestConsole()
	assert.Equal(t, "console:local", c.localThread())
	assert.True(t, c.IsDM("console:local"))

	parts, err := c.DecodeThreadID("console:local")
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, parts)

	_, err = c.DecodeThreadID("slack:local")
	require.Error(t, err)
}

func TestConsoleHandleLineRoutesSlashCommands(t *testing.T) {
	t.Parallel()

	d := dispatch.New()
	c := NewConsole(d, zerolog.Nop())

	var gotCmd, gotText string
	d.OnSlashCommand(dispatch.ID("status"), func(_ context.Context, ev *dispatch.SlashCommandEvent) error {
		gotCmd = ev.Command
		gotText = ev.Text
		return nil
	})

	c.handleLine(context.Background(), "/status verbose please")
	assert.Equal(t, "/status", gotCmd)
	assert.Equal(t, "verbose please", gotText)
}

func TestConsoleHandleLineRoutesMessages(t *testing.T) {
	t.Parallel()

	d := dispatch.New()
	c := NewConsole(d, zerolog.Nop())

	var got *chat.Message
	d.OnNewMention(func(_ context.Context, _ *chat.Thread, msg *chat.Message) error {
		got = msg
		return nil
	})

	c.handleLine(context.Background(), "@courier are you there")
	require.NotNil(t, got)
	assert.Equal(t, "console:local", got.ThreadID)
	assert.Equal(t, "@courier are you there", got.Text)
	assert.Equal(t, "local-user", got.Author.UserID)
	assert.NotEmpty(t, got.Meta(chat.MetaDateSent))
}

func TestConsoleParseMessage(t *testing.T) {
	t.Parallel()

	c := newTestConsole()
	msg, err := c.ParseMessage("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "console:local", msg.ThreadID)

	_, err = c.ParseMessage(42)
	require.Error(t, err)
}

func TestConsoleRender(t *testing.T) {
	t.Parallel()

	c := newTestConsole()
	assert.Equal(t, "hi", c.render(chat.Text("hi")))
	assert.Equal(t, "**hi**", c.render(chat.Markdown("**hi**")))
	assert.Equal(t, "Title\n\nbody", c.render(chat.CardMessage(&chat.Card{Title: "Title", Text: "body"})))
	assert.Equal(t, "raw", c.render(chat.RawMessage("raw")))
}

// failingRunner starts successfully or not, for manager rollback tests.
type failingRunner struct {
	*Console
	name     string
	startErr error
	started  bool
	stopped  bool
}

func (f *failingRunner) Name() string { return f.name }

func (f *failingRunner) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *failingRunner) Stop() error {
	f.stopped = true
	return nil
}

func TestManagerStartAllRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	ok1 := &failingRunner{Console: newTestConsole(), name: "one"}
	bad := &failingRunner{Console: newTestConsole(), name: "two", startErr: errors.New("no token")}
	never := &failingRunner{Console: newTestConsole(), name: "three"}

	m := NewManager(zerolog.Nop())
	m.Add(ok1)
	m.Add(bad)
	m.Add(never)

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "two")
	assert.True(t, ok1.stopped, "already started runners are stopped on failure")
	assert.False(t, never.started, "runners after the failure never start")
}

func TestManagerStopAllContinuesPastErrors(t *testing.T) {
	t.Parallel()

	a := &failingRunner{Console: newTestConsole(), name: "a"}
	b := &failingRunner{Console: newTestConsole(), name: "b"}

	m := NewManager(zerolog.Nop())
	m.Add(a)
	m.Add(b)
	require.NoError(t, m.StartAll(context.Background()))
	m.StopAll()
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
}
