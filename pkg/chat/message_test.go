package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWireFormExcludesEphemeralPayloads(t *testing.T) {
	t.Parallel()

	msg := &Message{
		ID:       "1234.5678",
		ThreadID: "slack:C123:0",
		Text:     "hello",
		Author:   Author{UserID: "U1", UserName: "alice", IsBot: Bot(false)},
		Attachments: []Attachment{
			{Type: "image", URL: "https://example.com/a.png", MimeType: "image/png", Width: 64, Height: 64},
		},
		Formatted: map[string]any{"blocks": []any{}},
		Raw:       struct{ secret string }{"platform payload"},
	}
	msg.SetMeta(MetaDateSent, "2026-08-29T10:00:00Z")

	data, err := MarshalMessage(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "platform payload")
	assert.NotContains(t, string(data), "blocks")

	got, err := UnmarshalMessage(data)
	require.NoError(t, err)
	assert.Nil(t, got.Formatted)
	assert.Nil(t, got.Raw)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Text, got.Text)
	assert.Equal(t, msg.Author, got.Author)
	assert.Equal(t, msg.Attachments, got.Attachments)
	assert.Equal(t, "2026-08-29T10:00:00Z", got.Meta(MetaDateSent))
}

func TestMessageMetaBag(t *testing.T) {
	t.Parallel()

	msg := &Message{}
	assert.Empty(t, msg.Meta(MetaEdited), "absent key reads empty without allocating")
	assert.Nil(t, msg.Metadata)

	msg.SetMeta(MetaEdited, "true")
	msg.SetMeta(MetaEditedAt, "2026-08-29T10:05:00Z")
	assert.Equal(t, "true", msg.Meta(MetaEdited))
	assert.Equal(t, "2026-08-29T10:05:00Z", msg.Meta(MetaEditedAt))
}

func TestAuthorIdentity(t *testing.T) {
	t.Parallel()

	a := Author{UserID: "U1", UserName: "alice"}
	b := Author{UserID: "U1", UserName: "renamed"}
	c := Author{UserID: "U2"}
	assert.True(t, a.Same(b), "identity is the user id, not the handle")
	assert.False(t, a.Same(c))
	assert.False(t, Author{}.Same(Author{}), "empty ids never match")
}

func TestAuthorKnownBot(t *testing.T) {
	t.Parallel()

	_, known := Author{}.KnownBot()
	assert.False(t, known)

	isBot, known := Author{IsBot: Bot(true)}.KnownBot()
	assert.True(t, known)
	assert.True(t, isBot)

	isBot, known = Author{IsBot: Bot(false)}.KnownBot()
	assert.True(t, known)
	assert.False(t, isBot)
}
