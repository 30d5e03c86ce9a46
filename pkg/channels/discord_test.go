package channels

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierbot/courier/pkg/chat"
)

func TestDiscordThreadIDCodec(t *testing.T) {
	t.Parallel()

	dc := &Discord{}
	id := dc.EncodeThreadID("112233")
	assert.Equal(t, "discord:112233", id)

	parts, err := dc.DecodeThreadID(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"112233"}, parts)

	for _, bad := range []string{"slack:112233", "discord:"} {
		_, err := dc.DecodeThreadID(bad)
		assert.Error(t, err, "threadID %q", bad)
	}
}

func TestDiscordMessageFrom(t *testing.T) {
	t.Parallel()

	dc := &Discord{botUserID: "BOT1"}
	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "112233",
		Content:   "hey bot",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "U1", Username: "alice", GlobalName: "Alice"},
		Mentions:  []*discordgo.User{{ID: "BOT1"}},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", URL: "https://cdn/x.png", Filename: "x.png", ContentType: "image/png", Size: 10, Width: 4, Height: 4},
		},
	}

	msg, err := dc.ParseMessage(m)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "discord:112233", msg.ThreadID)
	assert.True(t, msg.IsMention)
	assert.Equal(t, "alice", msg.Author.UserName)
	assert.Equal(t, "Alice", msg.Author.FullName)
	assert.False(t, msg.Author.IsMe)
	assert.Equal(t, "2026-08-29T10:00:00Z", msg.Meta(chat.MetaDateSent))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "x.png", msg.Attachments[0].Name)
}

func TestDiscordMentionRequiresExplicitTag(t *testing.T) {
	t.Parallel()

	dc := &Discord{botUserID: "BOT1"}
	m := &discordgo.Message{
		ID:        "m2",
		ChannelID: "112233",
		Content:   "talking about the bot, not to it",
		Author:    &discordgo.User{ID: "U1"},
		Mentions:  []*discordgo.User{{ID: "OTHER"}},
	}
	msg := dc.messageFrom(m)
	assert.False(t, msg.IsMention)
}

func TestCardToComplex(t *testing.T) {
	t.Parallel()

	send := cardToComplex(&chat.Card{
		Title:    "Deploy",
		Text:     "ready",
		ImageURL: "https://example.com/i.png",
		Fields: []chat.CardField{
			{Label: "Env", Value: "prod"},
		},
		Buttons: []chat.CardButton{
			{Label: "Go", ActionID: "deploy"},
		},
	})
	require.Len(t, send.Embeds, 1)
	embed := send.Embeds[0]
	assert.Equal(t, "Deploy", embed.Title)
	assert.Equal(t, "ready", embed.Description)
	require.NotNil(t, embed.Image)
	require.Len(t, embed.Fields, 1)
	assert.Equal(t, "Env", embed.Fields[0].Name)

	require.Len(t, send.Components, 1)
	row, ok := send.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 1)
	button, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, "deploy", button.CustomID)
}
