package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierbot/courier/pkg/chat"
)

func TestTelegramThreadIDCodec(t *testing.T) {
	t.Parallel()

	tg := &Telegram{}

	parts, err := tg.DecodeThreadID("telegram:123456")
	require.NoError(t, err)
	assert.Equal(t, []string{"123456"}, parts)

	parts, err = tg.DecodeThreadID("telegram:-1001234:55")
	require.NoError(t, err)
	assert.Equal(t, []string{"-1001234", "55"}, parts)

	for _, bad := range []string{
		"telegram:1:2:3",
		"telegram:",
		"telegram::55",
		"slack:123456",
	} {
		_, err := tg.DecodeThreadID(bad)
		assert.Error(t, err, "threadID %q", bad)
	}
}

func TestTelegramIsDM(t *testing.T) {
	t.Parallel()

	tg := &Telegram{}
	assert.True(t, tg.IsDM("telegram:123456"))
	assert.False(t, tg.IsDM("telegram:-1001234"), "groups have negative chat ids")
	assert.False(t, tg.IsDM("telegram:-1001234:55"))
	assert.False(t, tg.IsDM("telegram:notanumber"))
	assert.False(t, tg.IsDM("garbage"))
}

func TestTelegramChatRef(t *testing.T) {
	t.Parallel()

	tg := &Telegram{}

	chatID, topicID, err := tg.chatRef("telegram:-1001234:55")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), chatID.ID)
	assert.Equal(t, 55, topicID)

	chatID, topicID, err = tg.chatRef("telegram:987")
	require.NoError(t, err)
	assert.Equal(t, int64(987), chatID.ID)
	assert.Zero(t, topicID)

	_, _, err = tg.chatRef("telegram:abc")
	require.Error(t, err)
	_, _, err = tg.chatRef("telegram:123:topic")
	require.Error(t, err)
}

func TestCardToText(t *testing.T) {
	t.Parallel()

	text := cardToText(&chat.Card{
		Title: "Deploy",
		Text:  "ready to ship",
		Fields: []chat.CardField{
			{Label: "Env", Value: "prod"},
			{Label: "Version", Value: "v1.2"},
		},
	})
	assert.Equal(t, "Deploy\n\nready to ship\nEnv: prod\nVersion: v1.2", text)

	assert.Equal(t, "just text", cardToText(&chat.Card{Text: "just text"}))
}

func TestCardKeyboard(t *testing.T) {
	t.Parallel()

	assert.Nil(t, cardKeyboard(&chat.Card{}))

	kb := cardKeyboard(&chat.Card{Buttons: []chat.CardButton{
		{Label: "Approve", ActionID: "approve"},
		{Label: "Reject", ActionID: "reject"},
	}})
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "Approve", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "approve", kb.InlineKeyboard[0][0].CallbackData)
}
