package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/dispatch"
)

// Telegram is the Telegram adapter, receiving updates over long polling.
// Thread ids are "telegram:<chatID>" or "telegram:<chatID>:<topicID>"
// for forum topics.
type Telegram struct {
	bot        *telego.Bot
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	botUserID string
	userName  string
}

// NewTelegram builds the adapter from a bot token.
func NewTelegram(token string, d *dispatch.Dispatcher, log zerolog.Logger) (*Telegram, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Telegram{
		bot:        bot,
		dispatcher: d,
		log:        log.With().Str("channel", "telegram").Logger(),
	}, nil
}

func (t *Telegram) Name() string      { return "telegram" }
func (t *Telegram) UserName() string  { return t.userName }
func (t *Telegram) BotUserID() string { return t.botUserID }

func (t *Telegram) EncodeThreadID(parts ...string) string {
	return chat.EncodeThreadID(t.Name(), parts...)
}

// DecodeThreadID accepts one segment (chat) or two (chat and forum
// topic).
func (t *Telegram) DecodeThreadID(threadID string) ([]string, error) {
	parts, err := chat.ParseThreadID(threadID, t.Name(), 1)
	if err != nil {
		return nil, err
	}
	sub := strings.Split(parts[0], ":")
	if len(sub) > 2 {
		return nil, &chat.ThreadIDError{ThreadID: threadID, Reason: "want <chat> or <chat>:<topic>"}
	}
	for i, p := range sub {
		if p == "" {
			return nil, &chat.ThreadIDError{ThreadID: threadID, Reason: fmt.Sprintf("empty segment %d", i)}
		}
	}
	return sub, nil
}

// IsDM: direct chats have positive chat ids, groups and channels
// negative ones.
func (t *Telegram) IsDM(threadID string) bool {
	parts, err := t.DecodeThreadID(threadID)
	if err != nil {
		return false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	return err == nil && id > 0
}

func (t *Telegram) chatRef(threadID string) (telego.ChatID, int, error) {
	parts, err := t.DecodeThreadID(threadID)
	if err != nil {
		return telego.ChatID{}, 0, err
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return telego.ChatID{}, 0, &chat.ThreadIDError{ThreadID: threadID, Reason: "chat id is not numeric"}
	}
	topicID := 0
	if len(parts) == 2 {
		if topicID, err = strconv.Atoi(parts[1]); err != nil {
			return telego.ChatID{}, 0, &chat.ThreadIDError{ThreadID: threadID, Reason: "topic id is not numeric"}
		}
	}
	return telego.ChatID{ID: chatID}, topicID, nil
}

// Start fetches bot identity and consumes long-poll updates until the
// context is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	me, err := t.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	t.botUserID = strconv.FormatInt(me.ID, 10)
	t.userName = me.Username
	t.log.Info().Str("bot_user_id", t.botUserID).Msg("connected")

	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram: long polling: %w", err)
	}
	go func() {
		for update := range updates {
			t.handleUpdate(ctx, update)
		}
	}()
	return nil
}

// Stop is a no-op; long polling exits with the Start context.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		t.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		msg := t.messageFrom(update.EditedMessage)
		msg.SetMeta(chat.MetaEdited, "true")
		if update.EditedMessage.EditDate != 0 {
			msg.SetMeta(chat.MetaEditedAt, strconv.FormatInt(update.EditedMessage.EditDate, 10))
		}
		ev := &dispatch.MessageChangeEvent{
			Adapter:   t,
			ThreadID:  msg.ThreadID,
			MessageID: msg.ID,
			Message:   msg,
			Raw:       update.EditedMessage,
		}
		if err := t.dispatcher.DispatchMessageEdited(ctx, ev); err != nil {
			t.log.Error().Err(err).Str("message_id", msg.ID).Msg("edit dispatch failed")
		}
	case update.CallbackQuery != nil:
		t.handleCallback(ctx, update.CallbackQuery)
	}
}

func (t *Telegram) threadIDOf(m *telego.Message) string {
	chatPart := strconv.FormatInt(m.Chat.ID, 10)
	if m.MessageThreadID != 0 {
		return t.EncodeThreadID(chatPart, strconv.Itoa(m.MessageThreadID))
	}
	return t.EncodeThreadID(chatPart)
}

func (t *Telegram) authorFrom(u *telego.User) chat.Author {
	if u == nil {
		return chat.Author{}
	}
	id := strconv.FormatInt(u.ID, 10)
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return chat.Author{
		UserID:   id,
		UserName: u.Username,
		FullName: full,
		IsBot:    chat.Bot(u.IsBot),
		IsMe:     id == t.botUserID,
	}
}

func (t *Telegram) messageFrom(m *telego.Message) *chat.Message {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := &chat.Message{
		ID:        strconv.Itoa(m.MessageID),
		ThreadID:  t.threadIDOf(m),
		Text:      text,
		Author:    t.authorFrom(m.From),
		IsMention: t.userName != "" && strings.Contains(text, "@"+t.userName),
		Raw:       m,
	}
	if m.Date != 0 {
		msg.SetMeta(chat.MetaDateSent, strconv.FormatInt(m.Date, 10))
	}
	if m.Document != nil {
		msg.Attachments = append(msg.Attachments, chat.Attachment{
			Type:     "file",
			FileID:   m.Document.FileID,
			Name:     m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
		})
	}
	for _, p := range m.Photo {
		msg.Attachments = append(msg.Attachments, chat.Attachment{
			Type:   "image",
			FileID: p.FileID,
			Size:   int64(p.FileSize),
			Width:  p.Width,
			Height: p.Height,
		})
	}
	return msg
}

// ParseMessage accepts a *telego.Message payload.
func (t *Telegram) ParseMessage(payload any) (*chat.Message, error) {
	m, ok := payload.(*telego.Message)
	if !ok {
		return nil, fmt.Errorf("telegram: unsupported payload %T", payload)
	}
	return t.messageFrom(m), nil
}

func (t *Telegram) handleMessage(ctx context.Context, m *telego.Message) {
	// Telegram's native commands arrive as ordinary messages starting
	// with "/".
	if strings.HasPrefix(m.Text, "/") {
		command, rest, _ := strings.Cut(m.Text, " ")
		// "/help@mybot" addresses this bot specifically.
		command, _, _ = strings.Cut(command, "@")
		ev := &dispatch.SlashCommandEvent{
			Adapter:  t,
			Command:  command,
			Text:     strings.TrimSpace(rest),
			User:     t.authorFrom(m.From),
			ThreadID: t.threadIDOf(m),
			Raw:      m,
		}
		if err := t.dispatcher.DispatchSlashCommand(ctx, ev); err != nil {
			t.log.Error().Err(err).Str("command", command).Msg("slash command dispatch failed")
		}
		return
	}

	msg := t.messageFrom(m)
	if err := t.dispatcher.DispatchIncomingMessage(ctx, t, msg.ThreadID, msg); err != nil {
		t.log.Error().Err(err).Str("message_id", msg.ID).Msg("message dispatch failed")
	}
}

func (t *Telegram) handleCallback(ctx context.Context, q *telego.CallbackQuery) {
	threadID := ""
	messageID := ""
	if q.Message != nil {
		if m := q.Message.Message(); m != nil {
			threadID = t.threadIDOf(m)
			messageID = strconv.Itoa(m.MessageID)
		}
	}
	ev := &dispatch.ActionEvent{
		Adapter:   t,
		ActionID:  q.Data,
		User:      t.authorFrom(&q.From),
		ThreadID:  threadID,
		MessageID: messageID,
		Raw:       q,
	}
	if err := t.dispatcher.DispatchAction(ctx, ev); err != nil {
		t.log.Error().Err(err).Str("action_id", ev.ActionID).Msg("action dispatch failed")
	}
	if err := t.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: q.ID}); err != nil {
		t.log.Warn().Err(err).Msg("callback ack failed")
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (t *Telegram) PostMessage(ctx context.Context, threadID string, msg *chat.PostableMessage) (*chat.SentMessage, error) {
	chatID, topicID, err := t.chatRef(threadID)
	if err != nil {
		return nil, err
	}

	params := &telego.SendMessageParams{ChatID: chatID, MessageThreadID: topicID}
	switch msg.Mode() {
	case chat.ModeText:
		params.Text = msg.Text()
	case chat.ModeMarkdown:
		params.Text = msg.Text()
		params.ParseMode = telego.ModeMarkdownV2
	case chat.ModeCard:
		params.Text = cardToText(msg.Card())
		if buttons := cardKeyboard(msg.Card()); buttons != nil {
			params.ReplyMarkup = buttons
		}
	case chat.ModeRaw:
		raw, ok := msg.Raw().(*telego.SendMessageParams)
		if !ok {
			return nil, fmt.Errorf("telegram: raw payload must be *telego.SendMessageParams, got %T", msg.Raw())
		}
		params = raw
	case chat.ModeStream:
		return t.postStream(ctx, threadID, chatID, topicID, msg.Chunks())
	default:
		return nil, fmt.Errorf("telegram: unsupported post mode %q", msg.Mode())
	}

	posted, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("telegram: post to %s: %w", threadID, err)
	}
	sent := *t.messageFrom(posted)
	sent.ThreadID = threadID
	return chat.NewSentMessage(sent, t), nil
}

func (t *Telegram) postStream(ctx context.Context, threadID string, chatID telego.ChatID, topicID int, chunks <-chan string) (*chat.SentMessage, error) {
	var buf strings.Builder
	var posted *telego.Message
	for chunk := range chunks {
		buf.WriteString(chunk)
		var err error
		if posted == nil {
			posted, err = t.bot.SendMessage(ctx, &telego.SendMessageParams{
				ChatID: chatID, MessageThreadID: topicID, Text: buf.String(),
			})
		} else {
			posted, err = t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
				ChatID: chatID, MessageID: posted.MessageID, Text: buf.String(),
			})
		}
		if err != nil {
			return nil, fmt.Errorf("telegram: stream to %s: %w", threadID, err)
		}
	}
	if posted == nil {
		return nil, fmt.Errorf("telegram: stream to %s produced no chunks", threadID)
	}
	sent := *t.messageFrom(posted)
	sent.ThreadID = threadID
	return chat.NewSentMessage(sent, t), nil
}

func (t *Telegram) EditMessage(ctx context.Context, threadID, messageID string, msg *chat.PostableMessage) error {
	chatID, _, err := t.chatRef(threadID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: message id %q is not numeric", messageID)
	}
	params := &telego.EditMessageTextParams{ChatID: chatID, MessageID: id, Text: msg.Text()}
	if msg.Mode() == chat.ModeMarkdown {
		params.ParseMode = telego.ModeMarkdownV2
	}
	if _, err := t.bot.EditMessageText(ctx, params); err != nil {
		return fmt.Errorf("telegram: edit %s: %w", messageID, err)
	}
	return nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	chatID, _, err := t.chatRef(threadID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: message id %q is not numeric", messageID)
	}
	if err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: chatID, MessageID: id}); err != nil {
		return fmt.Errorf("telegram: delete %s: %w", messageID, err)
	}
	return nil
}

func (t *Telegram) setReaction(ctx context.Context, threadID, messageID string, reaction []telego.ReactionType) error {
	chatID, _, err := t.chatRef(threadID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: message id %q is not numeric", messageID)
	}
	return t.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    chatID,
		MessageID: id,
		Reaction:  reaction,
	})
}

func (t *Telegram) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	reaction := []telego.ReactionType{
		&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
	}
	if err := t.setReaction(ctx, threadID, messageID, reaction); err != nil {
		return fmt.Errorf("telegram: react %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

// RemoveReaction clears the bot's reactions; Telegram replaces the full
// set rather than removing one.
func (t *Telegram) RemoveReaction(ctx context.Context, threadID, messageID, emoji string) error {
	if err := t.setReaction(ctx, threadID, messageID, nil); err != nil {
		return fmt.Errorf("telegram: unreact %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

func (t *Telegram) StartTyping(ctx context.Context, threadID string) error {
	chatID, _, err := t.chatRef(threadID)
	if err != nil {
		return err
	}
	if err := t.bot.SendChatAction(ctx, &telego.SendChatActionParams{ChatID: chatID, Action: telego.ChatActionTyping}); err != nil {
		return fmt.Errorf("telegram: typing in %s: %w", threadID, err)
	}
	return nil
}

// OpenDM: a Telegram DM thread is just the user's own chat id.
func (t *Telegram) OpenDM(_ context.Context, userID string) (string, error) {
	if _, err := strconv.ParseInt(userID, 10, 64); err != nil {
		return "", fmt.Errorf("telegram: user id %q is not numeric", userID)
	}
	return t.EncodeThreadID(userID), nil
}

// FetchMessages is unavailable: the Bot API has no history endpoint.
func (t *Telegram) FetchMessages(context.Context, string, int) ([]*chat.Message, error) {
	return nil, chat.ErrNotImplemented
}

func cardToText(card *chat.Card) string {
	var b strings.Builder
	if card.Title != "" {
		b.WriteString(card.Title)
		b.WriteString("\n\n")
	}
	if card.Text != "" {
		b.WriteString(card.Text)
		b.WriteString("\n")
	}
	for _, f := range card.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	return strings.TrimSpace(b.String())
}

func cardKeyboard(card *chat.Card) *telego.InlineKeyboardMarkup {
	if len(card.Buttons) == 0 {
		return nil
	}
	var row []telego.InlineKeyboardButton
	for _, btn := range card.Buttons {
		row = append(row, telego.InlineKeyboardButton{Text: btn.Label, CallbackData: btn.ActionID})
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: [][]telego.InlineKeyboardButton{row}}
}
