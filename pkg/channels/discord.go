package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/dispatch"
)

// Discord is the Discord adapter. Thread ids are "discord:<channelID>";
// Discord threads are channels of their own, so one segment is enough.
type Discord struct {
	session    *discordgo.Session
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	botUserID string
	userName  string
}

// NewDiscord builds the adapter from a bot token.
func NewDiscord(token string, d *dispatch.Dispatcher, log zerolog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentMessageContent

	dc := &Discord{
		session:    session,
		dispatcher: d,
		log:        log.With().Str("channel", "discord").Logger(),
	}
	return dc, nil
}

func (dc *Discord) Name() string      { return "discord" }
func (dc *Discord) UserName() string  { return dc.userName }
func (dc *Discord) BotUserID() string { return dc.botUserID }

func (dc *Discord) EncodeThreadID(parts ...string) string {
	return chat.EncodeThreadID(dc.Name(), parts...)
}

func (dc *Discord) DecodeThreadID(threadID string) ([]string, error) {
	return chat.ParseThreadID(threadID, dc.Name(), 1)
}

func (dc *Discord) IsDM(threadID string) bool {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return false
	}
	ch, err := dc.session.State.Channel(parts[0])
	if err != nil {
		if ch, err = dc.session.Channel(parts[0]); err != nil {
			return false
		}
	}
	return ch.Type == discordgo.ChannelTypeDM
}

// Start opens the gateway connection and registers event handlers.
func (dc *Discord) Start(ctx context.Context) error {
	dc.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		dc.handleMessageCreate(ctx, m)
	})
	dc.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		dc.handleMessageUpdate(ctx, m)
	})
	dc.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		dc.handleMessageDelete(ctx, m)
	})
	dc.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		dc.dispatchReaction(ctx, r.MessageReaction, false)
	})
	dc.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		dc.dispatchReaction(ctx, r.MessageReaction, true)
	})
	dc.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		dc.handleInteraction(ctx, i)
	})

	if err := dc.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	dc.botUserID = dc.session.State.User.ID
	dc.userName = dc.session.State.User.Username
	dc.log.Info().Str("bot_user_id", dc.botUserID).Msg("connected")
	return nil
}

// Stop closes the gateway connection.
func (dc *Discord) Stop() error { return dc.session.Close() }

func (dc *Discord) authorFrom(u *discordgo.User) chat.Author {
	if u == nil {
		return chat.Author{}
	}
	return chat.Author{
		UserID:   u.ID,
		UserName: u.Username,
		FullName: u.GlobalName,
		IsBot:    chat.Bot(u.Bot),
		IsMe:     u.ID == dc.botUserID,
	}
}

func (dc *Discord) messageFrom(m *discordgo.Message) *chat.Message {
	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == dc.botUserID {
			mentioned = true
			break
		}
	}
	msg := &chat.Message{
		ID:        m.ID,
		ThreadID:  dc.EncodeThreadID(m.ChannelID),
		Text:      m.Content,
		Author:    dc.authorFrom(m.Author),
		IsMention: mentioned,
		Raw:       m,
	}
	if !m.Timestamp.IsZero() {
		msg.SetMeta(chat.MetaDateSent, m.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"))
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, chat.Attachment{
			Type:     "file",
			URL:      a.URL,
			FileID:   a.ID,
			Name:     a.Filename,
			MimeType: a.ContentType,
			Size:     int64(a.Size),
			Width:    a.Width,
			Height:   a.Height,
		})
	}
	return msg
}

// ParseMessage accepts a *discordgo.Message payload.
func (dc *Discord) ParseMessage(payload any) (*chat.Message, error) {
	m, ok := payload.(*discordgo.Message)
	if !ok {
		return nil, fmt.Errorf("discord: unsupported payload %T", payload)
	}
	return dc.messageFrom(m), nil
}

func (dc *Discord) handleMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	msg := dc.messageFrom(m.Message)
	if err := dc.dispatcher.DispatchIncomingMessage(ctx, dc, msg.ThreadID, msg); err != nil {
		dc.log.Error().Err(err).Str("message_id", msg.ID).Msg("message dispatch failed")
	}
}

func (dc *Discord) handleMessageUpdate(ctx context.Context, m *discordgo.MessageUpdate) {
	msg := dc.messageFrom(m.Message)
	msg.SetMeta(chat.MetaEdited, "true")
	ev := &dispatch.MessageChangeEvent{
		Adapter:   dc,
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		Message:   msg,
		Raw:       m,
	}
	if err := dc.dispatcher.DispatchMessageEdited(ctx, ev); err != nil {
		dc.log.Error().Err(err).Str("message_id", msg.ID).Msg("edit dispatch failed")
	}
}

func (dc *Discord) handleMessageDelete(ctx context.Context, m *discordgo.MessageDelete) {
	ev := &dispatch.MessageChangeEvent{
		Adapter:   dc,
		ThreadID:  dc.EncodeThreadID(m.ChannelID),
		MessageID: m.ID,
		Raw:       m,
	}
	if err := dc.dispatcher.DispatchMessageDeleted(ctx, ev); err != nil {
		dc.log.Error().Err(err).Str("message_id", m.ID).Msg("delete dispatch failed")
	}
}

func (dc *Discord) dispatchReaction(ctx context.Context, r *discordgo.MessageReaction, removed bool) {
	ev := &dispatch.ReactionEvent{
		Adapter:  dc,
		Emoji:    r.Emoji.Name,
		RawEmoji: r.Emoji.APIName(),
		User: chat.Author{
			UserID: r.UserID,
			IsMe:   r.UserID == dc.botUserID,
		},
		ThreadID:  dc.EncodeThreadID(r.ChannelID),
		MessageID: r.MessageID,
		Removed:   removed,
		Raw:       r,
	}
	if err := dc.dispatcher.DispatchReaction(ctx, ev); err != nil {
		dc.log.Error().Err(err).Str("emoji", ev.Emoji).Msg("reaction dispatch failed")
	}
}

func (dc *Discord) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	author := dc.authorFrom(user)
	threadID := ""
	if i.ChannelID != "" {
		threadID = dc.EncodeThreadID(i.ChannelID)
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		// Ack immediately; handlers reply through the adapter.
		_ = dc.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
		ev := &dispatch.ActionEvent{
			Adapter:          dc,
			ActionID:         data.CustomID,
			User:             author,
			ThreadID:         threadID,
			InteractionToken: i.Token,
			Raw:              i,
		}
		if len(data.Values) > 0 {
			ev.Value = data.Values[0]
		}
		if i.Message != nil {
			ev.MessageID = i.Message.ID
		}
		if err := dc.dispatcher.DispatchAction(ctx, ev); err != nil {
			dc.log.Error().Err(err).Str("action_id", ev.ActionID).Msg("action dispatch failed")
		}

	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		var args []string
		for _, opt := range data.Options {
			args = append(args, fmt.Sprint(opt.Value))
		}
		ev := &dispatch.SlashCommandEvent{
			Adapter:   dc,
			Command:   "/" + data.Name,
			Text:      strings.Join(args, " "),
			User:      author,
			ThreadID:  threadID,
			TriggerID: i.ID,
			Raw:       i,
		}
		_ = dc.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err := dc.dispatcher.DispatchSlashCommand(ctx, ev); err != nil {
			dc.log.Error().Err(err).Str("command", ev.Command).Msg("slash command dispatch failed")
		}

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		values := make(map[string]string)
		for _, row := range data.Components {
			if ar, ok := row.(*discordgo.ActionsRow); ok {
				for _, comp := range ar.Components {
					if input, ok := comp.(*discordgo.TextInput); ok {
						values[input.CustomID] = input.Value
					}
				}
			}
		}
		ev := &dispatch.ModalSubmitEvent{
			Adapter:    dc,
			CallbackID: data.CustomID,
			Values:     values,
			User:       author,
			ThreadID:   threadID,
			Raw:        i,
		}
		if _, err := dc.dispatcher.ProcessModalSubmit(ctx, ev); err != nil {
			dc.log.Error().Err(err).Str("callback_id", ev.CallbackID).Msg("modal submit failed")
		}
		_ = dc.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func cardToComplex(card *chat.Card) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Text,
	}
	if card.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: card.ImageURL}
	}
	for _, f := range card.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Label,
			Value:  f.Value,
			Inline: true,
		})
	}
	send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if len(card.Buttons) > 0 {
		var buttons []discordgo.MessageComponent
		for _, b := range card.Buttons {
			buttons = append(buttons, discordgo.Button{
				Label:    b.Label,
				Style:    discordgo.PrimaryButton,
				CustomID: b.ActionID,
			})
		}
		send.Components = []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
	}
	return send
}

func (dc *Discord) PostMessage(ctx context.Context, threadID string, msg *chat.PostableMessage) (*chat.SentMessage, error) {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	channelID := parts[0]

	var posted *discordgo.Message
	switch msg.Mode() {
	case chat.ModeText, chat.ModeMarkdown:
		// Discord's dialect is close enough to canonical markdown to
		// pass through.
		posted, err = dc.session.ChannelMessageSend(channelID, msg.Text(), discordgo.WithContext(ctx))
	case chat.ModeCard:
		posted, err = dc.session.ChannelMessageSendComplex(channelID, cardToComplex(msg.Card()), discordgo.WithContext(ctx))
	case chat.ModeRaw:
		send, ok := msg.Raw().(*discordgo.MessageSend)
		if !ok {
			return nil, fmt.Errorf("discord: raw payload must be *discordgo.MessageSend, got %T", msg.Raw())
		}
		posted, err = dc.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	case chat.ModeStream:
		return dc.postStream(ctx, threadID, channelID, msg.Chunks())
	default:
		return nil, fmt.Errorf("discord: unsupported post mode %q", msg.Mode())
	}
	if err != nil {
		return nil, fmt.Errorf("discord: post to %s: %w", threadID, err)
	}

	sent := *dc.messageFrom(posted)
	sent.ThreadID = threadID
	return chat.NewSentMessage(sent, dc), nil
}

func (dc *Discord) postStream(ctx context.Context, threadID, channelID string, chunks <-chan string) (*chat.SentMessage, error) {
	var buf strings.Builder
	var posted *discordgo.Message
	for chunk := range chunks {
		buf.WriteString(chunk)
		var err error
		if posted == nil {
			posted, err = dc.session.ChannelMessageSend(channelID, buf.String(), discordgo.WithContext(ctx))
		} else {
			posted, err = dc.session.ChannelMessageEdit(channelID, posted.ID, buf.String(), discordgo.WithContext(ctx))
		}
		if err != nil {
			return nil, fmt.Errorf("discord: stream to %s: %w", threadID, err)
		}
	}
	if posted == nil {
		return nil, fmt.Errorf("discord: stream to %s produced no chunks", threadID)
	}
	sent := *dc.messageFrom(posted)
	sent.ThreadID = threadID
	return chat.NewSentMessage(sent, dc), nil
}

func (dc *Discord) EditMessage(ctx context.Context, threadID, messageID string, msg *chat.PostableMessage) error {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	switch msg.Mode() {
	case chat.ModeText, chat.ModeMarkdown:
		_, err = dc.session.ChannelMessageEdit(parts[0], messageID, msg.Text(), discordgo.WithContext(ctx))
	default:
		return fmt.Errorf("discord: edit supports text modes only, got %q", msg.Mode())
	}
	if err != nil {
		return fmt.Errorf("discord: edit %s: %w", messageID, err)
	}
	return nil
}

func (dc *Discord) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	if err := dc.session.ChannelMessageDelete(parts[0], messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete %s: %w", messageID, err)
	}
	return nil
}

func (dc *Discord) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	if err := dc.session.MessageReactionAdd(parts[0], messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: react %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

func (dc *Discord) RemoveReaction(ctx context.Context, threadID, messageID, emoji string) error {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	if err := dc.session.MessageReactionRemove(parts[0], messageID, emoji, dc.botUserID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: unreact %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

func (dc *Discord) StartTyping(ctx context.Context, threadID string) error {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	if err := dc.session.ChannelTyping(parts[0], discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: typing in %s: %w", threadID, err)
	}
	return nil
}

func (dc *Discord) OpenDM(ctx context.Context, userID string) (string, error) {
	ch, err := dc.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w", userID, err)
	}
	return dc.EncodeThreadID(ch.ID), nil
}

func (dc *Discord) FetchMessages(ctx context.Context, threadID string, limit int) ([]*chat.Message, error) {
	parts, err := dc.DecodeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	raw, err := dc.session.ChannelMessages(parts[0], limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetch %s: %w", threadID, err)
	}
	// Discord returns newest first; flip to newest last.
	messages := make([]*chat.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := dc.messageFrom(raw[i])
		m.ThreadID = threadID
		messages = append(messages, m)
	}
	return messages, nil
}
