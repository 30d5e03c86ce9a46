package channels

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/dispatch"
)

// Slack thread ids are "slack:<channelID>:<threadTS>". threadTS is the
// root timestamp of the thread, or noThread for top-of-channel
// conversation.
const noThread = "0"

// Slack is the Slack adapter, connected over Socket Mode so no public
// webhook endpoint is needed.
type Slack struct {
	api        *slack.Client
	sock       *socketmode.Client
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	botUserID string
	userName  string
}

// NewSlack builds the adapter. botToken is the xoxb token, appToken the
// xapp app-level token with connections:write.
func NewSlack(botToken, appToken string, d *dispatch.Dispatcher, log zerolog.Logger) *Slack {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &Slack{
		api:        api,
		sock:       socketmode.New(api),
		dispatcher: d,
		log:        log.With().Str("channel", "slack").Logger(),
	}
}

func (s *Slack) Name() string      { return "slack" }
func (s *Slack) UserName() string  { return s.userName }
func (s *Slack) BotUserID() string { return s.botUserID }

// EncodeThreadID expects (channelID, threadTS); a single part gets
// noThread appended.
func (s *Slack) EncodeThreadID(parts ...string) string {
	if len(parts) == 1 {
		parts = append(parts, noThread)
	}
	return chat.EncodeThreadID(s.Name(), parts...)
}

func (s *Slack) DecodeThreadID(threadID string) ([]string, error) {
	return chat.ParseThreadID(threadID, s.Name(), 2)
}

func (s *Slack) IsDM(threadID string) bool {
	parts, err := s.DecodeThreadID(threadID)
	if err != nil {
		return false
	}
	return strings.HasPrefix(parts[0], "D")
}

// Start authenticates, then pumps Socket Mode events into the
// dispatcher until the context is cancelled.
func (s *Slack) Start(ctx context.Context) error {
	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	s.botUserID = auth.UserID
	s.userName = auth.User
	s.log.Info().Str("bot_user_id", s.botUserID).Msg("connected")

	go s.eventLoop(ctx)
	go func() {
		if err := s.sock.RunContext(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("socket mode stopped")
		}
	}()
	return nil
}

// Stop is a no-op; RunContext exits with the Start context.
func (s *Slack) Stop() error { return nil }

func (s *Slack) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.sock.Events:
			if !ok {
				return
			}
			s.handleSocketEvent(ctx, evt)
		}
	}
}

func (s *Slack) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		s.sock.Ack(*evt.Request)
		s.handleEventsAPI(ctx, apiEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		s.sock.Ack(*evt.Request)
		s.handleSlashCommand(ctx, cmd)

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		s.handleInteraction(ctx, evt, cb)
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		s.handleMessageEvent(ctx, ev)
	case *slackevents.ReactionAddedEvent:
		s.dispatchReaction(ctx, ev.User, ev.Reaction, ev.Item.Channel, ev.Item.Timestamp, false, ev)
	case *slackevents.ReactionRemovedEvent:
		s.dispatchReaction(ctx, ev.User, ev.Reaction, ev.Item.Channel, ev.Item.Timestamp, true, ev)
	}
}

func (s *Slack) dispatchReaction(ctx context.Context, userID, reaction, channelID, timestamp string, removed bool, raw any) {
	ev := &dispatch.ReactionEvent{
		Adapter:  s,
		Emoji:    reaction,
		RawEmoji: ":" + reaction + ":",
		User: chat.Author{
			UserID: userID,
			IsMe:   userID == s.botUserID,
		},
		ThreadID:  s.threadIDFor(channelID, ""),
		MessageID: timestamp,
		Removed:   removed,
		Raw:       raw,
	}
	if err := s.dispatcher.DispatchReaction(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("emoji", reaction).Msg("reaction dispatch failed")
	}
}

func (s *Slack) handleMessageEvent(ctx context.Context, ev *slackevents.MessageEvent) {
	threadID := s.threadIDFor(ev.Channel, ev.ThreadTimeStamp)

	switch ev.SubType {
	case "message_changed":
		if ev.Message == nil {
			return
		}
		change := &dispatch.MessageChangeEvent{
			Adapter:   s,
			ThreadID:  threadID,
			MessageID: ev.Message.TimeStamp,
			Message:   s.messageFromEvent(ev.Message),
			Raw:       ev,
		}
		if err := s.dispatcher.DispatchMessageEdited(ctx, change); err != nil {
			s.log.Error().Err(err).Msg("edit dispatch failed")
		}
		return
	case "message_deleted":
		change := &dispatch.MessageChangeEvent{
			Adapter:   s,
			ThreadID:  threadID,
			MessageID: ev.DeletedTimeStamp,
			Raw:       ev,
		}
		if err := s.dispatcher.DispatchMessageDeleted(ctx, change); err != nil {
			s.log.Error().Err(err).Msg("delete dispatch failed")
		}
		return
	case "":
		// plain message, falls through
	default:
		return
	}

	msg := s.messageFromEvent(ev)
	if err := s.dispatcher.DispatchIncomingMessage(ctx, s, threadID, msg); err != nil {
		s.log.Error().Err(err).Str("message_id", msg.ID).Msg("message dispatch failed")
	}
}

func (s *Slack) threadIDFor(channelID, threadTS string) string {
	if threadTS == "" {
		return s.EncodeThreadID(channelID, noThread)
	}
	return s.EncodeThreadID(channelID, threadTS)
}

func (s *Slack) messageFromEvent(ev *slackevents.MessageEvent) *chat.Message {
	isBot := ev.BotID != ""
	msg := &chat.Message{
		ID:       ev.TimeStamp,
		ThreadID: s.threadIDFor(ev.Channel, ev.ThreadTimeStamp),
		Text:     ev.Text,
		Author: chat.Author{
			UserID: ev.User,
			IsBot:  chat.Bot(isBot),
			IsMe:   ev.User != "" && ev.User == s.botUserID,
		},
		IsMention: s.botUserID != "" && strings.Contains(ev.Text, "<@"+s.botUserID+">"),
		Raw:       ev,
	}
	msg.SetMeta(chat.MetaDateSent, ev.TimeStamp)
	for _, f := range ev.Files {
		msg.Attachments = append(msg.Attachments, chat.Attachment{
			Type:     "file",
			URL:      f.URLPrivate,
			FileID:   f.ID,
			Name:     f.Name,
			MimeType: f.Mimetype,
			Size:     int64(f.Size),
		})
	}
	return msg
}

// ParseMessage accepts a *slackevents.MessageEvent payload.
func (s *Slack) ParseMessage(payload any) (*chat.Message, error) {
	ev, ok := payload.(*slackevents.MessageEvent)
	if !ok {
		return nil, fmt.Errorf("slack: unsupported payload %T", payload)
	}
	return s.messageFromEvent(ev), nil
}

func (s *Slack) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	ev := &dispatch.SlashCommandEvent{
		Adapter: s,
		Command: cmd.Command,
		Text:    cmd.Text,
		User: chat.Author{
			UserID:   cmd.UserID,
			UserName: cmd.UserName,
			IsBot:    chat.Bot(false),
			IsMe:     cmd.UserID == s.botUserID,
		},
		ThreadID:  s.threadIDFor(cmd.ChannelID, ""),
		TriggerID: cmd.TriggerID,
		Raw:       &cmd,
	}
	if err := s.dispatcher.DispatchSlashCommand(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("command", cmd.Command).Msg("slash command dispatch failed")
	}
}

func (s *Slack) handleInteraction(ctx context.Context, evt socketmode.Event, cb slack.InteractionCallback) {
	author := chat.Author{
		UserID:   cb.User.ID,
		UserName: cb.User.Name,
		IsBot:    chat.Bot(false),
		IsMe:     cb.User.ID == s.botUserID,
	}

	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		s.sock.Ack(*evt.Request)
		threadID := ""
		if cb.Container.ChannelID != "" {
			threadID = s.threadIDFor(cb.Container.ChannelID, cb.Container.ThreadTs)
		}
		for _, action := range cb.ActionCallback.BlockActions {
			ev := &dispatch.ActionEvent{
				Adapter:          s,
				ActionID:         action.ActionID,
				Value:            action.Value,
				User:             author,
				ThreadID:         threadID,
				MessageID:        cb.Container.MessageTs,
				TriggerID:        cb.TriggerID,
				InteractionToken: cb.Token,
				Raw:              &cb,
			}
			if err := s.dispatcher.DispatchAction(ctx, ev); err != nil {
				s.log.Error().Err(err).Str("action_id", action.ActionID).Msg("action dispatch failed")
			}
		}

	case slack.InteractionTypeViewSubmission:
		ev := &dispatch.ModalSubmitEvent{
			Adapter:    s,
			CallbackID: cb.View.CallbackID,
			Values:     flattenViewState(cb.View.State),
			User:       author,
			TriggerID:  cb.TriggerID,
			Raw:        &cb,
		}
		// The platform waits on the submit result, so this is always
		// inline.
		result, err := s.dispatcher.ProcessModalSubmit(ctx, ev)
		if err != nil {
			s.log.Error().Err(err).Str("callback_id", ev.CallbackID).Msg("modal submit failed")
			s.sock.Ack(*evt.Request)
			return
		}
		if result != nil {
			s.sock.Ack(*evt.Request, result)
		} else {
			s.sock.Ack(*evt.Request)
		}

	case slack.InteractionTypeViewClosed:
		s.sock.Ack(*evt.Request)
		ev := &dispatch.ModalCloseEvent{
			Adapter:    s,
			CallbackID: cb.View.CallbackID,
			User:       author,
			Raw:        &cb,
		}
		if err := s.dispatcher.ProcessModalClose(ctx, ev); err != nil {
			s.log.Error().Err(err).Str("callback_id", ev.CallbackID).Msg("modal close failed")
		}
	}
}

// flattenViewState reduces Slack's block_id/action_id nesting to one
// value per action id.
func flattenViewState(state *slack.ViewState) map[string]string {
	if state == nil {
		return nil
	}
	values := make(map[string]string)
	for _, block := range state.Values {
		for actionID, v := range block {
			switch {
			case v.Value != "":
				values[actionID] = v.Value
			case v.SelectedOption.Value != "":
				values[actionID] = v.SelectedOption.Value
			}
		}
	}
	return values
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (s *Slack) postOptions(threadTS string, msg *chat.PostableMessage) ([]slack.MsgOption, error) {
	var opts []slack.MsgOption
	if threadTS != noThread {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	switch msg.Mode() {
	case chat.ModeText:
		opts = append(opts, slack.MsgOptionText(msg.Text(), false))
	case chat.ModeMarkdown:
		opts = append(opts, slack.MsgOptionText(toMrkdwn(msg.Text()), false))
	case chat.ModeCard:
		opts = append(opts, slack.MsgOptionBlocks(cardBlocks(msg.Card())...))
	case chat.ModeFormatted:
		blocks, ok := msg.FormattedPayload().([]slack.Block)
		if !ok {
			return nil, fmt.Errorf("slack: formatted payload must be []slack.Block, got %T", msg.FormattedPayload())
		}
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	case chat.ModeRaw:
		raw, ok := msg.Raw().([]slack.MsgOption)
		if !ok {
			return nil, fmt.Errorf("slack: raw payload must be []slack.MsgOption, got %T", msg.Raw())
		}
		opts = append(opts, raw...)
	case chat.ModeStream:
		// Streaming posts the first chunk and edits the rest in; handled
		// in PostMessage.
		return nil, nil
	default:
		return nil, fmt.Errorf("slack: unsupported post mode %q", msg.Mode())
	}
	return opts, nil
}

func (s *Slack) PostMessage(ctx context.Context, threadID string, msg *chat.PostableMessage) (*chat.SentMessage, error) {
	parts, err := s.DecodeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	channelID, threadTS := parts[0], parts[1]

	if msg.Mode() == chat.ModeStream {
		return s.postStream(ctx, threadID, channelID, threadTS, msg.Chunks())
	}

	opts, err := s.postOptions(threadTS, msg)
	if err != nil {
		return nil, err
	}
	_, ts, err := s.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return nil, fmt.Errorf("slack: post to %s: %w", threadID, err)
	}
	sent := chat.Message{
		ID:       ts,
		ThreadID: threadID,
		Text:     msg.Text(),
		Author:   chat.Author{UserID: s.botUserID, UserName: s.userName, IsBot: chat.Bot(true), IsMe: true},
	}
	return chat.NewSentMessage(sent, s), nil
}

// postStream posts the first chunk, then folds later chunks in with
// message updates. Slack has no true streaming, edits are the closest
// equivalent.
func (s *Slack) postStream(ctx context.Context, threadID, channelID, threadTS string, chunks <-chan string) (*chat.SentMessage, error) {
	var buf strings.Builder
	var ts string
	for chunk := range chunks {
		buf.WriteString(chunk)
		if ts == "" {
			opts := []slack.MsgOption{slack.MsgOptionText(buf.String(), false)}
			if threadTS != noThread {
				opts = append(opts, slack.MsgOptionTS(threadTS))
			}
			var err error
			_, ts, err = s.api.PostMessageContext(ctx, channelID, opts...)
			if err != nil {
				return nil, fmt.Errorf("slack: stream post to %s: %w", threadID, err)
			}
			continue
		}
		if _, _, _, err := s.api.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(buf.String(), false)); err != nil {
			return nil, fmt.Errorf("slack: stream update %s: %w", ts, err)
		}
	}
	if ts == "" {
		return nil, fmt.Errorf("slack: stream to %s produced no chunks", threadID)
	}
	sent := chat.Message{
		ID:       ts,
		ThreadID: threadID,
		Text:     buf.String(),
		Author:   chat.Author{UserID: s.botUserID, UserName: s.userName, IsBot: chat.Bot(true), IsMe: true},
	}
	return chat.NewSentMessage(sent, s), nil
}

func (s *Slack) EditMessage(ctx context.Context, threadID, messageID string, msg *chat.PostableMessage) error {
	parts, err := s.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	opts, err := s.postOptions(noThread, msg)
	if err != nil {
		return err
	}
	if _, _, _, err := s.api.UpdateMessageContext(ctx, parts[0], messageID, opts...); err != nil {
		return fmt.Errorf("slack: edit %s: %w", messageID, err)
	}
	return nil
}

func (s *Slack) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	parts, err := s.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	if _, _, err := s.api.DeleteMessageContext(ctx, parts[0], messageID); err != nil {
		return fmt.Errorf("slack: delete %s: %w", messageID, err)
	}
	return nil
}

func (s *Slack) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	parts, err := s.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	item := slack.ItemRef{Channel: parts[0], Timestamp: messageID}
	if err := s.api.AddReactionContext(ctx, emoji, item); err != nil {
		return fmt.Errorf("slack: react %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

func (s *Slack) RemoveReaction(ctx context.Context, threadID, messageID, emoji string) error {
	parts, err := s.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	item := slack.ItemRef{Channel: parts[0], Timestamp: messageID}
	if err := s.api.RemoveReactionContext(ctx, emoji, item); err != nil {
		return fmt.Errorf("slack: unreact %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

// StartTyping is unavailable over the Web API.
func (s *Slack) StartTyping(context.Context, string) error {
	return chat.ErrNotImplemented
}

func (s *Slack) OpenDM(ctx context.Context, userID string) (string, error) {
	ch, _, _, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return "", fmt.Errorf("slack: open dm with %s: %w", userID, err)
	}
	return s.EncodeThreadID(ch.ID, noThread), nil
}

func (s *Slack) FetchMessages(ctx context.Context, threadID string, limit int) ([]*chat.Message, error) {
	parts, err := s.DecodeThreadID(threadID)
	if err != nil {
		return nil, err
	}
	channelID, threadTS := parts[0], parts[1]

	var raw []slack.Message
	if threadTS == noThread {
		resp, err := s.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     limit,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: history %s: %w", threadID, err)
		}
		// History arrives newest first; replies already run oldest first.
		raw = resp.Messages
		for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
			raw[i], raw[j] = raw[j], raw[i]
		}
	} else {
		msgs, _, _, err := s.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Limit:     limit,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: replies %s: %w", threadID, err)
		}
		raw = msgs
	}

	messages := make([]*chat.Message, 0, len(raw))
	for i := range raw {
		m := &raw[i]
		isBot := m.BotID != ""
		messages = append(messages, &chat.Message{
			ID:       m.Timestamp,
			ThreadID: threadID,
			Text:     m.Text,
			Author: chat.Author{
				UserID: m.User,
				IsBot:  chat.Bot(isBot),
				IsMe:   m.User != "" && m.User == s.botUserID,
			},
			Raw: m,
		})
	}
	return messages, nil
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

var mdLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// toMrkdwn converts canonical markdown to Slack's mrkdwn dialect: bold
// and links differ, the rest passes through.
func toMrkdwn(text string) string {
	text = mdLink.ReplaceAllString(text, "<$2|$1>")
	return strings.ReplaceAll(text, "**", "*")
}

func cardBlocks(card *chat.Card) []slack.Block {
	var blocks []slack.Block
	if card == nil {
		return blocks
	}
	if card.Title != "" {
		blocks = append(blocks, slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, card.Title, false, false)))
	}
	if card.Text != "" || len(card.Fields) > 0 {
		var text *slack.TextBlockObject
		if card.Text != "" {
			text = slack.NewTextBlockObject(slack.MarkdownType, toMrkdwn(card.Text), false, false)
		}
		var fields []*slack.TextBlockObject
		for _, f := range card.Fields {
			fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", f.Label, f.Value), false, false))
		}
		blocks = append(blocks, slack.NewSectionBlock(text, fields, nil))
	}
	if card.ImageURL != "" {
		blocks = append(blocks, slack.NewImageBlock(card.ImageURL, "image", "", nil))
	}
	if len(card.Buttons) > 0 {
		var elems []slack.BlockElement
		for _, b := range card.Buttons {
			elems = append(elems, slack.NewButtonBlockElement(b.ActionID, b.Value,
				slack.NewTextBlockObject(slack.PlainTextType, b.Label, false, false)))
		}
		blocks = append(blocks, slack.NewActionBlock("", elems...))
	}
	return blocks
}
