package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/dispatch"
)

// Console is a local terminal adapter for development: stdin lines
// become incoming messages on the "console:local" thread and outbound
// messages print to stdout. Lines starting with "/" become slash
// commands.
type Console struct {
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
	rl         *readline.Instance
	seq        int
}

// NewConsole builds the adapter.
func NewConsole(d *dispatch.Dispatcher, log zerolog.Logger) *Console {
	return &Console{
		dispatcher: d,
		log:        log.With().Str("channel", "console").Logger(),
	}
}

func (c *Console) Name() string      { return "console" }
func (c *Console) UserName() string  { return "courier" }
func (c *Console) BotUserID() string { return "courier" }

func (c *Console) EncodeThreadID(parts ...string) string {
	return chat.EncodeThreadID(c.Name(), parts...)
}

func (c *Console) DecodeThreadID(threadID string) ([]string, error) {
	return chat.ParseThreadID(threadID, c.Name(), 1)
}

// IsDM: the console is always a direct conversation.
func (c *Console) IsDM(string) bool { return true }

func (c *Console) localThread() string { return c.EncodeThreadID("local") }

// Start reads lines until EOF or context cancellation.
func (c *Console) Start(ctx context.Context) error {
	rl, err := readline.New("> ")
	if err != nil {
		return fmt.Errorf("console: init readline: %w", err)
	}
	c.rl = rl

	go func() {
		<-ctx.Done()
		rl.Close()
	}()
	go c.readLoop(ctx)
	return nil
}

// Stop closes the readline instance.
func (c *Console) Stop() error {
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

func (c *Console) readLoop(ctx context.Context) {
	for {
		line, err := c.rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.handleLine(ctx, line)
	}
}

func (c *Console) handleLine(ctx context.Context, line string) {
	author := chat.Author{
		UserID:   "local-user",
		UserName: "you",
		IsBot:    chat.Bot(false),
	}

	if strings.HasPrefix(line, "/") {
		command, rest, _ := strings.Cut(line, " ")
		ev := &dispatch.SlashCommandEvent{
			Adapter:  c,
			Command:  command,
			Text:     strings.TrimSpace(rest),
			User:     author,
			ThreadID: c.localThread(),
			Raw:      line,
		}
		if err := c.dispatcher.DispatchSlashCommand(ctx, ev); err != nil {
			c.log.Error().Err(err).Str("command", command).Msg("slash command dispatch failed")
		}
		return
	}

	c.seq++
	msg := &chat.Message{
		ID:       strconv.Itoa(c.seq),
		ThreadID: c.localThread(),
		Text:     line,
		Author:   author,
		Raw:      line,
	}
	msg.SetMeta(chat.MetaDateSent, time.Now().UTC().Format(time.RFC3339))
	if err := c.dispatcher.DispatchIncomingMessage(ctx, c, msg.ThreadID, msg); err != nil {
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("message dispatch failed")
	}
}

// ParseMessage accepts a plain string payload.
func (c *Console) ParseMessage(payload any) (*chat.Message, error) {
	text, ok := payload.(string)
	if !ok {
		return nil, fmt.Errorf("console: unsupported payload %T", payload)
	}
	c.seq++
	return &chat.Message{
		ID:       strconv.Itoa(c.seq),
		ThreadID: c.localThread(),
		Text:     text,
		Author:   chat.Author{UserID: "local-user", UserName: "you", IsBot: chat.Bot(false)},
		Raw:      payload,
	}, nil
}

func (c *Console) render(msg *chat.PostableMessage) string {
	switch msg.Mode() {
	case chat.ModeText, chat.ModeMarkdown:
		return msg.Text()
	case chat.ModeCard:
		return cardToText(msg.Card())
	case chat.ModeRaw:
		return fmt.Sprint(msg.Raw())
	default:
		return ""
	}
}

func (c *Console) PostMessage(_ context.Context, threadID string, msg *chat.PostableMessage) (*chat.SentMessage, error) {
	if _, err := c.DecodeThreadID(threadID); err != nil {
		return nil, err
	}

	var text string
	if msg.Mode() == chat.ModeStream {
		var b strings.Builder
		for chunk := range msg.Chunks() {
			fmt.Print(chunk)
			b.WriteString(chunk)
		}
		fmt.Println()
		text = b.String()
	} else {
		text = c.render(msg)
		fmt.Println(text)
	}

	c.seq++
	sent := chat.Message{
		ID:       strconv.Itoa(c.seq),
		ThreadID: threadID,
		Text:     text,
		Author:   chat.Author{UserID: c.BotUserID(), UserName: c.UserName(), IsBot: chat.Bot(true), IsMe: true},
	}
	return chat.NewSentMessage(sent, c), nil
}

func (c *Console) EditMessage(_ context.Context, _, messageID string, msg *chat.PostableMessage) error {
	fmt.Printf("[edit %s] %s\n", messageID, c.render(msg))
	return nil
}

func (c *Console) DeleteMessage(_ context.Context, _, messageID string) error {
	fmt.Printf("[delete %s]\n", messageID)
	return nil
}

func (c *Console) AddReaction(_ context.Context, _, messageID, emoji string) error {
	fmt.Printf("[react %s: %s]\n", messageID, emoji)
	return nil
}

func (c *Console) RemoveReaction(_ context.Context, _, messageID, emoji string) error {
	fmt.Printf("[unreact %s: %s]\n", messageID, emoji)
	return nil
}

func (c *Console) StartTyping(context.Context, string) error { return nil }

func (c *Console) OpenDM(context.Context, string) (string, error) {
	return c.localThread(), nil
}

func (c *Console) FetchMessages(context.Context, string, int) ([]*chat.Message, error) {
	return nil, chat.ErrNotImplemented
}
