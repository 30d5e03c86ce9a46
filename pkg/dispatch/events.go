package dispatch

import (
	"context"

	"github.com/courierbot/courier/pkg/chat"
)

// Kind names a dispatchable event category in serialized jobs.
type Kind string

const (
	KindIncomingMessage Kind = "incoming_message"
	KindAction          Kind = "action"
	KindReaction        Kind = "reaction"
	KindSlashCommand    Kind = "slash_command"
	KindMessageEdited   Kind = "message_edited"
	KindMessageDeleted  Kind = "message_deleted"
)

// Event is a unit the dispatcher can execute inline or enqueue. The
// Adapter and Thread fields on concrete events are excluded from the
// wire form; the queue worker re-resolves the adapter by name and the
// processing functions rebuild the thread.
type Event interface {
	Kind() Kind
	AdapterName() string
}

// IncomingMessage wraps a parsed message for dispatch.
type IncomingMessage struct {
	Adapter  chat.Adapter  `json:"-"`
	ThreadID string        `json:"thread_id"`
	Message  *chat.Message `json:"message"`
}

func (e *IncomingMessage) Kind() Kind          { return KindIncomingMessage }
func (e *IncomingMessage) AdapterName() string { return e.Adapter.Name() }

// ActionEvent is a button click or other component interaction.
type ActionEvent struct {
	Adapter chat.Adapter `json:"-"`
	// Thread is set by the dispatcher before handlers run, when the
	// event carries a thread id.
	Thread *chat.Thread `json:"-"`

	ActionID         string            `json:"action_id"`
	Value            string            `json:"value,omitempty"`
	Values           map[string]string `json:"values,omitempty"`
	User             chat.Author       `json:"user"`
	ThreadID         string            `json:"thread_id,omitempty"`
	MessageID        string            `json:"message_id,omitempty"`
	TriggerID        string            `json:"trigger_id,omitempty"`
	InteractionToken string            `json:"interaction_token,omitempty"`

	Raw any `json:"-"`
}

func (e *ActionEvent) Kind() Kind          { return KindAction }
func (e *ActionEvent) AdapterName() string { return e.Adapter.Name() }

// ReactionEvent is an emoji reaction added to or removed from a message.
type ReactionEvent struct {
	Adapter chat.Adapter `json:"-"`
	Thread  *chat.Thread `json:"-"`

	// Emoji is the canonical name ("thumbsup"); RawEmoji is the
	// platform-native form when it differs (unicode glyph, ":+1:", …).
	Emoji     string      `json:"emoji"`
	RawEmoji  string      `json:"raw_emoji,omitempty"`
	User      chat.Author `json:"user"`
	ThreadID  string      `json:"thread_id,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Removed   bool        `json:"removed,omitempty"`

	Raw any `json:"-"`
}

func (e *ReactionEvent) Kind() Kind          { return KindReaction }
func (e *ReactionEvent) AdapterName() string { return e.Adapter.Name() }

// SlashCommandEvent is an invoked slash command. Command keeps whatever
// prefix the platform delivered; filter matching strips "/" from both
// sides.
type SlashCommandEvent struct {
	Adapter chat.Adapter `json:"-"`
	Thread  *chat.Thread `json:"-"`

	Command   string      `json:"command"`
	Text      string      `json:"text,omitempty"`
	User      chat.Author `json:"user"`
	ThreadID  string      `json:"thread_id,omitempty"`
	TriggerID string      `json:"trigger_id,omitempty"`

	Raw any `json:"-"`
}

func (e *SlashCommandEvent) Kind() Kind          { return KindSlashCommand }
func (e *SlashCommandEvent) AdapterName() string { return e.Adapter.Name() }

// ModalSubmitEvent is a submitted modal/dialog. Modal events are never
// queued: the platform waits on the submit result.
type ModalSubmitEvent struct {
	Adapter chat.Adapter `json:"-"`
	Thread  *chat.Thread `json:"-"`

	CallbackID string            `json:"callback_id"`
	Values     map[string]string `json:"values,omitempty"`
	User       chat.Author       `json:"user"`
	ThreadID   string            `json:"thread_id,omitempty"`
	TriggerID  string            `json:"trigger_id,omitempty"`

	Raw any `json:"-"`
}

// ModalCloseEvent is a dismissed modal/dialog.
type ModalCloseEvent struct {
	Adapter chat.Adapter `json:"-"`
	Thread  *chat.Thread `json:"-"`

	CallbackID string      `json:"callback_id"`
	User       chat.Author `json:"user"`
	ThreadID   string      `json:"thread_id,omitempty"`

	Raw any `json:"-"`
}

// MessageChangeEvent is an edit or deletion of an existing message.
// Message carries the new content for edits and is nil for deletions.
type MessageChangeEvent struct {
	Adapter chat.Adapter `json:"-"`
	Thread  *chat.Thread `json:"-"`

	ThreadID  string        `json:"thread_id"`
	MessageID string        `json:"message_id"`
	Message   *chat.Message `json:"message,omitempty"`
	Deleted   bool          `json:"deleted,omitempty"`

	Raw any `json:"-"`
}

func (e *MessageChangeEvent) Kind() Kind {
	if e.Deleted {
		return KindMessageDeleted
	}
	return KindMessageEdited
}
func (e *MessageChangeEvent) AdapterName() string { return e.Adapter.Name() }

// SubscriptionEvent reports a thread's subscription flag flipping. It is
// produced synchronously by Thread.Subscribe/Unsubscribe and never
// queued.
type SubscriptionEvent struct {
	Adapter    chat.Adapter
	Thread     *chat.Thread
	ThreadID   string
	Subscribed bool
}

// Handler signatures, one per registry.
type (
	MessageHandler       func(ctx context.Context, thread *chat.Thread, msg *chat.Message) error
	ActionHandler        func(ctx context.Context, ev *ActionEvent) error
	ReactionHandler      func(ctx context.Context, ev *ReactionEvent) error
	SlashCommandHandler  func(ctx context.Context, ev *SlashCommandEvent) error
	ModalCloseHandler    func(ctx context.Context, ev *ModalCloseEvent) error
	MessageChangeHandler func(ctx context.Context, ev *MessageChangeEvent) error
	SubscriptionHandler  func(ctx context.Context, ev *SubscriptionEvent) error

	// ModalSubmitHandler returns a non-nil result to answer the platform
	// immediately; the first non-nil result wins and later handlers are
	// skipped.
	ModalSubmitHandler func(ctx context.Context, ev *ModalSubmitEvent) (any, error)
)
