// Package dispatch is the event routing engine: it normalizes inbound
// chat events onto application-registered handlers under the dedup,
// locking and priority rules the rest of the system relies on, and
// chooses between synchronous and queued execution behind one submit
// path.
package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/eventbus"
)

// DefaultDedupTTL bounds the window in which a redelivered webhook for
// the same (adapter, message id) pair is treated as a duplicate.
const DefaultDedupTTL = 300 * time.Second

type patternRegistration struct {
	pattern *regexp.Regexp
	fn      MessageHandler
}

type actionRegistration struct {
	filter Filter
	fn     ActionHandler
}

type reactionRegistration struct {
	filter Filter
	fn     ReactionHandler
}

type commandRegistration struct {
	filter Filter
	fn     SlashCommandHandler
}

type modalSubmitRegistration struct {
	filter Filter
	fn     ModalSubmitHandler
}

type modalCloseRegistration struct {
	filter Filter
	fn     ModalCloseHandler
}

// Dispatcher owns the adapter registry and the handler registries and
// runs the routing state machine. Construct it once per process;
// registering handlers concurrently with dispatch is safe but normally
// everything is registered during startup.
//
// The dispatcher is a thin, non-resilient router: it adds exactly one
// guarantee (the per-thread lock is always released) on top of whatever
// the caller does. Handler errors propagate; nothing is retried.
type Dispatcher struct {
	log      zerolog.Logger
	backend  chat.StateBackend
	bus      *eventbus.Bus
	exec     Executor
	dedupTTL time.Duration

	mu       sync.RWMutex
	adapters map[string]chat.Adapter

	mention       []MessageHandler
	subscribed    []MessageHandler
	patterns      []patternRegistration
	actions       []actionRegistration
	reactions     []reactionRegistration
	commands      []commandRegistration
	modalSubmits  []modalSubmitRegistration
	modalCloses   []modalCloseRegistration
	reactionAdds  []ReactionHandler
	reactionDrops []ReactionHandler
	edits         []MessageChangeHandler
	deletes       []MessageChangeHandler
	subscribes    []SubscriptionHandler
	unsubscribes  []SubscriptionHandler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBackend sets the state backend. Without one the dispatcher runs
// with no dedup, no locking and no subscriptions.
func WithBackend(sb chat.StateBackend) Option {
	return func(d *Dispatcher) { d.backend = sb }
}

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithDedupTTL overrides DefaultDedupTTL.
func WithDedupTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.dedupTTL = ttl }
}

// WithLifecycleBus attaches an event bus receiving dispatch lifecycle
// events for observability.
func WithLifecycleBus(bus *eventbus.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithExecutor selects the execution mode. Default is inline
// (synchronous); use a QueueExecutor for queued dispatch.
func WithExecutor(exec Executor) Option {
	return func(d *Dispatcher) { d.exec = exec }
}

// New creates a dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:      zerolog.Nop(),
		dedupTTL: DefaultDedupTTL,
		adapters: make(map[string]chat.Adapter),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.exec == nil {
		d.exec = &InlineExecutor{Dispatcher: d}
	}
	return d
}

// RegisterAdapter adds an adapter to the registry, replacing any previous
// adapter with the same name. The dispatcher exclusively owns the
// registry; threads and jobs resolve adapters through it by name.
func (d *Dispatcher) RegisterAdapter(a chat.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[a.Name()] = a
}

// AdapterByName resolves a registered adapter.
func (d *Dispatcher) AdapterByName(name string) (chat.Adapter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.adapters[name]
	return a, ok
}

// Backend returns the configured state backend, or nil.
func (d *Dispatcher) Backend() chat.StateBackend { return d.backend }

// ---------------------------------------------------------------------------
// Handler registration. Insertion order is invocation order; registering
// the same handler twice adds two entries.
// ---------------------------------------------------------------------------

// OnNewMention registers a handler for messages mentioning the bot in
// unsubscribed threads.
func (d *Dispatcher) OnNewMention(h MessageHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mention = append(d.mention, h)
	return d
}

// OnSubscribedMessage registers a handler for any message in a
// subscribed thread.
func (d *Dispatcher) OnSubscribedMessage(h MessageHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribed = append(d.subscribed, h)
	return d
}

// OnNewMessage registers a pattern handler. It fires whenever the
// pattern matches the message text, regardless of subscription or
// mention status.
func (d *Dispatcher) OnNewMessage(pattern *regexp.Regexp, h MessageHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, patternRegistration{pattern: pattern, fn: h})
	return d
}

// OnAction registers a handler for component interactions, filtered by
// action id.
func (d *Dispatcher) OnAction(f Filter, h ActionHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, actionRegistration{filter: f, fn: h})
	return d
}

// OnReaction registers a handler for reaction events, filtered by
// canonical emoji name. It fires for both added and removed reactions;
// check ReactionEvent.Removed to distinguish.
func (d *Dispatcher) OnReaction(f Filter, h ReactionHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactions = append(d.reactions, reactionRegistration{filter: f, fn: h})
	return d
}

// OnSlashCommand registers a handler for slash commands. "help" and
// "/help" are equivalent filters.
func (d *Dispatcher) OnSlashCommand(f Filter, h SlashCommandHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, commandRegistration{filter: f, fn: h})
	return d
}

// OnModalSubmit registers a handler for modal submissions, filtered by
// callback id. The first matching handler returning a non-nil result
// determines the submit response.
func (d *Dispatcher) OnModalSubmit(f Filter, h ModalSubmitHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modalSubmits = append(d.modalSubmits, modalSubmitRegistration{filter: f, fn: h})
	return d
}

// OnModalClose registers a handler for dismissed modals, filtered by
// callback id.
func (d *Dispatcher) OnModalClose(f Filter, h ModalCloseHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modalCloses = append(d.modalCloses, modalCloseRegistration{filter: f, fn: h})
	return d
}

// OnReactionAdded registers an unfiltered handler that fires only for
// added reactions.
func (d *Dispatcher) OnReactionAdded(h ReactionHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactionAdds = append(d.reactionAdds, h)
	return d
}

// OnReactionRemoved registers an unfiltered handler that fires only for
// removed reactions.
func (d *Dispatcher) OnReactionRemoved(h ReactionHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactionDrops = append(d.reactionDrops, h)
	return d
}

// OnMessageEdited registers a handler for message edits.
func (d *Dispatcher) OnMessageEdited(h MessageChangeHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edits = append(d.edits, h)
	return d
}

// OnMessageDeleted registers a handler for message deletions.
func (d *Dispatcher) OnMessageDeleted(h MessageChangeHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes = append(d.deletes, h)
	return d
}

// OnSubscribe registers a handler invoked after a thread is subscribed.
func (d *Dispatcher) OnSubscribe(h SubscriptionHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribes = append(d.subscribes, h)
	return d
}

// OnUnsubscribe registers a handler invoked after a thread is
// unsubscribed.
func (d *Dispatcher) OnUnsubscribe(h SubscriptionHandler) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsubscribes = append(d.unsubscribes, h)
	return d
}

// ---------------------------------------------------------------------------
// Incoming message state machine
// ---------------------------------------------------------------------------

func dedupeKey(adapterName, messageID string) string {
	return fmt.Sprintf("dedupe:%s:%s", adapterName, messageID)
}

// detectMention checks for "@<botUserName>" or "@<botUserId>" as a raw
// substring of the message text. No word-boundary checks: this is
// intentionally permissive and can false-positive inside longer tokens
// or code blocks; handler-visible semantics depend on it.
func detectMention(adapter chat.Adapter, msg *chat.Message) bool {
	if name := adapter.UserName(); name != "" && strings.Contains(msg.Text, "@"+name) {
		return true
	}
	if id := adapter.BotUserID(); id != "" && strings.Contains(msg.Text, "@"+id) {
		return true
	}
	return false
}

// HandleIncomingMessage runs the full routing state machine for one
// inbound message: self-filter, dedup, per-thread lock, subscription/
// mention classification, handler fan-out.
//
// The dedup key is written before any handler runs and is not rolled
// back if a handler fails; handlers are fire-and-forget with respect to
// webhook redelivery. A handler error aborts the remaining fan-out and
// propagates after the lock is released.
func (d *Dispatcher) HandleIncomingMessage(ctx context.Context, adapter chat.Adapter, threadID string, msg *chat.Message) (err error) {
	log := d.log.With().
		Str("adapter", adapter.Name()).
		Str("thread_id", threadID).
		Str("message_id", msg.ID).
		Logger()

	// Self-authored messages are discarded before dedup and locking to
	// prevent feedback loops.
	if msg.Author.IsMe {
		d.publish(eventbus.MessageSelfDropped, adapter.Name(), threadID, msg.ID)
		return nil
	}
	d.publish(eventbus.MessageReceived, adapter.Name(), threadID, msg.ID)

	if d.backend != nil {
		key := dedupeKey(adapter.Name(), msg.ID)
		if _, seen, derr := d.backend.Get(ctx, key); derr != nil {
			log.Warn().Err(derr).Msg("dedup read failed, treating message as new")
		} else if seen {
			d.publish(eventbus.MessageDeduped, adapter.Name(), threadID, msg.ID)
			log.Debug().Msg("duplicate delivery dropped")
			return nil
		}
		if derr := d.backend.Set(ctx, key, "1", d.dedupTTL); derr != nil {
			log.Warn().Err(derr).Msg("dedup write failed")
		}

		lock, lerr := d.backend.AcquireLock(ctx, threadID)
		if lerr != nil {
			return fmt.Errorf("dispatch: acquire lock for %s: %w", threadID, lerr)
		}
		defer func() {
			if rerr := d.backend.ReleaseLock(ctx, lock); rerr != nil {
				log.Error().Err(rerr).Msg("lock release failed")
			}
		}()
	}

	thread := chat.NewThread(threadID, adapter, d)
	thread.CurrentMessage = msg

	isSubscribed := false
	if d.backend != nil {
		sub, serr := d.backend.IsSubscribed(ctx, threadID)
		if serr != nil {
			log.Warn().Err(serr).Msg("subscription read failed, treating thread as unsubscribed")
		} else {
			isSubscribed = sub
		}
	}
	isMention := msg.IsMention || detectMention(adapter, msg)

	d.mu.RLock()
	mention := append([]MessageHandler(nil), d.mention...)
	subscribed := append([]MessageHandler(nil), d.subscribed...)
	patterns := append([]patternRegistration(nil), d.patterns...)
	d.mu.RUnlock()

	defer func() {
		if err != nil {
			d.publish(eventbus.HandlerFailed, adapter.Name(), threadID, err.Error())
		}
	}()

	// Subscription beats mention; neither fires for a plain message in
	// an unsubscribed thread.
	switch {
	case isSubscribed:
		for _, h := range subscribed {
			if err = h(ctx, thread, msg); err != nil {
				return err
			}
		}
	case isMention:
		for _, h := range mention {
			if err = h(ctx, thread, msg); err != nil {
				return err
			}
		}
	}

	// Pattern handlers always fire, regardless of subscription or
	// mention status.
	for _, reg := range patterns {
		if reg.pattern.MatchString(msg.Text) {
			if err = reg.fn(ctx, thread, msg); err != nil {
				return err
			}
		}
	}

	d.publish(eventbus.MessageRouted, adapter.Name(), threadID, msg.ID)
	return nil
}

// ---------------------------------------------------------------------------
// Interaction processing
// ---------------------------------------------------------------------------

// resolveThread builds the thread handle injected into interaction
// events. Events without a thread id get no thread.
func (d *Dispatcher) resolveThread(adapter chat.Adapter, threadID string) *chat.Thread {
	if threadID == "" {
		return nil
	}
	return chat.NewThread(threadID, adapter, d)
}

// ProcessAction routes one action event through the action registry.
func (d *Dispatcher) ProcessAction(ctx context.Context, ev *ActionEvent) error {
	if ev.User.IsMe {
		return nil
	}
	ev.Thread = d.resolveThread(ev.Adapter, ev.ThreadID)

	d.mu.RLock()
	regs := append([]actionRegistration(nil), d.actions...)
	d.mu.RUnlock()

	for _, reg := range regs {
		if reg.filter.Matches(ev.ActionID) {
			if err := reg.fn(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessReaction routes one reaction event. Filtered OnReaction
// handlers fire for both directions; OnReactionAdded/OnReactionRemoved
// fire for their direction only.
func (d *Dispatcher) ProcessReaction(ctx context.Context, ev *ReactionEvent) error {
	if ev.User.IsMe {
		return nil
	}
	ev.Thread = d.resolveThread(ev.Adapter, ev.ThreadID)

	d.mu.RLock()
	regs := append([]reactionRegistration(nil), d.reactions...)
	adds := append([]ReactionHandler(nil), d.reactionAdds...)
	drops := append([]ReactionHandler(nil), d.reactionDrops...)
	d.mu.RUnlock()

	for _, reg := range regs {
		if reg.filter.Matches(ev.Emoji) {
			if err := reg.fn(ctx, ev); err != nil {
				return err
			}
		}
	}
	directed := adds
	if ev.Removed {
		directed = drops
	}
	for _, h := range directed {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// ProcessSlashCommand routes one slash command, with "/" prefix
// normalization on both the filter and the incoming command.
func (d *Dispatcher) ProcessSlashCommand(ctx context.Context, ev *SlashCommandEvent) error {
	if ev.User.IsMe {
		return nil
	}
	ev.Thread = d.resolveThread(ev.Adapter, ev.ThreadID)

	d.mu.RLock()
	regs := append([]commandRegistration(nil), d.commands...)
	d.mu.RUnlock()

	for _, reg := range regs {
		if reg.filter.matches(ev.Command, normalizeCommand) {
			if err := reg.fn(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessModalSubmit routes a modal submission and returns the first
// non-nil handler result as the immediate response payload for the
// platform. Non-matching and nil-returning handlers do not short-
// circuit; once a non-nil result is obtained, later handlers are
// skipped. Modal submissions have no actor-based self-filter.
//
// Modal events are always processed inline; there is no queued path,
// because the platform is waiting on the result.
func (d *Dispatcher) ProcessModalSubmit(ctx context.Context, ev *ModalSubmitEvent) (any, error) {
	ev.Thread = d.resolveThread(ev.Adapter, ev.ThreadID)

	d.mu.RLock()
	regs := append([]modalSubmitRegistration(nil), d.modalSubmits...)
	d.mu.RUnlock()

	for _, reg := range regs {
		if !reg.filter.Matches(ev.CallbackID) {
			continue
		}
		result, err := reg.fn(ctx, ev)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// ProcessModalClose routes a dismissed modal through the close registry.
func (d *Dispatcher) ProcessModalClose(ctx context.Context, ev *ModalCloseEvent) error {
	ev.Thread = d.resolveThread(ev.Adapter, ev.ThreadID)

	d.mu.RLock()
	regs := append([]modalCloseRegistration(nil), d.modalCloses...)
	d.mu.RUnlock()

	for _, reg := range regs {
		if reg.filter.Matches(ev.CallbackID) {
			if err := reg.fn(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessMessageChange routes an edit or deletion to the matching
// registry.
func (d *Dispatcher) ProcessMessageChange(ctx context.Context, ev *MessageChangeEvent) error {
	ev.Thread = d.resolveThread(ev.Adapter, ev.ThreadID)

	d.mu.RLock()
	handlers := append([]MessageChangeHandler(nil), d.edits...)
	if ev.Deleted {
		handlers = append([]MessageChangeHandler(nil), d.deletes...)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// SubscriptionChanged implements chat.Chat: it runs the subscribe or
// unsubscribe fan-out after a thread's flag flips.
func (d *Dispatcher) SubscriptionChanged(ctx context.Context, thread *chat.Thread, subscribed bool) error {
	ev := &SubscriptionEvent{
		Adapter:    thread.Adapter(),
		Thread:     thread,
		ThreadID:   thread.ID,
		Subscribed: subscribed,
	}
	d.publish(eventbus.SubscriptionChanged, ev.Adapter.Name(), thread.ID, subscribed)

	d.mu.RLock()
	handlers := append([]SubscriptionHandler(nil), d.subscribes...)
	if !subscribed {
		handlers = append([]SubscriptionHandler(nil), d.unsubscribes...)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) publish(t eventbus.Type, adapter, threadID string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: t, Adapter: adapter, ThreadID: threadID, Data: data})
}
