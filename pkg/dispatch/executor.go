package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/courierbot/courier/pkg/chat"
	"github.com/courierbot/courier/pkg/eventbus"
)

// Executor decides how a submitted event is executed: inline on the
// caller's stack, or serialized onto a queue for a worker. Handlers
// cannot tell the difference except by latency.
type Executor interface {
	Execute(ctx context.Context, ev Event) error
}

// Dispatch entry points. Each submits through the configured executor;
// with the default InlineExecutor failures propagate to the caller, with
// a QueueExecutor the call returns once the job is accepted and the
// per-thread lock inside job execution is what serializes handler runs.

// DispatchIncomingMessage submits a parsed inbound message.
func (d *Dispatcher) DispatchIncomingMessage(ctx context.Context, adapter chat.Adapter, threadID string, msg *chat.Message) error {
	return d.submit(ctx, &IncomingMessage{Adapter: adapter, ThreadID: threadID, Message: msg})
}

// DispatchAction submits an action event.
func (d *Dispatcher) DispatchAction(ctx context.Context, ev *ActionEvent) error {
	return d.submit(ctx, ev)
}

// DispatchReaction submits a reaction event.
func (d *Dispatcher) DispatchReaction(ctx context.Context, ev *ReactionEvent) error {
	return d.submit(ctx, ev)
}

// DispatchSlashCommand submits a slash-command event.
func (d *Dispatcher) DispatchSlashCommand(ctx context.Context, ev *SlashCommandEvent) error {
	return d.submit(ctx, ev)
}

// DispatchMessageEdited submits a message-edit event.
func (d *Dispatcher) DispatchMessageEdited(ctx context.Context, ev *MessageChangeEvent) error {
	ev.Deleted = false
	return d.submit(ctx, ev)
}

// DispatchMessageDeleted submits a message-deletion event.
func (d *Dispatcher) DispatchMessageDeleted(ctx context.Context, ev *MessageChangeEvent) error {
	ev.Deleted = true
	return d.submit(ctx, ev)
}

func (d *Dispatcher) submit(ctx context.Context, ev Event) error {
	return d.exec.Execute(ctx, ev)
}

// InlineExecutor runs events synchronously on the caller's stack.
type InlineExecutor struct {
	Dispatcher *Dispatcher
}

// Execute routes the event to its processing function.
func (e *InlineExecutor) Execute(ctx context.Context, ev Event) error {
	d := e.Dispatcher
	switch ev := ev.(type) {
	case *IncomingMessage:
		return d.HandleIncomingMessage(ctx, ev.Adapter, ev.ThreadID, ev.Message)
	case *ActionEvent:
		return d.ProcessAction(ctx, ev)
	case *ReactionEvent:
		return d.ProcessReaction(ctx, ev)
	case *SlashCommandEvent:
		return d.ProcessSlashCommand(ctx, ev)
	case *MessageChangeEvent:
		return d.ProcessMessageChange(ctx, ev)
	default:
		return fmt.Errorf("dispatch: unknown event kind %q", ev.Kind())
	}
}

// ---------------------------------------------------------------------------
// Queued execution
// ---------------------------------------------------------------------------

// Job is the serialized form of a queued event. Payload is the event's
// wire JSON with the adapter reference stripped; the worker re-resolves
// the adapter by name.
type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"event_kind"`
	AdapterName string          `json:"adapter_name"`
	Queue       string          `json:"queue,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// EncodeJob serializes an event into a named job.
func EncodeJob(ev Event, queueName string) (Job, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Job{}, fmt.Errorf("dispatch: encode %s job: %w", ev.Kind(), err)
	}
	return Job{
		ID:          uuid.NewString(),
		Kind:        ev.Kind(),
		AdapterName: ev.AdapterName(),
		Queue:       queueName,
		Payload:     payload,
	}, nil
}

// RunJob decodes a job, re-resolves its adapter and executes it inline.
// Queue workers call this; queued dispatch is therefore at-least-once
// and ordering-independent across threads.
func (d *Dispatcher) RunJob(ctx context.Context, job Job) error {
	adapter, ok := d.AdapterByName(job.AdapterName)
	if !ok {
		return fmt.Errorf("dispatch: job %s references unknown adapter %q", job.ID, job.AdapterName)
	}

	decode := func(v any) error {
		if err := json.Unmarshal(job.Payload, v); err != nil {
			return fmt.Errorf("dispatch: decode %s job %s: %w", job.Kind, job.ID, err)
		}
		return nil
	}

	switch job.Kind {
	case KindIncomingMessage:
		var ev IncomingMessage
		if err := decode(&ev); err != nil {
			return err
		}
		return d.HandleIncomingMessage(ctx, adapter, ev.ThreadID, ev.Message)
	case KindAction:
		var ev ActionEvent
		if err := decode(&ev); err != nil {
			return err
		}
		ev.Adapter = adapter
		return d.ProcessAction(ctx, &ev)
	case KindReaction:
		var ev ReactionEvent
		if err := decode(&ev); err != nil {
			return err
		}
		ev.Adapter = adapter
		return d.ProcessReaction(ctx, &ev)
	case KindSlashCommand:
		var ev SlashCommandEvent
		if err := decode(&ev); err != nil {
			return err
		}
		ev.Adapter = adapter
		return d.ProcessSlashCommand(ctx, &ev)
	case KindMessageEdited, KindMessageDeleted:
		var ev MessageChangeEvent
		if err := decode(&ev); err != nil {
			return err
		}
		ev.Adapter = adapter
		ev.Deleted = job.Kind == KindMessageDeleted
		return d.ProcessMessageChange(ctx, &ev)
	default:
		return fmt.Errorf("dispatch: job %s has unknown kind %q", job.ID, job.Kind)
	}
}

// QueueExecutor serializes events onto an in-process queue. Enqueueing
// never blocks; under sustained overflow the oldest job is dropped.
type QueueExecutor struct {
	queue *Queue
	bus   *eventbus.Bus
}

// NewQueueExecutor wraps a queue. bus may be nil.
func NewQueueExecutor(q *Queue, bus *eventbus.Bus) *QueueExecutor {
	return &QueueExecutor{queue: q, bus: bus}
}

// Execute serializes the event and enqueues it.
func (e *QueueExecutor) Execute(ctx context.Context, ev Event) error {
	job, err := EncodeJob(ev, e.queue.Name())
	if err != nil {
		return err
	}
	if !e.queue.Enqueue(job) {
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.JobDropped, Adapter: job.AdapterName, Data: job.ID})
		}
		return fmt.Errorf("dispatch: queue %q rejected job %s", e.queue.Name(), job.ID)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.JobEnqueued, Adapter: job.AdapterName, Data: job.ID})
	}
	return nil
}
