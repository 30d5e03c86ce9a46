package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultQueueCapacity bounds a queue's backlog before the drop-oldest
// policy kicks in.
const DefaultQueueCapacity = 100

// Queue is a named, bounded in-process job queue. Enqueue never blocks:
// when the buffer is full the oldest job is dropped to make room, which
// keeps a stalled worker from back-pressuring webhook ingestion.
type Queue struct {
	name      string
	jobs      chan Job
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewQueue creates a queue. capacity <= 0 uses DefaultQueueCapacity.
func NewQueue(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		name: name,
		jobs: make(chan Job, capacity),
	}
}

// Name returns the queue name carried on every job.
func (q *Queue) Name() string { return q.name }

// Enqueue adds a job, dropping the oldest queued job when full. It
// returns false once the queue is closed.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
	}
	// Full: drop oldest and retry once.
	select {
	case <-q.jobs:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a job is available, the context is done or the
// queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool) {
	select {
	case job, ok := <-q.jobs:
		return job, ok
	case <-ctx.Done():
		return Job{}, false
	}
}

// Dropped returns how many jobs were discarded by the overflow policy.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops intake and lets workers drain the backlog.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.jobs)
	})
}

// Worker drains a queue into the dispatcher. Run one or many; the
// per-thread lock taken inside job execution, not enqueue order, is what
// serializes handler runs for one thread when workers are concurrent.
type Worker struct {
	dispatcher *Dispatcher
	queue      *Queue
	log        zerolog.Logger
}

// NewWorker binds a worker to a dispatcher and queue.
func NewWorker(d *Dispatcher, q *Queue) *Worker {
	return &Worker{
		dispatcher: d,
		queue:      q,
		log:        d.log.With().Str("queue", q.Name()).Logger(),
	}
}

// Run consumes jobs until the context is cancelled or the queue closes.
// Job failures are logged and not retried.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ok := w.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if err := w.dispatcher.RunJob(ctx, job); err != nil {
			w.log.Error().
				Err(err).
				Str("job_id", job.ID).
				Str("event_kind", string(job.Kind)).
				Msg("job failed")
		}
	}
}
