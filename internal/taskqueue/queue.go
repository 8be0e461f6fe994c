// Package taskqueue provides named FIFO work queues with bounded concurrency
// and a bounded backlog.
//
// The process runs three instances: "api" (concurrency 1, cooperates with the
// upstream client's min-interval throttle), "commands" (higher concurrency for
// interaction responsiveness) and "background" (concurrency 1 so polling
// cycles never overlap).
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "trackbot/pkg/logx"
)

var (
	// ErrQueueFull is returned when the backlog is at capacity. Callers must
	// treat it as backpressure ("try again later"), not as a task failure.
	ErrQueueFull = errors.New("taskqueue: queue full")
	ErrStopped   = errors.New("taskqueue: stopped")
)

// Task is a unit of work. The context is the queue's run context.
type Task func(ctx context.Context) (any, error)

// Handle resolves with the task's own outcome.
type Handle struct {
	done chan struct{}
	val  any
	err  error
}

// Done is closed once the task has finished (or the queue stopped).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task error. Only valid after Done() is closed.
func (h *Handle) Err() error { return h.err }

// Value returns the task result. Only valid after Done() is closed.
func (h *Handle) Value() any { return h.val }

// Wait blocks until the task finishes or ctx expires.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.val, h.err
	}
}

type item struct {
	fn         Task
	h          *Handle
	enqueuedAt time.Time
}

// Queue executes submitted tasks FIFO with at most `concurrency` running at
// once. A task's failure rejects only its own handle; the queue keeps
// draining.
type Queue struct {
	name        string
	concurrency int
	log         logx.Logger

	mu      sync.Mutex
	q       chan item
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func New(name string, concurrency, backlog int, log logx.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if backlog <= 0 {
		backlog = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		name:        name,
		concurrency: concurrency,
		log:         log.With(logx.String("queue", name)),
		q:           make(chan item, backlog),
	}
}

func (q *Queue) Name() string { return q.name }

// Backlog reports the number of queued (not yet started) items.
func (q *Queue) Backlog() int { return len(q.q) }

// Start is idempotent. Workers run until Stop or ctx cancellation.
func (q *Queue) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.stopCh = make(chan struct{})
	stopCh := q.stopCh
	q.mu.Unlock()

	for i := 0; i < q.concurrency; i++ {
		idx := i
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.worker(ctx, stopCh, idx)
		}()
	}
	q.log.Debug("queue started", logx.Int("concurrency", q.concurrency), logx.Int("backlog_cap", cap(q.q)))
}

// Stop signals workers and waits for in-flight tasks, bounded by ctx.
// Queued-but-unstarted items resolve with ErrStopped.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.log.Warn("queue stop deadline reached", logx.Err(ctx.Err()))
	}

	// Drain whatever is still queued so waiters are released.
	for {
		select {
		case it := <-q.q:
			it.h.err = ErrStopped
			close(it.h.done)
		default:
			return
		}
	}
}

// Submit enqueues fn. It rejects immediately with ErrQueueFull when the
// backlog is at capacity and with ErrStopped when the queue is not running.
func (q *Queue) Submit(fn Task) (*Handle, error) {
	q.mu.Lock()
	running := q.started
	q.mu.Unlock()
	if !running {
		return nil, ErrStopped
	}

	h := &Handle{done: make(chan struct{})}
	select {
	case q.q <- item{fn: fn, h: h, enqueuedAt: time.Now()}:
		return h, nil
	default:
		q.log.Warn("backlog full, rejecting task", logx.Int("backlog", len(q.q)))
		return nil, ErrQueueFull
	}
}

// Do submits fn and waits for its outcome.
func (q *Queue) Do(ctx context.Context, fn Task) (any, error) {
	h, err := q.Submit(fn)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

func (q *Queue) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case it := <-q.q:
			q.execOne(ctx, it, idx)
		}
	}
}

func (q *Queue) execOne(ctx context.Context, it item, idx int) {
	start := time.Now()
	delay := start.Sub(it.enqueuedAt)
	if delay < 0 {
		delay = 0
	}
	q.log.Trace("task started", logx.Int("worker", idx), logx.Duration("queue_delay", delay))

	defer func() {
		if r := recover(); r != nil {
			it.h.err = fmt.Errorf("panic in task: %v", r)
			close(it.h.done)
			q.log.Error("panic in task",
				logx.Int("worker", idx),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	val, err := it.fn(ctx)
	it.h.val = val
	it.h.err = err
	close(it.h.done)

	if err != nil {
		q.log.Debug("task failed", logx.Err(err), logx.Duration("took", time.Since(start)))
	} else {
		q.log.Trace("task finished", logx.Duration("took", time.Since(start)))
	}
}
