package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "trackbot/pkg/logx"
)

func TestSubmitBeforeStart(t *testing.T) {
	t.Parallel()
	q := New("test", 1, 4, logx.Nop())
	if _, err := q.Submit(func(ctx context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit before Start = %v, want ErrStopped", err)
	}
}

func TestBacklogFullRejects(t *testing.T) {
	t.Parallel()
	q := New("test", 1, 2, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	// Block the single worker so queued items pile up.
	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := q.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}); err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	<-started

	for i := 0; i < 2; i++ {
		if _, err := q.Submit(func(ctx context.Context) (any, error) { return nil, nil }); err != nil {
			t.Fatalf("Submit filler %d: %v", i, err)
		}
	}
	if _, err := q.Submit(func(ctx context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit over capacity = %v, want ErrQueueFull", err)
	}
	close(release)
}

func TestFIFOOrderSingleWorker(t *testing.T) {
	t.Parallel()
	q := New("test", 1, 16, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	var mu sync.Mutex
	var order []int
	var handles []*Handle

	release := make(chan struct{})
	started := make(chan struct{})
	blocker, err := q.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	<-started

	for i := 0; i < 5; i++ {
		i := i
		h, err := q.Submit(func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := blocker.Wait(ctx); err != nil {
		t.Fatalf("blocker: %v", err)
	}
	for i, h := range handles {
		v, err := h.Wait(ctx)
		if err != nil {
			t.Fatalf("task %d: %v", i, err)
		}
		if v.(int) != i {
			t.Fatalf("task %d value = %v", i, v)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order = %v, want ascending", order)
		}
	}
}

func TestTaskErrorIsIsolated(t *testing.T) {
	t.Parallel()
	q := New("test", 1, 16, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := errors.New("boom")
	if _, err := q.Do(ctx, func(ctx context.Context) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("failing task = %v, want boom", err)
	}
	// The queue keeps working after a failure.
	v, err := q.Do(ctx, func(ctx context.Context) (any, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("follow-up task = %v, %v", v, err)
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()
	q := New("test", 1, 4, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := q.Do(ctx, func(ctx context.Context) (any, error) { panic("kaput") })
	if err == nil {
		t.Fatal("expected error from panicking task")
	}
	v, err := q.Do(ctx, func(ctx context.Context) (any, error) { return 42, nil })
	if err != nil || v.(int) != 42 {
		t.Fatalf("queue dead after panic: %v, %v", v, err)
	}
}

func TestStopDrainsQueuedItems(t *testing.T) {
	t.Parallel()
	q := New("test", 1, 8, logx.Nop())
	q.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := q.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}); err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	<-started

	h, err := q.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	close(release)
	q.Stop(context.Background())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("queued handle never resolved after Stop")
	}
	// The queued item either ran before the worker saw the stop signal or was
	// drained with ErrStopped; both release the waiter.
	if err := h.Err(); err != nil && !errors.Is(err, ErrStopped) {
		t.Fatalf("queued task err = %v", err)
	}

	if _, err := q.Submit(func(ctx context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Stop = %v, want ErrStopped", err)
	}
}
