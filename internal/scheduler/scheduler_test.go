package scheduler

import (
	"context"
	"testing"
	"time"

	logx "trackbot/pkg/logx"
)

func TestRegisterDuplicateRejected(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if err := s.Register("times", func() error { return nil }); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := s.Register("times", func() error { return nil }); err == nil {
		t.Fatal("duplicate Register accepted")
	}
}

func TestRegisterAfterStartRejected(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Register("late", func() error { return nil }); err == nil {
		t.Fatal("Register after Start accepted")
	}
}

func TestBootDelayFiresAllTriggers(t *testing.T) {
	t.Parallel()
	fired := make(chan string, 2)
	s := New(Config{
		// No periodic schedule; the boot one-shot alone must fire both.
		BootDelay: 10 * time.Millisecond,
	}, logx.Nop())
	for _, name := range []string{"times", "ranks"} {
		name := name
		if err := s.Register(name, func() error {
			fired <- name
			return nil
		}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-fired:
			got[name] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("boot delay fired %d/2 triggers", i)
		}
	}
	if !got["times"] || !got["ranks"] {
		t.Fatalf("fired = %v, want both triggers", got)
	}
}

func TestIntervalTriggerFires(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 8)
	s := New(Config{
		Intervals: map[string]time.Duration{"times": 50 * time.Millisecond},
	}, logx.Nop())
	if err := s.Register("times", func() error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("interval trigger never fired")
	}
}

func TestApplyReschedules(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 8)
	s := New(Config{
		// Effectively never fires on its own.
		Intervals: map[string]time.Duration{"times": time.Hour},
	}, logx.Nop())
	if err := s.Register("times", func() error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Apply(Config{Intervals: map[string]time.Duration{"times": 50 * time.Millisecond}})

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("rescheduled trigger never fired")
	}
}
