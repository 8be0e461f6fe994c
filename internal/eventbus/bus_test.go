package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: TypeCycleStarted})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeCycleStarted {
				t.Fatalf("subscriber %d got %q", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d got zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received", i)
		}
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypeRecordTime})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered events = %d, want 1 (rest dropped)", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // double unsubscribe is safe

	b.Publish(Event{Type: TypeAnnounced})
}
