package bus

import (
	"testing"
	"time"
)

func TestPublish_PreservesOrderPerSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	types := []EventType{EventRunStart, EventRunOut, EventRunOut, EventRunEnd}
	for _, typ := range types {
		b.Publish(Event{Type: typ, RunID: "r1"})
	}

	for i, want := range types {
		select {
		case got := <-ch:
			if got.Type != want {
				t.Fatalf("event %d: got %s, want %s", i, got.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublish_StampsTime(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: EventRunStart})
	got := <-ch
	if got.Time.IsZero() {
		t.Fatal("expected publish to stamp event time")
	}
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	cancel()

	// Publish after cancel must not panic and the channel must be closed.
	b.Publish(Event{Type: EventRunStart})
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestPublish_MultipleSubscribersEachGetAllEvents(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(Event{Type: EventRunStart, RunID: "r2"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.RunID != "r2" {
				t.Fatalf("subscriber %d: unexpected run id %q", i, got.RunID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestClose_IsIdempotentAndStopsPublish(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe()
	b.Close()
	b.Close()
	b.Publish(Event{Type: EventRunStart})

	if _, ok := <-ch; ok {
		t.Fatal("expected closed subscriber channel after bus close")
	}
}
