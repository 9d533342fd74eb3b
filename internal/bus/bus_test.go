package bus

import (
	"testing"

	"tradeflow/internal/schema"
)

func tickEvent(instrument schema.InstrumentID, seq uint64) Event {
	return Event{
		Header: schema.NewHeader(schema.EventTick, 1, seq, 0, 0),
		Tick:   schema.Tick{InstrumentID: instrument, Seq: seq},
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	b := New()
	sub, err := b.Subscribe("book", 16)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for seq := uint64(1); seq <= 8; seq++ {
		if err := b.Publish(tickEvent(1, seq)); err != nil {
			t.Fatalf("publish seq %d: %v", seq, err)
		}
	}

	for want := uint64(1); want <= 8; want++ {
		e := <-sub.Events()
		if e.Tick.Seq != want {
			t.Fatalf("out of order delivery: got seq %d want %d", e.Tick.Seq, want)
		}
	}
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	b := New()
	slow, err := b.Subscribe("slow", 1)
	if err != nil {
		t.Fatalf("subscribe slow: %v", err)
	}
	fast, err := b.Subscribe("fast", 16)
	if err != nil {
		t.Fatalf("subscribe fast: %v", err)
	}

	for seq := uint64(1); seq <= 5; seq++ {
		_ = b.Publish(tickEvent(1, seq))
	}

	if got := len(fast.Events()); got != 5 {
		t.Fatalf("fast subscriber received %d events, want 5", got)
	}
	if slow.Drops() != 4 {
		t.Fatalf("slow subscriber drops = %d, want 4", slow.Drops())
	}
	if !slow.Backpressured() {
		t.Fatal("slow subscriber should report backpressure")
	}
	if fast.Backpressured() {
		t.Fatal("fast subscriber should not report backpressure")
	}
}

func TestDuplicateSubscriberName(t *testing.T) {
	b := New()
	if _, err := b.Subscribe("x", 1); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := b.Subscribe("x", 1); err != ErrDuplicateName {
		t.Fatalf("second subscribe err = %v, want ErrDuplicateName", err)
	}
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	b := New()
	sub, err := b.Subscribe("x", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Unsubscribe(sub)
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed queue after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", b.SubscriberCount())
	}
	// A second unsubscribe must be a no-op.
	b.Unsubscribe(sub)
}

func TestPublishAfterClose(t *testing.T) {
	b := New()
	_, err := b.Subscribe("x", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Close()
	if err := b.Publish(tickEvent(1, 1)); err != ErrBusClosed {
		t.Fatalf("publish after close err = %v, want ErrBusClosed", err)
	}
	if _, err := b.Subscribe("y", 4); err != ErrBusClosed {
		t.Fatalf("subscribe after close err = %v, want ErrBusClosed", err)
	}
}
