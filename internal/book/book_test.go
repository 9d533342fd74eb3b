package book

import (
	"sync"
	"testing"

	"tradeflow/internal/schema"
)

func tick(id schema.InstrumentID, seq uint64, price schema.Price) schema.Tick {
	return schema.Tick{
		InstrumentID: id,
		Price:        price,
		Qty:          1,
		TsExchange:   int64(seq) * 1000,
		TsIngest:     int64(seq) * 1001,
		Seq:          seq,
	}
}

func TestApplyIdempotent(t *testing.T) {
	b := New(8)
	if !b.Apply(tick(1, 1, 100)) {
		t.Fatal("first apply should advance state")
	}
	before, err := b.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if b.Apply(tick(1, 1, 100)) {
		t.Fatal("duplicate apply must be a no-op")
	}
	after, err := b.Get(1)
	if err != nil {
		t.Fatalf("get after duplicate: %v", err)
	}
	if before != after {
		t.Fatal("duplicate apply must leave the published state untouched")
	}
	if b.StaleTicks() != 1 {
		t.Fatalf("stale ticks = %d, want 1", b.StaleTicks())
	}
}

func TestApplyRejectsRegression(t *testing.T) {
	b := New(8)
	b.Apply(tick(1, 5, 100))
	if b.Apply(tick(1, 3, 90)) {
		t.Fatal("lower sequence must not apply")
	}
	state, err := b.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Seq != 5 || state.Price != 100 {
		t.Fatalf("state regressed: seq=%d price=%d", state.Seq, state.Price)
	}
}

func TestRollingWindow(t *testing.T) {
	b := New(3)
	for seq := uint64(1); seq <= 5; seq++ {
		b.Apply(tick(1, seq, schema.Price(100+seq)))
	}
	state, err := b.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []schema.Price{103, 104, 105}
	if len(state.Window) != len(want) {
		t.Fatalf("window length = %d, want %d", len(state.Window), len(want))
	}
	for i, p := range want {
		if state.Window[i] != p {
			t.Fatalf("window[%d] = %d, want %d", i, state.Window[i], p)
		}
	}
}

func TestGetUnknownInstrument(t *testing.T) {
	b := New(8)
	if _, err := b.Get(42); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentReadersSeeConsistentState(t *testing.T) {
	b := New(4)
	const lastSeq = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= lastSeq; seq++ {
			b.Apply(tick(7, seq, schema.Price(seq)))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeen uint64
			for i := 0; i < 500; i++ {
				state, err := b.Get(7)
				if err != nil {
					continue
				}
				// Each snapshot must be internally consistent and monotonic.
				if uint64(state.Price) != state.Seq {
					t.Errorf("torn read: price=%d seq=%d", state.Price, state.Seq)
					return
				}
				if state.Seq < lastSeen {
					t.Errorf("sequence regressed: %d after %d", state.Seq, lastSeen)
					return
				}
				lastSeen = state.Seq
			}
		}()
	}
	wg.Wait()
}
