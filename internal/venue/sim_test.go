package venue

import (
	"context"
	"testing"
	"time"

	"tradeflow/internal/schema"
)

func collect(t *testing.T, s *Sim, n int) []Update {
	t.Helper()
	out := make([]Update, 0, n)
	for len(out) < n {
		select {
		case u := <-s.Updates():
			out = append(out, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d updates", len(out), n)
		}
	}
	return out
}

func TestSimAcksThenFillsInChunks(t *testing.T) {
	s := NewSim(SimConfig{PartialFillQty: 40})
	defer s.Close()

	req := schema.OrderRequest{ClientOrderID: 11, InstrumentID: 7, Side: schema.OrderSideBuy, Qty: 100, Price: 500}
	if err := s.SubmitOrder(context.Background(), req); err != nil {
		t.Fatalf("submit: %+v", err)
	}

	updates := collect(t, s, 4)
	if updates[0].Status != schema.VenueStatusAcknowledged {
		t.Fatalf("first update: %+v", updates[0])
	}
	if updates[0].VenueOrderID == "" {
		t.Fatal("acknowledgment missing venue order id")
	}
	wantQty := []schema.Quantity{40, 80, 100}
	for i, u := range updates[1:] {
		if u.FilledQty != wantQty[i] {
			t.Fatalf("fill %d: got qty %d, want %d", i, u.FilledQty, wantQty[i])
		}
		if u.FillSeq != uint64(i+1) {
			t.Fatalf("fill %d: seq %d", i, u.FillSeq)
		}
	}
	if updates[3].Status != schema.VenueStatusFilled {
		t.Fatalf("last update: %+v", updates[3])
	}

	// Resubmitting a known client order id is a no-op.
	if err := s.SubmitOrder(context.Background(), req); err != nil {
		t.Fatalf("resubmit: %+v", err)
	}
	select {
	case u := <-s.Updates():
		t.Fatalf("resubmission produced updates: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSimRejectAll(t *testing.T) {
	s := NewSim(SimConfig{RejectAll: true})
	defer s.Close()

	req := schema.OrderRequest{ClientOrderID: 21, InstrumentID: 7, Side: schema.OrderSideSell, Qty: 10, Price: 500}
	if err := s.SubmitOrder(context.Background(), req); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	updates := collect(t, s, 1)
	if updates[0].Status != schema.VenueStatusRejected {
		t.Fatalf("expected rejection, got %+v", updates[0])
	}
}
