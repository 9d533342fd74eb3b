package order

import (
	"errors"
	"testing"

	"tradeflow/internal/schema"
)

func testRequest(id uint64, qty schema.Quantity) schema.OrderRequest {
	return schema.OrderRequest{
		ClientOrderID:  id,
		InstrumentID:   7,
		Side:           schema.OrderSideBuy,
		Type:           schema.OrderTypeLimit,
		Qty:            qty,
		Price:          100,
		IdempotencyKey: id,
		TsCreated:      1,
	}
}

func TestLifecycleAckPartialThenFull(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if o, _ := m.Order(11); o.Status != StatusPending {
		t.Fatalf("status after create: %s", o.Status)
	}
	if _, err := m.MarkSubmitted(11, 2); err != nil {
		t.Fatalf("submit: %+v", err)
	}

	o, changed, delta, err := m.ApplyUpdate(11, schema.VenueUpdate{
		VenueOrderID: "v-1", Status: schema.VenueStatusAcknowledged, Ts: 3,
	})
	if err != nil || !changed || delta != 0 {
		t.Fatalf("ack: changed=%v delta=%d err=%+v", changed, delta, err)
	}
	if o.Status != StatusAcknowledged {
		t.Fatalf("status after ack: %s", o.Status)
	}

	o, changed, delta, err = m.ApplyUpdate(11, schema.VenueUpdate{
		VenueOrderID: "v-1", Status: schema.VenueStatusPartiallyFilled,
		FillSeq: 1, FilledQty: 40, AvgPrice: 100, Ts: 4,
	})
	if err != nil || !changed || delta != 40 {
		t.Fatalf("partial: changed=%v delta=%d err=%+v", changed, delta, err)
	}
	if o.Status != StatusPartiallyFilled || o.FilledQty != 40 {
		t.Fatalf("after partial: %+v", o)
	}

	o, changed, delta, err = m.ApplyUpdate(11, schema.VenueUpdate{
		VenueOrderID: "v-1", Status: schema.VenueStatusFilled,
		FillSeq: 2, FilledQty: 100, AvgPrice: 100, Ts: 5,
	})
	if err != nil || !changed || delta != 60 {
		t.Fatalf("fill: changed=%v delta=%d err=%+v", changed, delta, err)
	}
	if o.Status != StatusFilled || o.FilledQty != 100 {
		t.Fatalf("after fill: %+v", o)
	}

	// The venue order id is learned from the first callback.
	if id, ok := m.Resolve("v-1"); !ok || id != 11 {
		t.Fatalf("resolve: id=%d ok=%v", id, ok)
	}
}

func TestDuplicateAckIsNoOp(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.MarkSubmitted(11, 2); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	ack := schema.VenueUpdate{VenueOrderID: "v-1", Status: schema.VenueStatusAcknowledged, Ts: 3}
	if _, changed, _, err := m.ApplyUpdate(11, ack); err != nil || !changed {
		t.Fatalf("first ack: changed=%v err=%+v", changed, err)
	}
	o, changed, _, err := m.ApplyUpdate(11, ack)
	if err != nil {
		t.Fatalf("duplicate ack errored: %+v", err)
	}
	if changed {
		t.Fatal("duplicate ack reported a change")
	}
	if o.Status != StatusAcknowledged {
		t.Fatalf("status drifted: %s", o.Status)
	}
}

func TestReplayedFillIgnored(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.MarkSubmitted(11, 2); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	partial := schema.VenueUpdate{
		VenueOrderID: "v-1", Status: schema.VenueStatusPartiallyFilled,
		FillSeq: 1, FilledQty: 40, AvgPrice: 100, Ts: 4,
	}
	if _, _, delta, err := m.ApplyUpdate(11, partial); err != nil || delta != 40 {
		t.Fatalf("first fill: delta=%d err=%+v", delta, err)
	}
	o, changed, delta, err := m.ApplyUpdate(11, partial)
	if err != nil || changed || delta != 0 {
		t.Fatalf("replayed fill: changed=%v delta=%d err=%+v", changed, delta, err)
	}
	if o.FilledQty != 40 {
		t.Fatalf("filled qty drifted: %d", o.FilledQty)
	}
}

func TestNoTransitionsOutOfTerminal(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.MarkSubmitted(11, 2); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	if _, _, _, err := m.ApplyUpdate(11, schema.VenueUpdate{
		Status: schema.VenueStatusFilled, FillSeq: 1, FilledQty: 100, Ts: 3,
	}); err != nil {
		t.Fatalf("fill: %+v", err)
	}

	if _, _, _, err := m.ApplyUpdate(11, schema.VenueUpdate{
		Status: schema.VenueStatusCancelled, Ts: 4,
	}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after fill: %+v", err)
	}
	if _, err := m.Expire(11, 5); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expire after fill: %+v", err)
	}
	if _, err := m.MarkSubmitted(11, 6); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resubmit after fill: %+v", err)
	}
}

func TestOverfillRejected(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.MarkSubmitted(11, 2); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	o, _, _, err := m.ApplyUpdate(11, schema.VenueUpdate{
		Status: schema.VenueStatusFilled, FillSeq: 1, FilledQty: 150, Ts: 3,
	})
	if !errors.Is(err, ErrOverfill) {
		t.Fatalf("expected ErrOverfill, got %+v", err)
	}
	if o.FilledQty != 0 || o.Status != StatusSubmitted {
		t.Fatalf("overfill mutated the order: %+v", o)
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.Create(testRequest(11, 100)); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %+v", err)
	}
	if _, _, _, err := m.ApplyUpdate(99, schema.VenueUpdate{Status: schema.VenueStatusAcknowledged}); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %+v", err)
	}
}

func TestExpireStalledOrders(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.MarkSubmitted(11, 2); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	if _, _, _, err := m.ApplyUpdate(11, schema.VenueUpdate{
		VenueOrderID: "v-1", Status: schema.VenueStatusAcknowledged, Ts: 3,
	}); err != nil {
		t.Fatalf("ack: %+v", err)
	}

	// An acknowledged order whose fills never arrive can still be expired.
	o, err := m.Expire(11, 4)
	if err != nil {
		t.Fatalf("expire acknowledged: %+v", err)
	}
	if o.Status != StatusExpired {
		t.Fatalf("status: %s", o.Status)
	}

	if _, err := m.Create(testRequest(12, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.MarkSubmitted(12, 5); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	if _, _, _, err := m.ApplyUpdate(12, schema.VenueUpdate{
		VenueOrderID: "v-2", Status: schema.VenueStatusPartiallyFilled,
		FillSeq: 1, FilledQty: 40, AvgPrice: 100, Ts: 6,
	}); err != nil {
		t.Fatalf("partial: %+v", err)
	}
	o, err = m.Expire(12, 7)
	if err != nil {
		t.Fatalf("expire partially filled: %+v", err)
	}
	if o.Status != StatusExpired || o.FilledQty != 40 {
		t.Fatalf("after expire: %+v", o)
	}
}

func TestRejectOnlyFromPending(t *testing.T) {
	m := NewMachine()
	if _, err := m.Create(testRequest(11, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	o, err := m.Reject(11, 2)
	if err != nil {
		t.Fatalf("reject pending: %+v", err)
	}
	if o.Status != StatusRejected {
		t.Fatalf("status: %s", o.Status)
	}

	if _, err := m.Create(testRequest(12, 100)); err != nil {
		t.Fatalf("create: %+v", err)
	}
	if _, err := m.MarkSubmitted(12, 3); err != nil {
		t.Fatalf("submit: %+v", err)
	}
	if _, err := m.Reject(12, 4); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject submitted: %+v", err)
	}
}
