package risk

import (
	"errors"
	"testing"
	"time"

	"tradeflow/internal/schema"
)

func testLimits() Limits {
	return Limits{
		MaxOrderQty:              100,
		MaxPositionPerInstrument: 300,
		MaxAggregateExposure:     1_000_000,
		MaxOrdersPerMinute:       10,
	}
}

func signalAt(epoch uint64, qty schema.Quantity, price schema.Price) schema.Signal {
	return schema.Signal{
		StrategyID:   1,
		InstrumentID: 7,
		Direction:    schema.SignalDirectionEnterLong,
		Qty:          qty,
		RefPrice:     price,
		Epoch:        epoch,
	}
}

func TestLimitsValidateRejectsNonPositiveValues(t *testing.T) {
	cases := []Limits{
		{MaxOrderQty: 0, MaxPositionPerInstrument: 1, MaxAggregateExposure: 1, MaxOrdersPerMinute: 1},
		{MaxOrderQty: 1, MaxPositionPerInstrument: -1, MaxAggregateExposure: 1, MaxOrdersPerMinute: 1},
		{MaxOrderQty: 1, MaxPositionPerInstrument: 1, MaxAggregateExposure: 0, MaxOrdersPerMinute: 1},
		{MaxOrderQty: 1, MaxPositionPerInstrument: 1, MaxAggregateExposure: 1, MaxOrdersPerMinute: 0},
	}
	for i, limits := range cases {
		if err := limits.Validate(); !errors.Is(err, ErrInvalidLimits) {
			t.Fatalf("case %d: expected ErrInvalidLimits, got %+v", i, err)
		}
	}
	if _, err := NewGate(Limits{}, nil); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("NewGate accepted invalid limits: %+v", err)
	}
}

func TestEvaluateMintsOneOrderPerIdempotencyKey(t *testing.T) {
	gate, err := NewGate(testLimits(), nil)
	if err != nil {
		t.Fatalf("gate: %+v", err)
	}
	signal := signalAt(1, 10, 500)

	request, decision := gate.Evaluate(signal, 1)
	if decision.Action != schema.RiskActionApprove {
		t.Fatalf("expected approval, got %+v", decision)
	}
	if request.ClientOrderID != signal.IdempotencyKey() {
		t.Fatalf("client order id not derived from idempotency key: %d != %d",
			request.ClientOrderID, signal.IdempotencyKey())
	}
	if request.Side != schema.OrderSideBuy || request.Qty != 10 || request.Price != 500 {
		t.Fatalf("unexpected request: %+v", request)
	}

	// A logically duplicate signal must never mint a second order.
	_, decision = gate.Evaluate(signal, 2)
	if decision.Action != schema.RiskActionReject || decision.Reason != schema.RiskReasonDuplicateSignal {
		t.Fatalf("duplicate signal not rejected: %+v", decision)
	}
	if gate.Approved() != 1 || gate.Rejected() != 1 {
		t.Fatalf("counters: approved=%d rejected=%d", gate.Approved(), gate.Rejected())
	}
}

func TestOversizedOrderRejectedWithoutStateChange(t *testing.T) {
	positions := NewPositions()
	gate, err := NewGate(testLimits(), positions)
	if err != nil {
		t.Fatalf("gate: %+v", err)
	}

	request, decision := gate.Evaluate(signalAt(1, 500, 100), 1)
	if decision.Action != schema.RiskActionReject {
		t.Fatalf("oversized order approved: %+v", decision)
	}
	if decision.Reason != schema.RiskReasonMaxOrderQty {
		t.Fatalf("reason: got %d, want max order qty", decision.Reason)
	}
	if got := decision.Reason.String(); got != "quantity exceeds max single order size" {
		t.Fatalf("reason string: %q", got)
	}
	if request.ClientOrderID != 0 {
		t.Fatalf("rejected signal minted an order: %+v", request)
	}
	if positions.Position(7) != 0 {
		t.Fatal("rejection mutated positions")
	}

	// The rejection is terminal, but a later epoch is a fresh decision.
	if _, decision := gate.Evaluate(signalAt(2, 10, 100), 2); decision.Action != schema.RiskActionApprove {
		t.Fatalf("follow-up signal rejected: %+v", decision)
	}
}

func TestProjectedPositionLimit(t *testing.T) {
	positions := NewPositions()
	positions.ApplyFill(schema.Fill{InstrumentID: 7, Side: schema.OrderSideBuy, Price: 100, Qty: 250})

	gate, err := NewGate(testLimits(), positions)
	if err != nil {
		t.Fatalf("gate: %+v", err)
	}
	_, decision := gate.Evaluate(signalAt(1, 100, 100), 1)
	if decision.Reason != schema.RiskReasonPositionLimit {
		t.Fatalf("reason: got %d, want position limit", decision.Reason)
	}
	if decision.CurrentPos != 250 {
		t.Fatalf("current position: got %d, want 250", decision.CurrentPos)
	}
}

func TestProjectedExposureLimit(t *testing.T) {
	gate, err := NewGate(testLimits(), nil)
	if err != nil {
		t.Fatalf("gate: %+v", err)
	}
	// 50 * 30000 = 1.5M notional against a 1M cap.
	_, decision := gate.Evaluate(signalAt(1, 50, 30_000), 1)
	if decision.Reason != schema.RiskReasonExposureLimit {
		t.Fatalf("reason: got %d, want exposure limit", decision.Reason)
	}
}

func TestOrderRateSlidingWindow(t *testing.T) {
	limits := testLimits()
	limits.MaxOrdersPerMinute = 2
	gate, err := NewGate(limits, nil)
	if err != nil {
		t.Fatalf("gate: %+v", err)
	}

	base := time.Now().UTC().UnixNano()
	for epoch := uint64(1); epoch <= 2; epoch++ {
		if _, decision := gate.Evaluate(signalAt(epoch, 1, 100), base); decision.Action != schema.RiskActionApprove {
			t.Fatalf("epoch %d rejected: %+v", epoch, decision)
		}
	}
	if _, decision := gate.Evaluate(signalAt(3, 1, 100), base); decision.Reason != schema.RiskReasonRateLimit {
		t.Fatalf("reason: got %d, want rate limit", decision.Reason)
	}

	// The window slides: a minute later the same budget is available again.
	later := base + int64(time.Minute) + 1
	if _, decision := gate.Evaluate(signalAt(4, 1, 100), later); decision.Action != schema.RiskActionApprove {
		t.Fatalf("signal after window slide rejected: %+v", decision)
	}
}

func TestExitFlattensCurrentPosition(t *testing.T) {
	positions := NewPositions()
	positions.ApplyFill(schema.Fill{InstrumentID: 7, Side: schema.OrderSideBuy, Price: 100, Qty: 40})

	gate, err := NewGate(testLimits(), positions)
	if err != nil {
		t.Fatalf("gate: %+v", err)
	}
	exit := schema.Signal{
		StrategyID:   1,
		InstrumentID: 7,
		Direction:    schema.SignalDirectionExit,
		RefPrice:     100,
		Epoch:        2,
	}
	request, decision := gate.Evaluate(exit, 1)
	if decision.Action != schema.RiskActionApprove {
		t.Fatalf("exit rejected: %+v", decision)
	}
	if request.Side != schema.OrderSideSell || request.Qty != 40 {
		t.Fatalf("exit request does not flatten: %+v", request)
	}

	// Exit with nothing to flatten is invalid, not a zero-qty order.
	flat := exit
	flat.InstrumentID = 8
	if _, decision := gate.Evaluate(flat, 2); decision.Reason != schema.RiskReasonInvalidSignal {
		t.Fatalf("reason: got %d, want invalid signal", decision.Reason)
	}
}

func TestPositionsAggregateExposure(t *testing.T) {
	positions := NewPositions()
	positions.ApplyFill(schema.Fill{InstrumentID: 1, Side: schema.OrderSideBuy, Price: 100, Qty: 10})
	positions.ApplyFill(schema.Fill{InstrumentID: 2, Side: schema.OrderSideSell, Price: 200, Qty: 5})

	if got := positions.Position(1); got != 10 {
		t.Fatalf("position 1: got %d, want 10", got)
	}
	if got := positions.Position(2); got != -5 {
		t.Fatalf("position 2: got %d, want -5", got)
	}
	// |10|*100 + |-5|*200
	if got := positions.AggregateExposure(); got != 2000 {
		t.Fatalf("exposure: got %d, want 2000", got)
	}

	positions.ApplyFill(schema.Fill{InstrumentID: 1, Side: schema.OrderSideSell, Price: 110, Qty: 10})
	if got := positions.Position(1); got != 0 {
		t.Fatalf("position 1 after flatten: got %d, want 0", got)
	}
}

func TestSetLimitsAppliesOnNextEvaluation(t *testing.T) {
	gate, err := NewGate(testLimits(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, decision := gate.Evaluate(signalAt(1, 80, 100), 1); decision.Action != schema.RiskActionApprove {
		t.Fatalf("action: got %d, want approve", decision.Action)
	}

	tightened := testLimits()
	tightened.MaxOrderQty = 50
	if err := gate.SetLimits(tightened); err != nil {
		t.Fatal(err)
	}
	if _, decision := gate.Evaluate(signalAt(2, 80, 100), 2); decision.Reason != schema.RiskReasonMaxOrderQty {
		t.Fatalf("reason: got %d, want max order qty", decision.Reason)
	}

	tightened.MaxOrderQty = 0
	if err := gate.SetLimits(tightened); err == nil {
		t.Fatal("expected invalid limits error")
	}
}
