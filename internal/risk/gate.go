package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"tradeflow/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

var ErrInvalidLimits = errors.New("risk: invalid limits")

// Limits defines the static risk limits enforced by the gate.
// All four must be positive; the gate refuses to start otherwise.
type Limits struct {
	MaxOrderQty              schema.Quantity `json:"maxOrderQty"`
	MaxPositionPerInstrument schema.Quantity `json:"maxPositionPerInstrument"`
	MaxAggregateExposure     schema.Notional `json:"maxAggregateExposure"`
	MaxOrdersPerMinute       int             `json:"maxOrdersPerMinute"`
}

// Validate reports the first invalid limit.
func (l Limits) Validate() error {
	if l.MaxOrderQty <= 0 {
		return errors.Wrap(ErrInvalidLimits, "maxOrderQty must be positive")
	}
	if l.MaxPositionPerInstrument <= 0 {
		return errors.Wrap(ErrInvalidLimits, "maxPositionPerInstrument must be positive")
	}
	if l.MaxAggregateExposure <= 0 {
		return errors.Wrap(ErrInvalidLimits, "maxAggregateExposure must be positive")
	}
	if l.MaxOrdersPerMinute <= 0 {
		return errors.Wrap(ErrInvalidLimits, "maxOrdersPerMinute must be positive")
	}
	return nil
}

// Gate validates signals against risk limits before any order is created.
// Checks run in a fixed order and the first failing rule decides the
// rejection reason: order size, then projected position, then projected
// exposure, then order rate. Rejections are terminal; the signal is not
// retried. An approval mints exactly one order request per idempotency key,
// with the client order id derived from the key so a replayed signal can
// never create a second order.
type Gate struct {
	limits    Limits
	positions *Positions

	mu        sync.Mutex
	minted    map[uint64]uint64
	approvals []int64

	approved atomic.Uint64
	rejected atomic.Uint64
}

// NewGate creates a gate, failing on invalid limits.
func NewGate(limits Limits, positions *Positions) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if positions == nil {
		positions = NewPositions()
	}
	return &Gate{
		limits:    limits,
		positions: positions,
		minted:    make(map[uint64]uint64),
	}, nil
}

// Approved returns the number of approved signals.
func (g *Gate) Approved() uint64 { return g.approved.Load() }

// Rejected returns the number of rejected signals.
func (g *Gate) Rejected() uint64 { return g.rejected.Load() }

// SetLimits swaps the active limits. In-flight evaluations finish under the
// old limits; the next evaluation sees the new ones.
func (g *Gate) SetLimits(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()
	return nil
}

// Evaluate validates one signal. On approval the returned order request is
// ready for submission; on rejection the request is zero and the decision
// carries the reason.
func (g *Gate) Evaluate(signal schema.Signal, now int64) (schema.OrderRequest, schema.RiskDecision) {
	if now == 0 {
		now = time.Now().UTC().UnixNano()
	}
	key := signal.IdempotencyKey()
	currentPos := g.positions.Position(signal.InstrumentID)
	decision := schema.RiskDecision{
		StrategyID:     signal.StrategyID,
		InstrumentID:   signal.InstrumentID,
		Action:         schema.RiskActionApprove,
		Reason:         schema.RiskReasonNone,
		IdempotencyKey: key,
		ProposedQty:    signal.Qty,
		ProposedPrice:  signal.RefPrice,
		CurrentPos:     currentPos,
		Ts:             now,
	}

	side, qty, ok := resolveIntent(signal, currentPos)
	if !ok {
		return schema.OrderRequest{}, g.reject(decision, schema.RiskReasonInvalidSignal)
	}
	decision.ProposedQty = qty

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.minted[key]; dup {
		return schema.OrderRequest{}, g.reject(decision, schema.RiskReasonDuplicateSignal)
	}

	if qty > g.limits.MaxOrderQty {
		return schema.OrderRequest{}, g.reject(decision, schema.RiskReasonMaxOrderQty)
	}

	nextPos := applySide(currentPos, side, qty)
	if absQuantity(nextPos) > g.limits.MaxPositionPerInstrument {
		return schema.OrderRequest{}, g.reject(decision, schema.RiskReasonPositionLimit)
	}

	notional, overflow := mulNotional(signal.RefPrice, qty)
	if overflow {
		return schema.OrderRequest{}, g.reject(decision, schema.RiskReasonExposureLimit)
	}
	exposure := g.positions.AggregateExposure()
	if int64(exposure) > maxInt64-int64(notional) ||
		exposure+notional > g.limits.MaxAggregateExposure {
		return schema.OrderRequest{}, g.reject(decision, schema.RiskReasonExposureLimit)
	}

	if !g.admitRate(now) {
		return schema.OrderRequest{}, g.reject(decision, schema.RiskReasonRateLimit)
	}

	g.minted[key] = key
	g.approved.Add(1)
	request := schema.OrderRequest{
		ClientOrderID:  key,
		InstrumentID:   signal.InstrumentID,
		Side:           side,
		Type:           schema.OrderTypeLimit,
		Qty:            qty,
		Price:          signal.RefPrice,
		IdempotencyKey: key,
		RiskRef:        g.approved.Load(),
		TsCreated:      now,
	}
	return request, decision
}

func (g *Gate) reject(decision schema.RiskDecision, reason schema.RiskReason) schema.RiskDecision {
	g.rejected.Add(1)
	decision.Action = schema.RiskActionReject
	decision.Reason = reason
	return decision
}

// admitRate enforces a sliding one-minute window over approvals.
// Caller holds g.mu.
func (g *Gate) admitRate(now int64) bool {
	cutoff := now - int64(time.Minute)
	kept := g.approvals[:0]
	for _, ts := range g.approvals {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	g.approvals = kept
	if len(g.approvals) >= g.limits.MaxOrdersPerMinute {
		return false
	}
	g.approvals = append(g.approvals, now)
	return true
}

// resolveIntent maps a signal direction onto an order side and quantity.
// Exit flattens the current position; Adjust carries a signed quantity.
func resolveIntent(signal schema.Signal, currentPos schema.Quantity) (schema.OrderSide, schema.Quantity, bool) {
	switch signal.Direction {
	case schema.SignalDirectionEnterLong:
		if signal.Qty <= 0 {
			return schema.OrderSideUnknown, 0, false
		}
		return schema.OrderSideBuy, signal.Qty, true
	case schema.SignalDirectionEnterShort:
		if signal.Qty <= 0 {
			return schema.OrderSideUnknown, 0, false
		}
		return schema.OrderSideSell, signal.Qty, true
	case schema.SignalDirectionExit:
		if currentPos == 0 {
			return schema.OrderSideUnknown, 0, false
		}
		if currentPos > 0 {
			return schema.OrderSideSell, currentPos, true
		}
		return schema.OrderSideBuy, -currentPos, true
	case schema.SignalDirectionAdjust:
		if signal.Qty > 0 {
			return schema.OrderSideBuy, signal.Qty, true
		}
		if signal.Qty < 0 {
			return schema.OrderSideSell, -signal.Qty, true
		}
		return schema.OrderSideUnknown, 0, false
	default:
		return schema.OrderSideUnknown, 0, false
	}
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p == 0 || q == 0 {
		return 0, false
	}
	if p > maxInt64/q {
		return 0, true
	}
	return schema.Notional(p * q), false
}

func applySide(pos schema.Quantity, side schema.OrderSide, qty schema.Quantity) schema.Quantity {
	switch side {
	case schema.OrderSideBuy:
		return schema.Quantity(int64(pos) + int64(qty))
	case schema.OrderSideSell:
		return schema.Quantity(int64(pos) - int64(qty))
	default:
		return pos
	}
}

func absQuantity(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}
