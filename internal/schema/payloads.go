package schema

import "hash/fnv"

// Price is a scaled integer. The scale is defined per instrument in the registry.
type Price int64

// Quantity is a scaled integer. The scale is defined per instrument in the registry.
type Quantity int64

// Notional is a scaled integer. The scale is defined per instrument in the registry.
type Notional int64

// InstrumentID is the compact numeric identifier for an instrument.
type InstrumentID uint32

// Tick is a single normalized market-data update for one instrument.
// Immutable once created. Seq is assigned at ingestion and breaks ties
// between ticks carrying the same exchange timestamp.
type Tick struct {
	InstrumentID InstrumentID
	Price        Price
	Qty          Quantity
	OpenInterest Quantity
	TsExchange   int64
	TsIngest     int64
	Seq          uint64
}

// GapReason describes why a gap marker was emitted.
type GapReason uint16

const (
	GapReasonUnknown GapReason = iota
	GapReasonReconnect
	GapReasonResubscribe
)

// Gap marks a potential discontinuity in the tick stream after a reconnect.
// Downstream consumers must not assume continuity across it.
type Gap struct {
	Reason    GapReason
	Attempts  int
	Ts        int64
	SessionID string
}

// SignalDirection describes a strategy's trade intent.
type SignalDirection uint16

const (
	SignalDirectionUnknown SignalDirection = iota
	SignalDirectionEnterLong
	SignalDirectionEnterShort
	SignalDirectionExit
	SignalDirectionAdjust
)

// Signal is a strategy's trade intent, prior to risk validation.
// Qty is signed for SignalDirectionAdjust: positive buys, negative sells.
type Signal struct {
	StrategyID   uint32
	InstrumentID InstrumentID
	Direction    SignalDirection
	Qty          Quantity
	RefPrice     Price
	Epoch        uint64
	TsGenerated  int64
}

// IdempotencyKey derives a stable key from (strategy, instrument, epoch,
// direction). Logically duplicate signals within the same decision epoch
// share a key, so at most one order request is ever minted for them.
func (s Signal) IdempotencyKey() uint64 {
	h := fnv.New64a()
	var buf [20]byte
	buf[0] = byte(s.StrategyID)
	buf[1] = byte(s.StrategyID >> 8)
	buf[2] = byte(s.StrategyID >> 16)
	buf[3] = byte(s.StrategyID >> 24)
	buf[4] = byte(s.InstrumentID)
	buf[5] = byte(s.InstrumentID >> 8)
	buf[6] = byte(s.InstrumentID >> 16)
	buf[7] = byte(s.InstrumentID >> 24)
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(s.Epoch >> (8 * i))
	}
	buf[16] = byte(s.Direction)
	buf[17] = byte(s.Direction >> 8)
	_, _ = h.Write(buf[:18])
	return h.Sum64()
}

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

// OrderRequest is a risk-approved, not-yet-submitted order.
// Never mutated after creation; lifecycle is tracked by the order manager.
type OrderRequest struct {
	ClientOrderID  uint64
	InstrumentID   InstrumentID
	Side           OrderSide
	Type           OrderType
	Qty            Quantity
	Price          Price
	IdempotencyKey uint64
	RiskRef        uint64
	TsCreated      int64
}

// RiskAction is the outcome of a risk decision.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionApprove
	RiskActionReject
)

// RiskReason is a coarse reason code for risk decisions.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonMaxOrderQty
	RiskReasonPositionLimit
	RiskReasonExposureLimit
	RiskReasonRateLimit
	RiskReasonDuplicateSignal
	RiskReasonInvalidSignal
)

// String returns the human-readable rejection reason.
func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return ""
	case RiskReasonMaxOrderQty:
		return "quantity exceeds max single order size"
	case RiskReasonPositionLimit:
		return "resulting position exceeds max position per instrument"
	case RiskReasonExposureLimit:
		return "resulting exposure exceeds max aggregate exposure"
	case RiskReasonRateLimit:
		return "order rate exceeds max orders per minute"
	case RiskReasonDuplicateSignal:
		return "duplicate signal for idempotency key"
	case RiskReasonInvalidSignal:
		return "invalid signal"
	default:
		return "unknown"
	}
}

// RiskDecision records the gate's verdict for a signal.
type RiskDecision struct {
	StrategyID     uint32
	InstrumentID   InstrumentID
	Action         RiskAction
	Reason         RiskReason
	IdempotencyKey uint64
	ProposedQty    Quantity
	ProposedPrice  Price
	CurrentPos     Quantity
	Ts             int64
}

// VenueStatus is the order status reported by a venue callback.
type VenueStatus uint16

const (
	VenueStatusUnknown VenueStatus = iota
	VenueStatusAcknowledged
	VenueStatusPartiallyFilled
	VenueStatusFilled
	VenueStatusRejected
	VenueStatusCancelled
)

// VenueUpdate is the inbound callback payload from a venue adapter.
type VenueUpdate struct {
	VenueOrderID string
	Status       VenueStatus
	FillSeq      uint64
	FilledQty    Quantity
	AvgPrice     Price
	Ts           int64
}

// Fill is a confirmed execution applied to positions.
type Fill struct {
	ClientOrderID uint64
	InstrumentID  InstrumentID
	Side          OrderSide
	Price         Price
	Qty           Quantity
	Ts            int64
}
