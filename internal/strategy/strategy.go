package strategy

import (
	"tradeflow/internal/book"
	"tradeflow/internal/insight"
	"tradeflow/internal/schema"
)

// EvalContext is the read-only capability set handed to a strategy for one
// evaluation: the current instrument snapshot, configured parameters, and an
// optional externally supplied insight score. Strategies only emit signals;
// they never touch orders or shared state.
type EvalContext struct {
	State     *book.InstrumentState
	Insight   insight.Insight
	InsightOK bool
	Now       int64
	// Timer is true when the evaluation was scheduled by the periodic
	// re-evaluation timer rather than by a tick.
	Timer bool
	// AfterGap is true on the first evaluation following a feed gap.
	AfterGap bool
}

// Strategy is a single strategy instance bound to one instrument.
// Implementations may keep internal indicator state but must be pure with
// respect to everything outside the EvalContext.
type Strategy interface {
	ID() uint32
	Name() string
	Instrument() schema.InstrumentID
	Evaluate(ctx EvalContext) (schema.Signal, bool)
}

// Params groups the tunable knobs used by the strategy constructors.
// Each strategy reads the subset it understands.
type Params struct {
	Qty             schema.Quantity `json:"qty"`
	RiseThreshold   schema.Price    `json:"riseThreshold"`
	Lookback        int             `json:"lookback"`
	HoldTicks       int             `json:"holdTicks"`
	ShortPeriod     int             `json:"shortPeriod"`
	LongPeriod      int             `json:"longPeriod"`
	RSIPeriod       int             `json:"rsiPeriod"`
	EntryThreshold  float64         `json:"entryThreshold"`
	SentimentWeight float64         `json:"sentimentWeight"`
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
