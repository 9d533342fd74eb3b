package strategy

import (
	"tradeflow/internal/book"
	"tradeflow/internal/schema"
)

// Momentum signals long when the price rises by at least RiseThreshold over
// the last Lookback ticks. It is edge-triggered: the signal fires once when
// the condition becomes true and re-arms only after the condition clears.
// An optional HoldTicks emits an exit after holding for that many ticks.
type Momentum struct {
	id         uint32
	instrument schema.InstrumentID
	qty        schema.Quantity
	rise       schema.Price
	lookback   int
	holdTicks  int

	epoch   uint64
	inLong  bool
	heldFor int
}

// NewMomentum creates a momentum instance.
func NewMomentum(id uint32, instrument schema.InstrumentID, params Params) *Momentum {
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = 2
	}
	return &Momentum{
		id:         id,
		instrument: instrument,
		qty:        params.Qty,
		rise:       params.RiseThreshold,
		lookback:   lookback,
		holdTicks:  params.HoldTicks,
	}
}

func (m *Momentum) ID() uint32                      { return m.id }
func (m *Momentum) Name() string                    { return "momentum" }
func (m *Momentum) Instrument() schema.InstrumentID { return m.instrument }

// Evaluate inspects the rolling window and emits at most one signal.
func (m *Momentum) Evaluate(ctx EvalContext) (schema.Signal, bool) {
	state := ctx.State
	if state == nil || len(state.Window) <= m.lookback {
		return schema.Signal{}, false
	}

	if m.inLong {
		m.heldFor++
		if m.holdTicks > 0 && m.heldFor >= m.holdTicks {
			m.inLong = false
			m.heldFor = 0
			m.epoch++
			return m.signal(schema.SignalDirectionExit, state, ctx.Now), true
		}
		return schema.Signal{}, false
	}

	window := state.Window
	last := window[len(window)-1]
	ref := window[len(window)-1-m.lookback]
	if last-ref >= m.rise {
		m.inLong = true
		m.heldFor = 0
		m.epoch++
		return m.signal(schema.SignalDirectionEnterLong, state, ctx.Now), true
	}
	return schema.Signal{}, false
}

func (m *Momentum) signal(direction schema.SignalDirection, state *book.InstrumentState, now int64) schema.Signal {
	return schema.Signal{
		StrategyID:   m.id,
		InstrumentID: m.instrument,
		Direction:    direction,
		Qty:          m.qty,
		RefPrice:     state.Price,
		Epoch:        m.epoch,
		TsGenerated:  now,
	}
}
