package strategy

import "tradeflow/internal/schema"

// SMACross signals on simple-moving-average crossovers: long when the short
// average crosses above the long average, short when it crosses below.
// Averages are recomputed from the book's rolling window, so per-tick cost
// is bounded by the window size.
type SMACross struct {
	id          uint32
	instrument  schema.InstrumentID
	qty         schema.Quantity
	shortPeriod int
	longPeriod  int

	epoch     uint64
	prevShort schema.Price
	prevLong  schema.Price
	primed    bool
}

// NewSMACross creates an SMA crossover instance. The short period must be
// strictly less than the long period.
func NewSMACross(id uint32, instrument schema.InstrumentID, params Params) (*SMACross, error) {
	short := params.ShortPeriod
	long := params.LongPeriod
	if short <= 0 {
		short = 5
	}
	if long <= 0 {
		long = 20
	}
	if short >= long {
		return nil, ErrInvalidParams
	}
	return &SMACross{
		id:          id,
		instrument:  instrument,
		qty:         params.Qty,
		shortPeriod: short,
		longPeriod:  long,
	}, nil
}

func (s *SMACross) ID() uint32                      { return s.id }
func (s *SMACross) Name() string                    { return "sma_cross" }
func (s *SMACross) Instrument() schema.InstrumentID { return s.instrument }

// Evaluate emits a signal only on a crossover transition.
func (s *SMACross) Evaluate(ctx EvalContext) (schema.Signal, bool) {
	state := ctx.State
	if state == nil || len(state.Window) < s.longPeriod {
		return schema.Signal{}, false
	}

	short := average(state.Window, s.shortPeriod)
	long := average(state.Window, s.longPeriod)

	defer func() {
		s.prevShort = short
		s.prevLong = long
		s.primed = true
	}()

	if !s.primed {
		return schema.Signal{}, false
	}

	var direction schema.SignalDirection
	switch {
	case s.prevShort <= s.prevLong && short > long:
		direction = schema.SignalDirectionEnterLong
	case s.prevShort >= s.prevLong && short < long:
		direction = schema.SignalDirectionEnterShort
	default:
		return schema.Signal{}, false
	}

	s.epoch++
	return schema.Signal{
		StrategyID:   s.id,
		InstrumentID: s.instrument,
		Direction:    direction,
		Qty:          s.qty,
		RefPrice:     state.Price,
		Epoch:        s.epoch,
		TsGenerated:  ctx.Now,
	}, true
}

func average(window []schema.Price, period int) schema.Price {
	var sum int64
	for _, p := range window[len(window)-period:] {
		sum += int64(p)
	}
	return schema.Price(sum / int64(period))
}
