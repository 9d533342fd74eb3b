package strategy

import "tradeflow/internal/schema"

// Options scores open-interest buildup against price direction: rising open
// interest with rising price reads as long buildup, with falling price as
// short buildup; falling open interest unwinds the posture. High realized
// volatility damps the score. Sentiment shifts the blend when available.
type Options struct {
	id         uint32
	instrument schema.InstrumentID
	qty        schema.Quantity
	entry      float64
	sentWeight float64

	epoch     uint64
	posture   schema.SignalDirection
	prevOI    schema.Quantity
	prevPrice schema.Price
	primed    bool
}

// NewOptions creates an options instance.
func NewOptions(id uint32, instrument schema.InstrumentID, params Params) *Options {
	entry := params.EntryThreshold
	if entry <= 0 {
		entry = 0.35
	}
	weight := params.SentimentWeight
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	return &Options{
		id:         id,
		instrument: instrument,
		qty:        params.Qty,
		entry:      entry,
		sentWeight: weight,
	}
}

func (o *Options) ID() uint32                      { return o.id }
func (o *Options) Name() string                    { return "options" }
func (o *Options) Instrument() schema.InstrumentID { return o.instrument }

// Evaluate scores open-interest flow and emits a signal on posture changes.
func (o *Options) Evaluate(ctx EvalContext) (schema.Signal, bool) {
	state := ctx.State
	if state == nil || len(state.Window) < 2 {
		return schema.Signal{}, false
	}
	if !o.primed {
		o.prevOI = state.OpenInterest
		o.prevPrice = state.Price
		o.primed = true
		return schema.Signal{}, false
	}

	score := o.flowScore(state.OpenInterest, state.Price)
	if vol := realizedRange(state.Window); vol > 0.02 {
		score *= 0.8
	}
	if ctx.InsightOK {
		score = (1-o.sentWeight)*score + o.sentWeight*ctx.Insight.Score
	}
	score = clampScore(score)

	o.prevOI = state.OpenInterest
	o.prevPrice = state.Price

	var next schema.SignalDirection
	switch {
	case score >= o.entry:
		next = schema.SignalDirectionEnterLong
	case score <= -o.entry:
		next = schema.SignalDirectionEnterShort
	default:
		next = schema.SignalDirectionUnknown
	}
	if next == o.posture {
		return schema.Signal{}, false
	}
	prev := o.posture
	o.posture = next

	direction := next
	if next == schema.SignalDirectionUnknown {
		if prev == schema.SignalDirectionUnknown {
			return schema.Signal{}, false
		}
		direction = schema.SignalDirectionExit
	}

	o.epoch++
	return schema.Signal{
		StrategyID:   o.id,
		InstrumentID: o.instrument,
		Direction:    direction,
		Qty:          o.qty,
		RefPrice:     state.Price,
		Epoch:        o.epoch,
		TsGenerated:  ctx.Now,
	}, true
}

func (o *Options) flowScore(oi schema.Quantity, price schema.Price) float64 {
	oiRising := oi > o.prevOI
	oiFalling := oi < o.prevOI
	priceRising := price > o.prevPrice
	priceFalling := price < o.prevPrice

	switch {
	case oiRising && priceRising:
		return 0.5 // long buildup
	case oiRising && priceFalling:
		return -0.5 // short buildup
	case oiFalling && priceRising:
		return 0.2 // short covering
	case oiFalling && priceFalling:
		return -0.2 // long unwinding
	default:
		return 0
	}
}

// realizedRange is the window's high-low range relative to its last price,
// a cheap proxy for realized volatility.
func realizedRange(window []schema.Price) float64 {
	min, max := window[0], window[0]
	for _, p := range window[1:] {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	last := window[len(window)-1]
	if last <= 0 {
		return 0
	}
	return float64(max-min) / float64(last)
}
