package strategy

import "tradeflow/internal/schema"

// Futures blends technical indicators with an externally supplied sentiment
// score. The technical side combines RSI posture, price position against its
// own average, and a volume tilt; sentiment shifts the blend when available
// and is a no-op otherwise. Signals fire on posture transitions only.
type Futures struct {
	id         uint32
	instrument schema.InstrumentID
	qty        schema.Quantity
	rsiPeriod  int
	entry      float64
	sentWeight float64

	epoch   uint64
	posture schema.SignalDirection
	lastQty schema.Quantity
	avgQty  float64
}

// NewFutures creates a futures instance.
func NewFutures(id uint32, instrument schema.InstrumentID, params Params) *Futures {
	rsiPeriod := params.RSIPeriod
	if rsiPeriod <= 0 {
		rsiPeriod = 14
	}
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
	return &Futures{
		id:         id,
		instrument: instrument,
		qty:        params.Qty,
		rsiPeriod:  rsiPeriod,
		entry:      entry,
		sentWeight: weight,
	}
}

func (f *Futures) ID() uint32                      { return f.id }
func (f *Futures) Name() string                    { return "futures" }
func (f *Futures) Instrument() schema.InstrumentID { return f.instrument }

// Evaluate scores the instrument and emits a signal on posture changes.
func (f *Futures) Evaluate(ctx EvalContext) (schema.Signal, bool) {
	state := ctx.State
	if state == nil || len(state.Window) < f.rsiPeriod+1 {
		return schema.Signal{}, false
	}

	score := f.technicalScore(state.Window, state.Qty)
	if ctx.InsightOK {
		score = (1-f.sentWeight)*score + f.sentWeight*ctx.Insight.Score
	}
	score = clampScore(score)

	var next schema.SignalDirection
	switch {
	case score >= f.entry:
		next = schema.SignalDirectionEnterLong
	case score <= -f.entry:
		next = schema.SignalDirectionEnterShort
	default:
		next = schema.SignalDirectionUnknown
	}

	if next == f.posture {
		return schema.Signal{}, false
	}
	prev := f.posture
	f.posture = next

	direction := next
	if next == schema.SignalDirectionUnknown {
		if prev == schema.SignalDirectionUnknown {
			return schema.Signal{}, false
		}
		direction = schema.SignalDirectionExit
	}

	f.epoch++
	return schema.Signal{
		StrategyID:   f.id,
		InstrumentID: f.instrument,
		Direction:    direction,
		Qty:          f.qty,
		RefPrice:     state.Price,
		Epoch:        f.epoch,
		TsGenerated:  ctx.Now,
	}, true
}

func (f *Futures) technicalScore(window []schema.Price, qty schema.Quantity) float64 {
	score := 0.0

	rsi := relativeStrength(window, f.rsiPeriod)
	if rsi > 70 {
		score -= 0.4
	} else if rsi < 30 {
		score += 0.4
	}

	// Price above its own average leans long, below leans short.
	avg := average(window, len(window))
	last := window[len(window)-1]
	if last > avg {
		score += 0.3
	} else if last < avg {
		score -= 0.3
	}

	// Unusual volume amplifies whatever conviction exists.
	f.avgQty = 0.9*f.avgQty + 0.1*float64(qty)
	if f.avgQty > 0 && float64(qty) > f.avgQty*1.5 {
		score *= 1.2
	}
	f.lastQty = qty

	return clampScore(score)
}

// relativeStrength computes a Wilder-style RSI over the last period deltas.
func relativeStrength(window []schema.Price, period int) float64 {
	if len(window) < period+1 {
		return 50
	}
	var gains, losses float64
	start := len(window) - period
	for i := start; i < len(window); i++ {
		delta := float64(window[i] - window[i-1])
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if gains+losses == 0 {
		return 50
	}
	return 100 * gains / (gains + losses)
}
