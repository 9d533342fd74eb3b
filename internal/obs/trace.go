package obs

import (
	"sync/atomic"
	"time"
)

// TraceGenerator hands out increasing trace ids for stamping bus events so
// one tick can be followed from ingestion to order submission in the logs.
// A nil generator is valid and yields zero ids.
type TraceGenerator struct {
	last atomic.Uint64
}

// NewTraceGenerator seeds the generator. A zero seed falls back to the
// current time so restarts do not reuse recent ids.
func NewTraceGenerator(seed uint64) *TraceGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	g := &TraceGenerator{}
	g.last.Store(seed)
	return g
}

// Next returns the next trace id.
func (g *TraceGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return g.last.Add(1)
}
