package risk

import (
	"sync"

	"tradeflow/internal/schema"
)

// PositionEntry is one instrument's tracked position and mark price.
type PositionEntry struct {
	InstrumentID schema.InstrumentID
	Qty          schema.Quantity
	Mark         schema.Price
}

// Positions tracks net positions per instrument. Updated only from confirmed
// fills by the order manager; the risk gate reads it to project the effect of
// proposed orders. Signals and rejected orders never touch it.
type Positions struct {
	mu   sync.RWMutex
	pos  map[schema.InstrumentID]schema.Quantity
	mark map[schema.InstrumentID]schema.Price
}

// NewPositions creates an empty tracker.
func NewPositions() *Positions {
	return &Positions{
		pos:  make(map[schema.InstrumentID]schema.Quantity),
		mark: make(map[schema.InstrumentID]schema.Price),
	}
}

// ApplyFill updates the net position and mark price, returning the new quantity.
func (p *Positions) ApplyFill(fill schema.Fill) schema.Quantity {
	p.mu.Lock()
	defer p.mu.Unlock()
	current := p.pos[fill.InstrumentID]
	var next schema.Quantity
	switch fill.Side {
	case schema.OrderSideBuy:
		next = schema.Quantity(int64(current) + int64(fill.Qty))
	case schema.OrderSideSell:
		next = schema.Quantity(int64(current) - int64(fill.Qty))
	default:
		next = current
	}
	p.pos[fill.InstrumentID] = next
	if fill.Price > 0 {
		p.mark[fill.InstrumentID] = fill.Price
	}
	return next
}

// Position returns the current net position for an instrument.
func (p *Positions) Position(id schema.InstrumentID) schema.Quantity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pos[id]
}

// AggregateExposure sums |position| * mark across all instruments,
// saturating instead of overflowing.
func (p *Positions) AggregateExposure() schema.Notional {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total int64
	for id, qty := range p.pos {
		notional, overflow := mulNotional(p.mark[id], qty)
		if overflow {
			return schema.Notional(maxInt64)
		}
		if total > maxInt64-int64(notional) {
			return schema.Notional(maxInt64)
		}
		total += int64(notional)
	}
	return schema.Notional(total)
}

// Snapshot returns a copy of all tracked positions.
func (p *Positions) Snapshot() []PositionEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := make([]PositionEntry, 0, len(p.pos))
	for id, qty := range p.pos {
		entries = append(entries, PositionEntry{InstrumentID: id, Qty: qty, Mark: p.mark[id]})
	}
	return entries
}

// Count returns the number of tracked instruments.
func (p *Positions) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pos)
}
