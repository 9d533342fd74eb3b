package book

import (
	"errors"
	"sync"
	"sync/atomic"

	"tradeflow/internal/schema"
)

var ErrNotFound = errors.New("instrument not found in book")

const defaultWindowSize = 32

// InstrumentState is the latest per-instrument view plus a rolling price
// window for indicator computation. A state value is never mutated after
// publication; Apply replaces the whole record atomically, so readers can
// never observe a torn update.
type InstrumentState struct {
	InstrumentID schema.InstrumentID
	Price        schema.Price
	Qty          schema.Quantity
	OpenInterest schema.Quantity
	TsExchange   int64
	Seq          uint64
	Window       []schema.Price
	UpdatedAt    int64
}

// Last returns the most recent price, which equals State.Price.
func (s *InstrumentState) Last() schema.Price {
	return s.Price
}

// WindowLen returns the number of prices in the rolling window.
func (s *InstrumentState) WindowLen() int {
	return len(s.Window)
}

const shardCount = 16

type shard struct {
	mu     sync.Mutex
	states map[schema.InstrumentID]*atomic.Pointer[InstrumentState]
}

// Book stores the latest state per instrument with monotonic update ordering.
// Writes for different instruments proceed independently; reads never block.
type Book struct {
	windowSize int
	shards     [shardCount]shard
	stale      atomic.Uint64
}

// New creates a book with the given rolling window size per instrument.
func New(windowSize int) *Book {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	b := &Book{windowSize: windowSize}
	for i := range b.shards {
		b.shards[i].states = make(map[schema.InstrumentID]*atomic.Pointer[InstrumentState])
	}
	return b
}

func (b *Book) shard(id schema.InstrumentID) *shard {
	return &b.shards[uint32(id)%shardCount]
}

// Apply updates the instrument state from a tick. A tick whose sequence
// number is not greater than the stored one is a no-op, which makes Apply
// idempotent under duplicate or out-of-order delivery. Returns true when
// the tick advanced the state.
func (b *Book) Apply(t schema.Tick) bool {
	sh := b.shard(t.InstrumentID)
	sh.mu.Lock()
	slot, ok := sh.states[t.InstrumentID]
	if !ok {
		slot = &atomic.Pointer[InstrumentState]{}
		sh.states[t.InstrumentID] = slot
	}
	current := slot.Load()
	if current != nil && t.Seq <= current.Seq {
		sh.mu.Unlock()
		b.stale.Add(1)
		return false
	}

	next := &InstrumentState{
		InstrumentID: t.InstrumentID,
		Price:        t.Price,
		Qty:          t.Qty,
		OpenInterest: t.OpenInterest,
		TsExchange:   t.TsExchange,
		Seq:          t.Seq,
		UpdatedAt:    t.TsIngest,
	}
	if current == nil {
		next.Window = []schema.Price{t.Price}
	} else {
		keep := len(current.Window)
		if keep >= b.windowSize {
			keep = b.windowSize - 1
		}
		window := make([]schema.Price, 0, keep+1)
		window = append(window, current.Window[len(current.Window)-keep:]...)
		window = append(window, t.Price)
		next.Window = window
	}
	slot.Store(next)
	sh.mu.Unlock()
	return true
}

// Get returns the current state snapshot for an instrument.
func (b *Book) Get(id schema.InstrumentID) (*InstrumentState, error) {
	sh := b.shard(id)
	sh.mu.Lock()
	slot, ok := sh.states[id]
	sh.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	state := slot.Load()
	if state == nil {
		return nil, ErrNotFound
	}
	return state, nil
}

// Seq returns the last applied sequence number for an instrument.
func (b *Book) Seq(id schema.InstrumentID) (uint64, bool) {
	state, err := b.Get(id)
	if err != nil {
		return 0, false
	}
	return state.Seq, true
}

// StaleTicks returns how many ticks were ignored as duplicates or regressions.
func (b *Book) StaleTicks() uint64 {
	return b.stale.Load()
}

// InstrumentIDs returns the ids currently present in the book.
func (b *Book) InstrumentIDs() []schema.InstrumentID {
	var ids []schema.InstrumentID
	for i := range b.shards {
		sh := &b.shards[i]
		sh.mu.Lock()
		for id := range sh.states {
			ids = append(ids, id)
		}
		sh.mu.Unlock()
	}
	return ids
}
