package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"tradeflow/internal/book"
	"tradeflow/internal/bus"
	"tradeflow/internal/insight"
	"tradeflow/internal/schema"
)

// Engine runs registered strategy instances as independent units of work.
// Each instance consumes its own bus subscription, so a slow or faulty
// instance never stalls its peers or the feed. A panic inside one
// evaluation is recovered, counted, and logged as a strategy fault.
type Engine struct {
	book     *book.Book
	provider insight.Provider
	out      chan<- schema.Signal
	runners  []*runner
	faults   atomic.Uint64
}

type runner struct {
	strat    Strategy
	sub      *bus.Subscriber
	interval time.Duration
	afterGap bool
}

// NewEngine creates an engine that publishes signals to out.
func NewEngine(b *book.Book, provider insight.Provider, out chan<- schema.Signal) *Engine {
	if provider == nil {
		provider = insight.Unavailable{}
	}
	return &Engine{book: b, provider: provider, out: out}
}

// Register adds a strategy instance with its bus subscription. A non-zero
// interval schedules periodic re-evaluation independent of ticks, for
// strategies with time-based exits. Call before Run.
func (e *Engine) Register(strat Strategy, sub *bus.Subscriber, interval time.Duration) {
	e.runners = append(e.runners, &runner{strat: strat, sub: sub, interval: interval})
}

// Faults returns the number of recovered strategy evaluation faults.
func (e *Engine) Faults() uint64 {
	return e.faults.Load()
}

// Run drives all instances until the context is cancelled. In-flight
// evaluations run to completion; no new evaluation is scheduled after
// cancellation.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, r := range e.runners {
		wg.Add(1)
		go func(r *runner) {
			defer wg.Done()
			e.runInstance(ctx, r)
		}(r)
	}
	wg.Wait()
	return ctx.Err()
}

func (e *Engine) runInstance(ctx context.Context, r *runner) {
	var timerCh <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		timerCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.sub.Events():
			if !ok {
				return
			}
			switch event.Header.Type {
			case schema.EventGap:
				r.afterGap = true
			case schema.EventTick:
				if event.Tick.InstrumentID != r.strat.Instrument() {
					continue
				}
				// Apply is idempotent, so racing the book's own
				// subscriber is harmless and guarantees the snapshot
				// is at least as fresh as this tick.
				e.book.Apply(event.Tick)
				e.evaluate(ctx, r, false)
			}
		case <-timerCh:
			e.evaluate(ctx, r, true)
		}
	}
}

func (e *Engine) evaluate(ctx context.Context, r *runner, timer bool) {
	state, err := e.book.Get(r.strat.Instrument())
	if err != nil {
		return
	}
	evalCtx := EvalContext{
		State:    state,
		Now:      time.Now().UTC().UnixNano(),
		Timer:    timer,
		AfterGap: r.afterGap,
	}
	if ins, ok := e.provider.GetInsight(r.strat.Instrument()); ok {
		evalCtx.Insight = ins
		evalCtx.InsightOK = true
	}
	r.afterGap = false

	signal, ok := e.safeEvaluate(r.strat, evalCtx)
	if !ok {
		return
	}
	select {
	case e.out <- signal:
	case <-ctx.Done():
	}
}

func (e *Engine) safeEvaluate(strat Strategy, evalCtx EvalContext) (signal schema.Signal, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.faults.Add(1)
			logs.Errorf("strategy fault, name: %s, id: %d, recovered: %+v", strat.Name(), strat.ID(), rec)
			signal, ok = schema.Signal{}, false
		}
	}()
	return strat.Evaluate(evalCtx)
}
