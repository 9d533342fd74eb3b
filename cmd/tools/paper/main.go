package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"tradeflow/internal/book"
	"tradeflow/internal/bus"
	"tradeflow/internal/journal"
	"tradeflow/internal/notify"
	"tradeflow/internal/ops"
	"tradeflow/internal/order"
	"tradeflow/internal/risk"
	"tradeflow/internal/schema"
	"tradeflow/internal/strategy"
	"tradeflow/internal/venue"
)

// Paper-trades a recorded journal: every tick is replayed through the
// configured strategies, signals pass the real risk gate, and approved
// orders are filled by the simulated venue. No network, no live feed.
func main() {
	dir := flag.String("dir", "testdata/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: ticks)")
	configPath := flag.String("config", "config.json", "Path to JSON config")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	partialQty := flag.Int64("partial-qty", 0, "Simulated venue partial fill chunk size (0=single fill)")
	settle := flag.Duration("settle", 500*time.Millisecond, "Grace period for in-flight fills after replay")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	replay, err := journal.NewReplay(journal.ReplayConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		DisableChecksum: *noChecksum,
	})
	if err != nil {
		log.Fatalf("replay init failed: %v", err)
	}

	instrumentBook := book.New(loaded.WindowSize)
	runners := make([]*paperRunner, 0, len(loaded.Strategies))
	for _, spec := range loaded.Strategies {
		strat, err := strategy.Build(spec.Kind, spec.ID, spec.InstrumentID, spec.Params)
		if err != nil {
			log.Fatalf("strategy build failed: %v", err)
		}
		runners = append(runners, &paperRunner{strat: strat})
	}

	positions := risk.NewPositions()
	gate, err := risk.NewGate(loaded.Risk, positions)
	if err != nil {
		log.Fatalf("risk gate init failed: %v", err)
	}

	sim := venue.NewSim(venue.SimConfig{PartialFillQty: schema.Quantity(*partialQty)})
	requests := make(chan schema.OrderRequest, 64)
	manager := order.NewManager(loaded.Order, sim, positions, notify.NewLog(), requests)

	ctx, cancel := context.WithCancel(context.Background())
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		_ = manager.Run(ctx)
	}()

	var events, signals int
	err = replay.Run(ctx, func(e bus.Event) error {
		events++
		switch e.Header.Type {
		case schema.EventGap:
			for _, r := range runners {
				r.afterGap = true
			}
			return nil
		case schema.EventTick:
			instrumentBook.Apply(e.Tick)
		default:
			return nil
		}

		for _, r := range runners {
			if e.Tick.InstrumentID != r.strat.Instrument() {
				continue
			}
			signal, ok := r.evaluate(instrumentBook, e.Header.TsEvent)
			if !ok {
				continue
			}
			signals++
			req, decision := gate.Evaluate(signal, time.Now().UTC().UnixNano())
			if decision.Action == schema.RiskActionReject {
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	// Fills from the simulated venue arrive asynchronously.
	time.Sleep(*settle)
	cancel()
	<-managerDone
	sim.Close()

	fmt.Printf("paper completed: events=%d signals=%d approved=%d rejected=%d submitted=%d fills=%d expired=%d\n",
		events, signals, gate.Approved(), gate.Rejected(), manager.Submitted(), manager.Fills(), manager.Expired())
	for _, entry := range positions.Snapshot() {
		fmt.Printf("  position instrument=%d qty=%d mark=%d\n", entry.InstrumentID, entry.Qty, entry.Mark)
	}
}

type paperRunner struct {
	strat    strategy.Strategy
	afterGap bool
}

func (r *paperRunner) evaluate(b *book.Book, now int64) (schema.Signal, bool) {
	state, err := b.Get(r.strat.Instrument())
	if err != nil {
		return schema.Signal{}, false
	}
	signal, ok := r.strat.Evaluate(strategy.EvalContext{
		State:    state,
		Now:      now,
		AfterGap: r.afterGap,
	})
	r.afterGap = false
	return signal, ok
}
