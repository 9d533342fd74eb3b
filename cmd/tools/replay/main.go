package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"tradeflow/internal/book"
	"tradeflow/internal/bus"
	"tradeflow/internal/journal"
	"tradeflow/internal/schema"
	"tradeflow/internal/strategy"
)

func main() {
	dir := flag.String("dir", "testdata/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: ticks)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	decode := flag.Bool("decode", false, "Print decoded payload fields")

	kind := flag.String("strategy", "", "Dry-run a strategy over the replayed ticks (momentum, sma_cross, futures, options)")
	instrument := flag.Uint("instrument", 1, "Instrument id for the dry run")
	windowSize := flag.Int("window", 256, "Price window size for the dry run")
	qty := flag.Int64("qty", 1, "Order quantity for the dry run")
	riseThreshold := flag.Int64("rise-threshold", 0, "Momentum rise threshold in scaled price units")
	lookback := flag.Int("lookback", 1, "Momentum lookback in ticks")
	shortPeriod := flag.Int("short-period", 5, "SMA crossover short period")
	longPeriod := flag.Int("long-period", 20, "SMA crossover long period")
	flag.Parse()

	replay, err := journal.NewReplay(journal.ReplayConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		DisableChecksum: *noChecksum,
	})
	if err != nil {
		log.Fatalf("replay init failed: %v", err)
	}

	var dry *dryRun
	if *kind != "" {
		strat, err := strategy.Build(*kind, 1, schema.InstrumentID(*instrument), strategy.Params{
			Qty:           schema.Quantity(*qty),
			RiseThreshold: schema.Price(*riseThreshold),
			Lookback:      *lookback,
			ShortPeriod:   *shortPeriod,
			LongPeriod:    *longPeriod,
		})
		if err != nil {
			log.Fatalf("strategy build failed: %v", err)
		}
		dry = &dryRun{book: book.New(*windowSize), strat: strat}
	}

	var index int
	err = replay.Run(context.Background(), func(e bus.Event) error {
		index++
		fmt.Printf("%06d seq=%d type=%s ts_event=%d ts_recv=%d\n",
			index, e.Header.Seq, eventTypeName(e.Header.Type), e.Header.TsEvent, e.Header.TsRecv)
		if *decode {
			printDecoded(e)
		}
		if dry != nil {
			dry.apply(e)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("replay run failed: %v", err)
	}
	if dry != nil {
		fmt.Printf("dry run finished: %d events, %d signals\n", index, dry.signals)
	}
}

// dryRun replays ticks through a book snapshot and one strategy instance,
// printing every signal the strategy would have emitted.
type dryRun struct {
	book     *book.Book
	strat    strategy.Strategy
	afterGap bool
	signals  int
}

func (d *dryRun) apply(e bus.Event) {
	switch e.Header.Type {
	case schema.EventGap:
		d.afterGap = true
		return
	case schema.EventTick:
		if e.Tick.InstrumentID != d.strat.Instrument() {
			return
		}
		d.book.Apply(e.Tick)
	default:
		return
	}

	state, err := d.book.Get(d.strat.Instrument())
	if err != nil {
		return
	}
	signal, ok := d.strat.Evaluate(strategy.EvalContext{
		State:    state,
		Now:      e.Header.TsEvent,
		AfterGap: d.afterGap,
	})
	d.afterGap = false
	if !ok {
		return
	}
	d.signals++
	fmt.Printf("  signal strategy=%d direction=%s qty=%d ref_price=%d epoch=%d\n",
		signal.StrategyID, directionName(signal.Direction), signal.Qty, signal.RefPrice, signal.Epoch)
}

func eventTypeName(t schema.EventType) string {
	switch t {
	case schema.EventTick:
		return "Tick"
	case schema.EventGap:
		return "Gap"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

func directionName(d schema.SignalDirection) string {
	switch d {
	case schema.SignalDirectionEnterLong:
		return "EnterLong"
	case schema.SignalDirectionEnterShort:
		return "EnterShort"
	case schema.SignalDirectionExit:
		return "Exit"
	case schema.SignalDirectionAdjust:
		return "Adjust"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

func printDecoded(e bus.Event) {
	switch e.Header.Type {
	case schema.EventTick:
		fmt.Printf("  tick instrument=%d price=%d qty=%d ts_exchange=%d\n",
			e.Tick.InstrumentID, e.Tick.Price, e.Tick.Qty, e.Tick.TsExchange)
	case schema.EventGap:
		fmt.Printf("  gap reason=%d attempts=%d ts=%d\n", e.Gap.Reason, e.Gap.Attempts, e.Gap.Ts)
	}
}
