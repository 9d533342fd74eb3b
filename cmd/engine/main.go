package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradeflow/internal/book"
	"tradeflow/internal/bus"
	"tradeflow/internal/feed"
	"tradeflow/internal/journal"
	"tradeflow/internal/notify"
	"tradeflow/internal/obs"
	"tradeflow/internal/ops"
	"tradeflow/internal/order"
	"tradeflow/internal/risk"
	"tradeflow/internal/schema"
	"tradeflow/internal/store"
	"tradeflow/internal/strategy"
	"tradeflow/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Risk limit reload interval (0=disable)")
	simPartialQty := flag.Int64("sim-partial-qty", 0, "Simulated venue partial fill chunk size (0=single fill)")
	simFillDelay := flag.Duration("sim-fill-delay", 0, "Simulated venue delay between ack and fills")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profiler.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "engine",
			ServerAddress:   loaded.Profiler.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("profiler start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loaded, *configPath, *configReload, venue.SimConfig{
		PartialFillQty: schema.Quantity(*simPartialQty),
		FillDelay:      *simFillDelay,
	}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("engine stopped: %v", err)
	}
	logs.Infof("engine stopped")
}

func run(ctx context.Context, loaded ops.Loaded, configPath string, configReload time.Duration, simCfg venue.SimConfig) error {
	metrics := obs.NewMetrics()
	trace := obs.NewTraceGenerator(uint64(time.Now().UnixNano()))
	notifier := notify.NewLog()

	eventBus := bus.New()
	defer eventBus.Close()
	instrumentBook := book.New(loaded.WindowSize)

	var auditStore *store.Store
	if loaded.Store.Enabled {
		s, err := store.Open(loaded.Store.DSN)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		auditStore = s
		auditStore.Start(ctx)
		defer func() { _ = auditStore.Close() }()
	}

	var writer *journal.Writer
	if loaded.JournalOn {
		w, err := journal.NewWriter(loaded.Journal)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
		writer = w
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		defer func() { _ = writer.Close() }()
	}

	connector, err := feed.New(loaded.Feed, feed.NewWSDialer(loaded.FeedURL), feed.NewCodec(loaded.Registry), eventBus)
	if err != nil {
		return fmt.Errorf("create feed connector: %w", err)
	}
	connector.SetTraceGenerator(trace)
	connector.SetFaultFunc(func(sessionID string, attempt int, err error) {
		notifier.Notify(notify.Event{
			Kind:     notify.KindConnectorFault,
			Severity: notify.SeverityCritical,
			Message:  fmt.Sprintf("feed degraded after %d reconnect attempts: %v", attempt, err),
			Ts:       time.Now().UTC().UnixNano(),
		})
	})

	positions := risk.NewPositions()
	gate, err := risk.NewGate(loaded.Risk, positions)
	if err != nil {
		return fmt.Errorf("create risk gate: %w", err)
	}

	signals := make(chan schema.Signal, loaded.QueueSize)
	engine := strategy.NewEngine(instrumentBook, nil, signals)
	for _, spec := range loaded.Strategies {
		strat, err := strategy.Build(spec.Kind, spec.ID, spec.InstrumentID, spec.Params)
		if err != nil {
			return fmt.Errorf("build strategy %d: %w", spec.ID, err)
		}
		sub, err := eventBus.Subscribe(fmt.Sprintf("strategy-%d", spec.ID), spec.QueueSize)
		if err != nil {
			return fmt.Errorf("subscribe strategy %d: %w", spec.ID, err)
		}
		engine.Register(strat, sub, spec.EvalInterval)
	}

	bookSub, err := eventBus.Subscribe("book", loaded.QueueSize)
	if err != nil {
		return fmt.Errorf("subscribe book: %w", err)
	}
	obsSub, err := eventBus.Subscribe("obs", loaded.QueueSize)
	if err != nil {
		return fmt.Errorf("subscribe obs: %w", err)
	}
	var journalSub *bus.Subscriber
	if writer != nil {
		journalSub, err = eventBus.Subscribe("journal", loaded.QueueSize)
		if err != nil {
			return fmt.Errorf("subscribe journal: %w", err)
		}
	}

	requests := make(chan schema.OrderRequest, loaded.QueueSize)
	sim := venue.NewSim(simCfg)
	defer sim.Close()
	manager := order.NewManager(loaded.Order, sim, positions, notifier, requests)
	if auditStore != nil {
		manager.SetAuditor(auditStore)
	}

	registerGauges(metrics, connector, gate, engine, manager, writer, auditStore, bookSub)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return connector.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return metrics.Serve(ctx, loaded.Metrics.Listen) })
	g.Go(func() error {
		bookSub.Run(ctx, func(e bus.Event) {
			if e.Header.Type == schema.EventTick {
				instrumentBook.Apply(e.Tick)
			}
		})
		return nil
	})
	g.Go(func() error {
		obsSub.Run(ctx, func(e bus.Event) {
			metrics.ObserveEvent(e.Header)
		})
		return nil
	})
	if journalSub != nil {
		sub := journalSub
		g.Go(func() error {
			sub.Run(ctx, writer.Record)
			return nil
		})
	}
	g.Go(func() error {
		return runPipeline(ctx, signals, requests, gate, metrics, auditStore, notifier)
	})
	if configReload > 0 {
		g.Go(func() error {
			watchRiskLimits(ctx, configPath, configReload, gate)
			return nil
		})
	}

	logs.Infof("engine started, feed: %s, strategies: %d, metrics: %s",
		loaded.FeedURL, len(loaded.Strategies), loaded.Metrics.Listen)
	return g.Wait()
}

// runPipeline walks every signal through the risk gate and forwards approved
// requests to the order manager. Rejections are observable but terminal.
func runPipeline(ctx context.Context, signals <-chan schema.Signal, requests chan<- schema.OrderRequest,
	gate *risk.Gate, metrics *obs.Metrics, auditStore *store.Store, notifier notify.Notifier) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case signal := <-signals:
			req, decision := gate.Evaluate(signal, time.Now().UTC().UnixNano())
			metrics.ObserveRiskDecision(decision)
			if auditStore != nil {
				auditStore.RecordDecision(decision)
			}
			if decision.Action == schema.RiskActionReject {
				notifier.Notify(notify.Event{
					Kind:     notify.KindRiskRejection,
					Severity: notify.SeverityWarn,
					Message: fmt.Sprintf("signal rejected, strategy: %d, instrument: %d, reason: %s",
						signal.StrategyID, signal.InstrumentID, decision.Reason),
					Ts: decision.Ts,
				})
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// watchRiskLimits polls the config file and hot-swaps risk limits when it
// changes. Topology changes still need a restart.
func watchRiskLimits(ctx context.Context, path string, interval time.Duration, gate *risk.Gate) {
	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().After(lastMod) {
			continue
		}
		lastMod = info.ModTime()
		loaded, err := ops.Load(path)
		if err != nil {
			logs.Warnf("config reload skipped, err: %+v", err)
			continue
		}
		if err := gate.SetLimits(loaded.Risk); err != nil {
			logs.Warnf("config reload rejected, err: %+v", err)
			continue
		}
		logs.Infof("risk limits reloaded from %s", path)
	}
}

func registerGauges(metrics *obs.Metrics, connector *feed.Connector, gate *risk.Gate,
	engine *strategy.Engine, manager *order.Manager, writer *journal.Writer,
	auditStore *store.Store, bookSub *bus.Subscriber) {
	metrics.MustRegisterGaugeFunc("feed_ticks_ingested_total", "Ticks accepted by the feed connector.",
		func() float64 { return float64(connector.Stats().TicksIngested) })
	metrics.MustRegisterGaugeFunc("feed_reconnects_total", "Feed session re-establishments.",
		func() float64 { return float64(connector.Stats().Reconnects) })
	metrics.MustRegisterGaugeFunc("feed_gaps_total", "Gap markers emitted after reconnects.",
		func() float64 { return float64(connector.Stats().Gaps) })
	metrics.MustRegisterGaugeFunc("feed_dropped_total", "Feed events dropped on buffer overflow.",
		func() float64 {
			stats := connector.Stats()
			return float64(stats.MalformedDropped + stats.StaleDropped + stats.BufferDropped)
		})
	metrics.MustRegisterGaugeFunc("risk_approved_total", "Orders approved by the risk gate.",
		func() float64 { return float64(gate.Approved()) })
	metrics.MustRegisterGaugeFunc("risk_rejected_total", "Signals rejected by the risk gate.",
		func() float64 { return float64(gate.Rejected()) })
	metrics.MustRegisterGaugeFunc("strategy_faults_total", "Recovered strategy evaluation panics.",
		func() float64 { return float64(engine.Faults()) })
	metrics.MustRegisterGaugeFunc("orders_submitted_total", "Orders handed to the venue.",
		func() float64 { return float64(manager.Submitted()) })
	metrics.MustRegisterGaugeFunc("orders_fills_total", "Confirmed fill deltas applied.",
		func() float64 { return float64(manager.Fills()) })
	metrics.MustRegisterGaugeFunc("orders_expired_total", "Orders expired waiting for acknowledgment or fills.",
		func() float64 { return float64(manager.Expired()) })
	metrics.MustRegisterGaugeFunc("orders_failed_submissions_total", "Orders rejected after exhausting submission attempts.",
		func() float64 { return float64(manager.FailedSubmissions()) })
	metrics.MustRegisterGaugeFunc("orders_anomalies_total", "Reconciliation anomalies from venue updates.",
		func() float64 { return float64(manager.Anomalies()) })
	metrics.MustRegisterGaugeFunc("bus_book_drops_total", "Events dropped on the book subscription.",
		func() float64 { return float64(bookSub.Drops()) })
	if writer != nil {
		metrics.MustRegisterGaugeFunc("journal_dropped_total", "Journal records dropped on a full queue.",
			func() float64 { return float64(writer.Dropped()) })
	}
	if auditStore != nil {
		metrics.MustRegisterGaugeFunc("store_dropped_total", "Audit writes dropped on a full queue.",
			func() float64 { return float64(auditStore.Dropped()) })
	}
}
