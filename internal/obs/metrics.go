package obs

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeflow/internal/schema"
)

const namespace = "engine"

// Metrics owns the prometheus registry and the engine-level instruments.
// Component counters stay plain atomics inside their packages; they are
// exported here through gauge functions read at scrape time.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	riskDecisions *prometheus.CounterVec
	tickLatency   prometheus.Histogram
}

// NewMetrics builds a registry with runtime collectors and the engine
// instruments registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events observed on the bus by type.",
		}, []string{"type"}),
		riskDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_decisions_total",
			Help:      "Risk gate decisions by action and reason.",
		}, []string{"action", "reason"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_latency_seconds",
			Help:      "Exchange-to-ingest latency of ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	registry.MustRegister(m.events, m.riskDecisions, m.tickLatency)
	return m
}

// ObserveEvent counts a bus event and tracks tick latency when both
// timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	m.events.WithLabelValues(eventTypeLabel(header.Type)).Inc()
	if header.Type == schema.EventTick && header.TsEvent > 0 && header.TsRecv > header.TsEvent {
		m.tickLatency.Observe(float64(header.TsRecv-header.TsEvent) / float64(time.Second))
	}
}

// ObserveRiskDecision counts a gate verdict.
func (m *Metrics) ObserveRiskDecision(d schema.RiskDecision) {
	action := "approve"
	if d.Action == schema.RiskActionReject {
		action = "reject"
	}
	m.riskDecisions.WithLabelValues(action, riskReasonLabel(d.Reason)).Inc()
}

// MustRegisterGaugeFunc exposes a component counter under the engine
// namespace, read at scrape time.
func (m *Metrics) MustRegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint until the context is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func eventTypeLabel(t schema.EventType) string {
	switch t {
	case schema.EventTick:
		return "tick"
	case schema.EventGap:
		return "gap"
	case schema.EventSignal:
		return "signal"
	case schema.EventOrderRequest:
		return "order_request"
	case schema.EventOrderUpdate:
		return "order_update"
	case schema.EventFill:
		return "fill"
	case schema.EventRiskDecision:
		return "risk_decision"
	default:
		return "unknown"
	}
}

func riskReasonLabel(r schema.RiskReason) string {
	switch r {
	case schema.RiskReasonNone:
		return "none"
	case schema.RiskReasonMaxOrderQty:
		return "max_order_qty"
	case schema.RiskReasonPositionLimit:
		return "position_limit"
	case schema.RiskReasonExposureLimit:
		return "exposure_limit"
	case schema.RiskReasonRateLimit:
		return "rate_limit"
	case schema.RiskReasonDuplicateSignal:
		return "duplicate_signal"
	case schema.RiskReasonInvalidSignal:
		return "invalid_signal"
	default:
		return "unknown"
	}
}
