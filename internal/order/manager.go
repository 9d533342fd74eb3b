package order

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"tradeflow/internal/notify"
	"tradeflow/internal/risk"
	"tradeflow/internal/schema"
	"tradeflow/internal/venue"
)

// Config tunes order submission and supervision.
type Config struct {
	// AckTimeout bounds how long a Submitted order may wait for its
	// acknowledgment before being expired.
	AckTimeout time.Duration
	// FillTimeout bounds how long an Acknowledged or PartiallyFilled order
	// may wait for further venue updates before being expired.
	FillTimeout time.Duration
	// MaxSubmitAttempts bounds submission retries. Retries always reuse the
	// original client order id.
	MaxSubmitAttempts int
	// SweepInterval is how often the manager scans for stuck orders.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.FillTimeout <= 0 {
		c.FillTimeout = 30 * time.Second
	}
	if c.MaxSubmitAttempts <= 0 {
		c.MaxSubmitAttempts = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	return c
}

// Auditor receives an order snapshot after every state change, for
// persistence outside the hot path. Implementations must not block.
type Auditor interface {
	RecordOrder(o Order)
}

// Manager owns the order lifecycle: it creates the Pending record before any
// network call, submits to the venue with bounded retries, folds venue
// callbacks into the state machine, and applies confirmed fills to positions.
// It is the only writer of order state and position state.
type Manager struct {
	cfg       Config
	machine   *Machine
	adapter   venue.Adapter
	positions *risk.Positions
	notifier  notify.Notifier
	auditor   Auditor
	requests  <-chan schema.OrderRequest

	submitted     atomic.Uint64
	fills         atomic.Uint64
	expired       atomic.Uint64
	failedSubmits atomic.Uint64
	anomalies     atomic.Uint64
}

// NewManager creates a manager consuming approved requests from requests.
func NewManager(cfg Config, adapter venue.Adapter, positions *risk.Positions, notifier notify.Notifier, requests <-chan schema.OrderRequest) *Manager {
	if positions == nil {
		positions = risk.NewPositions()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		machine:   NewMachine(),
		adapter:   adapter,
		positions: positions,
		notifier:  notifier,
		requests:  requests,
	}
}

// Machine exposes the state machine for inspection. The caller must not use
// it concurrently with Run.
func (m *Manager) Machine() *Machine { return m.machine }

// SetAuditor installs the audit sink. Call before Run.
func (m *Manager) SetAuditor(a Auditor) { m.auditor = a }

// Submitted returns the number of successful venue handoffs.
func (m *Manager) Submitted() uint64 { return m.submitted.Load() }

// Fills returns the number of confirmed fill deltas applied.
func (m *Manager) Fills() uint64 { return m.fills.Load() }

// Expired returns the number of orders expired by the timeout sweep.
func (m *Manager) Expired() uint64 { return m.expired.Load() }

// FailedSubmissions returns the number of orders rejected after exhausting
// their submission attempts.
func (m *Manager) FailedSubmissions() uint64 { return m.failedSubmits.Load() }

// Anomalies returns the reconciliation anomaly count: unknown venue or
// client order ids, invalid transitions, and overfills.
func (m *Manager) Anomalies() uint64 { return m.anomalies.Load() }

// Run processes requests and venue callbacks until the context is done.
func (m *Manager) Run(ctx context.Context) error {
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-m.requests:
			if !ok {
				return nil
			}
			m.handleRequest(ctx, req)
		case u, ok := <-m.adapter.Updates():
			if !ok {
				return nil
			}
			m.handleUpdate(u)
		case <-sweep.C:
			m.sweep(ctx, time.Now().UTC().UnixNano())
		}
	}
}

func (m *Manager) audit(o *Order) {
	if m.auditor != nil && o != nil {
		m.auditor.RecordOrder(*o)
	}
}

func (m *Manager) handleRequest(ctx context.Context, req schema.OrderRequest) {
	if _, err := m.machine.Create(req); err != nil {
		// The risk gate already dedupes idempotency keys; a duplicate here
		// means a replayed request crossed the channel.
		m.anomalies.Add(1)
		logs.Warnf("duplicate order request dropped, clientOrderID: %d", req.ClientOrderID)
		return
	}
	if o, ok := m.machine.Order(req.ClientOrderID); ok {
		m.audit(o)
	}
	m.submit(ctx, req)
}

func (m *Manager) submit(ctx context.Context, req schema.OrderRequest) {
	now := time.Now().UTC().UnixNano()
	if err := m.adapter.SubmitOrder(ctx, req); err != nil {
		// Stays Pending; the sweep retries with the same client order id.
		logs.Warnf("order submission failed, clientOrderID: %d, err: %+v", req.ClientOrderID, err)
		if o, ok := m.machine.Order(req.ClientOrderID); ok {
			o.Attempts++
			o.TsUpdated = now
		}
		return
	}
	o, err := m.machine.MarkSubmitted(req.ClientOrderID, now)
	if err != nil {
		m.anomalies.Add(1)
		return
	}
	m.submitted.Add(1)
	m.audit(o)
}

func (m *Manager) handleUpdate(u venue.Update) {
	clientOrderID := u.ClientOrderID
	if clientOrderID == 0 {
		resolved, ok := m.machine.Resolve(u.VenueOrderID)
		if !ok {
			m.anomaly("venue update for unknown venue order id %q", u.VenueOrderID)
			return
		}
		clientOrderID = resolved
	}

	o, changed, fillDelta, err := m.machine.ApplyUpdate(clientOrderID, u.VenueUpdate)
	if err != nil {
		m.anomaly("venue update rejected, clientOrderID: %d, status: %d, err: %v", clientOrderID, u.Status, err)
		return
	}
	if fillDelta > 0 {
		m.fills.Add(1)
		m.positions.ApplyFill(schema.Fill{
			ClientOrderID: clientOrderID,
			InstrumentID:  o.Request.InstrumentID,
			Side:          o.Request.Side,
			Price:         u.AvgPrice,
			Qty:           fillDelta,
			Ts:            u.Ts,
		})
	}
	if changed {
		m.audit(o)
		m.notifyTransition(o)
	}
}

type sweepOp uint8

const (
	sweepResubmit sweepOp = iota
	sweepReject
	sweepExpire
)

// sweep retries Pending orders, rejects them once their attempt budget is
// spent, and expires Submitted orders whose acknowledgment never arrived as
// well as Acknowledged or PartiallyFilled orders whose fills stopped coming.
// An order past Pending is never resubmitted.
func (m *Manager) sweep(ctx context.Context, now int64) {
	type action struct {
		req schema.OrderRequest
		op  sweepOp
		why string
	}
	var actions []action
	m.machine.Orders(func(o *Order) {
		switch o.Status {
		case StatusPending:
			if o.Attempts >= m.cfg.MaxSubmitAttempts {
				actions = append(actions, action{req: o.Request, op: sweepReject})
			} else {
				actions = append(actions, action{req: o.Request, op: sweepResubmit})
			}
		case StatusSubmitted:
			if o.TsSubmitted > 0 && now-o.TsSubmitted > int64(m.cfg.AckTimeout) {
				actions = append(actions, action{req: o.Request, op: sweepExpire, why: "acknowledgment"})
			}
		case StatusAcknowledged, StatusPartiallyFilled:
			if o.TsUpdated > 0 && now-o.TsUpdated > int64(m.cfg.FillTimeout) {
				actions = append(actions, action{req: o.Request, op: sweepExpire, why: "fills"})
			}
		}
	})

	for _, a := range actions {
		switch a.op {
		case sweepResubmit:
			m.submit(ctx, a.req)

		case sweepReject:
			o, err := m.machine.Reject(a.req.ClientOrderID, now)
			if err != nil {
				continue
			}
			m.failedSubmits.Add(1)
			m.audit(o)
			m.notifier.Notify(notify.Event{
				Kind:     notify.KindOrderTransition,
				Severity: notify.SeverityCritical,
				Message: fmt.Sprintf("order %d rejected after %d failed submission attempts",
					o.Request.ClientOrderID, o.Attempts),
				Ts: now,
			})

		case sweepExpire:
			o, err := m.machine.Expire(a.req.ClientOrderID, now)
			if err != nil {
				continue
			}
			m.expired.Add(1)
			m.audit(o)
			// Best effort: the venue may still know the order.
			_ = m.adapter.CancelOrder(ctx, a.req.ClientOrderID)
			m.notifier.Notify(notify.Event{
				Kind:     notify.KindOrderTransition,
				Severity: notify.SeverityCritical,
				Message:  fmt.Sprintf("order %d expired waiting for %s", o.Request.ClientOrderID, a.why),
				Ts:       now,
			})
		}
	}
}

func (m *Manager) notifyTransition(o *Order) {
	severity := notify.SeverityInfo
	if o.Status == StatusRejected {
		severity = notify.SeverityWarn
	}
	m.notifier.Notify(notify.Event{
		Kind:     notify.KindOrderTransition,
		Severity: severity,
		Message: fmt.Sprintf("order %d %s, filled %d/%d",
			o.Request.ClientOrderID, o.Status, o.FilledQty, o.Request.Qty),
		Ts: o.TsUpdated,
	})
}

func (m *Manager) anomaly(format string, args ...any) {
	m.anomalies.Add(1)
	logs.Warnf("reconciliation anomaly: "+format, args...)
	m.notifier.Notify(notify.Event{
		Kind:     notify.KindReconciliation,
		Severity: notify.SeverityWarn,
		Message:  fmt.Sprintf(format, args...),
		Ts:       time.Now().UTC().UnixNano(),
	})
}
