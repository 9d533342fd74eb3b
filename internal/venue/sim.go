package venue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"

	"tradeflow/internal/schema"
)

var ErrSimClosed = errors.New("venue: simulator closed")

// SimConfig controls the simulated venue behavior.
type SimConfig struct {
	// RejectAll rejects every submission after acknowledgment-time checks.
	RejectAll bool
	// SilentAcks swallows acknowledgments, leaving orders unanswered.
	SilentAcks bool
	// PartialFillQty splits fills into chunks of this size. Zero fills in one shot.
	PartialFillQty schema.Quantity
	// FillDelay postpones fills after the acknowledgment.
	FillDelay time.Duration
	// Buffer is the updates channel capacity.
	Buffer int
}

// Sim is an in-process venue for tools and tests. Every accepted order is
// acknowledged with a fresh venue order id and then filled at its limit
// price, optionally in partial chunks.
type Sim struct {
	cfg     SimConfig
	updates chan Update

	mu     sync.Mutex
	orders map[uint64]string
	closed bool
}

// NewSim creates a simulated venue.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Sim{
		cfg:     cfg,
		updates: make(chan Update, cfg.Buffer),
		orders:  make(map[uint64]string),
	}
}

// Updates exposes the status callback stream.
func (s *Sim) Updates() <-chan Update {
	return s.updates
}

// SubmitOrder accepts the order and schedules its lifecycle callbacks.
func (s *Sim) SubmitOrder(ctx context.Context, req schema.OrderRequest) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSimClosed
	}
	if _, ok := s.orders[req.ClientOrderID]; ok {
		// Duplicate submission of a known order is idempotent.
		s.mu.Unlock()
		return nil
	}
	venueOrderID := uuid.NewString()
	s.orders[req.ClientOrderID] = venueOrderID
	s.mu.Unlock()

	go s.lifecycle(req, venueOrderID)
	return nil
}

// CancelOrder emits a cancellation callback for a known order.
func (s *Sim) CancelOrder(ctx context.Context, clientOrderID uint64) error {
	s.mu.Lock()
	venueOrderID, ok := s.orders[clientOrderID]
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSimClosed
	}
	if !ok {
		return nil
	}
	s.emit(Update{
		ClientOrderID: clientOrderID,
		VenueUpdate: schema.VenueUpdate{
			VenueOrderID: venueOrderID,
			Status:       schema.VenueStatusCancelled,
			Ts:           time.Now().UTC().UnixNano(),
		},
	})
	return nil
}

// Close stops the simulator. The updates channel stays open so late readers
// simply observe no further callbacks.
func (s *Sim) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Sim) lifecycle(req schema.OrderRequest, venueOrderID string) {
	if s.cfg.SilentAcks {
		return
	}
	now := func() int64 { return time.Now().UTC().UnixNano() }

	if s.cfg.RejectAll {
		s.emit(Update{
			ClientOrderID: req.ClientOrderID,
			VenueUpdate:   schema.VenueUpdate{VenueOrderID: venueOrderID, Status: schema.VenueStatusRejected, Ts: now()},
		})
		return
	}

	s.emit(Update{
		ClientOrderID: req.ClientOrderID,
		VenueUpdate:   schema.VenueUpdate{VenueOrderID: venueOrderID, Status: schema.VenueStatusAcknowledged, Ts: now()},
	})

	if s.cfg.FillDelay > 0 {
		time.Sleep(s.cfg.FillDelay)
	}

	chunk := s.cfg.PartialFillQty
	if chunk <= 0 || chunk >= req.Qty {
		s.emit(Update{
			ClientOrderID: req.ClientOrderID,
			VenueUpdate: schema.VenueUpdate{
				VenueOrderID: venueOrderID,
				Status:       schema.VenueStatusFilled,
				FillSeq:      1,
				FilledQty:    req.Qty,
				AvgPrice:     req.Price,
				Ts:           now(),
			},
		})
		return
	}

	var filled schema.Quantity
	var seq uint64
	for filled < req.Qty {
		filled += chunk
		if filled > req.Qty {
			filled = req.Qty
		}
		seq++
		status := schema.VenueStatusPartiallyFilled
		if filled == req.Qty {
			status = schema.VenueStatusFilled
		}
		s.emit(Update{
			ClientOrderID: req.ClientOrderID,
			VenueUpdate: schema.VenueUpdate{
				VenueOrderID: venueOrderID,
				Status:       status,
				FillSeq:      seq,
				FilledQty:    filled,
				AvgPrice:     req.Price,
				Ts:           now(),
			},
		})
	}
}

func (s *Sim) emit(u Update) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.updates <- u
}
