package order

import (
	"errors"

	"tradeflow/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrOverfill          = errors.New("fill exceeds requested quantity")
)

// Status tracks the lifecycle of an order.
type Status uint16

const (
	StatusUnknown Status = iota
	StatusPending
	StatusSubmitted
	StatusAcknowledged
	StatusPartiallyFilled
	StatusFilled
	StatusRejected
	StatusCancelled
	StatusExpired
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// String returns the lifecycle state label.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubmitted:
		return "submitted"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusRejected:
		return "rejected"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is the manager's view of one order. The record is created in Pending
// before anything touches the network, so a crash between creation and
// submission still leaves an auditable trail.
type Order struct {
	Request      schema.OrderRequest
	VenueOrderID string
	Status       Status
	FilledQty    schema.Quantity
	AvgPrice     schema.Price
	LastFillSeq  uint64
	Attempts     int
	TsSubmitted  int64
	TsUpdated    int64
}

// Machine holds all order records and enforces the lifecycle transitions.
// Owned by the order manager goroutine; not safe for concurrent use.
type Machine struct {
	orders  map[uint64]*Order
	byVenue map[string]uint64
}

// NewMachine creates an empty state machine.
func NewMachine() *Machine {
	return &Machine{
		orders:  make(map[uint64]*Order),
		byVenue: make(map[string]uint64),
	}
}

// Order returns the record for a client order id.
func (m *Machine) Order(clientOrderID uint64) (*Order, bool) {
	o, ok := m.orders[clientOrderID]
	return o, ok
}

// Resolve maps a venue order id back to a client order id.
func (m *Machine) Resolve(venueOrderID string) (uint64, bool) {
	id, ok := m.byVenue[venueOrderID]
	return id, ok
}

// Orders calls fn for every tracked order.
func (m *Machine) Orders(fn func(*Order)) {
	for _, o := range m.orders {
		fn(o)
	}
}

// Create records a new order in Pending.
func (m *Machine) Create(req schema.OrderRequest) (*Order, error) {
	if req.ClientOrderID == 0 {
		return nil, ErrUnknownOrder
	}
	if _, ok := m.orders[req.ClientOrderID]; ok {
		return nil, ErrDuplicateOrder
	}
	o := &Order{Request: req, Status: StatusPending, TsUpdated: req.TsCreated}
	m.orders[o.Request.ClientOrderID] = o
	return o, nil
}

// MarkSubmitted moves an order to Submitted after a successful handoff.
// Resubmission of an already Submitted order just bumps the attempt count.
func (m *Machine) MarkSubmitted(clientOrderID uint64, now int64) (*Order, error) {
	o, ok := m.orders[clientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	switch o.Status {
	case StatusPending:
		o.Status = StatusSubmitted
	case StatusSubmitted:
	default:
		return o, ErrInvalidTransition
	}
	o.Attempts++
	o.TsSubmitted = now
	o.TsUpdated = now
	return o, nil
}

// Expire moves an order that stopped receiving venue updates to Expired.
// Valid from Pending, Submitted, Acknowledged, and PartiallyFilled.
func (m *Machine) Expire(clientOrderID uint64, now int64) (*Order, error) {
	o, ok := m.orders[clientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if !canTransition(o.Status, StatusExpired) {
		return o, ErrInvalidTransition
	}
	o.Status = StatusExpired
	o.TsUpdated = now
	return o, nil
}

// Reject moves a Pending order to Rejected after its submission attempts
// are exhausted. Venue-side rejections arrive through ApplyUpdate instead.
func (m *Machine) Reject(clientOrderID uint64, now int64) (*Order, error) {
	o, ok := m.orders[clientOrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if o.Status != StatusPending {
		return o, ErrInvalidTransition
	}
	o.Status = StatusRejected
	o.TsUpdated = now
	return o, nil
}

// ApplyUpdate folds a venue callback into the order record. It returns the
// order, whether the record changed, and the newly filled delta quantity
// (zero unless this update carried an unseen fill). Duplicate
// acknowledgments and replayed fills are no-ops, never errors.
func (m *Machine) ApplyUpdate(clientOrderID uint64, u schema.VenueUpdate) (*Order, bool, schema.Quantity, error) {
	o, ok := m.orders[clientOrderID]
	if !ok {
		return nil, false, 0, ErrUnknownOrder
	}
	if u.VenueOrderID != "" && o.VenueOrderID == "" {
		o.VenueOrderID = u.VenueOrderID
		m.byVenue[u.VenueOrderID] = clientOrderID
	}

	switch u.Status {
	case schema.VenueStatusAcknowledged:
		if o.Status == StatusAcknowledged {
			return o, false, 0, nil
		}
		if !canTransition(o.Status, StatusAcknowledged) {
			return o, false, 0, ErrInvalidTransition
		}
		o.Status = StatusAcknowledged
		o.TsUpdated = u.Ts
		return o, true, 0, nil

	case schema.VenueStatusRejected:
		if o.Status == StatusRejected {
			return o, false, 0, nil
		}
		if !canTransition(o.Status, StatusRejected) {
			return o, false, 0, ErrInvalidTransition
		}
		o.Status = StatusRejected
		o.TsUpdated = u.Ts
		return o, true, 0, nil

	case schema.VenueStatusCancelled:
		if o.Status == StatusCancelled {
			return o, false, 0, nil
		}
		if !canTransition(o.Status, StatusCancelled) {
			return o, false, 0, ErrInvalidTransition
		}
		o.Status = StatusCancelled
		o.TsUpdated = u.Ts
		return o, true, 0, nil

	case schema.VenueStatusPartiallyFilled, schema.VenueStatusFilled:
		return m.applyFill(o, u)

	default:
		return o, false, 0, ErrInvalidTransition
	}
}

// applyFill handles cumulative fill updates. Replays are detected by fill
// sequence and by the cumulative quantity never decreasing.
func (m *Machine) applyFill(o *Order, u schema.VenueUpdate) (*Order, bool, schema.Quantity, error) {
	if o.Status.Terminal() {
		if o.Status == StatusFilled && u.FillSeq <= o.LastFillSeq {
			return o, false, 0, nil
		}
		return o, false, 0, ErrInvalidTransition
	}
	if u.FillSeq != 0 && u.FillSeq <= o.LastFillSeq {
		return o, false, 0, nil
	}
	if u.FilledQty > o.Request.Qty {
		return o, false, 0, ErrOverfill
	}
	delta := u.FilledQty - o.FilledQty
	if delta <= 0 {
		o.LastFillSeq = u.FillSeq
		return o, false, 0, nil
	}

	next := StatusPartiallyFilled
	if u.FilledQty == o.Request.Qty {
		next = StatusFilled
	}
	if !canTransition(o.Status, next) {
		return o, false, 0, ErrInvalidTransition
	}
	o.Status = next
	o.FilledQty = u.FilledQty
	o.LastFillSeq = u.FillSeq
	if u.AvgPrice > 0 {
		o.AvgPrice = u.AvgPrice
	}
	o.TsUpdated = u.Ts
	return o, true, delta, nil
}

func canTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusSubmitted || to == StatusRejected ||
			to == StatusCancelled || to == StatusExpired
	case StatusSubmitted:
		// Fast venues can fill before the acknowledgment is observed.
		return to == StatusAcknowledged || to == StatusPartiallyFilled ||
			to == StatusFilled || to == StatusRejected ||
			to == StatusCancelled || to == StatusExpired
	case StatusAcknowledged:
		return to == StatusPartiallyFilled || to == StatusFilled ||
			to == StatusCancelled || to == StatusExpired
	case StatusPartiallyFilled:
		return to == StatusPartiallyFilled || to == StatusFilled ||
			to == StatusCancelled || to == StatusExpired
	default:
		return false
	}
}
