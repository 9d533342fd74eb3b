package venue

import (
	"context"

	"tradeflow/internal/schema"
)

// Update is an order status callback from a venue. ClientOrderID is set when
// the venue echoes it back; otherwise the order manager resolves the update
// through the venue order id it learned at acknowledgment.
type Update struct {
	ClientOrderID uint64
	schema.VenueUpdate
}

// Adapter is the boundary to an execution venue. Submissions are
// asynchronous: SubmitOrder returns once the request is handed off, and all
// status changes arrive later through Updates. Implementations must keep the
// updates channel open for the lifetime of the adapter.
type Adapter interface {
	SubmitOrder(ctx context.Context, req schema.OrderRequest) error
	CancelOrder(ctx context.Context, clientOrderID uint64) error
	Updates() <-chan Update
}
