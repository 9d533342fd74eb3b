package strategy

import (
	"strings"

	"github.com/yanun0323/errors"

	"tradeflow/internal/schema"
)

var (
	ErrUnknownKind   = errors.New("strategy: unknown kind")
	ErrInvalidParams = errors.New("strategy: invalid parameters")
)

// Build constructs a strategy from the closed set of known kinds. Strategies
// are registered at startup through explicit construction; there is no
// runtime discovery.
func Build(kind string, id uint32, instrument schema.InstrumentID, params Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "momentum":
		return NewMomentum(id, instrument, params), nil
	case "sma_cross", "smacross":
		return NewSMACross(id, instrument, params)
	case "futures":
		return NewFutures(id, instrument, params), nil
	case "options":
		return NewOptions(id, instrument, params), nil
	default:
		return nil, errors.Wrap(ErrUnknownKind, kind)
	}
}
