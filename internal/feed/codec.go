package feed

import (
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradeflow/internal/schema"
)

var (
	ErrMalformedMessage  = errors.New("feed: malformed message")
	ErrUnknownInstrument = errors.New("feed: unknown instrument")
	ErrNegativePrice     = errors.New("feed: negative price")
)

// rawMessage mirrors the venue's wire layout before normalization.
// Prices and quantities arrive as decimal strings.
type rawMessage struct {
	Type         string `json:"type"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	OpenInterest string `json:"oi"`
	Ts           int64  `json:"ts"`
}

type subscribeRequest struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Codec normalizes venue messages into ticks using the instrument registry
// for symbol resolution and integer scaling.
type Codec struct {
	registry *schema.Registry
}

// NewCodec creates a codec bound to the registry.
func NewCodec(registry *schema.Registry) *Codec {
	return &Codec{registry: registry}
}

// EncodeSubscribe builds the subscription request for the given symbols.
func (c *Codec) EncodeSubscribe(symbols []string) ([]byte, error) {
	payload, err := sonic.ConfigFastest.Marshal(subscribeRequest{
		Type:    "subscribe",
		Symbols: symbols,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal subscribe request")
	}
	return payload, nil
}

// DecodeTick normalizes a raw venue message into a Tick. The sequence number
// and ingestion timestamp are assigned by the connector, not here. Non-tick
// control messages return (Tick{}, false, nil).
func (c *Codec) DecodeTick(payload []byte) (schema.Tick, bool, error) {
	var raw rawMessage
	if err := sonic.ConfigFastest.Unmarshal(payload, &raw); err != nil {
		return schema.Tick{}, false, ErrMalformedMessage
	}
	if raw.Type != "tick" {
		return schema.Tick{}, false, nil
	}
	if raw.Symbol == "" || raw.Price == "" || raw.Ts <= 0 {
		return schema.Tick{}, false, ErrMalformedMessage
	}

	id, ok := c.registry.InstrumentIDBySymbol(raw.Symbol)
	if !ok {
		return schema.Tick{}, false, ErrUnknownInstrument
	}
	instrument, _ := c.registry.Instrument(id)

	price, err := scaleDecimal(raw.Price, instrument.Scale.PriceScale)
	if err != nil {
		return schema.Tick{}, false, ErrMalformedMessage
	}
	if price < 0 {
		return schema.Tick{}, false, ErrNegativePrice
	}

	var qty, oi int64
	if raw.Qty != "" {
		if qty, err = scaleDecimal(raw.Qty, instrument.Scale.QuantityScale); err != nil {
			return schema.Tick{}, false, ErrMalformedMessage
		}
	}
	if raw.OpenInterest != "" {
		if oi, err = scaleDecimal(raw.OpenInterest, instrument.Scale.QuantityScale); err != nil {
			return schema.Tick{}, false, ErrMalformedMessage
		}
	}

	return schema.Tick{
		InstrumentID: id,
		Price:        schema.Price(price),
		Qty:          schema.Quantity(qty),
		OpenInterest: schema.Quantity(oi),
		TsExchange:   raw.Ts,
	}, true, nil
}

func scaleDecimal(value string, scale schema.Scale) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	return d.Shift(int32(scale)).IntPart(), nil
}
