package feed

import (
	"testing"

	"tradeflow/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("SIM")
	if err != nil {
		t.Fatalf("add venue: %v", err)
	}
	if _, err := reg.AddInstrument("NIFTY-FUT", venueID, schema.ScaleSpec{PriceScale: 2, QuantityScale: 0}); err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	return reg
}

func TestDecodeTick(t *testing.T) {
	codec := NewCodec(testRegistry(t))

	tick, ok, err := codec.DecodeTick([]byte(`{"type":"tick","symbol":"NIFTY-FUT","price":"101.25","qty":"50","oi":"1200","ts":1700000000123}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok {
		t.Fatal("expected a tick")
	}
	if tick.InstrumentID != 1 {
		t.Fatalf("instrument id = %d, want 1", tick.InstrumentID)
	}
	if tick.Price != 10125 {
		t.Fatalf("price = %d, want 10125", tick.Price)
	}
	if tick.Qty != 50 {
		t.Fatalf("qty = %d, want 50", tick.Qty)
	}
	if tick.OpenInterest != 1200 {
		t.Fatalf("open interest = %d, want 1200", tick.OpenInterest)
	}
	if tick.TsExchange != 1700000000123 {
		t.Fatalf("ts = %d, want 1700000000123", tick.TsExchange)
	}
}

func TestDecodeTickIgnoresControlMessages(t *testing.T) {
	codec := NewCodec(testRegistry(t))
	_, ok, err := codec.DecodeTick([]byte(`{"type":"subscribed","symbols":["NIFTY-FUT"]}`))
	if err != nil {
		t.Fatalf("decode control: %v", err)
	}
	if ok {
		t.Fatal("control message must not produce a tick")
	}
}

func TestDecodeTickMalformed(t *testing.T) {
	codec := NewCodec(testRegistry(t))
	cases := map[string]string{
		"invalid json":   `{"type":"tick",`,
		"missing symbol": `{"type":"tick","price":"1","ts":1}`,
		"missing price":  `{"type":"tick","symbol":"NIFTY-FUT","ts":1}`,
		"missing ts":     `{"type":"tick","symbol":"NIFTY-FUT","price":"1"}`,
		"bad price":      `{"type":"tick","symbol":"NIFTY-FUT","price":"abc","ts":1}`,
	}
	for name, payload := range cases {
		if _, _, err := codec.DecodeTick([]byte(payload)); err != ErrMalformedMessage {
			t.Fatalf("%s: err = %v, want ErrMalformedMessage", name, err)
		}
	}
}

func TestDecodeTickUnknownInstrument(t *testing.T) {
	codec := NewCodec(testRegistry(t))
	_, _, err := codec.DecodeTick([]byte(`{"type":"tick","symbol":"UNKNOWN","price":"1","ts":1}`))
	if err != ErrUnknownInstrument {
		t.Fatalf("err = %v, want ErrUnknownInstrument", err)
	}
}

func TestDecodeTickNegativePrice(t *testing.T) {
	codec := NewCodec(testRegistry(t))
	_, _, err := codec.DecodeTick([]byte(`{"type":"tick","symbol":"NIFTY-FUT","price":"-5","ts":1}`))
	if err != ErrNegativePrice {
		t.Fatalf("err = %v, want ErrNegativePrice", err)
	}
}
