package journal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/internal/schema"
)

func tickEvent(seq uint64, price schema.Price) bus.Event {
	return bus.Event{
		Header: schema.NewHeader(schema.EventTick, 1, seq, int64(seq), int64(seq)),
		Tick: schema.Tick{
			InstrumentID: 7,
			Price:        price,
			Qty:          10,
			TsExchange:   int64(seq),
			Seq:          seq,
		},
	}
}

func TestWriteThenReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(Config{Dir: dir, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("writer: %+v", err)
	}
	ctx := context.Background()
	if err := writer.Start(ctx); err != nil {
		t.Fatalf("start: %+v", err)
	}

	writer.Record(tickEvent(1, 10000))
	writer.Record(bus.Event{
		Header: schema.NewHeader(schema.EventGap, 1, 2, 2, 2),
		Gap:    schema.Gap{Reason: schema.GapReasonReconnect, Attempts: 3, Ts: 2},
	})
	writer.Record(tickEvent(3, 10100))
	// Signals are not journaled.
	writer.Record(bus.Event{Header: schema.NewHeader(schema.EventSignal, 1, 4, 4, 4)})

	if err := writer.Close(); err != nil {
		t.Fatalf("close: %+v", err)
	}
	if writer.Dropped() != 0 {
		t.Fatalf("dropped: %d", writer.Dropped())
	}

	replay, err := NewReplay(ReplayConfig{Dir: dir})
	if err != nil {
		t.Fatalf("replay: %+v", err)
	}
	var events []bus.Event
	if err := replay.Run(ctx, func(e bus.Event) error {
		events = append(events, e)
		return nil
	}); err != nil {
		t.Fatalf("run: %+v", err)
	}

	if len(events) != 3 {
		t.Fatalf("events: got %d, want 3", len(events))
	}
	if events[0].Tick.Price != 10000 || events[0].Tick.Seq != 1 {
		t.Fatalf("first tick: %+v", events[0].Tick)
	}
	if events[1].Header.Type != schema.EventGap ||
		events[1].Gap.Reason != schema.GapReasonReconnect || events[1].Gap.Attempts != 3 {
		t.Fatalf("gap: %+v", events[1])
	}
	if events[2].Tick.Price != 10100 {
		t.Fatalf("second tick: %+v", events[2].Tick)
	}
}

func TestReaderDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	payload := EncodeTick(nil, schema.Tick{InstrumentID: 7, Price: 100, Seq: 1})
	var headerBuf [recordHeaderSize]byte
	encodeHeader(headerBuf[:], schema.NewHeader(schema.EventTick, 1, 1, 1, 1), len(payload))
	sum := checksum(headerBuf[:], payload)

	buf.Write(headerBuf[:])
	// Flip one payload byte after checksumming.
	payload[0] ^= 0xff
	buf.Write(payload)
	buf.Write([]byte{byte(sum), byte(sum >> 8), byte(sum >> 16), byte(sum >> 24)})

	reader := NewReader(&buf, ReaderOptions{})
	if _, _, err := reader.Next(); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %+v", err)
	}
}

func TestReaderRejectsForeignData(t *testing.T) {
	reader := NewReader(bytes.NewReader(bytes.Repeat([]byte{0xab}, recordHeaderSize)), ReaderOptions{})
	if _, _, err := reader.Next(); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected invalid magic, got %+v", err)
	}
	reader = NewReader(bytes.NewReader(nil), ReaderOptions{})
	if _, _, err := reader.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %+v", err)
	}
}

func TestTickCodecRoundTrip(t *testing.T) {
	in := schema.Tick{
		InstrumentID: 42,
		Price:        -12345,
		Qty:          678,
		OpenInterest: 91011,
		TsExchange:   1700000000000000000,
		Seq:          99,
	}
	out, err := DecodeTick(EncodeTick(nil, in))
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
	if _, err := DecodeTick([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %+v", err)
	}
}
