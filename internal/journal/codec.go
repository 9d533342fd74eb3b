package journal

import (
	"encoding/binary"
	"errors"

	"tradeflow/internal/schema"
)

const (
	tickPayloadSize = 44
	gapPayloadSize  = 20
)

var ErrInvalidPayload = errors.New("journal invalid payload")

// EncodeTick appends the binary tick payload to dst.
func EncodeTick(dst []byte, t schema.Tick) []byte {
	var buf [tickPayloadSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.InstrumentID))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(t.Price))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(t.Qty))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(t.OpenInterest))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(t.TsExchange))
	binary.LittleEndian.PutUint64(buf[36:44], t.Seq)
	return append(dst, buf[:]...)
}

// DecodeTick parses a tick payload. TsIngest is not journaled; replay
// consumers assign their own ingest time.
func DecodeTick(src []byte) (schema.Tick, error) {
	if len(src) != tickPayloadSize {
		return schema.Tick{}, ErrInvalidPayload
	}
	return schema.Tick{
		InstrumentID: schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4])),
		Price:        schema.Price(binary.LittleEndian.Uint64(src[4:12])),
		Qty:          schema.Quantity(binary.LittleEndian.Uint64(src[12:20])),
		OpenInterest: schema.Quantity(binary.LittleEndian.Uint64(src[20:28])),
		TsExchange:   int64(binary.LittleEndian.Uint64(src[28:36])),
		Seq:          binary.LittleEndian.Uint64(src[36:44]),
	}, nil
}

// EncodeGap appends the binary gap payload to dst. The session id is not
// journaled; a replayed gap only needs reason, attempts, and time.
func EncodeGap(dst []byte, g schema.Gap) []byte {
	var buf [gapPayloadSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(g.Reason))
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(g.Attempts))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(g.Ts))
	return append(dst, buf[:]...)
}

// DecodeGap parses a gap payload.
func DecodeGap(src []byte) (schema.Gap, error) {
	if len(src) != gapPayloadSize {
		return schema.Gap{}, ErrInvalidPayload
	}
	return schema.Gap{
		Reason:   schema.GapReason(binary.LittleEndian.Uint16(src[0:2])),
		Attempts: int(binary.LittleEndian.Uint64(src[4:12])),
		Ts:       int64(binary.LittleEndian.Uint64(src[12:20])),
	}, nil
}
