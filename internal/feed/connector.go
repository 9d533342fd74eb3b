package feed

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"tradeflow/internal/bus"
	"tradeflow/internal/obs"
	"tradeflow/internal/schema"
)

var (
	ErrNoSymbols = errors.New("feed: empty subscription list")
	ErrNoDialer  = errors.New("feed: nil dialer")
)

const (
	defaultIdleTimeout    = 30 * time.Second
	defaultBufferSize     = 4096
	defaultFaultThreshold = 5
)

// Config controls one feed connector session.
type Config struct {
	Symbols        []string
	Backoff        Backoff
	IdleTimeout    time.Duration
	BufferSize     int
	FaultThreshold int
	Source         uint16
}

// FaultFunc is invoked when consecutive reconnect attempts exceed the
// configured threshold. It surfaces a degraded state, never a crash.
type FaultFunc func(sessionID string, attempt int, err error)

// Stats is a snapshot of connector counters.
type Stats struct {
	TicksIngested    uint64
	Reconnects       uint64
	Gaps             uint64
	MalformedDropped uint64
	StaleDropped     uint64
	BufferDropped    uint64
}

// Connector maintains one logical feed session: it dials, subscribes the
// full instrument list, normalizes inbound messages into ticks, and
// re-establishes the session with backoff on any failure. It never blocks
// on bus backpressure; a bounded buffer drops the oldest event when full.
type Connector struct {
	cfg     Config
	dialer  Dialer
	codec   *Codec
	bus     *bus.Bus
	onFault FaultFunc
	trace   *obs.TraceGenerator

	seq    atomic.Uint64
	buf    chan bus.Event
	lastTs map[schema.InstrumentID]int64

	ticksIngested    atomic.Uint64
	reconnects       atomic.Uint64
	gaps             atomic.Uint64
	malformedDropped atomic.Uint64
	staleDropped     atomic.Uint64
	bufferDropped    atomic.Uint64
}

// New creates a connector. The subscription list must not be empty.
func New(cfg Config, dialer Dialer, codec *Codec, b *bus.Bus) (*Connector, error) {
	if len(cfg.Symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if dialer == nil {
		return nil, ErrNoDialer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = defaultFaultThreshold
	}
	return &Connector{
		cfg:    cfg,
		dialer: dialer,
		codec:  codec,
		bus:    b,
		buf:    make(chan bus.Event, cfg.BufferSize),
		lastTs: make(map[schema.InstrumentID]int64),
	}, nil
}

// SetFaultFunc installs the degraded-state hook. Call before Run.
func (c *Connector) SetFaultFunc(fn FaultFunc) {
	c.onFault = fn
}

// SetTraceGenerator stamps published events with trace ids. Call before Run.
func (c *Connector) SetTraceGenerator(trace *obs.TraceGenerator) {
	c.trace = trace
}

// Stats returns a snapshot of the connector counters.
func (c *Connector) Stats() Stats {
	return Stats{
		TicksIngested:    c.ticksIngested.Load(),
		Reconnects:       c.reconnects.Load(),
		Gaps:             c.gaps.Load(),
		MalformedDropped: c.malformedDropped.Load(),
		StaleDropped:     c.staleDropped.Load(),
		BufferDropped:    c.bufferDropped.Load(),
	}
}

// Run drives the session until the context is cancelled. Each disconnect
// triggers exponential backoff with full jitter, a fresh subscription of
// the whole instrument list, and exactly one Gap marker on the bus.
func (c *Connector) Run(ctx context.Context) error {
	go c.pump(ctx)

	first := true
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sys.Shutdown():
			return nil
		default:
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			if attempt >= c.cfg.FaultThreshold && c.onFault != nil {
				c.onFault("", attempt, err)
			}
			wait := c.cfg.Backoff.Next(attempt)
			logs.Warnf("feed connect failed, attempt %d, retry in %s, err: %+v", attempt, wait, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		sessionID := uuid.NewString()
		if !first {
			c.reconnects.Add(1)
			c.emitGap(sessionID, attempt)
		}
		first = false
		attempt = 0
		logs.Infof("feed session established, session: %s", sessionID)

		err = c.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Warnf("feed session lost, session: %s, err: %+v", sessionID, err)
		attempt = 1
	}
}

func (c *Connector) connect(ctx context.Context) (Conn, error) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	// No server-side session resumption is assumed: always resubscribe
	// the full instrument list.
	payload, err := c.codec.EncodeSubscribe(c.cfg.Symbols)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(payload); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "send subscribe request")
	}
	return conn, nil
}

func (c *Connector) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		payload, err := conn.ReadMessage(time.Now().Add(c.cfg.IdleTimeout))
		if err != nil {
			return err
		}

		tick, ok, err := c.codec.DecodeTick(payload)
		if err != nil {
			c.malformedDropped.Add(1)
			continue
		}
		if !ok {
			continue
		}
		if last := c.lastTs[tick.InstrumentID]; tick.TsExchange < last {
			c.staleDropped.Add(1)
			continue
		}
		c.lastTs[tick.InstrumentID] = tick.TsExchange

		tick.Seq = c.seq.Add(1)
		tick.TsIngest = time.Now().UTC().UnixNano()
		c.ticksIngested.Add(1)
		header := schema.NewHeader(schema.EventTick, c.cfg.Source, tick.Seq, tick.TsExchange, tick.TsIngest)
		header.TraceID = c.trace.Next()
		c.push(bus.Event{Header: header, Tick: tick})
	}
}

func (c *Connector) emitGap(sessionID string, attempts int) {
	c.gaps.Add(1)
	now := time.Now().UTC().UnixNano()
	seq := c.seq.Add(1)
	header := schema.NewHeader(schema.EventGap, c.cfg.Source, seq, now, now)
	header.TraceID = c.trace.Next()
	c.push(bus.Event{
		Header: header,
		Gap: schema.Gap{
			Reason:    schema.GapReasonReconnect,
			Attempts:  attempts,
			Ts:        now,
			SessionID: sessionID,
		},
	})
}

// push enqueues with a drop-oldest policy. Tick data is perishable: when
// the buffer is full the oldest event is discarded, not the newest.
func (c *Connector) push(e bus.Event) {
	for {
		select {
		case c.buf <- e:
			return
		default:
		}
		select {
		case <-c.buf:
			c.bufferDropped.Add(1)
		default:
		}
	}
}

func (c *Connector) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sys.Shutdown():
			return
		case e := <-c.buf:
			_ = c.bus.Publish(e)
		}
	}
}
