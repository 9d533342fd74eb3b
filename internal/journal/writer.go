package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/internal/schema"
)

var (
	ErrQueueFull      = errors.New("journal queue full")
	ErrClosed         = errors.New("journal writer closed")
	ErrNotStarted     = errors.New("journal writer not started")
	ErrAlreadyStarted = errors.New("journal writer already started")
)

const (
	defaultSegmentMaxBytes int64 = 1 << 30
	defaultSegmentMaxAge         = 5 * time.Minute
	defaultQueueSize             = 4096
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "ticks"
	segmentSuffix                = ".seg"
)

// Config controls journal segment rotation and durability cadence.
type Config struct {
	Dir             string
	FilePrefix      string
	SegmentMaxBytes int64
	SegmentMaxAge   time.Duration
	QueueSize       int
	BufferSize      int
	FlushInterval   time.Duration
	SyncInterval    time.Duration
}

// DefaultConfig returns a baseline journal configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		FilePrefix:      defaultFilePrefix,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		SegmentMaxAge:   defaultSegmentMaxAge,
		QueueSize:       defaultQueueSize,
		BufferSize:      defaultBufferSize,
		FlushInterval:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.SegmentMaxAge == 0 {
		c.SegmentMaxAge = defaultSegmentMaxAge
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid journal config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid journal config: SegmentMaxBytes must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid journal config: QueueSize must be > 0")
	}
	if c.FlushInterval < 0 || c.SyncInterval < 0 {
		return fmt.Errorf("invalid journal config: intervals must be >= 0")
	}
	return nil
}

type record struct {
	header  schema.EventHeader
	payload []byte
}

// Writer appends tick and gap events to CRC-checked journal segments.
// Appends go through a bounded queue and never block the caller; a full
// queue drops the record, since the journal is an audit trail, not the
// hot path.
type Writer struct {
	cfg Config
	ch  chan record
	wg  sync.WaitGroup
	err atomic.Value

	started atomic.Bool
	closed  atomic.Bool
	dropped atomic.Uint64

	// Segment state, owned by the run goroutine.
	file     *os.File
	buf      *bufio.Writer
	segSize  int64
	openedAt time.Time
	segID    uint64
}

// NewWriter creates a journal writer and ensures the directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg, ch: make(chan record, cfg.QueueSize)}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops the writer and flushes buffered data.
func (w *Writer) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Dropped returns how many records were discarded on a full queue.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Record journals a bus event. Only tick and gap events are journaled;
// everything else is ignored. Safe from any goroutine.
func (w *Writer) Record(e bus.Event) {
	var payload []byte
	switch e.Header.Type {
	case schema.EventTick:
		payload = EncodeTick(nil, e.Tick)
	case schema.EventGap:
		payload = EncodeGap(nil, e.Gap)
	default:
		return
	}
	if err := w.tryAppend(e.Header, payload); err != nil {
		w.dropped.Add(1)
	}
}

func (w *Writer) tryAppend(header schema.EventHeader, payload []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.started.Load() {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	select {
	case w.ch <- record{header: header, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Writer) run(ctx context.Context) {
	var flushC, syncC <-chan time.Time
	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}
	defer func() {
		if err := w.closeSegment(); err != nil {
			w.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case rec, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.writeRecord(rec); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if w.buf != nil {
				if err := w.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		case <-syncC:
			if err := w.sync(); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.writeRecord(rec); err != nil {
				w.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) writeRecord(rec record) error {
	now := time.Now().UTC()
	recordSize := int64(recordHeaderSize + len(rec.payload) + recordChecksumSize)
	if w.shouldRotate(now, recordSize) {
		if err := w.closeSegment(); err != nil {
			return err
		}
		if err := w.openSegment(now); err != nil {
			return err
		}
	}

	var headerBuf [recordHeaderSize]byte
	var checksumBuf [recordChecksumSize]byte
	encodeHeader(headerBuf[:], rec.header, len(rec.payload))
	binary.LittleEndian.PutUint32(checksumBuf[:], checksum(headerBuf[:], rec.payload))

	if _, err := w.buf.Write(headerBuf[:]); err != nil {
		return err
	}
	if len(rec.payload) > 0 {
		if _, err := w.buf.Write(rec.payload); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(checksumBuf[:]); err != nil {
		return err
	}
	w.segSize += recordSize
	return nil
}

func (w *Writer) shouldRotate(now time.Time, nextSize int64) bool {
	if w.file == nil {
		return true
	}
	if w.segSize+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	return now.Sub(w.openedAt) >= w.cfg.SegmentMaxAge
}

func (w *Writer) openSegment(now time.Time) error {
	ts := now.Format("20060102-150405")
	for {
		w.segID++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, w.segID, segmentSuffix)
		file, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.file = file
		w.buf = bufio.NewWriterSize(file, w.cfg.BufferSize)
		w.segSize = 0
		w.openedAt = now
		return nil
	}
}

func (w *Writer) sync() error {
	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *Writer) closeSegment() error {
	if w.file == nil {
		return nil
	}
	file := w.file
	w.file = nil
	if err := w.buf.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (w *Writer) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	w.err.Store(err)
}
