package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/internal/schema"
)

// ReplayConfig controls journal replay behavior.
type ReplayConfig struct {
	Dir        string
	FilePrefix string
	// Speed paces replay relative to recorded event time. 1 is realtime,
	// 0 replays as fast as possible.
	Speed           float64
	DisableChecksum bool
}

func (c ReplayConfig) withDefaults() ReplayConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c ReplayConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid replay config: Dir is empty")
	}
	if c.Speed < 0 {
		return fmt.Errorf("invalid replay config: Speed must be >= 0")
	}
	return nil
}

// Clock allows deterministic replay pacing in tests.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Replay streams journaled segments back as decoded bus events, in file
// order, optionally paced by the recorded inter-event time.
type Replay struct {
	cfg   ReplayConfig
	clock Clock
}

// NewReplay validates the config and creates a replay engine.
func NewReplay(cfg ReplayConfig) (*Replay, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Replay{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock implementation.
func (p *Replay) WithClock(clock Clock) *Replay {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Run decodes every record and calls the handler. Unknown event types are
// skipped; decode failures abort the replay.
func (p *Replay) Run(ctx context.Context, handler func(bus.Event) error) error {
	if handler == nil {
		return errors.New("replay handler is nil")
	}
	files, err := p.collectSegments()
	if err != nil {
		return err
	}
	var prevTS int64
	for _, path := range files {
		if err := p.playSegment(ctx, path, handler, &prevTS); err != nil {
			return err
		}
	}
	return nil
}

func (p *Replay) collectSegments() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, err
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Replay) playSegment(ctx context.Context, path string, handler func(bus.Event) error, prevTS *int64) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{DisableChecksum: p.cfg.DisableChecksum})
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		header, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, err)
		}

		event := bus.Event{Header: header}
		switch header.Type {
		case schema.EventTick:
			tick, err := DecodeTick(payload)
			if err != nil {
				return fmt.Errorf("decode tick in %s: %w", path, err)
			}
			event.Tick = tick
		case schema.EventGap:
			gap, err := DecodeGap(payload)
			if err != nil {
				return fmt.Errorf("decode gap in %s: %w", path, err)
			}
			event.Gap = gap
		default:
			continue
		}

		if err := p.pace(ctx, header.TsEvent, prevTS); err != nil {
			return err
		}
		if err := handler(event); err != nil {
			return err
		}
	}
}

func (p *Replay) pace(ctx context.Context, current int64, prevTS *int64) error {
	if p.cfg.Speed <= 0 || current <= 0 {
		return nil
	}
	if *prevTS > 0 {
		if delta := current - *prevTS; delta > 0 {
			if err := p.clock.Sleep(ctx, time.Duration(float64(delta)/p.cfg.Speed)); err != nil {
				return err
			}
		}
	}
	*prevTS = current
	return nil
}
