package feed

import (
	"testing"
	"time"
)

func TestBackoffStaysUnderCap(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 1; attempt <= 20; attempt++ {
		for i := 0; i < 50; i++ {
			wait := b.Next(attempt)
			if wait < 0 {
				t.Fatalf("attempt %d: negative wait %s", attempt, wait)
			}
			if wait > b.Cap {
				t.Fatalf("attempt %d: wait %s exceeds cap %s", attempt, wait, b.Cap)
			}
		}
	}
}

func TestBackoffCeilingGrows(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second, Factor: 2.0}
	// With full jitter the draw for attempt 1 is bounded by the base.
	for i := 0; i < 100; i++ {
		if wait := b.Next(1); wait > time.Second {
			t.Fatalf("attempt 1 wait %s exceeds base ceiling", wait)
		}
	}
}

func TestBackoffDefensiveDefaults(t *testing.T) {
	var b Backoff
	if wait := b.Next(0); wait < 0 || wait > 30*time.Second {
		t.Fatalf("zero-value backoff produced %s", wait)
	}
}
