package insight

import (
	"sync"

	"tradeflow/internal/schema"
)

// Insight is an externally supplied sentiment score for an instrument.
// Score is bounded to [-1, 1]: negative is bearish, positive is bullish.
type Insight struct {
	Score float64
	AsOf  int64
}

// Provider supplies insight scores. A missing score is reported through the
// boolean, never as an error: strategies treat unavailable insight as "no
// adjustment" and must not block evaluation on it.
type Provider interface {
	GetInsight(id schema.InstrumentID) (Insight, bool)
}

// Unavailable is a provider that never has a score.
type Unavailable struct{}

// GetInsight always reports no insight.
func (Unavailable) GetInsight(schema.InstrumentID) (Insight, bool) {
	return Insight{}, false
}

// Static serves fixed scores, useful for tools and tests.
type Static struct {
	mu     sync.RWMutex
	scores map[schema.InstrumentID]Insight
}

// NewStatic creates an empty static provider.
func NewStatic() *Static {
	return &Static{scores: make(map[schema.InstrumentID]Insight)}
}

// Set stores a score for an instrument, clamped to [-1, 1].
func (s *Static) Set(id schema.InstrumentID, score float64, asOf int64) {
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	s.mu.Lock()
	s.scores[id] = Insight{Score: score, AsOf: asOf}
	s.mu.Unlock()
}

// GetInsight returns the stored score, if any.
func (s *Static) GetInsight(id schema.InstrumentID) (Insight, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ins, ok := s.scores[id]
	return ins, ok
}
