// Package stats keeps process-wide, best-effort statistics used to order
// pattern traversal: the average fan-out of an edge class from a vertex
// class in a direction.
package stats

import (
	"math"
	"sync"
	"sync/atomic"
)

// DefaultAlpha is the weight of a new sample: new = (1-α)·old + α·sample.
const DefaultAlpha = 0.1

// Key identifies one fan-out statistic.
type Key struct {
	VertexClass string
	EdgeClass   string
	Direction   string
}

// QueryStats holds exponentially weighted moving averages keyed by Key.
// Updates are lock-free per key; reads never block writers for long.
type QueryStats struct {
	alpha   float64
	mu      sync.RWMutex
	entries map[Key]*atomic.Uint64
}

// New creates an empty QueryStats with smoothing factor alpha; values outside
// (0, 1] fall back to DefaultAlpha.
func New(alpha float64) *QueryStats {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &QueryStats{alpha: alpha, entries: make(map[Key]*atomic.Uint64)}
}

var (
	global     *QueryStats
	globalOnce sync.Once
)

// Global returns the process-wide instance.
func Global() *QueryStats {
	globalOnce.Do(func() {
		global = New(DefaultAlpha)
	})
	return global
}

func (q *QueryStats) slot(k Key) *atomic.Uint64 {
	q.mu.RLock()
	s := q.entries[k]
	q.mu.RUnlock()
	if s != nil {
		return s
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if s = q.entries[k]; s == nil {
		s = new(atomic.Uint64)
		s.Store(math.Float64bits(math.NaN()))
		q.entries[k] = s
	}
	return s
}

// Observe folds one fan-out sample into the average. The first sample seeds
// the average directly.
func (q *QueryStats) Observe(k Key, fanout float64) {
	s := q.slot(k)
	for {
		oldBits := s.Load()
		old := math.Float64frombits(oldBits)
		next := fanout
		if !math.IsNaN(old) {
			next = (1-q.alpha)*old + q.alpha*fanout
		}
		if s.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// Fanout returns the average fan-out for k, if any sample was observed.
func (q *QueryStats) Fanout(k Key) (float64, bool) {
	q.mu.RLock()
	s := q.entries[k]
	q.mu.RUnlock()
	if s == nil {
		return 0, false
	}
	v := math.Float64frombits(s.Load())
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Len returns the number of tracked keys.
func (q *QueryStats) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
