package engine

import (
	"math"
	"strconv"
	"sync"
)

// MetricsSnapshot holds the counters of a Metrics at one point in time.
type MetricsSnapshot struct {
	// Passes is the number of CollectEntityInfo calls that did any work.
	Passes uint64

	// PageLookups is the number of page info round trips.
	PageLookups uint64

	// RedirectsApplied is the number of ids aliased to a redirect target.
	RedirectsApplied uint64

	// TermSelects is the number of term loader round trips.
	TermSelects uint64

	// CacheHits and CacheMisses count probed (id, language, kind) tuples.
	CacheHits   uint64
	CacheMisses uint64

	// RowsDropped counts term rows that could not be injected.
	RowsDropped uint64

	// MissingRemoved counts ids removed for lack of a page.
	MissingRemoved uint64

	// IDCounts counts passes by the size bucket of their served id set.
	IDCounts map[string]uint64
}

// Metrics collects resolver counters. It is safe for concurrent use and may
// be shared between builders.
type Metrics struct {
	mu   sync.Mutex
	snap MetricsSnapshot
}

// NewMetrics returns an empty metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{snap: MetricsSnapshot{IDCounts: map[string]uint64{}}}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snap
	out.IDCounts = make(map[string]uint64, len(m.snap.IDCounts))
	for k, v := range m.snap.IDCounts {
		out.IDCounts[k] = v
	}
	return out
}

func (m *Metrics) update(fn func(s *MetricsSnapshot)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(&m.snap)
	m.mu.Unlock()
}

func (m *Metrics) pass(idCount int) {
	m.update(func(s *MetricsSnapshot) {
		s.Passes++
		s.IDCounts[idCountBucket(idCount)]++
	})
}

func (m *Metrics) pageLookup() {
	m.update(func(s *MetricsSnapshot) { s.PageLookups++ })
}

func (m *Metrics) redirectApplied() {
	m.update(func(s *MetricsSnapshot) { s.RedirectsApplied++ })
}

func (m *Metrics) termSelect() {
	m.update(func(s *MetricsSnapshot) { s.TermSelects++ })
}

func (m *Metrics) cacheProbe(hits, misses int) {
	m.update(func(s *MetricsSnapshot) {
		s.CacheHits += uint64(hits)
		s.CacheMisses += uint64(misses)
	})
}

func (m *Metrics) rowDropped() {
	m.update(func(s *MetricsSnapshot) { s.RowsDropped++ })
}

func (m *Metrics) missingRemoved(n int) {
	m.update(func(s *MetricsSnapshot) { s.MissingRemoved += uint64(n) })
}

// idCountBucket labels n with the range of integers whose closest power of
// two is the same as n's, e.g. 3..5 for 4 and 6..11 for 8.
func idCountBucket(n int) string {
	if n <= 0 {
		return "0"
	}
	p := math.Round(math.Log2(float64(n)))
	low := int(math.Ceil(math.Pow(2, p-0.5)))
	high := int(math.Floor(math.Pow(2, p+0.5)))
	if low == high {
		return strconv.Itoa(low)
	}
	return strconv.Itoa(low) + "-" + strconv.Itoa(high)
}
