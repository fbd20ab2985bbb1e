package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics tracks admission and completion counters with atomics.
type Metrics struct {
	framesOffered  atomic.Uint64
	framesAdmitted atomic.Uint64
	framesDropped  atomic.Uint64
	completions    atomic.Uint64
	accepted       atomic.Uint64
	stale          atomic.Uint64
	suppressed     atomic.Uint64
	rejected       atomic.Uint64
	failures       atomic.Uint64
	latencyNanos   atomic.Int64
	latencyCount   atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy for the host surface.
type MetricsSnapshot struct {
	FramesOffered  uint64  `json:"frames_offered"`
	FramesAdmitted uint64  `json:"frames_admitted"`
	FramesDropped  uint64  `json:"frames_dropped"`
	Completions    uint64  `json:"completions"`
	Accepted       uint64  `json:"accepted"`
	Stale          uint64  `json:"stale"`
	Suppressed     uint64  `json:"suppressed"`
	Rejected       uint64  `json:"rejected"`
	Failures       uint64  `json:"failures"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
}

func (m *Metrics) observeLatency(d time.Duration) {
	if d <= 0 {
		return
	}
	m.latencyNanos.Add(int64(d))
	m.latencyCount.Add(1)
}

// Snapshot returns current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		FramesOffered:  m.framesOffered.Load(),
		FramesAdmitted: m.framesAdmitted.Load(),
		FramesDropped:  m.framesDropped.Load(),
		Completions:    m.completions.Load(),
		Accepted:       m.accepted.Load(),
		Stale:          m.stale.Load(),
		Suppressed:     m.suppressed.Load(),
		Rejected:       m.rejected.Load(),
		Failures:       m.failures.Load(),
	}
	if n := m.latencyCount.Load(); n > 0 {
		s.AvgLatencyMS = float64(m.latencyNanos.Load()) / float64(n) / float64(time.Millisecond)
	}
	return s
}
