package transfer

import (
	"sync"
	"time"
)

const rateSmoothing = 0.3

// rateMeter turns a monotonically growing byte counter into a smoothed
// bytes/second figure (exponentially weighted moving average).
type rateMeter struct {
	mu        sync.Mutex
	last      time.Time
	lastBytes int64
	rate      float64
}

func (m *rateMeter) observe(now time.Time, bytes int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() {
		m.last = now
		m.lastBytes = bytes
		return 0
	}

	elapsed := now.Sub(m.last).Seconds()
	if elapsed <= 0 {
		return m.rate
	}

	delta := bytes - m.lastBytes
	if delta < 0 {
		// Piece re-verification can make the completed count dip.
		delta = 0
	}
	instant := float64(delta) / elapsed
	m.rate = rateSmoothing*instant + (1-rateSmoothing)*m.rate
	m.last = now
	m.lastBytes = bytes
	return m.rate
}
