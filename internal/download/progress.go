package download

import (
	"math"
	"time"

	"github.com/docker/go-units"
	"github.com/elsbrock/gamedl/internal/log"
	"github.com/elsbrock/gamedl/internal/transfer"
)

// Throttle decides which progress samples are worth publishing. A sample
// passes when the status changed, when the percentage moved by at least the
// configured step, or when the interval elapsed since the last one.
type Throttle struct {
	minInterval time.Duration
	minStep     float64

	started     bool
	lastAt      time.Time
	lastPercent float64
	lastStatus  Status
}

// NewThrottle creates a throttle.
func NewThrottle(minInterval time.Duration, minStep float64) *Throttle {
	return &Throttle{minInterval: minInterval, minStep: minStep}
}

// Allow reports whether a sample should be published and, if so, records it.
func (t *Throttle) Allow(now time.Time, status Status, percent float64) bool {
	pass := !t.started ||
		status != t.lastStatus ||
		math.Abs(percent-t.lastPercent) >= t.minStep ||
		now.Sub(t.lastAt) >= t.minInterval
	if !pass {
		return false
	}
	t.started = true
	t.lastAt = now
	t.lastPercent = percent
	t.lastStatus = status
	return true
}

// progressEvent builds the event for a session snapshot.
func progressEvent(info SessionInfo, kind transfer.Kind) Event {
	ev := Event{
		Type:             EventProgress,
		ID:               info.Target.ID,
		Status:           info.State.status(),
		BytesTransferred: info.BytesTransferred,
		BytesTotal:       info.BytesTotal,
		RateBps:          info.RateBps,
	}

	switch {
	case info.State == StateExtracting:
		ev.Percent = 100
	case info.BytesTotal > 0:
		ev.Percent = percentOf(info.BytesTransferred, info.BytesTotal)
	default:
		ev.Indeterminate = true
	}

	if kind == transfer.KindTorrent {
		ev.PeerCount = ptr(info.Peers)
	}
	if eta := estimateETA(info); eta > 0 {
		ev.ETASeconds = int64(eta / time.Second)
	}
	return ev
}

// estimateETA returns the remaining time at the current rate, or 0 when it
// cannot be estimated.
func estimateETA(info SessionInfo) time.Duration {
	if info.RateBps <= 0 || info.BytesTotal <= 0 {
		return 0
	}
	remaining := info.BytesTotal - info.BytesTransferred
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / info.RateBps * float64(time.Second))
}

func logProgress(ev Event) {
	log.Info("download").
		Str("id", ev.ID).
		Str("status", string(ev.Status)).
		Float64("progress_percent", math.Round(ev.Percent*10)/10).
		Str("downloaded", units.HumanSize(float64(ev.BytesTransferred))).
		Str("total", units.HumanSize(float64(ev.BytesTotal))).
		Str("rate", units.HumanSize(ev.RateBps)+"/s").
		Str("eta", FormatETA(time.Duration(ev.ETASeconds)*time.Second)).
		Msg("Download progress")
}
