package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsbrock/gamedl/internal/transfer"
)

func TestThrottle(t *testing.T) {
	th := NewThrottle(time.Second, 1.0)
	start := time.Unix(1_700_000_000, 0)

	steps := []struct {
		name    string
		offset  time.Duration
		status  Status
		percent float64
		want    bool
	}{
		{"first_sample", 0, StatusConnecting, 0, true},
		{"no_change", 100 * time.Millisecond, StatusConnecting, 0, false},
		{"status_change", 200 * time.Millisecond, StatusDownloading, 0.1, true},
		{"small_step", 300 * time.Millisecond, StatusDownloading, 0.5, false},
		{"full_step", 400 * time.Millisecond, StatusDownloading, 1.1, true},
		{"interval_elapsed", 1400 * time.Millisecond, StatusDownloading, 1.2, true},
		{"extracting", 1500 * time.Millisecond, StatusExtracting, 100, true},
	}
	for _, s := range steps {
		require.Equal(t, s.want, th.Allow(start.Add(s.offset), s.status, s.percent), s.name)
	}
}

func TestProgressEvent(t *testing.T) {
	info := SessionInfo{
		Target:           Target{ID: "g1", Kind: transfer.KindTorrent},
		State:            StateDownloading,
		BytesTransferred: 250,
		BytesTotal:       1000,
		RateBps:          75,
		Peers:            4,
	}

	ev := progressEvent(info, transfer.KindTorrent)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, StatusDownloading, ev.Status)
	assert.Equal(t, float64(25), ev.Percent)
	assert.False(t, ev.Indeterminate)
	require.NotNil(t, ev.PeerCount)
	assert.Equal(t, 4, *ev.PeerCount)
	assert.Equal(t, int64(10), ev.ETASeconds)

	info.BytesTotal = 0
	ev = progressEvent(info, transfer.KindHTTP)
	assert.True(t, ev.Indeterminate, "unknown size is indeterminate")
	assert.Zero(t, ev.Percent)
	assert.Nil(t, ev.PeerCount, "http progress carries no peer count")
	assert.Zero(t, ev.ETASeconds, "no ETA without a size")

	info.State = StateExtracting
	ev = progressEvent(info, transfer.KindHTTP)
	assert.Equal(t, StatusExtracting, ev.Status)
	assert.Equal(t, float64(100), ev.Percent)
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "unknown"},
		{-time.Second, "unknown"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m03s"},
		{2*time.Hour + 7*time.Minute, "2h07m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatETA(tt.d), "FormatETA(%v)", tt.d)
	}
}

func TestSessionObserveIsMonotonic(t *testing.T) {
	s := newSession(testTarget("g1"))

	s.observe(transfer.Progress{BytesTransferred: 100, BytesTotal: 1000})
	assert.Equal(t, StateDownloading, s.State(), "bytes flowing moves to Downloading")

	info := s.observe(transfer.Progress{BytesTransferred: 50, BytesTotal: 1000})
	assert.Equal(t, int64(100), info.BytesTransferred, "bytes never go backwards")

	// A transient zero total keeps the known size.
	info = s.observe(transfer.Progress{BytesTransferred: 150})
	assert.Equal(t, int64(1000), info.BytesTotal)
	assert.Equal(t, int64(150), info.BytesTransferred)
}

func TestSessionStopRequests(t *testing.T) {
	s := newSession(testTarget("g1"))
	assert.True(t, s.requestStop(stopPause), "pause accepted while connecting")
	assert.False(t, s.requestStop(stopPause), "second pause refused")
	assert.True(t, s.requestStop(stopCancel), "cancel overrides a pending pause")
	assert.Error(t, s.ctx.Err(), "stop request cancels the session context")
	assert.False(t, s.advance(StateDownloading), "advance fails after a stop request")
	assert.Equal(t, stopCancel, s.commitStop())
	assert.False(t, s.requestStop(stopCancel), "requests after commit are refused")

	ex := newSession(testTarget("g2"))
	ex.advance(StateExtracting)
	assert.False(t, ex.requestStop(stopPause), "pause refused while extracting")
	assert.True(t, ex.requestStop(stopCancel), "cancel allowed while extracting")
}

func TestStateText(t *testing.T) {
	b, err := StatePaused.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "paused", string(b))
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StatePaused.Terminal())
	assert.Equal(t, "Unknown", State(99).String())
}
