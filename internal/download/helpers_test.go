package download

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsbrock/gamedl/internal/transfer"
)

// fakeBackend hands out fakeHandles and lets tests drive them.
type fakeBackend struct {
	kind     transfer.Kind
	exact    bool
	startErr error

	mu      sync.Mutex
	started []*fakeHandle
	notify  chan *fakeHandle
}

func newFakeBackend(kind transfer.Kind, exact bool) *fakeBackend {
	return &fakeBackend{kind: kind, exact: exact, notify: make(chan *fakeHandle, 16)}
}

func (b *fakeBackend) Kind() transfer.Kind { return b.kind }

func (b *fakeBackend) ResumeIsExact() bool { return b.exact }

func (b *fakeBackend) Start(_ context.Context, req transfer.Request) (transfer.Handle, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	h := &fakeHandle{
		kind:     b.kind,
		req:      req,
		metadata: make(chan struct{}),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.started = append(b.started, h)
	b.mu.Unlock()
	b.notify <- h
	return h, nil
}

// next waits for the next handle the backend starts.
func (b *fakeBackend) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-b.notify:
		return h
	case <-time.After(5 * time.Second):
		t.Fatal("backend was never started")
		return nil
	}
}

type fakeHandle struct {
	kind transfer.Kind
	req  transfer.Request

	mu        sync.Mutex
	progress  transfer.Progress
	result    transfer.Result
	cancelled int
	paused    int

	metadata chan struct{}
	metaOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

func (h *fakeHandle) Kind() transfer.Kind { return h.kind }

func (h *fakeHandle) Stats() transfer.Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

func (h *fakeHandle) Metadata() <-chan struct{} { return h.metadata }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Result() transfer.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *fakeHandle) Cancel() error {
	h.mu.Lock()
	h.cancelled++
	h.mu.Unlock()
	h.doneOnce.Do(func() { close(h.done) })
	return nil
}

func (h *fakeHandle) DestroyForPause() error {
	h.mu.Lock()
	h.paused++
	h.mu.Unlock()
	h.doneOnce.Do(func() { close(h.done) })
	return nil
}

func (h *fakeHandle) setProgress(p transfer.Progress) {
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
}

func (h *fakeHandle) resolveMetadata() {
	h.metaOnce.Do(func() { close(h.metadata) })
}

func (h *fakeHandle) finish(res transfer.Result) {
	h.mu.Lock()
	h.result = res
	h.mu.Unlock()
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *fakeHandle) counts() (cancelled, paused int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled, h.paused
}

type fakeLimiter struct {
	mu    sync.Mutex
	limit int64
	calls int
}

func (l *fakeLimiter) SetDownloadRateLimit(bps int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bps < 0 {
		bps = 0
	}
	l.limit = bps
	l.calls++
}

func (l *fakeLimiter) DownloadRateLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

func testConfig() *Config {
	return &Config{
		PollInterval:           5 * time.Millisecond,
		ProgressMinInterval:    20 * time.Millisecond,
		ProgressMinPercentStep: 1,
		SubscriberBuffer:       256,
		DeliveryTimeout:        5 * time.Second,
	}
}

// waitEvent reads events until match returns true and returns everything
// read so far, the matching event last.
func waitEvent(t *testing.T, sub *Subscription, match func(Event) bool) []Event {
	t.Helper()
	var seen []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			require.True(t, ok, "subscription closed; saw %+v", seen)
			seen = append(seen, ev)
			if match(ev) {
				return seen
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for event", "saw %+v", seen)
			return nil
		}
	}
}

func isEvent(id string, typ EventType) func(Event) bool {
	return func(ev Event) bool { return ev.ID == id && ev.Type == typ }
}

// waitState polls until the session reaches want.
func waitState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, ok := m.Session(id)
		return ok && info.State == want
	}, 5*time.Second, 2*time.Millisecond, "session %s never reached %s", id, want)
}

// noEvent asserts that nothing arrives for a short while.
func noEvent(t *testing.T, sub *Subscription, d time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		assert.False(t, ok, "unexpected event %+v", ev)
	case <-time.After(d):
	}
}

// gameZip returns a zip archive holding Game/Game.exe.
func gameZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("Game/Game.exe")
	require.NoError(t, err)
	_, err = w.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeGameZip(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, gameZip(t), 0644))
}
