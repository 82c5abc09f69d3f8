package download

import (
	"context"
	"sync"
	"time"

	"github.com/elsbrock/gamedl/internal/transfer"
)

type stopKind int

const (
	stopNone stopKind = iota
	stopPause
	stopCancel
)

// Session is the live state of one download. It is driven by a single
// goroutine; commands reach it through requestStop.
type Session struct {
	target    Target
	startedAt time.Time

	// ctx is cancelled when a pause or cancel is requested.
	ctx    context.Context
	cancel context.CancelFunc
	// done is closed when the driving goroutine exits.
	done chan struct{}
	// after, when set, is waited on before the session runs so a resumed
	// download never overtakes the events of the one it replaces.
	after <-chan struct{}

	mu               sync.Mutex
	state            State
	stop             stopKind
	committed        bool
	bytesTransferred int64
	bytesTotal       int64
	rateBps          float64
	peers            int
}

func newSession(target Target) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		target:    target,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateConnecting,
	}
}

// ID returns the download id.
func (s *Session) ID() string { return s.target.ID }

// Target returns what is being downloaded.
func (s *Session) Target() Target { return s.target }

// Done is closed once the session reached Paused or a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Target:           s.target,
		State:            s.state,
		BytesTransferred: s.bytesTransferred,
		BytesTotal:       s.bytesTotal,
		RateBps:          s.rateBps,
		Peers:            s.peers,
		StartedAt:        s.startedAt,
	}
}

// requestStop asks the driving goroutine to pause or cancel. A cancel
// overrides a pending pause. Pausing is refused while extracting.
func (s *Session) requestStop(kind stopKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.committed || s.state.Terminal() || s.state == StatePaused {
		return false
	}
	switch kind {
	case stopPause:
		if s.stop != stopNone || s.state == StateExtracting {
			return false
		}
	case stopCancel:
		if s.stop == stopCancel {
			return false
		}
	}
	s.stop = kind
	s.cancel()
	return true
}

// commitStop fixes the outcome of the pending stop request; later requests
// are refused.
func (s *Session) commitStop() stopKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = true
	return s.stop
}

// advance moves to next unless a stop was requested first.
func (s *Session) advance(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != stopNone {
		return false
	}
	s.state = next
	return true
}

// settle records the outcome of a stop request.
func (s *Session) settle(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// observe folds a backend sample into the session. Transferred bytes never
// go backwards; a Connecting session moves to Downloading once bytes flow.
func (s *Session) observe(p transfer.Progress) SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.BytesTransferred > s.bytesTransferred {
		s.bytesTransferred = p.BytesTransferred
	}
	if p.BytesTotal > 0 {
		s.bytesTotal = p.BytesTotal
	}
	if p.RateBps >= 0 {
		s.rateBps = p.RateBps
	}
	s.peers = p.Peers
	if s.state == StateConnecting && s.stop == stopNone && p.BytesTransferred > 0 {
		s.state = StateDownloading
	}

	return SessionInfo{
		Target:           s.target,
		State:            s.state,
		BytesTransferred: s.bytesTransferred,
		BytesTotal:       s.bytesTotal,
		RateBps:          s.rateBps,
		Peers:            s.peers,
		StartedAt:        s.startedAt,
	}
}

func (s *Session) pauseRecord() PauseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PauseRecord{
		Target:           s.target,
		BytesTransferred: s.bytesTransferred,
		BytesTotal:       s.bytesTotal,
		PausedAt:         time.Now(),
		settled:          s.done,
	}
}
