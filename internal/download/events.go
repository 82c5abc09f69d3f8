package download

import (
	"sync"
	"time"

	"github.com/elsbrock/gamedl/internal/log"
)

// EventType names an event on the session stream.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventPaused    EventType = "paused"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// Terminal reports whether the event ends a session.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError || t == EventCancelled
}

// Status is the phase carried by progress events.
type Status string

const (
	StatusConnecting  Status = "connecting"
	StatusDownloading Status = "downloading"
	StatusExtracting  Status = "extracting"
)

// Event is delivered to subscribers. Which fields are set depends on Type.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id"`
	Time time.Time `json:"time"`

	// progress
	Status        Status  `json:"status,omitempty"`
	Percent       float64 `json:"percent"`
	Indeterminate bool    `json:"indeterminate,omitempty"`
	RateBps       float64 `json:"rateBps,omitempty"`
	PeerCount     *int    `json:"peerCount,omitempty"`
	ETASeconds    int64   `json:"etaSeconds,omitempty"`

	// progress and paused
	BytesTransferred int64 `json:"bytesTransferred,omitempty"`
	BytesTotal       int64 `json:"bytesTotal,omitempty"`
	ResumeIsExact    *bool `json:"resumeIsExact,omitempty"`

	// complete and error
	Success       *bool  `json:"success,omitempty"`
	InstalledPath string `json:"installedPath,omitempty"`
	RootFolder    string `json:"rootFolder,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// Subscription receives events until it is closed.
type Subscription struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	broker *Broker

	// mu serialises sends with closing ch.
	mu     sync.Mutex
	closed bool
}

// C is the event channel. It is closed after Close, when the broker shuts
// down or when the subscriber fell too far behind.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.remove(s)
}

// deliver sends ev. With wait 0 it gives up at once when the buffer is
// full; otherwise it waits up to wait for room. It reports false when the
// event could not be delivered.
func (s *Subscription) deliver(ev Event, wait time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if wait <= 0 {
		select {
		case s.ch <- ev:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// shutdown unblocks a pending deliver, then closes the channel.
func (s *Subscription) shutdown() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker fans events out to subscribers. Progress events are dropped for a
// subscriber whose buffer is full. Every other event waits up to the
// delivery timeout; a subscriber that still has no room is evicted and its
// channel closed.
type Broker struct {
	timeout time.Duration

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBroker creates a broker with no subscribers. timeout bounds how long a
// lossless event waits for one subscriber.
func NewBroker(timeout time.Duration) *Broker {
	return &Broker{
		timeout: timeout,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber with the given channel buffer.
func (b *Broker) Subscribe(buffer int) *Subscription {
	s := &Subscription{
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
		broker: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber. Sends happen outside the broker
// lock so a slow subscriber never blocks Subscribe or Close.
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if ev.Type == EventProgress {
			if !s.deliver(ev, 0) {
				log.Debug("events").
					Str("id", ev.ID).
					Msg("Subscriber lagging, progress event dropped")
			}
			continue
		}
		if !s.deliver(ev, b.timeout) {
			log.Warn("events").
				Str("id", ev.ID).
				Str("type", string(ev.Type)).
				Dur("timeout", b.timeout).
				Msg("Subscriber stalled, closing subscription")
			s.Close()
		}
	}
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.shutdown()
}
