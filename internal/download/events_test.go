package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(time.Second)
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	defer s1.Close()
	defer s2.Close()

	b.Publish(Event{Type: EventCancelled, ID: "g1"})

	for i, s := range []*Subscription{s1, s2} {
		select {
		case ev := <-s.C():
			assert.Equal(t, "g1", ev.ID, "subscriber %d", i)
			assert.Equal(t, EventCancelled, ev.Type, "subscriber %d", i)
			assert.False(t, ev.Time.IsZero(), "subscriber %d got event without timestamp", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestBrokerDropsProgressForSlowSubscribers(t *testing.T) {
	b := NewBroker(5 * time.Second)
	s := b.Subscribe(1)
	defer s.Close()

	b.Publish(Event{Type: EventProgress, ID: "g1", Percent: 1})
	b.Publish(Event{Type: EventProgress, ID: "g1", Percent: 2}) // dropped, buffer full

	ev := <-s.C()
	assert.Equal(t, float64(1), ev.Percent)

	// Terminal events wait for room instead of being dropped.
	b.Publish(Event{Type: EventProgress, ID: "g1", Percent: 3})
	delivered := make(chan struct{})
	go func() {
		b.Publish(Event{Type: EventComplete, ID: "g1"})
		close(delivered)
	}()

	assert.Equal(t, float64(3), (<-s.C()).Percent)
	assert.Equal(t, EventComplete, (<-s.C()).Type)
	<-delivered
}

func TestBrokerEvictsStalledSubscriber(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	stalled := b.Subscribe(1)
	live := b.Subscribe(4)
	defer live.Close()

	b.Publish(Event{Type: EventProgress, ID: "g1", Percent: 1})

	published := make(chan struct{})
	go func() {
		b.Publish(Event{Type: EventError, ID: "g1"})
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked past the delivery timeout")
	}

	// The live subscriber got everything.
	assert.Equal(t, EventProgress, (<-live.C()).Type)
	assert.Equal(t, EventError, (<-live.C()).Type)

	// The stalled one keeps what it buffered, then its channel is closed.
	ev, ok := <-stalled.C()
	require.True(t, ok)
	assert.Equal(t, EventProgress, ev.Type)
	_, ok = <-stalled.C()
	assert.False(t, ok, "stalled subscription should be closed")

	// Later events skip the evicted subscriber without waiting.
	start := time.Now()
	b.Publish(Event{Type: EventCancelled, ID: "g2"})
	assert.Less(t, time.Since(start), time.Second)
	stalled.Close()
}

func TestBrokerCloseUnblocksPublisher(t *testing.T) {
	b := NewBroker(time.Minute)
	s := b.Subscribe(0)

	published := make(chan struct{})
	go func() {
		b.Publish(Event{Type: EventError, ID: "g1"})
		close(published)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish stayed blocked after the subscriber left")
	}
	_, ok := <-s.C()
	assert.False(t, ok, "channel should be closed")
	s.Close()
}

func TestBrokerSubscribeWhilePublishBlocked(t *testing.T) {
	b := NewBroker(time.Minute)
	s := b.Subscribe(0)
	defer s.Close()

	go b.Publish(Event{Type: EventError, ID: "g1"})
	time.Sleep(10 * time.Millisecond)

	subscribed := make(chan *Subscription, 1)
	go func() { subscribed <- b.Subscribe(1) }()
	select {
	case other := <-subscribed:
		other.Close()
	case <-time.After(time.Second):
		t.Fatal("Subscribe waited on a blocked publisher")
	}
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(time.Second)
	s := b.Subscribe(1)
	b.Close()
	_, ok := <-s.C()
	assert.False(t, ok, "subscription channel should be closed")

	late := b.Subscribe(1)
	_, ok = <-late.C()
	assert.False(t, ok, "subscriptions after Close should be closed immediately")
	b.Publish(Event{Type: EventCancelled, ID: "g1"})
	b.Close()
	late.Close()
}

func TestEventTypeTerminal(t *testing.T) {
	for _, tt := range []struct {
		typ  EventType
		want bool
	}{
		{EventProgress, false},
		{EventPaused, false},
		{EventComplete, true},
		{EventError, true},
		{EventCancelled, true},
	} {
		assert.Equal(t, tt.want, tt.typ.Terminal(), "%s.Terminal()", tt.typ)
	}
}
