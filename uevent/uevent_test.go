package uevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev := <-s.Channel():
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func expectNone(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev := <-s.Channel():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestPublishOrderAndSequence(t *testing.T) {
	b := New(8)
	s := b.Subscribe()

	b.Publish(Event{Action: ActionAdd, Device: "mezzanine0", ID: 0})
	b.Publish(Event{Action: ActionBind, Device: "mezzanine0", ID: 0, Driver: "secure96"})

	ev := recv(t, s)
	assert.Equal(t, ActionAdd, ev.Action)
	assert.Equal(t, uint64(1), ev.Seq)
	ev = recv(t, s)
	assert.Equal(t, ActionBind, ev.Action)
	assert.Equal(t, "secure96", ev.Driver)
	assert.Equal(t, uint64(2), ev.Seq)
}

func TestActionFilter(t *testing.T) {
	b := New(8)
	binds := b.Subscribe(ActionBind, ActionUnbind)

	b.Publish(Event{Action: ActionAdd, Device: "x"})
	b.Publish(Event{Action: ActionUnbind, Device: "x"})

	ev := recv(t, binds)
	assert.Equal(t, ActionUnbind, ev.Action)
	expectNone(t, binds)
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := New(2)
	s := b.Subscribe()
	for i := 0; i < 3; i++ {
		b.Publish(Event{Action: ActionAdd, ID: i})
	}
	assert.Equal(t, 1, recv(t, s).ID)
	assert.Equal(t, 2, recv(t, s).ID)
	expectNone(t, s)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(1)
	s := b.Subscribe()
	s.Unsubscribe()
	_, ok := <-s.Channel()
	require.False(t, ok)

	// Publishing afterwards must not panic.
	b.Publish(Event{Action: ActionRemove})
}

func TestNilBroadcasterPublishIsNoop(t *testing.T) {
	var b *Broadcaster
	assert.Equal(t, uint64(0), b.Publish(Event{Action: ActionAdd}))
}
