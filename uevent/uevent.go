// Package uevent broadcasts bus lifecycle events to in-process listeners.
package uevent

import (
	"sync"

	"lscon-go/x/timex"
)

// Action is the kind of lifecycle transition.
type Action string

const (
	ActionAdd          Action = "add"
	ActionRemove       Action = "remove"
	ActionBind         Action = "bind"
	ActionUnbind       Action = "unbind"
	ActionDriverAdd    Action = "driver_add"
	ActionDriverRemove Action = "driver_remove"
)

// Event is one lifecycle transition. Device/ID are empty/-1 for driver events.
type Event struct {
	Seq    uint64
	Action Action
	Device string
	ID     int
	Driver string
	TSms   int64
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	actions map[Action]struct{} // empty => all
	ch      chan Event
	b       *Broadcaster
}

func (s *Subscription) Channel() <-chan Event { return s.ch }
func (s *Subscription) Unsubscribe()          { s.b.unsubscribe(s) }

func (s *Subscription) wants(a Action) bool {
	if len(s.actions) == 0 {
		return true
	}
	_, ok := s.actions[a]
	return ok
}

// -----------------------------------------------------------------------------
// Broadcaster
// -----------------------------------------------------------------------------

type Broadcaster struct {
	mu   sync.Mutex
	subs []*Subscription
	seq  uint64
	qLen int
}

// New creates a broadcaster with the given per-subscriber queue length.
func New(queueLen int) *Broadcaster {
	if queueLen <= 0 {
		queueLen = 16
	}
	return &Broadcaster{qLen: queueLen}
}

// Subscribe registers a listener for the given actions, or all when none.
func (b *Broadcaster) Subscribe(actions ...Action) *Subscription {
	s := &Subscription{
		actions: make(map[Action]struct{}, len(actions)),
		ch:      make(chan Event, b.qLen),
		b:       b,
	}
	for _, a := range actions {
		s.actions[a] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Publish stamps ev with the next sequence number and delivers it without
// blocking. A full subscriber queue loses its oldest event.
func (b *Broadcaster) Publish(ev Event) uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	if ev.TSms == 0 {
		ev.TSms = timex.NowMs()
	}
	for _, s := range b.subs {
		if !s.wants(ev.Action) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// drop oldest if queue full
			select {
			case <-s.ch:
			default:
			}
			s.ch <- ev
		}
	}
	return ev.Seq
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Close drops every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		close(s.ch)
	}
}
