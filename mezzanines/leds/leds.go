// Package leds drives indicator LEDs wired to connector signal lines.
package leds

import (
	"fmt"
	"sync"
	"time"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/types"
)

type Trigger string

const (
	TriggerNone      Trigger = "none"
	TriggerHeartbeat Trigger = "heartbeat"
)

// DefaultPeriod is one heartbeat cycle.
const DefaultPeriod = 1260 * time.Millisecond

const pulse = 70 * time.Millisecond

// Spec describes one LED. Lines are requested output-low (off) unless
// ActiveLow is set.
type Spec struct {
	Name      string
	Line      types.LineID
	ActiveLow bool
	Trigger   Trigger
	Period    time.Duration // heartbeat cycle; 0 means DefaultPeriod
}

type LED struct {
	name      string
	lease     lsbus.LineLease
	activeLow bool
	period    time.Duration

	// trig serialises trigger changes; it is taken before mu.
	trig    sync.Mutex
	mu      sync.Mutex
	on      bool
	trigger Trigger
	stop    chan struct{}
	done    chan struct{}
}

func (l *LED) Name() string { return l.name }

// Set switches the LED; it also drops any running trigger.
func (l *LED) Set(on bool) {
	l.trig.Lock()
	defer l.trig.Unlock()
	l.stopTrigger()
	l.mu.Lock()
	l.write(on)
	l.mu.Unlock()
}

func (l *LED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *LED) Trigger() Trigger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trigger
}

// SetTrigger attaches t to the LED, replacing the current one.
func (l *LED) SetTrigger(t Trigger) error {
	l.trig.Lock()
	defer l.trig.Unlock()
	switch t {
	case TriggerNone, "":
		l.stopTrigger()
		l.mu.Lock()
		l.write(false)
		l.mu.Unlock()
		return nil
	case TriggerHeartbeat:
		l.stopTrigger()
		l.mu.Lock()
		l.trigger = t
		l.stop = make(chan struct{})
		l.done = make(chan struct{})
		go l.heartbeat(l.stop, l.done)
		l.mu.Unlock()
		return nil
	}
	return errcode.New(errcode.InvalidParams, "set_trigger", fmt.Sprintf("unknown trigger %q", t))
}

// caller holds mu
func (l *LED) write(on bool) {
	l.on = on
	l.lease.Set(on != l.activeLow)
}

// caller holds trig
func (l *LED) stopTrigger() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.trigger = TriggerNone
	l.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// heartbeat blinks twice per period: on, off, on, then off for the rest.
func (l *LED) heartbeat(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	phases := []struct {
		on  bool
		dur time.Duration
	}{
		{true, pulse},
		{false, l.period/4 - pulse},
		{true, pulse},
		{false, l.period - l.period/4 - pulse},
	}
	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C
	for i := 0; ; i = (i + 1) % len(phases) {
		p := phases[i]
		l.mu.Lock()
		l.write(p.on)
		l.mu.Unlock()
		t.Reset(max(p.dur, time.Millisecond))
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// Group is the set of LEDs one board registered.
type Group struct {
	dev  lsbus.Device
	leds []*LED
}

// Register leases a line per spec and applies its trigger. On failure the
// lines already taken are released newest first.
func Register(dev lsbus.Device, specs ...Spec) (*Group, error) {
	g := &Group{dev: dev}
	for _, s := range specs {
		flags := types.FlagOutLow
		if s.ActiveLow {
			flags = types.FlagOutHigh
		}
		lease, err := lsbus.GetLine(dev, s.Line, s.Name, flags)
		if err != nil {
			g.Unregister()
			return nil, fmt.Errorf("led %s: %w", s.Name, err)
		}
		led := &LED{
			name:      s.Name,
			lease:     lease,
			activeLow: s.ActiveLow,
			period:    s.Period,
			trigger:   TriggerNone,
		}
		if led.period <= 0 {
			led.period = DefaultPeriod
		}
		g.leds = append(g.leds, led)
		if s.Trigger != "" && s.Trigger != TriggerNone {
			if err := led.SetTrigger(s.Trigger); err != nil {
				g.Unregister()
				return nil, err
			}
		}
	}
	return g, nil
}

// LEDs returns the group's LEDs in registration order.
func (g *Group) LEDs() []*LED { return g.leds }

// Get returns the LED with this name.
func (g *Group) Get(name string) (*LED, bool) {
	for _, l := range g.leds {
		if l.name == name {
			return l, true
		}
	}
	return nil, false
}

// Unregister stops triggers and releases every line, newest first.
func (g *Group) Unregister() {
	if g == nil {
		return
	}
	for i := len(g.leds) - 1; i >= 0; i-- {
		l := g.leds[i]
		l.trig.Lock()
		l.stopTrigger()
		l.trig.Unlock()
		lsbus.PutLine(g.dev, l.lease)
	}
	g.leds = nil
}
