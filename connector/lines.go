package connector

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/telemetry"
	"lscon-go/types"
)

// LeaseInfo describes one outstanding lease.
type LeaseInfo struct {
	Device   string
	Line     types.LineID
	Consumer string
}

type lease struct {
	line     types.LineID
	consumer string
	h        lsbus.Line
	owner    lsbus.Device

	// mu orders line writes against release.
	mu       sync.Mutex
	released bool
}

func (l *lease) Line() types.LineID { return l.line }
func (l *lease) Consumer() string   { return l.consumer }

// Set drives the line. It does nothing once the lease is released.
func (l *lease) Set(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.released {
		l.h.Set(level)
	}
}

func (l *lease) Get() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return false
	}
	return l.h.Get()
}

func (l *lease) isReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// LeaseManager hands out the connector's signal lines. Each device may only
// take the lines routed to its slot, and a line has at most one holder.
type LeaseManager struct {
	mu       sync.Mutex
	provider LineProvider
	log      zerolog.Logger
	metrics  telemetry.Collector

	routes  map[lsbus.Device][types.NumLines]bool
	holders [types.NumLines]*lease
	held    map[lsbus.Device][]*lease // acquisition order
}

var _ lsbus.LineLeaser = (*LeaseManager)(nil)

func newLeaseManager(p LineProvider, log zerolog.Logger, m telemetry.Collector) *LeaseManager {
	return &LeaseManager{
		provider: p,
		log:      log,
		metrics:  m,
		routes:   make(map[lsbus.Device][types.NumLines]bool),
		held:     make(map[lsbus.Device][]*lease),
	}
}

// attach records which lines are wired to dev.
func (m *LeaseManager) attach(dev lsbus.Device, lines []types.LineID) {
	var r [types.NumLines]bool
	for _, l := range lines {
		if l.Valid() {
			r[l] = true
		}
	}
	m.mu.Lock()
	m.routes[dev] = r
	m.mu.Unlock()
}

// AcquireLine leases line for dev under the consumer label.
func (m *LeaseManager) AcquireLine(dev lsbus.Device, line types.LineID, consumer string, flags types.LineFlags) (lsbus.LineLease, error) {
	const op = "acquire_line"
	if !line.Valid() {
		return nil, errcode.New(errcode.NotAvailable, op, fmt.Sprintf("no signal line %s", line))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.routes[dev]
	if !ok {
		return nil, errcode.New(errcode.NotAvailable, op, fmt.Sprintf("%s is not on this connector", dev.Name()))
	}
	if !r[line] {
		return nil, errcode.New(errcode.NotAvailable, op, fmt.Sprintf("line %s not routed to %s", line, dev.Name()))
	}
	if h := m.holders[line]; h != nil {
		return nil, errcode.New(errcode.Conflict, op, fmt.Sprintf("line %s held by %s (%s)", line, h.owner.Name(), h.consumer))
	}

	h, err := m.provider.RequestLine(line, consumer, flags)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, line, err)
	}
	ls := &lease{line: line, consumer: consumer, h: h, owner: dev}
	m.holders[line] = ls
	m.held[dev] = append(m.held[dev], ls)
	m.metrics.SetLeases(m.countLocked())

	m.log.Debug().Str("device", dev.Name()).Stringer("line", line).
		Str("consumer", consumer).Stringer("flags", flags).Msg("line acquired")
	return ls, nil
}

// ReleaseLine hands a lease back. Releasing twice is harmless; a lease
// presented by a device that does not own it is refused and logged.
func (m *LeaseManager) ReleaseLine(dev lsbus.Device, l lsbus.LineLease) {
	ls, ok := l.(*lease)
	if !ok || ls == nil {
		m.log.Warn().Str("device", dev.Name()).Msg("release of foreign lease ignored")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls.owner != dev {
		m.log.Warn().Str("device", dev.Name()).Str("owner", ls.owner.Name()).
			Stringer("line", ls.line).Msg("release by non-owner ignored")
		return
	}
	if ls.isReleased() {
		return
	}
	m.freeLocked(ls)
	m.log.Debug().Str("device", dev.Name()).Stringer("line", ls.line).Msg("line released")
}

// reclaim force-releases whatever dev still holds, newest first, and
// forgets its routing. It returns the number of leaked leases.
func (m *LeaseManager) reclaim(dev lsbus.Device) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	leaked := m.held[dev]
	for i := len(leaked) - 1; i >= 0; i-- {
		ls := leaked[i]
		m.log.Warn().Str("device", dev.Name()).Stringer("line", ls.line).
			Str("consumer", ls.consumer).Msg("reclaiming leaked line lease")
		m.freeLocked(ls)
	}
	delete(m.held, dev)
	delete(m.routes, dev)
	return len(leaked)
}

// caller holds mu
func (m *LeaseManager) freeLocked(ls *lease) {
	ls.mu.Lock()
	ls.released = true
	ls.mu.Unlock()
	m.provider.FreeLine(ls.h)
	if m.holders[ls.line] == ls {
		m.holders[ls.line] = nil
	}
	list := m.held[ls.owner]
	for i, x := range list {
		if x == ls {
			m.held[ls.owner] = append(list[:i], list[i+1:]...)
			break
		}
	}
	m.metrics.SetLeases(m.countLocked())
}

func (m *LeaseManager) countLocked() int {
	n := 0
	for _, h := range m.holders {
		if h != nil {
			n++
		}
	}
	return n
}

// Leases lists outstanding leases in line order.
func (m *LeaseManager) Leases() []LeaseInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LeaseInfo
	for _, h := range m.holders {
		if h != nil {
			out = append(out, LeaseInfo{Device: h.owner.Name(), Line: h.line, Consumer: h.consumer})
		}
	}
	return out
}
