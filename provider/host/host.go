// Package host provides an in-memory resource provider for the connector:
// two I²C adapters, one SPI controller and the twelve low-speed lines.
// Tests and the CLI use it in place of real bus subsystems.
package host

import (
	"fmt"
	"sync"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/types"
)

// Provider hands out upstream handles by reference name.
type Provider struct {
	mu sync.Mutex

	buses map[string]*I2C
	spis  map[string]*SPI
	lines [types.NumLines]*FakeLine

	// ref -> lookups still to fail with Unavailable; <0 means until cleared.
	unavailable map[string]int
	// ref -> handles currently held by a consumer.
	held map[string]int
}

// New creates a provider with adapters "i2c0", "i2c1" and controller "spi0".
func New() *Provider {
	p := &Provider{
		buses:       map[string]*I2C{"i2c0": newI2C("i2c0"), "i2c1": newI2C("i2c1")},
		spis:        map[string]*SPI{"spi0": newSPI("spi0")},
		unavailable: make(map[string]int),
		held:        make(map[string]int),
	}
	for l := types.LineA; l < types.NumLines; l++ {
		p.lines[l] = &FakeLine{id: l}
	}
	return p
}

// SetUnavailable makes the next attempts lookups of ref report Unavailable.
// attempts < 0 keeps it unavailable until SetUnavailable(ref, 0).
func (p *Provider) SetUnavailable(ref string, attempts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if attempts == 0 {
		delete(p.unavailable, ref)
		return
	}
	p.unavailable[ref] = attempts
}

// Held is the number of outstanding handles for ref.
func (p *Provider) Held(ref string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held[ref]
}

// HeldTotal is the number of outstanding bus and controller handles.
func (p *Provider) HeldTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.held {
		n += v
	}
	return n
}

func (p *Provider) Bus(ref string) *I2C            { return p.buses[ref] }
func (p *Provider) SPI(ref string) *SPI            { return p.spis[ref] }
func (p *Provider) Line(id types.LineID) *FakeLine { return p.lines[id] }

// caller holds mu
func (p *Provider) gate(ref string) error {
	n, ok := p.unavailable[ref]
	if !ok {
		return nil
	}
	if n > 0 {
		if n == 1 {
			delete(p.unavailable, ref)
		} else {
			p.unavailable[ref] = n - 1
		}
	}
	return errcode.New(errcode.Unavailable, "lookup", fmt.Sprintf("%s not ready", ref))
}

// ---- Buses ----

func (p *Provider) LookupBus(ref string) (lsbus.I2CAdapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buses[ref]
	if !ok {
		return nil, errcode.New(errcode.NotAvailable, "lookup_bus", fmt.Sprintf("no adapter %q", ref))
	}
	if err := p.gate(ref); err != nil {
		return nil, err
	}
	p.held[ref]++
	return b, nil
}

func (p *Provider) PutBus(a lsbus.I2CAdapter) {
	if a == nil {
		return
	}
	p.put(a.Name())
}

func (p *Provider) LookupController(ref string) (lsbus.SPIController, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.spis[ref]
	if !ok {
		return nil, errcode.New(errcode.NotAvailable, "lookup_controller", fmt.Sprintf("no controller %q", ref))
	}
	if err := p.gate(ref); err != nil {
		return nil, err
	}
	p.held[ref]++
	return s, nil
}

func (p *Provider) PutController(c lsbus.SPIController) {
	if c == nil {
		return
	}
	p.put(c.Name())
}

func (p *Provider) put(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held[ref] > 0 {
		p.held[ref]--
	}
}

// ---- Lines ----

// RequestLine configures the line per flags and marks it requested.
func (p *Provider) RequestLine(id types.LineID, consumer string, flags types.LineFlags) (lsbus.Line, error) {
	if !id.Valid() {
		return nil, errcode.New(errcode.NotAvailable, "request_line", id.String())
	}
	p.mu.Lock()
	l := p.lines[id]
	p.mu.Unlock()
	if err := l.request(consumer, flags); err != nil {
		return nil, err
	}
	return l, nil
}

func (p *Provider) FreeLine(l lsbus.Line) {
	if fl, ok := l.(*FakeLine); ok {
		fl.free()
	}
}

// ----------------------------- Line ------------------------------------------

// FakeLine records direction, level and consumer of one signal line.
type FakeLine struct {
	mu        sync.RWMutex
	id        types.LineID
	requested bool
	missing   bool
	output    bool
	level     bool
	consumer  string
	writes    []bool
}

func (l *FakeLine) ID() types.LineID { return l.id }

func (l *FakeLine) Set(level bool) {
	l.mu.Lock()
	l.level = level
	l.writes = append(l.writes, level)
	l.mu.Unlock()
}

func (l *FakeLine) Get() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetMissing makes requests for this line fail, as if it were not wired.
func (l *FakeLine) SetMissing(missing bool) {
	l.mu.Lock()
	l.missing = missing
	l.mu.Unlock()
}

// Drive forces the sensed level on an input line.
func (l *FakeLine) Drive(level bool) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *FakeLine) Requested() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requested
}

func (l *FakeLine) Output() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.output
}

func (l *FakeLine) Consumer() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.consumer
}

// Writes returns every level set since the line was last requested.
func (l *FakeLine) Writes() []bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]bool(nil), l.writes...)
}

func (l *FakeLine) request(consumer string, flags types.LineFlags) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.missing {
		return errcode.New(errcode.NotAvailable, "request_line", "line "+l.id.String()+" not wired")
	}
	if l.requested {
		return errcode.New(errcode.Conflict, "request_line", "line "+l.id.String()+" busy")
	}
	l.requested = true
	l.consumer = consumer
	l.writes = nil
	switch {
	case flags.IsOutput():
		l.output = true
		l.level = flags.Initial()
	case flags == types.FlagIn:
		l.output = false
	}
	return nil
}

func (l *FakeLine) free() {
	l.mu.Lock()
	l.requested = false
	l.consumer = ""
	l.output = false
	l.mu.Unlock()
}
