// Package connector bridges a 96Boards low-speed expansion connector to the
// mezzanine bus: it holds the upstream bus handles, creates one device per
// declared slot and serves the inject/eject control surface.
package connector

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/telemetry"
	"lscon-go/types"
	"lscon-go/x/strx"
)

type State uint8

const (
	StateUninitialized State = iota
	StateResourcesAcquired
	StatePopulated
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResourcesAcquired:
		return "resources_acquired"
	case StatePopulated:
		return "populated"
	case StateTornDown:
		return "torn_down"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// DeviceInfo is a snapshot of one live device.
type DeviceInfo struct {
	ID       int
	Name     string
	Driver   string // empty when unbound
	Injected bool
}

// Connector owns the upstream handles for one connector instance and every
// device created on it.
type Connector struct {
	// mu serialises lifecycle and control operations on this connector.
	mu       sync.Mutex
	node     types.ConnectorNode
	provider ResourceProvider
	reg      *lsbus.Registry
	lines    *LeaseManager
	log      zerolog.Logger
	metrics  telemetry.Collector

	state   State
	i2c0    lsbus.I2CAdapter
	i2c1    lsbus.I2CAdapter
	spi     lsbus.SPIController
	devices []*mezzanine // creation order
}

func New(node types.ConnectorNode, provider ResourceProvider, reg *lsbus.Registry, opts ...Option) *Connector {
	s := settings{logger: zerolog.Nop(), metrics: telemetry.Noop()}
	for _, o := range opts {
		o(&s)
	}
	c := &Connector{
		node:     node,
		provider: provider,
		reg:      reg,
		metrics:  s.metrics,
	}
	c.log = s.logger.With().Str("component", "connector").Str("connector", c.Name()).Logger()
	c.lines = newLeaseManager(provider, c.log, s.metrics)
	return c
}

func (c *Connector) Name() string { return strx.Coalesce(c.node.Name, "lscon") }

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Lines is the connector's lease manager.
func (c *Connector) Lines() *LeaseManager { return c.lines }

// Initialize acquires the first bus, the second bus and the SPI controller,
// in that order. If any of them is not available yet every handle taken so
// far is put back and the error matches errcode.Deferred.
func (c *Connector) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return errcode.New(errcode.InvalidState, "initialize", "connector is "+c.state.String())
	}
	err := c.acquire()
	switch {
	case err == nil:
		c.metrics.IncInitAttempt("ok")
		c.state = StateResourcesAcquired
		c.log.Info().Msg("upstream resources acquired")
	case errors.Is(err, errcode.Deferred):
		c.metrics.IncInitAttempt("deferred")
		c.log.Info().Err(err).Msg("initialization deferred")
	default:
		c.metrics.IncInitAttempt("failed")
		c.log.Error().Err(err).Msg("initialization failed")
	}
	return err
}

func (c *Connector) acquire() error {
	i2c0, err := c.lookupBus("i2c0", c.node.I2C0)
	if err != nil {
		return err
	}
	i2c1, err := c.lookupBus("i2c1", c.node.I2C1)
	if err != nil {
		c.provider.PutBus(i2c0)
		return err
	}
	spi, err := c.lookupController(c.node.SPI)
	if err != nil {
		c.provider.PutBus(i2c1)
		c.provider.PutBus(i2c0)
		return err
	}
	if err := c.reg.SetRoot(c); err != nil {
		c.provider.PutController(spi)
		c.provider.PutBus(i2c1)
		c.provider.PutBus(i2c0)
		return err
	}
	c.i2c0, c.i2c1, c.spi = i2c0, i2c1, spi
	return nil
}

func (c *Connector) lookupBus(which, ref string) (lsbus.I2CAdapter, error) {
	const op = "lookup_bus"
	if ref == "" {
		return nil, errcode.New(errcode.NotAvailable, op, "no "+which+" reference")
	}
	a, err := c.provider.LookupBus(ref)
	if err != nil {
		return nil, lookupErr(op, which, ref, err)
	}
	if a == nil {
		return nil, errcode.New(errcode.NotAvailable, op, fmt.Sprintf("%s %q not found", which, ref))
	}
	return a, nil
}

func (c *Connector) lookupController(ref string) (lsbus.SPIController, error) {
	const op = "lookup_controller"
	if ref == "" {
		return nil, errcode.New(errcode.NotAvailable, op, "no spi reference")
	}
	s, err := c.provider.LookupController(ref)
	if err != nil {
		return nil, lookupErr(op, "spi", ref, err)
	}
	if s == nil {
		return nil, errcode.New(errcode.NotAvailable, op, fmt.Sprintf("spi %q not found", ref))
	}
	return s, nil
}

func lookupErr(op, which, ref string, err error) error {
	if errors.Is(err, errcode.Unavailable) {
		return &errcode.E{C: errcode.Deferred, Op: op, Msg: fmt.Sprintf("no %s %q yet", which, ref), Err: err}
	}
	return fmt.Errorf("%s %s %q: %w", op, which, ref, err)
}

// Populate creates one device per available declared slot, in declaration
// order. A slot that fails is logged and skipped; its siblings still go in.
func (c *Connector) Populate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateResourcesAcquired {
		return errcode.New(errcode.InvalidState, "populate", "connector is "+c.state.String())
	}
	for i := range c.node.Mezzanines {
		slot := &c.node.Mezzanines[i]
		if !slot.Available() {
			c.log.Debug().Str("slot", slot.Name).Msg("slot disabled")
			continue
		}
		if _, err := c.addDevice(slot.Name, slot); err != nil {
			c.log.Warn().Err(err).Str("slot", slot.Name).Msg("mezzanine not populated cleanly")
		}
	}
	c.state = StatePopulated
	return nil
}

// Teardown destroys every device on the connector, declared or injected,
// then puts the SPI controller, the second bus and the first bus back.
// Failures along the way are logged.
func (c *Connector) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return
	}
	for len(c.devices) > 0 {
		c.delDevice(c.devices[0])
	}
	if c.spi != nil {
		c.provider.PutController(c.spi)
	}
	if c.i2c1 != nil {
		c.provider.PutBus(c.i2c1)
	}
	if c.i2c0 != nil {
		c.provider.PutBus(c.i2c0)
	}
	c.spi, c.i2c1, c.i2c0 = nil, nil, nil
	c.reg.ClearRoot(c)
	c.state = StateTornDown
	c.log.Info().Msg("connector torn down")
}

// Devices lists live devices in creation order.
func (c *Connector) Devices() []DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeviceInfo, 0, len(c.devices))
	for _, d := range c.devices {
		info := DeviceInfo{ID: d.id, Name: d.name, Injected: d.node == nil}
		if drv, ok := c.reg.DriverOf(d); ok {
			info.Driver = drv.Name()
		}
		out = append(out, info)
	}
	return out
}

// Leases lists outstanding line leases.
func (c *Connector) Leases() []LeaseInfo { return c.lines.Leases() }

// addDevice creates and registers a device. slot is nil for injected
// boards. A ProbeFailed error still returns the registered device. caller
// holds mu.
func (c *Connector) addDevice(name string, slot *types.SlotNode) (*mezzanine, error) {
	id, err := c.reg.AllocateID()
	if err != nil {
		return nil, err
	}
	d := &mezzanine{
		id:    id,
		name:  strx.Coalesce(name, fmt.Sprintf("mezzanine%d", id)),
		node:  slot,
		i2c0:  c.i2c0,
		i2c1:  c.i2c1,
		spi:   c.spi,
		lines: c.lines,
	}
	if slot != nil {
		c.lines.attach(d, slot.Lines)
	} else {
		c.lines.attach(d, c.node.Unrouted())
	}

	err = c.reg.RegisterDevice(d)
	if err != nil && !errors.Is(err, errcode.ProbeFailed) {
		c.lines.reclaim(d)
		c.reg.ReleaseID(id)
		return nil, err
	}
	c.devices = append(c.devices, d)
	c.log.Info().Str("device", d.name).Int("id", id).Bool("injected", slot == nil).Msg("mezzanine created")
	return d, err
}

// delDevice unregisters d, reclaims leases its driver leaked and frees its
// identifier. caller holds mu.
func (c *Connector) delDevice(d *mezzanine) {
	if err := c.reg.UnregisterDevice(d); err != nil {
		c.log.Warn().Err(err).Str("device", d.name).Msg("unregister failed")
	}
	if n := c.lines.reclaim(d); n > 0 {
		c.log.Warn().Str("device", d.name).Int("leases", n).Msg("driver left leases behind")
	}
	c.reg.ReleaseID(d.id)
	for i, x := range c.devices {
		if x == d {
			c.devices = append(c.devices[:i], c.devices[i+1:]...)
			break
		}
	}
	c.log.Info().Str("device", d.name).Int("id", d.id).Msg("mezzanine destroyed")
}

func (c *Connector) owned(name string) *mezzanine {
	for _, d := range c.devices {
		if d.name == name {
			return d
		}
	}
	return nil
}

// mezzanine is the lsbus.Device created by a connector.
type mezzanine struct {
	id    int
	name  string
	node  *types.SlotNode
	i2c0  lsbus.I2CAdapter
	i2c1  lsbus.I2CAdapter
	spi   lsbus.SPIController
	lines *LeaseManager
}

var _ lsbus.Device = (*mezzanine)(nil)

func (m *mezzanine) ID() int                  { return m.id }
func (m *mezzanine) Name() string             { return m.name }
func (m *mezzanine) Node() *types.SlotNode    { return m.node }
func (m *mezzanine) I2C0() lsbus.I2CAdapter   { return m.i2c0 }
func (m *mezzanine) I2C1() lsbus.I2CAdapter   { return m.i2c1 }
func (m *mezzanine) SPI() lsbus.SPIController { return m.spi }
func (m *mezzanine) Lines() lsbus.LineLeaser  { return m.lines }
