package lsbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"lscon-go/errcode"
	"lscon-go/telemetry"
	"lscon-go/uevent"
	"lscon-go/x/idpool"
)

// BusName is the name the connector bus registers under.
const BusName = "96boards-ls-connector-bus"

// Root is the connector currently serving the bus control surface.
type Root interface {
	Name() string
}

type entry struct {
	dev Device
	drv Driver // nil when unbound
}

// Registry is the connector bus: the devices and drivers on it, the match
// rule between them and the identifier pool devices are numbered from.
//
// One Registry is created at system start and handed to every connector
// and driver module; there is no package-level instance.
type Registry struct {
	// mu is the bus lock. Registration, binding and unbinding run under it,
	// so no two of them ever execute concurrently.
	mu      sync.Mutex
	drivers []Driver
	devices []*entry
	root    Root

	ids     *idpool.Pool
	events  *uevent.Broadcaster
	log     zerolog.Logger
	metrics telemetry.Collector
}

type Option func(*Registry)

func WithLogger(l zerolog.Logger) Option { return func(r *Registry) { r.log = l } }

func WithCollector(c telemetry.Collector) Option {
	return func(r *Registry) {
		if c != nil {
			r.metrics = c
		}
	}
}

func WithEvents(b *uevent.Broadcaster) Option { return func(r *Registry) { r.events = b } }

// WithMaxDevices bounds the identifier pool; 0 leaves it unbounded.
func WithMaxDevices(n int) Option { return func(r *Registry) { r.ids = idpool.New(n) } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ids:     idpool.New(0),
		log:     zerolog.Nop(),
		metrics: telemetry.Noop(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With().Str("component", "lsbus").Logger()
	return r
}

// Events returns the lifecycle broadcaster, nil if none was configured.
func (r *Registry) Events() *uevent.Broadcaster { return r.events }

// ---- Identifiers ----

// AllocateID draws the next free device identifier.
func (r *Registry) AllocateID() (int, error) {
	id, err := r.ids.Get()
	if err != nil {
		return -1, errcode.New(errcode.Exhausted, "allocate_id", "device identifier pool is full")
	}
	return id, nil
}

func (r *Registry) ReleaseID(id int) { r.ids.Put(id) }

// IDInUse reports whether id is held by a live device.
func (r *Registry) IDInUse(id int) bool { return r.ids.InUse(id) }

// ---- Root association ----

// SetRoot makes c the connector serving the control surface.
func (r *Registry) SetRoot(c Root) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.root != nil && r.root != c {
		return errcode.New(errcode.Conflict, "set_root", fmt.Sprintf("bus already rooted at %s", r.root.Name()))
	}
	r.root = c
	return nil
}

// ClearRoot drops the association if c holds it.
func (r *Registry) ClearRoot(c Root) {
	r.mu.Lock()
	if r.root == c {
		r.root = nil
	}
	r.mu.Unlock()
}

func (r *Registry) Root() Root {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// ---- Drivers ----

// RegisterDriver adds drv and offers it every unbound device, in device
// registration order.
func (r *Registry) RegisterDriver(drv Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.drivers {
		if d.Name() == drv.Name() {
			return errcode.New(errcode.Conflict, "register_driver", fmt.Sprintf("driver %q already registered", drv.Name()))
		}
	}
	r.drivers = append(r.drivers, drv)
	r.publish(uevent.Event{Action: uevent.ActionDriverAdd, ID: -1, Driver: drv.Name()})
	r.log.Info().Str("driver", drv.Name()).Msg("driver registered")

	for _, e := range r.devices {
		if e.drv != nil || !Match(e.dev, drv) {
			continue
		}
		if err := r.probe(e, drv); err != nil {
			r.log.Warn().Err(err).Str("device", e.dev.Name()).Str("driver", drv.Name()).Msg("probe failed")
		}
	}
	return nil
}

// UnregisterDriver unbinds every device bound to drv and removes it.
// The devices stay registered, unbound.
func (r *Registry) UnregisterDriver(drv Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, d := range r.drivers {
		if d == drv {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errcode.New(errcode.NotAvailable, "unregister_driver", fmt.Sprintf("driver %q not registered", drv.Name()))
	}
	for _, e := range r.devices {
		if e.drv == drv {
			r.unbind(e)
		}
	}
	r.drivers = append(r.drivers[:idx], r.drivers[idx+1:]...)
	r.publish(uevent.Event{Action: uevent.ActionDriverRemove, ID: -1, Driver: drv.Name()})
	r.log.Info().Str("driver", drv.Name()).Msg("driver unregistered")
	return nil
}

// ForEachDriver visits drivers in registration order until fn returns an
// error, which is passed back. fn runs without the bus lock.
func (r *Registry) ForEachDriver(fn func(Driver) error) error {
	r.mu.Lock()
	snap := append([]Driver(nil), r.drivers...)
	r.mu.Unlock()
	for _, d := range snap {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// ---- Devices ----

// RegisterDevice adds dev and binds it to the first matching driver whose
// probe succeeds. A ProbeFailed error leaves dev registered and unbound.
func (r *Registry) RegisterDevice(dev Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.devices {
		if e.dev.Name() == dev.Name() {
			return errcode.New(errcode.Conflict, "register_device", fmt.Sprintf("device %q already registered", dev.Name()))
		}
	}
	e := &entry{dev: dev}
	r.devices = append(r.devices, e)
	r.metrics.SetDevices(len(r.devices))
	r.publish(uevent.Event{Action: uevent.ActionAdd, Device: dev.Name(), ID: dev.ID()})
	r.log.Info().Str("device", dev.Name()).Int("id", dev.ID()).Msg("device added")

	var lastErr error
	for _, drv := range r.drivers {
		if !Match(dev, drv) {
			continue
		}
		err := r.probe(e, drv)
		if err == nil {
			return nil
		}
		r.log.Warn().Err(err).Str("device", dev.Name()).Str("driver", drv.Name()).Msg("probe failed")
		lastErr = err
	}
	if lastErr != nil {
		return errcode.Wrap(errcode.ProbeFailed, "register_device", lastErr)
	}
	return nil
}

// UnregisterDevice removes dev, calling the bound driver's Remove first.
// A failing or panicking Remove is logged; the device is removed anyway.
func (r *Registry) UnregisterDevice(dev Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.devices {
		if e.dev != dev {
			continue
		}
		if e.drv != nil {
			r.unbind(e)
		}
		r.devices = append(r.devices[:i], r.devices[i+1:]...)
		r.metrics.SetDevices(len(r.devices))
		r.publish(uevent.Event{Action: uevent.ActionRemove, Device: dev.Name(), ID: dev.ID()})
		r.log.Info().Str("device", dev.Name()).Int("id", dev.ID()).Msg("device removed")
		return nil
	}
	return errcode.New(errcode.NotAvailable, "unregister_device", fmt.Sprintf("device %q not registered", dev.Name()))
}

// FindDeviceByName returns the registered device with exactly this name.
func (r *Registry) FindDeviceByName(name string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.devices {
		if e.dev.Name() == name {
			return e.dev, true
		}
	}
	return nil, false
}

// DriverOf returns the driver bound to dev, if any.
func (r *Registry) DriverOf(dev Device) (Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.devices {
		if e.dev == dev {
			return e.drv, e.drv != nil
		}
	}
	return nil, false
}

// ForEachDevice visits devices in registration order until fn returns an
// error, which is passed back. fn runs without the bus lock.
func (r *Registry) ForEachDevice(fn func(Device) error) error {
	r.mu.Lock()
	snap := make([]Device, 0, len(r.devices))
	for _, e := range r.devices {
		snap = append(snap, e.dev)
	}
	r.mu.Unlock()
	for _, d := range snap {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// ---- Binding (caller holds mu) ----

func (r *Registry) probe(e *entry, drv Driver) error {
	err := safeCall(func() error { return drv.Probe(e.dev) })
	if err != nil {
		r.metrics.IncProbe(drv.Name(), "failed")
		return err
	}
	e.drv = drv
	r.metrics.IncProbe(drv.Name(), "ok")
	r.publish(uevent.Event{Action: uevent.ActionBind, Device: e.dev.Name(), ID: e.dev.ID(), Driver: drv.Name()})
	r.log.Info().Str("device", e.dev.Name()).Str("driver", drv.Name()).Msg("driver bound")
	return nil
}

func (r *Registry) unbind(e *entry) {
	drv := e.drv
	if err := safeCall(func() error { return drv.Remove(e.dev) }); err != nil {
		r.log.Error().Err(err).Str("device", e.dev.Name()).Str("driver", drv.Name()).Msg("remove failed")
	}
	e.drv = nil
	r.publish(uevent.Event{Action: uevent.ActionUnbind, Device: e.dev.Name(), ID: e.dev.ID(), Driver: drv.Name()})
}

func (r *Registry) publish(ev uevent.Event) {
	if r.events != nil {
		r.events.Publish(ev)
	}
}

// safeCall runs a driver callback, turning a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("driver panic: %v", p)
		}
	}()
	return fn()
}
