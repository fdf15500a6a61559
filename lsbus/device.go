package lsbus

import "lscon-go/types"

// Device is one mezzanine on the connector bus, either a declared slot or
// a board injected at runtime.
type Device interface {
	ID() int
	Name() string
	// Node is the declared slot this device was created from, nil when injected.
	Node() *types.SlotNode
	I2C0() I2CAdapter
	I2C1() I2CAdapter
	SPI() SPIController
	Lines() LineLeaser
}

// Driver binds to mezzanine devices. Probe must undo everything it did
// before returning an error. Probe and Remove run with the bus lock held
// and must not call back into the Registry.
type Driver interface {
	Name() string
	Probe(dev Device) error
	Remove(dev Device) error
}

// Matcher is implemented by drivers that carry a structured match table,
// compared against the compatible strings of a declared slot.
type Matcher interface {
	MatchTable() []string
}

// DriverFuncs adapts plain functions to Driver and Matcher.
type DriverFuncs struct {
	DriverName string
	Compatible []string
	ProbeFunc  func(Device) error
	RemoveFunc func(Device) error
}

func (d *DriverFuncs) Name() string         { return d.DriverName }
func (d *DriverFuncs) MatchTable() []string { return d.Compatible }

func (d *DriverFuncs) Probe(dev Device) error {
	if d.ProbeFunc == nil {
		return nil
	}
	return d.ProbeFunc(dev)
}

func (d *DriverFuncs) Remove(dev Device) error {
	if d.RemoveFunc == nil {
		return nil
	}
	return d.RemoveFunc(dev)
}

// Match applies the bus rule: structured match on the declared slot first,
// then exact equality of device name and driver name.
func Match(dev Device, drv Driver) bool {
	if node := dev.Node(); node != nil {
		if m, ok := drv.(Matcher); ok {
			for _, want := range m.MatchTable() {
				for _, have := range node.Compatible {
					if want != "" && want == have {
						return true
					}
				}
			}
		}
	}
	return dev.Name() == drv.Name()
}
