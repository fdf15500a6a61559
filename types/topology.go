package types

// Topology is the declared description of one low-speed connector and
// the mezzanine slots stacked on it.
type Topology struct {
	Connector ConnectorNode `yaml:"connector"`
}

// ConnectorNode names the upstream resources bridged by the connector.
type ConnectorNode struct {
	Name       string     `yaml:"name"`
	Compatible string     `yaml:"compatible,omitempty"`
	I2C0       string     `yaml:"i2c0"`
	I2C1       string     `yaml:"i2c1"`
	SPI        string     `yaml:"spi"`
	Mezzanines []SlotNode `yaml:"mezzanines,omitempty"`
}

// SlotNode is one declared mezzanine position. Lines lists the signal
// lines physically routed to this slot.
type SlotNode struct {
	Name       string   `yaml:"name,omitempty"`
	Compatible []string `yaml:"compatible,omitempty"`
	Lines      []LineID `yaml:"lines,omitempty"`
	Disabled   bool     `yaml:"disabled,omitempty"`
}

// Available mirrors a device-tree status check.
func (s *SlotNode) Available() bool { return s != nil && !s.Disabled }

// Routes reports whether line l is wired to this slot.
func (s *SlotNode) Routes(l LineID) bool {
	if s == nil {
		return false
	}
	for _, x := range s.Lines {
		if x == l {
			return true
		}
	}
	return false
}

// Unrouted returns the lines not wired to any declared slot, in A..L order.
// These are the lines an injected board can reach.
func (c *ConnectorNode) Unrouted() []LineID {
	var wired [NumLines]bool
	for i := range c.Mezzanines {
		for _, l := range c.Mezzanines[i].Lines {
			if l.Valid() {
				wired[l] = true
			}
		}
	}
	var out []LineID
	for l := LineA; l < NumLines; l++ {
		if !wired[l] {
			out = append(out, l)
		}
	}
	return out
}
