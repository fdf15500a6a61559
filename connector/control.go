package connector

import (
	"errors"
	"io/fs"
	"slices"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/x/strx"
)

// ListSupported returns registered driver names in registration order.
func (c *Connector) ListSupported() []string {
	var names []string
	_ = c.reg.ForEachDriver(func(d lsbus.Driver) error {
		names = append(names, d.Name())
		return nil
	})
	return names
}

var errFound = errors.New("found")

// Inject creates a device named after a registered driver so that it binds
// by name. A name no driver carries is ignored.
func (c *Connector) Inject(name string) error {
	name = strx.Attr(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.controllable("inject"); err != nil {
		return err
	}
	known := c.reg.ForEachDriver(func(d lsbus.Driver) error {
		if d.Name() == name {
			return errFound
		}
		return nil
	}) != nil
	if name == "" || !known {
		c.metrics.IncControl("inject", "ignored")
		c.log.Debug().Str("name", name).Msg("inject: no such driver")
		return nil
	}

	_, err := c.addDevice(name, nil)
	c.metrics.IncControl("inject", outcome(err))
	return err
}

// Eject destroys the device with this name. An unknown name is ignored.
func (c *Connector) Eject(name string) error {
	name = strx.Attr(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.controllable("eject"); err != nil {
		return err
	}
	d := c.owned(name)
	if d == nil {
		c.metrics.IncControl("eject", "ignored")
		c.log.Debug().Str("name", name).Msg("eject: no such device")
		return nil
	}
	c.delDevice(d)
	c.metrics.IncControl("eject", "ok")
	return nil
}

// caller holds mu
func (c *Connector) controllable(op string) error {
	if c.state != StateResourcesAcquired && c.state != StatePopulated {
		return errcode.New(errcode.InvalidState, op, "connector is "+c.state.String())
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errcode.Of(err))
}

// Attribute is one entry of the connector's control file table.
type Attribute struct {
	Name  string
	Mode  fs.FileMode
	Show  func() (string, error)
	Store func(string) error
}

// Attributes returns the control files: supported (read), inject and
// eject (write).
func (c *Connector) Attributes() []Attribute {
	return []Attribute{
		{Name: "supported", Mode: 0o444, Show: func() (string, error) { return strx.Lines(c.ListSupported()), nil }},
		{Name: "inject", Mode: 0o644, Store: c.Inject},
		{Name: "eject", Mode: 0o644, Store: c.Eject},
	}
}

func (c *Connector) attr(op, name string) (Attribute, error) {
	attrs := c.Attributes()
	i := slices.IndexFunc(attrs, func(a Attribute) bool { return a.Name == name })
	if i < 0 {
		return Attribute{}, errcode.New(errcode.InvalidParams, op, "no attribute "+name)
	}
	return attrs[i], nil
}

// ReadAttr returns the content of a readable attribute.
func (c *Connector) ReadAttr(name string) (string, error) {
	a, err := c.attr("read_attr", name)
	if err != nil {
		return "", err
	}
	if a.Show == nil {
		return "", errcode.New(errcode.InvalidParams, "read_attr", name+" is write-only")
	}
	return a.Show()
}

// WriteAttr stores value into a writable attribute.
func (c *Connector) WriteAttr(name, value string) error {
	a, err := c.attr("write_attr", name)
	if err != nil {
		return err
	}
	if a.Store == nil {
		return errcode.New(errcode.InvalidParams, "write_attr", name+" is read-only")
	}
	return a.Store(value)
}
