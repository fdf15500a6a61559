package host

import (
	"fmt"
	"sync"

	"lscon-go/errcode"
	"lscon-go/lsbus"

	"tinygo.org/x/drivers"
)

// ----------------------------- I²C -------------------------------------------

// I2C is an inert adapter that records transactions and registered clients.
type I2C struct {
	mu      sync.Mutex
	name    string
	clients map[uint16]*I2CClient
	failing map[string]bool // board type -> NewClient fails
	LastTx  struct {
		Addr uint16
		W    []byte
		Rn   int
	}
	txCount int
}

var (
	_ drivers.I2C      = (*I2C)(nil)
	_ lsbus.I2CAdapter = (*I2C)(nil)
)

func newI2C(name string) *I2C {
	return &I2C{name: name, clients: make(map[uint16]*I2CClient), failing: make(map[string]bool)}
}

func (h *I2C) Name() string { return h.name }

func (h *I2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastTx.Addr = addr
	h.LastTx.W = append([]byte(nil), w...)
	h.LastTx.Rn = len(r)
	h.txCount++
	for i := range r {
		r[i] = 0xff
	}
	return nil
}

// TxCount is the number of transactions seen.
func (h *I2C) TxCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txCount
}

// FailClient makes NewClient fail for the given board type.
func (h *I2C) FailClient(typ string, fail bool) {
	h.mu.Lock()
	h.failing[typ] = fail
	h.mu.Unlock()
}

func (h *I2C) NewClient(info lsbus.I2CBoardInfo) (lsbus.I2CClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing[info.Type] {
		return nil, errcode.New(errcode.Error, "new_client", fmt.Sprintf("%s: cannot register %s", h.name, info.Type))
	}
	if _, taken := h.clients[info.Addr]; taken {
		return nil, errcode.New(errcode.Conflict, "new_client", fmt.Sprintf("%s: address 0x%02x busy", h.name, info.Addr))
	}
	c := &I2CClient{info: info, adapter: h}
	h.clients[info.Addr] = c
	return c, nil
}

func (h *I2C) UnregisterClient(c lsbus.I2CClient) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.Addr()]; ok && lsbus.I2CClient(cur) == c {
		delete(h.clients, c.Addr())
	}
}

// Client returns the client registered at addr.
func (h *I2C) Client(addr uint16) (*I2CClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[addr]
	return c, ok
}

// Clients is the number of registered clients.
func (h *I2C) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type I2CClient struct {
	info    lsbus.I2CBoardInfo
	adapter *I2C
}

func (c *I2CClient) Name() string              { return c.info.Type }
func (c *I2CClient) Addr() uint16              { return c.info.Addr }
func (c *I2CClient) Adapter() lsbus.I2CAdapter { return c.adapter }
func (c *I2CClient) Info() lsbus.I2CBoardInfo  { return c.info }

// ----------------------------- SPI -------------------------------------------

// SPI is an inert controller that records registered devices.
type SPI struct {
	mu      sync.Mutex
	name    string
	devices map[uint8]*SPIDevice
	failing map[string]bool
}

var _ lsbus.SPIController = (*SPI)(nil)

func newSPI(name string) *SPI {
	return &SPI{name: name, devices: make(map[uint8]*SPIDevice), failing: make(map[string]bool)}
}

func (s *SPI) Name() string { return s.name }

// FailDevice makes NewDevice fail for the given modalias.
func (s *SPI) FailDevice(modalias string, fail bool) {
	s.mu.Lock()
	s.failing[modalias] = fail
	s.mu.Unlock()
}

func (s *SPI) NewDevice(info lsbus.SPIBoardInfo) (lsbus.SPIDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[info.Modalias] {
		return nil, errcode.New(errcode.Error, "new_device", fmt.Sprintf("%s: cannot register %s", s.name, info.Modalias))
	}
	if _, taken := s.devices[info.ChipSelect]; taken {
		return nil, errcode.New(errcode.Conflict, "new_device", fmt.Sprintf("%s: chip select %d busy", s.name, info.ChipSelect))
	}
	d := &SPIDevice{info: info}
	s.devices[info.ChipSelect] = d
	return d, nil
}

func (s *SPI) UnregisterDevice(d lsbus.SPIDevice) {
	if d == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.devices[d.ChipSelect()]; ok && lsbus.SPIDevice(cur) == d {
		delete(s.devices, d.ChipSelect())
	}
}

// Device returns the device registered on chip select cs.
func (s *SPI) Device(cs uint8) (*SPIDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[cs]
	return d, ok
}

func (s *SPI) Devices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// SPIDevice records transfers.
type SPIDevice struct {
	mu   sync.Mutex
	info lsbus.SPIBoardInfo
	sent [][]byte
}

var _ drivers.SPI = (*SPIDevice)(nil)

func (d *SPIDevice) Modalias() string         { return d.info.Modalias }
func (d *SPIDevice) ChipSelect() uint8        { return d.info.ChipSelect }
func (d *SPIDevice) Info() lsbus.SPIBoardInfo { return d.info }

func (d *SPIDevice) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, append([]byte(nil), w...))
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (d *SPIDevice) Transfer(b byte) (byte, error) {
	err := d.Tx([]byte{b}, nil)
	return 0, err
}

// Sent returns every write buffer seen by Tx.
func (d *SPIDevice) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}
