package lsbus

import (
	"lscon-go/errcode"
	"lscon-go/types"

	"tinygo.org/x/drivers"
)

// ---- Upstream buses ----

// I2CAdapter is an upstream I²C bus bridged by the connector. Raw
// transactions go through drivers.I2C; child peripherals are registered
// with NewClient so the host stack can bind its own drivers to them.
type I2CAdapter interface {
	drivers.I2C
	Name() string
	NewClient(info I2CBoardInfo) (I2CClient, error)
	UnregisterClient(c I2CClient)
}

// I2CBoardInfo describes one peripheral at a fixed address.
type I2CBoardInfo struct {
	Type     string // e.g. "24c128"
	Addr     uint16
	Platform any // driver-specific platform data
}

type I2CClient interface {
	Name() string
	Addr() uint16
	Adapter() I2CAdapter
}

// SPIController is the upstream SPI bus bridged by the connector.
type SPIController interface {
	Name() string
	NewDevice(info SPIBoardInfo) (SPIDevice, error)
	UnregisterDevice(d SPIDevice)
}

type SPIBoardInfo struct {
	Modalias   string // e.g. "tpm_tis_spi"
	MaxSpeedHz uint32
	ChipSelect uint8
	IRQ        LineLease // optional interrupt line, nil if none
}

// SPIDevice is a registered SPI peripheral; transfers use drivers.SPI.
type SPIDevice interface {
	drivers.SPI
	Modalias() string
	ChipSelect() uint8
}

// ---- Signal lines ----

// Line is a provider-level handle to one electrical signal line.
type Line interface {
	ID() types.LineID
	Set(level bool)
	Get() bool
}

// LineLease is a line held by one device's driver for one purpose.
type LineLease interface {
	Line() types.LineID
	Consumer() string
	Set(level bool)
	Get() bool
}

// LineLeaser hands out signal lines to the devices of one connector.
type LineLeaser interface {
	AcquireLine(dev Device, line types.LineID, consumer string, flags types.LineFlags) (LineLease, error)
	ReleaseLine(dev Device, lease LineLease)
}

// GetLine leases a signal line for dev. The direction and initial level in
// flags apply at acquisition.
func GetLine(dev Device, line types.LineID, consumer string, flags types.LineFlags) (LineLease, error) {
	l := dev.Lines()
	if l == nil {
		return nil, errcode.New(errcode.NotAvailable, "get_line", "device has no signal lines")
	}
	return l.AcquireLine(dev, line, consumer, flags)
}

// PutLine hands a lease from GetLine back. Nil leases are ignored so
// optional lines can be released unconditionally.
func PutLine(dev Device, lease LineLease) {
	if lease == nil {
		return
	}
	if l := dev.Lines(); l != nil {
		l.ReleaseLine(dev, lease)
	}
}
