// Package secure96 drives the 96Boards Secure96 mezzanine: four LEDs, an
// I²C EEPROM, two crypto/authentication chips and an SPI TPM.
package secure96

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/mezzanines/leds"
	"lscon-go/types"
)

const (
	Name       = "secure96"
	Compatible = "96boards,secure96"
)

// EEPROM geometry of the on-board 24c128.
const (
	EEPROMAddr     = 0x50
	EEPROMByteLen  = 16 * 1024 / 8
	EEPROMPageSize = 256
)

const (
	ECCAddr = 0x60
	SHAAddr = 0x64

	TPMModalias = "tpm_tis_spi"
	TPMSpeedHz  = 22500000
	TPMCS       = 0

	// tpmResetHold is how long the TPM reset line is held low.
	tpmResetHold = 80 * time.Microsecond
)

// EEPROMConfig is the platform data handed to the EEPROM client.
type EEPROMConfig struct {
	ByteLen  int
	PageSize int
	Addr16   bool
}

// LEDs are on F..I, red then green; the first one shows a heartbeat.
var LEDs = []leds.Spec{
	{Name: "secure96:red:0", Line: types.LineF, Trigger: leds.TriggerHeartbeat},
	{Name: "secure96:red:1", Line: types.LineG},
	{Name: "secure96:green:0", Line: types.LineH},
	{Name: "secure96:green:1", Line: types.LineI},
}

// Board is what one bound Secure96 holds.
type Board struct {
	LEDs   *leds.Group
	WP     lsbus.LineLease // nil when write protect could not be taken
	EEPROM lsbus.I2CClient
	ECC    lsbus.I2CClient
	SHA    lsbus.I2CClient
	TPMRst lsbus.LineLease
	TPMIRQ lsbus.LineLease
	TPM    lsbus.SPIDevice

	undo []func() // reverse order of Probe
}

type Driver struct {
	mu     sync.Mutex
	boards map[lsbus.Device]*Board
	log    zerolog.Logger
}

var (
	_ lsbus.Driver  = (*Driver)(nil)
	_ lsbus.Matcher = (*Driver)(nil)
)

type Option func(*Driver)

func WithLogger(l zerolog.Logger) Option { return func(d *Driver) { d.log = l } }

func New(opts ...Option) *Driver {
	d := &Driver{boards: make(map[lsbus.Device]*Board), log: zerolog.Nop()}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With().Str("component", Name).Logger()
	return d
}

func (d *Driver) Name() string         { return Name }
func (d *Driver) MatchTable() []string { return []string{Compatible} }

// Board returns the state of a bound device.
func (d *Driver) Board(dev lsbus.Device) (*Board, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.boards[dev]
	return b, ok
}

// Probe brings up every peripheral. Any failure undoes the earlier steps
// in reverse order before returning.
func (d *Driver) Probe(dev lsbus.Device) (err error) {
	log := d.log.With().Str("device", dev.Name()).Int("id", dev.ID()).Logger()
	b := &Board{}
	defer func() {
		if p := recover(); p != nil {
			b.teardown()
			panic(p)
		}
		if err != nil {
			b.teardown()
			log.Warn().Err(err).Msg("probe failed")
		}
	}()

	i2c := dev.I2C0()
	if i2c == nil {
		return errcode.New(errcode.NotAvailable, "probe", "no i2c0 adapter")
	}
	spi := dev.SPI()
	if spi == nil {
		return errcode.New(errcode.NotAvailable, "probe", "no spi controller")
	}

	if b.LEDs, err = leds.Register(dev, LEDs...); err != nil {
		return err
	}
	b.push(b.LEDs.Unregister)

	// Write protect is optional: the EEPROM still reads without it.
	if b.WP, err = lsbus.GetLine(dev, types.LineB, "cat21m01-wp", types.FlagOutHigh); err != nil {
		log.Warn().Err(err).Msg("no eeprom write protect")
		b.WP, err = nil, nil
	} else {
		wp := b.WP
		b.push(func() { lsbus.PutLine(dev, wp) })
	}

	if b.EEPROM, err = d.client(b, i2c, lsbus.I2CBoardInfo{
		Type:     "24c128",
		Addr:     EEPROMAddr,
		Platform: EEPROMConfig{ByteLen: EEPROMByteLen, PageSize: EEPROMPageSize, Addr16: true},
	}); err != nil {
		return err
	}
	// Random read of address 0 checks the chip answers.
	if err = i2c.Tx(EEPROMAddr, []byte{0x00, 0x00}, make([]byte, 1)); err != nil {
		return fmt.Errorf("eeprom: %w", err)
	}
	if b.ECC, err = d.client(b, i2c, lsbus.I2CBoardInfo{Type: "atecc508a", Addr: ECCAddr}); err != nil {
		return err
	}
	if b.SHA, err = d.client(b, i2c, lsbus.I2CBoardInfo{Type: "atsha204a", Addr: SHAAddr}); err != nil {
		return err
	}

	if b.TPMRst, err = lsbus.GetLine(dev, types.LineD, "tpm-slb9670-rst", types.FlagOutLow); err != nil {
		return fmt.Errorf("tpm reset: %w", err)
	}
	rst := b.TPMRst
	b.push(func() { lsbus.PutLine(dev, rst) })
	time.Sleep(tpmResetHold)
	rst.Set(true)

	if b.TPMIRQ, err = lsbus.GetLine(dev, types.LineC, "tpm-slb9670-irq", types.FlagIn); err != nil {
		return fmt.Errorf("tpm irq: %w", err)
	}
	irq := b.TPMIRQ
	b.push(func() { lsbus.PutLine(dev, irq) })

	if b.TPM, err = spi.NewDevice(lsbus.SPIBoardInfo{
		Modalias:   TPMModalias,
		MaxSpeedHz: TPMSpeedHz,
		ChipSelect: TPMCS,
		IRQ:        irq,
	}); err != nil {
		return fmt.Errorf("tpm: %w", err)
	}
	tpm := b.TPM
	b.push(func() { spi.UnregisterDevice(tpm) })
	// TIS read of TPM_ACCESS(0) wakes the chip.
	if err = tpm.Tx([]byte{0x80, 0xd4, 0x00, 0x00}, make([]byte, 4)); err != nil {
		return fmt.Errorf("tpm wake: %w", err)
	}

	d.mu.Lock()
	d.boards[dev] = b
	d.mu.Unlock()
	log.Info().Bool("write_protect", b.WP != nil).Msg("secure96 ready")
	return nil
}

func (d *Driver) client(b *Board, a lsbus.I2CAdapter, info lsbus.I2CBoardInfo) (lsbus.I2CClient, error) {
	c, err := a.NewClient(info)
	if err != nil {
		return nil, fmt.Errorf("%s@0x%02x: %w", info.Type, info.Addr, err)
	}
	b.push(func() { a.UnregisterClient(c) })
	return c, nil
}

// Remove releases everything Probe took, newest first.
func (d *Driver) Remove(dev lsbus.Device) error {
	d.mu.Lock()
	b, ok := d.boards[dev]
	delete(d.boards, dev)
	d.mu.Unlock()
	if !ok {
		return errcode.New(errcode.NotAvailable, "remove", dev.Name()+" not bound to secure96")
	}
	b.teardown()
	d.log.Info().Str("device", dev.Name()).Msg("secure96 removed")
	return nil
}

func (b *Board) push(fn func()) { b.undo = append(b.undo, fn) }

func (b *Board) teardown() {
	for i := len(b.undo) - 1; i >= 0; i-- {
		b.undo[i]()
	}
	b.undo = nil
}
