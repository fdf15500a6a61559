package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/provider/host"
	"lscon-go/types"
)

var _ ResourceProvider = (*host.Provider)(nil)

func node(slots ...types.SlotNode) types.ConnectorNode {
	return types.ConnectorNode{Name: "lscon0", I2C0: "i2c0", I2C1: "i2c1", SPI: "spi0", Mezzanines: slots}
}

type recorder struct {
	lsbus.DriverFuncs
	probed  []string
	removed []string
}

func newRecorder(name string, compatible ...string) *recorder {
	r := &recorder{}
	r.DriverName = name
	r.Compatible = compatible
	r.ProbeFunc = func(d lsbus.Device) error { r.probed = append(r.probed, d.Name()); return nil }
	r.RemoveFunc = func(d lsbus.Device) error { r.removed = append(r.removed, d.Name()); return nil }
	return r
}

func ready(t *testing.T, n types.ConnectorNode, drivers ...lsbus.Driver) (*Connector, *lsbus.Registry, *host.Provider) {
	t.Helper()
	reg := lsbus.NewRegistry()
	for _, d := range drivers {
		require.NoError(t, reg.RegisterDriver(d))
	}
	p := host.New()
	c := New(n, p, reg)
	require.NoError(t, c.Initialize())
	require.NoError(t, c.Populate())
	return c, reg, p
}

func TestInitializeDeferredRollsBack(t *testing.T) {
	for _, ref := range []string{"i2c0", "i2c1", "spi0"} {
		t.Run(ref, func(t *testing.T) {
			reg := lsbus.NewRegistry()
			p := host.New()
			p.SetUnavailable(ref, 1)
			c := New(node(), p, reg)

			err := c.Initialize()
			require.ErrorIs(t, err, errcode.Deferred)
			assert.Equal(t, errcode.Deferred, errcode.Of(err))
			assert.Zero(t, p.HeldTotal())
			assert.Equal(t, StateUninitialized, c.State())
			assert.Nil(t, reg.Root())

			// Retry succeeds once the resource shows up.
			require.NoError(t, c.Initialize())
			assert.Equal(t, 3, p.HeldTotal())
			assert.Equal(t, StateResourcesAcquired, c.State())
		})
	}
}

func TestInitializeMissingReferenceIsTerminal(t *testing.T) {
	p := host.New()
	n := node()
	n.SPI = "spi9"
	c := New(n, p, lsbus.NewRegistry())

	err := c.Initialize()
	require.ErrorIs(t, err, errcode.NotAvailable)
	assert.NotErrorIs(t, err, errcode.Deferred)
	assert.Zero(t, p.HeldTotal())

	n.I2C1 = ""
	err = New(n, p, lsbus.NewRegistry()).Initialize()
	require.ErrorIs(t, err, errcode.NotAvailable)
	assert.Zero(t, p.HeldTotal())
}

func TestInitializeTwiceIsInvalid(t *testing.T) {
	c := New(node(), host.New(), lsbus.NewRegistry())
	require.NoError(t, c.Initialize())
	assert.ErrorIs(t, c.Initialize(), errcode.InvalidState)
}

func TestSecondConnectorCannotTakeRoot(t *testing.T) {
	reg := lsbus.NewRegistry()
	p := host.New()
	require.NoError(t, New(node(), p, reg).Initialize())

	n := node()
	n.Name = "lscon1"
	err := New(n, p, reg).Initialize()
	require.ErrorIs(t, err, errcode.Conflict)
	assert.Equal(t, 3, p.HeldTotal())
}

func TestPopulateBeforeInitialize(t *testing.T) {
	c := New(node(), host.New(), lsbus.NewRegistry())
	assert.ErrorIs(t, c.Populate(), errcode.InvalidState)
}

func TestPopulateAssignsDistinctIdentifiers(t *testing.T) {
	slots := []types.SlotNode{{}, {Name: "front"}, {}, {}}
	c, _, _ := ready(t, node(slots...))

	devs := c.Devices()
	require.Len(t, devs, len(slots))
	seen := map[int]bool{}
	for _, d := range devs {
		assert.GreaterOrEqual(t, d.ID, 0)
		assert.Less(t, d.ID, len(slots))
		assert.False(t, seen[d.ID])
		seen[d.ID] = true
		assert.False(t, d.Injected)
	}
	assert.Equal(t, "mezzanine0", devs[0].Name)
	assert.Equal(t, "front", devs[1].Name)
	assert.Equal(t, "mezzanine2", devs[2].Name)
	assert.Equal(t, StatePopulated, c.State())
}

func TestPopulateSkipsDisabledSlots(t *testing.T) {
	c, _, _ := ready(t, node(types.SlotNode{}, types.SlotNode{Disabled: true}, types.SlotNode{}))
	devs := c.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, "mezzanine1", devs[1].Name)
}

func TestOnlySecondSlotBinds(t *testing.T) {
	drv := newRecorder("secure96", "96boards,secure96")
	c, _, _ := ready(t, node(
		types.SlotNode{Compatible: []string{"96boards,iotfoundation"}},
		types.SlotNode{Compatible: []string{"96boards,secure96"}},
	), drv)

	assert.Equal(t, []string{"secure96"}, c.ListSupported())
	assert.Equal(t, []string{"mezzanine1"}, drv.probed)
	devs := c.Devices()
	assert.Empty(t, devs[0].Driver)
	assert.Equal(t, "secure96", devs[1].Driver)
}

func TestProbeFailureDoesNotStopPopulation(t *testing.T) {
	var probed []string
	drv := &lsbus.DriverFuncs{
		DriverName: "flaky",
		Compatible: []string{"acme,flaky"},
		ProbeFunc: func(d lsbus.Device) error {
			probed = append(probed, d.Name())
			if d.ID() == 0 {
				return errors.New("eeprom did not answer")
			}
			return nil
		},
	}
	c, _, _ := ready(t, node(
		types.SlotNode{Compatible: []string{"acme,flaky"}},
		types.SlotNode{Compatible: []string{"acme,flaky"}},
	), drv)

	assert.Equal(t, []string{"mezzanine0", "mezzanine1"}, probed)
	devs := c.Devices()
	require.Len(t, devs, 2)
	assert.Empty(t, devs[0].Driver)
	assert.Equal(t, "flaky", devs[1].Driver)
}

func TestPopulateExhaustedPoolSkipsSlot(t *testing.T) {
	reg := lsbus.NewRegistry(lsbus.WithMaxDevices(1))
	c := New(node(types.SlotNode{}, types.SlotNode{}), host.New(), reg)
	require.NoError(t, c.Initialize())
	require.NoError(t, c.Populate())
	assert.Len(t, c.Devices(), 1)
}

func TestTeardownReleasesEverything(t *testing.T) {
	drv := newRecorder("secure96", "96boards,secure96")
	c, reg, p := ready(t, node(types.SlotNode{Compatible: []string{"96boards,secure96"}}, types.SlotNode{}), drv)
	require.NoError(t, c.Inject("secure96"))
	require.Len(t, c.Devices(), 3)

	c.Teardown()
	assert.Empty(t, c.Devices())
	assert.Equal(t, []string{"mezzanine0", "secure96"}, drv.removed)
	assert.Zero(t, p.HeldTotal())
	assert.Nil(t, reg.Root())
	for id := 0; id < 3; id++ {
		assert.False(t, reg.IDInUse(id))
	}
	assert.Equal(t, StateTornDown, c.State())

	// Idempotent, and nothing works afterwards.
	c.Teardown()
	assert.ErrorIs(t, c.Initialize(), errcode.InvalidState)
	assert.ErrorIs(t, c.Inject("secure96"), errcode.InvalidState)
}

func TestTeardownSurvivesRemovePanic(t *testing.T) {
	drv := &lsbus.DriverFuncs{
		DriverName: "boom",
		RemoveFunc: func(lsbus.Device) error { panic("double free") },
	}
	c, reg, p := ready(t, node(types.SlotNode{Name: "boom"}), drv)
	c.Teardown()
	_, ok := reg.FindDeviceByName("boom")
	assert.False(t, ok)
	assert.False(t, reg.IDInUse(0))
	assert.Zero(t, p.HeldTotal())
}

func TestTeardownReclaimsLeakedLeases(t *testing.T) {
	drv := &lsbus.DriverFuncs{
		DriverName: "leaky",
		ProbeFunc: func(d lsbus.Device) error {
			_, err := lsbus.GetLine(d, types.LineF, "leaky-led", types.FlagOutLow)
			return err
		},
	}
	c, _, p := ready(t, node(types.SlotNode{Name: "leaky", Lines: []types.LineID{types.LineF}}), drv)
	require.True(t, p.Line(types.LineF).Requested())
	require.Len(t, c.Leases(), 1)

	c.Teardown()
	assert.False(t, p.Line(types.LineF).Requested())
	assert.Empty(t, c.Leases())
}

func TestBootRetriesDeferred(t *testing.T) {
	p := host.New()
	p.SetUnavailable("i2c1", 2)
	c := New(node(types.SlotNode{}), p, lsbus.NewRegistry())

	err := Boot(context.Background(), c, Retry{Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, StatePopulated, c.State())
	assert.Len(t, c.Devices(), 1)
}

func TestBootGivesUp(t *testing.T) {
	p := host.New()
	p.SetUnavailable("spi0", -1)
	c := New(node(), p, lsbus.NewRegistry())

	err := Boot(context.Background(), c, Retry{Backoff: time.Millisecond, MaxAttempts: 3})
	require.ErrorIs(t, err, errcode.Deferred)
	assert.Zero(t, p.HeldTotal())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Boot(ctx, c, Retry{Backoff: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}
