package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lscon-go/errcode"
	"lscon-go/lsbus"
	"lscon-go/provider/host"
	"lscon-go/telemetry"
	"lscon-go/types"
)

func TestInjectUnknownNameIsNoop(t *testing.T) {
	c, _, _ := ready(t, node(types.SlotNode{}))
	before := len(c.Devices())

	require.NoError(t, c.Inject("secure96"))
	require.NoError(t, c.Inject(""))
	require.NoError(t, c.Inject("  \n"))
	assert.Len(t, c.Devices(), before)
}

func TestInjectThenEject(t *testing.T) {
	drv := newRecorder("secure96", "96boards,secure96")
	c, reg, _ := ready(t, node(types.SlotNode{}), drv)

	require.NoError(t, c.Inject("secure96\n"))
	devs := c.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, DeviceInfo{ID: 1, Name: "secure96", Driver: "secure96", Injected: true}, devs[1])
	assert.Equal(t, []string{"secure96"}, drv.probed)

	require.NoError(t, c.Eject(" secure96 "))
	assert.Len(t, c.Devices(), 1)
	assert.Equal(t, []string{"secure96"}, drv.removed)
	assert.False(t, reg.IDInUse(1))

	// Ejecting again is harmless.
	require.NoError(t, c.Eject("secure96"))

	// The identifier is reusable and the driver is probed exactly once more.
	require.NoError(t, c.Inject("secure96"))
	devs = c.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, 1, devs[1].ID)
	assert.Equal(t, []string{"secure96", "secure96"}, drv.probed)
}

func TestInjectDuplicateConflicts(t *testing.T) {
	drv := newRecorder("secure96")
	c, reg, _ := ready(t, node(), drv)
	require.NoError(t, c.Inject("secure96"))
	err := c.Inject("secure96")
	require.ErrorIs(t, err, errcode.Conflict)
	assert.Len(t, c.Devices(), 1)
	assert.False(t, reg.IDInUse(1))
}

func TestInjectProbeFailureKeepsDevice(t *testing.T) {
	drv := &lsbus.DriverFuncs{
		DriverName: "broken",
		ProbeFunc:  func(lsbus.Device) error { return errcode.New(errcode.Conflict, "probe", "line busy") },
	}
	c, _, _ := ready(t, node(), drv)
	err := c.Inject("broken")
	require.ErrorIs(t, err, errcode.ProbeFailed)
	devs := c.Devices()
	require.Len(t, devs, 1)
	assert.Empty(t, devs[0].Driver)

	require.NoError(t, c.Eject("broken"))
	assert.Empty(t, c.Devices())
}

func TestEjectDeclaredDevice(t *testing.T) {
	drv := newRecorder("secure96", "96boards,secure96")
	c, _, _ := ready(t, node(types.SlotNode{Compatible: []string{"96boards,secure96"}}), drv)
	require.NoError(t, c.Eject("mezzanine0"))
	assert.Empty(t, c.Devices())
	assert.Equal(t, []string{"mezzanine0"}, drv.removed)
}

func TestControlBeforeInitialize(t *testing.T) {
	c := New(node(), host.New(), lsbus.NewRegistry())
	assert.ErrorIs(t, c.Inject("secure96"), errcode.InvalidState)
	assert.ErrorIs(t, c.Eject("secure96"), errcode.InvalidState)
}

func TestAttributes(t *testing.T) {
	c, _, _ := ready(t, node(), newRecorder("secure96"), newRecorder("iotfoundation"))

	out, err := c.ReadAttr("supported")
	require.NoError(t, err)
	assert.Equal(t, "secure96\niotfoundation\n", out)

	require.NoError(t, c.WriteAttr("inject", "iotfoundation\n"))
	require.Len(t, c.Devices(), 1)
	require.NoError(t, c.WriteAttr("eject", "iotfoundation\n"))
	assert.Empty(t, c.Devices())

	assert.ErrorIs(t, c.WriteAttr("supported", "x"), errcode.InvalidParams)
	_, err = c.ReadAttr("inject")
	assert.ErrorIs(t, err, errcode.InvalidParams)
	_, err = c.ReadAttr("power")
	assert.ErrorIs(t, err, errcode.InvalidParams)

	modes := map[string]uint32{}
	for _, a := range c.Attributes() {
		modes[a.Name] = uint32(a.Mode)
	}
	assert.Equal(t, map[string]uint32{"supported": 0o444, "inject": 0o644, "eject": 0o644}, modes)
}

type controlCounts struct {
	telemetry.Collector
	got map[string]int
}

func (c *controlCounts) IncControl(op, outcome string) { c.got[op+"/"+outcome]++ }

func TestControlMetrics(t *testing.T) {
	m := &controlCounts{Collector: telemetry.Noop(), got: map[string]int{}}
	reg := lsbus.NewRegistry()
	require.NoError(t, reg.RegisterDriver(newRecorder("secure96")))
	c := New(node(), host.New(), reg, WithCollector(m))
	require.NoError(t, c.Initialize())
	require.NoError(t, c.Populate())

	require.NoError(t, c.Inject("nothing"))
	require.NoError(t, c.Inject("secure96"))
	require.NoError(t, c.Eject("secure96"))
	require.NoError(t, c.Eject("secure96"))

	assert.Equal(t, map[string]int{"inject/ignored": 1, "inject/ok": 1, "eject/ok": 1, "eject/ignored": 1}, m.got)
}
