package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLine(t *testing.T) {
	for in, want := range map[string]LineID{
		"A": LineA, "f": LineF, "GPIO-L": LineL, "gpio_c": LineC, " d ": LineD,
	} {
		got, err := ParseLine(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "M", "GPIO-", "AA"} {
		_, err := ParseLine(bad)
		assert.Error(t, err, bad)
	}
}

func TestLineString(t *testing.T) {
	assert.Equal(t, "A", LineA.String())
	assert.Equal(t, "L", LineL.String())
	assert.Equal(t, "LineID(12)", LineID(12).String())
}

func TestTopologyYAML(t *testing.T) {
	src := `
connector:
  name: lscon
  i2c0: i2c0
  i2c1: i2c1
  spi: spi0
  mezzanines:
    - compatible: ["96boards,secure96"]
      lines: [B, C, D, F, G, H, I]
    - name: spare
      disabled: true
`
	var topo Topology
	require.NoError(t, yaml.Unmarshal([]byte(src), &topo))
	require.Len(t, topo.Connector.Mezzanines, 2)

	s0 := &topo.Connector.Mezzanines[0]
	assert.True(t, s0.Available())
	assert.True(t, s0.Routes(LineF))
	assert.False(t, s0.Routes(LineA))
	assert.False(t, topo.Connector.Mezzanines[1].Available())

	assert.Equal(t, []LineID{LineA, LineE, LineJ, LineK, LineL}, topo.Connector.Unrouted())
}

func TestTopologyYAMLRejectsUnknownLine(t *testing.T) {
	var topo Topology
	err := yaml.Unmarshal([]byte("connector:\n  mezzanines:\n    - lines: [Z]\n"), &topo)
	assert.Error(t, err)
}

func TestLineFlags(t *testing.T) {
	assert.True(t, FlagOutHigh.IsOutput())
	assert.True(t, FlagOutHigh.Initial())
	assert.False(t, FlagOutLow.Initial())
	assert.False(t, FlagIn.IsOutput())
	assert.Equal(t, "out-low", FlagOutLow.String())
}
