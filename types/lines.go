package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LineID names one of the twelve low-speed signal lines, GPIO-A..GPIO-L.
type LineID uint8

const (
	LineA LineID = iota
	LineB
	LineC
	LineD
	LineE
	LineF
	LineG
	LineH
	LineI
	LineJ
	LineK
	LineL

	NumLines = 12
)

// Valid reports whether l is one of A..L.
func (l LineID) Valid() bool { return l < NumLines }

func (l LineID) String() string {
	if !l.Valid() {
		return fmt.Sprintf("LineID(%d)", uint8(l))
	}
	return string(rune('A' + l))
}

// ParseLine accepts "F", "f", "GPIO-F" or "gpio_f".
func ParseLine(s string) (LineID, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	u = strings.TrimPrefix(u, "GPIO-")
	u = strings.TrimPrefix(u, "GPIO_")
	if len(u) == 1 && u[0] >= 'A' && u[0] < 'A'+NumLines {
		return LineID(u[0] - 'A'), nil
	}
	return 0, fmt.Errorf("unknown signal line %q", s)
}

func (l *LineID) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode signal line: %w", err)
	}
	id, err := ParseLine(raw)
	if err != nil {
		return err
	}
	*l = id
	return nil
}

func (l LineID) MarshalYAML() (interface{}, error) { return l.String(), nil }

// LineFlags sets direction and initial level at request time.
type LineFlags uint8

const (
	FlagAsIs LineFlags = iota
	FlagIn
	FlagOutLow
	FlagOutHigh
)

func (f LineFlags) IsOutput() bool { return f == FlagOutLow || f == FlagOutHigh }

// Initial is the level driven on an output request.
func (f LineFlags) Initial() bool { return f == FlagOutHigh }

func (f LineFlags) String() string {
	switch f {
	case FlagIn:
		return "in"
	case FlagOutLow:
		return "out-low"
	case FlagOutHigh:
		return "out-high"
	default:
		return "as-is"
	}
}
