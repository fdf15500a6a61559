package connector

import (
	"lscon-go/lsbus"
	"lscon-go/types"
)

// ResourceProvider supplies the upstream handles a connector bridges.
//
// A lookup that cannot be satisfied yet returns errcode.Unavailable; the
// connector turns that into errcode.Deferred and expects to be retried.
// Any other error is terminal for the attempt. Every handle obtained from
// a lookup is handed back with the matching Put call.
type ResourceProvider interface {
	LookupBus(ref string) (lsbus.I2CAdapter, error)
	PutBus(a lsbus.I2CAdapter)
	LookupController(ref string) (lsbus.SPIController, error)
	PutController(c lsbus.SPIController)
	LineProvider
}

// LineProvider requests individual signal lines. flags are applied as
// part of the request so the line never floats in between.
type LineProvider interface {
	RequestLine(id types.LineID, consumer string, flags types.LineFlags) (lsbus.Line, error)
	FreeLine(l lsbus.Line)
}
