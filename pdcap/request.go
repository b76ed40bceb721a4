package pdcap

import (
	"fmt"

	"github.com/oxplot/pdmux/pdmsg"
)

// Request asks a source for power from one of its advertised capabilities.
type Request struct {
	typ      pdmsg.SupplyType
	voltage  uint32 // mV
	power    uint32 // mW
	position uint8  // 1 based object position
}

// NewRequest builds a request for power milliwatts from c.
func NewRequest(c SourceCapability, power uint32) Request {
	return Request{
		typ:      c.Type(),
		voltage:  c.Voltage(),
		power:    power,
		position: c.Index() + 1,
	}
}

// Power returns the requested power in milliwatts.
func (r Request) Power() uint32 { return r.power }

// Voltage returns the voltage of the requested capability in millivolts.
func (r Request) Voltage() uint32 { return r.voltage }

// ObjectPosition returns the 1 based position of the requested capability.
func (r Request) ObjectPosition() uint8 { return r.position }

// Current returns the operating current implied by the request in
// milliamps, 0 for battery and empty requests.
func (r Request) Current() uint32 {
	switch r.typ {
	case pdmsg.SupplyFixed, pdmsg.SupplyVariable:
		return currentFor(r.power, r.voltage)
	}
	return 0
}

// GeneratePDO returns the request data object sent on the wire. Operating
// and maximum fields are always equal. An empty request returns
// pdmsg.EmptyRequestDO.
func (r Request) GeneratePDO() pdmsg.RequestDO {
	rdo := pdmsg.EmptyRequestDO
	switch r.typ {
	case pdmsg.SupplyFixed, pdmsg.SupplyVariable:
		c := r.Current()
		rdo.SetFixedMaxOperatingCurrent(c)
		rdo.SetFixedOperatingCurrent(c)
	case pdmsg.SupplyBattery:
		rdo.SetBatteryMaxOperatingPower(r.power)
		rdo.SetBatteryOperatingPower(r.power)
	default:
		return rdo
	}
	rdo.SetSelectedObjectPosition(r.position)
	return rdo
}

func (r Request) String() string {
	return fmt.Sprintf("obj %d %s %dmV %dmW", r.position, r.typ, r.voltage, r.power)
}
