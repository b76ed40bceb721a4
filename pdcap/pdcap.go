// Package pdcap converts raw source power data objects into capabilities in
// engineering units (mV, mA, mW) and builds the request data object for a
// chosen capability.
package pdcap

import (
	"fmt"

	"github.com/oxplot/pdmux/pdmsg"
)

// MaxCapabilities is the number of capabilities a source may advertise in one
// Source_Capabilities message.
const MaxCapabilities = pdmsg.MaxDataObjects

// SourceCapability is a decoded source power data object. It is immutable
// once built. The zero value is an empty capability of reserved type.
type SourceCapability struct {
	typ     pdmsg.SupplyType
	known   bool
	voltage uint32 // mV
	current uint32 // mA
	power   uint32 // mW
	index   uint8  // 0 based position in the advertisement
}

// FromPDO decodes raw at position index of an advertisement. Reserved and
// unknown supply types give an empty capability that keeps only its index.
func FromPDO(raw pdmsg.PDO, index uint8) SourceCapability {
	c := SourceCapability{index: index}
	switch raw.Type() {
	case pdmsg.SupplyFixed:
		o := pdmsg.FixedSupplyPDO(raw)
		c.voltage = o.Voltage()
		c.current = o.MaxCurrent()
		c.power = c.voltage * c.current / 1000
	case pdmsg.SupplyBattery:
		o := pdmsg.BatteryPDO(raw)
		c.voltage = median(o.MinVoltage(), o.MaxVoltage())
		c.power = o.MaxPower()
		c.current = currentFor(c.power, c.voltage)
	case pdmsg.SupplyVariable:
		o := pdmsg.VariablePDO(raw)
		c.voltage = median(o.MinVoltage(), o.MaxVoltage())
		c.power = c.voltage * o.MaxCurrent() / 1000
		c.current = currentFor(c.power, c.voltage)
	default:
		return c
	}
	c.typ = raw.Type()
	c.known = true
	return c
}

// median of two voltages that are both multiples of 50mV, kept on the 50mV
// grid.
func median(a, b uint32) uint32 {
	return (a/50 + b/50) / 2 * 50
}

func currentFor(power, voltage uint32) uint32 {
	if voltage == 0 {
		return 0
	}
	return power * 1000 / voltage
}

// Type returns the supply type, SupplyReserved for an empty capability.
func (c SourceCapability) Type() pdmsg.SupplyType {
	if !c.known {
		return pdmsg.SupplyReserved
	}
	return c.typ
}

// IsEmpty reports whether the capability holds no usable supply.
func (c SourceCapability) IsEmpty() bool {
	return !c.known
}

// IsBattery reports whether the capability is a battery supply.
func (c SourceCapability) IsBattery() bool {
	return c.known && c.typ == pdmsg.SupplyBattery
}

// Voltage returns the nominal voltage in millivolts.
func (c SourceCapability) Voltage() uint32 { return c.voltage }

// Current returns the maximum current in milliamps.
func (c SourceCapability) Current() uint32 { return c.current }

// MaxPower returns the maximum power in milliwatts.
func (c SourceCapability) MaxPower() uint32 { return c.power }

// Index returns the 0 based position of the capability in its
// advertisement.
func (c SourceCapability) Index() uint8 { return c.index }

func (c SourceCapability) String() string {
	if !c.known {
		return fmt.Sprintf("#%d none", c.index)
	}
	return fmt.Sprintf("#%d %s %dmV %dmA %dmW", c.index, c.typ, c.voltage, c.current, c.power)
}

// SourceCapabilities is the bounded, ordered set of capabilities advertised
// by one source. It is a value: every advertisement produces a new set.
type SourceCapabilities struct {
	caps  [MaxCapabilities]SourceCapability
	count uint8
}

// FromPDOs decodes an advertisement. Objects beyond MaxCapabilities are
// dropped.
func FromPDOs(raws []pdmsg.PDO) SourceCapabilities {
	var s SourceCapabilities
	if len(raws) > MaxCapabilities {
		raws = raws[:MaxCapabilities]
	}
	for i, r := range raws {
		s.caps[i] = FromPDO(r, uint8(i))
	}
	s.count = uint8(len(raws))
	return s
}

// Count returns the number of capabilities in the set.
func (s SourceCapabilities) Count() int { return int(s.count) }

// Empty reports whether the set holds no capability.
func (s SourceCapabilities) Empty() bool { return s.count == 0 }

// At returns the capability at advertisement position i.
func (s SourceCapabilities) At(i int) SourceCapability { return s.caps[i] }

// Caps returns a copy of the capabilities in advertisement order.
func (s SourceCapabilities) Caps() []SourceCapability {
	out := make([]SourceCapability, s.count)
	copy(out, s.caps[:s.count])
	return out
}
