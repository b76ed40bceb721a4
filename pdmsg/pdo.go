package pdmsg

// PDO is a generic Power Data Object. Based on its type, it should be
// converted to specific PDO type to allow extracting various fields.
type PDO uint32

// Type returns the supply type held in the top two bits.
func (o PDO) Type() SupplyType {
	return SupplyType((o >> 30) & 0b11)
}

// SupplyType represents the type of a power data object.
type SupplyType uint8

// Power data object types.
const (
	SupplyFixed    SupplyType = 0b00
	SupplyBattery  SupplyType = 0b01
	SupplyVariable SupplyType = 0b10
	SupplyReserved SupplyType = 0b11
)

func (t SupplyType) String() string {
	switch t {
	case SupplyFixed:
		return "fixed"
	case SupplyBattery:
		return "battery"
	case SupplyVariable:
		return "variable"
	default:
		return "reserved"
	}
}

const tenBits = 1<<10 - 1

func field10(v uint32, shift uint) uint32 {
	return (v >> shift) & tenBits
}

func setField10(v uint32, shift uint, f uint32) uint32 {
	if f > tenBits {
		f = tenBits
	}
	return (v & ^(uint32(tenBits) << shift)) | f<<shift
}

func bit(v uint32, n uint) bool {
	return v&(1<<n) != 0
}

func setBit(v uint32, n uint, b bool) uint32 {
	if b {
		return v | 1<<n
	}
	return v & ^(uint32(1) << n)
}

// FixedSupplyPDO represents a Fixed Supply Power Data Object.
//
//	bits 0-9   max current in 10mA units
//	bits 10-19 voltage in 50mV units
//	bits 20-21 peak current
//	bits 22-24 reserved
//	bit  25    dual role data
//	bit  26    USB communications capable
//	bit  27    unconstrained power
//	bit  28    USB suspend supported
//	bit  29    dual role power
//	bits 30-31 supply type (00)
type FixedSupplyPDO uint32

// NewFixedSupplyPDO returns a fixed supply PDO advertising v millivolts at up
// to c milliamps.
func NewFixedSupplyPDO(v, c uint32) FixedSupplyPDO {
	var o FixedSupplyPDO
	o.SetVoltage(v)
	o.SetMaxCurrent(c)
	return o
}

// Voltage returns voltage in millivolts.
func (o FixedSupplyPDO) Voltage() uint32 {
	return field10(uint32(o), 10) * 50
}

// SetVoltage will round the given voltage down to a multiple of 50mV.
func (o *FixedSupplyPDO) SetVoltage(v uint32) {
	*o = FixedSupplyPDO(setField10(uint32(*o), 10, v/50))
}

// MaxCurrent returns maximum current in milliamps.
func (o FixedSupplyPDO) MaxCurrent() uint32 {
	return field10(uint32(o), 0) * 10
}

// SetMaxCurrent will round the given current down to a multiple of 10mA.
func (o *FixedSupplyPDO) SetMaxCurrent(c uint32) {
	*o = FixedSupplyPDO(setField10(uint32(*o), 0, c/10))
}

// PeakCurrent returns the raw 2 bit peak current overload capability.
func (o FixedSupplyPDO) PeakCurrent() uint8 {
	return uint8((o >> 20) & 0b11)
}

// DualRoleData reports the dual role data flag.
func (o FixedSupplyPDO) DualRoleData() bool { return bit(uint32(o), 25) }

// USBCommCapable reports the USB communications capable flag.
func (o FixedSupplyPDO) USBCommCapable() bool { return bit(uint32(o), 26) }

// UnconstrainedPower reports the unconstrained power flag.
func (o FixedSupplyPDO) UnconstrainedPower() bool { return bit(uint32(o), 27) }

// SuspendSupported reports the USB suspend supported flag.
func (o FixedSupplyPDO) SuspendSupported() bool { return bit(uint32(o), 28) }

// DualRolePower reports the dual role power flag.
func (o FixedSupplyPDO) DualRolePower() bool { return bit(uint32(o), 29) }

// SetUnconstrainedPower sets the unconstrained power flag.
func (o *FixedSupplyPDO) SetUnconstrainedPower(b bool) {
	*o = FixedSupplyPDO(setBit(uint32(*o), 27, b))
}

// BatteryPDO represents a Battery Supply Power Data Object.
//
//	bits 0-9   max power in 250mW units
//	bits 10-19 min voltage in 50mV units
//	bits 20-29 max voltage in 50mV units
//	bits 30-31 supply type (01)
type BatteryPDO uint32

// NewBatteryPDO returns a battery PDO spanning minV..maxV millivolts with p
// milliwatts available.
func NewBatteryPDO(minV, maxV, p uint32) BatteryPDO {
	o := BatteryPDO(uint32(SupplyBattery) << 30)
	o.SetMinVoltage(minV)
	o.SetMaxVoltage(maxV)
	o.SetMaxPower(p)
	return o
}

// MaxPower returns maximum power in milliwatts.
func (o BatteryPDO) MaxPower() uint32 {
	return field10(uint32(o), 0) * 250
}

// SetMaxPower rounds p down to a multiple of 250mW.
func (o *BatteryPDO) SetMaxPower(p uint32) {
	*o = BatteryPDO(setField10(uint32(*o), 0, p/250))
}

// MinVoltage returns minimum voltage in millivolts.
func (o BatteryPDO) MinVoltage() uint32 {
	return field10(uint32(o), 10) * 50
}

// SetMinVoltage rounds v down to a multiple of 50mV.
func (o *BatteryPDO) SetMinVoltage(v uint32) {
	*o = BatteryPDO(setField10(uint32(*o), 10, v/50))
}

// MaxVoltage returns maximum voltage in millivolts.
func (o BatteryPDO) MaxVoltage() uint32 {
	return field10(uint32(o), 20) * 50
}

// SetMaxVoltage rounds v down to a multiple of 50mV.
func (o *BatteryPDO) SetMaxVoltage(v uint32) {
	*o = BatteryPDO(setField10(uint32(*o), 20, v/50))
}

// VariablePDO represents a Variable Supply (non-battery) Power Data Object.
//
//	bits 0-9   max current in 10mA units
//	bits 10-19 min voltage in 50mV units
//	bits 20-29 max voltage in 50mV units
//	bits 30-31 supply type (10)
type VariablePDO uint32

// NewVariablePDO returns a variable supply PDO spanning minV..maxV millivolts
// at up to c milliamps.
func NewVariablePDO(minV, maxV, c uint32) VariablePDO {
	o := VariablePDO(uint32(SupplyVariable) << 30)
	o.SetMinVoltage(minV)
	o.SetMaxVoltage(maxV)
	o.SetMaxCurrent(c)
	return o
}

// MaxCurrent returns maximum current in milliamps.
func (o VariablePDO) MaxCurrent() uint32 {
	return field10(uint32(o), 0) * 10
}

// SetMaxCurrent rounds c down to a multiple of 10mA.
func (o *VariablePDO) SetMaxCurrent(c uint32) {
	*o = VariablePDO(setField10(uint32(*o), 0, c/10))
}

// MinVoltage returns minimum voltage in millivolts.
func (o VariablePDO) MinVoltage() uint32 {
	return field10(uint32(o), 10) * 50
}

// SetMinVoltage rounds v down to a multiple of 50mV.
func (o *VariablePDO) SetMinVoltage(v uint32) {
	*o = VariablePDO(setField10(uint32(*o), 10, v/50))
}

// MaxVoltage returns maximum voltage in millivolts.
func (o VariablePDO) MaxVoltage() uint32 {
	return field10(uint32(o), 20) * 50
}

// SetMaxVoltage rounds v down to a multiple of 50mV.
func (o *VariablePDO) SetMaxVoltage(v uint32) {
	*o = VariablePDO(setField10(uint32(*o), 20, v/50))
}

// RequestDO represents a Request Data Object. The lower 20 bits are read as
// currents for fixed and variable supplies, and as powers for batteries.
//
//	bits 0-9   max operating current (10mA) / max operating power (250mW)
//	bits 10-19 operating current (10mA) / operating power (250mW)
//	bits 20-23 reserved
//	bit  24    no USB suspend
//	bit  25    USB communications capable
//	bit  26    capability mismatch
//	bit  27    give back
//	bits 28-30 object position
//	bit  31    reserved
type RequestDO uint32

// EmptyRequestDO carries no selected object.
const EmptyRequestDO RequestDO = 0

// SelectedObjectPosition returns the position number of the PDO in the source
// capability message, starting at 1.
func (o RequestDO) SelectedObjectPosition() uint8 {
	return uint8((o >> 28) & 0b111)
}

// SetSelectedObjectPosition sets the position number of the PDO the source
// capability message, starting at 1.
func (o *RequestDO) SetSelectedObjectPosition(p uint8) {
	*o = (*o & ^(RequestDO(0b111) << 28)) | RequestDO(p&0b111)<<28
}

// FixedMaxOperatingCurrent returns current in milliamps for fixed and
// variable request objects.
func (o RequestDO) FixedMaxOperatingCurrent() uint32 {
	return field10(uint32(o), 0) * 10
}

// SetFixedMaxOperatingCurrent sets current in milliamps rounded down to a
// multiple of 10mA.
func (o *RequestDO) SetFixedMaxOperatingCurrent(c uint32) {
	*o = RequestDO(setField10(uint32(*o), 0, c/10))
}

// FixedOperatingCurrent returns current in milliamps for fixed and variable
// request objects.
func (o RequestDO) FixedOperatingCurrent() uint32 {
	return field10(uint32(o), 10) * 10
}

// SetFixedOperatingCurrent sets current in milliamps rounded down to a
// multiple of 10mA.
func (o *RequestDO) SetFixedOperatingCurrent(c uint32) {
	*o = RequestDO(setField10(uint32(*o), 10, c/10))
}

// BatteryMaxOperatingPower returns power in milliwatts for battery request
// objects.
func (o RequestDO) BatteryMaxOperatingPower() uint32 {
	return field10(uint32(o), 0) * 250
}

// SetBatteryMaxOperatingPower sets power in milliwatts rounded down to a
// multiple of 250mW.
func (o *RequestDO) SetBatteryMaxOperatingPower(p uint32) {
	*o = RequestDO(setField10(uint32(*o), 0, p/250))
}

// BatteryOperatingPower returns power in milliwatts for battery request
// objects.
func (o RequestDO) BatteryOperatingPower() uint32 {
	return field10(uint32(o), 10) * 250
}

// SetBatteryOperatingPower sets power in milliwatts rounded down to a
// multiple of 250mW.
func (o *RequestDO) SetBatteryOperatingPower(p uint32) {
	*o = RequestDO(setField10(uint32(*o), 10, p/250))
}

// NoUSBSuspend returns the no USB suspend flag.
func (o RequestDO) NoUSBSuspend() bool { return bit(uint32(o), 24) }

// SetNoUSBSuspend sets the no USB suspend flag.
func (o *RequestDO) SetNoUSBSuspend(b bool) { *o = RequestDO(setBit(uint32(*o), 24, b)) }

// USBCommCapable returns the USB communications capable flag.
func (o RequestDO) USBCommCapable() bool { return bit(uint32(o), 25) }

// SetUSBCommCapable sets the USB communications capable flag.
func (o *RequestDO) SetUSBCommCapable(b bool) { *o = RequestDO(setBit(uint32(*o), 25, b)) }

// CapabilityMismatch returns true if capability mismatch flag of the RDO is
// set.
func (o RequestDO) CapabilityMismatch() bool { return bit(uint32(o), 26) }

// SetCapabilityMismatch sets the capability mismatch flag of the RDO.
func (o *RequestDO) SetCapabilityMismatch(b bool) { *o = RequestDO(setBit(uint32(*o), 26, b)) }

// GiveBack returns the give back flag.
func (o RequestDO) GiveBack() bool { return bit(uint32(o), 27) }

// SetGiveBack sets the give back flag.
func (o *RequestDO) SetGiveBack(b bool) { *o = RequestDO(setBit(uint32(*o), 27, b)) }
