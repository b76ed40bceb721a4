// Package pdmsg defines types to encode and decode USB Power Delivery
// messages exchanged by a sink: the message header, the source power data
// objects and the request data object.
//
// All layouts are bit-exact with the PD 2.0 wire format. Values are plain
// named integers with accessor methods so that no structure layout is ever
// relied upon.
package pdmsg

const (
	// MaxDataObjects is the maximum number of data objects that can be stored in
	// a message, as set by the standard.
	MaxDataObjects = 7

	// MaxMessageBytes is the maximum number of bytes in a message which includes
	// the header and the data objects.
	MaxMessageBytes = 2 + 4*MaxDataObjects

	// MaxFrameBytes is the size of a received frame buffer. It leaves room for
	// the trailing CRC some transports hand over with the message.
	MaxFrameBytes = 32
)

// Header is the 16 bit PD message header.
//
//	bits 0-3   message type
//	bit  4     reserved
//	bit  5     port data role
//	bits 6-7   specification revision
//	bit  8     port power role
//	bits 9-11  message ID
//	bits 12-14 number of data objects
//	bit  15    reserved (extended)
type Header uint16

// NewHeader returns a header for a sink/UFP sender at revision 2.0.
func NewHeader(t Type, id uint8, count uint8) Header {
	var h Header
	h.SetType(t)
	h.SetRevision(Revision20)
	h.SetPowerRole(PowerRoleSink)
	h.SetDataRole(DataRoleUFP)
	h.SetID(id)
	h.SetDataObjectCount(count)
	return h
}

// Type returns the message type. As data and control messages share the same
// value of some types, the user must check IsData in addition to Type, to
// determine the correct type of the message.
func (h Header) Type() Type {
	return Type(h & 0b1111)
}

// SetType sets the message type.
func (h *Header) SetType(t Type) {
	*h = (*h & ^Header(0b1111)) | Header(t&0b1111)
}

// DataRole returns the data role of the sender of the message.
func (h Header) DataRole() DataRole {
	return DataRole((h >> 5) & 1)
}

// SetDataRole sets the data role of the sender of the message.
func (h *Header) SetDataRole(r DataRole) {
	*h = (*h & ^(Header(1) << 5)) | Header(r&1)<<5
}

// Revision returns the power delivery revision number of the message.
func (h Header) Revision() Revision {
	return Revision((h >> 6) & 0b11)
}

// SetRevision sets the power delivery revision number of the message.
func (h *Header) SetRevision(r Revision) {
	*h = (*h & ^(Header(0b11) << 6)) | Header(r&0b11)<<6
}

// PowerRole returns the power role of the sender of the message.
func (h Header) PowerRole() PowerRole {
	return PowerRole((h >> 8) & 1)
}

// SetPowerRole sets the power role of the sender of the message.
func (h *Header) SetPowerRole(r PowerRole) {
	*h = (*h & ^(Header(1) << 8)) | Header(r&1)<<8
}

// ID returns the message ID.
func (h Header) ID() uint8 {
	return uint8((h >> 9) & 0b111)
}

// SetID sets the message ID. Only the lowest 3 bits are kept.
func (h *Header) SetID(id uint8) {
	*h = (*h & ^(Header(0b111) << 9)) | Header(id&0b111)<<9
}

// DataObjectCount returns the number of data objects in the message.
func (h Header) DataObjectCount() uint8 {
	return uint8((h >> 12) & 0b111)
}

// SetDataObjectCount sets the number of data objects in the message.
func (h *Header) SetDataObjectCount(n uint8) {
	*h = (*h & ^(Header(0b111) << 12)) | Header(n&0b111)<<12
}

// IsData returns true of the message is a data message, otherwise it's a
// control message.
func (h Header) IsData() bool {
	return h.DataObjectCount() > 0
}

// Type represents the PD message type. For control messages, the value of the
// type is equivalent to that of the PD spec. Actual message type requires
// determining if the message is a control or a data message using IsData().
type Type uint8

// Control message types
const (
	TypeGoodCRC      Type = 1
	TypeGotoMin      Type = 2
	TypeAccept       Type = 3
	TypeReject       Type = 4
	TypePing         Type = 5
	TypePSReady      Type = 6
	TypeGetSourceCap Type = 7
	TypeGetSinkCap   Type = 8
	TypeDRSwap       Type = 9
	TypePRSwap       Type = 10
	TypeVconnSwap    Type = 11
	TypeWait         Type = 12
	TypeSoftReset    Type = 13
)

// Data message types
const (
	TypeSourceCap     Type = 1
	TypeRequest       Type = 2
	TypeBIST          Type = 3
	TypeSinkCap       Type = 4
	TypeVendorDefined Type = 15
)

// ControlName returns a printable name of t interpreted as a control message.
func (t Type) ControlName() string {
	switch t {
	case TypeGoodCRC:
		return "GoodCRC"
	case TypeGotoMin:
		return "GotoMin"
	case TypeAccept:
		return "Accept"
	case TypeReject:
		return "Reject"
	case TypePing:
		return "Ping"
	case TypePSReady:
		return "PS_RDY"
	case TypeGetSourceCap:
		return "Get_Source_Cap"
	case TypeGetSinkCap:
		return "Get_Sink_Cap"
	case TypeDRSwap:
		return "DR_Swap"
	case TypePRSwap:
		return "PR_Swap"
	case TypeVconnSwap:
		return "VCONN_Swap"
	case TypeWait:
		return "Wait"
	case TypeSoftReset:
		return "Soft_Reset"
	default:
		return "Reserved"
	}
}

// DataName returns a printable name of t interpreted as a data message.
func (t Type) DataName() string {
	switch t {
	case TypeSourceCap:
		return "Source_Capabilities"
	case TypeRequest:
		return "Request"
	case TypeBIST:
		return "BIST"
	case TypeSinkCap:
		return "Sink_Capabilities"
	case TypeVendorDefined:
		return "Vendor_Defined"
	default:
		return "Reserved"
	}
}

// Name returns the message type name taking the data object count into
// account.
func (h Header) Name() string {
	if h.IsData() {
		return h.Type().DataName()
	}
	return h.Type().ControlName()
}

// Revision represents the power delivery revision number of a message.
type Revision uint8

// Power delivery revision numbers.
const (
	Revision10 Revision = 0b00
	Revision20 Revision = 0b01
	Revision30 Revision = 0b10
)

// PowerRole represents the power role of the sender of a message.
type PowerRole uint8

// Power roles of the sender of a message.
const (
	PowerRoleSink   PowerRole = 0
	PowerRoleSource PowerRole = 1
)

// DataRole represents the data role of the sender of a message.
type DataRole uint8

// Data roles of the sender of a message.
const (
	DataRoleUFP DataRole = 0
	DataRoleDFP DataRole = 1
)
