package pdmsg

import (
	"github.com/pkg/errors"
)

var (
	// ErrMalformedMessage is returned when a buffer is too short to hold a
	// message header.
	ErrMalformedMessage = errors.New("pdmsg: malformed message")

	// ErrTruncatedPayload is returned when a buffer holds fewer data object
	// bytes than its header announces.
	ErrTruncatedPayload = errors.New("pdmsg: truncated payload")
)

// Message represents a power delivery message.
// Decoding of extended messages is not supported.
type Message struct {
	Header Header

	// Size of Data is fixed up to maximum allowable message size, to ensure no
	// heap allocations are necessary. To find out how many actual elements are
	// used, use Header.DataObjectCount().
	Data [MaxDataObjects]uint32
}

// PDOs returns the data objects of the message as power data objects.
func (m Message) PDOs() []PDO {
	n := m.Header.DataObjectCount()
	pdos := make([]PDO, n)
	for i := range pdos {
		pdos[i] = PDO(m.Data[i])
	}
	return pdos
}

// ToBytes serializes the message to a byte slice and returns the number of
// bytes written. b must be at least MaxMessageBytes long.
func (m Message) ToBytes(b []byte) uint8 {
	putUint16(b, uint16(m.Header))
	c := m.Header.DataObjectCount()
	for i, d := range m.Data[:c] {
		putUint32(b[2+i*4:], d)
	}
	return 2 + c*4
}

// Bytes returns a newly allocated serialization of the message.
func (m Message) Bytes() []byte {
	b := make([]byte, MaxMessageBytes)
	return b[:m.ToBytes(b)]
}

// DecodeHeader reads the message header from the first two bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < 2 {
		return 0, errors.Wrapf(ErrMalformedMessage, "need 2 header bytes, got %d", len(b))
	}
	return Header(uint16(b[0]) | uint16(b[1])<<8), nil
}

// DecodePDOs reads count little-endian 32 bit data objects following the
// two byte header in b.
func DecodePDOs(b []byte, count uint8) ([]PDO, error) {
	need := 2 + int(count)*4
	if len(b) < need {
		return nil, errors.Wrapf(ErrTruncatedPayload, "need %d bytes for %d objects, got %d", need, count, len(b))
	}
	pdos := make([]PDO, count)
	for i := range pdos {
		pdos[i] = PDO(getUint32(b[2+i*4:]))
	}
	return pdos, nil
}

// Parse decodes a complete message from b. Bytes beyond the announced data
// objects, such as a trailing CRC, are ignored.
func Parse(b []byte) (Message, error) {
	var m Message
	h, err := DecodeHeader(b)
	if err != nil {
		return m, err
	}
	pdos, err := DecodePDOs(b, h.DataObjectCount())
	if err != nil {
		return m, err
	}
	m.Header = h
	for i, p := range pdos {
		m.Data[i] = uint32(p)
	}
	return m, nil
}

// EncodeControl returns the 2 byte frame of a control message sent by a sink.
func EncodeControl(t Type, id uint8) []byte {
	b := make([]byte, 2)
	putUint16(b, uint16(NewHeader(t, id, 0)))
	return b
}

// EncodeRequest returns the 6 byte frame of a Request message carrying rdo.
func EncodeRequest(rdo RequestDO, id uint8) []byte {
	b := make([]byte, 6)
	putUint16(b, uint16(NewHeader(TypeRequest, id, 1)))
	putUint32(b[2:], uint32(rdo))
	return b
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
