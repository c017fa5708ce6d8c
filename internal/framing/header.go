package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the encoded size of a Header.
const HeaderSize = 8

// Header flag bits
const (
	FlagSOP = 1 << 0
	FlagEOP = 1 << 1
)

// ErrShortHeader is returned when fewer than HeaderSize bytes are decoded.
var ErrShortHeader = errors.New("framing: short transfer header")

// Header precedes every payload chunk on the client socket.
//
// Wire layout, little-endian:
//
//	[0:2] data length
//	[2]   flags (bit0 SOP, bit1 EOP)
//	[3]   connection id (always 0 on management channels)
//	[4:6] channel
//	[6:8] reserved, zero
type Header struct {
	DataLen uint16
	SOP     bool
	EOP     bool
	ConnID  uint8
	Channel uint16
}

func (h Header) flags() byte {
	var f byte
	if h.SOP {
		f |= FlagSOP
	}
	if h.EOP {
		f |= FlagEOP
	}
	return f
}

// AppendBinary appends the encoded header to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint16(b, h.DataLen)
	b = append(b, h.flags(), h.ConnID)
	b = binary.LittleEndian.AppendUint16(b, h.Channel)
	b = append(b, 0, 0)
	return b, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// Put encodes h into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint16(b[0:2], h.DataLen)
	b[2] = h.flags()
	b[3] = h.ConnID
	binary.LittleEndian.PutUint16(b[4:6], h.Channel)
	b[6], b[7] = 0, 0
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Reserved bytes and
// unknown flag bits are ignored.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrShortHeader
	}
	h.DataLen = binary.LittleEndian.Uint16(data[0:2])
	h.SOP = data[2]&FlagSOP != 0
	h.EOP = data[2]&FlagEOP != 0
	h.ConnID = data[3]
	h.Channel = binary.LittleEndian.Uint16(data[4:6])
	return nil
}

func (h Header) String() string {
	return fmt.Sprintf("len=%d sop=%t eop=%t conn=%d channel=%d", h.DataLen, h.SOP, h.EOP, h.ConnID, h.Channel)
}
