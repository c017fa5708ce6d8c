// Package framing tracks packet boundaries across hardware transfers and
// encodes the descriptor and wire headers that carry them.
package framing

import "github.com/ehrlich-b/go-etherlink/internal/csr"

// State is the inbound framing state of one pull direction.
type State uint8

const (
	AwaitingPacketStart State = iota
	InPacket
)

func (s State) String() string {
	switch s {
	case AwaitingPacketStart:
		return "awaiting_packet_start"
	case InPacket:
		return "in_packet"
	}
	return "unknown"
}

// Inbound reconstructs SOP/EOP for fragments pulled from the hardware, which
// only reports the "last descriptor" bit. The zero value awaits a packet
// start.
type Inbound struct {
	state State
}

// Accept consumes one nonzero-length fragment and reports its markers. The
// first fragment after a packet end carries SOP; a fragment with last set
// carries EOP and re-arms SOP.
func (in *Inbound) Accept(last bool) (sop, eop bool) {
	sop = in.state == AwaitingPacketStart
	if last {
		in.state = AwaitingPacketStart
		return sop, true
	}
	in.state = InPacket
	return sop, false
}

// State returns the current state.
func (in *Inbound) State() State { return in.state }

// Reset re-arms SOP.
func (in *Inbound) Reset() { in.state = AwaitingPacketStart }

// EncodeHowLong builds the length word of a pushed descriptor.
func EncodeHowLong(length uint32, eop bool) uint32 {
	w := length & csr.HowLongMask
	if eop {
		w |= csr.LastDescriptorMask
	}
	return w
}

// DecodeHowLong splits a pulled length word.
func DecodeHowLong(word uint32) (length uint32, last bool) {
	return word & csr.HowLongMask, word&csr.LastDescriptorMask != 0
}

// PackHowLongWhere builds the 64-bit HOW_LONG/WHERE register value.
func PackHowLongWhere(howLong, where uint32) uint64 {
	return uint64(howLong) | uint64(where)<<32
}

// UnpackHowLongWhere splits a 64-bit HOW_LONG/WHERE register value.
func UnpackHowLongWhere(v uint64) (howLong, where uint32) {
	return uint32(v), uint32(v >> 32)
}

// PackConnChannel builds the 64-bit CONNECTION_ID/CHANNEL register value.
func PackConnChannel(conn uint8, channel uint16) uint64 {
	return uint64(conn) | uint64(channel)<<32
}

// UnpackConnChannel splits a 64-bit CONNECTION_ID/CHANNEL register value.
func UnpackConnChannel(v uint64) (conn uint8, channel uint16) {
	return uint8(v), uint16(v >> 32)
}
