// Package csr holds the register map of the streaming debug IP and the
// register-window implementations used to reach it.
package csr

// Compatibility constants
const (
	SupportedTypeSignature = 0x5244444D // "RDDM"
	SupportedVersion       = 1

	BuffAlignPow2 = 3 // descriptors address 64-bit words
	BuffAlign     = 1 << BuffAlignPow2

	LastDescriptorMask = 0x80000000
	HowLongMask        = 0x7FFFFFFF
)

// Config CSR offsets
const (
	ConfigType                 = 0x000 // type signature (R), low word of a 64-bit read
	ConfigVersion              = 0x004 // version (R), high word of a 64-bit read
	ConfigVersionMask          = 0xF
	ConfigResetAndLoopback     = 0x020 // reset / loopback / interrupt enable (RW)
	ConfigH2TT2HMem            = 0x024 // H2T/T2H size (R), MGMT size in the high word
	ConfigMgmtMgmtRspMem       = 0x028 // MGMT/MGMT-RSP size (R); the driver reads it as the high word of ConfigH2TT2HMem
	ConfigH2TT2HDescDepth      = 0x02C // H2T depth (R), MGMT depth in the high word
	ConfigMgmtMgmtRspDescDepth = 0x030 // MGMT depth (R); nonzero means MGMT is present
	ConfigInterrupts           = 0x048 // interrupt mask (RW)
)

// ConfigResetAndLoopback fields

const (
	FieldH2TT2HReset     = 0x01
	FieldH2TT2HLoopback  = 0x02
	FieldEnableInt       = 0x04
	FieldMgmtRspReset    = 0x10
	FieldMgmtRspLoopback = 0x20
)

// ConfigInterrupts mask fields

const (
	MaskH2T     = 0x1
	MaskT2H     = 0x2
	MaskMgmt    = 0x4
	MaskMgmtRsp = 0x8
)

// H2T CSR

const (
	H2TAvailableSlots = 0x100 // free descriptor slots (R)
	H2THowLong        = 0x108 // length | last flag; 64-bit write carries WHERE
	H2TWhere          = 0x10C // payload device address (W)
	H2TConnectionID   = 0x110 // connection id; 64-bit write carries the channel
	H2TChannelIDPush  = 0x114 // channel id, writing it pushes the descriptor (W)
)

// T2H CSR

const (
	T2HHowLong          = 0x208 // length | last flag; 64-bit read carries WHERE
	T2HWhere            = 0x20C // payload offset relative to the T2H region (R)
	T2HConnectionID     = 0x210 // connection id; 64-bit read carries the channel
	T2HChannelIDAdvance = 0x214 // channel id (R)
	T2HDescriptorsDone  = 0x218 // write 1 to retire the head descriptor (W)
)

// MGMT CSR

const (
	MgmtAvailableSlots = 0x300
	MgmtHowLong        = 0x308
	MgmtWhere          = 0x30C
	MgmtChannelIDPush  = 0x314
)

// MGMT-RSP CSR

const (
	MgmtRspHowLong          = 0x408
	MgmtRspWhere            = 0x40C
	MgmtRspChannelIDAdvance = 0x414
	MgmtRspDescriptorsDone  = 0x418
)

// CSRSpan is the size of the CSR block; buffer regions start above it.
const CSRSpan = 0x800

// PushBlock describes the registers of a host-to-device channel.
type PushBlock struct {
	AvailableSlots uint32
	HowLong        uint32
	ConnectionID   uint32 // zero when the channel has no connection id
	ChannelIDPush  uint32
}

// PullBlock describes the registers of a device-to-host channel.
type PullBlock struct {
	HowLong          uint32
	ConnectionID     uint32 // zero when the channel has no connection id
	ChannelIDAdvance uint32
	DescriptorsDone  uint32
}

var (
	H2TBlock     = PushBlock{H2TAvailableSlots, H2THowLong, H2TConnectionID, H2TChannelIDPush}
	MgmtBlock    = PushBlock{MgmtAvailableSlots, MgmtHowLong, 0, MgmtChannelIDPush}
	T2HBlock     = PullBlock{T2HHowLong, T2HConnectionID, T2HChannelIDAdvance, T2HDescriptorsDone}
	MgmtRspBlock = PullBlock{MgmtRspHowLong, 0, MgmtRspChannelIDAdvance, MgmtRspDescriptorsDone}
)

// Split64 returns the low and high words of a 64-bit register value.
func Split64(v uint64) (lo, hi uint32) {
	return uint32(v), uint32(v >> 32)
}
