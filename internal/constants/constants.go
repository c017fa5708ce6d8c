package constants

import "time"

// Default configuration constants
const (
	// DefaultUIOPath is the UIO device the CSR window is bound to
	DefaultUIOPath = "/dev/uio0"

	// DefaultStartAddress is the CSR offset inside the UIO mapping
	DefaultStartAddress = 0

	// DefaultH2TT2HMemSize is the H2T/T2H region size used when the IP does
	// not report one
	DefaultH2TT2HMemSize = 4096

	// DefaultPort lets the kernel pick the listening port
	DefaultPort = 0

	// DefaultMgmtPort lets the kernel pick the management listening port;
	// a negative port disables the management listener
	DefaultMgmtPort = 0

	// DefaultListenIP is the listen address when none is configured
	DefaultListenIP = "0.0.0.0"

	// DefaultMapSize is the UIO mapping size when sysfs does not report one (1MB)
	DefaultMapSize = 1 << 20
)

// Transport constants
const (
	// HeaderScratch is the per-direction scratch allowance on top of the
	// largest transfer
	HeaderScratch = 64

	// MaxTransferLength is the largest length the 16-bit header field and
	// the HOW_LONG register can carry
	MaxTransferLength = 0xFFFF

	// MaxDescriptorDepth bounds the descriptor FIFO of each push channel
	MaxDescriptorDepth = 128
)

// Timing constants for the poll loops
const (
	// PollBackoffMin is the first sleep after an empty poll or a full ring
	PollBackoffMin = 20 * time.Microsecond

	// PollBackoffMax caps the idle poll interval
	PollBackoffMax = 5 * time.Millisecond

	// LingerSeconds is the SO_LINGER timeout on client sockets
	LingerSeconds = 1
)
