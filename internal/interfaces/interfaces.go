package interfaces

// Registers is the register-access capability the driver core depends on.
// Offsets are byte offsets from the start of the IP's CSR window; buffer
// regions live in the same address space.
//
// Implementations must perform each call as a single bus transaction of the
// given width. Calls are not safe for concurrent use on the same offset.
type Registers interface {
	// Read32 reads a 32-bit register at offset off.
	Read32(off uint32) uint32

	// Read64 reads a 64-bit register at offset off.
	Read64(off uint32) uint64

	// Write32 writes a 32-bit register at offset off.
	Write32(off uint32, v uint32)

	// Write64 writes a 64-bit register at offset off.
	Write64(off uint32, v uint64)
}

// Socket is the byte-stream capability used by the reliable transport.
// Both methods follow the io.Reader/io.Writer conventions, except that a
// zero-length result with a nil error is treated by callers as a closed peer.
type Socket interface {
	// Recv reads up to len(p) bytes into p.
	Recv(p []byte) (int, error)

	// Send writes up to len(p) bytes from p and returns how many were sent.
	Send(p []byte) (int, error)
}

// RegisterCloser is a register window that owns an OS resource.
type RegisterCloser interface {
	Registers

	// Close unmaps the window and releases the device handle.
	Close() error
}
