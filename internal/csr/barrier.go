package csr

import "sync/atomic"

// barrierDummy is the target of Fence's atomic add, a LOCK XADD on amd64.
var barrierDummy int64

// Fence orders all prior register writes before any later access. Descriptor
// pushes call it between filling the payload and writing the push register.
func Fence() {
	atomic.AddInt64(&barrierDummy, 0)
}
