package sock

import "sync"

// Scratch buffers are pooled by size class so that reconnecting clients
// reuse the previous session's buffers. Classes cover the transfer sizes a
// region can hold (up to 64KB) plus the header allowance.
//
// The pools hold *[]byte to avoid an allocation on Put.
const (
	class4k   = 4 * 1024
	class16k  = 16 * 1024
	class64k  = 64 * 1024
	class128k = 128 * 1024
)

var scratchPool = struct {
	pool4k   sync.Pool
	pool16k  sync.Pool
	pool64k  sync.Pool
	pool128k sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, class4k); return &b }},
	pool16k:  sync.Pool{New: func() any { b := make([]byte, class16k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, class64k); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, class128k); return &b }},
}

// getScratch returns a buffer of length size. Sizes above the largest class
// are allocated and never pooled.
func getScratch(size int) []byte {
	switch {
	case size <= class4k:
		return (*scratchPool.pool4k.Get().(*[]byte))[:size]
	case size <= class16k:
		return (*scratchPool.pool16k.Get().(*[]byte))[:size]
	case size <= class64k:
		return (*scratchPool.pool64k.Get().(*[]byte))[:size]
	case size <= class128k:
		return (*scratchPool.pool128k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// putScratch returns buf to the pool matching its capacity.
func putScratch(buf []byte) {
	buf = buf[:cap(buf)]
	switch cap(buf) {
	case class4k:
		scratchPool.pool4k.Put(&buf)
	case class16k:
		scratchPool.pool16k.Put(&buf)
	case class64k:
		scratchPool.pool64k.Put(&buf)
	case class128k:
		scratchPool.pool128k.Put(&buf)
	}
}
