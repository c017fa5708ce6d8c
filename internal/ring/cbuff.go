// Package ring implements the per-channel circular buffer allocator and the
// descriptor FIFO that couples it to the hardware slot counter.
package ring

import (
	"fmt"

	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
)

// AlignUp rounds n up to the descriptor alignment unit.
func AlignUp(n int) int {
	return (n + csr.BuffAlign - 1) &^ (csr.BuffAlign - 1)
}

// CircularBuffer hands out aligned byte ranges of one device region. The
// write cursor advances monotonically modulo the capacity, so an allocation
// near the end of the region continues at its start.
//
// Invariant: 0 <= SpaceAvailable() <= Capacity(), and SpaceAvailable() equals
// Capacity() minus the bytes allocated and not yet freed.
type CircularBuffer struct {
	base     uint32
	capacity uint32
	space    uint32
	cursor   uint32
}

// NewCircularBuffer creates an empty buffer over [base, base+capacity).
func NewCircularBuffer(base, capacity uint32) *CircularBuffer {
	return &CircularBuffer{
		base:     base,
		capacity: capacity,
		space:    capacity,
	}
}

// Base returns the region start address.
func (c *CircularBuffer) Base() uint32 { return c.base }

// Capacity returns the region size in bytes.
func (c *CircularBuffer) Capacity() uint32 { return c.capacity }

// SpaceAvailable returns the unallocated byte count.
func (c *CircularBuffer) SpaceAvailable() uint32 { return c.space }

// Outstanding returns the allocated-but-not-freed byte count.
func (c *CircularBuffer) Outstanding() uint32 { return c.capacity - c.space }

// Cursor returns the absolute device address of the next allocation.
func (c *CircularBuffer) Cursor() uint32 { return c.base + c.cursor }

// Alloc reserves AlignUp(n) bytes and returns the absolute device address of
// the first one. It returns false, with no state change, when the space is
// insufficient. A request that rounds to zero returns the cursor unchanged.
func (c *CircularBuffer) Alloc(n int) (uint32, bool) {
	if n < 0 {
		return 0, false
	}
	rounded := AlignUp(n)
	if uint64(rounded) > uint64(c.space) {
		return 0, false
	}

	addr := c.base + c.cursor
	if rounded == 0 {
		return addr, true
	}

	c.cursor = uint32((uint64(c.cursor) + uint64(rounded)) % uint64(c.capacity))
	c.space -= uint32(rounded)
	return addr, true
}

// Free returns n bytes reported reclaimed by the hardware. n is taken as
// given, not re-aligned. A free that would push the available space past the
// capacity is rejected and leaves the buffer untouched.
func (c *CircularBuffer) Free(n int) error {
	if n < 0 || uint64(c.space)+uint64(n) > uint64(c.capacity) {
		return errs.New("cbuff_free", errs.CodeInconsistentState,
			fmt.Sprintf("free of %d bytes exceeds %d outstanding", n, c.Outstanding()))
	}
	c.space += uint32(n)
	return nil
}

// rewind undoes the most recent allocation of n aligned bytes.
func (c *CircularBuffer) rewind(n uint32) {
	c.cursor = uint32((uint64(c.cursor) + uint64(c.capacity) - uint64(n)) % uint64(c.capacity))
	c.space += n
}

// Reset empties the buffer and moves the cursor back to the region start.
func (c *CircularBuffer) Reset() {
	c.space = c.capacity
	c.cursor = 0
}
