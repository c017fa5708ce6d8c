package ring

import (
	"fmt"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
)

// DescriptorQueue is a fixed-capacity FIFO of outstanding transfer sizes.
// head indexes the oldest entry; entries occupy head, head+1, ... modulo
// the capacity, and count says how many are live.
type DescriptorQueue struct {
	sizes []uint32
	head  int
	count int
}

// NewDescriptorQueue creates a queue holding up to depth entries.
func NewDescriptorQueue(depth int) (*DescriptorQueue, error) {
	if depth < 0 || depth > constants.MaxDescriptorDepth {
		return nil, errs.Newf("descriptor_queue", errs.CodeConfig,
			"descriptor depth %d outside [0, %d]", depth, constants.MaxDescriptorDepth)
	}
	return &DescriptorQueue{sizes: make([]uint32, depth)}, nil
}

// Len returns the number of outstanding entries.
func (q *DescriptorQueue) Len() int { return q.count }

// Cap returns the queue depth.
func (q *DescriptorQueue) Cap() int { return len(q.sizes) }

// Push appends size at the tail.
func (q *DescriptorQueue) Push(size uint32) error {
	if q.count == len(q.sizes) {
		return errs.Newf("descriptor_push", errs.CodeInconsistentState,
			"descriptor queue full at depth %d", len(q.sizes))
	}
	q.sizes[(q.head+q.count)%len(q.sizes)] = size
	q.count++
	return nil
}

// PopN removes the n oldest entries and returns the sum of their sizes.
func (q *DescriptorQueue) PopN(n int) (uint64, error) {
	if n < 0 || n > q.count {
		return 0, errs.New("descriptor_pop", errs.CodeInconsistentState,
			fmt.Sprintf("hardware retired %d descriptors, %d outstanding", n, q.count))
	}

	var sum uint64
	for i := 0; i < n; i++ {
		sum += uint64(q.sizes[(q.head+i)%len(q.sizes)])
	}
	if n > 0 {
		q.head = (q.head + n) % len(q.sizes)
		q.count -= n
	}
	return sum, nil
}

// popBack removes the newest entry.
func (q *DescriptorQueue) popBack() (uint32, bool) {
	if q.count == 0 {
		return 0, false
	}
	q.count--
	return q.sizes[(q.head+q.count)%len(q.sizes)], true
}

// Sum returns the total size of all outstanding entries.
func (q *DescriptorQueue) Sum() uint64 {
	var sum uint64
	for i := 0; i < q.count; i++ {
		sum += uint64(q.sizes[(q.head+i)%len(q.sizes)])
	}
	return sum
}

// Reset drops every entry.
func (q *DescriptorQueue) Reset() {
	q.head = 0
	q.count = 0
}
