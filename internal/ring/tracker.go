package ring

import (
	"fmt"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
)

// Tracker couples a channel's circular buffer to the hardware descriptor
// slot counter. The hardware only reports how many descriptor slots are
// free; since it retires descriptors in push order, the FIFO of pushed sizes
// says which bytes those slots covered.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	name  string
	buf   *CircularBuffer
	q     *DescriptorQueue
	slots uint32 // cached hardware "available slots"
	depth uint32

	// the reservation handed out by TryReserve and not yet pushed
	pendingAddr uint32
	pending     uint32
	hasPending  bool
}

// NewTracker creates a tracker over [base, base+capacity) with depth
// descriptor slots.
func NewTracker(name string, base, capacity, depth uint32) (*Tracker, error) {
	q, err := NewDescriptorQueue(constants.MaxDescriptorDepth)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		name: name,
		buf:  NewCircularBuffer(base, capacity),
		q:    q,
	}
	if err := t.Reset(depth); err != nil {
		return nil, err
	}
	return t, nil
}

// Reset drops every outstanding descriptor and reservation and reloads the
// slot count. Call it only after the hardware side has been reset.
func (t *Tracker) Reset(depth uint32) error {
	if depth > constants.MaxDescriptorDepth {
		return errs.NewChannel("init_descriptor", t.name, errs.CodeConfig,
			fmt.Sprintf("descriptor depth %d exceeds %d", depth, constants.MaxDescriptorDepth))
	}
	t.depth = depth
	t.slots = depth
	t.q.Reset()
	t.buf.Reset()
	t.pending = 0
	t.hasPending = false
	return nil
}

// reconcile retires the descriptors the hardware has finished with and
// returns their bytes to the buffer.
func (t *Tracker) reconcile(hwSlots uint32) error {
	if hwSlots < t.slots || hwSlots > t.depth {
		return errs.NewChannel("get_buffer", t.name, errs.CodeInconsistentState,
			fmt.Sprintf("hardware reports %d free slots, cached %d of %d", hwSlots, t.slots, t.depth))
	}

	freed := int(hwSlots - t.slots)
	if freed == 0 {
		return nil
	}

	retirable := t.q.Len()
	if t.hasPending {
		retirable--
	}
	if freed > retirable {
		return errs.NewChannel("get_buffer", t.name, errs.CodeInconsistentState,
			fmt.Sprintf("hardware freed %d slots, only %d descriptors in flight", freed, retirable))
	}

	sum, err := t.q.PopN(freed)
	if err != nil {
		return err
	}
	if err := t.buf.Free(int(sum)); err != nil {
		return err
	}
	t.slots = hwSlots
	return nil
}

// TryReserve reconciles against hwSlots and then reserves AlignUp(n) bytes,
// returning their absolute device address. It fails with errs.ErrNoSpace
// when no descriptor slot or not enough bytes are free; that is a poll-again
// signal. A request that rounds to zero returns the current cursor without
// consuming a slot or queuing a descriptor.
//
// At most one reservation may be pending; it must be followed by Pushed or
// Cancel before the next one.
func (t *Tracker) TryReserve(n int, hwSlots uint32) (uint32, error) {
	if n < 0 {
		return 0, errs.NewChannel("get_buffer", t.name, errs.CodeInvalidParameters,
			fmt.Sprintf("negative length %d", n))
	}
	if err := t.reconcile(hwSlots); err != nil {
		return 0, err
	}

	rounded := AlignUp(n)
	if rounded == 0 {
		return t.buf.Cursor(), nil
	}
	if t.hasPending {
		return 0, errs.NewChannel("get_buffer", t.name, errs.CodeInconsistentState,
			"previous reservation was never pushed")
	}
	if t.slots == 0 {
		return 0, errs.NewChannel("get_buffer", t.name, errs.CodeNoSpace, "no descriptor slot free")
	}

	addr, ok := t.buf.Alloc(n)
	if !ok {
		return 0, errs.NewChannel("get_buffer", t.name, errs.CodeNoSpace,
			fmt.Sprintf("need %d bytes, %d free", rounded, t.buf.SpaceAvailable()))
	}
	if err := t.q.Push(uint32(rounded)); err != nil {
		t.buf.rewind(uint32(rounded))
		return 0, err
	}

	t.pendingAddr = addr
	t.pending = uint32(rounded)
	t.hasPending = true
	return addr, nil
}

// Pushed records that the pending reservation was handed to the hardware,
// consuming one descriptor slot.
func (t *Tracker) Pushed() error {
	if !t.hasPending || t.slots == 0 {
		return errs.NewChannel("data_received", t.name, errs.CodeInconsistentState,
			"push without a reservation")
	}
	t.slots--
	t.hasPending = false
	t.pending = 0
	return nil
}

// Cancel releases the pending reservation without pushing it.
func (t *Tracker) Cancel() {
	if !t.hasPending {
		return
	}
	t.q.popBack()
	t.buf.rewind(t.pending)
	t.hasPending = false
	t.pending = 0
}

// Pending reports whether a reservation awaits Pushed or Cancel.
func (t *Tracker) Pending() bool { return t.hasPending }

// Reservation returns the address and aligned size of the pending
// reservation.
func (t *Tracker) Reservation() (addr, size uint32, ok bool) {
	return t.pendingAddr, t.pending, t.hasPending
}

// InFlight returns the number of descriptors not yet retired by hardware,
// including a pending reservation.
func (t *Tracker) InFlight() int { return t.q.Len() }

// SlotsAvailable returns the cached hardware slot count.
func (t *Tracker) SlotsAvailable() uint32 { return t.slots }

// Depth returns the descriptor depth the tracker was reset with.
func (t *Tracker) Depth() uint32 { return t.depth }

// Buffer exposes the underlying circular buffer.
func (t *Tracker) Buffer() *CircularBuffer { return t.buf }
