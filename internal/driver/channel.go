package driver

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-etherlink/internal/bridge"
	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/framing"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
	"github.com/ehrlich-b/go-etherlink/internal/layout"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
	"github.com/ehrlich-b/go-etherlink/internal/ring"
)

// Channel names used in logs and errors
const (
	ChannelH2T     = "h2t"
	ChannelT2H     = "t2h"
	ChannelMgmt    = "mgmt"
	ChannelMgmtRsp = "mgmt_rsp"
)

// TxChannel is a host-to-device channel (H2T or MGMT): reserve space, copy
// the payload in, push the descriptor.
type TxChannel struct {
	mu      sync.Mutex
	name    string
	regs    interfaces.Registers
	block   csr.PushBlock
	region  layout.Region
	tracker *ring.Tracker
	logger  *logging.Logger
}

func newTxChannel(name string, regs interfaces.Registers, block csr.PushBlock, r layout.Region, depth uint32, logger *logging.Logger) (*TxChannel, error) {
	tr, err := ring.NewTracker(name, r.Base, r.Size, depth)
	if err != nil {
		return nil, err
	}
	return &TxChannel{
		name:    name,
		regs:    regs,
		block:   block,
		region:  r,
		tracker: tr,
		logger:  logger.WithChannel(name),
	}, nil
}

// Name returns the channel name.
func (c *TxChannel) Name() string { return c.name }

// Region returns the channel's device region.
func (c *TxChannel) Region() layout.Region { return c.region }

// Reserve returns the device address of n free bytes in the channel region,
// or errs.ErrNoSpace when the hardware has not released enough descriptors
// or bytes yet.
func (c *TxChannel) Reserve(n int) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hw := c.regs.Read32(c.block.AvailableSlots)
	addr, err := c.tracker.TryReserve(n, hw)
	if err != nil {
		return 0, err
	}
	if c.logger != nil {
		c.logger.WithTransfer(addr, n).Debug("reserved")
	}
	return addr, nil
}

// WriteDevice copies n bytes of p to addr, wrapping at the region end. It
// implements sock.DeviceWriter.
func (c *TxChannel) WriteDevice(addr uint32, p []byte, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := bridge.WriteRegion(c.regs, c.region, p, addr, n); err != nil {
		return errs.Wrap(c.name+"_copy", errs.CodeInvalidParameters, err)
	}
	return nil
}

// Push hands the reserved buffer at addr to the hardware. h supplies the
// length and markers; the hardware only learns EOP, through the last
// descriptor bit.
func (c *TxChannel) Push(h framing.Header, addr uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := c.name + "_data_received"
	resAddr, resSize, ok := c.tracker.Reservation()
	switch {
	case h.DataLen == 0:
		return errs.NewChannel(op, c.name, errs.CodeInvalidParameters, "zero-length transfer")
	case !ok:
		return errs.NewChannel(op, c.name, errs.CodeInconsistentState, "push without a reservation")
	case addr != resAddr:
		return errs.NewChannel(op, c.name, errs.CodeInvalidParameters,
			fmt.Sprintf("push of 0x%x, reservation is at 0x%x", addr, resAddr))
	case uint32(ring.AlignUp(int(h.DataLen))) > resSize:
		return errs.NewChannel(op, c.name, errs.CodeInvalidParameters,
			fmt.Sprintf("push of %d bytes exceeds the %d reserved", h.DataLen, resSize))
	}

	if err := c.tracker.Pushed(); err != nil {
		return err
	}

	howLong := framing.EncodeHowLong(uint32(h.DataLen), h.EOP)
	c.regs.Write64(c.block.HowLong, framing.PackHowLongWhere(howLong, addr))
	csr.Fence()
	if c.block.ConnectionID != 0 {
		c.regs.Write64(c.block.ConnectionID, framing.PackConnChannel(h.ConnID, h.Channel))
	} else {
		c.regs.Write32(c.block.ChannelIDPush, uint32(h.Channel))
	}

	if c.logger != nil {
		c.logger.WithTransfer(addr, int(h.DataLen)).Debug("pushed", "eop", h.EOP, "ch", h.Channel)
	}
	return nil
}

// Cancel drops a reservation that will not be pushed, e.g. because the
// client went away before sending the payload.
func (c *TxChannel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Cancel()
}

// TxStats is a snapshot of a push channel.
type TxStats struct {
	InFlight       int
	SlotsAvailable uint32
	Depth          uint32
	BytesFree      uint32
	Capacity       uint32
}

// Stats returns a snapshot of the channel's bookkeeping.
func (c *TxChannel) Stats() TxStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TxStats{
		InFlight:       c.tracker.InFlight(),
		SlotsAvailable: c.tracker.SlotsAvailable(),
		Depth:          c.tracker.Depth(),
		BytesFree:      c.tracker.Buffer().SpaceAvailable(),
		Capacity:       c.tracker.Buffer().Capacity(),
	}
}

// reset requires c.mu held.
func (c *TxChannel) reset(depth uint32) error {
	return c.tracker.Reset(depth)
}

// RxChannel is a device-to-host channel (T2H or MGMT-RSP): acquire the head
// descriptor, copy the payload out, complete it.
type RxChannel struct {
	mu      sync.Mutex
	name    string
	regs    interfaces.Registers
	block   csr.PullBlock
	region  layout.Region
	inbound framing.Inbound
	logger  *logging.Logger

	// head descriptor handed out by Acquire and not yet completed
	acquired bool
	head     framing.Header
	headAddr uint32
}

func newRxChannel(name string, regs interfaces.Registers, block csr.PullBlock, r layout.Region, logger *logging.Logger) *RxChannel {
	return &RxChannel{
		name:   name,
		regs:   regs,
		block:  block,
		region: r,
		logger: logger.WithChannel(name),
	}
}

// Name returns the channel name.
func (c *RxChannel) Name() string { return c.name }

// Region returns the channel's device region.
func (c *RxChannel) Region() layout.Region { return c.region }

// Acquire returns the header and payload address of the head descriptor.
// It fails with errs.ErrNoData when the hardware has nothing queued. Until
// Complete is called, repeated calls return the same descriptor.
func (c *RxChannel) Acquire() (framing.Header, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acquired {
		return c.head, c.headAddr, nil
	}

	op := "acquire_" + c.name + "_data"
	howLong, where := framing.UnpackHowLongWhere(c.regs.Read64(c.block.HowLong))
	n, last := framing.DecodeHowLong(howLong)
	if n == 0 {
		return framing.Header{}, 0, errs.NewChannel(op, c.name, errs.CodeNoData, "no data")
	}
	if n > constants.MaxTransferLength || n > c.region.Size {
		return framing.Header{}, 0, errs.NewChannel(op, c.name, errs.CodeInconsistentState,
			fmt.Sprintf("hardware reports a %d byte transfer, region holds %d", n, c.region.Size))
	}
	addr := where + c.region.Base
	if !c.region.Contains(addr) || addr%csr.BuffAlign != 0 {
		return framing.Header{}, 0, errs.NewChannel(op, c.name, errs.CodeInconsistentState,
			fmt.Sprintf("hardware reports payload at 0x%x outside %s", addr, c.region))
	}

	h := framing.Header{DataLen: uint16(n)}
	h.SOP, h.EOP = c.inbound.Accept(last)
	if c.block.ConnectionID != 0 {
		h.ConnID, h.Channel = framing.UnpackConnChannel(c.regs.Read64(c.block.ConnectionID))
	} else {
		h.Channel = uint16(c.regs.Read32(c.block.ChannelIDAdvance))
	}

	c.acquired, c.head, c.headAddr = true, h, addr
	if c.logger != nil {
		c.logger.WithTransfer(addr, int(n)).Debug("acquired", "sop", h.SOP, "eop", h.EOP, "ch", h.Channel)
	}
	return h, addr, nil
}

// ReadDevice copies n bytes at addr into p, wrapping at the region end. It
// implements sock.DeviceReader.
func (c *RxChannel) ReadDevice(addr uint32, p []byte, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := bridge.ReadRegion(c.regs, c.region, addr, p, n); err != nil {
		return errs.Wrap(c.name+"_copy", errs.CodeInvalidParameters, err)
	}
	return nil
}

// Complete retires the acquired descriptor so the hardware can reuse its
// buffer.
func (c *RxChannel) Complete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acquired {
		return errs.NewChannel(c.name+"_data_complete", c.name, errs.CodeInconsistentState,
			"complete without an acquired descriptor")
	}
	c.regs.Write32(c.block.DescriptorsDone, 1)
	c.acquired = false
	return nil
}

// reset requires c.mu held.
func (c *RxChannel) reset() {
	c.inbound.Reset()
	c.acquired = false
	c.head = framing.Header{}
	c.headAddr = 0
}
