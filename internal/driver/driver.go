// Package driver owns all per-channel state of one streaming debug IP and
// exposes the callbacks the connection server drives it with.
package driver

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
	"github.com/ehrlich-b/go-etherlink/internal/layout"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
)

// Config holds driver construction parameters.
type Config struct {
	// Registers is the CSR window of the IP. Required.
	Registers interfaces.Registers

	// FallbackSize is the H2T/T2H region size used when the IP does not
	// report one (version 0). Defaults to constants.DefaultH2TT2HMemSize.
	FallbackSize uint32

	// Logger receives driver events. Defaults to logging.Default().
	Logger *logging.Logger
}

// Driver is the aggregate of all per-channel state for one IP. New is the
// only way to build one; Reset and SetLoopback re-initialize it in place.
//
// Each channel has its own mutex, so the two directions of a session can run
// on separate goroutines. Operations that touch the config CSR take every
// channel lock in a fixed order.
type Driver struct {
	regs   interfaces.Registers
	id     csr.Identity
	layout layout.Layout
	logger *logging.Logger

	h2t     *TxChannel
	t2h     *RxChannel
	mgmt    *TxChannel
	mgmtRsp *RxChannel

	mgmtSupported bool
}

// New checks the IP, plans its regions, reads the descriptor depths, asserts
// the H2T/T2H reset and starts every channel empty.
func New(cfg Config) (*Driver, error) {
	const op = "init_driver"

	if cfg.Registers == nil {
		return nil, errs.New(op, errs.CodeInvalidParameters, "no register window")
	}
	if cfg.FallbackSize == 0 {
		cfg.FallbackSize = constants.DefaultH2TT2HMemSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	regs := cfg.Registers

	id, err := csr.CheckVersionAndType(regs)
	if err != nil {
		logger.Error("incompatible streaming debug IP", "error", err)
		return nil, err
	}

	var reportedSize, reportedMgmt uint32
	if id.ReportsSizes() {
		reportedSize, reportedMgmt = csr.Split64(regs.Read64(csr.ConfigH2TT2HMem))
		if reportedSize != 0 && cfg.FallbackSize != constants.DefaultH2TT2HMemSize {
			logger.Info("target IP CSR provides the H2T/T2H memory size; the configured size is ignored",
				"configured", cfg.FallbackSize, "reported", reportedSize)
		}
	}

	l, err := layout.Plan(id, reportedSize, reportedMgmt, cfg.FallbackSize)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		regs:   regs,
		id:     id,
		layout: l,
		logger: logger,
	}
	d.mgmtSupported = regs.Read32(csr.ConfigMgmtMgmtRspDescDepth) > 0 && l.HasMgmt()

	h2tDepth, mgmtDepth := d.depths()
	if d.h2t, err = newTxChannel(ChannelH2T, regs, csr.H2TBlock, l.H2T, h2tDepth, logger); err != nil {
		return nil, err
	}
	d.t2h = newRxChannel(ChannelT2H, regs, csr.T2HBlock, l.T2H, logger)
	if d.mgmtSupported {
		if d.mgmt, err = newTxChannel(ChannelMgmt, regs, csr.MgmtBlock, l.Mgmt, mgmtDepth, logger); err != nil {
			return nil, err
		}
		d.mgmtRsp = newRxChannel(ChannelMgmtRsp, regs, csr.MgmtRspBlock, l.MgmtRsp, logger)
	}

	d.assertReset()

	logger.Info("streaming debug IP initialized",
		"version", id.Version,
		"h2t", fmt.Sprintf("%s@0x%x", humanize.IBytes(uint64(l.H2T.Size)), l.H2T.Base),
		"t2h", fmt.Sprintf("%s@0x%x", humanize.IBytes(uint64(l.T2H.Size)), l.T2H.Base),
		"h2t_depth", h2tDepth,
		"mgmt", d.mgmtSupported)
	return d, nil
}

func (d *Driver) depths() (h2t, mgmt uint32) {
	return csr.Split64(d.regs.Read64(csr.ConfigH2TT2HDescDepth))
}

// assertReset writes only the reset fields, which also clears loopback and
// interrupt enable.
func (d *Driver) assertReset() {
	v := uint32(csr.FieldH2TT2HReset)
	if d.mgmtSupported {
		v |= csr.FieldMgmtRspReset
	}
	d.regs.Write32(csr.ConfigResetAndLoopback, v)
	csr.Fence()
}

func (d *Driver) lockAll() {
	d.h2t.mu.Lock()
	d.t2h.mu.Lock()
	if d.mgmtSupported {
		d.mgmt.mu.Lock()
		d.mgmtRsp.mu.Lock()
	}
}

func (d *Driver) unlockAll() {
	if d.mgmtSupported {
		d.mgmtRsp.mu.Unlock()
		d.mgmt.mu.Unlock()
	}
	d.t2h.mu.Unlock()
	d.h2t.mu.Unlock()
}

// resetChannels requires every channel lock held.
func (d *Driver) resetChannels() error {
	h2tDepth, mgmtDepth := d.depths()
	if err := d.h2t.reset(h2tDepth); err != nil {
		return err
	}
	d.t2h.reset()
	if d.mgmtSupported {
		if err := d.mgmt.reset(mgmtDepth); err != nil {
			return err
		}
		d.mgmtRsp.reset()
	}
	return nil
}

// Reset asserts the channel resets and re-initializes all buffers,
// descriptor queues and framing state. It is the only recovery from
// errs.ErrInconsistentState.
func (d *Driver) Reset() error {
	d.lockAll()
	defer d.unlockAll()

	d.assertReset()
	if err := d.resetChannels(); err != nil {
		return err
	}
	d.logger.Info("channels reset")
	return nil
}

// SetLoopback switches hardware loopback. Both directions are reset as part
// of the same register write, so all channel state is re-initialized.
func (d *Driver) SetLoopback(on bool) error {
	d.lockAll()
	defer d.unlockAll()

	const loopback = csr.FieldH2TT2HLoopback | csr.FieldMgmtRspLoopback
	const reset = csr.FieldH2TT2HReset | csr.FieldMgmtRspReset

	rd := d.regs.Read32(csr.ConfigResetAndLoopback)
	if on {
		d.regs.Write32(csr.ConfigResetAndLoopback, rd|loopback|reset)
	} else {
		d.regs.Write32(csr.ConfigResetAndLoopback, (rd&^loopback)|reset)
	}
	csr.Fence()

	if err := d.resetChannels(); err != nil {
		return err
	}
	d.logger.Info("loopback mode changed", "enabled", on)
	return nil
}

// Loopback reports whether H2T/T2H loopback is on.
func (d *Driver) Loopback() bool {
	return d.regs.Read32(csr.ConfigResetAndLoopback)&csr.FieldH2TT2HLoopback != 0
}

// EnableInterrupts sets or clears the interrupt enable field.
func (d *Driver) EnableInterrupts(on bool) {
	d.lockAll()
	defer d.unlockAll()

	rd := d.regs.Read32(csr.ConfigResetAndLoopback)
	if on {
		rd |= csr.FieldEnableInt
	} else {
		rd &^= csr.FieldEnableInt
	}
	d.regs.Write32(csr.ConfigResetAndLoopback, rd)
}

// InterruptsEnabled reports the interrupt enable field.
func (d *Driver) InterruptsEnabled() bool {
	return d.regs.Read32(csr.ConfigResetAndLoopback)&csr.FieldEnableInt != 0
}

// MaskInterrupts writes the interrupt mask (csr.MaskH2T and friends).
func (d *Driver) MaskInterrupts(mask uint32) error {
	const all = csr.MaskH2T | csr.MaskT2H | csr.MaskMgmt | csr.MaskMgmtRsp
	if mask&^all != 0 {
		return errs.Newf("mask_interrupts", errs.CodeInvalidParameters, "unknown mask bits 0x%x", mask&^all)
	}
	d.regs.Write32(csr.ConfigInterrupts, mask)
	return nil
}

// InterruptMask reads the interrupt mask.
func (d *Driver) InterruptMask() uint32 {
	return d.regs.Read32(csr.ConfigInterrupts)
}

// Identity returns the IP type and version read at init.
func (d *Driver) Identity() csr.Identity { return d.id }

// Layout returns the planned regions.
func (d *Driver) Layout() layout.Layout { return d.layout }

// MaxTransfer returns the largest single H2T/T2H transfer: the region size,
// capped at constants.MaxTransferLength.
func (d *Driver) MaxTransfer() int { return maxTransfer(d.layout.H2T) }

// MaxMgmtTransfer returns the largest single MGMT/MGMT-RSP transfer.
func (d *Driver) MaxMgmtTransfer() int { return maxTransfer(d.layout.Mgmt) }

func maxTransfer(r layout.Region) int {
	return int(min(r.Size, constants.MaxTransferLength))
}

// H2T returns the host-to-target data channel.
func (d *Driver) H2T() *TxChannel { return d.h2t }

// T2H returns the target-to-host data channel.
func (d *Driver) T2H() *RxChannel { return d.t2h }

// Mgmt returns the management channel, nil without management support.
func (d *Driver) Mgmt() *TxChannel { return d.mgmt }

// MgmtRsp returns the management response channel, nil without management
// support.
func (d *Driver) MgmtRsp() *RxChannel { return d.mgmtRsp }

// HasMgmtSupport reports whether the IP has a management channel pair.
func (d *Driver) HasMgmtSupport() bool { return d.mgmtSupported }
