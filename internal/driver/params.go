package driver

import (
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/framing"
)

// Parameter names accepted by SetParam and Param.
const (
	ParamHWLoopback  = "HW_LOOPBACK"
	ParamMgmtSupport = "MGMT_SUPPORT"
)

// SetParam sets a named driver parameter. Only HW_LOOPBACK is writable and
// it takes "0" or "1".
func (d *Driver) SetParam(name, value string) error {
	const op = "set_param"

	switch name {
	case ParamHWLoopback:
		switch value {
		case "0":
			return d.SetLoopback(false)
		case "1":
			return d.SetLoopback(true)
		}
		return errs.Newf(op, errs.CodeConfig, "%s takes 0 or 1, got %q", name, value)
	case ParamMgmtSupport:
		return errs.Newf(op, errs.CodeConfig, "%s is read-only", name)
	}
	return errs.Newf(op, errs.CodeConfig, "unknown parameter %q", name)
}

// Param returns the value of a named driver parameter.
func (d *Driver) Param(name string) (string, error) {
	switch name {
	case ParamHWLoopback:
		return boolParam(d.Loopback()), nil
	case ParamMgmtSupport:
		return boolParam(d.mgmtSupported), nil
	}
	return "", errs.Newf("get_param", errs.CodeConfig, "unknown parameter %q", name)
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Driver) requireMgmt(op string) error {
	if !d.mgmtSupported {
		return errs.NewChannel(op, ChannelMgmt, errs.CodeInvalidParameters, "management channel not supported by the IP")
	}
	return nil
}

// GetH2TBuffer reserves n bytes of H2T device memory.
func (d *Driver) GetH2TBuffer(n int) (uint32, error) {
	return d.h2t.Reserve(n)
}

// H2TDataReceived pushes the H2T buffer at addr described by h.
func (d *Driver) H2TDataReceived(h framing.Header, addr uint32) error {
	return d.h2t.Push(h, addr)
}

// AcquireT2HData returns the next T2H transfer.
func (d *Driver) AcquireT2HData() (framing.Header, uint32, error) {
	return d.t2h.Acquire()
}

// T2HDataComplete retires the acquired T2H transfer.
func (d *Driver) T2HDataComplete() error {
	return d.t2h.Complete()
}

// GetMgmtBuffer reserves n bytes of MGMT device memory.
func (d *Driver) GetMgmtBuffer(n int) (uint32, error) {
	if err := d.requireMgmt("get_mgmt_buffer"); err != nil {
		return 0, err
	}
	return d.mgmt.Reserve(n)
}

// MgmtDataReceived pushes the MGMT buffer at addr described by h.
func (d *Driver) MgmtDataReceived(h framing.Header, addr uint32) error {
	if err := d.requireMgmt("mgmt_data_received"); err != nil {
		return err
	}
	return d.mgmt.Push(h, addr)
}

// AcquireMgmtRspData returns the next MGMT-RSP transfer.
func (d *Driver) AcquireMgmtRspData() (framing.Header, uint32, error) {
	if err := d.requireMgmt("acquire_mgmt_rsp_data"); err != nil {
		return framing.Header{}, 0, err
	}
	return d.mgmtRsp.Acquire()
}

// MgmtRspDataComplete retires the acquired MGMT-RSP transfer.
func (d *Driver) MgmtRspDataComplete() error {
	if err := d.requireMgmt("mgmt_rsp_data_complete"); err != nil {
		return err
	}
	return d.mgmtRsp.Complete()
}
