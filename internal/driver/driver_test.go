package driver

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/framing"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
	"github.com/ehrlich-b/go-etherlink/internal/simdev"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:  logging.LevelError,
		Output: io.Discard,
		Sync:   true,
	})
}

func newDriver(t *testing.T, mutate func(*simdev.Config)) (*Driver, *simdev.Device) {
	t.Helper()
	cfg := simdev.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	dev, err := simdev.New(cfg)
	require.NoError(t, err)

	d, err := New(Config{Registers: dev, Logger: quietLogger()})
	require.NoError(t, err)
	return d, dev
}

// pushPayload reserves, copies and pushes payload on the H2T channel.
func pushPayload(t *testing.T, d *Driver, payload []byte, h framing.Header) uint32 {
	t.Helper()
	addr, err := d.GetH2TBuffer(len(payload))
	require.NoError(t, err)

	buf := make([]byte, (len(payload)+7)&^7)
	copy(buf, payload)
	require.NoError(t, d.H2T().WriteDevice(addr, buf, len(payload)))

	h.DataLen = uint16(len(payload))
	require.NoError(t, d.H2TDataReceived(h, addr))
	return addr
}

func TestNew(t *testing.T) {
	d, dev := newDriver(t, nil)

	assert.Equal(t, csr.Identity{Type: csr.SupportedTypeSignature, Version: 1}, d.Identity())
	assert.Equal(t, uint32(0x1000), d.Layout().H2T.Base)
	assert.Equal(t, uint32(0x2000), d.Layout().T2H.Base)
	assert.Equal(t, 4096, d.MaxTransfer())
	assert.Equal(t, 128, d.MaxMgmtTransfer())
	assert.True(t, d.HasMgmtSupport())
	require.NotNil(t, d.Mgmt())
	require.NotNil(t, d.MgmtRsp())

	st := d.H2T().Stats()
	assert.Equal(t, TxStats{SlotsAvailable: 16, Depth: 16, BytesFree: 4096, Capacity: 4096}, st)
	assert.Equal(t, uint64(1), dev.Stats().Resets, "init asserts the H2T/T2H reset")
}

func TestMaxTransferCapped(t *testing.T) {
	d, _ := newDriver(t, func(c *simdev.Config) {
		c.H2TT2HSize = 128 * 1024
		c.MgmtSize = 256
	})
	assert.Equal(t, uint32(128*1024), d.Layout().H2T.Size)
	assert.Equal(t, 0xFFFF, d.MaxTransfer())
	assert.Equal(t, 256, d.MaxMgmtTransfer())
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*simdev.Config)
		want   error
	}{
		{"wrong signature", func(c *simdev.Config) { c.Type = 0xDEADBEEF }, errs.ErrIncompatibleDevice},
		{"future version", func(c *simdev.Config) { c.Version = 2 }, errs.ErrIncompatibleDevice},
		{"h2t depth too deep", func(c *simdev.Config) { c.H2TDepth = 129 }, errs.ErrConfig},
		{"mgmt depth too deep", func(c *simdev.Config) { c.MgmtDepth = 200 }, errs.ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := simdev.DefaultConfig()
			tt.mutate(&cfg)
			dev, err := simdev.New(cfg)
			require.NoError(t, err)

			_, err = New(Config{Registers: dev, Logger: quietLogger()})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := New(Config{})
	assert.True(t, errors.Is(err, errs.ErrInvalidParameters))
}

func TestNewVersionZero(t *testing.T) {
	dev, err := simdev.New(simdev.Config{
		Version:    0,
		H2TT2HSize: 1024,
		H2TDepth:   8,
		MgmtDepth:  4,
	})
	require.NoError(t, err)

	d, err := New(Config{Registers: dev, FallbackSize: 1024, Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, uint32(0x800), d.Layout().H2T.Base, "small windows use the legacy bases")
	assert.Equal(t, uint32(1024), d.Layout().H2T.Size)
	assert.False(t, d.HasMgmtSupport(), "no management region without reported sizes")
	assert.Nil(t, d.Mgmt())

	_, err = d.GetMgmtBuffer(8)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameters))
	_, _, err = d.AcquireMgmtRspData()
	assert.True(t, errors.Is(err, errs.ErrInvalidParameters))
	assert.Error(t, d.MgmtDataReceived(framing.Header{DataLen: 8}, 0))
	assert.Error(t, d.MgmtRspDataComplete())
}

func TestNewIgnoredSizeMessage(t *testing.T) {
	dev, err := simdev.New(simdev.DefaultConfig())
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.Config{
		Level:   logging.LevelInfo,
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	})
	d, err := New(Config{Registers: dev, FallbackSize: 8192, Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, uint32(4096), d.Layout().H2T.Size, "CSR size wins")
	assert.Contains(t, buf.String(), "configured size is ignored")
}

func TestReserveScenario(t *testing.T) {
	d, dev := newDriver(t, nil)

	addr := pushPayload(t, d, make([]byte, 100), framing.Header{SOP: true, EOP: true})
	assert.Equal(t, uint32(0x1000), addr)
	assert.Equal(t, uint32(4096-104), d.H2T().Stats().BytesFree)

	_, err := d.GetH2TBuffer(4000)
	assert.True(t, errors.Is(err, errs.ErrNoSpace))
	assert.True(t, errs.IsBackpressure(err))

	done := dev.CompleteH2T(1)
	require.Len(t, done, 1)
	assert.Equal(t, uint32(100), done[0].Len)
	assert.True(t, done[0].Last)

	addr, err = d.GetH2TBuffer(4000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1068), addr)
}

func TestReserveWithoutSlots(t *testing.T) {
	d, dev := newDriver(t, func(c *simdev.Config) { c.H2TDepth = 2 })

	pushPayload(t, d, []byte("one"), framing.Header{})
	pushPayload(t, d, []byte("two"), framing.Header{EOP: true})

	_, err := d.GetH2TBuffer(8)
	assert.True(t, errors.Is(err, errs.ErrNoSpace))

	dev.CompleteH2T(1)
	_, err = d.GetH2TBuffer(8)
	assert.NoError(t, err)
	d.H2T().Cancel()
	assert.Equal(t, 1, d.H2T().Stats().InFlight)
}

func TestPushValidation(t *testing.T) {
	d, _ := newDriver(t, nil)

	err := d.H2TDataReceived(framing.Header{DataLen: 8}, 0x1000)
	assert.True(t, errors.Is(err, errs.ErrInconsistentState), "push without reservation")

	addr, err := d.GetH2TBuffer(16)
	require.NoError(t, err)

	tests := []struct {
		name string
		h    framing.Header
		addr uint32
		want error
	}{
		{"zero length", framing.Header{}, addr, errs.ErrInvalidParameters},
		{"wrong address", framing.Header{DataLen: 16}, addr + 8, errs.ErrInvalidParameters},
		{"longer than reserved", framing.Header{DataLen: 17}, addr, errs.ErrInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.H2TDataReceived(tt.h, tt.addr)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	// the reservation survives rejected pushes
	require.NoError(t, d.H2TDataReceived(framing.Header{DataLen: 12, EOP: true}, addr))
}

func TestWrappedTransfer(t *testing.T) {
	d, dev := newDriver(t, nil)

	pushPayload(t, d, make([]byte, 4000), framing.Header{EOP: true})
	dev.CompleteH2T(1)

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	addr := pushPayload(t, d, payload, framing.Header{EOP: true, Channel: 3})
	assert.Equal(t, uint32(0x1000+4000), addr)

	done := dev.CompleteH2T(1)
	require.Len(t, done, 1)
	assert.Equal(t, payload, done[0].Payload, "payload continues at the region start")
	assert.Equal(t, uint16(3), done[0].Channel)
}

func TestLoopbackRoundTrip(t *testing.T) {
	d, dev := newDriver(t, nil)
	require.NoError(t, d.SetLoopback(true))
	assert.True(t, d.Loopback())

	payload := []byte("hello, target")
	pushPayload(t, d, payload, framing.Header{SOP: true, EOP: true, ConnID: 3, Channel: 7})
	assert.Equal(t, 1, dev.Stats().T2HReady)

	h, addr, err := d.AcquireT2HData()
	require.NoError(t, err)
	assert.Equal(t, framing.Header{DataLen: uint16(len(payload)), SOP: true, EOP: true, ConnID: 3, Channel: 7}, h)
	assert.Equal(t, d.Layout().T2H.Base, addr)

	out := make([]byte, 16)
	require.NoError(t, d.T2H().ReadDevice(addr, out, int(h.DataLen)))
	assert.Equal(t, payload, out[:len(payload)])

	require.NoError(t, d.T2HDataComplete())
	_, _, err = d.AcquireT2HData()
	assert.True(t, errors.Is(err, errs.ErrNoData))
}

func TestMgmtLoopbackRoundTrip(t *testing.T) {
	d, _ := newDriver(t, nil)
	require.NoError(t, d.SetLoopback(true))

	addr, err := d.GetMgmtBuffer(20)
	require.NoError(t, err)
	assert.Equal(t, d.Layout().Mgmt.Base, addr)

	payload := []byte("mgmt request 0123456")[:20]
	buf := make([]byte, 24)
	copy(buf, payload)
	require.NoError(t, d.Mgmt().WriteDevice(addr, buf, 20))
	require.NoError(t, d.MgmtDataReceived(framing.Header{DataLen: 20, SOP: true, EOP: true, Channel: 12}, addr))

	h, rspAddr, err := d.AcquireMgmtRspData()
	require.NoError(t, err)
	assert.Equal(t, uint16(20), h.DataLen)
	assert.Equal(t, uint16(12), h.Channel)
	assert.Zero(t, h.ConnID)

	out := make([]byte, 24)
	require.NoError(t, d.MgmtRsp().ReadDevice(rspAddr, out, 20))
	assert.Equal(t, payload, out[:20])
	require.NoError(t, d.MgmtRspDataComplete())
}

func TestPacketMarkersAcrossFragments(t *testing.T) {
	d, dev := newDriver(t, nil)

	for _, last := range []bool{false, false, true, true} {
		require.True(t, dev.QueueT2H([]byte("fragment"), last, 1, 2))
	}

	want := []struct{ sop, eop bool }{
		{true, false},
		{false, false},
		{false, true},
		{true, true},
	}
	for i, w := range want {
		h, _, err := d.AcquireT2HData()
		require.NoError(t, err, "fragment %d", i)
		assert.Equal(t, w.sop, h.SOP, "fragment %d SOP", i)
		assert.Equal(t, w.eop, h.EOP, "fragment %d EOP", i)
		require.NoError(t, d.T2HDataComplete())
	}
}

func TestAcquireIdempotentUntilComplete(t *testing.T) {
	d, dev := newDriver(t, nil)
	require.True(t, dev.QueueT2H([]byte("a"), false, 0, 1))
	require.True(t, dev.QueueT2H([]byte("b"), true, 0, 1))

	h1, a1, err := d.AcquireT2HData()
	require.NoError(t, err)
	h2, a2, err := d.AcquireT2HData()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, a1, a2)

	require.NoError(t, d.T2HDataComplete())
	err = d.T2HDataComplete()
	assert.True(t, errors.Is(err, errs.ErrInconsistentState))

	h3, _, err := d.AcquireT2HData()
	require.NoError(t, err)
	assert.False(t, h3.SOP, "the first fragment did not end the packet")
	assert.True(t, h3.EOP)
}

// skewedRegs reports fixed values for selected 64-bit registers.
type skewedRegs struct {
	*simdev.Device
	read64 map[uint32]uint64
}

func (r *skewedRegs) Read64(off uint32) uint64 {
	if v, ok := r.read64[off]; ok {
		return v
	}
	return r.Device.Read64(off)
}

func TestAcquireInconsistentHardware(t *testing.T) {
	tests := []struct {
		name    string
		howLong uint64
	}{
		{"length beyond 16 bits", framing.PackHowLongWhere(framing.EncodeHowLong(0x10000, true), 0)},
		{"length beyond region", framing.PackHowLongWhere(framing.EncodeHowLong(8192, true), 0)},
		{"payload outside region", framing.PackHowLongWhere(framing.EncodeHowLong(8, true), 4096)},
		{"unaligned payload", framing.PackHowLongWhere(framing.EncodeHowLong(8, true), 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := simdev.New(simdev.DefaultConfig())
			require.NoError(t, err)
			regs := &skewedRegs{Device: dev, read64: map[uint32]uint64{csr.T2HHowLong: tt.howLong}}

			d, err := New(Config{Registers: regs, Logger: quietLogger()})
			require.NoError(t, err)

			_, _, err = d.AcquireT2HData()
			assert.True(t, errors.Is(err, errs.ErrInconsistentState), "got %v", err)
		})
	}
}

func TestReset(t *testing.T) {
	d, dev := newDriver(t, nil)

	pushPayload(t, d, make([]byte, 64), framing.Header{SOP: true})
	_, err := d.GetH2TBuffer(32)
	require.NoError(t, err)
	require.True(t, dev.QueueT2H([]byte("partial"), false, 0, 0))
	_, _, err = d.AcquireT2HData()
	require.NoError(t, err)

	require.NoError(t, d.Reset())

	assert.Equal(t, TxStats{SlotsAvailable: 16, Depth: 16, BytesFree: 4096, Capacity: 4096}, d.H2T().Stats())
	assert.Zero(t, dev.Stats().H2TInFlight)
	assert.Zero(t, dev.Stats().T2HReady)

	addr, err := d.GetH2TBuffer(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), addr, "cursor back at the region start")
	assert.Error(t, d.T2HDataComplete(), "acquired descriptor dropped")

	require.True(t, dev.QueueT2H([]byte("fresh"), true, 0, 0))
	h, _, err := d.AcquireT2HData()
	require.NoError(t, err)
	assert.True(t, h.SOP, "framing state restarts")
}

func TestLoopbackClearKeepsOtherBits(t *testing.T) {
	d, dev := newDriver(t, nil)

	d.EnableInterrupts(true)
	require.NoError(t, d.SetLoopback(true))
	require.NoError(t, d.SetLoopback(false))

	assert.False(t, d.Loopback())
	assert.True(t, d.InterruptsEnabled())
	assert.Zero(t, dev.Read32(csr.ConfigResetAndLoopback)&csr.FieldMgmtRspLoopback)
	assert.Equal(t, uint64(3), dev.Stats().Resets, "every loopback change resets the channels")
}

func TestParams(t *testing.T) {
	d, _ := newDriver(t, nil)

	v, err := d.Param(ParamHWLoopback)
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	require.NoError(t, d.SetParam(ParamHWLoopback, "1"))
	v, _ = d.Param(ParamHWLoopback)
	assert.Equal(t, "1", v)

	v, err = d.Param(ParamMgmtSupport)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	tests := []struct {
		name, param, value string
	}{
		{"bad loopback value", ParamHWLoopback, "yes"},
		{"empty loopback value", ParamHWLoopback, ""},
		{"read-only", ParamMgmtSupport, "0"},
		{"unknown", "H2T_DEPTH", "4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.SetParam(tt.param, tt.value)
			assert.True(t, errors.Is(err, errs.ErrConfig), "got %v", err)
		})
	}

	_, err = d.Param("nope")
	assert.True(t, errors.Is(err, errs.ErrConfig))
	assert.True(t, d.Loopback(), "failed sets leave loopback alone")
}

func TestInterrupts(t *testing.T) {
	d, _ := newDriver(t, nil)

	assert.False(t, d.InterruptsEnabled())
	d.EnableInterrupts(true)
	assert.True(t, d.InterruptsEnabled())
	d.EnableInterrupts(false)
	assert.False(t, d.InterruptsEnabled())

	require.NoError(t, d.MaskInterrupts(csr.MaskH2T|csr.MaskMgmtRsp))
	assert.Equal(t, uint32(csr.MaskH2T|csr.MaskMgmtRsp), d.InterruptMask())

	err := d.MaskInterrupts(0x100)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameters))
	assert.True(t, strings.Contains(err.Error(), "0x100"))
}
