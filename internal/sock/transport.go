package sock

import (
	"fmt"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/framing"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
)

// DeviceReader copies n bytes at a device address into p. p holds at least
// n rounded up to 8 bytes.
type DeviceReader interface {
	ReadDevice(addr uint32, p []byte, n int) error
}

// DeviceWriter copies n bytes from p to a device address. p holds at least
// n rounded up to 8 bytes.
type DeviceWriter interface {
	WriteDevice(addr uint32, p []byte, n int) error
}

// Transport moves device buffers over one client socket. It owns one
// scratch buffer per direction, sized once, so payload copies never
// allocate. Each direction may be used by one goroutine at a time.
//
// Release hands the scratch buffers back to the pool; the Transport must
// not be used afterwards.
type Transport struct {
	s           interfaces.Socket
	maxTransfer int
	sendBuf     []byte
	recvBuf     []byte
	sendHdr     [framing.HeaderSize]byte
	recvHdr     [framing.HeaderSize]byte
}

// NewTransport creates a transport for transfers of up to maxTransfer bytes.
func NewTransport(s interfaces.Socket, maxTransfer int) *Transport {
	size := maxTransfer + constants.HeaderScratch
	return &Transport{
		s:           s,
		maxTransfer: maxTransfer,
		sendBuf:     getScratch(size),
		recvBuf:     getScratch(size),
	}
}

// Release returns the scratch buffers to the pool. It is a no-op on a
// released Transport.
func (t *Transport) Release() {
	if t.sendBuf != nil {
		putScratch(t.sendBuf)
		t.sendBuf = nil
	}
	if t.recvBuf != nil {
		putScratch(t.recvBuf)
		t.recvBuf = nil
	}
}

// MaxTransfer returns the largest payload the scratch buffers hold.
func (t *Transport) MaxTransfer() int { return t.maxTransfer }

// Socket returns the underlying socket.
func (t *Transport) Socket() interfaces.Socket { return t.s }

func (t *Transport) checkLen(op string, n int) error {
	if n < 0 || n > t.maxTransfer {
		return errs.New(op, errs.CodeInvalidParameters,
			fmt.Sprintf("transfer of %d bytes outside [0, %d]", n, t.maxTransfer))
	}
	return nil
}

// SendDeviceBuffer copies n bytes from the device at addr into the send
// scratch buffer and sends them.
func (t *Transport) SendDeviceBuffer(src DeviceReader, addr uint32, n int) (int, error) {
	const op = "send_device_buffer"
	if err := t.checkLen(op, n); err != nil {
		return 0, err
	}
	if err := src.ReadDevice(addr, t.sendBuf, n); err != nil {
		return 0, errs.Wrap(op, errs.CodeInvalidParameters, err)
	}
	return SendAll(t.s, t.sendBuf[:n])
}

// RecvDeviceBuffer receives exactly n bytes into the receive scratch buffer
// and copies them to the device at addr. Nothing reaches the device unless
// all n bytes arrived.
func (t *Transport) RecvDeviceBuffer(dst DeviceWriter, addr uint32, n int) (int, error) {
	const op = "recv_device_buffer"
	if err := t.checkLen(op, n); err != nil {
		return 0, err
	}
	got, err := RecvAccumulate(t.s, t.recvBuf[:n])
	if err != nil {
		return got, err
	}
	if err := dst.WriteDevice(addr, t.recvBuf, n); err != nil {
		return got, errs.Wrap(op, errs.CodeInvalidParameters, err)
	}
	return got, nil
}

// SendHeader sends one transfer header.
func (t *Transport) SendHeader(h framing.Header) error {
	h.Put(t.sendHdr[:])
	_, err := SendAll(t.s, t.sendHdr[:])
	return err
}

// RecvHeader receives one transfer header.
func (t *Transport) RecvHeader() (framing.Header, error) {
	var h framing.Header
	if _, err := RecvAccumulate(t.s, t.recvHdr[:]); err != nil {
		return h, err
	}
	err := h.UnmarshalBinary(t.recvHdr[:])
	return h, err
}
