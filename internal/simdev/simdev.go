// Package simdev is a software model of the streaming debug IP. It implements
// the register interface over a flat memory window, keeps descriptor FIFOs
// for the four channels and can loop H2T traffic back to T2H the way the
// hardware loopback mode does.
package simdev

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/framing"
	"github.com/ehrlich-b/go-etherlink/internal/layout"
)

// Config describes the simulated IP.
type Config struct {
	Type        uint32 // defaults to the supported signature
	Version     uint32 // 0 hides the memory sizes from the CSRs
	H2TT2HSize  uint32 // bytes per H2T/T2H region
	MgmtSize    uint32 // bytes per MGMT/MGMT-RSP region, 0 for none
	H2TDepth    uint32
	MgmtDepth   uint32
	DisableMgmt bool // report a zero MGMT depth
}

// DefaultConfig is a version 1 IP with 4KB data regions and a 128 byte
// management pair.
func DefaultConfig() Config {
	return Config{
		Type:       csr.SupportedTypeSignature,
		Version:    1,
		H2TT2HSize: 4096,
		MgmtSize:   128,
		H2TDepth:   16,
		MgmtDepth:  4,
	}
}

// Descriptor is one transfer as seen by the device.
type Descriptor struct {
	Addr    uint32 // absolute device address
	Len     uint32
	Last    bool
	ConnID  uint8
	Channel uint16
	Payload []byte
}

type pushChannel struct {
	region  layout.Region
	depth   uint32
	howLong uint32
	where   uint32
	conn    uint32
	flight  []Descriptor
}

type pullChannel struct {
	region layout.Region
	cursor uint32
	used   uint32
	ready  []Descriptor
}

// Device is the simulated IP. All methods are safe for concurrent use.
type Device struct {
	mu sync.Mutex

	cfg    Config
	layout layout.Layout
	mem    []byte

	control    uint32 // loopback and interrupt enable bits; resets self-clear
	interrupts uint32

	h2t, mgmt    pushChannel
	t2h, mgmtRsp pullChannel

	resets         uint64
	pushes         uint64
	dataLoopbacked uint64
}

// New creates a simulated IP.
func New(cfg Config) (*Device, error) {
	if cfg.Type == 0 {
		cfg.Type = csr.SupportedTypeSignature
	}
	id := csr.Identity{Type: csr.SupportedTypeSignature, Version: 1}
	l, err := layout.Plan(id, cfg.H2TT2HSize, cfg.MgmtSize, 0)
	if err != nil {
		return nil, fmt.Errorf("simdev: %w", err)
	}

	end := uint32(csr.CSRSpan)
	for _, r := range []layout.Region{l.H2T, l.T2H, l.Mgmt, l.MgmtRsp} {
		if r.End() > end {
			end = r.End()
		}
	}

	d := &Device{
		cfg:    cfg,
		layout: l,
		mem:    make([]byte, end),
	}
	d.h2t = pushChannel{region: l.H2T, depth: cfg.H2TDepth}
	d.mgmt = pushChannel{region: l.Mgmt, depth: cfg.MgmtDepth}
	d.t2h = pullChannel{region: l.T2H}
	d.mgmtRsp = pullChannel{region: l.MgmtRsp}
	return d, nil
}

// Layout returns the region layout the device was built with.
func (d *Device) Layout() layout.Layout { return d.layout }

// Size returns the size of the simulated window.
func (d *Device) Size() int { return len(d.mem) }

// Read32 implements interfaces.Registers.
func (d *Device) Read32(off uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch off {
	case csr.ConfigType:
		return d.cfg.Type
	case csr.ConfigVersion:
		return d.cfg.Version
	case csr.ConfigResetAndLoopback:
		return d.control
	case csr.ConfigH2TT2HMem:
		return d.sizeWord(d.cfg.H2TT2HSize)
	case csr.ConfigMgmtMgmtRspMem:
		return d.sizeWord(d.cfg.MgmtSize)
	case csr.ConfigH2TT2HDescDepth:
		return d.cfg.H2TDepth
	case csr.ConfigMgmtMgmtRspDescDepth:
		return d.mgmtDepth()
	case csr.ConfigInterrupts:
		return d.interrupts
	case csr.H2TAvailableSlots:
		return d.h2t.depth - uint32(len(d.h2t.flight))
	case csr.MgmtAvailableSlots:
		return d.mgmt.depth - uint32(len(d.mgmt.flight))
	case csr.T2HHowLong:
		return uint32(d.t2h.headWord())
	case csr.T2HWhere:
		return uint32(d.t2h.headWord() >> 32)
	case csr.T2HConnectionID:
		if len(d.t2h.ready) > 0 {
			return uint32(d.t2h.ready[0].ConnID)
		}
		return 0
	case csr.T2HChannelIDAdvance:
		return uint32(d.t2h.headChannel())
	case csr.MgmtRspHowLong:
		return uint32(d.mgmtRsp.headWord())
	case csr.MgmtRspWhere:
		return uint32(d.mgmtRsp.headWord() >> 32)
	case csr.MgmtRspChannelIDAdvance:
		return uint32(d.mgmtRsp.headChannel())
	}
	if off < csr.CSRSpan {
		return 0
	}
	return uint32(d.load(off, 4))
}

// Read64 implements interfaces.Registers.
func (d *Device) Read64(off uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch off {
	case csr.ConfigType:
		return uint64(d.cfg.Type) | uint64(d.cfg.Version)<<32
	case csr.ConfigH2TT2HMem:
		return uint64(d.sizeWord(d.cfg.H2TT2HSize)) | uint64(d.sizeWord(d.cfg.MgmtSize))<<32
	case csr.ConfigH2TT2HDescDepth:
		return uint64(d.cfg.H2TDepth) | uint64(d.mgmtDepth())<<32
	case csr.T2HHowLong:
		return d.t2h.headWord()
	case csr.T2HConnectionID:
		if len(d.t2h.ready) == 0 {
			return 0
		}
		h := d.t2h.ready[0]
		return framing.PackConnChannel(h.ConnID, h.Channel)
	case csr.MgmtRspHowLong:
		return d.mgmtRsp.headWord()
	}
	if off < csr.CSRSpan {
		return 0
	}
	return d.load(off, 8)
}

// Write32 implements interfaces.Registers.
func (d *Device) Write32(off, v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch off {
	case csr.ConfigResetAndLoopback:
		d.writeControl(v)
	case csr.ConfigInterrupts:
		d.interrupts = v & (csr.MaskH2T | csr.MaskT2H | csr.MaskMgmt | csr.MaskMgmtRsp)
	case csr.H2THowLong:
		d.h2t.howLong = v
	case csr.H2TWhere:
		d.h2t.where = v
	case csr.H2TConnectionID:
		d.h2t.conn = v
	case csr.H2TChannelIDPush:
		d.push(&d.h2t, uint16(v))
	case csr.MgmtHowLong:
		d.mgmt.howLong = v
	case csr.MgmtWhere:
		d.mgmt.where = v
	case csr.MgmtChannelIDPush:
		d.push(&d.mgmt, uint16(v))
	case csr.T2HDescriptorsDone:
		d.retire(&d.t2h, v)
	case csr.MgmtRspDescriptorsDone:
		d.retire(&d.mgmtRsp, v)
	default:
		if off >= csr.CSRSpan {
			d.store(off, uint64(v), 4)
		}
	}
}

// Write64 implements interfaces.Registers.
func (d *Device) Write64(off uint32, v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch off {
	case csr.H2THowLong:
		d.h2t.howLong, d.h2t.where = framing.UnpackHowLongWhere(v)
	case csr.H2TConnectionID:
		d.h2t.conn = uint32(v)
		d.push(&d.h2t, uint16(v>>32))
	case csr.MgmtHowLong:
		d.mgmt.howLong, d.mgmt.where = framing.UnpackHowLongWhere(v)
	default:
		if off >= csr.CSRSpan {
			d.store(off, v, 8)
		}
	}
}

// sizeWord hides CSR-reported geometry on version 0 IPs.
func (d *Device) sizeWord(v uint32) uint32 {
	if d.cfg.Version == 0 {
		return 0
	}
	return v
}

func (d *Device) mgmtDepth() uint32 {
	if d.cfg.DisableMgmt {
		return 0
	}
	return d.cfg.MgmtDepth
}

func (d *Device) load(off uint32, width int) uint64 {
	if int(off)+width > len(d.mem) {
		panic(fmt.Sprintf("simdev: read of %d bytes at 0x%x outside window of %d", width, off, len(d.mem)))
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(d.mem[int(off)+i])
	}
	return v
}

func (d *Device) store(off uint32, v uint64, width int) {
	if int(off)+width > len(d.mem) {
		panic(fmt.Sprintf("simdev: write of %d bytes at 0x%x outside window of %d", width, off, len(d.mem)))
	}
	for i := 0; i < width; i++ {
		d.mem[int(off)+i] = byte(v >> (8 * i))
	}
}

func (d *Device) writeControl(v uint32) {
	if v&csr.FieldH2TT2HReset != 0 {
		d.h2t.flight = nil
		d.t2h.ready = nil
		d.t2h.cursor, d.t2h.used = 0, 0
		d.resets++
	}
	if v&csr.FieldMgmtRspReset != 0 {
		d.mgmt.flight = nil
		d.mgmtRsp.ready = nil
		d.mgmtRsp.cursor, d.mgmtRsp.used = 0, 0
	}
	d.control = v &^ (csr.FieldH2TT2HReset | csr.FieldMgmtRspReset)
}

// copyOut reads n bytes at addr inside r, wrapping at the region end.
func (d *Device) copyOut(r layout.Region, addr uint32, n uint32) []byte {
	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		a := r.Base + (addr-r.Base+i)%r.Size
		out[i] = d.mem[a]
	}
	return out
}

func (d *Device) copyIn(r layout.Region, addr uint32, p []byte) {
	for i := range p {
		a := r.Base + (addr-r.Base+uint32(i))%r.Size
		d.mem[a] = p[i]
	}
}

func (d *Device) push(ch *pushChannel, channel uint16) {
	if uint32(len(ch.flight)) >= ch.depth || ch.region.Empty() {
		// real hardware drops a push with no free slot
		return
	}
	n, last := framing.DecodeHowLong(ch.howLong)
	desc := Descriptor{
		Addr:    ch.where,
		Len:     n,
		Last:    last,
		Channel: channel,
	}
	if ch == &d.h2t {
		desc.ConnID = uint8(ch.conn)
	}
	if ch.region.Contains(ch.where) && n <= ch.region.Size {
		desc.Payload = d.copyOut(ch.region, ch.where, n)
	}
	ch.flight = append(ch.flight, desc)
	d.pushes++
	d.loopback()
}

// loopback moves pushed descriptors to the matching pull channel while the
// loopback bit is set and the pull region has room.
func (d *Device) loopback() {
	if d.control&csr.FieldH2TT2HLoopback != 0 {
		for len(d.h2t.flight) > 0 && d.t2h.enqueue(d, d.h2t.flight[0]) {
			d.h2t.flight = d.h2t.flight[1:]
			d.dataLoopbacked++
		}
	}
	if d.control&csr.FieldMgmtRspLoopback != 0 {
		for len(d.mgmt.flight) > 0 && d.mgmtRsp.enqueue(d, d.mgmt.flight[0]) {
			d.mgmt.flight = d.mgmt.flight[1:]
		}
	}
}

func aligned(n uint32) uint32 {
	return (n + csr.BuffAlign - 1) &^ (csr.BuffAlign - 1)
}

// enqueue copies desc.Payload into the pull region and makes it visible.
func (p *pullChannel) enqueue(d *Device, desc Descriptor) bool {
	if p.region.Empty() {
		return false
	}
	need := aligned(desc.Len)
	if need > p.region.Size-p.used {
		return false
	}
	addr := p.region.Base + p.cursor
	payload := desc.Payload
	if uint32(len(payload)) < desc.Len {
		payload = append(payload, make([]byte, int(desc.Len)-len(payload))...)
	}
	d.copyIn(p.region, addr, payload[:desc.Len])

	desc.Addr = addr
	p.ready = append(p.ready, desc)
	p.cursor = (p.cursor + need) % p.region.Size
	p.used += need
	return true
}

func (p *pullChannel) headWord() uint64 {
	if len(p.ready) == 0 {
		return 0
	}
	h := p.ready[0]
	return framing.PackHowLongWhere(framing.EncodeHowLong(h.Len, h.Last), h.Addr-p.region.Base)
}

func (p *pullChannel) headChannel() uint16 {
	if len(p.ready) == 0 {
		return 0
	}
	return p.ready[0].Channel
}

func (d *Device) retire(p *pullChannel, v uint32) {
	if v == 0 || len(p.ready) == 0 {
		return
	}
	p.used -= aligned(p.ready[0].Len)
	p.ready = p.ready[1:]
	d.loopback()
}

// QueueT2H makes payload available on the T2H channel as one descriptor.
// It returns false when the T2H region has no room.
func (d *Device) QueueT2H(payload []byte, last bool, conn uint8, channel uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.t2h.enqueue(d, Descriptor{
		Len:     uint32(len(payload)),
		Last:    last,
		ConnID:  conn,
		Channel: channel,
		Payload: append([]byte(nil), payload...),
	})
}

// QueueMgmtRsp makes payload available on the MGMT-RSP channel.
func (d *Device) QueueMgmtRsp(payload []byte, last bool, channel uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mgmtRsp.enqueue(d, Descriptor{
		Len:     uint32(len(payload)),
		Last:    last,
		Channel: channel,
		Payload: append([]byte(nil), payload...),
	})
}

// CompleteH2T retires up to n of the oldest pushed H2T descriptors and
// returns them, freeing their slots.
func (d *Device) CompleteH2T(n int) []Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return complete(&d.h2t, n)
}

// CompleteMgmt retires up to n of the oldest pushed MGMT descriptors.
func (d *Device) CompleteMgmt(n int) []Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return complete(&d.mgmt, n)
}

func complete(ch *pushChannel, n int) []Descriptor {
	if n > len(ch.flight) {
		n = len(ch.flight)
	}
	out := ch.flight[:n:n]
	ch.flight = ch.flight[n:]
	return out
}

// Stats is a snapshot of device counters.
type Stats struct {
	Resets       uint64
	Pushes       uint64
	Loopbacked   uint64
	H2TInFlight  int
	T2HReady     int
	MgmtInFlight int
	MgmtRspReady int
}

// Stats returns a snapshot of device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Resets:       d.resets,
		Pushes:       d.pushes,
		Loopbacked:   d.dataLoopbacked,
		H2TInFlight:  len(d.h2t.flight),
		T2HReady:     len(d.t2h.ready),
		MgmtInFlight: len(d.mgmt.flight),
		MgmtRspReady: len(d.mgmtRsp.ready),
	}
}

// Close implements interfaces.RegisterCloser.
func (d *Device) Close() error { return nil }
