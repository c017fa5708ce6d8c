// Package bridge moves payload bytes between process memory and the device
// window in 64-bit register transactions.
package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
	"github.com/ehrlich-b/go-etherlink/internal/layout"
)

const word = 8

// Words returns the number of 64-bit transactions needed to move n bytes.
func Words(n int) int {
	return (n + word - 1) / word
}

func check(op string, buf []byte, devAddr uint32, n int) error {
	if n < 0 {
		return errs.Newf(op, errs.CodeInvalidParameters, "negative length %d", n)
	}
	if need := Words(n) * word; len(buf) < need {
		return errs.Newf(op, errs.CodeInvalidParameters,
			"buffer of %d bytes cannot hold %d rounded to %d", len(buf), n, need)
	}
	if devAddr%csr.BuffAlign != 0 {
		return errs.Newf(op, errs.CodeInvalidParameters, "device address 0x%x is not 8-byte aligned", devAddr)
	}
	return nil
}

// CopyToHost reads ⌈n/8⌉ words starting at devAddr into dst. dst must hold
// the rounded length; the bytes past n are whatever the device holds.
func CopyToHost(regs interfaces.Registers, devAddr uint32, dst []byte, n int) error {
	if err := check("memcpy64_fpga2host", dst, devAddr, n); err != nil {
		return err
	}
	for i := 0; i < Words(n); i++ {
		binary.LittleEndian.PutUint64(dst[i*word:], regs.Read64(devAddr+uint32(i*word)))
	}
	return nil
}

// CopyToDevice writes ⌈n/8⌉ words from src starting at devAddr. src must hold
// the rounded length.
func CopyToDevice(regs interfaces.Registers, src []byte, devAddr uint32, n int) error {
	if err := check("memcpy64_host2fpga", src, devAddr, n); err != nil {
		return err
	}
	for i := 0; i < Words(n); i++ {
		regs.Write64(devAddr+uint32(i*word), binary.LittleEndian.Uint64(src[i*word:]))
	}
	csr.Fence()
	return nil
}

// split returns how many rounded bytes fit before the region end and how
// many continue at the region start.
func split(op string, r layout.Region, addr uint32, n int) (head, tail int, err error) {
	if !r.Contains(addr) {
		return 0, 0, errs.Newf(op, errs.CodeInvalidParameters, "address 0x%x outside region %s", addr, r)
	}
	rounded := Words(n) * word
	if uint64(rounded) > uint64(r.Size) {
		return 0, 0, errs.New(op, errs.CodeInvalidParameters,
			fmt.Sprintf("transfer of %d bytes exceeds region size %d", n, r.Size))
	}
	head = rounded
	if room := int(r.End() - addr); head > room {
		head = room
	}
	return head, rounded - head, nil
}

// ReadRegion copies n bytes starting at addr inside r into dst. A transfer
// that runs past the region end continues at the region start.
func ReadRegion(regs interfaces.Registers, r layout.Region, addr uint32, dst []byte, n int) error {
	head, tail, err := split("read_region", r, addr, n)
	if err != nil {
		return err
	}
	if len(dst) < head+tail {
		return errs.Newf("read_region", errs.CodeInvalidParameters,
			"buffer of %d bytes cannot hold %d", len(dst), head+tail)
	}
	if err := CopyToHost(regs, addr, dst[:head], head); err != nil {
		return err
	}
	if tail == 0 {
		return nil
	}
	return CopyToHost(regs, r.Base, dst[head:head+tail], tail)
}

// WriteRegion copies n bytes from src to addr inside r, continuing at the
// region start when the transfer runs past the region end.
func WriteRegion(regs interfaces.Registers, r layout.Region, src []byte, addr uint32, n int) error {
	head, tail, err := split("write_region", r, addr, n)
	if err != nil {
		return err
	}
	if len(src) < head+tail {
		return errs.Newf("write_region", errs.CodeInvalidParameters,
			"buffer of %d bytes cannot hold %d", len(src), head+tail)
	}
	if err := CopyToDevice(regs, src[:head], addr, head); err != nil {
		return err
	}
	if tail == 0 {
		return nil
	}
	return CopyToDevice(regs, src[head:head+tail], r.Base, tail)
}
