//go:build !linux

package csr

import "fmt"

// MMIO is a register window over a mapped UIO device. UIO is Linux-only.
type MMIO struct{}

// OpenUIO is available on Linux only.
func OpenUIO(path string, start uint32, size int) (*MMIO, error) {
	return nil, fmt.Errorf("UIO devices are not supported on this platform (%s)", path)
}

func (m *MMIO) Size() int                    { return 0 }
func (m *MMIO) Read32(off uint32) uint32     { return 0 }
func (m *MMIO) Read64(off uint32) uint64     { return 0 }
func (m *MMIO) Write32(off uint32, v uint32) {}
func (m *MMIO) Write64(off uint32, v uint64) {}
func (m *MMIO) Close() error                 { return nil }
