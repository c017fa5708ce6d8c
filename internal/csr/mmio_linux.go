//go:build linux

package csr

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
)

// MMIO is a register window over a mapped UIO device.
type MMIO struct {
	path  string
	fd    int
	mem   []byte
	start uint32
}

// OpenUIO maps the UIO device at path. start is the offset of the IP's CSR
// block inside the mapping. A zero size is taken from sysfs, falling back to
// constants.DefaultMapSize.
func OpenUIO(path string, start uint32, size int) (*MMIO, error) {
	logger := logging.Default()

	if size == 0 {
		size = uioMapSize(path)
	}
	if int(start) >= size {
		return nil, fmt.Errorf("start address 0x%x outside %d-byte mapping of %s", start, size, path)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	logger.Debug("mapped UIO device", "path", path, "size", size, "start", start)

	return &MMIO{
		path:  path,
		fd:    fd,
		mem:   mem,
		start: start,
	}, nil
}

// uioMapSize reads /sys/class/uio/<dev>/maps/map0/size.
func uioMapSize(path string) int {
	name := filepath.Base(path)
	raw, err := os.ReadFile(filepath.Join("/sys/class/uio", name, "maps", "map0", "size"))
	if err != nil {
		return constants.DefaultMapSize
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 64)
	if err != nil || v == 0 {
		return constants.DefaultMapSize
	}
	return int(v)
}

// Size returns the number of addressable bytes above the start offset.
func (m *MMIO) Size() int {
	return len(m.mem) - int(m.start)
}

func (m *MMIO) ptr(off uint32, width int) unsafe.Pointer {
	idx := int(m.start) + int(off)
	if idx < 0 || idx+width > len(m.mem) {
		panic(fmt.Sprintf("csr: offset 0x%x out of %s window", off, m.path))
	}
	return unsafe.Pointer(&m.mem[idx])
}

// Read32 implements interfaces.Registers
func (m *MMIO) Read32(off uint32) uint32 {
	return atomic.LoadUint32((*uint32)(m.ptr(off, 4)))
}

// Read64 implements interfaces.Registers
func (m *MMIO) Read64(off uint32) uint64 {
	return atomic.LoadUint64((*uint64)(m.ptr(off, 8)))
}

// Write32 implements interfaces.Registers
func (m *MMIO) Write32(off uint32, v uint32) {
	atomic.StoreUint32((*uint32)(m.ptr(off, 4)), v)
}

// Write64 implements interfaces.Registers
func (m *MMIO) Write64(off uint32, v uint64) {
	atomic.StoreUint64((*uint64)(m.ptr(off, 8)), v)
}

// Close unmaps the window and closes the device.
func (m *MMIO) Close() error {
	if m.mem == nil {
		return nil
	}
	err := multierr.Combine(unix.Munmap(m.mem), unix.Close(m.fd))
	m.mem = nil
	m.fd = -1
	return err
}
