// Package layout places the four channel regions inside the device memory
// window.
package layout

import (
	"fmt"

	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
)

// Placement constants. Windows at or below SmallWindowThreshold use the
// fixed legacy offsets; larger ones are placed at multiples of their size.
const (
	SmallWindowThreshold = 2048

	LegacyH2TBase  = 0x0800
	LegacyT2HBase  = 0x1000
	LegacyMgmtBase = LegacyT2HBase + LegacyH2TBase
)

// Region is a contiguous byte range of device memory owned by one channel.
type Region struct {
	Base uint32
	Size uint32
}

// End returns the first address past the region.
func (r Region) End() uint32 {
	return r.Base + r.Size
}

// Contains reports whether addr falls inside the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr < r.End()
}

// Empty reports whether the region has no bytes.
func (r Region) Empty() bool {
	return r.Size == 0
}

func (r Region) overlaps(o Region) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.Base < o.End() && o.Base < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", r.Base, r.End())
}

// Layout holds one region per channel. It is computed once by Plan and is
// immutable until the driver is re-initialized.
type Layout struct {
	H2T     Region
	T2H     Region
	Mgmt    Region
	MgmtRsp Region
}

// HasMgmt reports whether management regions were planned.
func (l Layout) HasMgmt() bool {
	return !l.Mgmt.Empty()
}

// Plan computes the region layout. A nonzero reported H2T/T2H size wins over
// fallback; when it is zero the fallback size is used for H2T/T2H and the
// management regions are left empty.
func Plan(id csr.Identity, reportedH2TT2H, reportedMgmt, fallback uint32) (Layout, error) {
	const op = "plan_layout"

	if !id.Compatible() {
		return Layout{}, errs.Newf(op, errs.CodeIncompatibleDevice,
			"refusing to plan against type 0x%x version %d", id.Type, id.Version)
	}

	size, mgmt := reportedH2TT2H, reportedMgmt
	if size == 0 {
		size, mgmt = fallback, 0
	}

	if size == 0 {
		return Layout{}, errs.New(op, errs.CodeConfig, "H2T/T2H memory size is zero")
	}
	if size%csr.BuffAlign != 0 {
		return Layout{}, errs.Newf(op, errs.CodeConfig,
			"H2T/T2H memory size %d is not a multiple of %d", size, csr.BuffAlign)
	}
	if mgmt%csr.BuffAlign != 0 {
		return Layout{}, errs.Newf(op, errs.CodeConfig,
			"MGMT memory size %d is not a multiple of %d", mgmt, csr.BuffAlign)
	}

	var l Layout
	if size > SmallWindowThreshold {
		l.H2T = Region{Base: size, Size: size}
		l.T2H = Region{Base: 2 * size, Size: size}
	} else {
		l.H2T = Region{Base: LegacyH2TBase, Size: size}
		l.T2H = Region{Base: LegacyT2HBase, Size: size}
	}

	if mgmt > 0 {
		base := uint32(LegacyMgmtBase)
		if size > SmallWindowThreshold {
			base = 3 * size
		}
		l.Mgmt = Region{Base: base, Size: mgmt}
		l.MgmtRsp = Region{Base: base + mgmt, Size: mgmt}
	}

	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Validate checks alignment, size pairing and non-overlap of the regions.
func (l Layout) Validate() error {
	const op = "validate_layout"

	named := []struct {
		name string
		r    Region
	}{
		{"h2t", l.H2T},
		{"t2h", l.T2H},
		{"mgmt", l.Mgmt},
		{"mgmt_rsp", l.MgmtRsp},
	}

	for _, n := range named {
		if n.r.Base%csr.BuffAlign != 0 || n.r.Size%csr.BuffAlign != 0 {
			return errs.NewChannel(op, n.name, errs.CodeConfig,
				fmt.Sprintf("region %s is not %d-byte aligned", n.r, csr.BuffAlign))
		}
		if uint64(n.r.Base)+uint64(n.r.Size) > 1<<32 {
			return errs.NewChannel(op, n.name, errs.CodeConfig,
				"region exceeds the 32-bit device address space")
		}
	}

	if l.H2T.Size != l.T2H.Size {
		return errs.Newf(op, errs.CodeConfig, "H2T size %d differs from T2H size %d", l.H2T.Size, l.T2H.Size)
	}
	if l.Mgmt.Size != l.MgmtRsp.Size {
		return errs.Newf(op, errs.CodeConfig, "MGMT size %d differs from MGMT-RSP size %d", l.Mgmt.Size, l.MgmtRsp.Size)
	}

	for i := range named {
		for j := i + 1; j < len(named); j++ {
			if named[i].r.overlaps(named[j].r) {
				return errs.Newf(op, errs.CodeConfig, "%s region %s overlaps %s region %s",
					named[i].name, named[i].r, named[j].name, named[j].r)
			}
		}
	}
	return nil
}
