package csr

import (
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/interfaces"
)

// Identity is the type/version pair read from the config CSR.
type Identity struct {
	Type    uint32
	Version uint32
}

// Compatible reports whether the identity names a supported IP.
func (id Identity) Compatible() bool {
	return id.Type == SupportedTypeSignature && id.Version <= SupportedVersion
}

// ReportsSizes reports whether memory sizes and descriptor depths are
// published on the CSR interface. Version 0 IPs rely on the command line.
func (id Identity) ReportsSizes() bool {
	return id.Version > 0
}

// CheckVersionAndType reads the combined type/version register. It must
// succeed once before any region planning or descriptor operation.
func CheckVersionAndType(regs interfaces.Registers) (Identity, error) {
	tv := regs.Read64(ConfigType)
	id := Identity{
		Type:    uint32(tv),
		Version: uint32(tv >> 32),
	}

	if id.Type != SupportedTypeSignature {
		return id, errs.Newf("check_version_and_type", errs.CodeIncompatibleDevice,
			"signature is not read from hardware correctly: expect 0x%x, got 0x%x",
			SupportedTypeSignature, id.Type)
	}
	if id.Version > SupportedVersion {
		return id, errs.Newf("check_version_and_type", errs.CodeIncompatibleDevice,
			"hardware version is not supported: expect <= %d, got %d",
			SupportedVersion, id.Version)
	}
	return id, nil
}
