package etherlink

import (
	"github.com/ehrlich-b/go-etherlink/internal/csr"
)

// OpenUIO maps the UIO device at path and returns its register window. start
// is the offset of the IP's CSR block inside the mapping; a zero size is read
// from sysfs.
func OpenUIO(path string, start uint32, size int) (RegisterCloser, error) {
	m, err := csr.OpenUIO(path, start, size)
	if err != nil {
		return nil, err
	}
	return m, nil
}
