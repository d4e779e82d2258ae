package vmheap

import (
	"fmt"
	"sync"
)

// PageGeometry describes the platform page size and the mask used to
// round addresses and byte counts to page boundaries.
type PageGeometry struct {
	Size uintptr
	Mask uintptr
}

// NewPageGeometry derives the mask for a power-of-two page size.
func NewPageGeometry(size uintptr) PageGeometry {
	if size == 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("vmheap: page size %d is not a power of two", size))
	}
	return PageGeometry{Size: size, Mask: ^(size - 1)}
}

// ResolvePageGeometry queries the platform for its page size.
func ResolvePageGeometry(p Platform) PageGeometry {
	return NewPageGeometry(p.PageSize())
}

var (
	systemGeometryOnce sync.Once
	systemGeometry     PageGeometry
)

// SystemPageGeometry returns the page geometry of the host. The first call
// queries the OS; later calls return the cached value.
func SystemPageGeometry() PageGeometry {
	systemGeometryOnce.Do(func() {
		systemGeometry = NewPageGeometry(uintptr(osPageSize()))
	})
	return systemGeometry
}

// RoundDown rounds v down to a page boundary.
func (g PageGeometry) RoundDown(v uintptr) uintptr { return v & g.Mask }

// RoundUp rounds v up to the next page boundary. Values within one page of
// the top of the address space wrap to zero.
func (g PageGeometry) RoundUp(v uintptr) uintptr { return (v + g.Size - 1) & g.Mask }

// RoundUpLegacy adds a whole page before masking, so an aligned value gains
// an extra page and zero becomes one page.
func (g PageGeometry) RoundUpLegacy(v uintptr) uintptr { return (v + g.Size) & g.Mask }

// Aligned reports whether v sits on a page boundary.
func (g PageGeometry) Aligned(v uintptr) bool { return v&^g.Mask == 0 }
