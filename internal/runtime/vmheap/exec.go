package vmheap

import (
	"fmt"
	"slices"
)

// ProtectedRange is a page-aligned span of an executable region sharing
// one protection.
type ProtectedRange struct {
	Start uintptr    `json:"start"`
	End   uintptr    `json:"end"`
	Prot  Protection `json:"prot"`
}

// ExecutableRegion is a committed range that holds generated machine code.
// It is allocated read/write; ranges are made executable once code has
// been emitted into them.
type ExecutableRegion struct {
	platform Platform
	geom     PageGeometry
	base     uintptr
	size     uintptr
	ranges   []ProtectedRange
}

// AllocateExecutable reserves and commits a read/write region of desired
// bytes rounded up to whole pages.
func AllocateExecutable(p Platform, g PageGeometry, desired uintptr) (*ExecutableRegion, error) {
	size := g.RoundUp(desired)
	if size == 0 || size < desired {
		return nil, fmt.Errorf("%w: invalid size %d", ErrExecutableAllocationFailed, desired)
	}
	base, err := p.AllocateCommitted(size, ProtReadWrite)
	if err != nil {
		return nil, fmt.Errorf("%w (%d bytes requested): %w", ErrExecutableAllocationFailed, size, err)
	}
	return &ExecutableRegion{
		platform: p,
		geom:     g,
		base:     base,
		size:     size,
		ranges:   []ProtectedRange{{Start: base, End: base + size, Prot: ProtReadWrite}},
	}, nil
}

// Base returns the first address of the region.
func (x *ExecutableRegion) Base() uintptr { return x.base }

// Size returns the page-rounded size of the region.
func (x *ExecutableRegion) Size() uintptr { return x.size }

// Contains reports whether [start, end) lies within the region.
func (x *ExecutableRegion) Contains(start, end uintptr) bool {
	return start <= end && start >= x.base && end <= x.base+x.size
}

// Ranges returns the protection map of the region in address order.
func (x *ExecutableRegion) Ranges() []ProtectedRange { return slices.Clone(x.ranges) }

// ProtectionAt returns the protection of the page holding addr.
func (x *ExecutableRegion) ProtectionAt(addr uintptr) (Protection, bool) {
	for _, r := range x.ranges {
		if addr >= r.Start && addr < r.End {
			return r.Prot, true
		}
	}
	return ProtNone, false
}

// MakeExecutable switches the pages covering [start, end) to
// execute/read/write. Code is never relocated relative to its data, so the
// returned code-to-data delta is always zero.
func (x *ExecutableRegion) MakeExecutable(start, end uintptr) (int64, error) {
	if !x.Contains(start, end) {
		return 0, fmt.Errorf("%w: [%#x, %#x) outside region [%#x, %#x)",
			ErrProtectionChangeFailed, start, end, x.base, x.base+x.size)
	}
	if start == end {
		return 0, nil
	}
	lo, hi := x.geom.RoundDown(start), x.geom.RoundUp(end)
	if err := x.platform.Protect(lo, hi-lo, ProtExecReadWrite); err != nil {
		return 0, fmt.Errorf("%w: [%#x, %#x): %w", ErrProtectionChangeFailed, lo, hi, err)
	}
	x.setProtection(lo, hi, ProtExecReadWrite)
	return 0, nil
}

func (x *ExecutableRegion) setProtection(lo, hi uintptr, prot Protection) {
	out := make([]ProtectedRange, 0, len(x.ranges)+2)
	for _, r := range x.ranges {
		if r.End <= lo || r.Start >= hi {
			out = append(out, r)
			continue
		}
		if r.Start < lo {
			out = append(out, ProtectedRange{Start: r.Start, End: lo, Prot: r.Prot})
		}
		if r.End > hi {
			out = append(out, ProtectedRange{Start: hi, End: r.End, Prot: r.Prot})
		}
	}
	out = append(out, ProtectedRange{Start: lo, End: hi, Prot: prot})
	slices.SortFunc(out, func(a, b ProtectedRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if last.End == r.Start && last.Prot == r.Prot {
			last.End = r.End
			continue
		}
		merged = append(merged, r)
	}
	x.ranges = merged
}
