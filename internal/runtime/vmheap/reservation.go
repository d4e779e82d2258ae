package vmheap

import (
	"fmt"
	"math"
	"strings"
)

// ReserveBackoffStep is how much a refused reservation shrinks before the
// next attempt.
const ReserveBackoffStep = 128 << 20

// Rounding selects how growth requests are rounded to pages.
type Rounding int

const (
	// RoundingExact rounds up to the next page multiple. A zero request
	// stays zero and performs no OS call.
	RoundingExact Rounding = iota
	// RoundingLegacy adds a whole page before masking. Every request commits
	// at least one page and aligned requests commit one page more.
	RoundingLegacy
)

func (r Rounding) String() string {
	if r == RoundingLegacy {
		return "legacy"
	}
	return "exact"
}

// ParseRounding converts a config value into a Rounding.
func ParseRounding(s string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return RoundingExact, nil
	case "legacy":
		return RoundingLegacy, nil
	}
	return RoundingExact, fmt.Errorf("unknown grow rounding %q (want exact or legacy)", s)
}

// ReserveRequest describes the startup reservation of the heap.
type ReserveRequest struct {
	// MinCommit is committed immediately at the start of the range.
	MinCommit uintptr
	// DesiredReserve is the smallest reservation that is acceptable.
	DesiredReserve uintptr
	// HardMaximum is the first size attempted.
	HardMaximum uintptr
	// Rounding applies to later growth requests.
	Rounding Rounding
}

// Reservation is a contiguous reserved address range whose prefix
// [base, limit) is committed. It is the only type that moves the commit
// boundary, and it keeps committed == limit-base after every call.
//
// A Reservation has a single owner and is not safe for concurrent use.
type Reservation struct {
	platform Platform
	geom     PageGeometry
	rounding Rounding

	base           uintptr
	maxReserved    uintptr
	desiredReserve uintptr
	initialCommit  uintptr
	limit          uintptr
	committed      uintptr
	attempts       int
}

// Reserve claims address space for the heap. It starts at HardMaximum and
// backs off by ReserveBackoffStep after each refusal, never going below
// the page-rounded DesiredReserve. The page-rounded MinCommit is then
// committed at the base of the range.
func Reserve(p Platform, g PageGeometry, req ReserveRequest) (*Reservation, error) {
	if req.DesiredReserve > math.MaxUint-g.Size || req.MinCommit > math.MaxUint-g.Size {
		return nil, fmt.Errorf("%w: request exceeds the address space", ErrReservationExhausted)
	}
	desired := g.RoundUp(req.DesiredReserve)
	initial := g.RoundUp(req.MinCommit)

	size := desired
	if req.HardMaximum <= math.MaxUint-g.Size && g.RoundUp(req.HardMaximum) > size {
		size = g.RoundUp(req.HardMaximum)
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: empty reservation requested", ErrReservationExhausted)
	}

	r := &Reservation{
		platform:       p,
		geom:           g,
		rounding:       req.Rounding,
		desiredReserve: desired,
		initialCommit:  initial,
	}

	for {
		r.attempts++
		base, err := p.Reserve(size)
		if err == nil {
			r.base = base
			break
		}
		if size == desired {
			return nil, fmt.Errorf("%w (%d bytes requested after %d attempts): %w",
				ErrReservationExhausted, size, r.attempts, err)
		}
		if size-desired > ReserveBackoffStep {
			size -= ReserveBackoffStep
		} else {
			size = desired
		}
	}
	r.maxReserved = size
	r.limit = r.base

	if initial > size {
		return nil, fmt.Errorf("%w (%d bytes requested, %d reserved)", ErrInitialCommitFailed, initial, size)
	}
	if initial > 0 {
		if err := p.Commit(r.base, initial); err != nil {
			return nil, fmt.Errorf("%w (%d bytes requested): %w", ErrInitialCommitFailed, initial, err)
		}
	}
	r.limit = r.base + initial
	r.committed = initial
	return r, nil
}

// Base returns the start of the reserved range.
func (r *Reservation) Base() uintptr { return r.base }

// MaxReserved returns the size of the reserved range actually granted.
func (r *Reservation) MaxReserved() uintptr { return r.maxReserved }

// DesiredReserve returns the page-rounded size the runtime asked for.
func (r *Reservation) DesiredReserve() uintptr { return r.desiredReserve }

// Limit returns the end of the committed prefix.
func (r *Reservation) Limit() uintptr { return r.limit }

// Committed returns the number of committed bytes.
func (r *Reservation) Committed() uintptr { return r.committed }

// Headroom returns how many more bytes could be committed.
func (r *Reservation) Headroom() uintptr { return r.maxReserved - r.committed }

// Attempts returns how many reservation calls were needed.
func (r *Reservation) Attempts() int { return r.attempts }

// Geometry returns the page geometry used for rounding.
func (r *Reservation) Geometry() PageGeometry { return r.geom }

// Rounding returns the growth rounding mode.
func (r *Reservation) Rounding() Rounding { return r.rounding }

// GrowthDelta returns the number of bytes a growth request of delta would
// commit.
func (r *Reservation) GrowthDelta(delta uintptr) uintptr {
	if r.rounding == RoundingLegacy {
		return r.geom.RoundUpLegacy(delta)
	}
	return r.geom.RoundUp(delta)
}

// ShrinkDelta returns the number of bytes a shrink request of delta would
// decommit.
func (r *Reservation) ShrinkDelta(delta uintptr) uintptr { return r.geom.RoundDown(delta) }

// Grow commits the page-rounded delta directly past the limit and returns
// the new limit. On failure the state is untouched and the old limit is
// returned together with an error wrapping ErrGrowthDenied.
func (r *Reservation) Grow(delta uintptr) (uintptr, error) {
	headroom := r.Headroom()
	if delta > headroom {
		return r.limit, fmt.Errorf("%w: %d bytes requested, %d bytes of reservation left", ErrGrowthDenied, delta, headroom)
	}
	d := r.GrowthDelta(delta)
	if d == 0 {
		return r.limit, nil
	}
	if d > headroom {
		return r.limit, fmt.Errorf("%w: %d bytes after rounding, %d bytes of reservation left", ErrGrowthDenied, d, headroom)
	}
	if err := r.platform.Commit(r.limit, d); err != nil {
		return r.limit, fmt.Errorf("%w: commit %d bytes at %#x: %w", ErrGrowthDenied, d, r.limit, err)
	}
	r.limit += d
	r.committed += d
	return r.limit, nil
}

// Shrink decommits the delta rounded down to pages directly below the
// limit and returns the new limit. On failure the state is untouched and
// the old limit is returned together with an error wrapping ErrShrinkDenied.
func (r *Reservation) Shrink(delta uintptr) (uintptr, error) {
	d := r.ShrinkDelta(delta)
	if d == 0 {
		return r.limit, nil
	}
	if d > r.committed {
		return r.limit, fmt.Errorf("%w: %d bytes requested, %d bytes committed", ErrShrinkDenied, d, r.committed)
	}
	if err := r.platform.Decommit(r.limit-d, d); err != nil {
		return r.limit, fmt.Errorf("%w: decommit %d bytes at %#x: %w", ErrShrinkDenied, d, r.limit-d, err)
	}
	r.limit -= d
	r.committed -= d
	return r.limit, nil
}

// ExtraBytesLeft combines the OS availability in st with the headroom of
// the reservation. The result never exceeds Headroom.
func (r *Reservation) ExtraBytesLeft(st MemoryStatus, includingSwap bool) uintptr {
	left := st.AvailPhys
	if includingSwap {
		if st.AvailSwap > math.MaxUint64-left {
			left = math.MaxUint64
		} else {
			left += st.AvailSwap
		}
	}
	if headroom := uint64(r.Headroom()); left > headroom {
		left = headroom
	}
	return uintptr(left)
}

// Validate checks the accounting invariants of the reservation.
func (r *Reservation) Validate() error {
	switch {
	case r.limit < r.base || r.limit-r.base > r.maxReserved:
		return fmt.Errorf("limit %#x outside [%#x, %#x]", r.limit, r.base, r.base+r.maxReserved)
	case r.committed != r.limit-r.base:
		return fmt.Errorf("committed %d != limit-base %d", r.committed, r.limit-r.base)
	case !r.geom.Aligned(r.base) || !r.geom.Aligned(r.limit):
		return fmt.Errorf("base %#x or limit %#x not page aligned", r.base, r.limit)
	}
	return nil
}
