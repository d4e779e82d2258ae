package vmheap

import "errors"

// Fatal kinds: the runtime cannot make progress after one of these.
var (
	ErrReservationExhausted       = errors.New("unable to reserve heap address space")
	ErrInitialCommitFailed        = errors.New("unable to commit initial heap memory")
	ErrExecutableAllocationFailed = errors.New("unable to allocate executable memory")
	ErrProtectionChangeFailed     = errors.New("unable to make memory executable")
)

// Soft kinds: the heap limit is left unchanged and the caller decides
// how to recover.
var (
	ErrGrowthDenied     = errors.New("heap growth denied")
	ErrShrinkDenied     = errors.New("heap shrink denied")
	ErrShrinkSuppressed = errors.New("heap shrink suppressed by policy")
)

// ErrNotReserved is logged when a heap operation runs before Reserve; the
// operation leaves the caller's limit unchanged.
var ErrNotReserved = errors.New("heap address space not reserved")

// IsFatal reports whether err belongs to a kind that must terminate the
// process.
func IsFatal(err error) bool {
	return errors.Is(err, ErrReservationExhausted) ||
		errors.Is(err, ErrInitialCommitFailed) ||
		errors.Is(err, ErrExecutableAllocationFailed) ||
		errors.Is(err, ErrProtectionChangeFailed)
}
