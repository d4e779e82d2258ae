package vmheap

import (
	"errors"
	"fmt"
)

// Protection is the access mode applied to a committed range.
type Protection int

const (
	ProtNone Protection = iota
	ProtReadWrite
	ProtExecReadWrite
)

func (p Protection) String() string {
	switch p {
	case ProtNone:
		return "none"
	case ProtReadWrite:
		return "rw-"
	case ProtExecReadWrite:
		return "rwx"
	default:
		return fmt.Sprintf("Protection(%d)", int(p))
	}
}

// MarshalText renders the protection in its mnemonic form.
func (p Protection) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses the mnemonic form written by MarshalText.
func (p *Protection) UnmarshalText(b []byte) error {
	for _, c := range []Protection{ProtNone, ProtReadWrite, ProtExecReadWrite} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown protection %q", b)
}

// MemoryStatus is the OS-wide memory availability at the time of a query.
type MemoryStatus struct {
	AvailPhys uint64 `json:"avail_phys"`
	AvailSwap uint64 `json:"avail_swap"`
}

// ErrMemoryStatusUnavailable is returned by platforms that cannot report
// available memory.
var ErrMemoryStatusUnavailable = errors.New("memory status unavailable on this platform")

// Platform exposes the virtual-memory primitives of an operating system.
// Addresses are raw virtual addresses; sizes are byte counts that callers
// have already rounded to the platform page size.
type Platform interface {
	// PageSize returns the size of a virtual-memory page.
	PageSize() uintptr
	// Reserve claims address space without physical backing.
	Reserve(size uintptr) (uintptr, error)
	// Commit backs [addr, addr+size) with read/write memory.
	Commit(addr, size uintptr) error
	// Decommit releases the backing of [addr, addr+size) and keeps the
	// address space reserved.
	Decommit(addr, size uintptr) error
	// Protect changes the protection of [addr, addr+size).
	Protect(addr, size uintptr, prot Protection) error
	// AllocateCommitted reserves and commits a fresh range in one call.
	AllocateCommitted(size uintptr, prot Protection) (uintptr, error)
	// MemoryStatus reports available physical memory and swap.
	MemoryStatus() (MemoryStatus, error)
}

// SystemPlatform returns the platform backed by the host OS.
func SystemPlatform() Platform { return systemPlatform{} }
