package vmheap

import (
	"errors"
	"fmt"
)

// ErrSimulatedRefusal is returned by SimulatedPlatform when a request is
// outside its configured budget.
var ErrSimulatedRefusal = errors.New("simulated platform refused request")

// simBase is where the simulated address space starts handing out ranges (1GB).
const simBase = 0x40000000

type simMapping struct {
	base, size uintptr
}

// SimulatedPlatform is an in-memory Platform. It never touches real memory;
// addresses it returns must not be dereferenced. Budgets and failure hooks
// let callers reproduce OS refusals deterministically.
type SimulatedPlatform struct {
	// Page is the simulated page size; zero means 4 KiB.
	Page uintptr
	// MaxReservation is the largest single range Reserve or
	// AllocateCommitted will grant; zero means unlimited.
	MaxReservation uintptr
	// CommitLimit caps the total committed bytes; zero means unlimited.
	CommitLimit uintptr
	// Status and StatusErr are returned by MemoryStatus.
	Status    MemoryStatus
	StatusErr error

	// Failure hooks. A non-nil error returned by a hook fails the call
	// before any state changes.
	FailReserve  func(size uintptr) error
	FailCommit   func(addr, size uintptr) error
	FailDecommit func(addr, size uintptr) error
	FailProtect  func(addr, size uintptr, prot Protection) error
	FailAllocate func(size uintptr) error

	next      uintptr
	mappings  []simMapping
	pages     map[uintptr]Protection
	committed uintptr
	calls     map[string]int
}

// NewSimulatedPlatform returns a simulated platform with the given page
// size and unlimited budgets.
func NewSimulatedPlatform(page uintptr) *SimulatedPlatform {
	return &SimulatedPlatform{Page: page}
}

func (s *SimulatedPlatform) init() {
	if s.pages == nil {
		s.pages = make(map[uintptr]Protection)
		s.calls = make(map[string]int)
		s.next = simBase
	}
}

// PageSize implements Platform.
func (s *SimulatedPlatform) PageSize() uintptr {
	if s.Page == 0 {
		return 4096
	}
	return s.Page
}

// Reserve implements Platform.
func (s *SimulatedPlatform) Reserve(size uintptr) (uintptr, error) {
	s.init()
	s.calls["reserve"]++
	if s.FailReserve != nil {
		if err := s.FailReserve(size); err != nil {
			return 0, err
		}
	}
	return s.mapRange(size)
}

// Commit implements Platform.
func (s *SimulatedPlatform) Commit(addr, size uintptr) error {
	s.init()
	s.calls["commit"]++
	if size == 0 {
		return nil
	}
	if err := s.checkRange(addr, size); err != nil {
		return err
	}
	if s.FailCommit != nil {
		if err := s.FailCommit(addr, size); err != nil {
			return err
		}
	}
	fresh := uintptr(0)
	for a := addr; a < addr+size; a += s.PageSize() {
		if _, ok := s.pages[a]; !ok {
			fresh += s.PageSize()
		}
	}
	if s.CommitLimit != 0 && s.committed+fresh > s.CommitLimit {
		return fmt.Errorf("%w: commit of %d bytes exceeds limit %d", ErrSimulatedRefusal, fresh, s.CommitLimit)
	}
	s.setPages(addr, size, ProtReadWrite)
	s.committed += fresh
	return nil
}

// Decommit implements Platform.
func (s *SimulatedPlatform) Decommit(addr, size uintptr) error {
	s.init()
	s.calls["decommit"]++
	if size == 0 {
		return nil
	}
	if err := s.checkRange(addr, size); err != nil {
		return err
	}
	if s.FailDecommit != nil {
		if err := s.FailDecommit(addr, size); err != nil {
			return err
		}
	}
	for a := addr; a < addr+size; a += s.PageSize() {
		if _, ok := s.pages[a]; ok {
			delete(s.pages, a)
			s.committed -= s.PageSize()
		}
	}
	return nil
}

// Protect implements Platform.
func (s *SimulatedPlatform) Protect(addr, size uintptr, prot Protection) error {
	s.init()
	s.calls["protect"]++
	if size == 0 {
		return nil
	}
	if err := s.checkRange(addr, size); err != nil {
		return err
	}
	if s.FailProtect != nil {
		if err := s.FailProtect(addr, size, prot); err != nil {
			return err
		}
	}
	for a := addr; a < addr+size; a += s.PageSize() {
		if _, ok := s.pages[a]; !ok {
			return fmt.Errorf("%w: page %#x is not committed", ErrSimulatedRefusal, a)
		}
	}
	s.setPages(addr, size, prot)
	return nil
}

// AllocateCommitted implements Platform.
func (s *SimulatedPlatform) AllocateCommitted(size uintptr, prot Protection) (uintptr, error) {
	s.init()
	s.calls["allocate"]++
	if s.FailAllocate != nil {
		if err := s.FailAllocate(size); err != nil {
			return 0, err
		}
	}
	if s.CommitLimit != 0 && s.committed+size > s.CommitLimit {
		return 0, fmt.Errorf("%w: allocation of %d bytes exceeds limit %d", ErrSimulatedRefusal, size, s.CommitLimit)
	}
	base, err := s.mapRange(size)
	if err != nil {
		return 0, err
	}
	s.setPages(base, size, prot)
	s.committed += size
	return base, nil
}

// MemoryStatus implements Platform.
func (s *SimulatedPlatform) MemoryStatus() (MemoryStatus, error) {
	s.init()
	s.calls["status"]++
	return s.Status, s.StatusErr
}

// CommittedBytes returns the bytes committed across all ranges.
func (s *SimulatedPlatform) CommittedBytes() uintptr { return s.committed }

// ProtectionAt returns the protection of the page holding addr and whether
// that page is committed.
func (s *SimulatedPlatform) ProtectionAt(addr uintptr) (Protection, bool) {
	p, ok := s.pages[addr&^(s.PageSize()-1)]
	return p, ok
}

// Calls returns how many times op was invoked. Ops are reserve, commit,
// decommit, protect, allocate and status.
func (s *SimulatedPlatform) Calls(op string) int { return s.calls[op] }

func (s *SimulatedPlatform) mapRange(size uintptr) (uintptr, error) {
	page := s.PageSize()
	if size == 0 || size&(page-1) != 0 {
		return 0, fmt.Errorf("%w: size %d is not a positive page multiple", ErrSimulatedRefusal, size)
	}
	if s.MaxReservation != 0 && size > s.MaxReservation {
		return 0, fmt.Errorf("%w: %d bytes exceeds address space budget %d", ErrSimulatedRefusal, size, s.MaxReservation)
	}
	base := s.next
	// Leave an unmapped guard page between ranges.
	s.next += size + page
	s.mappings = append(s.mappings, simMapping{base: base, size: size})
	return base, nil
}

func (s *SimulatedPlatform) checkRange(addr, size uintptr) error {
	page := s.PageSize()
	if addr&(page-1) != 0 || size&(page-1) != 0 {
		return fmt.Errorf("%w: [%#x, +%d) not page aligned", ErrSimulatedRefusal, addr, size)
	}
	for _, m := range s.mappings {
		if addr >= m.base && addr+size <= m.base+m.size {
			return nil
		}
	}
	return fmt.Errorf("%w: [%#x, +%d) outside any mapping", ErrSimulatedRefusal, addr, size)
}

func (s *SimulatedPlatform) setPages(addr, size uintptr, prot Protection) {
	for a := addr; a < addr+size; a += s.PageSize() {
		s.pages[a] = prot
	}
}
