//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package vmheap

import (
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"
)

// systemPlatform maps reservations as PROT_NONE anonymous memory and
// commits by widening the protection of the touched pages.
type systemPlatform struct{}

func osPageSize() int { return unix.Getpagesize() }

func (systemPlatform) PageSize() uintptr { return SystemPageGeometry().Size }

func (systemPlatform) Reserve(size uintptr) (uintptr, error) {
	return mmapAnon(size, unix.PROT_NONE)
}

func (systemPlatform) Commit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	return unix.Mprotect(span(addr, size), unix.PROT_READ|unix.PROT_WRITE)
}

func (systemPlatform) Decommit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	b := span(addr, size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

func (systemPlatform) Protect(addr, size uintptr, prot Protection) error {
	if size == 0 {
		return nil
	}
	return unix.Mprotect(span(addr, size), unixProt(prot))
}

func (systemPlatform) AllocateCommitted(size uintptr, prot Protection) (uintptr, error) {
	return mmapAnon(size, unixProt(prot))
}

func (systemPlatform) MemoryStatus() (MemoryStatus, error) { return memoryStatus() }

func mmapAnon(size uintptr, prot int) (uintptr, error) {
	if size == 0 || size > math.MaxInt {
		return 0, fmt.Errorf("mmap: invalid size %d: %w", size, unix.EINVAL)
	}
	b, err := unix.Mmap(-1, 0, int(size), prot, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

// span views [addr, addr+size) as a byte slice for the x/sys calls. The
// memory lives outside the Go heap.
func span(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func unixProt(p Protection) int {
	switch p {
	case ProtReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case ProtExecReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	default:
		return unix.PROT_NONE
	}
}
