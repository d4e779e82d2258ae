//go:build windows

package vmheap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// systemPlatform drives VirtualAlloc/VirtualFree/VirtualProtect directly.
type systemPlatform struct{}

func osPageSize() int { return windows.Getpagesize() }

func (systemPlatform) PageSize() uintptr { return SystemPageGeometry().Size }

func (systemPlatform) Reserve(size uintptr) (uintptr, error) {
	return windows.VirtualAlloc(0, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
}

func (systemPlatform) Commit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	_, err := windows.VirtualAlloc(addr, size, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func (systemPlatform) Decommit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	return windows.VirtualFree(addr, size, windows.MEM_DECOMMIT)
}

func (systemPlatform) Protect(addr, size uintptr, prot Protection) error {
	if size == 0 {
		return nil
	}
	var previous uint32
	return windows.VirtualProtect(addr, size, windowsProt(prot), &previous)
}

func (systemPlatform) AllocateCommitted(size uintptr, prot Protection) (uintptr, error) {
	return windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windowsProt(prot))
}

func (systemPlatform) MemoryStatus() (MemoryStatus, error) {
	var ms windows.MemoryStatusEx
	ms.Length = uint32(unsafe.Sizeof(ms))
	if err := windows.GlobalMemoryStatusEx(&ms); err != nil {
		return MemoryStatus{}, err
	}
	return MemoryStatus{AvailPhys: ms.AvailPhys, AvailSwap: ms.AvailPageFile}, nil
}

func windowsProt(p Protection) uint32 {
	switch p {
	case ProtReadWrite:
		return windows.PAGE_READWRITE
	case ProtExecReadWrite:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}
