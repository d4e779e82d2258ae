package vmheap

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

func memoryStatus() (MemoryStatus, error) {
	free, err := unix.SysctlUint32("vm.page_free_count")
	if err != nil {
		return MemoryStatus{}, err
	}
	st := MemoryStatus{AvailPhys: uint64(free) * uint64(unix.Getpagesize())}

	// struct xsw_usage { u_int64_t xsu_total, xsu_avail, xsu_used; ... }
	if raw, err := unix.SysctlRaw("vm.swapusage"); err == nil && len(raw) >= 16 {
		st.AvailSwap = binary.NativeEndian.Uint64(raw[8:16])
	}
	return st, nil
}
