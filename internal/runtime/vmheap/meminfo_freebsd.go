package vmheap

import "golang.org/x/sys/unix"

func memoryStatus() (MemoryStatus, error) {
	free, err := unix.SysctlUint32("vm.stats.vm.v_free_count")
	if err != nil {
		return MemoryStatus{}, err
	}
	return MemoryStatus{AvailPhys: uint64(free) * uint64(unix.Getpagesize())}, nil
}
