package vmheap

import "golang.org/x/sys/unix"

func memoryStatus() (MemoryStatus, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return MemoryStatus{}, err
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return MemoryStatus{
		AvailPhys: (uint64(info.Freeram) + uint64(info.Bufferram)) * unit,
		AvailSwap: uint64(info.Freeswap) * unit,
	}, nil
}
