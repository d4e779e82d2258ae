//go:build netbsd || openbsd || dragonfly

package vmheap

func memoryStatus() (MemoryStatus, error) {
	return MemoryStatus{}, ErrMemoryStatusUnavailable
}
