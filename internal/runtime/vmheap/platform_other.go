//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package vmheap

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("virtual memory primitives unsupported on this platform")

type systemPlatform struct{}

func osPageSize() int { return os.Getpagesize() }

func (systemPlatform) PageSize() uintptr                   { return SystemPageGeometry().Size }
func (systemPlatform) Reserve(uintptr) (uintptr, error)    { return 0, errUnsupported }
func (systemPlatform) Commit(uintptr, uintptr) error       { return errUnsupported }
func (systemPlatform) Decommit(uintptr, uintptr) error     { return errUnsupported }
func (systemPlatform) MemoryStatus() (MemoryStatus, error) { return MemoryStatus{}, ErrMemoryStatusUnavailable }

func (systemPlatform) Protect(uintptr, uintptr, Protection) error { return errUnsupported }

func (systemPlatform) AllocateCommitted(uintptr, Protection) (uintptr, error) {
	return 0, errUnsupported
}
