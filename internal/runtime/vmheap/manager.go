// Package vmheap manages the virtual memory behind the runtime's object heap
// and its JIT code cache.
//
// The heap is one contiguous reservation sized up front; pages are committed
// and decommitted at its top as the object memory grows and shrinks, so heap
// addresses never move. Generated code lives in separate regions that start
// read/write and are flipped to executable once code has been emitted.
//
// A Manager has a single owner. Calls that change the heap or the code
// regions must come from one goroutine at a time; only the policy setters
// and Snapshot may be used from other goroutines.
package vmheap

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/vmheap/internal/cli"
)

// Manager owns the heap reservation and the executable regions of one
// runtime instance.
type Manager struct {
	platform Platform
	geom     PageGeometry
	cfg      Config
	log      *cli.Logger
	onFatal  func(error)

	allowShrink     atomic.Bool
	showAllocations atomic.Bool

	heap     *Reservation
	regions  []*ExecutableRegion
	events   []Event
	eventSeq uint64
	counters Counters
	snap     atomic.Pointer[Snapshot]
}

// Option configures a Manager.
type Option func(*Manager)

// WithPlatform replaces the host platform, e.g. with a SimulatedPlatform.
func WithPlatform(p Platform) Option {
	return func(m *Manager) { m.platform = p }
}

// WithConfig sets the heap configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets the logger for allocation traces and failures.
func WithLogger(l *cli.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithFatalHandler replaces the handler run on unrecoverable failures. The
// default exits the process with status 1.
func WithFatalHandler(fn func(error)) Option {
	return func(m *Manager) { m.onFatal = fn }
}

// NewManager creates a Manager. Nothing is reserved until Reserve is called.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.platform == nil {
		m.platform = SystemPlatform()
	}
	if m.log == nil {
		m.log = cli.NewLogger(false, false)
	}
	if m.onFatal == nil {
		m.onFatal = func(error) { cli.ExitWithCode(1, "") }
	}
	m.allowShrink.Store(m.cfg.AllowShrink)
	m.showAllocations.Store(m.cfg.ShowAllocations)
	m.Geometry()
	m.publish()
	return m
}

// Geometry returns the page geometry, resolving it on first use.
func (m *Manager) Geometry() PageGeometry {
	if m.geom.Size == 0 {
		m.geom = ResolvePageGeometry(m.platform)
	}
	return m.geom
}

// Config returns the configuration the manager was created with.
func (m *Manager) Config() Config { return m.cfg }

// Heap returns the heap reservation, or nil before Reserve.
func (m *Manager) Heap() *Reservation { return m.heap }

// Regions returns the executable regions in allocation order.
func (m *Manager) Regions() []*ExecutableRegion { return append([]*ExecutableRegion(nil), m.regions...) }

// AllowShrink reports whether shrink requests are honored.
func (m *Manager) AllowShrink() bool { return m.allowShrink.Load() }

// SetAllowShrink enables or disables decommitting on shrink. It may be
// called from any goroutine.
func (m *Manager) SetAllowShrink(on bool) {
	if m.allowShrink.Swap(on) != on {
		m.log.Info("heap shrinking %s", enabled(on))
	}
}

// SetShowAllocations toggles the per-request allocation trace. It may be
// called from any goroutine.
func (m *Manager) SetShowAllocations(on bool) {
	if m.showAllocations.Swap(on) != on {
		m.log.Info("allocation trace %s", enabled(on))
	}
}

// ApplyPolicy applies the hot-reloadable settings of cfg.
func (m *Manager) ApplyPolicy(cfg Config) {
	m.SetAllowShrink(cfg.AllowShrink)
	m.SetShowAllocations(cfg.ShowAllocations)
}

// Reserve reserves the heap address space and commits minHeap bytes of it.
// The first attempt asks for max_virtual_memory; refusals back off towards
// desiredHeap. The returned error wraps ErrReservationExhausted or
// ErrInitialCommitFailed; the bootstrap must treat either as fatal.
func (m *Manager) Reserve(minHeap, desiredHeap uintptr) (uintptr, error) {
	if m.heap != nil {
		return 0, fmt.Errorf("heap already reserved at %#x", m.heap.Base())
	}
	hardMax := uintptr(math.MaxUint)
	if m.cfg.MaxVirtualMemory <= uint64(math.MaxUint) {
		hardMax = uintptr(m.cfg.MaxVirtualMemory)
	}
	r, err := Reserve(m.platform, m.Geometry(), ReserveRequest{
		MinCommit:      minHeap,
		DesiredReserve: desiredHeap,
		HardMaximum:    hardMax,
		Rounding:       m.cfg.Rounding(),
	})
	if err != nil {
		m.log.Error("VM Error: %v", err)
		return 0, err
	}
	m.heap = r
	m.log.Info("reserved %s at %#x after %d attempt(s), committed %s",
		cli.FormatSize(uint64(r.MaxReserved())), r.Base(), r.Attempts(), cli.FormatSize(uint64(r.Committed())))
	m.publish()
	return r.Base(), nil
}

// GrowMemoryBy commits delta more bytes, rounded to pages, at the top of the
// heap and returns the new limit. If the commit cannot be made the current
// limit is returned unchanged; the caller should collect garbage or report
// out-of-memory to the language level.
func (m *Manager) GrowMemoryBy(oldLimit, delta uintptr) uintptr {
	if m.heap == nil {
		m.log.Error("grow by %d: %v", delta, ErrNotReserved)
		return oldLimit
	}
	m.checkLimit("grow", oldLimit)
	m.trace("Growing memory by %d...", delta)

	before := m.heap.Limit()
	newLimit, err := m.heap.Grow(delta)
	m.record(OpGrow, delta, newLimit-before, newLimit, err)
	if err != nil {
		m.counters.GrowFailures++
		m.trace("failed (%v)", err)
	} else {
		m.counters.Grows++
		m.trace("okay (+%d, limit %#x)", newLimit-before, newLimit)
	}
	m.publish()
	return newLimit
}

// ShrinkMemoryBy decommits delta bytes, rounded down to pages, below the top
// of the heap and returns the new limit. When shrinking is disabled or the
// decommit fails the current limit is returned unchanged and no memory
// pressure has been relieved.
func (m *Manager) ShrinkMemoryBy(oldLimit, delta uintptr) uintptr {
	if m.heap == nil {
		m.log.Error("shrink by %d: %v", delta, ErrNotReserved)
		return oldLimit
	}
	m.checkLimit("shrink", oldLimit)
	m.trace("Shrinking by %d...", delta)

	limit := m.heap.Limit()
	if !m.allowShrink.Load() {
		m.counters.ShrinkSuppressed++
		m.record(OpShrink, delta, 0, limit, ErrShrinkSuppressed)
		m.trace(" - ignored")
		m.publish()
		return limit
	}

	newLimit, err := m.heap.Shrink(delta)
	m.record(OpShrink, delta, limit-newLimit, newLimit, err)
	if err != nil {
		m.counters.ShrinkFailures++
		m.trace("failed (%v)", err)
	} else {
		m.counters.Shrinks++
		m.trace("okay (-%d, limit %#x)", limit-newLimit, newLimit)
	}
	m.publish()
	return newLimit
}

// ExtraBytesLeft returns how many more bytes the heap could grow by: the
// available physical memory, plus swap when includingSwap is set, clamped
// to what is left of the reservation.
func (m *Manager) ExtraBytesLeft(includingSwap bool) uintptr {
	if m.heap == nil {
		return 0
	}
	st, err := m.platform.MemoryStatus()
	if err != nil {
		m.log.Debug("memory status: %v; reporting reservation headroom only", err)
		st = MemoryStatus{AvailPhys: math.MaxUint64}
	}
	return m.heap.ExtraBytesLeft(st, includingSwap)
}

// AllocateExecutableRegion allocates a read/write region of at least
// desired bytes for generated code and returns its base and rounded size.
// Failure is fatal: the runtime cannot run without code memory.
func (m *Manager) AllocateExecutableRegion(desired uintptr) (base, size uintptr) {
	x, err := AllocateExecutable(m.platform, m.Geometry(), desired)
	if err != nil {
		m.fatal(err)
		return 0, 0
	}
	m.regions = append(m.regions, x)
	m.log.Debug("executable region %#x (+%d)", x.Base(), x.Size())
	m.publish()
	return x.Base(), x.Size()
}

// MakeExecutable makes [start, end) executable and returns the code-to-data
// delta, which is always zero. A failure is fatal unless the config sets
// fatal_protection_failure to false, in which case it is logged.
func (m *Manager) MakeExecutable(start, end uintptr) int64 {
	var (
		delta int64
		err   error
	)
	if x := m.regionFor(start, end); x != nil {
		delta, err = x.MakeExecutable(start, end)
	} else {
		err = fmt.Errorf("%w: [%#x, %#x) is not inside an executable region", ErrProtectionChangeFailed, start, end)
	}
	if err != nil {
		m.counters.ProtectionFailures++
		m.publish()
		if m.cfg.FatalProtectionFailure {
			m.fatal(err)
		} else {
			m.log.Warn("%v", err)
		}
		return 0
	}
	m.counters.ProtectionChanges++
	m.publish()
	return delta
}

func (m *Manager) regionFor(start, end uintptr) *ExecutableRegion {
	for _, x := range m.regions {
		if x.Contains(start, end) {
			return x
		}
	}
	return nil
}

func (m *Manager) fatal(err error) {
	m.log.Error("VM Error: %v", err)
	m.onFatal(err)
}

func (m *Manager) checkLimit(op string, oldLimit uintptr) {
	if oldLimit != m.heap.Limit() {
		m.log.Debug("%s: caller limit %#x differs from heap limit %#x", op, oldLimit, m.heap.Limit())
	}
}

func (m *Manager) trace(format string, args ...interface{}) {
	if m.showAllocations.Load() {
		m.log.Log("ALLOC", format, args...)
	}
}

func (m *Manager) record(op Op, requested, applied, limit uintptr, err error) {
	if m.cfg.EventHistory <= 0 {
		return
	}
	m.eventSeq++
	ev := Event{
		Seq:       m.eventSeq,
		Time:      time.Now(),
		Op:        op,
		Requested: requested,
		Applied:   applied,
		Limit:     limit,
		Outcome:   outcomeOf(err),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if len(m.events) == m.cfg.EventHistory {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, ev)
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrShrinkSuppressed):
		return OutcomeIgnored
	}
	return OutcomeFailed
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
