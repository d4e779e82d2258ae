package vmheap

import "time"

// Op names a heap resize operation.
type Op string

const (
	OpGrow   Op = "grow"
	OpShrink Op = "shrink"
)

// Outcome is the result of a resize attempt as shown in the allocation trace.
type Outcome string

const (
	OutcomeOK      Outcome = "okay"
	OutcomeFailed  Outcome = "failed"
	OutcomeIgnored Outcome = "ignored"
)

// Event records one grow or shrink request.
type Event struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Op        Op        `json:"op"`
	Requested uintptr   `json:"requested"`
	Applied   uintptr   `json:"applied"`
	Limit     uintptr   `json:"limit"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// Counters accumulate operation outcomes since the manager was created.
type Counters struct {
	Grows              uint64 `json:"grows"`
	GrowFailures       uint64 `json:"grow_failures"`
	Shrinks            uint64 `json:"shrinks"`
	ShrinkFailures     uint64 `json:"shrink_failures"`
	ShrinkSuppressed   uint64 `json:"shrink_suppressed"`
	ProtectionChanges  uint64 `json:"protection_changes"`
	ProtectionFailures uint64 `json:"protection_failures"`
}

// RegionSnapshot describes one executable region.
type RegionSnapshot struct {
	Base   uintptr          `json:"base"`
	Size   uintptr          `json:"size"`
	Ranges []ProtectedRange `json:"ranges"`
}

// Snapshot is an immutable copy of the manager state, safe to read from
// any goroutine.
type Snapshot struct {
	Taken           time.Time        `json:"taken"`
	PageSize        uintptr          `json:"page_size"`
	Reserved        bool             `json:"reserved"`
	Base            uintptr          `json:"base"`
	Limit           uintptr          `json:"limit"`
	MaxReserved     uintptr          `json:"max_reserved"`
	DesiredReserve  uintptr          `json:"desired_reserve"`
	Committed       uintptr          `json:"committed"`
	Headroom        uintptr          `json:"headroom"`
	Attempts        int              `json:"reserve_attempts"`
	Rounding        string           `json:"grow_rounding"`
	AllowShrink     bool             `json:"allow_shrink"`
	ShowAllocations bool             `json:"show_allocations"`
	Counters        Counters         `json:"counters"`
	Regions         []RegionSnapshot `json:"regions"`
	Events          []Event          `json:"events"`
}

// Snapshot returns the state published by the last operation, with the
// policy flags read live.
func (m *Manager) Snapshot() Snapshot {
	s := *m.snap.Load()
	s.AllowShrink = m.allowShrink.Load()
	s.ShowAllocations = m.showAllocations.Load()
	return s
}

// publish is called by the owner after every mutation.
func (m *Manager) publish() {
	s := &Snapshot{
		Taken:    time.Now(),
		PageSize: m.geom.Size,
		Rounding: m.cfg.Rounding().String(),
		Counters: m.counters,
		Events:   append([]Event(nil), m.events...),
	}
	if r := m.heap; r != nil {
		s.Reserved = true
		s.Base = r.Base()
		s.Limit = r.Limit()
		s.MaxReserved = r.MaxReserved()
		s.DesiredReserve = r.DesiredReserve()
		s.Committed = r.Committed()
		s.Headroom = r.Headroom()
		s.Attempts = r.Attempts()
	}
	for _, x := range m.regions {
		s.Regions = append(s.Regions, RegionSnapshot{Base: x.Base(), Size: x.Size(), Ranges: x.Ranges()})
	}
	m.snap.Store(s)
}

// Metrics flattens the snapshot into named gauges and counters.
func (s Snapshot) Metrics() map[string]float64 {
	var codeBytes uintptr
	for _, r := range s.Regions {
		codeBytes += r.Size
	}
	return map[string]float64{
		"page_size_bytes":           float64(s.PageSize),
		"reserved_bytes":            float64(s.MaxReserved),
		"desired_reserve_bytes":     float64(s.DesiredReserve),
		"committed_bytes":           float64(s.Committed),
		"headroom_bytes":            float64(s.Headroom),
		"code_regions":              float64(len(s.Regions)),
		"code_region_bytes":         float64(codeBytes),
		"grows_total":               float64(s.Counters.Grows),
		"grow_failures_total":       float64(s.Counters.GrowFailures),
		"shrinks_total":             float64(s.Counters.Shrinks),
		"shrink_failures_total":     float64(s.Counters.ShrinkFailures),
		"shrink_suppressed_total":   float64(s.Counters.ShrinkSuppressed),
		"protection_changes_total":  float64(s.Counters.ProtectionChanges),
		"protection_failures_total": float64(s.Counters.ProtectionFailures),
	}
}
