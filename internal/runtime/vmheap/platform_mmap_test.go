//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package vmheap

import (
	"testing"

	"github.com/orizon-lang/vmheap/internal/cli"
)

func TestSystemPlatformHeapLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVirtualMemory = 8 * mib
	cfg.AllowShrink = true
	m := NewManager(
		WithConfig(cfg),
		WithLogger(cli.Discard()),
		WithFatalHandler(func(err error) { t.Fatalf("unexpected fatal: %v", err) }),
	)
	g := m.Geometry()
	if g.Size == 0 || g.Size&(g.Size-1) != 0 {
		t.Fatalf("page size %d", g.Size)
	}

	base, err := m.Reserve(4*g.Size, mib)
	if err != nil {
		t.Skipf("address space reservation unavailable: %v", err)
	}
	if !g.Aligned(base) {
		t.Fatalf("base %#x not page aligned", base)
	}

	mem := span(base, 4*g.Size)
	mem[0], mem[len(mem)-1] = 0xAA, 0x55

	limit := m.GrowMemoryBy(base+4*g.Size, 2*g.Size)
	if limit != base+6*g.Size {
		t.Fatalf("grow: limit %#x, want %#x", limit, base+6*g.Size)
	}
	top := span(base+4*g.Size, 2*g.Size)
	top[0] = 1
	top[len(top)-1] = 2

	limit = m.ShrinkMemoryBy(limit, 2*g.Size)
	if limit != base+4*g.Size {
		t.Fatalf("shrink: limit %#x", limit)
	}
	limit = m.GrowMemoryBy(limit, g.Size)
	if got := span(base+4*g.Size, g.Size)[0]; got != 0 {
		t.Fatalf("recommitted page holds %#x, want zero", got)
	}
	if mem[0] != 0xAA || mem[len(mem)-1] != 0x55 {
		t.Fatal("committed prefix lost its contents")
	}
	if err := m.Heap().Validate(); err != nil {
		t.Fatal(err)
	}
	if left := m.ExtraBytesLeft(true); left > m.Heap().Headroom() {
		t.Fatalf("ExtraBytesLeft %d exceeds headroom %d", left, m.Heap().Headroom())
	}
}

func TestSystemPlatformExecutableRegion(t *testing.T) {
	g := SystemPageGeometry()
	x, err := AllocateExecutable(SystemPlatform(), g, 10000)
	if err != nil {
		t.Skipf("anonymous mapping unavailable: %v", err)
	}
	if x.Size() != g.RoundUp(10000) {
		t.Fatalf("size %d", x.Size())
	}
	code := span(x.Base(), x.Size())
	code[0] = 0xC3

	if _, err := x.MakeExecutable(x.Base(), x.Base()+1); err != nil {
		t.Skipf("executable mappings refused by the host: %v", err)
	}
	if prot, _ := x.ProtectionAt(x.Base()); prot != ProtExecReadWrite {
		t.Fatalf("protection %v", prot)
	}
	if code[0] != 0xC3 {
		t.Fatal("code bytes changed by protection switch")
	}
}

func TestSystemMemoryStatus(t *testing.T) {
	st, err := SystemPlatform().MemoryStatus()
	if err != nil {
		t.Skipf("memory status unavailable: %v", err)
	}
	if st.AvailPhys == 0 {
		t.Fatalf("no physical memory reported: %+v", st)
	}
}
