package vmheap

import (
	"os"
	"testing"
)

func TestPageGeometryRounding(t *testing.T) {
	g := NewPageGeometry(4096)
	if g.Mask != ^uintptr(4095) {
		t.Fatalf("mask = %#x", g.Mask)
	}

	tests := []struct {
		in, up, down, legacy uintptr
	}{
		{0, 0, 0, 4096},
		{1, 4096, 0, 4096},
		{4095, 4096, 0, 4096},
		{4096, 4096, 4096, 8192},
		{4097, 8192, 4096, 8192},
		{10000, 12288, 8192, 12288},
	}
	for _, tt := range tests {
		if got := g.RoundUp(tt.in); got != tt.up {
			t.Errorf("RoundUp(%d) = %d, want %d", tt.in, got, tt.up)
		}
		if got := g.RoundDown(tt.in); got != tt.down {
			t.Errorf("RoundDown(%d) = %d, want %d", tt.in, got, tt.down)
		}
		if got := g.RoundUpLegacy(tt.in); got != tt.legacy {
			t.Errorf("RoundUpLegacy(%d) = %d, want %d", tt.in, got, tt.legacy)
		}
	}
	if !g.Aligned(8192) || g.Aligned(8193) {
		t.Fatal("Aligned is wrong")
	}
}

func TestPageGeometryRejectsNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for page size 3000")
		}
	}()
	NewPageGeometry(3000)
}

func TestSystemPageGeometryIsCached(t *testing.T) {
	g1 := SystemPageGeometry()
	g2 := SystemPageGeometry()
	if g1 != g2 {
		t.Fatalf("geometry changed between calls: %+v %+v", g1, g2)
	}
	if g1.Size != uintptr(os.Getpagesize()) {
		t.Fatalf("page size = %d, want %d", g1.Size, os.Getpagesize())
	}
	if got := ResolvePageGeometry(NewSimulatedPlatform(16384)); got.Size != 16384 {
		t.Fatalf("simulated geometry = %+v", got)
	}
}
