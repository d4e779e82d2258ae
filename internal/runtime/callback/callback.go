// Package callback defines the record passed between native code and the
// interpreter when a foreign function calls back into the runtime.
//
// The record is produced and consumed by the native-call trampoline, which
// also owns its memory. This package only fixes its shape and provides
// typed access to the return-value union.
package callback

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/sys/cpu"
)

// ReturnType selects which arm of the return-value union is valid.
type ReturnType int32

const (
	ReturnNone   ReturnType = 0
	ReturnWord   ReturnType = 1
	ReturnWord64 ReturnType = 2
	ReturnDouble ReturnType = 3
	ReturnStruct ReturnType = 4
)

func (t ReturnType) String() string {
	switch t {
	case ReturnNone:
		return "none"
	case ReturnWord:
		return "word"
	case ReturnWord64:
		return "word64"
	case ReturnDouble:
		return "double"
	case ReturnStruct:
		return "struct"
	}
	return fmt.Sprintf("ReturnType(%d)", int32(t))
}

// ResumeMarker is a saved resumption point for a non-local jump.
type ResumeMarker struct {
	PC uintptr
	SP uintptr
	FP uintptr
}

// Valid reports whether the marker has been set.
func (m ResumeMarker) Valid() bool { return m.PC != 0 }

// ReturnValue is the return-value union. Its 16 bytes hold a native word,
// a 64-bit integer as two 32-bit halves in machine order, a float64, or the
// address and size of an aggregate.
type ReturnValue struct {
	raw [16]byte
}

// SetWord stores a native word.
func (v *ReturnValue) SetWord(w uintptr) { binary.NativeEndian.PutUint64(v.raw[:8], uint64(w)) }

// Word returns the native word arm.
func (v *ReturnValue) Word() uintptr { return uintptr(binary.NativeEndian.Uint64(v.raw[:8])) }

// SetInt64 stores x as two 32-bit halves, low half first on little-endian
// machines and high half first on big-endian ones.
func (v *ReturnValue) SetInt64(x int64) {
	lo, hi := uint32(uint64(x)), uint32(uint64(x)>>32)
	first, second := lo, hi
	if cpu.IsBigEndian {
		first, second = hi, lo
	}
	binary.NativeEndian.PutUint32(v.raw[0:4], first)
	binary.NativeEndian.PutUint32(v.raw[4:8], second)
}

// Int64 reassembles the 64-bit integer arm.
func (v *ReturnValue) Int64() int64 {
	first := binary.NativeEndian.Uint32(v.raw[0:4])
	second := binary.NativeEndian.Uint32(v.raw[4:8])
	lo, hi := first, second
	if cpu.IsBigEndian {
		lo, hi = second, first
	}
	return int64(uint64(hi)<<32 | uint64(lo))
}

// Halves returns the two 32-bit halves in storage order.
func (v *ReturnValue) Halves() (first, second uint32) {
	return binary.NativeEndian.Uint32(v.raw[0:4]), binary.NativeEndian.Uint32(v.raw[4:8])
}

// SetFloat64 stores a double.
func (v *ReturnValue) SetFloat64(f float64) {
	binary.NativeEndian.PutUint64(v.raw[:8], math.Float64bits(f))
}

// Float64 returns the double arm.
func (v *ReturnValue) Float64() float64 {
	return math.Float64frombits(binary.NativeEndian.Uint64(v.raw[:8]))
}

// SetStruct stores the address and size of an aggregate result.
func (v *ReturnValue) SetStruct(addr, size uintptr) {
	binary.NativeEndian.PutUint64(v.raw[0:8], uint64(addr))
	binary.NativeEndian.PutUint64(v.raw[8:16], uint64(size))
}

// Struct returns the aggregate arm.
func (v *ReturnValue) Struct() (addr, size uintptr) {
	return uintptr(binary.NativeEndian.Uint64(v.raw[0:8])), uintptr(binary.NativeEndian.Uint64(v.raw[8:16]))
}

// Context is the callback record.
type Context struct {
	Thunk              uintptr
	Stack              uintptr
	IntRegArgs         uintptr
	FloatRegArgs       uintptr
	SavedCStackPointer uintptr
	SavedCFramePointer uintptr

	Value ReturnValue

	// Trampoline unwinds the callback; SavedReenterInterpreter resumes
	// the interpreter loop.
	Trampoline              ResumeMarker
	SavedReenterInterpreter ResumeMarker

	Type ReturnType
}

// ReturnWord sets a native word result.
func (c *Context) ReturnWord(w uintptr) {
	c.Value.SetWord(w)
	c.Type = ReturnWord
}

// ReturnInt64 sets a 64-bit integer result.
func (c *Context) ReturnInt64(x int64) {
	c.Value.SetInt64(x)
	c.Type = ReturnWord64
}

// ReturnFloat64 sets a double result.
func (c *Context) ReturnFloat64(f float64) {
	c.Value.SetFloat64(f)
	c.Type = ReturnDouble
}

// ReturnStruct sets an aggregate result.
func (c *Context) ReturnStruct(addr, size uintptr) {
	c.Value.SetStruct(addr, size)
	c.Type = ReturnStruct
}

// Result returns the valid arm of the union selected by Type: a uintptr,
// an int64, a float64 or a [2]uintptr{addr, size}.
func (c *Context) Result() (interface{}, error) {
	switch c.Type {
	case ReturnWord:
		return c.Value.Word(), nil
	case ReturnWord64:
		return c.Value.Int64(), nil
	case ReturnDouble:
		return c.Value.Float64(), nil
	case ReturnStruct:
		addr, size := c.Value.Struct()
		return [2]uintptr{addr, size}, nil
	}
	return nil, fmt.Errorf("callback: no result for return type %v", c.Type)
}
