package wasm

import (
	"fmt"
	"io"
	"math"

	"github.com/weewasm/weewasm/wasm/leb128"
)

// ValueType is the binary encoding of a value type. All four MVP encodings
// are named so errors can say what was rejected, but only i32 and f64 are
// executable in this runtime.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

func formatValueType(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return fmt.Sprintf("unknown (%#x)", byte(t))
}

// ValueKind tags a Value. The runtime's value domain is closed over these
// two kinds.
type ValueKind byte

const (
	ValueKindI32 ValueKind = iota
	ValueKindF64
)

// Value is a tagged value crossing the host boundary: function arguments,
// results and exported globals. Inside the engines values travel as raw
// uint64 bits.
type Value struct {
	kind ValueKind
	bits uint64
}

// I32Value returns a Value holding a 32-bit integer.
func I32Value(v int32) Value {
	return Value{kind: ValueKindI32, bits: uint64(uint32(v))}
}

// F64Value returns a Value holding a 64-bit float. The bit pattern is kept
// as-is, including NaN payloads and signed zeros.
func F64Value(v float64) Value {
	return Value{kind: ValueKindF64, bits: math.Float64bits(v)}
}

func (v Value) Kind() ValueKind { return v.kind }

// I32 returns the integer interpretation. Only meaningful for ValueKindI32.
func (v Value) I32() int32 { return int32(uint32(v.bits)) }

// F64 returns the float interpretation. Only meaningful for ValueKindF64.
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

func (v Value) String() string {
	if v.kind == ValueKindI32 {
		return fmt.Sprintf("%d", v.I32())
	}
	return fmt.Sprintf("%g", v.F64())
}

// valueFromRaw tags raw engine bits with the kind implied by t.
func valueFromRaw(raw uint64, t ValueType) Value {
	if t == ValueTypeF64 {
		return Value{kind: ValueKindF64, bits: raw}
	}
	return Value{kind: ValueKindI32, bits: raw & 0xffffffff}
}

func (v Value) raw() uint64 { return v.bits }

func readValueTypes(r io.Reader, num uint32) ([]ValueType, error) {
	ret := make([]ValueType, num)
	buf := make([]byte, num)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	for i, v := range buf {
		switch vt := ValueType(v); vt {
		case ValueTypeI32, ValueTypeF64:
			ret[i] = vt
		case ValueTypeI64, ValueTypeF32:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedValueType, formatValueType(vt))
		default:
			return nil, fmt.Errorf("invalid value type: %#x", v)
		}
	}
	return ret, nil
}

func readNameValue(r io.Reader) (string, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", fmt.Errorf("read size of name: %w", err)
	}

	buf := make([]byte, vs)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read bytes of name: %w", err)
	}

	return string(buf), nil
}

func hasSameSignature(a []ValueType, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
