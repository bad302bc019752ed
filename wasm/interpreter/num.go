package interpreter

import (
	"math"
	"math/bits"

	"github.com/weewasm/weewasm/wasm"
)

func i32eqz(e *engine) {
	e.operands.pushBool(uint32(e.operands.pop()) == 0)
	e.activeFrame.pc++
}

func i32eq(e *engine) {
	e.operands.pushBool(uint32(e.operands.pop()) == uint32(e.operands.pop())) //nolint
	e.activeFrame.pc++
}

func i32ne(e *engine) {
	e.operands.pushBool(uint32(e.operands.pop()) != uint32(e.operands.pop())) //nolint
	e.activeFrame.pc++
}

func i32lts(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(int32(v1) < int32(v2))
	e.activeFrame.pc++
}

func i32ltu(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(uint32(v1) < uint32(v2))
	e.activeFrame.pc++
}

func i32gts(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(int32(v1) > int32(v2))
	e.activeFrame.pc++
}

func i32gtu(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(uint32(v1) > uint32(v2))
	e.activeFrame.pc++
}

func i32les(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(int32(v1) <= int32(v2))
	e.activeFrame.pc++
}

func i32leu(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(uint32(v1) <= uint32(v2))
	e.activeFrame.pc++
}

func i32ges(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(int32(v1) >= int32(v2))
	e.activeFrame.pc++
}

func i32geu(e *engine) {
	v2 := e.operands.pop()
	v1 := e.operands.pop()
	e.operands.pushBool(uint32(v1) >= uint32(v2))
	e.activeFrame.pc++
}

func f64eq(e *engine) {
	f2 := math.Float64frombits(e.operands.pop())
	f1 := math.Float64frombits(e.operands.pop())
	e.operands.pushBool(f1 == f2)
	e.activeFrame.pc++
}

func f64ne(e *engine) {
	f2 := math.Float64frombits(e.operands.pop())
	f1 := math.Float64frombits(e.operands.pop())
	e.operands.pushBool(f1 != f2)
	e.activeFrame.pc++
}

func f64lt(e *engine) {
	f2 := math.Float64frombits(e.operands.pop())
	f1 := math.Float64frombits(e.operands.pop())
	e.operands.pushBool(f1 < f2)
	e.activeFrame.pc++
}

func f64gt(e *engine) {
	f2 := math.Float64frombits(e.operands.pop())
	f1 := math.Float64frombits(e.operands.pop())
	e.operands.pushBool(f1 > f2)
	e.activeFrame.pc++
}

func f64le(e *engine) {
	f2 := math.Float64frombits(e.operands.pop())
	f1 := math.Float64frombits(e.operands.pop())
	e.operands.pushBool(f1 <= f2)
	e.activeFrame.pc++
}

func f64ge(e *engine) {
	f2 := math.Float64frombits(e.operands.pop())
	f1 := math.Float64frombits(e.operands.pop())
	e.operands.pushBool(f1 >= f2)
	e.activeFrame.pc++
}

func i32clz(e *engine) {
	e.operands.push(uint64(bits.LeadingZeros32(uint32(e.operands.pop()))))
	e.activeFrame.pc++
}

func i32ctz(e *engine) {
	e.operands.push(uint64(bits.TrailingZeros32(uint32(e.operands.pop()))))
	e.activeFrame.pc++
}

func i32popcnt(e *engine) {
	e.operands.push(uint64(bits.OnesCount32(uint32(e.operands.pop()))))
	e.activeFrame.pc++
}

func i32add(e *engine) {
	e.operands.push(uint64(uint32(e.operands.pop()) + uint32(e.operands.pop())))
	e.activeFrame.pc++
}

func i32sub(e *engine) {
	v2 := uint32(e.operands.pop())
	v1 := uint32(e.operands.pop())
	e.operands.push(uint64(v1 - v2))
	e.activeFrame.pc++
}

func i32mul(e *engine) {
	e.operands.push(uint64(uint32(e.operands.pop()) * uint32(e.operands.pop())))
	e.activeFrame.pc++
}

func i32divs(e *engine) {
	v2 := int32(e.operands.pop())
	v1 := int32(e.operands.pop())
	if v2 == 0 {
		panic(wasm.TrapIntegerDivideByZero)
	}
	if v1 == math.MinInt32 && v2 == -1 {
		panic(wasm.TrapIntegerOverflow)
	}
	e.operands.push(uint64(uint32(v1 / v2)))
	e.activeFrame.pc++
}

func i32divu(e *engine) {
	v2 := uint32(e.operands.pop())
	v1 := uint32(e.operands.pop())
	if v2 == 0 {
		panic(wasm.TrapIntegerDivideByZero)
	}
	e.operands.push(uint64(v1 / v2))
	e.activeFrame.pc++
}

func i32rems(e *engine) {
	v2 := int32(e.operands.pop())
	v1 := int32(e.operands.pop())
	if v2 == 0 {
		panic(wasm.TrapIntegerDivideByZero)
	}
	e.operands.push(uint64(uint32(v1 % v2)))
	e.activeFrame.pc++
}

func i32remu(e *engine) {
	v2 := uint32(e.operands.pop())
	v1 := uint32(e.operands.pop())
	if v2 == 0 {
		panic(wasm.TrapIntegerDivideByZero)
	}
	e.operands.push(uint64(v1 % v2))
	e.activeFrame.pc++
}

func i32and(e *engine) {
	e.operands.push(uint64(uint32(e.operands.pop()) & uint32(e.operands.pop()))) //nolint
	e.activeFrame.pc++
}

func i32or(e *engine) {
	e.operands.push(uint64(uint32(e.operands.pop()) | uint32(e.operands.pop()))) //nolint
	e.activeFrame.pc++
}

func i32xor(e *engine) {
	e.operands.push(uint64(uint32(e.operands.pop()) ^ uint32(e.operands.pop()))) //nolint
	e.activeFrame.pc++
}

func i32shl(e *engine) {
	v2 := uint32(e.operands.pop())
	v1 := uint32(e.operands.pop())
	e.operands.push(uint64(v1 << (v2 % 32)))
	e.activeFrame.pc++
}

func i32shrs(e *engine) {
	v2 := uint32(e.operands.pop())
	v1 := int32(e.operands.pop())
	e.operands.push(uint64(uint32(v1 >> (v2 % 32))))
	e.activeFrame.pc++
}

func i32shru(e *engine) {
	v2 := uint32(e.operands.pop())
	v1 := uint32(e.operands.pop())
	e.operands.push(uint64(v1 >> (v2 % 32)))
	e.activeFrame.pc++
}

func i32rotl(e *engine) {
	v2 := int(e.operands.pop())
	v1 := uint32(e.operands.pop())
	e.operands.push(uint64(bits.RotateLeft32(v1, v2)))
	e.activeFrame.pc++
}

func i32rotr(e *engine) {
	v2 := int(e.operands.pop())
	v1 := uint32(e.operands.pop())
	e.operands.push(uint64(bits.RotateLeft32(v1, -v2)))
	e.activeFrame.pc++
}

func f64abs(e *engine) {
	const mask = 1 << 63
	v := e.operands.pop() &^ mask
	e.operands.push(v)
	e.activeFrame.pc++
}

func f64neg(e *engine) {
	v := -math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(v))
	e.activeFrame.pc++
}

func f64ceil(e *engine) {
	v := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(math.Ceil(v)))
	e.activeFrame.pc++
}

func f64floor(e *engine) {
	v := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(math.Floor(v)))
	e.activeFrame.pc++
}

func f64trunc(e *engine) {
	v := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(math.Trunc(v)))
	e.activeFrame.pc++
}

func f64nearest(e *engine) {
	v := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(math.RoundToEven(v)))
	e.activeFrame.pc++
}

func f64sqrt(e *engine) {
	v := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(math.Sqrt(v)))
	e.activeFrame.pc++
}

func f64add(e *engine) {
	v := math.Float64frombits(e.operands.pop()) + math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(v))
	e.activeFrame.pc++
}

func f64sub(e *engine) {
	v2 := math.Float64frombits(e.operands.pop())
	v1 := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(v1 - v2))
	e.activeFrame.pc++
}

func f64mul(e *engine) {
	v := math.Float64frombits(e.operands.pop()) * math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(v))
	e.activeFrame.pc++
}

// Division by zero follows IEEE 754: the result is an infinity or NaN,
// never a trap.
func f64div(e *engine) {
	v2 := math.Float64frombits(e.operands.pop())
	v1 := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(v1 / v2))
	e.activeFrame.pc++
}

// fmin differs from math.Min: any NaN operand wins, and the result NaN is
// canonical. Adapted from
// https://github.com/golang/go/blob/go1.16/src/math/dim.go#L74-L91
func fmin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

func f64min(e *engine) {
	v2 := math.Float64frombits(e.operands.pop())
	v1 := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(fmin(v1, v2)))
	e.activeFrame.pc++
}

// fmax is the counterpart of fmin.
func fmax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

func f64max(e *engine) {
	v2 := math.Float64frombits(e.operands.pop())
	v1 := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(fmax(v1, v2)))
	e.activeFrame.pc++
}

func f64copysign(e *engine) {
	v2 := math.Float64frombits(e.operands.pop())
	v1 := math.Float64frombits(e.operands.pop())
	e.operands.push(math.Float64bits(math.Copysign(v1, v2)))
	e.activeFrame.pc++
}

func i32truncf64s(e *engine) {
	v := math.Trunc(math.Float64frombits(e.operands.pop()))
	if math.IsNaN(v) {
		panic(wasm.TrapInvalidConversionToInteger)
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		panic(wasm.TrapIntegerOverflow)
	}
	e.operands.push(uint64(uint32(int32(v))))
	e.activeFrame.pc++
}

func i32truncf64u(e *engine) {
	v := math.Trunc(math.Float64frombits(e.operands.pop()))
	if math.IsNaN(v) {
		panic(wasm.TrapInvalidConversionToInteger)
	}
	if v < 0 || v > math.MaxUint32 {
		panic(wasm.TrapIntegerOverflow)
	}
	e.operands.push(uint64(uint32(v)))
	e.activeFrame.pc++
}

func f64converti32s(e *engine) {
	v := float64(int32(e.operands.pop()))
	e.operands.push(math.Float64bits(v))
	e.activeFrame.pc++
}

func f64converti32u(e *engine) {
	v := float64(uint32(e.operands.pop()))
	e.operands.push(math.Float64bits(v))
	e.activeFrame.pc++
}

func i32extend8s(e *engine) {
	v := int32(int8(e.operands.pop()))
	e.operands.push(uint64(uint32(v)))
	e.activeFrame.pc++
}

func i32extend16s(e *engine) {
	v := int32(int16(e.operands.pop()))
	e.operands.push(uint64(uint32(v)))
	e.activeFrame.pc++
}
