package interpreter

import (
	"math"
)

func localGet(e *engine) {
	frame := e.activeFrame
	frame.pc++
	id := e.fetchUint32()
	e.operands.push(frame.locals[id])
	frame.pc++
}

func localSet(e *engine) {
	frame := e.activeFrame
	frame.pc++
	id := e.fetchUint32()
	frame.locals[id] = e.operands.pop()
	frame.pc++
}

func localTee(e *engine) {
	frame := e.activeFrame
	frame.pc++
	id := e.fetchUint32()
	frame.locals[id] = e.operands.peek()
	frame.pc++
}

func globalGet(e *engine) {
	frame := e.activeFrame
	frame.pc++
	id := e.fetchUint32()
	e.operands.push(frame.f.Instance.Globals[id].Val)
	frame.pc++
}

func globalSet(e *engine) {
	frame := e.activeFrame
	frame.pc++
	id := e.fetchUint32()
	frame.f.Instance.Globals[id].Val = e.operands.pop()
	frame.pc++
}

func i32Const(e *engine) {
	e.activeFrame.pc++
	v := e.fetchInt32()
	e.operands.push(uint64(uint32(v)))
	e.activeFrame.pc++
}

func f64Const(e *engine) {
	e.activeFrame.pc++
	v := e.fetchFloat64()
	e.operands.push(math.Float64bits(v))
	e.activeFrame.pc++
}
