package interpreter

import (
	"encoding/binary"

	"github.com/weewasm/weewasm/wasm"
)

// memoryBase consumes the alignment and offset immediates plus the address
// operand and returns the effective byte address. The sum cannot overflow:
// both terms fit in 32 bits.
func memoryBase(e *engine) uint64 {
	e.activeFrame.pc++
	_ = e.fetchUint32() // alignment hint
	e.activeFrame.pc++
	offset := uint64(e.fetchUint32())
	return offset + e.operands.pop()
}

func (e *engine) currentMemory() *wasm.MemoryInstance {
	memory := e.activeFrame.f.Instance.Memory
	if memory == nil {
		panic(wasm.TrapMemoryOutOfBounds)
	}
	return memory
}

func checkLen(memory *wasm.MemoryInstance, base, size uint64) {
	if base+size > uint64(len(memory.Buffer)) {
		panic(wasm.TrapMemoryOutOfBounds)
	}
}

func i32Load(e *engine) {
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 4)
	e.operands.push(uint64(binary.LittleEndian.Uint32(memory.Buffer[base:])))
	e.activeFrame.pc++
}

func f64Load(e *engine) {
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 8)
	e.operands.push(binary.LittleEndian.Uint64(memory.Buffer[base:]))
	e.activeFrame.pc++
}

func i32Load8s(e *engine) {
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 1)
	e.operands.push(uint64(uint32(int32(int8(memory.Buffer[base])))))
	e.activeFrame.pc++
}

func i32Load8u(e *engine) {
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 1)
	e.operands.push(uint64(memory.Buffer[base]))
	e.activeFrame.pc++
}

func i32Load16s(e *engine) {
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 2)
	e.operands.push(uint64(uint32(int32(int16(binary.LittleEndian.Uint16(memory.Buffer[base:]))))))
	e.activeFrame.pc++
}

func i32Load16u(e *engine) {
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 2)
	e.operands.push(uint64(binary.LittleEndian.Uint16(memory.Buffer[base:])))
	e.activeFrame.pc++
}

func i32Store(e *engine) {
	val := e.operands.pop()
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 4)
	binary.LittleEndian.PutUint32(memory.Buffer[base:], uint32(val))
	e.activeFrame.pc++
}

func f64Store(e *engine) {
	val := e.operands.pop()
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 8)
	binary.LittleEndian.PutUint64(memory.Buffer[base:], val)
	e.activeFrame.pc++
}

func i32Store8(e *engine) {
	val := byte(e.operands.pop())
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 1)
	memory.Buffer[base] = val
	e.activeFrame.pc++
}

func i32Store16(e *engine) {
	val := uint16(e.operands.pop())
	base := memoryBase(e)
	memory := e.currentMemory()
	checkLen(memory, base, 2)
	binary.LittleEndian.PutUint16(memory.Buffer[base:], val)
	e.activeFrame.pc++
}

func memorySize(e *engine) {
	e.activeFrame.pc++ // reserved byte
	e.operands.push(uint64(e.currentMemory().PageCount()))
	e.activeFrame.pc++
}

func memoryGrow(e *engine) {
	e.activeFrame.pc++ // reserved byte
	n := uint32(e.operands.pop())
	e.operands.push(uint64(uint32(e.currentMemory().Grow(n))))
	e.activeFrame.pc++
}
