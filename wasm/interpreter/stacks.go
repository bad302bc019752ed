package interpreter

import (
	"github.com/weewasm/weewasm/wasm"
)

const (
	initialOperandStackHeight = 1024
	initialLabelStackHeight   = 10
	initialFrameStackHeight   = 10
)

func drop(e *engine) {
	e.operands.drop()
	e.activeFrame.pc++
}

func selectOp(e *engine) {
	c := e.operands.pop()
	v2 := e.operands.pop()
	if c == 0 {
		e.operands.drop()
		e.operands.push(v2)
	}
	e.activeFrame.pc++
}

// operandStack holds raw 64-bit values. sp is the index of the top value,
// -1 when empty.
type operandStack struct {
	stack []uint64
	sp    int
}

func newOperandStack() *operandStack {
	return &operandStack{
		stack: make([]uint64, initialOperandStackHeight),
		sp:    -1,
	}
}

func (s *operandStack) pop() uint64 {
	if s.sp < 0 {
		panic(wasm.TrapStackUnderflow)
	}
	ret := s.stack[s.sp]
	s.sp--
	return ret
}

func (s *operandStack) drop() {
	if s.sp < 0 {
		panic(wasm.TrapStackUnderflow)
	}
	s.sp--
}

func (s *operandStack) peek() uint64 {
	if s.sp < 0 {
		panic(wasm.TrapStackUnderflow)
	}
	return s.stack[s.sp]
}

func (s *operandStack) push(val uint64) {
	if s.sp+1 == len(s.stack) {
		s.stack = append(s.stack, val)
	} else {
		s.stack[s.sp+1] = val
	}
	s.sp++
}

func (s *operandStack) pushBool(b bool) {
	if b {
		s.push(1)
	} else {
		s.push(0)
	}
}

type label struct {
	arity          int
	continuationPC uint64
	operandSP      int
}

type labelStack struct {
	stack []*label
	sp    int
}

func newLabelStack() *labelStack {
	return &labelStack{
		stack: make([]*label, initialLabelStackHeight),
		sp:    -1,
	}
}

func (s *labelStack) pop() *label {
	if s.sp < 0 {
		panic(wasm.TrapInvalidBranch)
	}
	ret := s.stack[s.sp]
	s.sp--
	return ret
}

func (s *labelStack) push(val *label) {
	if s.sp+1 == len(s.stack) {
		s.stack = append(s.stack, val)
	} else {
		s.stack[s.sp+1] = val
	}
	s.sp++
}

type frame struct {
	pc     uint64
	f      *wasm.FunctionInstance
	locals []uint64
	labels *labelStack
}

type frameStack struct {
	stack []*frame
	sp    int
}

func newFrameStack() *frameStack {
	return &frameStack{
		stack: make([]*frame, initialFrameStackHeight),
		sp:    -1,
	}
}

func (s *frameStack) peek() *frame {
	if s.sp < 0 {
		return nil
	}
	return s.stack[s.sp]
}

func (s *frameStack) pop() *frame {
	ret := s.stack[s.sp]
	s.sp--
	return ret
}

func (s *frameStack) push(val *frame) {
	if s.sp+1 == len(s.stack) {
		s.stack = append(s.stack, val)
	} else {
		s.stack[s.sp+1] = val
	}
	s.sp++
}
