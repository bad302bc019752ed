package interpreter

import (
	"bytes"

	"github.com/weewasm/weewasm/wasm"
	"github.com/weewasm/weewasm/wasm/leb128"
)

func block(e *engine) {
	frame := e.activeFrame
	bl, ok := frame.f.Blocks[frame.pc]
	if !ok {
		panic("block not resolved")
	}

	frame.pc += bl.BlockTypeBytes
	frame.labels.push(&label{
		arity:          len(bl.BlockType.Results),
		continuationPC: bl.EndAt + 1,
		operandSP:      e.operands.sp,
	})
	frame.pc++
}

func loop(e *engine) {
	frame := e.activeFrame
	bl, ok := frame.f.Blocks[frame.pc]
	if !ok {
		panic("block not resolved")
	}

	// A branch to a loop label re-enters the loop, so the continuation is
	// the loop opcode itself and the label carries no values.
	frame.pc += bl.BlockTypeBytes
	frame.labels.push(&label{
		arity:          0,
		continuationPC: bl.StartAt,
		operandSP:      e.operands.sp,
	})
	frame.pc++
}

func ifOp(e *engine) {
	frame := e.activeFrame
	bl, ok := frame.f.Blocks[frame.pc]
	if !ok {
		panic("block not resolved")
	}
	frame.pc += bl.BlockTypeBytes

	if e.operands.pop() == 0 {
		frame.pc = bl.ElseAt
	}

	frame.labels.push(&label{
		arity:          len(bl.BlockType.Results),
		continuationPC: bl.EndAt + 1,
		operandSP:      e.operands.sp,
	})
	frame.pc++
}

// elseOp is only reached by falling off the true arm, so it jumps to the
// block continuation, past the false arm and its end.
func elseOp(e *engine) {
	frame := e.activeFrame
	l := frame.labels.pop()
	frame.pc = l.continuationPC
}

func end(e *engine) {
	frame := e.activeFrame
	frame.labels.pop()
	if frame.labels.sp < 0 {
		// The function label was popped: the body is complete and its
		// results are on the operand stack.
		e.popFrame()
		return
	}
	frame.pc++
}

func returnOp(e *engine) {
	brAt(e, uint32(e.activeFrame.labels.sp))
}

func br(e *engine) {
	e.activeFrame.pc++
	index := e.fetchUint32()
	brAt(e, index)
}

func brIf(e *engine) {
	e.activeFrame.pc++
	index := e.fetchUint32()
	if e.operands.pop() != 0 {
		brAt(e, index)
	} else {
		e.activeFrame.pc++
	}
}

// brAt pops index+1 labels, carries the target label's arity values over
// the truncated operand stack and transfers control. Branching to the
// function label pops the frame instead of jumping.
func brAt(e *engine, index uint32) {
	frame := e.activeFrame
	var l *label
	for i := uint32(0); i < index+1; i++ {
		l = frame.labels.pop()
	}

	values := make([]uint64, 0, l.arity)
	for i := 0; i < l.arity; i++ {
		values = append(values, e.operands.pop())
	}
	e.operands.sp = l.operandSP
	for i := len(values) - 1; i >= 0; i-- {
		e.operands.push(values[i])
	}

	if frame.labels.sp < 0 {
		e.popFrame()
		return
	}
	frame.pc = l.continuationPC
}

func brTable(e *engine) {
	frame := e.activeFrame
	frame.pc++
	r := bytes.NewReader(frame.f.Body[frame.pc:])

	nl, _, err := leb128.DecodeUint32(r)
	if err != nil {
		panic(err)
	}
	targets := make([]uint32, nl)
	for i := range targets {
		t, _, err := leb128.DecodeUint32(r)
		if err != nil {
			panic(err)
		}
		targets[i] = t
	}
	ln, _, err := leb128.DecodeUint32(r)
	if err != nil {
		panic(err)
	}

	i := uint32(e.operands.pop())
	if i < nl {
		brAt(e, targets[i])
	} else {
		brAt(e, ln)
	}
}
