//go:build amd64
// +build amd64

package jit

// This file implements the compiler for the amd64/x86_64 target.
// Please refer to https://www.felixcloutier.com/x86/index.html
// if unfamiliar with the amd64 instructions used here.
// Note that the x86 pkg prefixes all instruction names with "A",
// e.g. MOVQ is given as x86.AMOVQ.
//
// The compiler makes a single forward pass over the function body and
// keeps every value in its stack slot: each instruction loads its
// operands from [R14+slot*8] into scratch registers, computes, and
// writes the result back. No register allocation state survives from
// one instruction to the next, so control flow merges need no fixups
// beyond the jump targets themselves.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/weewasm/weewasm/wasm"
	"github.com/weewasm/weewasm/wasm/leb128"
)

const (
	// reservedRegisterForEngine holds the pointer to the calling engine.
	// All status, index and continuation writes go through it.
	reservedRegisterForEngine = x86.REG_R13
	// reservedRegisterForStackBasePointer holds the address of the bottom
	// slot of the current frame, i.e. &engine.stack[engine.stackBasePointer].
	reservedRegisterForStackBasePointer = x86.REG_R14
	// reservedRegisterForMemory holds the address of the first byte of the
	// instance's linear memory. jitcall loads it on every entry, so after
	// memory.grow moves the buffer the continuation sees the new address.
	reservedRegisterForMemory = x86.REG_R15
)

// Everything else is scratch. Integer instructions use AX, CX and DX;
// float instructions use X0 through X2.

// Read-only values referenced from generated code. Keeping them in
// package variables fixes their addresses for the life of the process.
var (
	zero64Bit                 uint64 = 0
	zero64BitAddress          uintptr
	float64SignBitMask        uint64 = 1 << 63
	float64SignBitMaskAddress uintptr
	float64RestBitMask               = ^float64SignBitMask
	float64RestBitMaskAddress uintptr
	// The single NaN bit pattern produced by f64.min and f64.max,
	// identical to math.NaN() so both engines agree bit for bit.
	float64CanonicalNaNBits        = math.Float64bits(math.NaN())
	float64CanonicalNaNBitsAddress uintptr
	// math.MinInt32 - 1 as a float64. Values at or below it cannot
	// truncate into an int32.
	float64ForMinimumSigned32bitInteger        = math.Float64frombits(0xC1E0_0000_0020_0000)
	float64ForMinimumSigned32bitIntegerAddress uintptr
	// math.MaxInt32 + 1 as a float64, i.e. 2^31.
	float64ForMaximumSigned32bitIntPlusOne        = math.Float64frombits(0x41E0_0000_0000_0000)
	float64ForMaximumSigned32bitIntPlusOneAddress uintptr
	// CVTTSD2SL reports failure by producing exactly this bit pattern,
	// which doubles as 2^31 when reinterpreted as an unsigned addend.
	integerIndefinite32bit        uint32 = 1 << 31
	integerIndefinite32bitAddress uintptr
)

func init() {
	zero64BitAddress = uintptr(unsafe.Pointer(&zero64Bit))
	float64SignBitMaskAddress = uintptr(unsafe.Pointer(&float64SignBitMask))
	float64RestBitMaskAddress = uintptr(unsafe.Pointer(&float64RestBitMask))
	float64CanonicalNaNBitsAddress = uintptr(unsafe.Pointer(&float64CanonicalNaNBits))
	float64ForMinimumSigned32bitIntegerAddress = uintptr(unsafe.Pointer(&float64ForMinimumSigned32bitInteger))
	float64ForMaximumSigned32bitIntPlusOneAddress = uintptr(unsafe.Pointer(&float64ForMaximumSigned32bitIntPlusOne))
	integerIndefinite32bitAddress = uintptr(unsafe.Pointer(&integerIndefinite32bit))
}

// jitcall is implemented in jit_amd64.s as a Go Assembler function.
// It loads engine into R13 and memory into R15, then jumps into
// codeSegment. The generated code returns with RET, which lands back in
// the Go caller of jitcall.
func jitcall(codeSegment, engine, memory uintptr)

func newCompiler(eng *engine, f *wasm.FunctionInstance) (compiler, error) {
	b, err := asm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("create assembly builder: %w", err)
	}
	return &amd64Compiler{eng: eng, f: f, builder: b}, nil
}

type amd64Compiler struct {
	eng     *engine
	f       *wasm.FunctionInstance
	builder *asm.Builder
	// stackPointer is the compile-time height of the value stack, in
	// slots relative to the frame base. Locals occupy the bottom
	// localCount slots; operands live above them.
	stackPointer    uint64
	maxStackPointer uint64
	localCount      uint64
	controlFrames   []*controlFrame
	// setJmpOrigins are jump instructions whose target is the next
	// instruction emitted, whatever that turns out to be.
	setJmpOrigins []*obj.Prog
	// requireFunctionCallReturnAddressOffsetResolution are the MOVQ
	// instructions whose 64-bit immediate must be patched with the
	// continuation offset once instruction addresses are known.
	requireFunctionCallReturnAddressOffsetResolution []*obj.Prog
}

// controlFrame tracks one open block, loop or if during compilation.
// The bottom frame has a nil block and stands for the function body:
// branching to it returns from the function.
type controlFrame struct {
	block        *wasm.FunctionBlock
	isLoop, isIf bool
	seenElse     bool
	// stackPointer is the operand height at entry, after an if condition
	// has been popped. Branch targets receive their values at this height.
	stackPointer uint64
	// arity is the number of values a branch to this frame carries: the
	// block result count, except for loops which carry none.
	arity int
	// resultCount is the number of values on the stack after the block's
	// end, from the declared block type.
	resultCount int
	// loopStart anchors backward branches. endJmps collect forward
	// branches to bind at end. elseJmp is the conditional jump of an if,
	// taken when the condition is zero.
	loopStart *obj.Prog
	endJmps   []*obj.Prog
	elseJmp   *obj.Prog
}

func (c *amd64Compiler) newProg() (prog *obj.Prog) {
	prog = c.builder.NewProg()
	return
}

func (c *amd64Compiler) addInstruction(prog *obj.Prog) {
	c.builder.AddInstruction(prog)
	for _, origin := range c.setJmpOrigins {
		origin.To.SetTarget(prog)
	}
	c.setJmpOrigins = nil
}

func (c *amd64Compiler) addSetJmpOrigins(progs ...*obj.Prog) {
	c.setJmpOrigins = append(c.setJmpOrigins, progs...)
}

// emitJump emits a jump instruction whose target is set later, either
// via addSetJmpOrigins or SetTarget.
func (c *amd64Compiler) emitJump(inst obj.As) *obj.Prog {
	jmp := c.newProg()
	jmp.As = inst
	jmp.To.Type = obj.TYPE_BRANCH
	c.addInstruction(jmp)
	return jmp
}

func (c *amd64Compiler) pushValue() (slot uint64) {
	slot = c.stackPointer
	c.stackPointer++
	if c.stackPointer > c.maxStackPointer {
		c.maxStackPointer = c.stackPointer
	}
	return
}

func (c *amd64Compiler) popValue() (slot uint64) {
	c.stackPointer--
	return c.stackPointer
}

func (c *amd64Compiler) moveSlotToRegister(inst obj.As, slot uint64, reg int16) {
	prog := c.newProg()
	prog.As = inst
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = reservedRegisterForStackBasePointer
	prog.From.Offset = int64(slot) * 8
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = reg
	c.addInstruction(prog)
}

func (c *amd64Compiler) moveRegisterToSlot(inst obj.As, reg int16, slot uint64) {
	prog := c.newProg()
	prog.As = inst
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = reg
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = reservedRegisterForStackBasePointer
	prog.To.Offset = int64(slot) * 8
	c.addInstruction(prog)
}

func (c *amd64Compiler) emitRegisterToRegister(inst obj.As, from, to int16) {
	prog := c.newProg()
	prog.As = inst
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = from
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = to
	c.addInstruction(prog)
}

func (c *amd64Compiler) emitConstToRegister(inst obj.As, value int64, reg int16) {
	prog := c.newProg()
	prog.As = inst
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = value
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = reg
	c.addInstruction(prog)
}

// emitSetConditional materializes the current flag state as 0 or 1 in
// reg. SETcc only writes the low byte, so the rest is masked off.
func (c *amd64Compiler) emitSetConditional(setInst obj.As, reg int16) {
	set := c.newProg()
	set.As = setInst
	set.To.Type = obj.TYPE_REG
	set.To.Reg = reg
	c.addInstruction(set)

	c.emitConstToRegister(x86.AANDQ, 0x1, reg)
}

// emitPreamble sets up the frame. The caller has already placed the
// parameters in the bottom slots; the declared locals above them start
// at zero.
func (c *amd64Compiler) emitPreamble() {
	paramCount := uint64(len(c.f.Signature.Params))
	c.localCount = paramCount + uint64(c.f.NumLocals)
	c.stackPointer = paramCount
	c.maxStackPointer = paramCount
	c.initializeReservedRegisters()
	if c.f.NumLocals > 0 {
		c.emitRegisterToRegister(x86.AXORQ, x86.REG_AX, x86.REG_AX)
		for i := uint32(0); i < c.f.NumLocals; i++ {
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.pushValue())
		}
	}
}

// compile walks the function body once, emitting native code as it goes.
// Any opcode this backend cannot emit is reported as *wasm.CompileError
// so the caller can fall back to interpretation.
func (c *amd64Compiler) compile() error {
	body := c.f.Body
	c.controlFrames = append(c.controlFrames[:0], &controlFrame{
		stackPointer: c.stackPointer,
		arity:        len(c.f.Signature.Results),
		resultCount:  len(c.f.Signature.Results),
	})

	for pc := uint64(0); pc < uint64(len(body)); pc++ {
		op := body[pc]
		switch op {
		case wasm.OpcodeUnreachable:
			c.emitExitWithStatus(jitCallStatusCodeUnreachable)
			pc = c.skipUnreachableCode()
		case wasm.OpcodeNop:
		case wasm.OpcodeBlock:
			bl, ok := c.f.Blocks[pc]
			if !ok {
				return fmt.Errorf("unresolved block at %#x", pc)
			}
			pc += bl.BlockTypeBytes
			c.pushControlFrame(&controlFrame{
				block:        bl,
				stackPointer: c.stackPointer,
				arity:        len(bl.BlockType.Results),
				resultCount:  len(bl.BlockType.Results),
			})
		case wasm.OpcodeLoop:
			bl, ok := c.f.Blocks[pc]
			if !ok {
				return fmt.Errorf("unresolved loop at %#x", pc)
			}
			pc += bl.BlockTypeBytes
			// NOP anchors the backward branches; the assembler elides it
			// and retargets them to the next real instruction.
			anchor := c.newProg()
			anchor.As = obj.ANOP
			c.addInstruction(anchor)
			c.pushControlFrame(&controlFrame{
				block:        bl,
				isLoop:       true,
				loopStart:    anchor,
				stackPointer: c.stackPointer,
				resultCount:  len(bl.BlockType.Results),
			})
		case wasm.OpcodeIf:
			bl, ok := c.f.Blocks[pc]
			if !ok {
				return fmt.Errorf("unresolved if at %#x", pc)
			}
			pc += bl.BlockTypeBytes
			c.moveSlotToRegister(x86.AMOVL, c.popValue(), x86.REG_AX)
			cmp := c.newProg()
			cmp.As = x86.ACMPQ
			cmp.From.Type = obj.TYPE_REG
			cmp.From.Reg = x86.REG_AX
			cmp.To.Type = obj.TYPE_CONST
			cmp.To.Offset = 0
			c.addInstruction(cmp)
			c.pushControlFrame(&controlFrame{
				block:        bl,
				isIf:         true,
				elseJmp:      c.emitJump(x86.AJEQ),
				stackPointer: c.stackPointer,
				arity:        len(bl.BlockType.Results),
				resultCount:  len(bl.BlockType.Results),
			})
		case wasm.OpcodeElse:
			frame := c.peekControlFrame()
			// The then arm jumps over the else arm; the if's conditional
			// jump lands on the else arm's first instruction.
			frame.endJmps = append(frame.endJmps, c.emitJump(obj.AJMP))
			c.addSetJmpOrigins(frame.elseJmp)
			frame.seenElse = true
			c.stackPointer = frame.stackPointer
		case wasm.OpcodeEnd:
			frame := c.popControlFrame()
			if frame.block == nil {
				c.stackPointer = frame.stackPointer + uint64(frame.resultCount)
				c.emitFunctionReturn()
				continue
			}
			if frame.isIf && !frame.seenElse {
				// Without an else arm the false path falls through here.
				c.addSetJmpOrigins(frame.elseJmp)
			}
			c.addSetJmpOrigins(frame.endJmps...)
			if len(c.setJmpOrigins) > 0 {
				anchor := c.newProg()
				anchor.As = obj.ANOP
				c.addInstruction(anchor)
			}
			c.stackPointer = frame.stackPointer + uint64(frame.resultCount)
		case wasm.OpcodeBr:
			depth, num, err := leb128.DecodeUint32(bytes.NewReader(body[pc+1:]))
			if err != nil {
				return fmt.Errorf("read br depth at %#x: %w", pc, err)
			}
			pc += num
			target, err := c.branchTargetFrame(depth)
			if err != nil {
				return err
			}
			c.emitBranchTo(target)
			pc = c.skipUnreachableCode()
		case wasm.OpcodeBrIf:
			depth, num, err := leb128.DecodeUint32(bytes.NewReader(body[pc+1:]))
			if err != nil {
				return fmt.Errorf("read br_if depth at %#x: %w", pc, err)
			}
			pc += num
			target, err := c.branchTargetFrame(depth)
			if err != nil {
				return err
			}
			c.compileBrIf(target)
		case wasm.OpcodeBrTable:
			r := bytes.NewReader(body[pc+1:])
			count, total, err := leb128.DecodeUint32(r)
			if err != nil {
				return fmt.Errorf("read br_table target count at %#x: %w", pc, err)
			}
			targets := make([]uint32, count)
			for i := range targets {
				depth, num, err := leb128.DecodeUint32(r)
				if err != nil {
					return fmt.Errorf("read br_table target %d at %#x: %w", i, pc, err)
				}
				targets[i] = depth
				total += num
			}
			defaultTarget, num, err := leb128.DecodeUint32(r)
			if err != nil {
				return fmt.Errorf("read br_table default target at %#x: %w", pc, err)
			}
			total += num
			pc += total
			if err := c.compileBrTable(targets, defaultTarget); err != nil {
				return err
			}
			pc = c.skipUnreachableCode()
		case wasm.OpcodeReturn:
			c.emitFunctionReturn()
			pc = c.skipUnreachableCode()
		case wasm.OpcodeCall:
			index, num, err := leb128.DecodeUint32(bytes.NewReader(body[pc+1:]))
			if err != nil {
				return fmt.Errorf("read call index at %#x: %w", pc, err)
			}
			pc += num
			if err := c.compileCall(index); err != nil {
				return err
			}
		case wasm.OpcodeDrop:
			c.stackPointer--
		case wasm.OpcodeSelect:
			c.compileSelect()
		case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
			index, num, err := leb128.DecodeUint32(bytes.NewReader(body[pc+1:]))
			if err != nil {
				return fmt.Errorf("read local index at %#x: %w", pc, err)
			}
			pc += num
			if uint64(index) >= c.localCount {
				return fmt.Errorf("local index %d out of range at %#x", index, pc)
			}
			switch op {
			case wasm.OpcodeLocalGet:
				c.moveSlotToRegister(x86.AMOVQ, uint64(index), x86.REG_AX)
				c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.pushValue())
			case wasm.OpcodeLocalSet:
				c.moveSlotToRegister(x86.AMOVQ, c.popValue(), x86.REG_AX)
				c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, uint64(index))
			default: // local.tee leaves the value in place.
				c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_AX)
				c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, uint64(index))
			}
		case wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
			index, num, err := leb128.DecodeUint32(bytes.NewReader(body[pc+1:]))
			if err != nil {
				return fmt.Errorf("read global index at %#x: %w", pc, err)
			}
			pc += num
			if int(index) >= len(c.f.Instance.Globals) {
				return fmt.Errorf("global index %d out of range at %#x", index, pc)
			}
			if op == wasm.OpcodeGlobalGet {
				c.compileGlobalGet(index)
			} else {
				c.compileGlobalSet(index)
			}
		case wasm.OpcodeI32Load, wasm.OpcodeF64Load, wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U,
			wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
			wasm.OpcodeI32Store, wasm.OpcodeF64Store, wasm.OpcodeI32Store8, wasm.OpcodeI32Store16:
			r := bytes.NewReader(body[pc+1:])
			_, num1, err := leb128.DecodeUint32(r) // alignment hint, unused
			if err != nil {
				return fmt.Errorf("read memory alignment at %#x: %w", pc, err)
			}
			offset, num2, err := leb128.DecodeUint32(r)
			if err != nil {
				return fmt.Errorf("read memory offset at %#x: %w", pc, err)
			}
			pc += num1 + num2
			switch op {
			case wasm.OpcodeI32Load:
				c.compileMemoryLoad(x86.AMOVL, 4, offset)
			case wasm.OpcodeF64Load:
				c.compileMemoryLoad(x86.AMOVQ, 8, offset)
			case wasm.OpcodeI32Load8S:
				c.compileMemoryLoad(x86.AMOVBLSX, 1, offset)
			case wasm.OpcodeI32Load8U:
				c.compileMemoryLoad(x86.AMOVBLZX, 1, offset)
			case wasm.OpcodeI32Load16S:
				c.compileMemoryLoad(x86.AMOVWLSX, 2, offset)
			case wasm.OpcodeI32Load16U:
				c.compileMemoryLoad(x86.AMOVWLZX, 2, offset)
			case wasm.OpcodeI32Store:
				c.compileMemoryStore(x86.AMOVL, 4, offset)
			case wasm.OpcodeF64Store:
				c.compileMemoryStore(x86.AMOVQ, 8, offset)
			case wasm.OpcodeI32Store8:
				c.compileMemoryStore(x86.AMOVB, 1, offset)
			case wasm.OpcodeI32Store16:
				c.compileMemoryStore(x86.AMOVW, 2, offset)
			}
		case wasm.OpcodeMemorySize:
			pc++ // reserved byte
			c.callBuiltinFunctionFromConstIndex(builtinFunctionIndexMemorySize)
			c.pushValue()
		case wasm.OpcodeMemoryGrow:
			pc++ // reserved byte
			// The builtin pops the requested page count and pushes the
			// result, so the compile-time height is unchanged.
			c.callBuiltinFunctionFromConstIndex(builtinFunctionIndexMemoryGrow)
		case wasm.OpcodeI32Const:
			v, num, err := leb128.DecodeInt32(bytes.NewReader(body[pc+1:]))
			if err != nil {
				return fmt.Errorf("read i32.const at %#x: %w", pc, err)
			}
			pc += num
			c.emitConstToRegister(x86.AMOVL, int64(uint32(v)), x86.REG_AX)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.pushValue())
		case wasm.OpcodeF64Const:
			v := binary.LittleEndian.Uint64(body[pc+1 : pc+9])
			pc += 8
			c.emitConstToRegister(x86.AMOVQ, int64(v), x86.REG_AX)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.pushValue())
		case wasm.OpcodeI32Eqz:
			c.compileI32Eqz()
		case wasm.OpcodeI32Eq:
			c.compileI32Compare(x86.ASETEQ)
		case wasm.OpcodeI32Ne:
			c.compileI32Compare(x86.ASETNE)
		case wasm.OpcodeI32LtS:
			c.compileI32Compare(x86.ASETLT)
		case wasm.OpcodeI32LtU:
			c.compileI32Compare(x86.ASETCS)
		case wasm.OpcodeI32GtS:
			c.compileI32Compare(x86.ASETGT)
		case wasm.OpcodeI32GtU:
			c.compileI32Compare(x86.ASETHI)
		case wasm.OpcodeI32LeS:
			c.compileI32Compare(x86.ASETLE)
		case wasm.OpcodeI32LeU:
			c.compileI32Compare(x86.ASETLS)
		case wasm.OpcodeI32GeS:
			c.compileI32Compare(x86.ASETGE)
		case wasm.OpcodeI32GeU:
			c.compileI32Compare(x86.ASETCC)
		case wasm.OpcodeF64Eq:
			c.compileF64EqOrNe(true)
		case wasm.OpcodeF64Ne:
			c.compileF64EqOrNe(false)
		case wasm.OpcodeF64Lt:
			c.compileF64Compare(x86.ASETHI, true)
		case wasm.OpcodeF64Gt:
			c.compileF64Compare(x86.ASETHI, false)
		case wasm.OpcodeF64Le:
			c.compileF64Compare(x86.ASETCC, true)
		case wasm.OpcodeF64Ge:
			c.compileF64Compare(x86.ASETCC, false)
		case wasm.OpcodeI32Clz:
			c.compileI32Clz()
		case wasm.OpcodeI32Ctz:
			c.compileI32Ctz()
		case wasm.OpcodeI32Popcnt:
			c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_AX)
			c.emitRegisterToRegister(x86.APOPCNTL, x86.REG_AX, x86.REG_AX)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
		case wasm.OpcodeI32Add:
			c.compileI32BinOp(x86.AADDL)
		case wasm.OpcodeI32Sub:
			c.compileI32BinOp(x86.ASUBL)
		case wasm.OpcodeI32Mul:
			c.compileI32Mul()
		case wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeI32RemS, wasm.OpcodeI32RemU:
			c.compileI32DivOrRem(op)
		case wasm.OpcodeI32And:
			c.compileI32BinOp(x86.AANDL)
		case wasm.OpcodeI32Or:
			c.compileI32BinOp(x86.AORL)
		case wasm.OpcodeI32Xor:
			c.compileI32BinOp(x86.AXORL)
		case wasm.OpcodeI32Shl:
			c.compileI32BinOp(x86.ASHLL)
		case wasm.OpcodeI32ShrS:
			c.compileI32BinOp(x86.ASARL)
		case wasm.OpcodeI32ShrU:
			c.compileI32BinOp(x86.ASHRL)
		case wasm.OpcodeI32Rotl:
			c.compileI32BinOp(x86.AROLL)
		case wasm.OpcodeI32Rotr:
			c.compileI32BinOp(x86.ARORL)
		case wasm.OpcodeF64Abs:
			c.compileF64Abs()
		case wasm.OpcodeF64Neg:
			c.compileF64Neg()
		case wasm.OpcodeF64Ceil:
			c.emitRoundInstruction(0x02)
		case wasm.OpcodeF64Floor:
			c.emitRoundInstruction(0x01)
		case wasm.OpcodeF64Trunc:
			c.emitRoundInstruction(0x03)
		case wasm.OpcodeF64Nearest:
			// Round-to-nearest-even, the same as math.RoundToEven.
			c.emitRoundInstruction(0x00)
		case wasm.OpcodeF64Sqrt:
			c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X0)
			c.emitRegisterToRegister(x86.ASQRTSD, x86.REG_X0, x86.REG_X0)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
		case wasm.OpcodeF64Add:
			c.compileF64BinOp(x86.AADDSD)
		case wasm.OpcodeF64Sub:
			c.compileF64BinOp(x86.ASUBSD)
		case wasm.OpcodeF64Mul:
			c.compileF64BinOp(x86.AMULSD)
		case wasm.OpcodeF64Div:
			// Division by zero yields an infinity, never a trap.
			c.compileF64BinOp(x86.ADIVSD)
		case wasm.OpcodeF64Min:
			c.emitMinOrMax(x86.AMINSD)
		case wasm.OpcodeF64Max:
			c.emitMinOrMax(x86.AMAXSD)
		case wasm.OpcodeF64Copysign:
			c.compileF64Copysign()
		case wasm.OpcodeI32TruncF64S:
			c.compileSignedI32TruncFromF64()
		case wasm.OpcodeI32TruncF64U:
			c.compileUnsignedI32TruncFromF64()
		case wasm.OpcodeF64ConvertI32S:
			c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_AX)
			c.emitRegisterToRegister(x86.ACVTSL2SD, x86.REG_AX, x86.REG_X0)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
		case wasm.OpcodeF64ConvertI32U:
			// MOVL zero-extends into the full register, so converting from
			// the 64-bit value reads the operand as unsigned.
			c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_AX)
			c.emitRegisterToRegister(x86.ACVTSQ2SD, x86.REG_AX, x86.REG_X0)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
		case wasm.OpcodeI32Extend8S:
			c.moveSlotToRegister(x86.AMOVBLSX, c.stackPointer-1, x86.REG_AX)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
		case wasm.OpcodeI32Extend16S:
			c.moveSlotToRegister(x86.AMOVWLSX, c.stackPointer-1, x86.REG_AX)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
		default:
			return &wasm.CompileError{Opcode: op}
		}
	}
	return nil
}

func (c *amd64Compiler) pushControlFrame(frame *controlFrame) {
	c.controlFrames = append(c.controlFrames, frame)
}

func (c *amd64Compiler) popControlFrame() *controlFrame {
	frame := c.controlFrames[len(c.controlFrames)-1]
	c.controlFrames = c.controlFrames[:len(c.controlFrames)-1]
	return frame
}

func (c *amd64Compiler) peekControlFrame() *controlFrame {
	return c.controlFrames[len(c.controlFrames)-1]
}

func (c *amd64Compiler) branchTargetFrame(depth uint32) (*controlFrame, error) {
	if int(depth) >= len(c.controlFrames) {
		return nil, fmt.Errorf("branch depth %d exceeds %d open blocks", depth, len(c.controlFrames))
	}
	return c.controlFrames[len(c.controlFrames)-1-int(depth)], nil
}

// skipUnreachableCode returns the position just before the else or end
// that closes the innermost open construct. Instructions between an
// unconditional transfer and that boundary can never execute, so no code
// is emitted for them.
func (c *amd64Compiler) skipUnreachableCode() uint64 {
	frame := c.peekControlFrame()
	if frame.block == nil {
		return uint64(len(c.f.Body)) - 2
	}
	if frame.isIf && !frame.seenElse && c.f.Body[frame.block.ElseAt] == wasm.OpcodeElse {
		return frame.block.ElseAt - 1
	}
	return frame.block.EndAt - 1
}

// emitBranchTo emits the value moves and the jump for a branch to the
// given frame. Branching to the bottom frame returns from the function,
// which rewrites the compile-time stack pointer; callers emitting a
// conditional arm must save and restore it around this.
func (c *amd64Compiler) emitBranchTo(target *controlFrame) {
	if target.block == nil {
		c.emitFunctionReturn()
		return
	}
	if target.isLoop {
		jmp := c.emitJump(obj.AJMP)
		jmp.To.SetTarget(target.loopStart)
		return
	}
	if target.arity == 1 {
		src := c.stackPointer - 1
		if src != target.stackPointer {
			c.moveSlotToRegister(x86.AMOVQ, src, x86.REG_AX)
			c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, target.stackPointer)
		}
	}
	target.endJmps = append(target.endJmps, c.emitJump(obj.AJMP))
}

func (c *amd64Compiler) compileBrIf(target *controlFrame) {
	c.moveSlotToRegister(x86.AMOVL, c.popValue(), x86.REG_AX)
	cmp := c.newProg()
	cmp.As = x86.ACMPQ
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = x86.REG_AX
	cmp.To.Type = obj.TYPE_CONST
	cmp.To.Offset = 0
	c.addInstruction(cmp)
	skipJmp := c.emitJump(x86.AJEQ)

	saved := c.stackPointer
	c.emitBranchTo(target)
	c.stackPointer = saved
	c.addSetJmpOrigins(skipJmp)
}

func (c *amd64Compiler) compileBrTable(targets []uint32, defaultTarget uint32) error {
	c.moveSlotToRegister(x86.AMOVL, c.popValue(), x86.REG_AX)

	// One compare per table entry. The jumps do not clobber the index
	// register, so the chain reads it repeatedly.
	jumps := make([]*obj.Prog, len(targets))
	for i := range targets {
		cmp := c.newProg()
		cmp.As = x86.ACMPL
		cmp.From.Type = obj.TYPE_REG
		cmp.From.Reg = x86.REG_AX
		cmp.To.Type = obj.TYPE_CONST
		cmp.To.Offset = int64(i)
		c.addInstruction(cmp)
		jumps[i] = c.emitJump(x86.AJEQ)
	}

	saved := c.stackPointer
	target, err := c.branchTargetFrame(defaultTarget)
	if err != nil {
		return err
	}
	c.emitBranchTo(target)
	c.stackPointer = saved

	for i, depth := range targets {
		c.addSetJmpOrigins(jumps[i])
		target, err := c.branchTargetFrame(depth)
		if err != nil {
			return err
		}
		c.emitBranchTo(target)
		c.stackPointer = saved
	}
	return nil
}

// emitFunctionReturn moves the results to where the caller reads them,
// the bottom of the frame, and exits with the returned status.
func (c *amd64Compiler) emitFunctionReturn() {
	resultCount := uint64(len(c.f.Signature.Results))
	if resultCount == 1 && c.stackPointer-1 != 0 {
		c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_AX)
		c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, 0)
	}
	c.stackPointer = resultCount
	c.setJITStatus(jitCallStatusCodeReturned)
	c.returnFunction()
}

func (c *amd64Compiler) compileCall(index uint32) error {
	functions := c.f.Instance.Functions
	if int(index) >= len(functions) {
		return fmt.Errorf("call target %d out of range", index)
	}
	target := functions[index]
	compiledIndex, ok := c.eng.functionIndexes[target]
	if !ok {
		return fmt.Errorf("call target %q was not pre-compiled", target.Name)
	}
	c.callFunctionFromConstIndex(compiledIndex)
	// The engine moves the arguments into the callee frame and leaves the
	// results in their place.
	c.stackPointer -= uint64(len(target.Signature.Params))
	for i := 0; i < len(target.Signature.Results); i++ {
		c.pushValue()
	}
	return nil
}

func (c *amd64Compiler) compileSelect() {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_AX)
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-2, x86.REG_CX)
	c.stackPointer -= 2

	cmp := c.newProg()
	cmp.As = x86.ACMPQ
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = x86.REG_AX
	cmp.To.Type = obj.TYPE_CONST
	cmp.To.Offset = 0
	c.addInstruction(cmp)
	// A non-zero condition keeps the first value, which already sits in
	// the result slot.
	keepFirstJmp := c.emitJump(x86.AJNE)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_CX, c.stackPointer-1)
	c.addSetJmpOrigins(keepFirstJmp)
}

func (c *amd64Compiler) compileGlobalGet(index uint32) {
	// Load &Globals[0], step to the entry, then chase the pointer to the
	// value word.
	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = reservedRegisterForEngine
	prog.From.Offset = engineGlobalSliceAddressOffset
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_AX
	c.addInstruction(prog)

	c.emitConstToRegister(x86.AADDQ, 8*int64(index), x86.REG_AX)

	deref := c.newProg()
	deref.As = x86.AMOVQ
	deref.From.Type = obj.TYPE_MEM
	deref.From.Reg = x86.REG_AX
	deref.To.Type = obj.TYPE_REG
	deref.To.Reg = x86.REG_AX
	c.addInstruction(deref)

	value := c.newProg()
	value.As = x86.AMOVQ
	value.From.Type = obj.TYPE_MEM
	value.From.Reg = x86.REG_AX
	value.From.Offset = globalInstanceValueOffset
	value.To.Type = obj.TYPE_REG
	value.To.Reg = x86.REG_CX
	c.addInstruction(value)

	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_CX, c.pushValue())
}

func (c *amd64Compiler) compileGlobalSet(index uint32) {
	c.moveSlotToRegister(x86.AMOVQ, c.popValue(), x86.REG_CX)

	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = reservedRegisterForEngine
	prog.From.Offset = engineGlobalSliceAddressOffset
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_AX
	c.addInstruction(prog)

	c.emitConstToRegister(x86.AADDQ, 8*int64(index), x86.REG_AX)

	deref := c.newProg()
	deref.As = x86.AMOVQ
	deref.From.Type = obj.TYPE_MEM
	deref.From.Reg = x86.REG_AX
	deref.To.Type = obj.TYPE_REG
	deref.To.Reg = x86.REG_AX
	c.addInstruction(deref)

	store := c.newProg()
	store.As = x86.AMOVQ
	store.From.Type = obj.TYPE_REG
	store.From.Reg = x86.REG_CX
	store.To.Type = obj.TYPE_MEM
	store.To.Reg = x86.REG_AX
	store.To.Offset = globalInstanceValueOffset
	c.addInstruction(store)
}

// compileMemoryLoad pops a base address and pushes the loaded value.
// The bounds check computes base+offset+size in 64 bits, so neither a
// huge base nor a huge immediate offset can wrap around.
func (c *amd64Compiler) compileMemoryLoad(moveInst obj.As, targetSizeInBytes int64, offset uint32) {
	slot := c.stackPointer - 1
	c.moveSlotToRegister(x86.AMOVL, slot, x86.REG_CX)
	c.emitConstToRegister(x86.AMOVQ, int64(offset)+targetSizeInBytes, x86.REG_DX)
	c.emitRegisterToRegister(x86.AADDQ, x86.REG_CX, x86.REG_DX)
	c.emitMemoryCeilCheck()
	c.emitConstToRegister(x86.ASUBQ, targetSizeInBytes, x86.REG_DX)

	load := c.newProg()
	load.As = moveInst
	load.From.Type = obj.TYPE_MEM
	load.From.Reg = reservedRegisterForMemory
	load.From.Index = x86.REG_DX
	load.From.Scale = 1
	load.To.Type = obj.TYPE_REG
	load.To.Reg = x86.REG_AX
	c.addInstruction(load)

	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, slot)
}

// compileMemoryStore pops a value and a base address.
func (c *amd64Compiler) compileMemoryStore(moveInst obj.As, targetSizeInBytes int64, offset uint32) {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_AX)
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-2, x86.REG_CX)
	c.stackPointer -= 2

	c.emitConstToRegister(x86.AMOVQ, int64(offset)+targetSizeInBytes, x86.REG_DX)
	c.emitRegisterToRegister(x86.AADDQ, x86.REG_CX, x86.REG_DX)
	c.emitMemoryCeilCheck()
	c.emitConstToRegister(x86.ASUBQ, targetSizeInBytes, x86.REG_DX)

	store := c.newProg()
	store.As = moveInst
	store.From.Type = obj.TYPE_REG
	store.From.Reg = x86.REG_AX
	store.To.Type = obj.TYPE_MEM
	store.To.Reg = reservedRegisterForMemory
	store.To.Index = x86.REG_DX
	store.To.Scale = 1
	c.addInstruction(store)
}

// emitMemoryCeilCheck exits with a memory out of bounds status unless
// the access ceiling in DX is within the memory length. A module without
// memory has length zero, so every access faults.
func (c *amd64Compiler) emitMemoryCeilCheck() {
	cmp := c.newProg()
	cmp.As = x86.ACMPQ
	cmp.From.Type = obj.TYPE_MEM
	cmp.From.Reg = reservedRegisterForEngine
	cmp.From.Offset = engineMemorySliceLenOffset
	cmp.To.Type = obj.TYPE_REG
	cmp.To.Reg = x86.REG_DX
	c.addInstruction(cmp)
	okJmp := c.emitJump(x86.AJCC)
	c.emitExitWithStatus(jitCallStatusCodeMemoryOutOfBounds)
	c.addSetJmpOrigins(okJmp)
}

func (c *amd64Compiler) compileI32Eqz() {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_AX)
	cmp := c.newProg()
	cmp.As = x86.ACMPL
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = x86.REG_AX
	cmp.To.Type = obj.TYPE_CONST
	cmp.To.Offset = 0
	c.addInstruction(cmp)
	c.emitSetConditional(x86.ASETEQ, x86.REG_DX)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_DX, c.stackPointer-1)
}

// compileI32Compare emits CMPL x1, x2 so the flags read as "x1 relative
// to x2", then materializes the given condition.
func (c *amd64Compiler) compileI32Compare(setInst obj.As) {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-2, x86.REG_AX)
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_CX)
	c.emitRegisterToRegister(x86.ACMPL, x86.REG_AX, x86.REG_CX)
	c.emitSetConditional(setInst, x86.REG_DX)
	c.stackPointer--
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_DX, c.stackPointer-1)
}

// compileF64Compare emits an ordered comparison. UCOMISD reports an
// unordered result through the carry flag, so SETHI and SETCC both read
// as false when either operand is NaN; lt and le swap the operands
// instead of using the signed conditions.
func (c *amd64Compiler) compileF64Compare(setInst obj.As, swap bool) {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-2, x86.REG_X0)
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X1)
	cmp := c.newProg()
	cmp.As = x86.AUCOMISD
	cmp.From.Type = obj.TYPE_REG
	cmp.To.Type = obj.TYPE_REG
	if swap {
		cmp.From.Reg = x86.REG_X0
		cmp.To.Reg = x86.REG_X1
	} else {
		cmp.From.Reg = x86.REG_X1
		cmp.To.Reg = x86.REG_X0
	}
	c.addInstruction(cmp)
	c.emitSetConditional(setInst, x86.REG_AX)
	c.stackPointer--
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

// compileF64EqOrNe merges the parity flag into the result so a NaN
// operand yields false for eq and true for ne.
func (c *amd64Compiler) compileF64EqOrNe(shouldEqual bool) {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-2, x86.REG_X0)
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X1)
	c.emitRegisterToRegister(x86.AUCOMISD, x86.REG_X1, x86.REG_X0)

	result := c.newProg()
	result.To.Type = obj.TYPE_REG
	result.To.Reg = x86.REG_AX
	parity := c.newProg()
	parity.To.Type = obj.TYPE_REG
	parity.To.Reg = x86.REG_CX
	combine := c.newProg()
	combine.From.Type = obj.TYPE_REG
	combine.From.Reg = x86.REG_CX
	combine.To.Type = obj.TYPE_REG
	combine.To.Reg = x86.REG_AX
	if shouldEqual {
		result.As = x86.ASETEQ
		parity.As = x86.ASETPC
		combine.As = x86.AANDL
	} else {
		result.As = x86.ASETNE
		parity.As = x86.ASETPS
		combine.As = x86.AORL
	}
	c.addInstruction(result)
	c.addInstruction(parity)
	c.addInstruction(combine)
	c.emitConstToRegister(x86.AANDQ, 0x1, x86.REG_AX)

	c.stackPointer--
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

func (c *amd64Compiler) compileI32Clz() {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_AX)
	if runtime.GOOS == "darwin" {
		// The assembler produces a broken LZCNT encoding on darwin, so
		// take the BSR route. BSR is undefined on zero input, hence the
		// explicit branch.
		c.emitRegisterToRegister(x86.ATESTL, x86.REG_AX, x86.REG_AX)
		nonZeroJmp := c.emitJump(x86.AJNE)
		c.emitConstToRegister(x86.AMOVL, 32, x86.REG_AX)
		endJmp := c.emitJump(obj.AJMP)
		c.addSetJmpOrigins(nonZeroJmp)
		c.emitRegisterToRegister(x86.ABSRL, x86.REG_AX, x86.REG_AX)
		// BSR yields the highest set bit index; XOR with 31 turns it into
		// the leading zero count.
		c.emitConstToRegister(x86.AXORL, 31, x86.REG_AX)
		c.addSetJmpOrigins(endJmp)
	} else {
		c.emitRegisterToRegister(x86.ALZCNTL, x86.REG_AX, x86.REG_AX)
	}
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

func (c *amd64Compiler) compileI32Ctz() {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_AX)
	if runtime.GOOS == "darwin" {
		// Same darwin workaround as compileI32Clz, with BSF.
		c.emitRegisterToRegister(x86.ATESTL, x86.REG_AX, x86.REG_AX)
		nonZeroJmp := c.emitJump(x86.AJNE)
		c.emitConstToRegister(x86.AMOVL, 32, x86.REG_AX)
		endJmp := c.emitJump(obj.AJMP)
		c.addSetJmpOrigins(nonZeroJmp)
		c.emitRegisterToRegister(x86.ABSFL, x86.REG_AX, x86.REG_AX)
		c.addSetJmpOrigins(endJmp)
	} else {
		c.emitRegisterToRegister(x86.ATZCNTL, x86.REG_AX, x86.REG_AX)
	}
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

// compileI32BinOp covers the two-operand ALU instructions, including the
// shifts and rotates: those require their count in CX, which is exactly
// where the second operand is loaded.
func (c *amd64Compiler) compileI32BinOp(inst obj.As) {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-2, x86.REG_AX)
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_CX)
	c.emitRegisterToRegister(inst, x86.REG_CX, x86.REG_AX)
	c.stackPointer--
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

func (c *amd64Compiler) compileI32Mul() {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-2, x86.REG_AX)
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_CX)
	// One-operand MUL: the other factor is implicitly AX and the high
	// half of the product lands in DX.
	mul := c.newProg()
	mul.As = x86.AMULL
	mul.From.Type = obj.TYPE_REG
	mul.From.Reg = x86.REG_CX
	c.addInstruction(mul)
	c.stackPointer--
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

// compileI32DivOrRem emits DIV or IDIV with the checks the hardware does
// not do for us: a zero divisor raises a trap status instead of SIGFPE,
// and the two signed cases handle divisor -1 explicitly. MinInt32/-1
// overflows and traps; MinInt32%-1 is zero, but IDIV would fault on it.
func (c *amd64Compiler) compileI32DivOrRem(op wasm.Opcode) {
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-1, x86.REG_CX)
	c.moveSlotToRegister(x86.AMOVL, c.stackPointer-2, x86.REG_AX)
	c.stackPointer--

	c.emitRegisterToRegister(x86.ATESTL, x86.REG_CX, x86.REG_CX)
	nonZeroJmp := c.emitJump(x86.AJNE)
	c.emitExitWithStatus(jitCallStatusCodeIntegerDivideByZero)
	c.addSetJmpOrigins(nonZeroJmp)

	switch op {
	case wasm.OpcodeI32DivS:
		cmpMinusOne := c.newProg()
		cmpMinusOne.As = x86.ACMPL
		cmpMinusOne.From.Type = obj.TYPE_REG
		cmpMinusOne.From.Reg = x86.REG_CX
		cmpMinusOne.To.Type = obj.TYPE_CONST
		cmpMinusOne.To.Offset = -1
		c.addInstruction(cmpMinusOne)
		divideJmp := c.emitJump(x86.AJNE)

		cmpMinInt := c.newProg()
		cmpMinInt.As = x86.ACMPL
		cmpMinInt.From.Type = obj.TYPE_REG
		cmpMinInt.From.Reg = x86.REG_AX
		cmpMinInt.To.Type = obj.TYPE_CONST
		cmpMinInt.To.Offset = math.MinInt32
		c.addInstruction(cmpMinInt)
		divideJmp2 := c.emitJump(x86.AJNE)
		c.emitExitWithStatus(jitCallStatusCodeIntegerOverflow)

		c.addSetJmpOrigins(divideJmp, divideJmp2)
		cdq := c.newProg()
		cdq.As = x86.ACDQ
		c.addInstruction(cdq)
		c.emitDivisorOnlyInstruction(x86.AIDIVL)
		c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
	case wasm.OpcodeI32DivU:
		c.emitRegisterToRegister(x86.AXORQ, x86.REG_DX, x86.REG_DX)
		c.emitDivisorOnlyInstruction(x86.ADIVL)
		c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
	case wasm.OpcodeI32RemS:
		cmpMinusOne := c.newProg()
		cmpMinusOne.As = x86.ACMPL
		cmpMinusOne.From.Type = obj.TYPE_REG
		cmpMinusOne.From.Reg = x86.REG_CX
		cmpMinusOne.To.Type = obj.TYPE_CONST
		cmpMinusOne.To.Offset = -1
		c.addInstruction(cmpMinusOne)
		divideJmp := c.emitJump(x86.AJNE)
		c.emitRegisterToRegister(x86.AXORL, x86.REG_DX, x86.REG_DX)
		zeroRemainderJmp := c.emitJump(obj.AJMP)

		c.addSetJmpOrigins(divideJmp)
		cdq := c.newProg()
		cdq.As = x86.ACDQ
		c.addInstruction(cdq)
		c.emitDivisorOnlyInstruction(x86.AIDIVL)
		c.addSetJmpOrigins(zeroRemainderJmp)
		c.moveRegisterToSlot(x86.AMOVQ, x86.REG_DX, c.stackPointer-1)
	case wasm.OpcodeI32RemU:
		c.emitRegisterToRegister(x86.AXORQ, x86.REG_DX, x86.REG_DX)
		c.emitDivisorOnlyInstruction(x86.ADIVL)
		c.moveRegisterToSlot(x86.AMOVQ, x86.REG_DX, c.stackPointer-1)
	}
}

func (c *amd64Compiler) emitDivisorOnlyInstruction(inst obj.As) {
	div := c.newProg()
	div.As = inst
	div.From.Type = obj.TYPE_REG
	div.From.Reg = x86.REG_CX
	div.To.Type = obj.TYPE_NONE
	c.addInstruction(div)
}

func (c *amd64Compiler) compileF64Abs() {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X0)
	// Shifting the sign bit out and back clears it without a mask load.
	c.emitConstToRegister(x86.APSLLQ, 1, x86.REG_X0)
	c.emitConstToRegister(x86.APSRLQ, 1, x86.REG_X0)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
}

func (c *amd64Compiler) compileF64Neg() {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X0)
	mask := c.newProg()
	mask.As = x86.AMOVQ
	mask.From.Type = obj.TYPE_MEM
	mask.From.Offset = int64(float64SignBitMaskAddress)
	mask.To.Type = obj.TYPE_REG
	mask.To.Reg = x86.REG_X1
	c.addInstruction(mask)
	c.emitRegisterToRegister(x86.AXORPD, x86.REG_X1, x86.REG_X0)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
}

// emitRoundInstruction emits ROUNDSD with the given rounding mode
// (0x00 nearest-even, 0x01 down, 0x02 up, 0x03 toward zero).
func (c *amd64Compiler) emitRoundInstruction(mode int64) {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X0)
	round := c.newProg()
	round.As = x86.AROUNDSD
	round.From.Type = obj.TYPE_CONST
	round.From.Offset = mode
	round.To.Type = obj.TYPE_REG
	round.To.Reg = x86.REG_X0
	round.RestArgs = append(round.RestArgs, obj.Addr{Reg: x86.REG_X0, Type: obj.TYPE_REG})
	c.addInstruction(round)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
}

func (c *amd64Compiler) compileF64BinOp(inst obj.As) {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-2, x86.REG_X0)
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X1)
	c.emitRegisterToRegister(inst, x86.REG_X1, x86.REG_X0)
	c.stackPointer--
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
}

// emitMinOrMax cannot simply emit MINSD or MAXSD: those return the
// second operand when either input is NaN, and their result for equal
// operands ignores the sign of zero. Both cases get explicit arms: any
// NaN input produces the canonical NaN, and the equal case merges the
// operand bits, OR for min so -0 wins, AND for max so +0 wins.
func (c *amd64Compiler) emitMinOrMax(minOrMaxInstruction obj.As) {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-2, x86.REG_X0)
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X1)
	c.stackPointer--

	c.emitRegisterToRegister(x86.AUCOMISD, x86.REG_X1, x86.REG_X0)
	orderedJmp := c.emitJump(x86.AJNE)
	nanJmp := c.emitJump(x86.AJPS)

	// Equal or both zero.
	if minOrMaxInstruction == x86.AMINSD {
		c.emitRegisterToRegister(x86.AORPD, x86.REG_X1, x86.REG_X0)
	} else {
		c.emitRegisterToRegister(x86.AANDPD, x86.REG_X1, x86.REG_X0)
	}
	equalDoneJmp := c.emitJump(obj.AJMP)

	c.addSetJmpOrigins(nanJmp)
	nan := c.newProg()
	nan.As = x86.AMOVQ
	nan.From.Type = obj.TYPE_MEM
	nan.From.Offset = int64(float64CanonicalNaNBitsAddress)
	nan.To.Type = obj.TYPE_REG
	nan.To.Reg = x86.REG_X0
	c.addInstruction(nan)
	nanDoneJmp := c.emitJump(obj.AJMP)

	c.addSetJmpOrigins(orderedJmp)
	c.emitRegisterToRegister(minOrMaxInstruction, x86.REG_X1, x86.REG_X0)

	c.addSetJmpOrigins(equalDoneJmp, nanDoneJmp)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
}

func (c *amd64Compiler) compileF64Copysign() {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-2, x86.REG_X0)
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X1)
	c.stackPointer--

	rest := c.newProg()
	rest.As = x86.AMOVQ
	rest.From.Type = obj.TYPE_MEM
	rest.From.Offset = int64(float64RestBitMaskAddress)
	rest.To.Type = obj.TYPE_REG
	rest.To.Reg = x86.REG_X2
	c.addInstruction(rest)
	c.emitRegisterToRegister(x86.AANDPD, x86.REG_X2, x86.REG_X0)

	sign := c.newProg()
	sign.As = x86.AMOVQ
	sign.From.Type = obj.TYPE_MEM
	sign.From.Offset = int64(float64SignBitMaskAddress)
	sign.To.Type = obj.TYPE_REG
	sign.To.Reg = x86.REG_X2
	c.addInstruction(sign)
	c.emitRegisterToRegister(x86.AANDPD, x86.REG_X2, x86.REG_X1)

	c.emitRegisterToRegister(x86.AORPD, x86.REG_X1, x86.REG_X0)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_X0, c.stackPointer-1)
}

// compileSignedI32TruncFromF64 converts with CVTTSD2SL and inspects the
// result: the instruction reports any failure as 0x80000000, which is
// also the correct answer for inputs that truncate to exactly MinInt32.
// The follow-up checks classify the input as NaN, below the valid range,
// a genuine MinInt32, or above the valid range.
func (c *amd64Compiler) compileSignedI32TruncFromF64() {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X0)
	c.emitRegisterToRegister(x86.ACVTTSD2SL, x86.REG_X0, x86.REG_AX)

	cmp := c.newProg()
	cmp.As = x86.ACMPL
	cmp.From.Type = obj.TYPE_MEM
	cmp.From.Offset = int64(integerIndefinite32bitAddress)
	cmp.To.Type = obj.TYPE_REG
	cmp.To.Reg = x86.REG_AX
	c.addInstruction(cmp)
	okJmp := c.emitJump(x86.AJNE)

	// NaN cannot be truncated at all.
	c.emitRegisterToRegister(x86.AUCOMISD, x86.REG_X0, x86.REG_X0)
	nanJmp := c.emitJump(x86.AJPS)

	// Values at or below MinInt32-1 are out of range.
	cmpMin := c.newProg()
	cmpMin.As = x86.AUCOMISD
	cmpMin.From.Type = obj.TYPE_MEM
	cmpMin.From.Offset = int64(float64ForMinimumSigned32bitIntegerAddress)
	cmpMin.To.Type = obj.TYPE_REG
	cmpMin.To.Reg = x86.REG_X0
	c.addInstruction(cmpMin)
	tooSmallJmp := c.emitJump(x86.AJLS)

	// A negative input that survived the range check truncates to
	// MinInt32, so the conversion result was correct after all.
	cmpZero := c.newProg()
	cmpZero.As = x86.AUCOMISD
	cmpZero.From.Type = obj.TYPE_MEM
	cmpZero.From.Offset = int64(zero64BitAddress)
	cmpZero.To.Type = obj.TYPE_REG
	cmpZero.To.Reg = x86.REG_X0
	c.addInstruction(cmpZero)
	minIntJmp := c.emitJump(x86.AJCS)

	c.addSetJmpOrigins(tooSmallJmp)
	c.emitExitWithStatus(jitCallStatusCodeIntegerOverflow)

	c.addSetJmpOrigins(nanJmp)
	c.emitExitWithStatus(jitCallStatusCodeInvalidConversionToInteger)

	c.addSetJmpOrigins(okJmp, minIntJmp)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

// compileUnsignedI32TruncFromF64 has no unsigned conversion instruction
// to lean on. Inputs below 2^31 go through the signed conversion, where
// a negative result means the input was at or below -1 and out of range.
// Inputs at or above 2^31 are shifted down by 2^31 first and the bit is
// added back after the signed conversion.
func (c *amd64Compiler) compileUnsignedI32TruncFromF64() {
	c.moveSlotToRegister(x86.AMOVQ, c.stackPointer-1, x86.REG_X0)

	cmpMax := c.newProg()
	cmpMax.As = x86.AUCOMISD
	cmpMax.From.Type = obj.TYPE_MEM
	cmpMax.From.Offset = int64(float64ForMaximumSigned32bitIntPlusOneAddress)
	cmpMax.To.Type = obj.TYPE_REG
	cmpMax.To.Reg = x86.REG_X0
	c.addInstruction(cmpMax)
	aboveJmp := c.emitJump(x86.AJCC)
	nanJmp := c.emitJump(x86.AJPS)

	c.emitRegisterToRegister(x86.ACVTTSD2SL, x86.REG_X0, x86.REG_AX)
	c.emitRegisterToRegister(x86.ATESTL, x86.REG_AX, x86.REG_AX)
	negativeJmp := c.emitJump(x86.AJMI)
	okJmp := c.emitJump(obj.AJMP)

	c.addSetJmpOrigins(aboveJmp)
	sub := c.newProg()
	sub.As = x86.ASUBSD
	sub.From.Type = obj.TYPE_MEM
	sub.From.Offset = int64(float64ForMaximumSigned32bitIntPlusOneAddress)
	sub.To.Type = obj.TYPE_REG
	sub.To.Reg = x86.REG_X0
	c.addInstruction(sub)
	c.emitRegisterToRegister(x86.ACVTTSD2SL, x86.REG_X0, x86.REG_AX)
	c.emitRegisterToRegister(x86.ATESTL, x86.REG_AX, x86.REG_AX)
	overflowJmp := c.emitJump(x86.AJMI)
	add := c.newProg()
	add.As = x86.AADDL
	add.From.Type = obj.TYPE_MEM
	add.From.Offset = int64(integerIndefinite32bitAddress)
	add.To.Type = obj.TYPE_REG
	add.To.Reg = x86.REG_AX
	c.addInstruction(add)
	okJmp2 := c.emitJump(obj.AJMP)

	c.addSetJmpOrigins(negativeJmp, overflowJmp)
	c.emitExitWithStatus(jitCallStatusCodeIntegerOverflow)

	c.addSetJmpOrigins(nanJmp)
	c.emitExitWithStatus(jitCallStatusCodeInvalidConversionToInteger)

	c.addSetJmpOrigins(okJmp, okJmp2)
	c.moveRegisterToSlot(x86.AMOVQ, x86.REG_AX, c.stackPointer-1)
}

func (c *amd64Compiler) callFunctionFromConstIndex(index int64) {
	c.setJITStatus(jitCallStatusCodeCallFunction)
	c.setFunctionCallIndexFromConst(index)
	c.setContinuationOffsetAtNextInstructionAndReturn()
	// The engine re-enters here after the call; the stack may have been
	// reallocated in the meantime.
	c.initializeReservedRegisters()
}

func (c *amd64Compiler) callBuiltinFunctionFromConstIndex(index int64) {
	c.setJITStatus(jitCallStatusCodeCallBuiltInFunction)
	c.setFunctionCallIndexFromConst(index)
	c.setContinuationOffsetAtNextInstructionAndReturn()
	c.initializeReservedRegisters()
}

func (c *amd64Compiler) setJITStatus(status jitCallStatusCode) {
	prog := c.newProg()
	prog.As = x86.AMOVL
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = int64(status)
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = reservedRegisterForEngine
	prog.To.Offset = engineJITCallStatusCodeOffset
	c.addInstruction(prog)
}

func (c *amd64Compiler) setFunctionCallIndexFromConst(index int64) {
	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = index
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = reservedRegisterForEngine
	prog.To.Offset = engineFunctionCallIndexOffset
	c.addInstruction(prog)
}

// setContinuationOffsetAtNextInstructionAndReturn stores the code offset
// at which execution resumes after the engine has serviced the call,
// then returns to the engine. The offset is unknown until assembly, so a
// 64-bit placeholder is emitted and patched in generate; 1<<33 does not
// fit in 32 bits, forcing the assembler to pick the imm64 encoding.
func (c *amd64Compiler) setContinuationOffsetAtNextInstructionAndReturn() {
	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = int64(1) << 33
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_AX
	c.addInstruction(prog)
	c.requireFunctionCallReturnAddressOffsetResolution = append(
		c.requireFunctionCallReturnAddressOffsetResolution, prog)

	store := c.newProg()
	store.As = x86.AMOVQ
	store.From.Type = obj.TYPE_REG
	store.From.Reg = x86.REG_AX
	store.To.Type = obj.TYPE_MEM
	store.To.Reg = reservedRegisterForEngine
	store.To.Offset = engineContinuationAddressOffset
	c.addInstruction(store)

	c.returnFunction()
}

// emitExitWithStatus emits an inline exit path; callers jump over it on
// the non-faulting path.
func (c *amd64Compiler) emitExitWithStatus(status jitCallStatusCode) {
	c.setJITStatus(status)
	c.returnFunction()
}

// returnFunction writes the compile-time stack pointer back to the
// engine and returns to the Go caller of jitcall. Always two
// instructions; the continuation patching in generate counts on that.
func (c *amd64Compiler) returnFunction() {
	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = int64(c.stackPointer)
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = reservedRegisterForEngine
	prog.To.Offset = engineStackPointerOffset
	c.addInstruction(prog)

	ret := c.newProg()
	ret.As = obj.ARET
	c.addInstruction(ret)
}

// initializeReservedRegisters computes the frame base address
// &engine.stack[engine.stackBasePointer] into R14. It runs at entry and
// at every continuation after a call, since both the slice and the base
// pointer may have changed. R15 is reloaded by jitcall itself.
func (c *amd64Compiler) initializeReservedRegisters() {
	prog := c.newProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = reservedRegisterForEngine
	prog.From.Offset = engineStackSliceOffset
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = reservedRegisterForStackBasePointer
	c.addInstruction(prog)

	base := c.newProg()
	base.As = x86.AMOVQ
	base.From.Type = obj.TYPE_MEM
	base.From.Reg = reservedRegisterForEngine
	base.From.Offset = engineStackBasePointerOffset
	base.To.Type = obj.TYPE_REG
	base.To.Reg = x86.REG_AX
	c.addInstruction(base)

	c.emitConstToRegister(x86.ASHLQ, 3, x86.REG_AX)
	c.emitRegisterToRegister(x86.AADDQ, x86.REG_AX, reservedRegisterForStackBasePointer)
}

// generate assembles the program into an executable mapping and patches
// the call continuation offsets, which are known only now.
func (c *amd64Compiler) generate() ([]byte, uint64, error) {
	code, err := mmapCodeSegment(c.builder.Assemble())
	if err != nil {
		return nil, 0, err
	}
	for _, inst := range c.requireFunctionCallReturnAddressOffsetResolution {
		// inst is the MOVQ of the placeholder; the three instructions
		// after it store the offset, write the stack pointer and return,
		// so the continuation is the instruction after those.
		afterReturnInst := inst.Link.Link.Link.Link
		// Skip the 2-byte MOVQ imm64 prefix "0x48 0xb8" to reach the
		// immediate itself.
		binary.LittleEndian.PutUint64(code[inst.Pc+2:inst.Pc+10], uint64(afterReturnInst.Pc))
	}
	return code, c.maxStackPointer, nil
}
