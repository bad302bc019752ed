// Package interpreter implements a direct bytecode interpreter. Function
// bodies are executed instruction by instruction against the control
// structures resolved at decode time, with no intermediate form.
package interpreter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/weewasm/weewasm/wasm"
	"github.com/weewasm/weewasm/wasm/leb128"
)

const callStackCeiling = 2000

type engine struct {
	operands    *operandStack
	frames      *frameStack
	activeFrame *frame
}

// NewEngine returns an engine that interprets function bodies directly.
func NewEngine() wasm.Engine {
	return &engine{}
}

// PreCompile is a no-op: the interpreter needs no cross-function setup.
func (e *engine) PreCompile(fs []*wasm.FunctionInstance) error {
	return nil
}

// Compile is a no-op: the decoder already resolved every control structure
// this engine needs.
func (e *engine) Compile(f *wasm.FunctionInstance) error {
	return nil
}

func (e *engine) Call(f *wasm.FunctionInstance, args ...uint64) (results []uint64, err error) {
	// Each call starts from a clean machine so a previous trap cannot leak
	// stale frames or operands into this one.
	e.operands = newOperandStack()
	e.frames = newFrameStack()
	e.activeFrame = nil

	defer func() {
		if v := recover(); v != nil {
			switch t := v.(type) {
			case wasm.Trap:
				err = t
			case error:
				err = fmt.Errorf("wasm runtime error: %w", t)
			default:
				err = fmt.Errorf("wasm runtime error: %v", v)
			}
			e.activeFrame = nil
		}
	}()

	for _, arg := range args {
		e.operands.push(arg)
	}

	if f.HostFunction != nil {
		e.callHostFunc(f)
	} else {
		e.pushFrame(f)
		e.exec()
	}

	// The top of the operand stack is the tail of the results, so they are
	// collected in reverse.
	results = make([]uint64, len(f.Signature.Results))
	for i := range results {
		results[len(results)-1-i] = e.operands.pop()
	}
	return
}

func (e *engine) exec() {
	for e.activeFrame != nil {
		instructions[e.activeFrame.f.Body[e.activeFrame.pc]](e)
	}
}

func (e *engine) pushFrame(f *wasm.FunctionInstance) {
	if e.frames.sp+1 >= callStackCeiling {
		panic(wasm.TrapCallStackExhausted)
	}

	paramCount := len(f.Signature.Params)
	locals := make([]uint64, f.NumLocals+uint32(paramCount))
	for i := 0; i < paramCount; i++ {
		locals[paramCount-1-i] = e.operands.pop()
	}

	fr := &frame{f: f, locals: locals, labels: newLabelStack()}
	// The function itself is the outermost branch target. Its continuation
	// is one past the body; branching to it pops the frame.
	fr.labels.push(&label{
		arity:          len(f.Signature.Results),
		continuationPC: uint64(len(f.Body)),
		operandSP:      e.operands.sp,
	})
	e.frames.push(fr)
	e.activeFrame = fr
}

func (e *engine) popFrame() {
	e.frames.pop()
	e.activeFrame = e.frames.peek()
}

func (e *engine) callHostFunc(f *wasm.FunctionInstance) {
	hf := *f.HostFunction
	tp := hf.Type()
	in := make([]reflect.Value, tp.NumIn())

	// Arguments are popped in reverse per the stack machine convention,
	// leaving in[0] for the call context.
	for i := len(in) - 1; i >= 1; i-- {
		val := reflect.New(tp.In(i)).Elem()
		raw := e.operands.pop()
		switch tp.In(i).Kind() {
		case reflect.Float64:
			val.SetFloat(math.Float64frombits(raw))
		case reflect.Uint32:
			val.SetUint(raw)
		case reflect.Int32:
			val.SetInt(int64(int32(raw)))
		}
		in[i] = val
	}

	// Imports are bound per instance, so f.Instance names the calling
	// instance. It is nil only when a registry function is called directly.
	ctx := &wasm.HostFunctionCallContext{}
	if f.Instance != nil {
		ctx.Memory = f.Instance.Memory
	}
	val := reflect.New(tp.In(0)).Elem()
	val.Set(reflect.ValueOf(ctx))
	in[0] = val

	for _, ret := range hf.Call(in) {
		switch ret.Kind() {
		case reflect.Float64:
			e.operands.push(math.Float64bits(ret.Float()))
		case reflect.Uint32:
			e.operands.push(ret.Uint())
		case reflect.Int32:
			e.operands.push(uint64(uint32(ret.Int())))
		}
	}
}

// fetchUint32 reads a varint immediate and leaves the program counter on
// its last byte; the handler advances onto the next instruction.
func (e *engine) fetchUint32() uint32 {
	frame := e.activeFrame
	ret, num, err := leb128.DecodeUint32(bytes.NewReader(frame.f.Body[frame.pc:]))
	if err != nil {
		panic(err)
	}
	frame.pc += num - 1
	return ret
}

func (e *engine) fetchInt32() int32 {
	frame := e.activeFrame
	ret, num, err := leb128.DecodeInt32(bytes.NewReader(frame.f.Body[frame.pc:]))
	if err != nil {
		panic(err)
	}
	frame.pc += num - 1
	return ret
}

func (e *engine) fetchFloat64() float64 {
	frame := e.activeFrame
	v := math.Float64frombits(binary.LittleEndian.Uint64(frame.f.Body[frame.pc:]))
	frame.pc += 7
	return v
}

func call(e *engine) {
	frame := e.activeFrame
	frame.pc++
	index := e.fetchUint32()
	frame.pc++

	functions := frame.f.Instance.Functions
	if index >= uint32(len(functions)) {
		panic(fmt.Errorf("invalid function index %d", index))
	}
	f := functions[index]
	if f.HostFunction != nil {
		e.callHostFunc(f)
	} else {
		e.pushFrame(f)
	}
}

var instructions = [256]func(e *engine){
	wasm.OpcodeUnreachable:    func(e *engine) { panic(wasm.TrapUnreachable) },
	wasm.OpcodeNop:            func(e *engine) { e.activeFrame.pc++ },
	wasm.OpcodeBlock:          block,
	wasm.OpcodeLoop:           loop,
	wasm.OpcodeIf:             ifOp,
	wasm.OpcodeElse:           elseOp,
	wasm.OpcodeEnd:            end,
	wasm.OpcodeBr:             br,
	wasm.OpcodeBrIf:           brIf,
	wasm.OpcodeBrTable:        brTable,
	wasm.OpcodeReturn:         returnOp,
	wasm.OpcodeCall:           call,
	wasm.OpcodeDrop:           drop,
	wasm.OpcodeSelect:         selectOp,
	wasm.OpcodeLocalGet:       localGet,
	wasm.OpcodeLocalSet:       localSet,
	wasm.OpcodeLocalTee:       localTee,
	wasm.OpcodeGlobalGet:      globalGet,
	wasm.OpcodeGlobalSet:      globalSet,
	wasm.OpcodeI32Load:        i32Load,
	wasm.OpcodeF64Load:        f64Load,
	wasm.OpcodeI32Load8S:      i32Load8s,
	wasm.OpcodeI32Load8U:      i32Load8u,
	wasm.OpcodeI32Load16S:     i32Load16s,
	wasm.OpcodeI32Load16U:     i32Load16u,
	wasm.OpcodeI32Store:       i32Store,
	wasm.OpcodeF64Store:       f64Store,
	wasm.OpcodeI32Store8:      i32Store8,
	wasm.OpcodeI32Store16:     i32Store16,
	wasm.OpcodeMemorySize:     memorySize,
	wasm.OpcodeMemoryGrow:     memoryGrow,
	wasm.OpcodeI32Const:       i32Const,
	wasm.OpcodeF64Const:       f64Const,
	wasm.OpcodeI32Eqz:         i32eqz,
	wasm.OpcodeI32Eq:          i32eq,
	wasm.OpcodeI32Ne:          i32ne,
	wasm.OpcodeI32LtS:         i32lts,
	wasm.OpcodeI32LtU:         i32ltu,
	wasm.OpcodeI32GtS:         i32gts,
	wasm.OpcodeI32GtU:         i32gtu,
	wasm.OpcodeI32LeS:         i32les,
	wasm.OpcodeI32LeU:         i32leu,
	wasm.OpcodeI32GeS:         i32ges,
	wasm.OpcodeI32GeU:         i32geu,
	wasm.OpcodeF64Eq:          f64eq,
	wasm.OpcodeF64Ne:          f64ne,
	wasm.OpcodeF64Lt:          f64lt,
	wasm.OpcodeF64Gt:          f64gt,
	wasm.OpcodeF64Le:          f64le,
	wasm.OpcodeF64Ge:          f64ge,
	wasm.OpcodeI32Clz:         i32clz,
	wasm.OpcodeI32Ctz:         i32ctz,
	wasm.OpcodeI32Popcnt:      i32popcnt,
	wasm.OpcodeI32Add:         i32add,
	wasm.OpcodeI32Sub:         i32sub,
	wasm.OpcodeI32Mul:         i32mul,
	wasm.OpcodeI32DivS:        i32divs,
	wasm.OpcodeI32DivU:        i32divu,
	wasm.OpcodeI32RemS:        i32rems,
	wasm.OpcodeI32RemU:        i32remu,
	wasm.OpcodeI32And:         i32and,
	wasm.OpcodeI32Or:          i32or,
	wasm.OpcodeI32Xor:         i32xor,
	wasm.OpcodeI32Shl:         i32shl,
	wasm.OpcodeI32ShrS:        i32shrs,
	wasm.OpcodeI32ShrU:        i32shru,
	wasm.OpcodeI32Rotl:        i32rotl,
	wasm.OpcodeI32Rotr:        i32rotr,
	wasm.OpcodeF64Abs:         f64abs,
	wasm.OpcodeF64Neg:         f64neg,
	wasm.OpcodeF64Ceil:        f64ceil,
	wasm.OpcodeF64Floor:       f64floor,
	wasm.OpcodeF64Trunc:       f64trunc,
	wasm.OpcodeF64Nearest:     f64nearest,
	wasm.OpcodeF64Sqrt:        f64sqrt,
	wasm.OpcodeF64Add:         f64add,
	wasm.OpcodeF64Sub:         f64sub,
	wasm.OpcodeF64Mul:         f64mul,
	wasm.OpcodeF64Div:         f64div,
	wasm.OpcodeF64Min:         f64min,
	wasm.OpcodeF64Max:         f64max,
	wasm.OpcodeF64Copysign:    f64copysign,
	wasm.OpcodeI32TruncF64S:   i32truncf64s,
	wasm.OpcodeI32TruncF64U:   i32truncf64u,
	wasm.OpcodeF64ConvertI32S: f64converti32s,
	wasm.OpcodeF64ConvertI32U: f64converti32u,
	wasm.OpcodeI32Extend8S:    i32extend8s,
	wasm.OpcodeI32Extend16S:   i32extend16s,
}
