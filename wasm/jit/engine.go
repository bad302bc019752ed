// Package jit compiles function bodies to amd64 native code ahead of the
// first call. Compiled code runs against the same instance state as the
// interpreter and produces bit-identical results; on unsupported
// architectures Compile reports a *wasm.CompileError so callers can fall
// back to interpretation.
package jit

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"unsafe"

	"go.uber.org/zap"

	"github.com/weewasm/weewasm/wasm"
)

type engine struct {
	// These fields are accessed by the generated native code at the fixed
	// offsets below, so their order must not change.

	// The Go-allocated value stack. Generated code never touches len or
	// cap, so growing is safe as long as it only happens between calls.
	stack []uint64
	// Stack pointer relative to stackBasePointer.
	stackPointer uint64
	// stackBasePointer is fixed for the duration of one function frame.
	// Functions are compiled as if they owned the stack from slot zero and
	// the base pointer shifts their view to the right place, so compiled
	// code is independent of the call depth it runs at.
	stackBasePointer uint64
	// Where generated code reports why it returned.
	jitCallStatusCode jitCallStatusCode
	// Set together with jitCallStatusCodeCall*Function: which function or
	// builtin the generated code wants called.
	functionCallIndex int64
	// Offset from codeInitialAddress where the current function resumes
	// after a call. The continuation starts by restoring the reserved
	// registers.
	continuationAddressOffset uintptr
	// Address of the first element of the instance's global slice.
	globalSliceAddress uintptr
	// Address of the first byte of the instance's memory buffer.
	memorySliceAddress uintptr
	// Length of the instance's memory buffer in bytes, read by the bounds
	// checks emitted before every load and store.
	memorySliceLen uint64

	// The remaining fields are only used from Go.

	// Call frames in a linked list; callFrameNum tracks the depth.
	callFrameStack *callFrame
	callFrameNum   uint64

	// compiledFunctions is indexed by the values of functionIndexes. Entries
	// are created in PreCompile so call sites can be emitted before their
	// target is compiled.
	compiledFunctions []*compiledFunction
	functionIndexes   map[*wasm.FunctionInstance]int64
}

// Generated code reads and writes engine fields through these offsets.
const (
	engineStackSliceOffset          = 0
	engineStackPointerOffset        = 24
	engineStackBasePointerOffset    = 32
	engineJITCallStatusCodeOffset   = 40
	engineFunctionCallIndexOffset   = 48
	engineContinuationAddressOffset = 56
	engineGlobalSliceAddressOffset  = 64
	engineMemorySliceAddressOffset  = 72
	engineMemorySliceLenOffset      = 80
)

// globalInstanceValueOffset is the offset of wasm.GlobalInstance.Val.
const globalInstanceValueOffset = 8

// jitCallStatusCode is set by generated code before it returns to Go.
type jitCallStatusCode uint32

const (
	// jitCallStatusCodeReturned means the function completed normally.
	jitCallStatusCodeReturned jitCallStatusCode = iota
	// jitCallStatusCodeCallFunction means the code wants to invoke the
	// function at functionCallIndex and resume afterwards.
	jitCallStatusCodeCallFunction
	// jitCallStatusCodeCallBuiltInFunction means the code wants a runtime
	// service (memory.grow, memory.size) performed on its behalf.
	jitCallStatusCodeCallBuiltInFunction
	// The remaining codes abort execution with the matching trap.
	jitCallStatusCodeUnreachable
	jitCallStatusCodeMemoryOutOfBounds
	jitCallStatusCodeIntegerDivideByZero
	jitCallStatusCodeIntegerOverflow
	jitCallStatusCodeInvalidConversionToInteger
)

func (s jitCallStatusCode) String() (ret string) {
	switch s {
	case jitCallStatusCodeReturned:
		ret = "returned"
	case jitCallStatusCodeCallFunction:
		ret = "call_function"
	case jitCallStatusCodeCallBuiltInFunction:
		ret = "call_builtin_function"
	case jitCallStatusCodeUnreachable:
		ret = "unreachable"
	case jitCallStatusCodeMemoryOutOfBounds:
		ret = "memory_out_of_bounds"
	case jitCallStatusCodeIntegerDivideByZero:
		ret = "integer_divide_by_zero"
	case jitCallStatusCodeIntegerOverflow:
		ret = "integer_overflow"
	case jitCallStatusCodeInvalidConversionToInteger:
		ret = "invalid_conversion_to_integer"
	}
	return
}

// Builtin services the generated code can request via
// jitCallStatusCodeCallBuiltInFunction.
const (
	builtinFunctionIndexMemoryGrow int64 = iota
	builtinFunctionIndexMemorySize
)

type callFrame struct {
	continuationAddress      uintptr
	continuationStackPointer uint64
	stackBasePointer         uint64
	compiledFunction         *compiledFunction
	caller                   *callFrame
}

func (c *callFrame) String() string {
	return fmt.Sprintf(
		"[%s: continuation address=%d, continuation stack pointer=%d, stack base pointer=%d]",
		c.getFunctionName(), c.continuationAddress, c.continuationStackPointer, c.stackBasePointer,
	)
}

func (c *callFrame) getFunctionName() string {
	return c.compiledFunction.source.Name
}

type compiledFunction struct {
	// The function instance this was compiled from.
	source                  *wasm.FunctionInstance
	paramCount, resultCount uint64
	// codeSegment holds the native code in an executable mapping.
	codeSegment []byte
	// codeInitialAddress caches uintptr(unsafe.Pointer(&codeSegment[0])) so
	// each call avoids recomputing it.
	codeInitialAddress uintptr
	// The highest stack slot the function can touch, applied lazily via
	// maybeGrowStack before entering the code.
	maxStackPointer uint64
}

func (f *compiledFunction) isHostFunction() bool {
	return f.source.HostFunction != nil
}

// NewEngine returns an engine that executes native code compiled per
// function. One engine serves one instance at a time; create a fresh engine
// per instance.
func NewEngine() wasm.Engine {
	return newEngine()
}

const initialStackSize = 1024

func newEngine() *engine {
	return &engine{
		stack:           make([]uint64, initialStackSize),
		functionIndexes: map[*wasm.FunctionInstance]int64{},
	}
}

// PreCompile assigns every function of the instance a slot in the engine's
// function table. Call sites compile against these slots, so forward calls
// resolve even though their target body is compiled later.
func (e *engine) PreCompile(fs []*wasm.FunctionInstance) error {
	for _, f := range fs {
		if _, ok := e.functionIndexes[f]; ok {
			return fmt.Errorf("function %q was already registered", f.Name)
		}
		e.functionIndexes[f] = int64(len(e.compiledFunctions))
		e.compiledFunctions = append(e.compiledFunctions, &compiledFunction{
			source:      f,
			paramCount:  uint64(len(f.Signature.Params)),
			resultCount: uint64(len(f.Signature.Results)),
		})
	}
	return nil
}

// Compile generates native code for f. Host functions need no code: they
// are dispatched through reflection at call time.
func (e *engine) Compile(f *wasm.FunctionInstance) error {
	index, ok := e.functionIndexes[f]
	if !ok {
		return fmt.Errorf("function %q was not pre-compiled", f.Name)
	}
	if f.HostFunction != nil {
		return nil
	}

	compiled, err := e.compileWasmFunction(f)
	if err != nil {
		return err
	}
	target := e.compiledFunctions[index]
	target.codeSegment = compiled.codeSegment
	target.codeInitialAddress = compiled.codeInitialAddress
	target.maxStackPointer = compiled.maxStackPointer
	wasm.Logger().Debug("jit compiled function",
		zap.String("name", f.Name), zap.Int("code_bytes", len(compiled.codeSegment)))
	return nil
}

func (e *engine) compileWasmFunction(f *wasm.FunctionInstance) (*compiledFunction, error) {
	cmp, err := newCompiler(e, f)
	if err != nil {
		return nil, err
	}

	cmp.emitPreamble()
	// A *wasm.CompileError from the body walk passes through untouched so
	// drivers can recognize it and retry on the interpreter.
	if err := cmp.compile(); err != nil {
		return nil, err
	}

	code, maxStackPointer, err := cmp.generate()
	if err != nil {
		return nil, fmt.Errorf("generate machine code: %w", err)
	}
	return &compiledFunction{
		source:             f,
		codeSegment:        code,
		codeInitialAddress: uintptr(unsafe.Pointer(&code[0])),
		maxStackPointer:    maxStackPointer,
	}, nil
}

// Call runs f to completion, converting any trap raised by the generated
// code into an error carrying a backtrace of the frames in flight.
func (e *engine) Call(f *wasm.FunctionInstance, args ...uint64) (results []uint64, err error) {
	// Only the outermost Call recovers: a nested Call made from inside a
	// host function delegates its panic to the first one so the whole
	// backtrace survives.
	shouldRecover := e.callFrameStack == nil
	defer func() {
		if !shouldRecover {
			return
		}
		if v := recover(); v != nil {
			top := e.callFrameStack
			var frames []string
			var counter int
			for top != nil {
				frames = append(frames, fmt.Sprintf("\t%d: %s", counter, top.getFunctionName()))
				top = top.caller
				counter++
			}
			switch rv := v.(type) {
			case wasm.Trap:
				err = rv
			case error:
				err = fmt.Errorf("wasm runtime error: %w", rv)
			default:
				err = fmt.Errorf("wasm runtime error: %v", v)
			}
			if len(frames) > 0 {
				err = fmt.Errorf("%w\nwasm backtrace:\n%s", err, strings.Join(frames, "\n"))
			}
			// Reset so the engine is reusable after a fault.
			e.callFrameStack = nil
			e.stackBasePointer = 0
			e.stackPointer = 0
			e.callFrameNum = 0
		}
	}()

	index, ok := e.functionIndexes[f]
	if !ok {
		return nil, fmt.Errorf("function %q was not compiled on this engine", f.Name)
	}
	compiled := e.compiledFunctions[index]
	if !compiled.isHostFunction() && compiled.codeSegment == nil {
		return nil, fmt.Errorf("function %q was not compiled on this engine", f.Name)
	}

	for _, arg := range args {
		e.push(arg)
	}
	if compiled.isHostFunction() {
		// Host functions have no owning instance unless one imported them.
		ctx := &wasm.HostFunctionCallContext{}
		if f.Instance != nil {
			ctx.Memory = f.Instance.Memory
		}
		e.execHostFunction(f.HostFunction, ctx)
	} else {
		e.execFunction(compiled)
	}

	// The top of the stack is the tail of the results.
	results = make([]uint64, len(f.Signature.Results))
	for i := range results {
		results[len(results)-1-i] = e.pop()
	}
	return
}

func (e *engine) pop() (ret uint64) {
	ret = e.stack[e.stackBasePointer+e.stackPointer-1]
	e.stackPointer--
	return
}

func (e *engine) push(v uint64) {
	e.stack[e.stackBasePointer+e.stackPointer] = v
	e.stackPointer++
}

const callStackCeiling = 2000

func (e *engine) callFramePush(callee *callFrame) {
	e.callFrameNum++
	if e.callFrameNum > callStackCeiling {
		panic(wasm.TrapCallStackExhausted)
	}

	callee.caller = e.callFrameStack
	e.callFrameStack = callee

	// The callee's parameters were pushed by the caller; they become the
	// bottom slots of the callee's frame.
	callee.stackBasePointer = e.stackBasePointer + e.stackPointer - callee.compiledFunction.paramCount
	e.stackBasePointer = callee.stackBasePointer
	e.stackPointer = callee.compiledFunction.paramCount
	e.setInstanceState(callee.compiledFunction.source.Instance)
}

func (e *engine) callFramePop() {
	e.callFrameNum--
	caller := e.callFrameStack.caller
	e.callFrameStack = caller

	if caller != nil {
		e.stackBasePointer = caller.stackBasePointer
		e.stackPointer = caller.continuationStackPointer
		e.setInstanceState(caller.compiledFunction.source.Instance)
	}
}

// setInstanceState refreshes the raw addresses generated code dereferences.
// It must run whenever the active instance or its memory buffer changes.
func (e *engine) setInstanceState(instance *wasm.Instance) {
	if instance == nil {
		return
	}
	if len(instance.Globals) > 0 {
		e.globalSliceAddress = uintptr(unsafe.Pointer(&instance.Globals[0]))
	}
	if mem := instance.Memory; mem != nil {
		e.memorySliceLen = uint64(len(mem.Buffer))
		if len(mem.Buffer) > 0 {
			e.memorySliceAddress = uintptr(unsafe.Pointer(&mem.Buffer[0]))
		} else {
			e.memorySliceAddress = 0
		}
	} else {
		// With no memory every bounds check fails, which is the behavior
		// the interpreter exhibits for the same module.
		e.memorySliceAddress = 0
		e.memorySliceLen = 0
	}
}

// Grow the value stack so the next frame can reach maxStackPointer slots
// past its base without generated code ever reallocating.
func (e *engine) maybeGrowStack(maxStackPointer uint64) {
	currentLen := uint64(len(e.stack))
	remained := currentLen - e.stackBasePointer
	if maxStackPointer > remained {
		newStack := make([]uint64, currentLen*2+maxStackPointer)
		top := e.stackBasePointer + e.stackPointer
		copy(newStack[:top], e.stack[:top])
		e.stack = newStack
	}
}

func (e *engine) execFunction(f *compiledFunction) {
	previousTopFrame := e.callFrameStack

	e.callFramePush(&callFrame{continuationAddress: f.codeInitialAddress, compiledFunction: f})
	e.maybeGrowStack(f.maxStackPointer)

	// Run until the frame that was on top when we entered is on top again.
	// previousTopFrame is nil for the initial call into the module and the
	// calling host function's frame for reentrant calls.
	for e.callFrameStack != previousTopFrame {
		currentFrame := e.callFrameStack

		jitcall(
			currentFrame.continuationAddress,
			uintptr(unsafe.Pointer(e)),
			e.memorySliceAddress,
		)

		switch e.jitCallStatusCode {
		case jitCallStatusCodeReturned:
			e.callFramePop()
		case jitCallStatusCodeCallFunction:
			nextFunc := e.compiledFunctions[e.functionCallIndex]
			// Remember where the caller resumes before switching frames.
			currentFrame.continuationAddress = currentFrame.compiledFunction.codeInitialAddress + e.continuationAddressOffset
			currentFrame.continuationStackPointer = e.stackPointer + nextFunc.resultCount - nextFunc.paramCount
			callee := &callFrame{compiledFunction: nextFunc}
			if nextFunc.isHostFunction() {
				// Host calls complete synchronously; pushing a frame around
				// them keeps the backtrace accurate. The context carries the
				// calling instance's memory, not the host module's.
				ctx := &wasm.HostFunctionCallContext{Memory: currentFrame.compiledFunction.source.Instance.Memory}
				e.callFramePush(callee)
				e.execHostFunction(nextFunc.source.HostFunction, ctx)
				e.callFramePop()
			} else {
				callee.continuationAddress = nextFunc.codeInitialAddress
				e.callFramePush(callee)
				e.maybeGrowStack(nextFunc.maxStackPointer)
			}
		case jitCallStatusCodeCallBuiltInFunction:
			mem := currentFrame.compiledFunction.source.Instance.Memory
			switch e.functionCallIndex {
			case builtinFunctionIndexMemoryGrow:
				e.builtinFunctionMemoryGrow(mem)
			case builtinFunctionIndexMemorySize:
				e.builtinFunctionMemorySize(mem)
			}
			currentFrame.continuationAddress = currentFrame.compiledFunction.codeInitialAddress + e.continuationAddressOffset
		case jitCallStatusCodeUnreachable:
			panic(wasm.TrapUnreachable)
		case jitCallStatusCodeMemoryOutOfBounds:
			panic(wasm.TrapMemoryOutOfBounds)
		case jitCallStatusCodeIntegerDivideByZero:
			panic(wasm.TrapIntegerDivideByZero)
		case jitCallStatusCodeIntegerOverflow:
			panic(wasm.TrapIntegerOverflow)
		case jitCallStatusCodeInvalidConversionToInteger:
			panic(wasm.TrapInvalidConversionToInteger)
		}
	}
}

func (e *engine) builtinFunctionMemoryGrow(mem *wasm.MemoryInstance) {
	if mem == nil {
		panic(wasm.TrapMemoryOutOfBounds)
	}
	newPages := uint32(e.pop())
	e.push(uint64(uint32(mem.Grow(newPages))))
	// Growing reallocates the buffer, so the addresses generated code uses
	// must be refreshed before execution resumes.
	e.memorySliceLen = uint64(len(mem.Buffer))
	if len(mem.Buffer) > 0 {
		e.memorySliceAddress = uintptr(unsafe.Pointer(&mem.Buffer[0]))
	}
}

func (e *engine) builtinFunctionMemorySize(mem *wasm.MemoryInstance) {
	if mem == nil {
		panic(wasm.TrapMemoryOutOfBounds)
	}
	e.push(uint64(mem.PageCount()))
}

// execHostFunction calls the host Go function with arguments popped from
// the value stack, marshalled by the reflect kind of each parameter, and
// pushes the result back. i32 values cross the boundary zero-extended.
func (e *engine) execHostFunction(f *reflect.Value, ctx *wasm.HostFunctionCallContext) {
	hf := *f
	tp := hf.Type()
	in := make([]reflect.Value, tp.NumIn())

	// Arguments are popped in reverse per the stack machine convention,
	// leaving in[0] for the call context.
	for i := len(in) - 1; i >= 1; i-- {
		val := reflect.New(tp.In(i)).Elem()
		raw := e.pop()
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

	val := reflect.New(tp.In(0)).Elem()
	val.Set(reflect.ValueOf(ctx))
	in[0] = val

	for _, ret := range hf.Call(in) {
		switch ret.Kind() {
		case reflect.Float64:
			e.push(math.Float64bits(ret.Float()))
		case reflect.Uint32:
			e.push(ret.Uint())
		case reflect.Int32:
			e.push(uint64(uint32(ret.Int())))
		}
	}
}
