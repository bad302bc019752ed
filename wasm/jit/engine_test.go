//go:build amd64 && (darwin || linux)
// +build amd64,darwin amd64,linux

package jit

import (
	"errors"
	"math"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/weewasm/weewasm/wasm"
	"github.com/weewasm/weewasm/wasm/interpreter"
	"github.com/weewasm/weewasm/wasm/wasmtest"
)

var (
	i32       = []wasm.ValueType{wasm.ValueTypeI32}
	f64       = []wasm.ValueType{wasm.ValueTypeF64}
	i32i32    = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}
	f64f64    = []wasm.ValueType{wasm.ValueTypeF64, wasm.ValueTypeF64}
	i32i32i32 = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32}

	get0  = []byte{wasm.OpcodeLocalGet, 0x00}
	get01 = []byte{wasm.OpcodeLocalGet, 0x00, wasm.OpcodeLocalGet, 0x01}
	end   = []byte{wasm.OpcodeEnd}
)

func instantiate(t *testing.T, binary []byte, imports *wasm.HostFunctions) *wasm.Instance {
	module, err := wasm.DecodeModule(binary)
	require.NoError(t, err)
	instance, err := wasm.NewInstance(module, imports, NewEngine())
	require.NoError(t, err)
	return instance
}

// runModule builds a module whose single function is exported as "run".
func runModule(params, results, locals []wasm.ValueType, body ...[]byte) []byte {
	b := wasmtest.NewModule()
	index := b.AddFunctionWithLocals(b.AddType(params, results), locals, wasmtest.Body(body...))
	b.ExportFunction("run", index)
	return b.Build()
}

// runBoth calls name on fresh jit and interpreter instances of the same
// module and requires both engines to produce identical outcomes: the same
// result bits, or the same trap.
func runBoth(t *testing.T, binary []byte, name string, params ...wasm.Value) ([]wasm.Value, error) {
	module, err := wasm.DecodeModule(binary)
	require.NoError(t, err)

	jitInstance, err := wasm.NewInstance(module, nil, NewEngine())
	require.NoError(t, err)
	interpInstance, err := wasm.NewInstance(module, nil, interpreter.NewEngine())
	require.NoError(t, err)

	jitResults, jitErr := jitInstance.Call(name, params...)
	interpResults, interpErr := interpInstance.Call(name, params...)

	if jitErr != nil || interpErr != nil {
		require.Error(t, jitErr, "interpreter trapped with %v but jit did not", interpErr)
		require.Error(t, interpErr, "jit trapped with %v but interpreter did not", jitErr)
		for _, trap := range []wasm.Trap{
			wasm.TrapUnreachable,
			wasm.TrapMemoryOutOfBounds,
			wasm.TrapIntegerDivideByZero,
			wasm.TrapIntegerOverflow,
			wasm.TrapInvalidConversionToInteger,
		} {
			require.Equal(t, errors.Is(interpErr, trap), errors.Is(jitErr, trap),
				"engines disagree on trap %q: jit=%v interpreter=%v", trap, jitErr, interpErr)
		}
		return nil, jitErr
	}
	require.Equal(t, interpResults, jitResults)
	return jitResults, nil
}

func TestEngine_verifyOffsetValue(t *testing.T) {
	var eng engine
	require.Equal(t, uintptr(engineStackSliceOffset), unsafe.Offsetof(eng.stack))
	require.Equal(t, uintptr(engineStackPointerOffset), unsafe.Offsetof(eng.stackPointer))
	require.Equal(t, uintptr(engineStackBasePointerOffset), unsafe.Offsetof(eng.stackBasePointer))
	require.Equal(t, uintptr(engineJITCallStatusCodeOffset), unsafe.Offsetof(eng.jitCallStatusCode))
	require.Equal(t, uintptr(engineFunctionCallIndexOffset), unsafe.Offsetof(eng.functionCallIndex))
	require.Equal(t, uintptr(engineContinuationAddressOffset), unsafe.Offsetof(eng.continuationAddressOffset))
	require.Equal(t, uintptr(engineGlobalSliceAddressOffset), unsafe.Offsetof(eng.globalSliceAddress))
	require.Equal(t, uintptr(engineMemorySliceAddressOffset), unsafe.Offsetof(eng.memorySliceAddress))
	require.Equal(t, uintptr(engineMemorySliceLenOffset), unsafe.Offsetof(eng.memorySliceLen))

	var global wasm.GlobalInstance
	require.Equal(t, uintptr(globalInstanceValueOffset), unsafe.Offsetof(global.Val))
}

func TestEngine_fibonacci(t *testing.T) {
	b := wasmtest.NewModule()
	fib := b.AddFunction(b.AddType(i32, i32), wasmtest.Body(
		get0,
		wasmtest.I32Const(2),
		[]byte{wasm.OpcodeI32LtS},
		[]byte{wasm.OpcodeIf, 0x40},
		get0,
		[]byte{wasm.OpcodeReturn},
		end,
		get0,
		wasmtest.I32Const(1),
		[]byte{wasm.OpcodeI32Sub, wasm.OpcodeCall, 0x00},
		get0,
		wasmtest.I32Const(2),
		[]byte{wasm.OpcodeI32Sub, wasm.OpcodeCall, 0x00},
		[]byte{wasm.OpcodeI32Add},
		end,
	))
	b.ExportFunction("fib", fib)
	module, err := wasm.DecodeModule(b.Build())
	require.NoError(t, err)

	var wg sync.WaitGroup
	const goroutines = 1000
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			instance, err := wasm.NewInstance(module, nil, NewEngine())
			require.NoError(t, err)
			results, err := instance.Call("fib", wasm.I32Value(20))
			require.NoError(t, err)
			require.Equal(t, []wasm.Value{wasm.I32Value(6765)}, results)
		}()
	}
	wg.Wait()
}

func TestEngine_fac(t *testing.T) {
	b := wasmtest.NewModule()
	fac := b.AddFunctionWithLocals(b.AddType(i32, i32), i32, wasmtest.Body(
		wasmtest.I32Const(1),
		[]byte{wasm.OpcodeLocalSet, 0x01},
		[]byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeLoop, 0x40},
		get0,
		[]byte{wasm.OpcodeI32Eqz, wasm.OpcodeBrIf, 0x01},
		[]byte{wasm.OpcodeLocalGet, 0x01},
		get0,
		[]byte{wasm.OpcodeI32Mul, wasm.OpcodeLocalSet, 0x01},
		get0,
		wasmtest.I32Const(1),
		[]byte{wasm.OpcodeI32Sub, wasm.OpcodeLocalSet, 0x00},
		[]byte{wasm.OpcodeBr, 0x00},
		[]byte{wasm.OpcodeEnd, wasm.OpcodeEnd},
		[]byte{wasm.OpcodeLocalGet, 0x01},
		end,
	))
	b.ExportFunction("fac", fac)
	instance := instantiate(t, b.Build(), nil)

	for _, tc := range []struct{ in, want int32 }{
		{in: 0, want: 1},
		{in: 1, want: 1},
		{in: 5, want: 120},
		{in: 10, want: 3628800},
	} {
		results, err := instance.Call("fac", wasm.I32Value(tc.in))
		require.NoError(t, err)
		require.Equal(t, []wasm.Value{wasm.I32Value(tc.want)}, results)
	}
}

func TestEngine_callStackExhausted(t *testing.T) {
	b := wasmtest.NewModule()
	f := b.AddFunction(b.AddType(i32, i32), wasmtest.Body(
		get0,
		[]byte{wasm.OpcodeCall, 0x00},
		end,
	))
	b.ExportFunction("forever", f)
	instance := instantiate(t, b.Build(), nil)

	_, err := instance.Call("forever", wasm.I32Value(0))
	require.True(t, errors.Is(err, wasm.TrapCallStackExhausted), "got %v", err)
}

func TestEngine_unreachable(t *testing.T) {
	b := wasmtest.NewModule()
	sig := b.AddType(nil, nil)
	b.AddFunction(sig, wasmtest.Body([]byte{wasm.OpcodeCall, 0x01}, end))
	b.AddFunction(sig, wasmtest.Body([]byte{wasm.OpcodeCall, 0x02}, end))
	b.AddFunction(sig, wasmtest.Body([]byte{wasm.OpcodeCall, 0x03}, end))
	b.AddFunction(sig, wasmtest.Body([]byte{wasm.OpcodeUnreachable}, end))
	b.ExportFunction("main", 0)
	instance := instantiate(t, b.Build(), nil)

	_, err := instance.Call("main")
	require.True(t, errors.Is(err, wasm.TrapUnreachable))
	exp := `unreachable
wasm backtrace:
	0: function[3]
	1: function[2]
	2: function[1]
	3: function[0]`
	require.Equal(t, exp, err.Error())
}

func TestEngine_memory(t *testing.T) {
	t.Run("sizeGrowLoadStore", func(t *testing.T) {
		b := wasmtest.NewModule()
		b.AddMemory(0, nil)
		noneToI32 := b.AddType(nil, i32)
		i32ToI32 := b.AddType(i32, i32)
		storeSig := b.AddType(i32i32, nil)
		b.ExportFunction("size", b.AddFunction(noneToI32, wasmtest.Body(
			[]byte{wasm.OpcodeMemorySize, 0x00}, end)))
		b.ExportFunction("grow", b.AddFunction(i32ToI32, wasmtest.Body(
			get0, []byte{wasm.OpcodeMemoryGrow, 0x00}, end)))
		b.ExportFunction("peek", b.AddFunction(i32ToI32, wasmtest.Body(
			get0, []byte{wasm.OpcodeI32Load, 0x02, 0x00}, end)))
		b.ExportFunction("poke", b.AddFunction(storeSig, wasmtest.Body(
			get01, []byte{wasm.OpcodeI32Store, 0x02, 0x00}, end)))
		instance := instantiate(t, b.Build(), nil)

		call := func(name string, args ...wasm.Value) []wasm.Value {
			results, err := instance.Call(name, args...)
			require.NoError(t, err)
			return results
		}

		require.Equal(t, []wasm.Value{wasm.I32Value(0)}, call("size"))

		_, err := instance.Call("peek", wasm.I32Value(0))
		require.True(t, errors.Is(err, wasm.TrapMemoryOutOfBounds))

		require.Equal(t, []wasm.Value{wasm.I32Value(0)}, call("grow", wasm.I32Value(10)))
		require.Equal(t, []wasm.Value{wasm.I32Value(10)}, call("size"))
		// New pages come up zeroed.
		require.Equal(t, []wasm.Value{wasm.I32Value(0)}, call("peek", wasm.I32Value(0)))

		last := int32(10*wasm.PageSize - 4)
		call("poke", wasm.I32Value(last), wasm.I32Value(0x31323334))
		require.Equal(t, []wasm.Value{wasm.I32Value(0x31323334)}, call("peek", wasm.I32Value(last)))

		// One byte past the last full word.
		_, err = instance.Call("peek", wasm.I32Value(last+1))
		require.True(t, errors.Is(err, wasm.TrapMemoryOutOfBounds))

		require.Equal(t, []wasm.Value{wasm.I32Value(10)}, call("grow", wasm.I32Value(0)))
		require.Equal(t, []wasm.Value{wasm.I32Value(0x31323334)}, call("peek", wasm.I32Value(last)))
	})

	t.Run("growRemapsBufferWithinCall", func(t *testing.T) {
		// The store would fault unless the grow refreshed the buffer address
		// the generated code dereferences.
		b := wasmtest.NewModule()
		b.AddMemory(0, nil)
		run := b.AddFunction(b.AddType(nil, i32), wasmtest.Body(
			wasmtest.I32Const(1),
			[]byte{wasm.OpcodeMemoryGrow, 0x00, wasm.OpcodeDrop},
			wasmtest.I32Const(3),
			wasmtest.I32Const(0x7E),
			[]byte{wasm.OpcodeI32Store8, 0x00, 0x00},
			wasmtest.I32Const(3),
			[]byte{wasm.OpcodeI32Load8U, 0x00, 0x00},
			end,
		))
		b.ExportFunction("run", run)
		instance := instantiate(t, b.Build(), nil)

		results, err := instance.Call("run")
		require.NoError(t, err)
		require.Equal(t, []wasm.Value{wasm.I32Value(0x7E)}, results)
	})

	t.Run("growPastMax", func(t *testing.T) {
		two := uint32(2)
		b := wasmtest.NewModule()
		b.AddMemory(1, &two)
		b.ExportFunction("size", b.AddFunction(b.AddType(nil, i32), wasmtest.Body(
			[]byte{wasm.OpcodeMemorySize, 0x00}, end)))
		b.ExportFunction("grow", b.AddFunction(b.AddType(i32, i32), wasmtest.Body(
			get0, []byte{wasm.OpcodeMemoryGrow, 0x00}, end)))
		instance := instantiate(t, b.Build(), nil)

		call := func(name string, args ...wasm.Value) []wasm.Value {
			results, err := instance.Call(name, args...)
			require.NoError(t, err)
			return results
		}

		require.Equal(t, []wasm.Value{wasm.I32Value(1)}, call("grow", wasm.I32Value(1)))
		require.Equal(t, []wasm.Value{wasm.I32Value(-1)}, call("grow", wasm.I32Value(1)))
		require.Equal(t, []wasm.Value{wasm.I32Value(2)}, call("size"))
		require.Equal(t, []wasm.Value{wasm.I32Value(2)}, call("grow", wasm.I32Value(0)))
	})
}

func TestEngine_hostFunctionCalls(t *testing.T) {
	t.Run("callOrderAndValues", func(t *testing.T) {
		b := wasmtest.NewModule()
		tickType := b.AddType(i32, nil)
		scaleType := b.AddType(f64, f64)
		tick := b.AddImport("env", "tick", tickType)
		scale := b.AddImport("env", "scale", scaleType)
		run := b.AddFunction(b.AddType(nil, f64), wasmtest.Body(
			wasmtest.I32Const(1), []byte{wasm.OpcodeCall, byte(tick)},
			wasmtest.I32Const(2), []byte{wasm.OpcodeCall, byte(tick)},
			wasmtest.I32Const(3), []byte{wasm.OpcodeCall, byte(tick)},
			wasmtest.I32Const(-1), []byte{wasm.OpcodeCall, byte(tick)},
			wasmtest.F64Const(1.5), []byte{wasm.OpcodeCall, byte(scale)},
			end,
		))
		b.ExportFunction("run", run)
		module, err := wasm.DecodeModule(b.Build())
		require.NoError(t, err)

		newImports := func(ticks *[]int32, scales *[]float64) *wasm.HostFunctions {
			imports := wasm.NewHostFunctions()
			require.NoError(t, imports.Register("env", "tick", func(_ *wasm.HostFunctionCallContext, v int32) {
				*ticks = append(*ticks, v)
			}))
			require.NoError(t, imports.Register("env", "scale", func(_ *wasm.HostFunctionCallContext, v float64) float64 {
				*scales = append(*scales, v)
				return v * 2
			}))
			return imports
		}

		var jitTicks []int32
		var jitScales []float64
		jitInstance, err := wasm.NewInstance(module, newImports(&jitTicks, &jitScales), NewEngine())
		require.NoError(t, err)
		results, err := jitInstance.Call("run")
		require.NoError(t, err)
		require.Equal(t, []wasm.Value{wasm.F64Value(3.0)}, results)
		require.Equal(t, []int32{1, 2, 3, -1}, jitTicks)
		require.Equal(t, []float64{1.5}, jitScales)

		// The interpreter must observe the identical host call sequence.
		var interpTicks []int32
		var interpScales []float64
		interpInstance, err := wasm.NewInstance(module, newImports(&interpTicks, &interpScales), interpreter.NewEngine())
		require.NoError(t, err)
		_, err = interpInstance.Call("run")
		require.NoError(t, err)
		require.Equal(t, jitTicks, interpTicks)
		require.Equal(t, jitScales, interpScales)
	})

	t.Run("memoryContext", func(t *testing.T) {
		b := wasmtest.NewModule()
		put8 := b.AddImport("env", "put8", b.AddType(i32i32, nil))
		echo := b.AddFunction(b.AddType(i32, i32), wasmtest.Body(
			wasmtest.I32Const(0),
			get0,
			[]byte{wasm.OpcodeCall, byte(put8)},
			wasmtest.I32Const(0),
			[]byte{wasm.OpcodeI32Load8U, 0x00, 0x00},
			end,
		))
		b.AddMemory(1, nil)
		b.ExportFunction("echo", echo)

		imports := wasm.NewHostFunctions()
		require.NoError(t, imports.Register("env", "put8", func(ctx *wasm.HostFunctionCallContext, addr, v int32) {
			ctx.Memory.Buffer[addr] = byte(v)
		}))
		instance := instantiate(t, b.Build(), imports)

		results, err := instance.Call("echo", wasm.I32Value(200))
		require.NoError(t, err)
		require.Equal(t, []wasm.Value{wasm.I32Value(200)}, results)
	})
}

func TestEngine_globals(t *testing.T) {
	b := wasmtest.NewModule()
	base := b.AddGlobal(wasm.ValueTypeI32, false, wasmtest.I32Const(100))
	counter := b.AddGlobal(wasm.ValueTypeI32, true, []byte{wasm.OpcodeGlobalGet, byte(base)})
	ratio := b.AddGlobal(wasm.ValueTypeF64, true, wasmtest.F64Const(2.5))
	bump := b.AddFunction(b.AddType(nil, i32), wasmtest.Body(
		[]byte{wasm.OpcodeGlobalGet, byte(counter)},
		wasmtest.I32Const(3),
		[]byte{wasm.OpcodeI32Add, wasm.OpcodeGlobalSet, byte(counter)},
		[]byte{wasm.OpcodeGlobalGet, byte(counter)},
		end,
	))
	double := b.AddFunction(b.AddType(nil, f64), wasmtest.Body(
		[]byte{wasm.OpcodeGlobalGet, byte(ratio)},
		wasmtest.F64Const(2),
		[]byte{wasm.OpcodeF64Mul, wasm.OpcodeGlobalSet, byte(ratio)},
		[]byte{wasm.OpcodeGlobalGet, byte(ratio)},
		end,
	))
	b.ExportFunction("bump", bump)
	b.ExportFunction("double", double)
	b.ExportGlobal("counter", counter)
	instance := instantiate(t, b.Build(), nil)

	for i := int32(1); i <= 3; i++ {
		results, err := instance.Call("bump")
		require.NoError(t, err)
		require.Equal(t, []wasm.Value{wasm.I32Value(100 + 3*i)}, results)
	}
	val, ok := instance.ExportedGlobal("counter")
	require.True(t, ok)
	require.Equal(t, wasm.I32Value(109), val)

	results, err := instance.Call("double")
	require.NoError(t, err)
	require.Equal(t, []wasm.Value{wasm.F64Value(5.0)}, results)
}

func TestEngine_startFunction(t *testing.T) {
	b := wasmtest.NewModule()
	flag := b.AddGlobal(wasm.ValueTypeI32, true, wasmtest.I32Const(0))
	init := b.AddFunction(b.AddType(nil, nil), wasmtest.Body(
		wasmtest.I32Const(7),
		[]byte{wasm.OpcodeGlobalSet, byte(flag)},
		end,
	))
	b.SetStart(init)
	b.ExportGlobal("flag", flag)
	instance := instantiate(t, b.Build(), nil)

	val, ok := instance.ExportedGlobal("flag")
	require.True(t, ok)
	require.Equal(t, wasm.I32Value(7), val)
}

// Frames with a hundred declared locals push the value stack well past its
// initial size, so a correct answer proves growth preserves live slots.
func TestEngine_growValueStack(t *testing.T) {
	locals := make([]wasm.ValueType, 100)
	for i := range locals {
		locals[i] = wasm.ValueTypeI32
	}
	b := wasmtest.NewModule()
	deep := b.AddFunctionWithLocals(b.AddType(i32, i32), locals, wasmtest.Body(
		get0,
		[]byte{wasm.OpcodeI32Eqz},
		[]byte{wasm.OpcodeIf, 0x7f},
		wasmtest.I32Const(0),
		[]byte{wasm.OpcodeElse},
		get0,
		wasmtest.I32Const(1),
		[]byte{wasm.OpcodeI32Sub, wasm.OpcodeCall, 0x00},
		wasmtest.I32Const(1),
		[]byte{wasm.OpcodeI32Add},
		end,
		end,
	))
	b.ExportFunction("deep", deep)
	instance := instantiate(t, b.Build(), nil)

	results, err := instance.Call("deep", wasm.I32Value(30))
	require.NoError(t, err)
	require.Equal(t, []wasm.Value{wasm.I32Value(30)}, results)
}

func TestEngine_maybeGrowStack(t *testing.T) {
	t.Run("grows", func(t *testing.T) {
		e := &engine{stack: make([]uint64, 10)}
		e.stackBasePointer = 5
		e.push(123)
		e.maybeGrowStack(10)
		require.Equal(t, 10*2+10, len(e.stack))
		require.Equal(t, uint64(123), e.stack[e.stackBasePointer])
	})
	t.Run("noop", func(t *testing.T) {
		e := &engine{stack: make([]uint64, 100)}
		e.stackBasePointer = 5
		e.maybeGrowStack(10)
		require.Equal(t, 100, len(e.stack))
	})
}

func TestEngine_preCompile(t *testing.T) {
	e := newEngine()
	f := &wasm.FunctionInstance{Name: "f", Signature: &wasm.FunctionType{}}
	require.NoError(t, e.PreCompile([]*wasm.FunctionInstance{f}))
	require.Error(t, e.PreCompile([]*wasm.FunctionInstance{f}))

	// Registered but never compiled.
	_, err := e.Call(f)
	require.Error(t, err)

	// Never registered at all.
	_, err = e.Call(&wasm.FunctionInstance{Name: "g", Signature: &wasm.FunctionType{}})
	require.Error(t, err)
}

func TestEngine_compileUnsupportedOpcode(t *testing.T) {
	e := newEngine()
	f := &wasm.FunctionInstance{
		Name:      "refnull",
		Body:      []byte{0xd0, wasm.OpcodeEnd},
		Signature: &wasm.FunctionType{},
		Blocks:    map[uint64]*wasm.FunctionBlock{},
	}
	require.NoError(t, e.PreCompile([]*wasm.FunctionInstance{f}))

	err := e.Compile(f)
	require.Error(t, err)
	var ce *wasm.CompileError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, byte(0xd0), ce.Opcode)
}

func TestEngine_matchesInterpreter_i32(t *testing.T) {
	unop := func(op byte) []byte { return runModule(i32, i32, nil, get0, []byte{op}, end) }
	binop := func(op byte) []byte { return runModule(i32i32, i32, nil, get01, []byte{op}, end) }
	truncOp := func(op byte) []byte { return runModule(f64, i32, nil, get0, []byte{op}, end) }

	for _, tc := range []struct {
		name   string
		binary []byte
		args   []wasm.Value
		want   int32
	}{
		{name: "addWraps", binary: binop(wasm.OpcodeI32Add),
			args: []wasm.Value{wasm.I32Value(math.MaxInt32), wasm.I32Value(1)}, want: math.MinInt32},
		{name: "subWraps", binary: binop(wasm.OpcodeI32Sub),
			args: []wasm.Value{wasm.I32Value(math.MinInt32), wasm.I32Value(1)}, want: math.MaxInt32},
		{name: "mulWraps", binary: binop(wasm.OpcodeI32Mul),
			args: []wasm.Value{wasm.I32Value(0x10000), wasm.I32Value(0x10000)}, want: 0},
		{name: "mulSigned", binary: binop(wasm.OpcodeI32Mul),
			args: []wasm.Value{wasm.I32Value(-3), wasm.I32Value(7)}, want: -21},
		{name: "divSTruncates", binary: binop(wasm.OpcodeI32DivS),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(2)}, want: 3},
		{name: "divSTruncatesTowardZero", binary: binop(wasm.OpcodeI32DivS),
			args: []wasm.Value{wasm.I32Value(-7), wasm.I32Value(2)}, want: -3},
		{name: "divUIgnoresSign", binary: binop(wasm.OpcodeI32DivU),
			args: []wasm.Value{wasm.I32Value(math.MinInt32), wasm.I32Value(2)}, want: 0x40000000},
		{name: "remSKeepsDividendSign", binary: binop(wasm.OpcodeI32RemS),
			args: []wasm.Value{wasm.I32Value(-7), wasm.I32Value(2)}, want: -1},
		{name: "remSNegativeDivisor", binary: binop(wasm.OpcodeI32RemS),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(-2)}, want: 1},
		{name: "remSMinByMinusOne", binary: binop(wasm.OpcodeI32RemS),
			args: []wasm.Value{wasm.I32Value(math.MinInt32), wasm.I32Value(-1)}, want: 0},
		{name: "remU", binary: binop(wasm.OpcodeI32RemU),
			args: []wasm.Value{wasm.I32Value(-1), wasm.I32Value(10)}, want: 5},
		{name: "and", binary: binop(wasm.OpcodeI32And),
			args: []wasm.Value{wasm.I32Value(0b1100), wasm.I32Value(0b1010)}, want: 0b1000},
		{name: "or", binary: binop(wasm.OpcodeI32Or),
			args: []wasm.Value{wasm.I32Value(0b1100), wasm.I32Value(0b1010)}, want: 0b1110},
		{name: "xor", binary: binop(wasm.OpcodeI32Xor),
			args: []wasm.Value{wasm.I32Value(0b1100), wasm.I32Value(0b1010)}, want: 0b0110},
		{name: "shlMasksCount", binary: binop(wasm.OpcodeI32Shl),
			args: []wasm.Value{wasm.I32Value(1), wasm.I32Value(33)}, want: 2},
		{name: "shrSSignFills", binary: binop(wasm.OpcodeI32ShrS),
			args: []wasm.Value{wasm.I32Value(math.MinInt32), wasm.I32Value(31)}, want: -1},
		{name: "shrUZeroFills", binary: binop(wasm.OpcodeI32ShrU),
			args: []wasm.Value{wasm.I32Value(math.MinInt32), wasm.I32Value(31)}, want: 1},
		{name: "rotl", binary: binop(wasm.OpcodeI32Rotl),
			args: []wasm.Value{wasm.I32Value(-0x7FFFFFFF), wasm.I32Value(1)}, want: 3},
		{name: "rotrMasksCount", binary: binop(wasm.OpcodeI32Rotr),
			args: []wasm.Value{wasm.I32Value(2), wasm.I32Value(33)}, want: 1},
		{name: "clz", binary: unop(wasm.OpcodeI32Clz),
			args: []wasm.Value{wasm.I32Value(0x00F0F000)}, want: 8},
		{name: "clzZero", binary: unop(wasm.OpcodeI32Clz),
			args: []wasm.Value{wasm.I32Value(0)}, want: 32},
		{name: "ctz", binary: unop(wasm.OpcodeI32Ctz),
			args: []wasm.Value{wasm.I32Value(0x00F0F000)}, want: 12},
		{name: "ctzZero", binary: unop(wasm.OpcodeI32Ctz),
			args: []wasm.Value{wasm.I32Value(0)}, want: 32},
		{name: "popcnt", binary: unop(wasm.OpcodeI32Popcnt),
			args: []wasm.Value{wasm.I32Value(0x00F0F000)}, want: 8},
		{name: "popcntZero", binary: unop(wasm.OpcodeI32Popcnt),
			args: []wasm.Value{wasm.I32Value(0)}, want: 0},
		{name: "eqzZero", binary: unop(wasm.OpcodeI32Eqz),
			args: []wasm.Value{wasm.I32Value(0)}, want: 1},
		{name: "eqzNonZero", binary: unop(wasm.OpcodeI32Eqz),
			args: []wasm.Value{wasm.I32Value(5)}, want: 0},
		{name: "ltSigned", binary: binop(wasm.OpcodeI32LtS),
			args: []wasm.Value{wasm.I32Value(-1), wasm.I32Value(1)}, want: 1},
		{name: "ltUnsigned", binary: binop(wasm.OpcodeI32LtU),
			args: []wasm.Value{wasm.I32Value(-1), wasm.I32Value(1)}, want: 0},
		{name: "gtUnsigned", binary: binop(wasm.OpcodeI32GtU),
			args: []wasm.Value{wasm.I32Value(-1), wasm.I32Value(1)}, want: 1},
		{name: "leUnsigned", binary: binop(wasm.OpcodeI32LeU),
			args: []wasm.Value{wasm.I32Value(1), wasm.I32Value(-1)}, want: 1},
		{name: "geSignedEqual", binary: binop(wasm.OpcodeI32GeS),
			args: []wasm.Value{wasm.I32Value(math.MinInt32), wasm.I32Value(math.MinInt32)}, want: 1},
		{name: "ne", binary: binop(wasm.OpcodeI32Ne),
			args: []wasm.Value{wasm.I32Value(5), wasm.I32Value(5)}, want: 0},
		{name: "extend8SNegative", binary: unop(wasm.OpcodeI32Extend8S),
			args: []wasm.Value{wasm.I32Value(0x80)}, want: -128},
		{name: "extend8SPositive", binary: unop(wasm.OpcodeI32Extend8S),
			args: []wasm.Value{wasm.I32Value(0x7F)}, want: 127},
		{name: "extend16SNegative", binary: unop(wasm.OpcodeI32Extend16S),
			args: []wasm.Value{wasm.I32Value(0x8000)}, want: -32768},
		{name: "truncSPositiveBoundary", binary: truncOp(wasm.OpcodeI32TruncF64S),
			args: []wasm.Value{wasm.F64Value(2147483647.9)}, want: math.MaxInt32},
		{name: "truncSNegativeBoundary", binary: truncOp(wasm.OpcodeI32TruncF64S),
			args: []wasm.Value{wasm.F64Value(-2147483648.99)}, want: math.MinInt32},
		{name: "truncUFullRange", binary: truncOp(wasm.OpcodeI32TruncF64U),
			args: []wasm.Value{wasm.F64Value(4294967295.9)}, want: -1},
		{name: "truncUNegativeZeroish", binary: truncOp(wasm.OpcodeI32TruncF64U),
			args: []wasm.Value{wasm.F64Value(-0.9)}, want: 0},
		{name: "selectFirst",
			binary: runModule(i32i32i32, i32, nil,
				get01, []byte{wasm.OpcodeLocalGet, 0x02, wasm.OpcodeSelect}, end),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(8), wasm.I32Value(1)}, want: 7},
		{name: "selectSecond",
			binary: runModule(i32i32i32, i32, nil,
				get01, []byte{wasm.OpcodeLocalGet, 0x02, wasm.OpcodeSelect}, end),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(8), wasm.I32Value(0)}, want: 8},
		{name: "localsStartAtZero",
			binary: runModule(nil, i32, i32, get0, end),
			want:   0},
		{name: "teeKeepsOperand",
			binary: runModule(i32, i32, i32,
				get0,
				[]byte{wasm.OpcodeLocalTee, 0x01},
				wasmtest.I32Const(1),
				[]byte{wasm.OpcodeI32Add, wasm.OpcodeLocalGet, 0x01, wasm.OpcodeI32Add},
				end),
			args: []wasm.Value{wasm.I32Value(5)}, want: 11},
		{name: "dropKeepsLower",
			binary: runModule(nil, i32, nil,
				wasmtest.I32Const(3), wasmtest.I32Const(9), []byte{wasm.OpcodeDrop}, end),
			want: 3},
		{name: "nop",
			binary: runModule(nil, i32, nil,
				[]byte{wasm.OpcodeNop}, wasmtest.I32Const(4), []byte{wasm.OpcodeNop}, end),
			want: 4},
		{name: "constSignedLEB",
			binary: runModule(nil, i32, nil, wasmtest.I32Const(-123456), end),
			want:   -123456},
	} {
		t.Run(tc.name, func(t *testing.T) {
			results, err := runBoth(t, tc.binary, "run", tc.args...)
			require.NoError(t, err)
			require.Equal(t, []wasm.Value{wasm.I32Value(tc.want)}, results)
		})
	}
}

func TestEngine_matchesInterpreter_f64(t *testing.T) {
	unop := func(op byte) []byte { return runModule(f64, f64, nil, get0, []byte{op}, end) }
	binop := func(op byte) []byte { return runModule(f64f64, f64, nil, get01, []byte{op}, end) }
	cmp := func(op byte) []byte { return runModule(f64f64, i32, nil, get01, []byte{op}, end) }

	var (
		negZero    = math.Copysign(0, -1)
		payloadNaN = math.Float64frombits(0x7ff80000deadbeef)
	)

	for _, tc := range []struct {
		name   string
		binary []byte
		args   []wasm.Value
		// want is nil when only cross-engine agreement is checked, e.g. for
		// hardware-generated NaNs.
		want []wasm.Value
	}{
		{name: "minNaNFirst", binary: binop(wasm.OpcodeF64Min),
			args: []wasm.Value{wasm.F64Value(payloadNaN), wasm.F64Value(1)},
			want: []wasm.Value{wasm.F64Value(math.NaN())}},
		{name: "minNaNSecond", binary: binop(wasm.OpcodeF64Min),
			args: []wasm.Value{wasm.F64Value(1), wasm.F64Value(payloadNaN)},
			want: []wasm.Value{wasm.F64Value(math.NaN())}},
		{name: "maxNaN", binary: binop(wasm.OpcodeF64Max),
			args: []wasm.Value{wasm.F64Value(payloadNaN), wasm.F64Value(1)},
			want: []wasm.Value{wasm.F64Value(math.NaN())}},
		{name: "minNegativeZeroFirst", binary: binop(wasm.OpcodeF64Min),
			args: []wasm.Value{wasm.F64Value(negZero), wasm.F64Value(0)},
			want: []wasm.Value{wasm.F64Value(negZero)}},
		{name: "minNegativeZeroSecond", binary: binop(wasm.OpcodeF64Min),
			args: []wasm.Value{wasm.F64Value(0), wasm.F64Value(negZero)},
			want: []wasm.Value{wasm.F64Value(negZero)}},
		{name: "maxNegativeZero", binary: binop(wasm.OpcodeF64Max),
			args: []wasm.Value{wasm.F64Value(negZero), wasm.F64Value(0)},
			want: []wasm.Value{wasm.F64Value(0)}},
		{name: "minOrdered", binary: binop(wasm.OpcodeF64Min),
			args: []wasm.Value{wasm.F64Value(1.5), wasm.F64Value(2.5)},
			want: []wasm.Value{wasm.F64Value(1.5)}},
		{name: "maxOrdered", binary: binop(wasm.OpcodeF64Max),
			args: []wasm.Value{wasm.F64Value(1.5), wasm.F64Value(2.5)},
			want: []wasm.Value{wasm.F64Value(2.5)}},
		{name: "minNegativeInf", binary: binop(wasm.OpcodeF64Min),
			args: []wasm.Value{wasm.F64Value(math.Inf(-1)), wasm.F64Value(5)},
			want: []wasm.Value{wasm.F64Value(math.Inf(-1))}},
		{name: "divByZero", binary: binop(wasm.OpcodeF64Div),
			args: []wasm.Value{wasm.F64Value(1), wasm.F64Value(0)},
			want: []wasm.Value{wasm.F64Value(math.Inf(1))}},
		{name: "divNegativeByZero", binary: binop(wasm.OpcodeF64Div),
			args: []wasm.Value{wasm.F64Value(-1), wasm.F64Value(0)},
			want: []wasm.Value{wasm.F64Value(math.Inf(-1))}},
		{name: "divByNegativeZero", binary: binop(wasm.OpcodeF64Div),
			args: []wasm.Value{wasm.F64Value(1), wasm.F64Value(negZero)},
			want: []wasm.Value{wasm.F64Value(math.Inf(-1))}},
		{name: "divZeroByZero", binary: binop(wasm.OpcodeF64Div),
			args: []wasm.Value{wasm.F64Value(0), wasm.F64Value(0)}},
		{name: "addOppositeInf", binary: binop(wasm.OpcodeF64Add),
			args: []wasm.Value{wasm.F64Value(math.Inf(1)), wasm.F64Value(math.Inf(-1))}},
		{name: "mulOverflowsToInf", binary: binop(wasm.OpcodeF64Mul),
			args: []wasm.Value{wasm.F64Value(1e300), wasm.F64Value(1e300)},
			want: []wasm.Value{wasm.F64Value(math.Inf(1))}},
		{name: "subExact", binary: binop(wasm.OpcodeF64Sub),
			args: []wasm.Value{wasm.F64Value(2.5), wasm.F64Value(1.25)},
			want: []wasm.Value{wasm.F64Value(1.25)}},
		{name: "sqrt", binary: unop(wasm.OpcodeF64Sqrt),
			args: []wasm.Value{wasm.F64Value(4)},
			want: []wasm.Value{wasm.F64Value(2)}},
		{name: "sqrtNegative", binary: unop(wasm.OpcodeF64Sqrt),
			args: []wasm.Value{wasm.F64Value(-1)}},
		{name: "ceil", binary: unop(wasm.OpcodeF64Ceil),
			args: []wasm.Value{wasm.F64Value(2.1)},
			want: []wasm.Value{wasm.F64Value(3)}},
		{name: "floor", binary: unop(wasm.OpcodeF64Floor),
			args: []wasm.Value{wasm.F64Value(-2.1)},
			want: []wasm.Value{wasm.F64Value(-3)}},
		{name: "trunc", binary: unop(wasm.OpcodeF64Trunc),
			args: []wasm.Value{wasm.F64Value(-2.9)},
			want: []wasm.Value{wasm.F64Value(-2)}},
		{name: "nearestHalfDown", binary: unop(wasm.OpcodeF64Nearest),
			args: []wasm.Value{wasm.F64Value(2.5)},
			want: []wasm.Value{wasm.F64Value(2)}},
		{name: "nearestHalfUp", binary: unop(wasm.OpcodeF64Nearest),
			args: []wasm.Value{wasm.F64Value(3.5)},
			want: []wasm.Value{wasm.F64Value(4)}},
		{name: "nearestNegativeHalf", binary: unop(wasm.OpcodeF64Nearest),
			args: []wasm.Value{wasm.F64Value(-2.5)},
			want: []wasm.Value{wasm.F64Value(-2)}},
		{name: "nearestKeepsNegativeZero", binary: unop(wasm.OpcodeF64Nearest),
			args: []wasm.Value{wasm.F64Value(-0.5)},
			want: []wasm.Value{wasm.F64Value(negZero)}},
		{name: "absNegativeZero", binary: unop(wasm.OpcodeF64Abs),
			args: []wasm.Value{wasm.F64Value(negZero)},
			want: []wasm.Value{wasm.F64Value(0)}},
		{name: "negZero", binary: unop(wasm.OpcodeF64Neg),
			args: []wasm.Value{wasm.F64Value(0)},
			want: []wasm.Value{wasm.F64Value(negZero)}},
		{name: "negKeepsNaNPayload", binary: unop(wasm.OpcodeF64Neg),
			args: []wasm.Value{wasm.F64Value(payloadNaN)},
			want: []wasm.Value{wasm.F64Value(math.Float64frombits(0xfff80000deadbeef))}},
		{name: "copysignNegative", binary: binop(wasm.OpcodeF64Copysign),
			args: []wasm.Value{wasm.F64Value(3.5), wasm.F64Value(negZero)},
			want: []wasm.Value{wasm.F64Value(-3.5)}},
		{name: "copysignPositive", binary: binop(wasm.OpcodeF64Copysign),
			args: []wasm.Value{wasm.F64Value(-3.5), wasm.F64Value(4)},
			want: []wasm.Value{wasm.F64Value(3.5)}},
		{name: "ltNaN", binary: cmp(wasm.OpcodeF64Lt),
			args: []wasm.Value{wasm.F64Value(payloadNaN), wasm.F64Value(1)},
			want: []wasm.Value{wasm.I32Value(0)}},
		{name: "neNaN", binary: cmp(wasm.OpcodeF64Ne),
			args: []wasm.Value{wasm.F64Value(payloadNaN), wasm.F64Value(payloadNaN)},
			want: []wasm.Value{wasm.I32Value(1)}},
		{name: "eqNaN", binary: cmp(wasm.OpcodeF64Eq),
			args: []wasm.Value{wasm.F64Value(payloadNaN), wasm.F64Value(payloadNaN)},
			want: []wasm.Value{wasm.I32Value(0)}},
		{name: "geNaN", binary: cmp(wasm.OpcodeF64Ge),
			args: []wasm.Value{wasm.F64Value(payloadNaN), wasm.F64Value(payloadNaN)},
			want: []wasm.Value{wasm.I32Value(0)}},
		{name: "eqZeros", binary: cmp(wasm.OpcodeF64Eq),
			args: []wasm.Value{wasm.F64Value(negZero), wasm.F64Value(0)},
			want: []wasm.Value{wasm.I32Value(1)}},
		{name: "ltZeros", binary: cmp(wasm.OpcodeF64Lt),
			args: []wasm.Value{wasm.F64Value(negZero), wasm.F64Value(0)},
			want: []wasm.Value{wasm.I32Value(0)}},
		{name: "gt", binary: cmp(wasm.OpcodeF64Gt),
			args: []wasm.Value{wasm.F64Value(2), wasm.F64Value(1)},
			want: []wasm.Value{wasm.I32Value(1)}},
		{name: "le", binary: cmp(wasm.OpcodeF64Le),
			args: []wasm.Value{wasm.F64Value(1), wasm.F64Value(2)},
			want: []wasm.Value{wasm.I32Value(1)}},
		{name: "geEqual", binary: cmp(wasm.OpcodeF64Ge),
			args: []wasm.Value{wasm.F64Value(1), wasm.F64Value(1)},
			want: []wasm.Value{wasm.I32Value(1)}},
		{name: "convertSigned",
			binary: runModule(i32, f64, nil, get0, []byte{wasm.OpcodeF64ConvertI32S}, end),
			args:   []wasm.Value{wasm.I32Value(-7)},
			want:   []wasm.Value{wasm.F64Value(-7)}},
		{name: "convertUnsigned",
			binary: runModule(i32, f64, nil, get0, []byte{wasm.OpcodeF64ConvertI32U}, end),
			args:   []wasm.Value{wasm.I32Value(-1)},
			want:   []wasm.Value{wasm.F64Value(4294967295)}},
		{name: "constKeepsNaNPayload",
			binary: runModule(nil, f64, nil, wasmtest.F64Const(payloadNaN), end),
			want:   []wasm.Value{wasm.F64Value(payloadNaN)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			results, err := runBoth(t, tc.binary, "run", tc.args...)
			require.NoError(t, err)
			if tc.want != nil {
				require.Equal(t, tc.want, results)
			}
		})
	}
}

func TestEngine_matchesInterpreter_control(t *testing.T) {
	brTable := runModule(i32, i32, nil,
		[]byte{wasm.OpcodeBlock, 0x7f},
		[]byte{wasm.OpcodeBlock, 0x40},
		[]byte{wasm.OpcodeBlock, 0x40},
		[]byte{wasm.OpcodeBlock, 0x40},
		get0,
		[]byte{wasm.OpcodeBrTable, 0x02, 0x00, 0x01, 0x02},
		end,
		wasmtest.I32Const(100),
		[]byte{wasm.OpcodeBr, 0x02},
		end,
		wasmtest.I32Const(200),
		[]byte{wasm.OpcodeBr, 0x01},
		end,
		wasmtest.I32Const(300),
		end,
		end,
	)

	crossCall := func() []byte {
		b := wasmtest.NewModule()
		sig := b.AddType(i32i32, i32)
		b.AddFunction(sig, wasmtest.Body(get01, []byte{wasm.OpcodeI32Sub}, end))
		run := b.AddFunction(sig, wasmtest.Body(
			get01,
			[]byte{wasm.OpcodeCall, 0x00},
			[]byte{wasm.OpcodeLocalGet, 0x01, wasm.OpcodeLocalGet, 0x00, wasm.OpcodeCall, 0x00},
			[]byte{wasm.OpcodeI32Mul},
			end,
		))
		b.ExportFunction("run", run)
		return b.Build()
	}()

	deepBlocks := func() []byte {
		var frags [][]byte
		for i := 0; i < 8; i++ {
			frags = append(frags, []byte{wasm.OpcodeBlock, 0x40})
		}
		frags = append(frags, []byte{wasm.OpcodeBr, 0x07})
		for i := 0; i < 8; i++ {
			frags = append(frags, end)
		}
		frags = append(frags, wasmtest.I32Const(77), end)
		return runModule(nil, i32, nil, frags...)
	}()

	for _, tc := range []struct {
		name   string
		binary []byte
		args   []wasm.Value
		want   int32
	}{
		{name: "brDiscardsOperandsAboveLabel",
			binary: runModule(nil, i32, nil,
				[]byte{wasm.OpcodeBlock, 0x7f},
				wasmtest.I32Const(99),
				wasmtest.I32Const(42),
				[]byte{wasm.OpcodeBr, 0x00},
				wasmtest.I32Const(7),
				end, end),
			want: 42},
		{name: "brToFunctionLabel",
			binary: runModule(i32, i32, nil, get0, []byte{wasm.OpcodeBr, 0x00}, end),
			args:   []wasm.Value{wasm.I32Value(31)}, want: 31},
		{name: "brIfTaken",
			binary: runModule(i32, i32, nil,
				[]byte{wasm.OpcodeBlock, 0x7f},
				wasmtest.I32Const(10),
				get0,
				[]byte{wasm.OpcodeBrIf, 0x00},
				[]byte{wasm.OpcodeDrop},
				wasmtest.I32Const(20),
				end, end),
			args: []wasm.Value{wasm.I32Value(1)}, want: 10},
		{name: "brIfFallsThrough",
			binary: runModule(i32, i32, nil,
				[]byte{wasm.OpcodeBlock, 0x7f},
				wasmtest.I32Const(10),
				get0,
				[]byte{wasm.OpcodeBrIf, 0x00},
				[]byte{wasm.OpcodeDrop},
				wasmtest.I32Const(20),
				end, end),
			args: []wasm.Value{wasm.I32Value(0)}, want: 20},
		{name: "brTableCase0", binary: brTable, args: []wasm.Value{wasm.I32Value(0)}, want: 100},
		{name: "brTableCase1", binary: brTable, args: []wasm.Value{wasm.I32Value(1)}, want: 200},
		{name: "brTableCase2", binary: brTable, args: []wasm.Value{wasm.I32Value(2)}, want: 300},
		{name: "brTableDefault", binary: brTable, args: []wasm.Value{wasm.I32Value(99)}, want: 300},
		{name: "ifTrue",
			binary: runModule(i32, i32, nil,
				get0,
				[]byte{wasm.OpcodeIf, 0x7f},
				wasmtest.I32Const(11),
				[]byte{wasm.OpcodeElse},
				wasmtest.I32Const(22),
				end, end),
			args: []wasm.Value{wasm.I32Value(1)}, want: 11},
		{name: "ifFalse",
			binary: runModule(i32, i32, nil,
				get0,
				[]byte{wasm.OpcodeIf, 0x7f},
				wasmtest.I32Const(11),
				[]byte{wasm.OpcodeElse},
				wasmtest.I32Const(22),
				end, end),
			args: []wasm.Value{wasm.I32Value(0)}, want: 22},
		{name: "ifWithoutElseTaken",
			binary: runModule(i32, i32, nil,
				wasmtest.I32Const(5),
				get0,
				[]byte{wasm.OpcodeIf, 0x40},
				wasmtest.I32Const(7),
				[]byte{wasm.OpcodeDrop},
				end, end),
			args: []wasm.Value{wasm.I32Value(1)}, want: 5},
		{name: "ifWithoutElseSkipped",
			binary: runModule(i32, i32, nil,
				wasmtest.I32Const(5),
				get0,
				[]byte{wasm.OpcodeIf, 0x40},
				wasmtest.I32Const(7),
				[]byte{wasm.OpcodeDrop},
				end, end),
			args: []wasm.Value{wasm.I32Value(0)}, want: 5},
		{name: "returnFromIf",
			binary: runModule(i32, i32, nil,
				get0,
				[]byte{wasm.OpcodeIf, 0x40},
				wasmtest.I32Const(42),
				[]byte{wasm.OpcodeReturn},
				end,
				wasmtest.I32Const(7),
				end),
			args: []wasm.Value{wasm.I32Value(1)}, want: 42},
		{name: "fallthroughPastIf",
			binary: runModule(i32, i32, nil,
				get0,
				[]byte{wasm.OpcodeIf, 0x40},
				wasmtest.I32Const(42),
				[]byte{wasm.OpcodeReturn},
				end,
				wasmtest.I32Const(7),
				end),
			args: []wasm.Value{wasm.I32Value(0)}, want: 7},
		{name: "loopCountsDown",
			binary: runModule(i32, i32, i32,
				[]byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeLoop, 0x40},
				get0,
				[]byte{wasm.OpcodeI32Eqz, wasm.OpcodeBrIf, 0x01},
				[]byte{wasm.OpcodeLocalGet, 0x01},
				get0,
				[]byte{wasm.OpcodeI32Add, wasm.OpcodeLocalSet, 0x01},
				get0,
				wasmtest.I32Const(1),
				[]byte{wasm.OpcodeI32Sub, wasm.OpcodeLocalSet, 0x00},
				[]byte{wasm.OpcodeBr, 0x00},
				[]byte{wasm.OpcodeEnd, wasm.OpcodeEnd},
				[]byte{wasm.OpcodeLocalGet, 0x01},
				end),
			args: []wasm.Value{wasm.I32Value(5)}, want: 15},
		{name: "loopFallsThroughWithResult",
			binary: runModule(nil, i32, nil,
				[]byte{wasm.OpcodeLoop, 0x7f},
				wasmtest.I32Const(5),
				end, end),
			want: 5},
		{name: "callsCrossArguments", binary: crossCall,
			args: []wasm.Value{wasm.I32Value(10), wasm.I32Value(4)}, want: -36},
		{name: "deeplyNestedBr", binary: deepBlocks, want: 77},
	} {
		t.Run(tc.name, func(t *testing.T) {
			results, err := runBoth(t, tc.binary, "run", tc.args...)
			require.NoError(t, err)
			require.Equal(t, []wasm.Value{wasm.I32Value(tc.want)}, results)
		})
	}
}

func TestEngine_matchesInterpreter_traps(t *testing.T) {
	binop := func(op byte) []byte { return runModule(i32i32, i32, nil, get01, []byte{op}, end) }
	truncOp := func(op byte) []byte { return runModule(f64, i32, nil, get0, []byte{op}, end) }

	withMemory := func(body ...[]byte) []byte {
		b := wasmtest.NewModule()
		b.AddMemory(1, nil)
		run := b.AddFunction(b.AddType(i32, i32), wasmtest.Body(body...))
		b.ExportFunction("run", run)
		return b.Build()
	}
	store := func() []byte {
		b := wasmtest.NewModule()
		b.AddMemory(1, nil)
		run := b.AddFunction(b.AddType(i32i32, nil), wasmtest.Body(
			get01, []byte{wasm.OpcodeI32Store, 0x02, 0x00}, end))
		b.ExportFunction("run", run)
		return b.Build()
	}()

	for _, tc := range []struct {
		name   string
		binary []byte
		args   []wasm.Value
		trap   wasm.Trap
	}{
		{name: "unreachable",
			binary: runModule(nil, nil, nil, []byte{wasm.OpcodeUnreachable}, end),
			trap:   wasm.TrapUnreachable},
		{name: "unreachableInTakenIf",
			binary: runModule(i32, i32, nil,
				get0,
				[]byte{wasm.OpcodeIf, 0x40, wasm.OpcodeUnreachable, wasm.OpcodeEnd},
				wasmtest.I32Const(9),
				end),
			args: []wasm.Value{wasm.I32Value(1)},
			trap: wasm.TrapUnreachable},
		{name: "divSByZero", binary: binop(wasm.OpcodeI32DivS),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(0)},
			trap: wasm.TrapIntegerDivideByZero},
		{name: "divUByZero", binary: binop(wasm.OpcodeI32DivU),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(0)},
			trap: wasm.TrapIntegerDivideByZero},
		{name: "remSByZero", binary: binop(wasm.OpcodeI32RemS),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(0)},
			trap: wasm.TrapIntegerDivideByZero},
		{name: "remUByZero", binary: binop(wasm.OpcodeI32RemU),
			args: []wasm.Value{wasm.I32Value(7), wasm.I32Value(0)},
			trap: wasm.TrapIntegerDivideByZero},
		{name: "divSOverflow", binary: binop(wasm.OpcodeI32DivS),
			args: []wasm.Value{wasm.I32Value(math.MinInt32), wasm.I32Value(-1)},
			trap: wasm.TrapIntegerOverflow},
		{name: "truncSNaN", binary: truncOp(wasm.OpcodeI32TruncF64S),
			args: []wasm.Value{wasm.F64Value(math.NaN())},
			trap: wasm.TrapInvalidConversionToInteger},
		{name: "truncUNaN", binary: truncOp(wasm.OpcodeI32TruncF64U),
			args: []wasm.Value{wasm.F64Value(math.NaN())},
			trap: wasm.TrapInvalidConversionToInteger},
		{name: "truncSTooLarge", binary: truncOp(wasm.OpcodeI32TruncF64S),
			args: []wasm.Value{wasm.F64Value(2147483648.0)},
			trap: wasm.TrapIntegerOverflow},
		{name: "truncSTooSmall", binary: truncOp(wasm.OpcodeI32TruncF64S),
			args: []wasm.Value{wasm.F64Value(-2147483649.0)},
			trap: wasm.TrapIntegerOverflow},
		{name: "truncUTooLarge", binary: truncOp(wasm.OpcodeI32TruncF64U),
			args: []wasm.Value{wasm.F64Value(4294967296.0)},
			trap: wasm.TrapIntegerOverflow},
		{name: "truncUNegative", binary: truncOp(wasm.OpcodeI32TruncF64U),
			args: []wasm.Value{wasm.F64Value(-1.0)},
			trap: wasm.TrapIntegerOverflow},
		{name: "loadPastEnd",
			binary: withMemory(get0, []byte{wasm.OpcodeI32Load, 0x02, 0x00}, end),
			args:   []wasm.Value{wasm.I32Value(int32(wasm.PageSize))},
			trap:   wasm.TrapMemoryOutOfBounds},
		{name: "loadStraddlesEnd",
			binary: withMemory(get0, []byte{wasm.OpcodeI32Load, 0x02, 0x00}, end),
			args:   []wasm.Value{wasm.I32Value(int32(wasm.PageSize) - 3)},
			trap:   wasm.TrapMemoryOutOfBounds},
		{name: "storePastEnd", binary: store,
			args: []wasm.Value{wasm.I32Value(int32(wasm.PageSize) - 3), wasm.I32Value(1)},
			trap: wasm.TrapMemoryOutOfBounds},
		{name: "loadHugeImmediateOffset",
			binary: withMemory(get0,
				append([]byte{wasm.OpcodeI32Load, 0x02}, wasmtest.Uleb(0xFFFFFFF0)...), end),
			args: []wasm.Value{wasm.I32Value(math.MaxInt32)},
			trap: wasm.TrapMemoryOutOfBounds},
		{name: "loadWithoutMemorySection",
			binary: runModule(nil, i32, nil,
				wasmtest.I32Const(0), []byte{wasm.OpcodeI32Load, 0x02, 0x00}, end),
			trap: wasm.TrapMemoryOutOfBounds},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runBoth(t, tc.binary, "run", tc.args...)
			require.True(t, errors.Is(err, tc.trap), "want %q, got %v", tc.trap, err)
		})
	}
}

func TestEngine_matchesInterpreter_memory(t *testing.T) {
	b := wasmtest.NewModule()
	b.AddMemory(1, nil)
	b.AddData(wasmtest.I32Const(16), []byte{0x80, 0x00, 0x00, 0x80})
	loadSig := b.AddType(i32, i32)
	storeSig := b.AddType(i32i32, nil)
	b.ExportFunction("load8s", b.AddFunction(loadSig, wasmtest.Body(
		get0, []byte{wasm.OpcodeI32Load8S, 0x00, 0x00}, end)))
	b.ExportFunction("load8u", b.AddFunction(loadSig, wasmtest.Body(
		get0, []byte{wasm.OpcodeI32Load8U, 0x00, 0x00}, end)))
	b.ExportFunction("load16s", b.AddFunction(loadSig, wasmtest.Body(
		get0, []byte{wasm.OpcodeI32Load16S, 0x01, 0x00}, end)))
	b.ExportFunction("load16u", b.AddFunction(loadSig, wasmtest.Body(
		get0, []byte{wasm.OpcodeI32Load16U, 0x01, 0x00}, end)))
	b.ExportFunction("load32", b.AddFunction(loadSig, wasmtest.Body(
		get0, []byte{wasm.OpcodeI32Load, 0x02, 0x00}, end)))
	b.ExportFunction("store8", b.AddFunction(storeSig, wasmtest.Body(
		get01, []byte{wasm.OpcodeI32Store8, 0x00, 0x00}, end)))
	b.ExportFunction("store16", b.AddFunction(storeSig, wasmtest.Body(
		get01, []byte{wasm.OpcodeI32Store16, 0x01, 0x00}, end)))
	b.ExportFunction("roundtrip", b.AddFunction(b.AddType(f64, f64), wasmtest.Body(
		wasmtest.I32Const(64),
		get0,
		[]byte{wasm.OpcodeF64Store, 0x03, 0x00},
		wasmtest.I32Const(64),
		[]byte{wasm.OpcodeF64Load, 0x03, 0x00},
		end)))
	module, err := wasm.DecodeModule(b.Build())
	require.NoError(t, err)

	jitInstance, err := wasm.NewInstance(module, nil, NewEngine())
	require.NoError(t, err)
	interpInstance, err := wasm.NewInstance(module, nil, interpreter.NewEngine())
	require.NoError(t, err)

	both := func(name string, args ...wasm.Value) []wasm.Value {
		jitResults, err := jitInstance.Call(name, args...)
		require.NoError(t, err)
		interpResults, err := interpInstance.Call(name, args...)
		require.NoError(t, err)
		require.Equal(t, interpResults, jitResults)
		return jitResults
	}

	// The data segment placed 80 00 00 80 at offset 16.
	require.Equal(t, []wasm.Value{wasm.I32Value(-128)}, both("load8s", wasm.I32Value(16)))
	require.Equal(t, []wasm.Value{wasm.I32Value(128)}, both("load8u", wasm.I32Value(16)))
	require.Equal(t, []wasm.Value{wasm.I32Value(-32768)}, both("load16s", wasm.I32Value(18)))
	require.Equal(t, []wasm.Value{wasm.I32Value(32768)}, both("load16u", wasm.I32Value(18)))
	require.Equal(t, []wasm.Value{wasm.I32Value(-0x7FFFFF80)}, both("load32", wasm.I32Value(16)))

	// Narrow stores write only the low bits of the operand.
	both("store8", wasm.I32Value(3), wasm.I32Value(0x1FF))
	require.Equal(t, []wasm.Value{wasm.I32Value(0xFF)}, both("load8u", wasm.I32Value(3)))
	both("store16", wasm.I32Value(4), wasm.I32Value(-1))
	require.Equal(t, []wasm.Value{wasm.I32Value(0xFFFF)}, both("load16u", wasm.I32Value(4)))
	require.Equal(t, []wasm.Value{wasm.I32Value(-1)}, both("load16s", wasm.I32Value(4)))

	payload := math.Float64frombits(0x7ff80000deadbeef)
	results := both("roundtrip", wasm.F64Value(payload))
	require.Equal(t, uint64(0x7ff80000deadbeef), math.Float64bits(results[0].F64()))
}
