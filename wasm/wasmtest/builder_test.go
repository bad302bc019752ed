package wasmtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weewasm/weewasm/wasm"
)

func TestUleb(t *testing.T) {
	for _, c := range []struct {
		in  uint32
		exp []byte
	}{
		{in: 0, exp: []byte{0x00}},
		{in: 4, exp: []byte{0x04}},
		{in: 128, exp: []byte{0x80, 0x01}},
		{in: 624485, exp: []byte{0xe5, 0x8e, 0x26}},
		{in: 0xffffffff, exp: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	} {
		require.Equal(t, c.exp, Uleb(c.in), "%d", c.in)
	}
}

func TestSleb(t *testing.T) {
	for _, c := range []struct {
		in  int32
		exp []byte
	}{
		{in: 0, exp: []byte{0x00}},
		{in: -1, exp: []byte{0x7f}},
		{in: 63, exp: []byte{0x3f}},
		{in: 64, exp: []byte{0xc0, 0x00}},
		{in: -64, exp: []byte{0x40}},
		{in: -65, exp: []byte{0xbf, 0x7f}},
		{in: -2147483648, exp: []byte{0x80, 0x80, 0x80, 0x80, 0x78}},
	} {
		require.Equal(t, c.exp, Sleb(c.in), "%d", c.in)
	}
}

func TestConstFragments(t *testing.T) {
	require.Equal(t, []byte{wasm.OpcodeI32Const, 0x7f}, I32Const(-1))
	require.Equal(t, []byte{wasm.OpcodeI32Const, 0xe5, 0x00}, I32Const(101))
	require.Equal(t,
		[]byte{wasm.OpcodeF64Const, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x3f},
		F64Const(1.0))
	require.Equal(t,
		[]byte{wasm.OpcodeLocalGet, 0x00, wasm.OpcodeDrop, wasm.OpcodeEnd},
		Body([]byte{wasm.OpcodeLocalGet, 0x00}, []byte{wasm.OpcodeDrop}, []byte{wasm.OpcodeEnd}))
}

// TestBuild decodes a module touching every section the builder can emit,
// keeping the other test suites honest about the binaries they feed in.
func TestBuild(t *testing.T) {
	i32 := []wasm.ValueType{wasm.ValueTypeI32}

	m := NewModule()
	emptyType := m.AddType(nil, nil)
	runType := m.AddType(i32, i32)
	imported := m.AddImport("env", "tick", emptyType)
	run := m.AddFunctionWithLocals(runType, []wasm.ValueType{wasm.ValueTypeF64}, Body(
		[]byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeNop, wasm.OpcodeEnd},
		I32Const(42),
		[]byte{wasm.OpcodeEnd},
	))
	max := uint32(2)
	m.AddMemory(1, &max)
	g := m.AddGlobal(wasm.ValueTypeI32, true, I32Const(7))
	m.AddData(I32Const(16), []byte{0xde, 0xad})
	m.SetStart(imported)
	m.ExportFunction("run", run)
	m.ExportGlobal("g", g)
	m.ExportMemory("memory")

	module, err := wasm.DecodeModule(m.Build())
	require.NoError(t, err)

	require.Len(t, module.TypeSection, 2)
	require.Equal(t, &wasm.FunctionType{}, module.TypeSection[emptyType])
	require.Equal(t, &wasm.FunctionType{Params: i32, Results: i32}, module.TypeSection[runType])

	require.Len(t, module.ImportSection, 1)
	require.Equal(t, "env", module.ImportSection[0].Module)
	require.Equal(t, "tick", module.ImportSection[0].Name)
	require.Equal(t, emptyType, *module.ImportSection[0].Desc.TypeIndexPtr)

	require.Equal(t, []uint32{runType}, module.FunctionSection)
	require.Len(t, module.CodeSection, 1)
	require.Equal(t, uint32(1), module.CodeSection[0].NumLocals)
	require.Equal(t, []wasm.ValueType{wasm.ValueTypeF64}, module.CodeSection[0].LocalTypes)
	require.Len(t, module.CodeSection[0].Blocks, 1)

	require.Equal(t, uint32(1), module.MemorySection[0].Min)
	require.Equal(t, uint32(2), *module.MemorySection[0].Max)

	require.Len(t, module.GlobalSection, 1)
	require.True(t, module.GlobalSection[0].Type.Mutable)
	require.Equal(t, wasm.OpcodeI32Const, module.GlobalSection[0].Init.Opcode)

	require.NotNil(t, module.StartSection)
	require.Equal(t, imported, *module.StartSection)

	require.Len(t, module.DataSection, 1)
	require.Equal(t, []byte{0xde, 0xad}, module.DataSection[0].Init)

	require.Len(t, module.ExportSection, 3)
	require.Equal(t, wasm.ExportKindFunction, module.ExportSection["run"].Desc.Kind)
	require.Equal(t, run, module.ExportSection["run"].Desc.Index)
	require.Equal(t, wasm.ExportKindMemory, module.ExportSection["memory"].Desc.Kind)
}
