// Package wasmtest assembles binary modules for tests. The builder mirrors
// the section layout DecodeModule expects, so tests can express a module as
// a few calls instead of a hand-counted byte soup.
package wasmtest

import (
	"encoding/binary"
	"math"

	"github.com/weewasm/weewasm/wasm"
)

// Uleb encodes v as an unsigned LEB128 varint.
func Uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// Sleb encodes v as a signed LEB128 varint.
func Sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// I32Const returns the i32.const instruction for v.
func I32Const(v int32) []byte {
	return append([]byte{wasm.OpcodeI32Const}, Sleb(v)...)
}

// F64Const returns the f64.const instruction for v, keeping the exact bit
// pattern.
func F64Const(v float64) []byte {
	out := make([]byte, 9)
	out[0] = wasm.OpcodeF64Const
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

// Body concatenates instruction fragments into one function body.
func Body(frags ...[]byte) []byte {
	var out []byte
	for _, f := range frags {
		out = append(out, f...)
	}
	return out
}

// ModuleBuilder accumulates sections and renders them in the order the
// binary format prescribes. The zero value is not usable; call NewModule.
type ModuleBuilder struct {
	types   [][]byte
	imports [][]byte
	funcs   [][]byte
	memory  []byte
	globals [][]byte
	exports [][]byte
	start   []byte
	codes   [][]byte
	data    [][]byte

	importCount uint32
	funcCount   uint32
}

func NewModule() *ModuleBuilder {
	return &ModuleBuilder{}
}

// AddType registers a function signature and returns its type index.
func (m *ModuleBuilder) AddType(params, results []wasm.ValueType) uint32 {
	enc := []byte{0x60}
	enc = append(enc, Uleb(uint32(len(params)))...)
	for _, p := range params {
		enc = append(enc, byte(p))
	}
	enc = append(enc, Uleb(uint32(len(results)))...)
	for _, r := range results {
		enc = append(enc, byte(r))
	}
	m.types = append(m.types, enc)
	return uint32(len(m.types) - 1)
}

// AddImport declares a function import and returns its function index.
// Imports claim the low function indexes, so they must be added before any
// AddFunction call.
func (m *ModuleBuilder) AddImport(module, field string, typeIndex uint32) uint32 {
	enc := name(module)
	enc = append(enc, name(field)...)
	enc = append(enc, 0x00)
	enc = append(enc, Uleb(typeIndex)...)
	m.imports = append(m.imports, enc)
	m.importCount++
	return m.importCount - 1
}

// AddFunction declares a function with the given signature and body and
// returns its function index. The body must already end with the end opcode.
func (m *ModuleBuilder) AddFunction(typeIndex uint32, body []byte) uint32 {
	return m.AddFunctionWithLocals(typeIndex, nil, body)
}

// AddFunctionWithLocals is AddFunction with declared locals, one vector
// entry per type.
func (m *ModuleBuilder) AddFunctionWithLocals(typeIndex uint32, locals []wasm.ValueType, body []byte) uint32 {
	m.funcs = append(m.funcs, Uleb(typeIndex))

	code := Uleb(uint32(len(locals)))
	for _, l := range locals {
		code = append(code, 0x01, byte(l))
	}
	code = append(code, body...)
	m.codes = append(m.codes, append(Uleb(uint32(len(code))), code...))

	m.funcCount++
	return m.importCount + m.funcCount - 1
}

// AddMemory declares the module memory. max may be nil for no maximum.
func (m *ModuleBuilder) AddMemory(min uint32, max *uint32) *ModuleBuilder {
	enc := []byte{0x00}
	if max != nil {
		enc = []byte{0x01}
	}
	enc = append(enc, Uleb(min)...)
	if max != nil {
		enc = append(enc, Uleb(*max)...)
	}
	m.memory = enc
	return m
}

// AddGlobal declares a global initialized by initExpr, which the builder
// terminates with the end opcode. Returns the global index.
func (m *ModuleBuilder) AddGlobal(valType wasm.ValueType, mutable bool, initExpr []byte) uint32 {
	enc := []byte{byte(valType), 0x00}
	if mutable {
		enc[1] = 0x01
	}
	enc = append(enc, initExpr...)
	enc = append(enc, wasm.OpcodeEnd)
	m.globals = append(m.globals, enc)
	return uint32(len(m.globals) - 1)
}

// AddData declares an active data segment at the offset computed by
// offsetExpr, which the builder terminates with the end opcode.
func (m *ModuleBuilder) AddData(offsetExpr, init []byte) *ModuleBuilder {
	enc := []byte{0x00}
	enc = append(enc, offsetExpr...)
	enc = append(enc, wasm.OpcodeEnd)
	enc = append(enc, Uleb(uint32(len(init)))...)
	enc = append(enc, init...)
	m.data = append(m.data, enc)
	return m
}

// SetStart marks the function at index as the start function.
func (m *ModuleBuilder) SetStart(index uint32) *ModuleBuilder {
	m.start = Uleb(index)
	return m
}

func (m *ModuleBuilder) ExportFunction(exportName string, index uint32) *ModuleBuilder {
	return m.export(exportName, 0x00, index)
}

func (m *ModuleBuilder) ExportMemory(exportName string) *ModuleBuilder {
	return m.export(exportName, 0x02, 0)
}

func (m *ModuleBuilder) ExportGlobal(exportName string, index uint32) *ModuleBuilder {
	return m.export(exportName, 0x03, index)
}

func (m *ModuleBuilder) export(exportName string, kind byte, index uint32) *ModuleBuilder {
	enc := name(exportName)
	enc = append(enc, kind)
	enc = append(enc, Uleb(index)...)
	m.exports = append(m.exports, enc)
	return m
}

// Build renders the binary image.
func (m *ModuleBuilder) Build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = appendVectorSection(out, 1, m.types)
	out = appendVectorSection(out, 2, m.imports)
	out = appendVectorSection(out, 3, m.funcs)
	if m.memory != nil {
		out = appendVectorSection(out, 5, [][]byte{m.memory})
	}
	out = appendVectorSection(out, 6, m.globals)
	out = appendVectorSection(out, 7, m.exports)
	if m.start != nil {
		out = appendSection(out, 8, m.start)
	}
	out = appendVectorSection(out, 10, m.codes)
	out = appendVectorSection(out, 11, m.data)
	return out
}

func appendVectorSection(out []byte, id byte, entries [][]byte) []byte {
	if len(entries) == 0 {
		return out
	}
	content := Uleb(uint32(len(entries)))
	for _, e := range entries {
		content = append(content, e...)
	}
	return appendSection(out, id, content)
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = append(out, Uleb(uint32(len(content)))...)
	return append(out, content...)
}

func name(s string) []byte {
	return append(Uleb(uint32(len(s))), s...)
}
