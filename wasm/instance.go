package wasm

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

type (
	// Instance is a module brought to life: linked imports, initialized
	// globals and memory, compiled functions and an export table. It is the
	// only handle to run or inspect the module; no state lives outside it.
	Instance struct {
		Module    *Module
		Functions []*FunctionInstance
		Globals   []*GlobalInstance
		Memory    *MemoryInstance
		Exports   map[string]*ExportInstance

		engine Engine
	}

	ExportInstance struct {
		Kind     ExportKind
		Function *FunctionInstance
		Global   *GlobalInstance
		Memory   *MemoryInstance
	}

	// FunctionInstance is one callable function. Host functions carry a
	// reflect value and no body; module functions carry the body and its
	// resolved control structure.
	FunctionInstance struct {
		Name         string
		Instance     *Instance
		Body         []byte
		Signature    *FunctionType
		NumLocals    uint32
		LocalTypes   []ValueType
		Blocks       map[uint64]*FunctionBlock
		HostFunction *reflect.Value
	}
)

// NewInstance links module against imports, initializes globals and memory,
// compiles every function on engine and runs the start function. Link
// failures return a *LinkError; a start function trap returns that trap.
func NewInstance(module *Module, imports *HostFunctions, engine Engine) (*Instance, error) {
	instance := &Instance{Module: module, engine: engine, Exports: map[string]*ExportInstance{}}

	if err := instance.resolveImports(imports); err != nil {
		return nil, &LinkError{Err: err}
	}
	if err := instance.buildGlobals(); err != nil {
		return nil, &LinkError{Err: fmt.Errorf("globals: %w", err)}
	}
	if err := instance.buildFunctions(); err != nil {
		return nil, &LinkError{Err: fmt.Errorf("functions: %w", err)}
	}
	if err := instance.buildMemory(); err != nil {
		return nil, &LinkError{Err: fmt.Errorf("memory: %w", err)}
	}
	if err := instance.buildExports(); err != nil {
		return nil, &LinkError{Err: fmt.Errorf("exports: %w", err)}
	}

	// Check the start function before compiling anything.
	if module.StartSection != nil {
		index := *module.StartSection
		if index >= uint32(len(instance.Functions)) {
			return nil, &LinkError{Err: fmt.Errorf("invalid start function index: %d", index)}
		}
		sig := instance.Functions[index].Signature
		if len(sig.Params) != 0 || len(sig.Results) != 0 {
			return nil, &LinkError{Err: fmt.Errorf("start function must have the empty signature")}
		}
	}

	if err := engine.PreCompile(instance.Functions); err != nil {
		return nil, fmt.Errorf("precompile: %w", err)
	}
	for i, f := range instance.Functions {
		if err := engine.Compile(f); err != nil {
			return nil, fmt.Errorf("compile function %d (%s): %w", i, f.Name, err)
		}
		Logger().Debug("compiled function", zap.Int("index", i), zap.String("name", f.Name))
	}

	// The start function runs to completion during instantiation; a trap
	// here aborts the whole instantiation.
	if module.StartSection != nil {
		f := instance.Functions[*module.StartSection]
		Logger().Debug("running start function", zap.String("name", f.Name))
		if _, err := engine.Call(f); err != nil {
			return nil, fmt.Errorf("start function failed: %w", err)
		}
	}
	return instance, nil
}

func (i *Instance) resolveImports(imports *HostFunctions) error {
	for _, is := range i.Module.ImportSection {
		if is.Desc.Kind != ImportKindFunction {
			return fmt.Errorf("import %s.%s: only function imports are supported", is.Module, is.Name)
		}
		if is.Desc.TypeIndexPtr == nil {
			return fmt.Errorf("import %s.%s: type index is invalid", is.Module, is.Name)
		}
		typeIndex := *is.Desc.TypeIndexPtr
		if typeIndex >= uint32(len(i.Module.TypeSection)) {
			return fmt.Errorf("import %s.%s: unknown type %d", is.Module, is.Name, typeIndex)
		}
		want := i.Module.TypeSection[typeIndex]

		if imports == nil {
			return fmt.Errorf("import %s.%s: no host functions provided", is.Module, is.Name)
		}
		hf, ok := imports.lookup(is.Module, is.Name)
		if !ok {
			return fmt.Errorf("import %s.%s: not provided", is.Module, is.Name)
		}
		if !hasSameSignature(want.Params, hf.Signature.Params) ||
			!hasSameSignature(want.Results, hf.Signature.Results) {
			return fmt.Errorf("import %s.%s: signature mismatch: %s != %s",
				is.Module, is.Name, want, hf.Signature)
		}

		// Each instance gets its own wrapper so host calls resolve this
		// instance's memory.
		i.Functions = append(i.Functions, &FunctionInstance{
			Name:         hf.Name,
			Instance:     i,
			Signature:    hf.Signature,
			HostFunction: hf.HostFunction,
		})
		Logger().Debug("resolved import", zap.String("module", is.Module), zap.String("name", is.Name))
	}
	return nil
}

func (i *Instance) buildGlobals() error {
	for idx, gs := range i.Module.GlobalSection {
		raw, t, err := evalConstExpression(i.Globals, gs.Init)
		if err != nil {
			return fmt.Errorf("global %d: %w", idx, err)
		}
		if gs.Type.ValType != t {
			return fmt.Errorf("global %d: initializer type %s does not match declared %s",
				idx, formatValueType(t), formatValueType(gs.Type.ValType))
		}
		i.Globals = append(i.Globals, &GlobalInstance{Type: gs.Type, Val: raw})
	}
	return nil
}

func (i *Instance) buildFunctions() error {
	names, _ := i.Module.GetFunctionNames()
	importCount := uint32(len(i.Functions))
	for codeIndex, typeIndex := range i.Module.FunctionSection {
		if typeIndex >= uint32(len(i.Module.TypeSection)) {
			return fmt.Errorf("function %d: type index out of range", codeIndex)
		}
		code := i.Module.CodeSection[codeIndex]

		name, ok := names[importCount+uint32(codeIndex)]
		if !ok {
			name = fmt.Sprintf("function[%d]", codeIndex)
		}
		i.Functions = append(i.Functions, &FunctionInstance{
			Name:       name,
			Instance:   i,
			Body:       code.Body,
			Signature:  i.Module.TypeSection[typeIndex],
			NumLocals:  code.NumLocals,
			LocalTypes: code.LocalTypes,
			Blocks:     code.Blocks,
		})
	}
	return nil
}

func (i *Instance) buildMemory() error {
	if len(i.Module.MemorySection) > 1 {
		return fmt.Errorf("multiple memories not supported")
	}
	for _, memSec := range i.Module.MemorySection {
		i.Memory = &MemoryInstance{
			Buffer: make([]byte, uint64(memSec.Min)*PageSize),
			Min:    memSec.Min,
			Max:    memSec.Max,
		}
	}

	for idx, d := range i.Module.DataSection {
		if i.Memory == nil {
			return fmt.Errorf("data segment %d: unknown memory", idx)
		}

		raw, t, err := evalConstExpression(i.Globals, d.OffsetExpression)
		if err != nil {
			return fmt.Errorf("data segment %d: calculate offset: %w", idx, err)
		}
		if t != ValueTypeI32 {
			return fmt.Errorf("data segment %d: offset is not i32 but %s", idx, formatValueType(t))
		}
		offset := int32(uint32(raw))
		if offset < 0 {
			return fmt.Errorf("data segment %d: offset must be non-negative: %d", idx, offset)
		}

		size := uint64(offset) + uint64(len(d.Init))
		if i.Memory.Max != nil && size > uint64(*i.Memory.Max)*PageSize {
			return fmt.Errorf("data segment %d: extends past the declared maximum", idx)
		}
		if size > uint64(len(i.Memory.Buffer)) {
			return fmt.Errorf("data segment %d: out of bounds memory access", idx)
		}
		copy(i.Memory.Buffer[offset:], d.Init)
	}
	return nil
}

func (i *Instance) buildExports() error {
	for name, exp := range i.Module.ExportSection {
		index := exp.Desc.Index
		switch exp.Desc.Kind {
		case ExportKindFunction:
			if index >= uint32(len(i.Functions)) {
				return fmt.Errorf("%s: unknown function %d", name, index)
			}
			i.Exports[name] = &ExportInstance{Kind: exp.Desc.Kind, Function: i.Functions[index]}
		case ExportKindGlobal:
			if index >= uint32(len(i.Globals)) {
				return fmt.Errorf("%s: unknown global %d", name, index)
			}
			i.Exports[name] = &ExportInstance{Kind: exp.Desc.Kind, Global: i.Globals[index]}
		case ExportKindMemory:
			if index != 0 || i.Memory == nil {
				return fmt.Errorf("%s: unknown memory %d", name, index)
			}
			i.Exports[name] = &ExportInstance{Kind: exp.Desc.Kind, Memory: i.Memory}
		case ExportKindTable:
			return fmt.Errorf("%s: table exports are not supported", name)
		}
	}
	return nil
}

// Call runs the exported function name with params, returning its results
// tagged with the declared result types.
func (i *Instance) Call(name string, params ...Value) ([]Value, error) {
	exp, ok := i.Exports[name]
	if !ok {
		return nil, fmt.Errorf("%q is not exported", name)
	}
	if exp.Kind != ExportKindFunction {
		return nil, fmt.Errorf("%q is not an exported function", name)
	}

	f := exp.Function
	if len(f.Signature.Params) != len(params) {
		return nil, fmt.Errorf("%q expects %d arguments, got %d", name, len(f.Signature.Params), len(params))
	}
	args := make([]uint64, len(params))
	for idx, p := range params {
		want := f.Signature.Params[idx]
		if (want == ValueTypeI32) != (p.Kind() == ValueKindI32) {
			return nil, fmt.Errorf("argument %d of %q must be %s", idx, name, formatValueType(want))
		}
		args[idx] = p.raw()
	}

	raws, err := i.engine.Call(f, args...)
	if err != nil {
		return nil, err
	}

	results := make([]Value, len(f.Signature.Results))
	for idx := range results {
		results[idx] = valueFromRaw(raws[idx], f.Signature.Results[idx])
	}
	return results, nil
}

// ExportedMemory returns the memory exported under name, for reading after
// a run.
func (i *Instance) ExportedMemory(name string) (*MemoryInstance, bool) {
	exp, ok := i.Exports[name]
	if !ok || exp.Kind != ExportKindMemory {
		return nil, false
	}
	return exp.Memory, true
}

// ExportedGlobal returns the current value of the global exported under
// name.
func (i *Instance) ExportedGlobal(name string) (Value, bool) {
	exp, ok := i.Exports[name]
	if !ok || exp.Kind != ExportKindGlobal {
		return Value{}, false
	}
	return exp.Global.Value(), true
}
