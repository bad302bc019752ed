package wasm

import (
	"fmt"
	"reflect"
)

// HostFunctionCallContext is the first argument of every host function,
// giving it access to the calling instance's memory during the call.
type HostFunctionCallContext struct {
	Memory *MemoryInstance
}

// HostFunctions is a registry of Go functions a module may import. Each
// function's signature is derived from its Go type: the first parameter
// must be *HostFunctionCallContext, and the remaining parameters and the
// optional single result map int32/uint32 to i32 and float64 to f64.
type HostFunctions struct {
	functions map[string]map[string]*FunctionInstance
}

func NewHostFunctions() *HostFunctions {
	return &HostFunctions{functions: map[string]map[string]*FunctionInstance{}}
}

// Register adds fn under the two-part import name (moduleName, fieldName).
func (h *HostFunctions) Register(moduleName, fieldName string, fn interface{}) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("host function %s.%s is a %s, not a func", moduleName, fieldName, v.Kind())
	}

	if _, ok := h.functions[moduleName][fieldName]; ok {
		return fmt.Errorf("name %s already exists in module %s", fieldName, moduleName)
	}

	sig, err := hostFunctionSignature(v.Type())
	if err != nil {
		return fmt.Errorf("invalid signature for %s.%s: %w", moduleName, fieldName, err)
	}

	if h.functions[moduleName] == nil {
		h.functions[moduleName] = map[string]*FunctionInstance{}
	}
	h.functions[moduleName][fieldName] = &FunctionInstance{
		Name:         fmt.Sprintf("%s.%s", moduleName, fieldName),
		Signature:    sig,
		HostFunction: &v,
	}
	return nil
}

func (h *HostFunctions) lookup(moduleName, fieldName string) (*FunctionInstance, bool) {
	f, ok := h.functions[moduleName][fieldName]
	return f, ok
}

var hostFunctionCallContextType = reflect.TypeOf(&HostFunctionCallContext{})

func hostFunctionSignature(p reflect.Type) (*FunctionType, error) {
	if p.NumIn() == 0 || p.In(0) != hostFunctionCallContextType {
		return nil, fmt.Errorf("the first param must be *wasm.HostFunctionCallContext")
	}

	in := make([]ValueType, p.NumIn()-1)
	for i := range in {
		t, err := hostValueType(p.In(i + 1).Kind())
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		in[i] = t
	}

	if p.NumOut() > 1 {
		return nil, fmt.Errorf("multi value results not supported")
	}
	out := make([]ValueType, p.NumOut())
	for i := range out {
		t, err := hostValueType(p.Out(i).Kind())
		if err != nil {
			return nil, fmt.Errorf("result: %w", err)
		}
		out[i] = t
	}
	return &FunctionType{Params: in, Results: out}, nil
}

func hostValueType(kind reflect.Kind) (ValueType, error) {
	switch kind {
	case reflect.Int32, reflect.Uint32:
		return ValueTypeI32, nil
	case reflect.Float64:
		return ValueTypeF64, nil
	default:
		return 0x00, fmt.Errorf("invalid type: %s", kind.String())
	}
}
