package wasm

// GlobalInstance is a single global. Field order matters: generated code
// reads Val at a fixed byte offset from the instance pointer.
type GlobalInstance struct {
	Type *GlobalType
	Val  uint64
}

// Value returns the current value tagged with the global's declared type.
func (g *GlobalInstance) Value() Value {
	return valueFromRaw(g.Val, g.Type.ValType)
}
