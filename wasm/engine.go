package wasm

// Engine executes function instances. Both the interpreter and the native
// compiler implement it, and a module behaves identically under either:
// bit-identical results, the same traps, and the same host call sequence.
type Engine interface {
	// Call invokes a function instance f with the given raw arguments.
	Call(f *FunctionInstance, args ...uint64) (returns []uint64, err error)
	// Compile prepares f for execution. A *CompileError reports that the
	// engine cannot handle the function; drivers may then retry on the
	// interpreter.
	Compile(f *FunctionInstance) error
	// PreCompile registers all function instances of a module before any
	// Compile call, so call sites can refer to functions not yet compiled.
	PreCompile(fs []*FunctionInstance) error
}
