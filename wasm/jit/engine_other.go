//go:build !amd64
// +build !amd64

package jit

import "github.com/weewasm/weewasm/wasm"

// Only amd64 has a backend. Reporting the failure as a compile error lets
// drivers fall back to interpretation instead of aborting.
func newCompiler(eng *engine, f *wasm.FunctionInstance) (compiler, error) {
	return nil, &wasm.CompileError{Err: errUnsupportedHost}
}

func jitcall(codeSegment, engine, memory uintptr) {
	panic("unreachable: no compiler emitted code on this architecture")
}
