package jit

import (
	"fmt"
	"runtime"
)

var errUnsupportedHost = fmt.Errorf("native compilation is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)

// compiler is the architecture specific part of the engine. It walks one
// function body and produces the native code plus the highest stack slot
// the code can touch.
type compiler interface {
	// emitPreamble is called once before the body walk. It zeroes the
	// non-parameter locals and initializes the reserved registers.
	emitPreamble()
	// compile walks the function body and emits code for every
	// instruction. An instruction the compiler cannot handle is reported
	// as a *wasm.CompileError.
	compile() error
	// generate assembles the emitted instructions into an executable code
	// segment.
	generate() (code []byte, maxStackPointer uint64, err error)
}
