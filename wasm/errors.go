package wasm

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidByte           = errors.New("invalid byte")
	ErrInvalidMagicNumber    = errors.New("invalid magic number")
	ErrInvalidVersion        = errors.New("invalid version header")
	ErrInvalidSectionID      = errors.New("invalid section id")
	ErrCustomSectionNotFound = errors.New("custom section not found")
	ErrUnsupportedOpcode     = errors.New("unsupported opcode")
	ErrUnsupportedValueType  = errors.New("unsupported value type")
	ErrInvalidBranchDepth    = errors.New("branch depth exceeds open labels")
)

// DecodeError reports a malformed or unsupported module image. The wrapped
// cause is reachable with errors.Is / errors.As.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode module: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// LinkError reports a failed instantiation: unresolvable or mismatched
// imports, invalid global initializers, oversized data segments or a bad
// start function.
type LinkError struct {
	Err error
}

func (e *LinkError) Error() string { return "link module: " + e.Err.Error() }
func (e *LinkError) Unwrap() error { return e.Err }

// CompileError reports that an engine cannot compile a function. Drivers
// treat it as a signal to fall back to interpretation, never as a verdict
// on the module.
type CompileError struct {
	Opcode byte
	Err    error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return "compile function: " + e.Err.Error()
	}
	return fmt.Sprintf("compile function: unsupported opcode %s", OpcodeName(e.Opcode))
}

func (e *CompileError) Unwrap() error { return e.Err }
