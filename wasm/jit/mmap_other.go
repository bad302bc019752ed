//go:build !darwin && !linux
// +build !darwin,!linux

package jit

import "github.com/weewasm/weewasm/wasm"

func mmapCodeSegment(code []byte) ([]byte, error) {
	return nil, &wasm.CompileError{Err: errUnsupportedHost}
}
