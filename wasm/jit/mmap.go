//go:build darwin || linux
// +build darwin linux

package jit

import (
	"fmt"
	"syscall"
)

// mmapCodeSegment copies the assembled machine code into a page-aligned
// executable mapping. Go heap memory is never executable, so generated
// code needs its own mapping for jitcall to jump into.
func mmapCodeSegment(code []byte) ([]byte, error) {
	mapped, err := syscall.Mmap(
		-1,
		0,
		len(code),
		syscall.PROT_READ|syscall.PROT_WRITE|syscall.PROT_EXEC,
		syscall.MAP_PRIVATE|syscall.MAP_ANON,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap code segment: %w", err)
	}
	copy(mapped, code)
	return mapped, nil
}
