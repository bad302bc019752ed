// Package ieee754 reads the little-endian IEEE 754 encoding used for
// floating point immediates in the WebAssembly binary format.
package ieee754

import (
	"encoding/binary"
	"io"
	"math"
)

// DecodeFloat64 reads a 64-bit float from r without altering its bit pattern.
func DecodeFloat64(r io.Reader) (float64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}
