// Package leb128 decodes the variable-length integers used throughout the
// WebAssembly binary format.
package leb128

import (
	"fmt"
	"io"
)

// DecodeUint32 reads an unsigned 32-bit varint from r, returning the value
// and the number of bytes consumed.
func DecodeUint32(r io.Reader) (ret uint32, num uint64, err error) {
	for shift := 0; shift < 35; shift += 7 {
		b, err := readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= (uint32(b) & 0x7f) << shift
		if b&0x80 == 0 {
			return ret, num, nil
		}
	}
	return 0, 0, fmt.Errorf("overflows a 32-bit integer")
}

// DecodeInt32 reads a signed 32-bit varint from r.
func DecodeInt32(r io.Reader) (ret int32, num uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= (int32(b) & 0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 35 {
			return 0, 0, fmt.Errorf("overflows a 32-bit integer")
		}
	}

	// Sign-extend when the final group has its sign bit set.
	if shift < 32 && b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, num, nil
}

// DecodeInt33AsInt64 reads the signed 33-bit varint used to encode block
// types, widened to int64.
func DecodeInt33AsInt64(r io.Reader) (ret int64, num uint64, err error) {
	const (
		int33Max = 1<<33 - 1
		signBit  = 1 << 32
	)
	var shift int
	var b byte
	for {
		b, err = readByte(r)
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= (int64(b) & 0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 35 {
			return 0, 0, fmt.Errorf("overflows a 33-bit integer")
		}
	}

	if shift < 33 && b&0x40 != 0 {
		ret |= int33Max << shift
	}
	ret &= int33Max
	if ret&signBit != 0 {
		ret -= signBit << 1
	}
	return ret, num, nil
}

func readByte(r io.Reader) (byte, error) {
	b := make([]byte, 1)
	_, err := io.ReadFull(r, b)
	return b[0], err
}
