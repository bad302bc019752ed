package leb128

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUint32(t *testing.T) {
	for _, c := range []struct {
		bytes []byte
		exp   uint32
	}{
		{bytes: []byte{0x04}, exp: 4},
		{bytes: []byte{0x80, 0x7f}, exp: 16256},
		{bytes: []byte{0xe5, 0x8e, 0x26}, exp: 624485},
		{bytes: []byte{0x80, 0x80, 0x80, 0x4f}, exp: 165675008},
		{bytes: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, exp: 4294967295},
	} {
		actual, num, err := DecodeUint32(bytes.NewReader(c.bytes))
		require.NoError(t, err)
		assert.Equal(t, c.exp, actual)
		assert.Equal(t, uint64(len(c.bytes)), num)
	}
}

func TestDecodeInt32(t *testing.T) {
	for _, c := range []struct {
		bytes []byte
		exp   int32
	}{
		{bytes: []byte{0x00}, exp: 0},
		{bytes: []byte{0x04}, exp: 4},
		{bytes: []byte{0xff, 0x00}, exp: 127},
		{bytes: []byte{0x81, 0x01}, exp: 129},
		{bytes: []byte{0x7f}, exp: -1},
		{bytes: []byte{0x81, 0x7f}, exp: -127},
		{bytes: []byte{0xff, 0x7e}, exp: -129},
		{bytes: []byte{0x80, 0x80, 0x80, 0x80, 0x78}, exp: -2147483648},
	} {
		actual, num, err := DecodeInt32(bytes.NewReader(c.bytes))
		require.NoError(t, err)
		assert.Equal(t, c.exp, actual)
		assert.Equal(t, uint64(len(c.bytes)), num)
	}
}

func TestDecodeInt33AsInt64(t *testing.T) {
	for _, c := range []struct {
		bytes []byte
		exp   int64
	}{
		{bytes: []byte{0x00}, exp: 0},
		{bytes: []byte{0x04}, exp: 4},
		{bytes: []byte{0x40}, exp: -64},
		{bytes: []byte{0x7f}, exp: -1},
		{bytes: []byte{0x7e}, exp: -2},
		{bytes: []byte{0x7d}, exp: -3},
		{bytes: []byte{0x7c}, exp: -4},
		{bytes: []byte{0xff, 0x00}, exp: 127},
		{bytes: []byte{0x81, 0x01}, exp: 129},
		{bytes: []byte{0x81, 0x7f}, exp: -127},
		{bytes: []byte{0xff, 0x7e}, exp: -129},
	} {
		actual, num, err := DecodeInt33AsInt64(bytes.NewReader(c.bytes))
		require.NoError(t, err)
		assert.Equal(t, c.exp, actual)
		assert.Equal(t, uint64(len(c.bytes)), num)
	}
}

func TestDecode_malformed(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, _, err := DecodeUint32(bytes.NewReader(nil))
		require.True(t, errors.Is(err, io.EOF))
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := DecodeInt32(bytes.NewReader([]byte{0x80}))
		require.True(t, errors.Is(err, io.EOF))
	})

	t.Run("too many continuation bytes", func(t *testing.T) {
		cont := []byte{0x80, 0x80, 0x80, 0x80, 0x80}
		_, _, err := DecodeUint32(bytes.NewReader(cont))
		require.EqualError(t, err, "overflows a 32-bit integer")
		_, _, err = DecodeInt32(bytes.NewReader(cont))
		require.EqualError(t, err, "overflows a 32-bit integer")
		_, _, err = DecodeInt33AsInt64(bytes.NewReader(cont))
		require.EqualError(t, err, "overflows a 33-bit integer")
	})
}
