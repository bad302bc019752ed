package wasm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadImportSegment(t *testing.T) {
	t.Run("function import", func(t *testing.T) {
		is, err := readImportSegment(bytes.NewReader([]byte{
			0x03, 'e', 'n', 'v',
			0x04, 'p', 'u', 't', 'i',
			0x00, 0x05, // function, type 5
		}))
		require.NoError(t, err)
		require.Equal(t, "env", is.Module)
		require.Equal(t, "puti", is.Name)
		require.Equal(t, ImportKindFunction, is.Desc.Kind)
		require.NotNil(t, is.Desc.TypeIndexPtr)
		require.Equal(t, uint32(5), *is.Desc.TypeIndexPtr)
	})

	t.Run("memory import", func(t *testing.T) {
		is, err := readImportSegment(bytes.NewReader([]byte{
			0x01, 'e',
			0x01, 'm',
			0x02, 0x00, 0x01, // memory, min 1
		}))
		require.NoError(t, err)
		require.Equal(t, ImportKindMemory, is.Desc.Kind)
		require.NotNil(t, is.Desc.MemTypePtr)
		require.Equal(t, uint32(1), is.Desc.MemTypePtr.Min)
	})

	t.Run("invalid import kind", func(t *testing.T) {
		_, err := readImportSegment(bytes.NewReader([]byte{
			0x01, 'e',
			0x01, 'f',
			0x04, 0x00,
		}))
		require.True(t, errors.Is(err, ErrInvalidByte), "got %v", err)
	})
}

func TestReadExportDesc(t *testing.T) {
	t.Run("function", func(t *testing.T) {
		d, err := readExportDesc(bytes.NewReader([]byte{0x00, 0x03}))
		require.NoError(t, err)
		require.Equal(t, ExportKindFunction, d.Kind)
		require.Equal(t, uint32(3), d.Index)
	})

	t.Run("global", func(t *testing.T) {
		d, err := readExportDesc(bytes.NewReader([]byte{0x03, 0x00}))
		require.NoError(t, err)
		require.Equal(t, ExportKindGlobal, d.Kind)
	})

	t.Run("invalid kind", func(t *testing.T) {
		_, err := readExportDesc(bytes.NewReader([]byte{0x04, 0x00}))
		require.True(t, errors.Is(err, ErrInvalidByte), "got %v", err)
	})
}

func TestReadCodeSegment(t *testing.T) {
	t.Run("locals expand per vector entry", func(t *testing.T) {
		code, err := readCodeSegment(bytes.NewReader([]byte{
			0x06,       // code size
			0x02,       // two local vector entries
			0x02, 0x7f, // two i32
			0x01, 0x7c, // one f64
			OpcodeEnd,
		}))
		require.NoError(t, err)
		require.Equal(t, uint32(3), code.NumLocals)
		require.Equal(t, []ValueType{ValueTypeI32, ValueTypeI32, ValueTypeF64}, code.LocalTypes)
		require.Equal(t, []byte{OpcodeEnd}, code.Body)
	})

	t.Run("body must end with end", func(t *testing.T) {
		_, err := readCodeSegment(bytes.NewReader([]byte{
			0x03, 0x00, OpcodeI32Const, 0x00,
		}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not end with the end opcode")
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := readCodeSegment(bytes.NewReader([]byte{0x01, 0x00}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not end with the end opcode")
	})

	t.Run("i64 local", func(t *testing.T) {
		_, err := readCodeSegment(bytes.NewReader([]byte{
			0x04, 0x01, 0x01, 0x7e, OpcodeEnd,
		}))
		require.True(t, errors.Is(err, ErrUnsupportedValueType), "got %v", err)
	})
}

func TestReadDataSegment(t *testing.T) {
	t.Run("active segment", func(t *testing.T) {
		d, err := readDataSegment(bytes.NewReader([]byte{
			0x00,                         // memory 0
			OpcodeI32Const, 0x08, OpcodeEnd,
			0x03, 0xaa, 0xbb, 0xcc,
		}))
		require.NoError(t, err)
		require.Equal(t, OpcodeI32Const, d.OffsetExpression.Opcode)
		require.Equal(t, []byte{0xaa, 0xbb, 0xcc}, d.Init)
	})

	t.Run("nonzero memory index", func(t *testing.T) {
		_, err := readDataSegment(bytes.NewReader([]byte{
			0x01, OpcodeI32Const, 0x00, OpcodeEnd, 0x00,
		}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid memory index: 1")
	})
}

func TestReadElementSegment(t *testing.T) {
	t.Run("table zero", func(t *testing.T) {
		e, err := readElementSegment(bytes.NewReader([]byte{
			0x00,
			OpcodeI32Const, 0x00, OpcodeEnd,
			0x02, 0x04, 0x05,
		}))
		require.NoError(t, err)
		require.Equal(t, []uint32{4, 5}, e.Init)
	})

	t.Run("nonzero table index", func(t *testing.T) {
		_, err := readElementSegment(bytes.NewReader([]byte{
			0x01, OpcodeI32Const, 0x00, OpcodeEnd, 0x00,
		}))
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid table index: 1")
	})
}
