package wasm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// header is a well-formed magic number and version.
var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestDecodeModule_errors(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		is       error
		contains string
	}{
		{
			name:  "empty input",
			input: []byte{},
			is:    ErrInvalidMagicNumber,
		},
		{
			name:  "truncated magic",
			input: []byte{0x00, 0x61, 0x73},
			is:    ErrInvalidMagicNumber,
		},
		{
			name:  "wrong magic",
			input: []byte{'w', 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00},
			is:    ErrInvalidMagicNumber,
		},
		{
			name:  "wrong version",
			input: []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00},
			is:    ErrInvalidVersion,
		},
		{
			name:  "unknown section id",
			input: append(header, 0x0c, 0x00),
			is:    ErrInvalidSectionID,
		},
		{
			name: "section declares more bytes than it holds",
			input: append(header,
				0x01, 0x03, // type section, three bytes
				0x00,       // zero types
				0xff, 0xff, // never consumed
			),
			contains: "leftover bytes",
		},
		{
			name: "function section without code section",
			input: append(header,
				0x03, 0x02, 0x01, 0x00, // one function of type 0
			),
			contains: "inconsistent lengths",
		},
		{
			name: "two start sections",
			input: append(header,
				0x08, 0x01, 0x00,
				0x08, 0x01, 0x00,
			),
			contains: "multiple start sections",
		},
		{
			name: "duplicate export name",
			input: append(header,
				0x07, 0x09, 0x02, // export section, two entries
				0x01, 'a', 0x00, 0x00,
				0x01, 'a', 0x00, 0x00,
			),
			contains: "duplicate export name: a",
		},
		{
			name: "i64 parameter",
			input: append(header,
				0x01, 0x06, 0x01, 0x60, // type section, one type
				0x01, 0x7e, 0x01, 0x7f, // (i64) -> i32
			),
			is: ErrUnsupportedValueType,
		},
		{
			name: "two results",
			input: append(header,
				0x01, 0x06, 0x01,
				0x60, 0x00, 0x02, 0x7f, 0x7f, // () -> (i32, i32)
			),
			contains: "multi value results not supported",
		},
		{
			name: "i64 arithmetic in a body",
			input: append(header,
				0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // () -> ()
				0x03, 0x02, 0x01, 0x00,
				0x0a, 0x05, 0x01, // code section, one body
				0x03, 0x00, 0x7a, 0x0b,
			),
			is: ErrUnsupportedOpcode,
		},
		{
			name: "branch deeper than the open labels",
			input: append(header,
				0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
				0x03, 0x02, 0x01, 0x00,
				0x0a, 0x06, 0x01,
				0x04, 0x00, 0x0c, 0x01, 0x0b, // br 1; end
			),
			is: ErrInvalidBranchDepth,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeModule(tc.input)
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "expected a DecodeError, got %v", err)
			if tc.is != nil {
				require.True(t, errors.Is(err, tc.is), "got %v", err)
			}
			if tc.contains != "" {
				require.Contains(t, err.Error(), tc.contains)
			}
		})
	}
}

func TestDecodeModule_wellFormed(t *testing.T) {
	module, err := DecodeModule(append(header,
		0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f, // type section: (i32) -> i32
		0x03, 0x02, 0x01, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x01, // memory section: min 1, no max
		0x07, 0x07, 0x01,
		0x03, 'r', 'u', 'n', 0x00, 0x00, // export section: "run" -> function 0
		0x0a, 0x06, 0x01,
		0x04, 0x00, 0x20, 0x00, 0x0b, // code section: local.get 0; end
	))
	require.NoError(t, err)

	require.Len(t, module.TypeSection, 1)
	require.Equal(t, &FunctionType{
		Params:  []ValueType{ValueTypeI32},
		Results: []ValueType{ValueTypeI32},
	}, module.TypeSection[0])

	require.Equal(t, []uint32{0}, module.FunctionSection)

	require.Len(t, module.MemorySection, 1)
	require.Equal(t, uint32(1), module.MemorySection[0].Min)
	require.Nil(t, module.MemorySection[0].Max)

	exp, ok := module.ExportSection["run"]
	require.True(t, ok)
	require.Equal(t, ExportKindFunction, exp.Desc.Kind)
	require.Equal(t, uint32(0), exp.Desc.Index)

	require.Len(t, module.CodeSection, 1)
	code := module.CodeSection[0]
	require.Equal(t, []byte{0x20, 0x00, 0x0b}, code.Body)
	require.Zero(t, code.NumLocals)
	require.Empty(t, code.Blocks)
}

func TestDecodeModule_localsAndBlocks(t *testing.T) {
	module, err := DecodeModule(append(header,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
		0x03, 0x02, 0x01, 0x00,
		0x0a, 0x0a, 0x01, 0x08, // code section: one body of eight bytes
		0x01, 0x02, 0x7c,
		0x02, 0x40, 0x01, 0x0b, 0x0b, // two f64 locals; block; nop; end; end
	))
	require.NoError(t, err)

	code := module.CodeSection[0]
	require.Equal(t, uint32(2), code.NumLocals)
	require.Equal(t, []ValueType{ValueTypeF64, ValueTypeF64}, code.LocalTypes)

	// The decoder resolves the block so branches need no scanning later.
	require.Len(t, code.Blocks, 1)
	block := code.Blocks[0]
	require.NotNil(t, block)
	require.Equal(t, uint64(0), block.StartAt)
	require.Equal(t, uint64(3), block.EndAt)
	require.False(t, block.IsLoop)
	require.False(t, block.IsIf)
}

func TestModule_GetFunctionNames(t *testing.T) {
	t.Run("function name subsection", func(t *testing.T) {
		module, err := DecodeModule(append(header,
			0x00, 0x19, // custom section, 25 bytes
			0x04, 'n', 'a', 'm', 'e',
			0x00, 0x07, // module name subsection, skipped
			0x06, 's', 'i', 'm', 'p', 'l', 'e',
			0x01, 0x09, // function name subsection
			0x01,       // one entry
			0x00, 0x06, 'a', 'd', 'd', 'T', 'w', 'o',
		))
		require.NoError(t, err)

		names, err := module.GetFunctionNames()
		require.NoError(t, err)
		require.Equal(t, map[uint32]string{0: "addTwo"}, names)
	})

	t.Run("no name section", func(t *testing.T) {
		module, err := DecodeModule(header)
		require.NoError(t, err)

		_, err = module.GetFunctionNames()
		require.True(t, errors.Is(err, ErrCustomSectionNotFound))
	})
}
