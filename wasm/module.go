package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/weewasm/weewasm/wasm/leb128"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6d}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// Module is the static, decoded form of a binary image. It is immutable
// once DecodeModule returns and may back any number of instances.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*ImportSegment
	FunctionSection []uint32
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*GlobalSegment
	ExportSection   map[string]*ExportSegment
	StartSection    *uint32
	ElementSection  []*ElementSegment
	CodeSection     []*CodeSegment
	DataSection     []*DataSegment
	CustomSections  map[string][]byte
}

// DecodeModule decodes a binary image into its typed in-memory form. The
// pass is structural: section framing, varints, value types, the supported
// instruction set and branch depths are checked, but operand types are not.
// Any failure is a *DecodeError.
func DecodeModule(binary []byte) (*Module, error) {
	m, err := decodeModule(binary)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return m, nil
}

func decodeModule(binary []byte) (*Module, error) {
	r := bytes.NewReader(binary)

	// Magic number.
	buf := make([]byte, 4)
	if n, err := io.ReadFull(r, buf); err != nil || n != 4 || !bytes.Equal(buf, magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if n, err := io.ReadFull(r, buf); err != nil || n != 4 || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	ret := &Module{CustomSections: map[string][]byte{}}
	if err := ret.readSections(r); err != nil {
		return nil, fmt.Errorf("readSections failed: %w", err)
	}

	if len(ret.FunctionSection) != len(ret.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths")
	}

	// Resolve control structure up front so branches are O(1) at run time.
	for i, code := range ret.CodeSection {
		blocks, err := resolveBlocks(code.Body)
		if err != nil {
			return nil, fmt.Errorf("resolve control structure of function %d: %w", i, err)
		}
		code.Blocks = blocks
	}
	return ret, nil
}

// GetFunctionNames parses the function name subsection of the "name" custom
// section. Returns ErrCustomSectionNotFound when absent.
func (m *Module) GetFunctionNames() (map[uint32]string, error) {
	namesec, ok := m.CustomSections["name"]
	if !ok {
		return nil, fmt.Errorf("'name' %w", ErrCustomSectionNotFound)
	}

	r := bytes.NewReader(namesec)
	for {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read subsection ID: %w", err)
		}

		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read the size of subsection %d: %w", id, err)
		}

		if id == 1 {
			// ID = 1 is the function name subsection.
			break
		}
		if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip subsection %d: %w", id, err)
		}
	}

	nameVectorSize, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read the size of name vector: %w", err)
	}

	ret := make(map[uint32]string, nameVectorSize)
	for i := uint32(0); i < nameVectorSize; i++ {
		functionIndex, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read function index: %w", err)
		}

		name, err := readNameValue(r)
		if err != nil {
			return nil, fmt.Errorf("read function name: %w", err)
		}
		ret[functionIndex] = name
	}

	return ret, nil
}
