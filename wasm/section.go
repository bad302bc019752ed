package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/weewasm/weewasm/wasm/leb128"
)

type SectionID byte

const (
	SectionIDCustom   SectionID = 0
	SectionIDType     SectionID = 1
	SectionIDImport   SectionID = 2
	SectionIDFunction SectionID = 3
	SectionIDTable    SectionID = 4
	SectionIDMemory   SectionID = 5
	SectionIDGlobal   SectionID = 6
	SectionIDExport   SectionID = 7
	SectionIDStart    SectionID = 8
	SectionIDElement  SectionID = 9
	SectionIDCode     SectionID = 10
	SectionIDData     SectionID = 11
)

func (m *Module) readSections(r io.Reader) error {
	for {
		if err := m.readSection(r); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func (m *Module) readSection(r io.Reader) error {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("read section id: %w", err)
	}

	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of section for id=%d: %w", SectionID(b[0]), err)
	}

	// Hold each section to its declared size so a reader overrun inside one
	// section cannot consume the next.
	sr := &io.LimitedReader{R: r, N: int64(ss)}

	switch SectionID(b[0]) {
	case SectionIDCustom:
		err = m.readSectionCustom(sr)
	case SectionIDType:
		err = m.readSectionTypes(sr)
	case SectionIDImport:
		err = m.readSectionImports(sr)
	case SectionIDFunction:
		err = m.readSectionFunctions(sr)
	case SectionIDTable:
		err = m.readSectionTables(sr)
	case SectionIDMemory:
		err = m.readSectionMemories(sr)
	case SectionIDGlobal:
		err = m.readSectionGlobals(sr)
	case SectionIDExport:
		err = m.readSectionExports(sr)
	case SectionIDStart:
		err = m.readSectionStart(sr)
	case SectionIDElement:
		err = m.readSectionElement(sr)
	case SectionIDCode:
		err = m.readSectionCodes(sr)
	case SectionIDData:
		err = m.readSectionData(sr)
	default:
		err = ErrInvalidSectionID
	}

	if err == nil {
		// The declared size must have been consumed exactly.
		if n, _ := io.Copy(io.Discard, sr); n != 0 {
			err = fmt.Errorf("%d leftover bytes", n)
		}
	}

	if err != nil {
		return fmt.Errorf("read section for %d: %w", SectionID(b[0]), err)
	}
	return nil
}

func (m *Module) readSectionCustom(r *io.LimitedReader) error {
	name, err := readNameValue(r)
	if err != nil {
		return fmt.Errorf("read custom section name: %w", err)
	}

	data := make([]byte, r.N)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read custom section data: %w", err)
	}
	m.CustomSections[name] = data
	return nil
}

func (m *Module) readSectionTypes(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.TypeSection = make([]*FunctionType, vs)
	for i := range m.TypeSection {
		m.TypeSection[i], err = readFunctionType(r)
		if err != nil {
			return fmt.Errorf("read %d-th function type: %w", i, err)
		}
	}
	return nil
}

func (m *Module) readSectionImports(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.ImportSection = make([]*ImportSegment, vs)
	for i := range m.ImportSection {
		m.ImportSection[i], err = readImportSegment(r)
		if err != nil {
			return fmt.Errorf("read import: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionFunctions(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.FunctionSection = make([]uint32, vs)
	for i := range m.FunctionSection {
		m.FunctionSection[i], _, err = leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("get typeidx: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionTables(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.TableSection = make([]*TableType, vs)
	for i := range m.TableSection {
		m.TableSection[i], err = readTableType(r)
		if err != nil {
			return fmt.Errorf("read table type: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionMemories(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.MemorySection = make([]*MemoryType, vs)
	for i := range m.MemorySection {
		m.MemorySection[i], err = readMemoryType(r)
		if err != nil {
			return fmt.Errorf("read memory type: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionGlobals(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.GlobalSection = make([]*GlobalSegment, vs)
	for i := range m.GlobalSection {
		m.GlobalSection[i], err = readGlobalSegment(r)
		if err != nil {
			return fmt.Errorf("read global segment: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionExports(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.ExportSection = make(map[string]*ExportSegment, vs)
	for i := uint32(0); i < vs; i++ {
		expDesc, err := readExportSegment(r)
		if err != nil {
			return fmt.Errorf("read export: %w", err)
		}
		if _, ok := m.ExportSection[expDesc.Name]; ok {
			return fmt.Errorf("duplicate export name: %s", expDesc.Name)
		}
		m.ExportSection[expDesc.Name] = expDesc
	}
	return nil
}

func (m *Module) readSectionStart(r io.Reader) error {
	if m.StartSection != nil {
		return fmt.Errorf("multiple start sections are invalid")
	}

	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("read function index: %w", err)
	}
	m.StartSection = &vs
	return nil
}

func (m *Module) readSectionElement(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.ElementSection = make([]*ElementSegment, vs)
	for i := range m.ElementSection {
		m.ElementSection[i], err = readElementSegment(r)
		if err != nil {
			return fmt.Errorf("read element: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionCodes(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.CodeSection = make([]*CodeSegment, vs)
	for i := range m.CodeSection {
		m.CodeSection[i], err = readCodeSegment(r)
		if err != nil {
			return fmt.Errorf("read code segment: %w", err)
		}
	}
	return nil
}

func (m *Module) readSectionData(r io.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}

	m.DataSection = make([]*DataSegment, vs)
	for i := range m.DataSection {
		m.DataSection[i], err = readDataSegment(r)
		if err != nil {
			return fmt.Errorf("read data segment: %w", err)
		}
	}
	return nil
}
