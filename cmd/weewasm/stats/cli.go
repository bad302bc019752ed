package stats

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"

	"github.com/weewasm/weewasm/wasm"
	"github.com/weewasm/weewasm/wasm/leb128"
)

// row is one function's static metrics. The breakdown buckets cover the
// supported instruction set.
type row struct {
	Function     string `csv:"function"`
	Funcidx      int    `csv:"funcidx"`
	In           int    `csv:"in"`
	Out          int    `csv:"out"`
	LocalCount   int    `csv:"local count"`
	BodyBytes    int    `csv:"body bytes"`
	LabelCount   int    `csv:"label count"`
	MaxNesting   int    `csv:"max nesting"`
	Instructions int    `csv:"instruction count"`
	Branches     int    `csv:"branches"`
	Calls        int    `csv:"calls"`
	LocalOps     int    `csv:"local ops"`
	GlobalOps    int    `csv:"global ops"`
	Loads        int    `csv:"loads"`
	Stores       int    `csv:"stores"`
	Consts       int    `csv:"consts"`
	I32Ops       int    `csv:"i32 ops"`
	F64Ops       int    `csv:"f64 ops"`
	Conversions  int    `csv:"conversions"`
}

// skipVarint advances past one LEB128-encoded immediate. Signed and
// unsigned encodings share the continuation bit.
func skipVarint(body []byte, pc int) int {
	for pc < len(body) && body[pc]&0x80 != 0 {
		pc++
	}
	return pc + 1
}

func analyzeFunction(name string, funcidx int, sig *wasm.FunctionType, code *wasm.CodeSegment) (*row, error) {
	r := &row{
		Function:   name,
		Funcidx:    funcidx,
		In:         len(sig.Params),
		Out:        len(sig.Results),
		LocalCount: int(code.NumLocals),
		BodyBytes:  len(code.Body),
		LabelCount: len(code.Blocks),
	}

	body := code.Body
	depth := 0
	for pc := 0; pc < len(body); {
		op := body[pc]
		pc++
		r.Instructions++

		switch op {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			depth++
			if depth > r.MaxNesting {
				r.MaxNesting = depth
			}
			pc++ // block type
		case wasm.OpcodeEnd:
			if depth > 0 {
				depth--
			}
		case wasm.OpcodeBr, wasm.OpcodeBrIf:
			r.Branches++
			pc = skipVarint(body, pc)
		case wasm.OpcodeBrTable:
			r.Branches++
			count, num, err := leb128.DecodeUint32(bytes.NewReader(body[pc:]))
			if err != nil {
				return nil, fmt.Errorf("br_table at %#x: %w", pc-1, err)
			}
			pc += int(num)
			for i := uint32(0); i <= count; i++ {
				pc = skipVarint(body, pc)
			}
		case wasm.OpcodeCall:
			r.Calls++
			pc = skipVarint(body, pc)
		case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
			r.LocalOps++
			pc = skipVarint(body, pc)
		case wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
			r.GlobalOps++
			pc = skipVarint(body, pc)
		case wasm.OpcodeI32Load, wasm.OpcodeF64Load, wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U,
			wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U:
			r.Loads++
			pc = skipVarint(body, skipVarint(body, pc))
		case wasm.OpcodeI32Store, wasm.OpcodeF64Store, wasm.OpcodeI32Store8, wasm.OpcodeI32Store16:
			r.Stores++
			pc = skipVarint(body, skipVarint(body, pc))
		case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
			pc++ // reserved byte
		case wasm.OpcodeI32Const:
			r.Consts++
			pc = skipVarint(body, pc)
		case wasm.OpcodeF64Const:
			r.Consts++
			pc += 8
		case wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U,
			wasm.OpcodeF64ConvertI32S, wasm.OpcodeF64ConvertI32U:
			r.Conversions++
		default:
			switch {
			case op >= wasm.OpcodeI32Eqz && op <= wasm.OpcodeI32GeU:
				r.I32Ops++
			case op >= wasm.OpcodeI32Clz && op <= wasm.OpcodeI32Rotr:
				r.I32Ops++
			case op == wasm.OpcodeI32Extend8S || op == wasm.OpcodeI32Extend16S:
				r.I32Ops++
			case op >= wasm.OpcodeF64Eq && op <= wasm.OpcodeF64Ge:
				r.F64Ops++
			case op >= wasm.OpcodeF64Abs && op <= wasm.OpcodeF64Copysign:
				r.F64Ops++
			}
		}
	}
	return r, nil
}

// functionName prefers the name section, then an export name, then the
// engine's positional name.
func functionName(module *wasm.Module, names map[uint32]string, funcidx uint32) string {
	if name, ok := names[funcidx]; ok {
		return name
	}
	for _, exp := range module.ExportSection {
		if exp.Desc.Kind == wasm.ExportKindFunction && exp.Desc.Index == funcidx {
			return exp.Name
		}
	}
	return fmt.Sprintf("function[%d]", funcidx)
}

func dumpStats(w io.Writer, module *wasm.Module) error {
	names, err := module.GetFunctionNames()
	if err != nil && !errors.Is(err, wasm.ErrCustomSectionNotFound) {
		return err
	}

	importedFunctions := 0
	for _, imp := range module.ImportSection {
		if imp.Desc.Kind == wasm.ImportKindFunction {
			importedFunctions++
		}
	}

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	encoder := csvutil.NewEncoder(csvWriter)
	for i, code := range module.CodeSection {
		funcidx := importedFunctions + i
		sig := module.TypeSection[module.FunctionSection[i]]
		r, err := analyzeFunction(functionName(module, names, uint32(funcidx)), funcidx, sig, code)
		if err != nil {
			return err
		}
		if err := encoder.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func Command() *cobra.Command {
	command := &cobra.Command{
		Use:   "stats [path to module]",
		Short: "Dump per-function static metrics",
		Long:  "Dump per-function static metrics of a WebAssembly module in CSV format.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			binary, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			module, err := wasm.DecodeModule(binary)
			if err != nil {
				return err
			}

			return dumpStats(os.Stdout, module)
		},
	}

	return command
}
