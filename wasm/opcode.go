package wasm

import "fmt"

// Opcode is a single-byte instruction code. The constants below are the
// complete instruction set this runtime accepts; the decoder rejects
// anything else, including every i64- and f32-typed instruction.
type Opcode = byte

const (
	// Control.
	OpcodeUnreachable Opcode = 0x00
	OpcodeNop         Opcode = 0x01
	OpcodeBlock       Opcode = 0x02
	OpcodeLoop        Opcode = 0x03
	OpcodeIf          Opcode = 0x04
	OpcodeElse        Opcode = 0x05
	OpcodeEnd         Opcode = 0x0b
	OpcodeBr          Opcode = 0x0c
	OpcodeBrIf        Opcode = 0x0d
	OpcodeBrTable     Opcode = 0x0e
	OpcodeReturn      Opcode = 0x0f
	OpcodeCall        Opcode = 0x10
	OpcodeDrop        Opcode = 0x1a
	OpcodeSelect      Opcode = 0x1b

	// Variables.
	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24

	// Memory.
	OpcodeI32Load    Opcode = 0x28
	OpcodeF64Load    Opcode = 0x2b
	OpcodeI32Load8S  Opcode = 0x2c
	OpcodeI32Load8U  Opcode = 0x2d
	OpcodeI32Load16S Opcode = 0x2e
	OpcodeI32Load16U Opcode = 0x2f
	OpcodeI32Store   Opcode = 0x36
	OpcodeF64Store   Opcode = 0x39
	OpcodeI32Store8  Opcode = 0x3a
	OpcodeI32Store16 Opcode = 0x3b
	OpcodeMemorySize Opcode = 0x3f
	OpcodeMemoryGrow Opcode = 0x40

	// Constants.
	OpcodeI32Const Opcode = 0x41
	OpcodeF64Const Opcode = 0x44

	// 32-bit integer comparisons.
	OpcodeI32Eqz Opcode = 0x45
	OpcodeI32Eq  Opcode = 0x46
	OpcodeI32Ne  Opcode = 0x47
	OpcodeI32LtS Opcode = 0x48
	OpcodeI32LtU Opcode = 0x49
	OpcodeI32GtS Opcode = 0x4a
	OpcodeI32GtU Opcode = 0x4b
	OpcodeI32LeS Opcode = 0x4c
	OpcodeI32LeU Opcode = 0x4d
	OpcodeI32GeS Opcode = 0x4e
	OpcodeI32GeU Opcode = 0x4f

	// 64-bit float comparisons.
	OpcodeF64Eq Opcode = 0x61
	OpcodeF64Ne Opcode = 0x62
	OpcodeF64Lt Opcode = 0x63
	OpcodeF64Gt Opcode = 0x64
	OpcodeF64Le Opcode = 0x65
	OpcodeF64Ge Opcode = 0x66

	// 32-bit integer arithmetic.
	OpcodeI32Clz    Opcode = 0x67
	OpcodeI32Ctz    Opcode = 0x68
	OpcodeI32Popcnt Opcode = 0x69
	OpcodeI32Add    Opcode = 0x6a
	OpcodeI32Sub    Opcode = 0x6b
	OpcodeI32Mul    Opcode = 0x6c
	OpcodeI32DivS   Opcode = 0x6d
	OpcodeI32DivU   Opcode = 0x6e
	OpcodeI32RemS   Opcode = 0x6f
	OpcodeI32RemU   Opcode = 0x70
	OpcodeI32And    Opcode = 0x71
	OpcodeI32Or     Opcode = 0x72
	OpcodeI32Xor    Opcode = 0x73
	OpcodeI32Shl    Opcode = 0x74
	OpcodeI32ShrS   Opcode = 0x75
	OpcodeI32ShrU   Opcode = 0x76
	OpcodeI32Rotl   Opcode = 0x77
	OpcodeI32Rotr   Opcode = 0x78

	// 64-bit float arithmetic.
	OpcodeF64Abs      Opcode = 0x99
	OpcodeF64Neg      Opcode = 0x9a
	OpcodeF64Ceil     Opcode = 0x9b
	OpcodeF64Floor    Opcode = 0x9c
	OpcodeF64Trunc    Opcode = 0x9d
	OpcodeF64Nearest  Opcode = 0x9e
	OpcodeF64Sqrt     Opcode = 0x9f
	OpcodeF64Add      Opcode = 0xa0
	OpcodeF64Sub      Opcode = 0xa1
	OpcodeF64Mul      Opcode = 0xa2
	OpcodeF64Div      Opcode = 0xa3
	OpcodeF64Min      Opcode = 0xa4
	OpcodeF64Max      Opcode = 0xa5
	OpcodeF64Copysign Opcode = 0xa6

	// Conversions.
	OpcodeI32TruncF64S   Opcode = 0xaa
	OpcodeI32TruncF64U   Opcode = 0xab
	OpcodeF64ConvertI32S Opcode = 0xb7
	OpcodeF64ConvertI32U Opcode = 0xb8
	OpcodeI32Extend8S    Opcode = 0xc0
	OpcodeI32Extend16S   Opcode = 0xc1
)

var opcodeNames = map[Opcode]string{
	OpcodeUnreachable:    "unreachable",
	OpcodeNop:            "nop",
	OpcodeBlock:          "block",
	OpcodeLoop:           "loop",
	OpcodeIf:             "if",
	OpcodeElse:           "else",
	OpcodeEnd:            "end",
	OpcodeBr:             "br",
	OpcodeBrIf:           "br_if",
	OpcodeBrTable:        "br_table",
	OpcodeReturn:         "return",
	OpcodeCall:           "call",
	OpcodeDrop:           "drop",
	OpcodeSelect:         "select",
	OpcodeLocalGet:       "local.get",
	OpcodeLocalSet:       "local.set",
	OpcodeLocalTee:       "local.tee",
	OpcodeGlobalGet:      "global.get",
	OpcodeGlobalSet:      "global.set",
	OpcodeI32Load:        "i32.load",
	OpcodeF64Load:        "f64.load",
	OpcodeI32Load8S:      "i32.load8_s",
	OpcodeI32Load8U:      "i32.load8_u",
	OpcodeI32Load16S:     "i32.load16_s",
	OpcodeI32Load16U:     "i32.load16_u",
	OpcodeI32Store:       "i32.store",
	OpcodeF64Store:       "f64.store",
	OpcodeI32Store8:      "i32.store8",
	OpcodeI32Store16:     "i32.store16",
	OpcodeMemorySize:     "memory.size",
	OpcodeMemoryGrow:     "memory.grow",
	OpcodeI32Const:       "i32.const",
	OpcodeF64Const:       "f64.const",
	OpcodeI32Eqz:         "i32.eqz",
	OpcodeI32Eq:          "i32.eq",
	OpcodeI32Ne:          "i32.ne",
	OpcodeI32LtS:         "i32.lt_s",
	OpcodeI32LtU:         "i32.lt_u",
	OpcodeI32GtS:         "i32.gt_s",
	OpcodeI32GtU:         "i32.gt_u",
	OpcodeI32LeS:         "i32.le_s",
	OpcodeI32LeU:         "i32.le_u",
	OpcodeI32GeS:         "i32.ge_s",
	OpcodeI32GeU:         "i32.ge_u",
	OpcodeF64Eq:          "f64.eq",
	OpcodeF64Ne:          "f64.ne",
	OpcodeF64Lt:          "f64.lt",
	OpcodeF64Gt:          "f64.gt",
	OpcodeF64Le:          "f64.le",
	OpcodeF64Ge:          "f64.ge",
	OpcodeI32Clz:         "i32.clz",
	OpcodeI32Ctz:         "i32.ctz",
	OpcodeI32Popcnt:      "i32.popcnt",
	OpcodeI32Add:         "i32.add",
	OpcodeI32Sub:         "i32.sub",
	OpcodeI32Mul:         "i32.mul",
	OpcodeI32DivS:        "i32.div_s",
	OpcodeI32DivU:        "i32.div_u",
	OpcodeI32RemS:        "i32.rem_s",
	OpcodeI32RemU:        "i32.rem_u",
	OpcodeI32And:         "i32.and",
	OpcodeI32Or:          "i32.or",
	OpcodeI32Xor:         "i32.xor",
	OpcodeI32Shl:         "i32.shl",
	OpcodeI32ShrS:        "i32.shr_s",
	OpcodeI32ShrU:        "i32.shr_u",
	OpcodeI32Rotl:        "i32.rotl",
	OpcodeI32Rotr:        "i32.rotr",
	OpcodeF64Abs:         "f64.abs",
	OpcodeF64Neg:         "f64.neg",
	OpcodeF64Ceil:        "f64.ceil",
	OpcodeF64Floor:       "f64.floor",
	OpcodeF64Trunc:       "f64.trunc",
	OpcodeF64Nearest:     "f64.nearest",
	OpcodeF64Sqrt:        "f64.sqrt",
	OpcodeF64Add:         "f64.add",
	OpcodeF64Sub:         "f64.sub",
	OpcodeF64Mul:         "f64.mul",
	OpcodeF64Div:         "f64.div",
	OpcodeF64Min:         "f64.min",
	OpcodeF64Max:         "f64.max",
	OpcodeF64Copysign:    "f64.copysign",
	OpcodeI32TruncF64S:   "i32.trunc_f64_s",
	OpcodeI32TruncF64U:   "i32.trunc_f64_u",
	OpcodeF64ConvertI32S: "f64.convert_i32_s",
	OpcodeF64ConvertI32U: "f64.convert_i32_u",
	OpcodeI32Extend8S:    "i32.extend8_s",
	OpcodeI32Extend16S:   "i32.extend16_s",
}

// OpcodeName returns the mnemonic for op, or a hex placeholder for bytes
// outside the supported set.
func OpcodeName(op Opcode) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("unknown (%#x)", op)
}
