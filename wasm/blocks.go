package wasm

import (
	"bytes"
	"fmt"

	"github.com/weewasm/weewasm/wasm/leb128"
)

// FunctionBlock records the byte offsets of one block, loop or if construct
// so branch targets resolve in constant time at run time. ElseAt for an if
// without an else arm points at EndAt-1, making the false arm fall through
// to the end instruction.
type FunctionBlock struct {
	StartAt, ElseAt, EndAt uint64
	BlockType              *FunctionType
	BlockTypeBytes         uint64
	IsLoop                 bool
	IsIf                   bool
}

var (
	blockTypeEmpty = &FunctionType{}
	blockTypeI32   = &FunctionType{Results: []ValueType{ValueTypeI32}}
	blockTypeF64   = &FunctionType{Results: []ValueType{ValueTypeF64}}
)

// resolveBlocks scans a function body once, matching every block, loop and
// if with its else and end, and validating that the body only uses the
// supported instruction set. Branch depths are checked against the number
// of open labels at the branch site; the function itself counts as one.
func resolveBlocks(body []byte) (map[uint64]*FunctionBlock, error) {
	ret := map[uint64]*FunctionBlock{}
	stack := make([]*FunctionBlock, 0, 10)
	// The implicit function-level label is always open.
	openLabels := uint32(1)

	for pc := uint64(0); pc < uint64(len(body)); pc++ {
		op := body[pc]
		switch op {
		case OpcodeBlock, OpcodeLoop, OpcodeIf:
			bt, btBytes, err := readBlockType(body[pc+1:])
			if err != nil {
				return nil, fmt.Errorf("read block type at %#x: %w", pc, err)
			}
			stack = append(stack, &FunctionBlock{
				StartAt:        pc,
				BlockType:      bt,
				BlockTypeBytes: btBytes,
				IsLoop:         op == OpcodeLoop,
				IsIf:           op == OpcodeIf,
			})
			openLabels++
			pc += btBytes
		case OpcodeElse:
			if len(stack) == 0 || !stack[len(stack)-1].IsIf {
				return nil, fmt.Errorf("else instruction at %#x not in an if block", pc)
			}
			stack[len(stack)-1].ElseAt = pc
		case OpcodeEnd:
			if len(stack) == 0 {
				// This end closes the function body itself.
				if pc != uint64(len(body))-1 {
					return nil, fmt.Errorf("instructions after the function end at %#x", pc)
				}
				openLabels--
				continue
			}
			bl := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			bl.EndAt = pc
			if bl.IsIf && bl.ElseAt == 0 {
				if len(bl.BlockType.Results) != 0 {
					return nil, fmt.Errorf("if block with a result at %#x has no else arm", bl.StartAt)
				}
				bl.ElseAt = pc - 1
			}
			ret[bl.StartAt] = bl
			openLabels--
		case OpcodeBr, OpcodeBrIf:
			r := bytes.NewReader(body[pc+1:])
			depth, num, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read branch depth at %#x: %w", pc, err)
			}
			if depth >= openLabels {
				return nil, fmt.Errorf("%w: %d at %#x", ErrInvalidBranchDepth, depth, pc)
			}
			pc += num
		case OpcodeBrTable:
			r := bytes.NewReader(body[pc+1:])
			nl, num, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read br_table target count at %#x: %w", pc, err)
			}
			for i := uint32(0); i <= nl; i++ { // targets plus the default
				depth, n, err := leb128.DecodeUint32(r)
				if err != nil {
					return nil, fmt.Errorf("read br_table target at %#x: %w", pc, err)
				}
				if depth >= openLabels {
					return nil, fmt.Errorf("%w: %d at %#x", ErrInvalidBranchDepth, depth, pc)
				}
				num += n
			}
			pc += num
		default:
			num, err := instructionBytes(body, pc)
			if err != nil {
				return nil, err
			}
			pc += num
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("%d unclosed blocks at the function end", len(stack))
	}
	if openLabels != 0 {
		return nil, fmt.Errorf("function body lacks a terminating end")
	}
	return ret, nil
}

// readBlockType parses the signed 33-bit block type immediate. The only
// legal encodings are empty, i32 and f64.
func readBlockType(in []byte) (*FunctionType, uint64, error) {
	raw, num, err := leb128.DecodeInt33AsInt64(bytes.NewReader(in))
	if err != nil {
		return nil, 0, fmt.Errorf("decode int33: %w", err)
	}
	switch raw {
	case -64: // 0x40, the empty block type
		return blockTypeEmpty, num, nil
	case -1: // 0x7f
		return blockTypeI32, num, nil
	case -4: // 0x7c
		return blockTypeF64, num, nil
	case -2: // 0x7e
		return nil, 0, fmt.Errorf("%w: i64 block type", ErrUnsupportedValueType)
	case -3: // 0x7d
		return nil, 0, fmt.Errorf("%w: f32 block type", ErrUnsupportedValueType)
	}
	return nil, 0, fmt.Errorf("invalid block type: %d", raw)
}

// instructionBytes returns how many immediate bytes follow the opcode at
// pc, rejecting opcodes outside the supported set.
func instructionBytes(body []byte, pc uint64) (uint64, error) {
	op := body[pc]
	switch op {
	case OpcodeUnreachable, OpcodeNop, OpcodeReturn, OpcodeDrop, OpcodeSelect,
		OpcodeI32Eqz, OpcodeI32Eq, OpcodeI32Ne, OpcodeI32LtS, OpcodeI32LtU,
		OpcodeI32GtS, OpcodeI32GtU, OpcodeI32LeS, OpcodeI32LeU, OpcodeI32GeS, OpcodeI32GeU,
		OpcodeF64Eq, OpcodeF64Ne, OpcodeF64Lt, OpcodeF64Gt, OpcodeF64Le, OpcodeF64Ge,
		OpcodeI32Clz, OpcodeI32Ctz, OpcodeI32Popcnt,
		OpcodeI32Add, OpcodeI32Sub, OpcodeI32Mul,
		OpcodeI32DivS, OpcodeI32DivU, OpcodeI32RemS, OpcodeI32RemU,
		OpcodeI32And, OpcodeI32Or, OpcodeI32Xor,
		OpcodeI32Shl, OpcodeI32ShrS, OpcodeI32ShrU, OpcodeI32Rotl, OpcodeI32Rotr,
		OpcodeF64Abs, OpcodeF64Neg, OpcodeF64Ceil, OpcodeF64Floor,
		OpcodeF64Trunc, OpcodeF64Nearest, OpcodeF64Sqrt,
		OpcodeF64Add, OpcodeF64Sub, OpcodeF64Mul, OpcodeF64Div,
		OpcodeF64Min, OpcodeF64Max, OpcodeF64Copysign,
		OpcodeI32TruncF64S, OpcodeI32TruncF64U,
		OpcodeF64ConvertI32S, OpcodeF64ConvertI32U,
		OpcodeI32Extend8S, OpcodeI32Extend16S:
		return 0, nil
	case OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee,
		OpcodeGlobalGet, OpcodeGlobalSet, OpcodeCall:
		_, num, err := leb128.DecodeUint32(bytes.NewReader(body[pc+1:]))
		if err != nil {
			return 0, fmt.Errorf("read index of %s at %#x: %w", OpcodeName(op), pc, err)
		}
		return num, nil
	case OpcodeI32Load, OpcodeF64Load, OpcodeI32Load8S, OpcodeI32Load8U,
		OpcodeI32Load16S, OpcodeI32Load16U,
		OpcodeI32Store, OpcodeF64Store, OpcodeI32Store8, OpcodeI32Store16:
		r := bytes.NewReader(body[pc+1:])
		_, num, err := leb128.DecodeUint32(r) // alignment hint
		if err != nil {
			return 0, fmt.Errorf("read alignment of %s at %#x: %w", OpcodeName(op), pc, err)
		}
		_, num2, err := leb128.DecodeUint32(r) // offset
		if err != nil {
			return 0, fmt.Errorf("read offset of %s at %#x: %w", OpcodeName(op), pc, err)
		}
		return num + num2, nil
	case OpcodeMemorySize, OpcodeMemoryGrow:
		if pc+1 >= uint64(len(body)) {
			return 0, fmt.Errorf("read reserved byte of %s at %#x: truncated", OpcodeName(op), pc)
		}
		if body[pc+1] != 0x00 {
			return 0, fmt.Errorf("%w: reserved byte of %s must be zero", ErrInvalidByte, OpcodeName(op))
		}
		return 1, nil
	case OpcodeI32Const:
		_, num, err := leb128.DecodeInt32(bytes.NewReader(body[pc+1:]))
		if err != nil {
			return 0, fmt.Errorf("read i32.const at %#x: %w", pc, err)
		}
		return num, nil
	case OpcodeF64Const:
		if pc+8 >= uint64(len(body)) {
			return 0, fmt.Errorf("read f64.const at %#x: truncated", pc)
		}
		return 8, nil
	}
	return 0, fmt.Errorf("%w: %s at %#x", ErrUnsupportedOpcode, OpcodeName(op), pc)
}
