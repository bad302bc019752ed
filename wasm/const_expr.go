package wasm

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/weewasm/weewasm/wasm/ieee754"
	"github.com/weewasm/weewasm/wasm/leb128"
)

// ConstantExpression is a global or segment-offset initializer. Only
// i32.const, f64.const and global.get of an earlier global are legal.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

func readConstantExpression(r io.Reader) (*ConstantExpression, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read opcode: %w", err)
	}

	buf := new(bytes.Buffer)
	teeR := io.TeeReader(r, buf)

	var err error
	opcode := b[0]
	switch opcode {
	case OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(teeR)
	case OpcodeF64Const:
		_, err = ieee754.DecodeFloat64(teeR)
	case OpcodeGlobalGet:
		_, _, err = leb128.DecodeUint32(teeR)
	default:
		return nil, fmt.Errorf("%w in constant expression: %s", ErrUnsupportedOpcode, OpcodeName(opcode))
	}

	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}

	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("look for end opcode: %w", err)
	}

	if b[0] != OpcodeEnd {
		return nil, fmt.Errorf("constant expression has not been terminated")
	}

	return &ConstantExpression{
		Opcode: opcode,
		Data:   buf.Bytes(),
	}, nil
}

// evalConstExpression computes an initializer against the globals resolved
// so far. A global.get may only see earlier indices.
func evalConstExpression(globals []*GlobalInstance, expr *ConstantExpression) (raw uint64, t ValueType, err error) {
	r := bytes.NewReader(expr.Data)
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return 0, 0, fmt.Errorf("read i32: %w", err)
		}
		return uint64(uint32(v)), ValueTypeI32, nil
	case OpcodeF64Const:
		v, err := ieee754.DecodeFloat64(r)
		if err != nil {
			return 0, 0, fmt.Errorf("read f64: %w", err)
		}
		return math.Float64bits(v), ValueTypeF64, nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, 0, fmt.Errorf("read global index: %w", err)
		}
		if idx >= uint32(len(globals)) {
			return 0, 0, fmt.Errorf("global index %d out of range", idx)
		}
		g := globals[idx]
		return g.Val, g.Type.ValType, nil
	}
	return 0, 0, fmt.Errorf("%w in constant expression: %s", ErrUnsupportedOpcode, OpcodeName(expr.Opcode))
}
