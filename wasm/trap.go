package wasm

// Trap is a runtime fault raised by either engine. Traps compare equal
// across engines so callers can match on the constants below regardless of
// how a module was executed.
type Trap string

func (t Trap) Error() string { return string(t) }

const (
	TrapUnreachable                Trap = "unreachable"
	TrapMemoryOutOfBounds          Trap = "out of bounds memory access"
	TrapIntegerDivideByZero        Trap = "integer divide by zero"
	TrapIntegerOverflow            Trap = "integer overflow"
	TrapInvalidConversionToInteger Trap = "invalid conversion to integer"
	TrapStackUnderflow             Trap = "operand stack underflow"
	TrapInvalidBranch              Trap = "invalid branch depth"
	TrapCallStackExhausted         Trap = "call stack exhausted"
)
