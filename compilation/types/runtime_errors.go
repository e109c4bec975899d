package types

import (
	"fmt"
	"strings"
)

// RuntimeErrorType is a compiler-inserted runtime check. The value is the human readable message that appears in
// PCMap tags ("dev: <value>").
type RuntimeErrorType string

const (
	NonPayableCheck        RuntimeErrorType = "Cannot send ether to non-payable function"
	InvalidCalldataOrValue RuntimeErrorType = "Invalid calldata or msg.value"
	IndexOutOfRange        RuntimeErrorType = "Index out of range"
	IntegerOverflow        RuntimeErrorType = "Integer overflow"
	IntegerUnderflow       RuntimeErrorType = "Integer underflow"
	IntegerBoundsCheck     RuntimeErrorType = "Integer bounds check"
	DivisionByZero         RuntimeErrorType = "Division by zero"
	ModuloByZero           RuntimeErrorType = "Modulo by zero"
	FallbackNotDefined     RuntimeErrorType = "Fallback not defined"
	UserAssert             RuntimeErrorType = "User assert"
)

// DevTagPrefix prefixes every developer tag, both in source comments and in PCMap entries.
const DevTagPrefix = "dev: "

// AllRuntimeErrorTypes lists every RuntimeErrorType in declaration order.
var AllRuntimeErrorTypes = []RuntimeErrorType{
	NonPayableCheck,
	InvalidCalldataOrValue,
	IndexOutOfRange,
	IntegerOverflow,
	IntegerUnderflow,
	IntegerBoundsCheck,
	DivisionByZero,
	ModuloByZero,
	FallbackNotDefined,
	UserAssert,
}

// runtimeErrorNames maps the enumeration member names, as the compiler may spell them in error labels.
var runtimeErrorNames = map[string]RuntimeErrorType{
	"NONPAYABLE_CHECK":          NonPayableCheck,
	"INVALID_CALLDATA_OR_VALUE": InvalidCalldataOrValue,
	"INDEX_OUT_OF_RANGE":        IndexOutOfRange,
	"INTEGER_OVERFLOW":          IntegerOverflow,
	"INTEGER_UNDERFLOW":         IntegerUnderflow,
	"INTEGER_BOUNDS_CHECK":      IntegerBoundsCheck,
	"DIVISION_BY_ZERO":          DivisionByZero,
	"MODULO_BY_ZERO":            ModuloByZero,
	"FALLBACK_NOT_DEFINED":      FallbackNotDefined,
	"USER_ASSERT":               UserAssert,
}

// Name returns the enumeration member name, e.g. "INTEGER_OVERFLOW".
func (t RuntimeErrorType) Name() string {
	for name, value := range runtimeErrorNames {
		if value == t {
			return name
		}
	}
	return strings.ToUpper(strings.ReplaceAll(string(t), " ", "_"))
}

// Tag returns the PCMap tag for this error type.
func (t RuntimeErrorType) Tag() string {
	return DevTagPrefix + string(t)
}

// RuntimeErrorTypeByName looks up an error type by its enumeration member name.
func RuntimeErrorTypeByName(name string) (RuntimeErrorType, bool) {
	t, ok := runtimeErrorNames[name]
	return t, ok
}

// ParseRuntimeErrorType resolves a message (with or without the "dev: " prefix) to a known error type.
func ParseRuntimeErrorType(message string) (RuntimeErrorType, bool) {
	message = strings.TrimPrefix(strings.TrimSpace(message), DevTagPrefix)
	for _, t := range AllRuntimeErrorTypes {
		if string(t) == message {
			return t, true
		}
	}
	return "", false
}

// RuntimeErrorTypeFromOperator maps an arithmetic AST operator to the check guarding it.
func RuntimeErrorTypeFromOperator(operator string) (RuntimeErrorType, bool) {
	switch operator {
	case "Add":
		return IntegerOverflow, true
	case "Sub":
		return IntegerUnderflow, true
	case "Div":
		return DivisionByZero, true
	case "Mod":
		return ModuloByZero, true
	default:
		return "", false
	}
}

// RuntimeError is a contract logic error refined into a known runtime check.
type RuntimeError struct {
	Kind RuntimeErrorType
	// Cause is the error that was refined.
	Cause error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return string(e.Kind)
}

// Unwrap returns the refined error.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// ContractLogicError is a revert raised while executing a contract. DevMessage is the developer tag found at the
// reverting program counter, if any.
type ContractLogicError struct {
	Message    string
	RevertData []byte
	DevMessage string
}

// Error implements the error interface.
func (e *ContractLogicError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.DevMessage != "" {
		return e.DevMessage
	}
	return fmt.Sprintf("execution reverted (%d bytes of revert data)", len(e.RevertData))
}
