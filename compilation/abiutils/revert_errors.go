package abiutils

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/core/vm"
)

// Panic codes carried by `Panic(uint256)` revert data. The compiler never emits them itself, but contracts called
// from compiled code may.
const (
	PanicCodeCompilerInserted        = 0x00
	PanicCodeAssertFailed            = 0x01
	PanicCodeArithmeticUnderOverflow = 0x11
	PanicCodeDivideByZero            = 0x12
	PanicCodeOutOfBoundsArrayAccess  = 0x32
)

var (
	errorMethod = newRevertMethod("Error", "string")
	panicMethod = newRevertMethod("Panic", "uint256")
)

// newRevertMethod builds the single-argument method describing a standard revert payload.
func newRevertMethod(name string, argumentType string) abi.Method {
	argType, _ := abi.NewType(argumentType, "", nil)
	return abi.NewMethod(name, name, abi.Function, "", false, false, []abi.Argument{
		{Name: "", Type: argType, Indexed: false},
	}, abi.Arguments{})
}

// IsRevert reports whether err is an execution revert. A nil error is accepted so callers holding only return data
// can pass it.
func IsRevert(err error) bool {
	return err == nil || errors.Is(err, vm.ErrExecutionReverted)
}

// GetRevertErrorString obtains the message of an `Error(string)` revert payload, as raised by assert and raise
// statements with a reason. nil is returned for any other payload.
func GetRevertErrorString(returnError error, returnData []byte) *string {
	if !IsRevert(returnError) || len(returnData) <= 4 {
		return nil
	}
	if !bytes.Equal(returnData[:4], errorMethod.ID) {
		return nil
	}
	values, err := errorMethod.Inputs.Unpack(returnData[4:])
	if err != nil || len(values) == 0 {
		return nil
	}
	message, ok := values[0].(string)
	if !ok {
		return nil
	}
	return &message
}

// GetPanicCode obtains the code of a `Panic(uint256)` revert payload, or nil for any other payload.
func GetPanicCode(returnError error, returnData []byte) *big.Int {
	if !IsRevert(returnError) || len(returnData) != 4+32 {
		return nil
	}
	if !bytes.Equal(returnData[:4], panicMethod.ID) {
		return nil
	}
	values, err := panicMethod.Inputs.Unpack(returnData[4:])
	if err != nil || len(values) == 0 {
		return nil
	}
	code, _ := values[0].(*big.Int)
	return code
}

// GetPanicReason returns a readable reason for a panic code.
func GetPanicReason(panicCode uint64) string {
	switch panicCode {
	case PanicCodeCompilerInserted:
		return "panic: compiler inserted panic"
	case PanicCodeAssertFailed:
		return "panic: assertion failed"
	case PanicCodeArithmeticUnderOverflow:
		return "panic: arithmetic underflow"
	case PanicCodeDivideByZero:
		return "panic: division by zero"
	case PanicCodeOutOfBoundsArrayAccess:
		return "panic: out of bounds array access"
	default:
		return fmt.Sprintf("unknown panic code(%v)", panicCode)
	}
}

// DecodeRevertReason returns the readable reason carried by revert data, whichever standard payload it uses.
func DecodeRevertReason(returnData []byte) (string, bool) {
	if message := GetRevertErrorString(nil, returnData); message != nil {
		return *message, true
	}
	if code := GetPanicCode(nil, returnData); code != nil && code.IsUint64() {
		return GetPanicReason(code.Uint64()), true
	}
	return "", false
}

// EncodeRevertErrorString builds `Error(string)` revert data carrying message.
func EncodeRevertErrorString(message string) []byte {
	packed, err := errorMethod.Inputs.Pack(message)
	if err != nil {
		return nil
	}
	return append(append([]byte{}, errorMethod.ID...), packed...)
}
