package abiutils

import (
	"math/big"
	"testing"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRevertErrorString checks `Error(string)` decoding.
func TestRevertErrorString(t *testing.T) {
	t.Parallel()
	data := EncodeRevertErrorString("dev: zero address")
	require.NotNil(t, data)

	message := GetRevertErrorString(vm.ErrExecutionReverted, data)
	require.NotNil(t, message)
	assert.Equal(t, "dev: zero address", *message)

	// Wrapped reverts are recognized, other errors are not.
	assert.NotNil(t, GetRevertErrorString(errors.Wrap(vm.ErrExecutionReverted, "call"), data))
	assert.Nil(t, GetRevertErrorString(vm.ErrOutOfGas, data))
	assert.Nil(t, GetRevertErrorString(vm.ErrExecutionReverted, data[:4]))

	reason, ok := DecodeRevertReason(data)
	assert.True(t, ok)
	assert.Equal(t, "dev: zero address", reason)
}

// TestPanicCode checks `Panic(uint256)` decoding.
func TestPanicCode(t *testing.T) {
	t.Parallel()
	packed, err := panicMethod.Inputs.Pack(big.NewInt(PanicCodeDivideByZero))
	require.NoError(t, err)
	data := append(append([]byte{}, panicMethod.ID...), packed...)

	code := GetPanicCode(vm.ErrExecutionReverted, data)
	require.NotNil(t, code)
	assert.EqualValues(t, PanicCodeDivideByZero, code.Uint64())

	reason, ok := DecodeRevertReason(data)
	assert.True(t, ok)
	assert.Equal(t, "panic: division by zero", reason)

	_, ok = DecodeRevertReason(nil)
	assert.False(t, ok)
	assert.Equal(t, "unknown panic code(7)", GetPanicReason(7))
}
