package cmd

import (
	"testing"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/vyperlens/compilation/platforms"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContracts() []*platforms.CompiledContract {
	return []*platforms.CompiledContract{
		{Artifact: &types.ContractArtifact{Name: "Token", SourceID: "contracts/Token.vy"}},
		{Artifact: &types.ContractArtifact{Name: "Vault", SourceID: "contracts/Vault.vy"}},
		{Artifact: &types.ContractArtifact{Name: "Vault", SourceID: "contracts/v2/Vault.vy"}},
	}
}

func TestDecodeHex(t *testing.T) {
	data, err := decodeHex("0xdeadBEEF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)

	data, err = decodeHex("0102")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)

	_, err = decodeHex("0xzz")
	assert.Error(t, err)
}

func TestParseCoverageTrace(t *testing.T) {
	trace, err := parseCoverageTrace("Token=traces/transfer.json")
	require.NoError(t, err)
	assert.Equal(t, "Token", trace.contract)
	assert.Equal(t, "traces/transfer.json", trace.path)
	assert.Nil(t, trace.calldata)

	trace, err = parseCoverageTrace("contracts/Vault.vy:Vault=deposit.json@0xd0e30db0")
	require.NoError(t, err)
	assert.Equal(t, "contracts/Vault.vy:Vault", trace.contract)
	assert.Equal(t, "deposit.json", trace.path)
	assert.Equal(t, []byte{0xd0, 0xe3, 0x0d, 0xb0}, trace.calldata)

	for _, invalid := range []string{"Token", "=file.json", "Token=", "Token=file.json@0xzz"} {
		_, err := parseCoverageTrace(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestFindContract(t *testing.T) {
	contracts := testContracts()

	found, err := findContract(contracts, "Token")
	require.NoError(t, err)
	assert.Equal(t, "contracts/Token.vy", found.Artifact.SourceID)

	_, err = findContract(contracts, "Vault")
	assert.ErrorContains(t, err, "ambiguous")

	found, err = findContract(contracts, "contracts/v2/Vault.vy:Vault")
	require.NoError(t, err)
	assert.Same(t, contracts[2], found)

	_, err = findContract(contracts, "Missing")
	assert.Error(t, err)
}

func TestNewAddressLookup(t *testing.T) {
	contracts := testContracts()
	address := "0x00000000000000000000000000000000000000aa"

	lookup, err := newAddressLookup(contracts, []string{"Token=" + address})
	require.NoError(t, err)
	called, ok := lookup.LookupContract(common.HexToAddress(address))
	require.True(t, ok)
	assert.Equal(t, "Token", called.Source.Artifact.Name)

	_, ok = lookup.LookupContract(common.Address{})
	assert.False(t, ok)

	_, err = newAddressLookup(contracts, []string{"Token=0x12"})
	assert.Error(t, err)
	_, err = newAddressLookup(contracts, []string{"Missing=" + address})
	assert.Error(t, err)
}

func TestOutermostRevert(t *testing.T) {
	_, ok := outermostRevert(nil)
	assert.False(t, ok)

	// A revert inside a nested call that the outer call survives
	frames := []tracing.Frame{
		{PC: 0, Op: vm.PUSH1, Depth: 1},
		{PC: 40, Op: vm.REVERT, Depth: 2},
		{PC: 10, Op: vm.STOP, Depth: 1},
	}
	_, ok = outermostRevert(frames)
	assert.False(t, ok)

	frames = append(frames[:2], tracing.Frame{PC: 12, Op: vm.REVERT, Depth: 1}, tracing.Frame{PC: 0, Op: vm.STOP, Depth: 2})
	pc, ok := outermostRevert(frames)
	require.True(t, ok)
	assert.Equal(t, 12, pc)
}
