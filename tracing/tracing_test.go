package tracing

import (
	"strings"
	"testing"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenSource = `# @version 0.3.10

balance: uint256





@external
def transfer(to: address, amount: uint256) -> bool:
    total: uint256 = self.balance + amount
    assert amount > 0  # dev: bad amount
    self.balance = total
    return True
`

const tokenABI = `[{"type": "function", "name": "transfer", "stateMutability": "nonpayable", "inputs": [{"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}], "outputs": [{"name": "", "type": "bool"}]}]`

func node(astType string, name string, line int, endLine int, body ...*types.ASTNode) *types.ASTNode {
	n := &types.ASTNode{ASTType: astType, Name: name, LineNo: line, EndLineNo: endLine, Body: body}
	n.Children = append(n.Children, body...)
	return n
}

func at(startLine, startColumn, endLine, endColumn int) *types.PCMapItem {
	return &types.PCMapItem{Location: types.NewSourceLocation(startLine, startColumn, endLine, endColumn)}
}

// newContract builds a contract source from its text, AST, ABI and PCMap.
func newContract(t *testing.T, sourcePath string, text string, ast *types.ASTNode, rawABI string, pcmap types.PCMap) *types.ContractSource {
	t.Helper()
	ast.Classify()
	parsed, err := types.ParseABI([]byte(rawABI))
	require.NoError(t, err)
	content := types.NewContent(text)
	artifact := &types.ContractArtifact{
		Name:        strings.TrimSuffix(sourcePath[strings.LastIndex(sourcePath, "/")+1:], ".vy"),
		SourceID:    sourcePath,
		ABI:         parsed,
		AST:         ast,
		PCMap:       pcmap,
		DevMessages: types.DevMessages(content),
	}
	return types.NewContractSource(artifact, sourcePath, content)
}

func newToken(t *testing.T) *types.ContractSource {
	userAssert := at(12, 4, 12, 21)
	userAssert.Dev = types.UserAssert.Tag()
	return newContract(t, "contracts/Token.vy", tokenSource,
		node("Module", "", 1, 14,
			node("FunctionDef", "transfer", 10, 14, node("AnnAssign", "", 11, 11), node("Assert", "", 12, 12), node("Assign", "", 13, 13)),
		),
		tokenABI,
		types.PCMap{
			10: at(11, 4, 11, 42),
			12: at(12, 4, 12, 21),
			14: {Dev: types.IntegerOverflow.Tag()},
			16: at(13, 4, 13, 24),
			21: userAssert,
		},
	)
}

func transferCalldata(t *testing.T, contract *types.ContractSource) []byte {
	method, ok := contract.Artifact.ABI.Methods["transfer"]
	require.True(t, ok)
	return method.ID
}

// TestTraceStatements follows a single call through statements, a store lookahead and builtin checks.
func TestTraceStatements(t *testing.T) {
	t.Parallel()
	token := newToken(t)
	cursor := NewFrameCursor([]Frame{
		{PC: 10, Op: vm.JUMPDEST, Depth: 1},
		{PC: 12, Op: vm.MLOAD, Depth: 1},
		{PC: 16, Op: vm.PUSH1, Depth: 1},
		{PC: 18, Op: vm.SSTORE, Depth: 1},
		{PC: 14, Op: vm.ADD, Depth: 1},
		{PC: 20, Op: vm.REVERT, Depth: 1},
	})

	traceback, err := NewSourceTracer(nil).Trace(cursor, token, transferCalldata(t, token))
	require.NoError(t, err)
	assert.True(t, cursor.Done())
	require.Len(t, traceback.Flows, 3)

	transfer := traceback.Flows[0]
	assert.Equal(t, "transfer(address,uint256)", transfer.Closure.FullName)
	assert.Equal(t, 1, transfer.Depth)
	require.Len(t, transfer.Statements, 3)
	assert.Equal(t, "dev: bad amount", transfer.Statements[1].Type)
	// The push location moves to the store.
	assert.Equal(t, []int{18}, transfer.Statements[2].PCs)
	assert.Equal(t, 13, transfer.Statements[2].Location.StartLine)

	builtin := traceback.Flows[1]
	assert.True(t, builtin.Closure.Builtin)
	assert.Equal(t, "transfer(address,uint256)", builtin.Closure.FullName)
	assert.Equal(t, "dev: Integer overflow", builtin.Statements[0].Type)

	// The revert maps to the tagged assert one byte after it, in a new flow one level deeper.
	reverted := traceback.Flows[2]
	assert.Equal(t, 2, reverted.Depth)
	require.Len(t, reverted.Statements, 1)
	assert.Equal(t, []int{21}, reverted.Statements[0].PCs)
	assert.Equal(t, "dev: bad amount", reverted.Statements[0].Type)

	formatted := traceback.Format()
	assert.Contains(t, formatted, "File contracts/Token.vy, line 11, in transfer(address,uint256)")
	assert.Contains(t, formatted, "self.balance = total")
	assert.Contains(t, formatted, "dev: Integer overflow")
}

// TestTraceNonPayable attributes a non-payable check to the called method.
func TestTraceNonPayable(t *testing.T) {
	t.Parallel()
	token := newToken(t)
	token.Artifact.PCMap[2] = &types.PCMapItem{Dev: types.NonPayableCheck.Tag()}
	token.Artifact.PCMap[4] = &types.PCMapItem{Dev: types.InvalidCalldataOrValue.Tag()}

	traceback, err := NewSourceTracer(nil).Trace(NewFrameCursor([]Frame{
		{PC: 2, Op: vm.CALLVALUE, Depth: 1},
		{PC: 10, Op: vm.JUMPDEST, Depth: 1},
		// Skipped once a source statement was seen.
		{PC: 4, Op: vm.JUMPI, Depth: 1},
	}), token, transferCalldata(t, token))
	require.NoError(t, err)
	require.Len(t, traceback.Flows, 2)
	assert.True(t, traceback.Flows[0].Closure.Builtin)
	assert.Equal(t, "transfer", traceback.Flows[0].Closure.Name)
	assert.Equal(t, "dev: Cannot send ether to non-payable function", traceback.Flows[0].Statements[0].Type)

	// Without a known method the check is named after itself.
	traceback, err = NewSourceTracer(nil).Trace(NewFrameCursor([]Frame{{PC: 2, Op: vm.CALLVALUE, Depth: 1}}), token, nil)
	require.NoError(t, err)
	require.Len(t, traceback.Flows, 1)
	assert.Equal(t, "nonpayable_check", traceback.Flows[0].Closure.FullName)
}

type contractMap map[common.Address]*CalledContract

func (m contractMap) LookupContract(address common.Address) (*CalledContract, bool) {
	called, ok := m[address]
	return called, ok
}

type unsupportedTracer struct{}

func (unsupportedTracer) Trace(cursor *FrameCursor, calldata []byte) (*Traceback, error) {
	return nil, ErrTracingNotSupported
}

// callFrame builds a call-family frame targeting address with the first bytes of memory as calldata.
func callFrame(pc uint64, op vm.OpCode, depth int, address common.Address, calldata []byte) Frame {
	words := []uint64{0, 0, uint64(len(calldata)), 0}
	if op == vm.CALL || op == vm.CALLCODE {
		words = append(words, 0)
	}
	frame := Frame{PC: pc, Op: op, Depth: depth, Memory: calldata}
	for _, word := range words {
		frame.Stack = append(frame.Stack, *uint256.NewInt(word))
	}
	var target uint256.Int
	target.SetBytes(address.Bytes())
	frame.Stack = append(frame.Stack, target, *uint256.NewInt(100000))
	return frame
}

// TestTraceNestedCalls splices callee flows in and skips calls that cannot be traced.
func TestTraceNestedCalls(t *testing.T) {
	t.Parallel()
	caller := newContract(t, "contracts/Caller.vy", strings.Repeat("\n", 4)+"def run():\n    a: uint256 = 1\n    b: uint256 = 2\n",
		node("Module", "", 1, 7, node("FunctionDef", "run", 5, 7, node("AnnAssign", "", 6, 6), node("AnnAssign", "", 7, 7))),
		`[{"type": "function", "name": "run", "stateMutability": "nonpayable", "inputs": [], "outputs": []}]`,
		types.PCMap{1: at(6, 4, 6, 18), 3: at(7, 4, 7, 18)},
	)
	callee := newContract(t, "contracts/Callee.vy", "\ndef ping():\n    pass\n",
		node("Module", "", 1, 3, node("FunctionDef", "ping", 2, 3, node("Pass", "", 3, 3))),
		`[{"type": "function", "name": "ping", "stateMutability": "nonpayable", "inputs": [], "outputs": []}]`,
		types.PCMap{7: at(3, 4, 3, 8)},
	)
	ping := callee.Artifact.ABI.Methods["ping"].ID

	calleeAddress := common.HexToAddress("0x01")
	unknownAddress := common.HexToAddress("0x02")
	foreignAddress := common.HexToAddress("0x03")
	tracer := NewSourceTracer(contractMap{
		calleeAddress:  {Source: callee},
		foreignAddress: {Foreign: unsupportedTracer{}},
	})

	cursor := NewFrameCursor([]Frame{
		{PC: 1, Op: vm.JUMPDEST, Depth: 1},
		callFrame(2, vm.CALL, 1, calleeAddress, ping),
		{PC: 7, Op: vm.JUMPDEST, Depth: 2},
		{PC: 9, Op: vm.RETURN, Depth: 2},
		{PC: 3, Op: vm.JUMPDEST, Depth: 1},
		callFrame(4, vm.STATICCALL, 1, unknownAddress, nil),
		// Frames of untraceable calls match nothing in the caller.
		{PC: 1, Op: vm.JUMPDEST, Depth: 2},
		{PC: 5, Op: vm.POP, Depth: 1},
		callFrame(6, vm.DELEGATECALL, 1, foreignAddress, nil),
		{PC: 3, Op: vm.JUMPDEST, Depth: 2},
		{PC: 8, Op: vm.POP, Depth: 1},
		{PC: 10, Op: vm.STOP, Depth: 1},
	})

	traceback, err := tracer.Trace(cursor, caller, caller.Artifact.ABI.Methods["run"].ID)
	require.NoError(t, err)
	assert.True(t, cursor.Done())

	var names []string
	for _, flow := range traceback.Flows {
		names = append(names, flow.Closure.FullName)
	}
	assert.Equal(t, []string{"run()", "ping()", "run()"}, names)
	assert.Equal(t, 2, traceback.Flows[1].Depth)
	assert.Equal(t, 1, traceback.Flows[2].Depth)
	assert.Len(t, traceback.SourceStatements(), 3)
}

// TestFrameCursor checks consumption and call skipping.
func TestFrameCursor(t *testing.T) {
	t.Parallel()
	cursor := NewFrameCursor([]Frame{{Depth: 1}, {Depth: 2}, {Depth: 3}, {Depth: 1, PC: 9}, {Depth: 1, PC: 10}})
	_, ok := cursor.Next()
	require.True(t, ok)
	cursor.SkipCall(1)
	assert.Equal(t, 4, cursor.Position())
	frame, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(10), frame.PC)
	_, ok = cursor.Next()
	assert.False(t, ok)
	cursor.SkipCall(1)
	assert.True(t, cursor.Done())
}

// TestParseStructLogs decodes struct logger output and call targets.
func TestParseStructLogs(t *testing.T) {
	t.Parallel()
	frames, err := ParseStructLogs([]byte(`{"gas": 21000, "structLogs": [
		{"pc": 0, "op": "PUSH1", "depth": 1, "stack": []},
		{"pc": 7, "op": "STATICCALL", "depth": 1,
		 "stack": ["0x0", "0x0", "0x4", "0x0", "0xabc", "0x2710"],
		 "memory": ["a9059cbb00000000000000000000000000000000000000000000000000000000"]}
	]}`))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, vm.PUSH1, frames[0].Op)

	address, calldata, ok := frames[1].CallTarget()
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0xabc"), address)
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, calldata)

	_, err = ParseStructLogs([]byte(`[{"pc": 0, "op": "NOTANOP", "depth": 1}]`))
	assert.Error(t, err)
}
