package pcmap

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/crytic/vyperlens/compilation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBackfillFromPrecedingLocation checks that a tagged PC without a position borrows the nearest earlier location.
func TestBackfillFromPrecedingLocation(t *testing.T) {
	t.Parallel()
	pcMap := types.PCMap{
		95:  {Location: types.NewSourceLocation(10, 2, 10, 20)},
		100: {Dev: types.DivisionByZero.Tag()},
	}
	BackfillLocations(pcMap)
	require.NotNil(t, pcMap[100].Location)
	assert.Equal(t, [4]int{10, 2, 10, 20}, pcMap[100].Location.Tuple())

	// Without a located predecessor nothing is invented.
	lonely := types.PCMap{100: {Dev: types.DivisionByZero.Tag()}}
	BackfillLocations(lonely)
	assert.Nil(t, lonely[100].Location)
}

// TestBuildStructured verifies every error map PC is tagged and every positioned PC keeps its exact location.
func TestBuildStructured(t *testing.T) {
	t.Parallel()
	raw := json.RawMessage(`{
		"pc_pos_map": {
			"10": [3, 4, 3, 18],
			"12": [5, 4, 5, 12],
			"20": [null, null, null, null],
			"40": [7, 8, 7, 30]
		},
		"error_map": {
			"12": "safeadd",
			"14": "safediv",
			"41": "user assert",
			"50": "fallback function",
			"60": "bad calldatasize or callvalue",
			"61": "nonpayable check",
			"70": "some new check"
		},
		"pc_pos_map_compressed": "-1:-1:0:-;"
	}`)
	maps, err := ParseStructuredMaps(raw)
	require.NoError(t, err)
	pcMap := BuildStructured(maps)

	for pc := range maps.ErrorMap {
		require.Contains(t, pcMap, pc)
		assert.NotEmpty(t, pcMap[pc].Dev)
	}
	for pc, location := range maps.PositionMap {
		require.Contains(t, pcMap, pc)
		assert.Equal(t, *location, *pcMap[pc].Location)
	}

	assert.Equal(t, "dev: Integer overflow", pcMap[12].Dev)
	assert.Equal(t, [4]int{5, 4, 5, 12}, pcMap[12].Location.Tuple())

	// 14 skips the tagged PC 12 and borrows from 10.
	assert.Equal(t, "dev: Division by zero", pcMap[14].Dev)
	assert.Equal(t, [4]int{3, 4, 3, 18}, pcMap[14].Location.Tuple())

	assert.Equal(t, "dev: User assert", pcMap[41].Dev)
	assert.Equal(t, [4]int{7, 8, 7, 30}, pcMap[41].Location.Tuple())

	assert.Equal(t, "dev: Fallback not defined", pcMap[50].Dev)
	assert.Nil(t, pcMap[50].Location)

	assert.Equal(t, "dev: Invalid calldata or msg.value", pcMap[60].Dev)
	assert.Equal(t, "dev: Cannot send ether to non-payable function", pcMap[61].Dev)

	assert.Equal(t, "dev: SOME NEW CHECK", pcMap[70].Dev)
	assert.Nil(t, pcMap[70].Location)

	assert.NotContains(t, pcMap, 20)
}

// TestClassifyErrorLabel covers the label precedence rules.
func TestClassifyErrorLabel(t *testing.T) {
	t.Parallel()
	tests := map[string]types.RuntimeErrorType{
		"safemul":              types.IntegerOverflow,
		"SafeAdd":              types.IntegerOverflow,
		"bounds check":         types.IntegerOverflow,
		"safesub":              types.IntegerUnderflow,
		"clamp":                types.IntegerUnderflow,
		"safediv":              types.DivisionByZero,
		"safemod":              types.ModuloByZero,
		"user revert":          types.UserAssert,
		"integer bounds check": types.IntegerOverflow,
		"INTEGER_BOUNDS_CHECK": types.IntegerBoundsCheck,
		"fallback function":    types.FallbackNotDefined,
		"Index out of range":   types.IndexOutOfRange,
	}
	for label, expected := range tests {
		message, _ := ClassifyErrorLabel(label)
		assert.Equal(t, string(expected), message, label)
	}
}

// legacyAST has a function whose only statement is `x += 1` at src 20:5.
const legacyAST = `{
	"ast_type": "Module", "src": "0:60:0", "lineno": 1, "col_offset": 0, "end_lineno": 6, "end_col_offset": 0,
	"body": [{
		"ast_type": "FunctionDef", "name": "bump", "src": "1:50:0", "lineno": 2, "col_offset": 0, "end_lineno": 4, "end_col_offset": 9,
		"decorator_list": [{"ast_type": "Name", "id": "external", "src": "1:9:0", "lineno": 1, "col_offset": 1, "end_lineno": 1, "end_col_offset": 9}],
		"body": [{
			"ast_type": "AugAssign", "src": "20:5:0", "lineno": 4, "col_offset": 4, "end_lineno": 4, "end_col_offset": 9,
			"op": {"ast_type": "Add", "src": "22:2:0", "lineno": 4, "col_offset": 6, "end_lineno": 4, "end_col_offset": 8},
			"target": {"ast_type": "Name", "id": "x", "src": "20:1:0", "lineno": 4, "col_offset": 4, "end_lineno": 4, "end_col_offset": 5},
			"value": {"ast_type": "Int", "value": 1, "src": "24:1:0", "lineno": 4, "col_offset": 8, "end_lineno": 4, "end_col_offset": 9}
		}]
	}]
}`

func parseAST(t *testing.T, raw string) *types.ASTNode {
	var node types.ASTNode
	require.NoError(t, json.Unmarshal([]byte(raw), &node))
	return &node
}

// unsourced builds a source map with n entries that carry no source.
func unsourced(n int) types.SourceMap {
	sourceMap := make(types.SourceMap, n)
	for i := range sourceMap {
		sourceMap[i] = types.SourceMapElement{Index: i, Offset: -1, Length: -1, FileID: 0}
	}
	return sourceMap
}

// TestEmptyRevertTarget covers both tail shapes of the shared revert block.
func TestEmptyRevertTarget(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 10, EmptyRevertTarget(strings.Fields("PUSH1 0x04 CALLDATALOAD PUSH1 0x01 ADD PUSH1 0x0a JUMPI STOP JUMPDEST PUSH1 0x00 DUP1 REVERT")))
	assert.Equal(t, 3, EmptyRevertTarget(strings.Fields("PUSH1 0x03 JUMPI JUMPDEST REVERT")))
	assert.Equal(t, -1, EmptyRevertTarget(strings.Fields("PUSH1 0x00 DUP1 RETURN")))
}

// TestLegacyRevertJump checks that a conditional jump to the empty revert block is classified by its statement.
func TestLegacyRevertJump(t *testing.T) {
	t.Parallel()
	tokens := strings.Fields("PUSH1 0x04 CALLDATALOAD PUSH1 0x01 ADD PUSH1 0x0a JUMPI STOP JUMPDEST PUSH1 0x00 DUP1 REVERT")
	sourceMap := unsourced(11)
	// The JUMPI is the sixth instruction and maps to the augmented assignment.
	sourceMap[5].Offset, sourceMap[5].Length = 20, 5
	// A normal branch mapped to the same statement is not tagged.
	sourceMap[3].Offset, sourceMap[3].Length = 20, 5

	pcMap := BuildLegacy(parseAST(t, legacyAST), sourceMap, tokens)

	require.Contains(t, pcMap, 8)
	assert.Equal(t, "dev: Integer overflow", pcMap[8].Dev)
	assert.Equal(t, [4]int{4, 4, 4, 9}, pcMap[8].Location.Tuple())

	require.Contains(t, pcMap, 5)
	assert.Empty(t, pcMap[5].Dev)
}

// TestLegacySingletonChecks checks detection of the fallback and non-payable patterns, each at most once.
func TestLegacySingletonChecks(t *testing.T) {
	t.Parallel()
	tokens := strings.Fields(
		"PUSH1 0x0b JUMP JUMPDEST PUSH1 0x00 CALLDATALOAD PUSH1 0xE0 SHR CALLVALUE PUSH1 0x12 JUMPI " +
			"CALLVALUE PUSH1 0x12 JUMPI STOP JUMPDEST PUSH1 0x00 DUP1 REVERT")
	// pcs: PUSH1 0, JUMP 2, JUMPDEST 3, PUSH1 4, CALLDATALOAD 6, PUSH1 7, SHR 9, CALLVALUE 10, PUSH1 11, JUMPI 13,
	// CALLVALUE 14, PUSH1 15, JUMPI 17, STOP 18, JUMPDEST 19 ...
	tokens[12] = "0x13"
	tokens[16] = "0x13"
	pcMap := BuildLegacy(parseAST(t, legacyAST), unsourced(20), tokens)

	require.Contains(t, pcMap, 2)
	assert.Equal(t, types.FallbackNotDefined.Tag(), pcMap[2].Dev)
	assert.Nil(t, pcMap[2].Location)

	require.Contains(t, pcMap, 10)
	assert.Equal(t, types.NonPayableCheck.Tag(), pcMap[10].Dev)
	assert.NotContains(t, pcMap, 14)
}

// TestLegacyUnsourcedRevert checks that a revert with no source tags the latest located statement.
func TestLegacyUnsourcedRevert(t *testing.T) {
	t.Parallel()
	tokens := strings.Fields("PUSH1 0x01 PUSH1 0x00 REVERT")
	sourceMap := unsourced(3)
	sourceMap[0].Offset, sourceMap[0].Length = 20, 5

	pcMap := BuildLegacy(parseAST(t, legacyAST), sourceMap, tokens)
	require.Contains(t, pcMap, 0)
	assert.Equal(t, types.UserAssert.Tag(), pcMap[0].Dev)
}

// TestLegacyUnsourcedRevertSkipsDispatchChecks checks that entries without a location between the statement and the
// revert do not hide the statement.
func TestLegacyUnsourcedRevertSkipsDispatchChecks(t *testing.T) {
	t.Parallel()
	// pcs: PUSH1 0, CALLVALUE 2, PUSH1 3, JUMPI 5, PUSH1 6, DUP1 8, REVERT 9, JUMPDEST 10, PUSH1 11, DUP1 13, REVERT 14
	tokens := strings.Fields("PUSH1 0x01 CALLVALUE PUSH1 0x0a JUMPI PUSH1 0x00 DUP1 REVERT JUMPDEST PUSH1 0x00 DUP1 REVERT")
	sourceMap := unsourced(11)
	sourceMap[0].Offset, sourceMap[0].Length = 20, 5

	pcMap := BuildLegacy(parseAST(t, legacyAST), sourceMap, tokens)

	require.Contains(t, pcMap, 2)
	assert.Equal(t, types.NonPayableCheck.Tag(), pcMap[2].Dev)
	assert.Nil(t, pcMap[2].Location)

	require.Contains(t, pcMap, 0)
	assert.Equal(t, [4]int{4, 4, 4, 9}, pcMap[0].Location.Tuple())
	assert.Equal(t, types.UserAssert.Tag(), pcMap[0].Dev)
}

// TestLegacyRevertJumpNeedsAdjacentPush checks that a JUMPI is only a revert jump when its destination is pushed by
// the instruction right before it.
func TestLegacyRevertJumpNeedsAdjacentPush(t *testing.T) {
	t.Parallel()
	// pcs: PUSH1 0, CALLDATASIZE 2, SWAP1 3, JUMPI 4, STOP 5, STOP 6, JUMPDEST 7, PUSH1 8, DUP1 10, REVERT 11
	tokens := strings.Fields("PUSH1 0x07 CALLDATASIZE SWAP1 JUMPI STOP STOP JUMPDEST PUSH1 0x00 DUP1 REVERT")
	require.Equal(t, 7, EmptyRevertTarget(tokens))
	// The source map stops before the shared revert block.
	sourceMap := unsourced(7)
	sourceMap[3].Offset, sourceMap[3].Length = 20, 5

	pcMap := BuildLegacy(parseAST(t, legacyAST), sourceMap, tokens)

	require.Contains(t, pcMap, 4)
	assert.NotNil(t, pcMap[4].Location)
	assert.Empty(t, pcMap[4].Dev)
}
