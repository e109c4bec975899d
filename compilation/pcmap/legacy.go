package pcmap

import (
	"strconv"
	"strings"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/vyperlens/compilation/types"
)

// Older compilers emit no error map, so checks are recognized from the shape of the generated code. Every heuristic
// here is best effort; misclassification is possible and accepted.

// instruction is one opcode of the disassembly, with its operand if it is a push.
type instruction struct {
	pc      int
	name    string
	operand string
	// token is the index of the opcode within the token stream.
	token int
}

// disassemble groups opcode tokens into instructions and computes their program counters. A hex token that follows
// a push is its operand; a stray hex token (inlined constant data) advances the program counter by its own length
// but does not form an instruction.
func disassemble(tokens []string) []instruction {
	var instructions []instruction
	pc := 0
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if isHex(token) {
			pc += hexLength(token)
			continue
		}
		ins := instruction{pc: pc, name: token, token: i}
		size := pushSize(token)
		if size > 0 && i+1 < len(tokens) && isHex(tokens[i+1]) {
			ins.operand = tokens[i+1]
			i++
		}
		instructions = append(instructions, ins)
		pc += 1 + size
	}
	return instructions
}

// pushSize returns the operand size of a push opcode, or zero for anything else.
func pushSize(name string) int {
	op := vm.StringToOp(name)
	if op >= vm.PUSH1 && op <= vm.PUSH32 {
		return int(op-vm.PUSH1) + 1
	}
	return 0
}

func isHex(token string) bool {
	return strings.HasPrefix(token, "0x") || strings.HasPrefix(token, "0X")
}

func hexLength(token string) int {
	digits := len(token) - 2
	return (digits + 1) / 2
}

func hexValue(token string) (int, bool) {
	if !isHex(token) {
		return 0, false
	}
	value, err := strconv.ParseInt(token[2:], 16, 64)
	if err != nil {
		return 0, false
	}
	return int(value), true
}

// EmptyRevertTarget returns the program counter of the shared "revert with no data" block the compiler places at
// the end of the code: a JUMPDEST followed only by stack setup and a REVERT. The block is expected either as the
// last instructions or directly before a short data tail. -1 is returned if no such block exists.
func EmptyRevertTarget(tokens []string) int {
	instructions := disassemble(tokens)
	for _, tail := range []int{1, 2} {
		revertIndex := len(instructions) - tail
		if revertIndex < 1 || instructions[revertIndex].name != "REVERT" {
			continue
		}
		for i := revertIndex - 1; i >= 0 && i >= revertIndex-4; i-- {
			name := instructions[i].name
			if name == "JUMPDEST" {
				return instructions[i].pc
			}
			if pushSize(name) == 0 && name != "PUSH0" && !strings.HasPrefix(name, "DUP") {
				break
			}
		}
	}
	return -1
}

// legacyBuilder holds the state of one walk over the instruction stream.
type legacyBuilder struct {
	ast          *types.ASTNode
	instructions []instruction
	revertTarget int
	pcMap        types.PCMap
	// order records PCs in insertion order so the trailing revert rule can find the latest entry.
	order []int

	nonPayableFound bool
	fallbackFound   bool
}

// BuildLegacy reconstructs a PCMap from the AST, the decompressed source map and the opcode tokens, walking
// source map entries and instructions in lockstep.
func BuildLegacy(ast *types.ASTNode, sourceMap types.SourceMap, tokens []string) types.PCMap {
	b := &legacyBuilder{
		ast:          ast,
		instructions: disassemble(tokens),
		revertTarget: EmptyRevertTarget(tokens),
		pcMap:        make(types.PCMap),
	}

	lastPushed := -1
	for i, ins := range b.instructions {
		if i >= len(sourceMap) {
			break
		}
		b.visit(i, ins, sourceMap[i], lastPushed)
		// Only a push directly before a JUMPI names its destination.
		lastPushed = -1
		if value, ok := hexValue(ins.operand); ok {
			lastPushed = value
		}
	}
	return b.pcMap
}

func (b *legacyBuilder) visit(index int, ins instruction, src types.SourceMapElement, lastPushed int) {
	isRevertJump := ins.name == "JUMPI" && b.revertTarget >= 0 && lastPushed == b.revertTarget

	if src.HasSource() {
		if stmt := b.ast.GetNode(src); stmt != nil {
			item := &types.PCMapItem{Location: stmt.Location()}
			if ins.name == "REVERT" || isRevertJump {
				item.Dev = classifyStatement(stmt).Tag()
			}
			b.add(ins.pc, item)
			return
		}
	}

	switch {
	case !b.fallbackFound && b.isFallbackCheck(index):
		// Dispatch falls through to this jump when no selector matched.
		b.fallbackFound = true
		b.add(ins.pc, &types.PCMapItem{Dev: types.FallbackNotDefined.Tag()})
	case !b.nonPayableFound && b.isNonPayableCheck(index):
		b.nonPayableFound = true
		b.add(ins.pc, &types.PCMapItem{Dev: types.NonPayableCheck.Tag()})
	case ins.name == "REVERT":
		b.tagLatestStatement()
	}
}

// tagLatestStatement attributes a revert with no source of its own to the latest located entry, if that entry carries
// no tag yet. Entries without a location, such as the dispatch checks, are skipped.
func (b *legacyBuilder) tagLatestStatement() {
	for i := len(b.order) - 1; i >= 0; i-- {
		item := b.pcMap[b.order[i]]
		if item.Location == nil {
			continue
		}
		if item.Dev == "" {
			item.Dev = types.UserAssert.Tag()
		}
		return
	}
}

func (b *legacyBuilder) add(pc int, item *types.PCMapItem) {
	if _, exists := b.pcMap[pc]; !exists {
		b.order = append(b.order, pc)
	}
	b.pcMap[pc] = item
}

// isFallbackCheck matches a jump directly followed by the selector load: JUMPDEST PUSH1 0x00 CALLDATALOAD PUSH1 0xE0
// SHR.
func (b *legacyBuilder) isFallbackCheck(index int) bool {
	if !strings.Contains(b.instructions[index].name, "JUMP") || b.instructions[index].name == "JUMPDEST" {
		return false
	}
	next := b.instructions[index+1:]
	if len(next) < 5 {
		return false
	}
	return next[0].name == "JUMPDEST" &&
		strings.EqualFold(next[3].operand, "0xE0") &&
		next[4].name == "SHR"
}

// isNonPayableCheck matches CALLVALUE followed by a push of the revert target and a conditional jump.
func (b *legacyBuilder) isNonPayableCheck(index int) bool {
	if b.instructions[index].name != "CALLVALUE" || b.revertTarget < 0 {
		return false
	}
	next := b.instructions[index+1:]
	if len(next) < 2 || pushSize(next[0].name) == 0 || next[1].name != "JUMPI" {
		return false
	}
	value, ok := hexValue(next[0].operand)
	return ok && value == b.revertTarget
}

// classifyStatement picks the runtime check a reverting statement most likely hit.
func classifyStatement(stmt *types.ASTNode) types.RuntimeErrorType {
	switch stmt.ASTType {
	case "AugAssign", "BinOp":
		for _, child := range stmt.Children {
			if kind, ok := types.RuntimeErrorTypeFromOperator(child.ASTType); ok {
				return kind
			}
		}
	case "Subscript":
		return types.IndexOutOfRange
	}
	return types.UserAssert
}
