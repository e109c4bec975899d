package tracing

import (
	"encoding/json"
	"strings"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Frame is the VM state observed before one instruction executes.
type Frame struct {
	PC    uint64
	Op    vm.OpCode
	Depth int
	// Stack holds the stack words with the top of the stack last.
	Stack  []uint256.Int
	Memory []byte
}

// stackBack returns the n-th word from the top of the stack.
func (f *Frame) stackBack(n int) (*uint256.Int, bool) {
	if n >= len(f.Stack) {
		return nil, false
	}
	return &f.Stack[len(f.Stack)-1-n], true
}

// maxCalldataSize bounds the calldata read from memory for a call.
const maxCalldataSize = 1 << 20

// memorySlice returns size bytes of memory from offset, zero padded past the end of memory.
func (f *Frame) memorySlice(offset *uint256.Int, size *uint256.Int) []byte {
	if !offset.IsUint64() || !size.IsUint64() || size.Uint64() > maxCalldataSize {
		return nil
	}
	start, length := offset.Uint64(), size.Uint64()
	data := make([]byte, length)
	if start < uint64(len(f.Memory)) {
		copy(data, f.Memory[start:])
	}
	return data
}

// CallTarget returns the address and calldata of a call-family frame.
func (f *Frame) CallTarget() (common.Address, []byte, bool) {
	// CALL and CALLCODE carry a value word between the address and the arguments.
	var argsAt int
	switch f.Op {
	case vm.CALL, vm.CALLCODE:
		argsAt = 3
	case vm.DELEGATECALL, vm.STATICCALL:
		argsAt = 2
	default:
		return common.Address{}, nil, false
	}
	address, ok := f.stackBack(1)
	if !ok {
		return common.Address{}, nil, false
	}
	offset, okOffset := f.stackBack(argsAt)
	size, okSize := f.stackBack(argsAt + 1)
	if !okOffset || !okSize {
		return common.Address(address.Bytes20()), nil, true
	}
	return common.Address(address.Bytes20()), f.memorySlice(offset, size), true
}

func isCall(op vm.OpCode) bool {
	switch op {
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		return true
	}
	return false
}

func isReturn(op vm.OpCode) bool {
	switch op {
	case vm.RETURN, vm.REVERT, vm.STOP:
		return true
	}
	return false
}

func isPush(op vm.OpCode) bool {
	return op >= vm.PUSH0 && op <= vm.PUSH32
}

// FrameCursor is a forward-only position over a sequence of frames. Recursive traces share one cursor, so frames
// consumed by a callee are not seen again by its caller.
type FrameCursor struct {
	frames   []Frame
	position int
}

// NewFrameCursor returns a cursor at the first frame.
func NewFrameCursor(frames []Frame) *FrameCursor {
	return &FrameCursor{frames: frames}
}

// Next consumes and returns the next frame.
func (c *FrameCursor) Next() (*Frame, bool) {
	if c.position >= len(c.frames) {
		return nil, false
	}
	frame := &c.frames[c.position]
	c.position++
	return frame, true
}

// Position is the number of frames consumed so far.
func (c *FrameCursor) Position() int {
	return c.position
}

// Done reports whether every frame has been consumed.
func (c *FrameCursor) Done() bool {
	return c.position >= len(c.frames)
}

// SkipCall consumes the frames of a call made at depth, up to and including the first frame back at or above it.
func (c *FrameCursor) SkipCall(depth int) {
	for {
		frame, ok := c.Next()
		if !ok || frame.Depth <= depth {
			return
		}
	}
}

// structLog is one entry of a debug_traceTransaction struct logger result.
type structLog struct {
	PC     uint64   `json:"pc"`
	Op     string   `json:"op"`
	Depth  int      `json:"depth"`
	Stack  []string `json:"stack"`
	Memory []string `json:"memory"`
}

// ParseStructLogs decodes frames from struct logger output: either the full result object or its structLogs array.
func ParseStructLogs(data []byte) ([]Frame, error) {
	var logs []structLog
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "{") {
		var result struct {
			StructLogs []structLog `json:"structLogs"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, errors.Wrap(err, "unable to parse struct logs")
		}
		logs = result.StructLogs
	} else if err := json.Unmarshal(data, &logs); err != nil {
		return nil, errors.Wrap(err, "unable to parse struct logs")
	}

	frames := make([]Frame, 0, len(logs))
	for i, log := range logs {
		op := vm.StringToOp(log.Op)
		if op == vm.STOP && log.Op != "STOP" {
			return nil, errors.Errorf("unknown opcode %q in frame %d", log.Op, i)
		}
		frame := Frame{PC: log.PC, Op: op, Depth: log.Depth, Stack: make([]uint256.Int, len(log.Stack))}
		for j, word := range log.Stack {
			frame.Stack[j].SetBytes(common.FromHex(word))
		}
		frame.Memory = common.FromHex(strings.Join(log.Memory, ""))
		frames = append(frames, frame)
	}
	return frames, nil
}
