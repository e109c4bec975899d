package tracing

import (
	"slices"
	"strings"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/logging"
	"github.com/pkg/errors"
)

// ErrTracingNotSupported is returned by a ForeignTracer that cannot map frames to source. The tracer then skips the
// call.
var ErrTracingNotSupported = errors.New("source tracing is not supported for this contract")

// ForeignTracer traces contracts built by another toolchain. It consumes the frames of the call from the shared
// cursor.
type ForeignTracer interface {
	Trace(cursor *FrameCursor, calldata []byte) (*Traceback, error)
}

// CalledContract is the target of a call. Exactly one of Source and Foreign is set.
type CalledContract struct {
	Source  *types.ContractSource
	Foreign ForeignTracer
}

// ContractLookup resolves call targets.
type ContractLookup interface {
	LookupContract(address common.Address) (*CalledContract, bool)
}

// SourceTracer maps execution frames to the source statements of Vyper contracts.
type SourceTracer struct {
	contracts ContractLookup
	logger    *logging.Logger
}

// NewSourceTracer returns a tracer resolving call targets with contracts, which may be nil.
func NewSourceTracer(contracts ContractLookup) *SourceTracer {
	return &SourceTracer{
		contracts: contracts,
		logger:    logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.TRACING_SERVICE),
	}
}

// Trace consumes the frames of an execution of contract called with calldata. The outermost call consumes the
// cursor until it is exhausted.
func (t *SourceTracer) Trace(cursor *FrameCursor, contract *types.ContractSource, calldata []byte) (*Traceback, error) {
	return t.trace(cursor, contract, calldata, false)
}

// lookup resolves the target of a call frame.
func (t *SourceTracer) lookup(frame *Frame) (*CalledContract, []byte) {
	address, calldata, ok := frame.CallTarget()
	if !ok || t.contracts == nil || address == (common.Address{}) {
		return nil, calldata
	}
	called, ok := t.contracts.LookupContract(address)
	if !ok || called == nil || (called.Source == nil && called.Foreign == nil) {
		return nil, calldata
	}
	return called, calldata
}

// pcGroup collects the candidate program counters sharing a location.
type pcGroup struct {
	location *types.SourceLocation
	pcs      []int
	dev      string
}

func sameLocation(a *types.SourceLocation, b *types.SourceLocation) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (t *SourceTracer) trace(cursor *FrameCursor, contract *types.ContractSource, calldata []byte, nested bool) (*Traceback, error) {
	methodID := calldata[:min(4, len(calldata))]
	artifact := contract.Artifact
	traceback := &Traceback{}
	completed := false
	pcmap := types.PCMap{}

	for {
		frame, ok := cursor.Next()
		if !ok {
			break
		}

		if isCall(frame.Op) {
			startDepth := frame.Depth
			called, subCalldata := t.lookup(frame)
			if called == nil {
				cursor.SkipCall(startDepth)
				continue
			}
			if called.Source != nil && types.FileKindOf(called.Source.SourcePath) == types.FileKindSource {
				sub, err := t.trace(cursor, called.Source, subCalldata, true)
				if err != nil {
					return nil, err
				}
				traceback.Extend(sub)
			} else {
				if called.Foreign == nil {
					cursor.SkipCall(startDepth)
					continue
				}
				sub, err := called.Foreign.Trace(cursor, subCalldata)
				if errors.Is(err, ErrTracingNotSupported) {
					t.logger.Debug("Skipping call into a contract without source tracing at depth ", startDepth)
					cursor.SkipCall(startDepth)
					continue
				} else if err != nil {
					return nil, err
				}
				traceback.Extend(sub)
			}
		} else if isReturn(frame.Op) {
			// The outermost call runs until the frames are exhausted, in case a nested call was missed.
			completed = nested
		}

		var candidates []int
		if item, ok := artifact.PCMap[int(frame.PC)]; isPush(frame.Op) && ok && item != nil {
			// A push followed by SSTORE attributes the push's location to the store.
			next := frame
			candidates = append(candidates, int(frame.PC))
			for next != nil && isPush(next.Op) {
				next, _ = cursor.Next()
				if next != nil && isPush(next.Op) {
					candidates = append(candidates, int(next.PC))
				}
			}

			nonPayableHit := false
			switch {
			case next != nil && next.Op == vm.SSTORE:
				pcmap = types.PCMap{int(next.PC): {Location: item.Location}}
			case next != nil && isReturn(next.Op):
				completed = true
			default:
				pcmap = artifact.PCMap
				nonPayableHit = strings.TrimPrefix(item.Dev, types.DevTagPrefix) == string(types.NonPayableCheck)
			}
			if !nonPayableHit && next != nil {
				frame = next
			}
		} else {
			pcmap = artifact.PCMap
		}

		candidates = append(candidates, int(frame.PC))
		candidates = slices.DeleteFunc(candidates, func(pc int) bool {
			item, ok := pcmap[pc]
			return !ok || item == nil
		})
		if len(candidates) == 0 && frame.Op == vm.REVERT {
			// Some user asserts revert one byte before their tagged program counter.
			if item, ok := pcmap[int(frame.PC)+1]; ok && item != nil && strings.Contains(item.Dev, string(types.UserAssert)) {
				candidates = append(candidates, int(frame.PC)+1)
			}
		}
		slices.Sort(candidates)
		candidates = slices.Compact(candidates)

		var groups []*pcGroup
		for _, pc := range candidates {
			item := pcmap[pc]
			dev := strings.TrimPrefix(item.Dev, types.DevTagPrefix)
			var group *pcGroup
			for _, existing := range groups {
				if sameLocation(existing.location, item.Location) {
					group = existing
					break
				}
			}
			if group == nil {
				groups = append(groups, &pcGroup{location: item.Location, pcs: []int{pc}, dev: dev})
				continue
			}
			group.pcs = append(group.pcs, pc)
			if group.dev == "" {
				group.dev = dev
			}
		}

		for _, group := range groups {
			if kind, ok := types.ParseRuntimeErrorType(group.dev); ok && kind != types.UserAssert {
				if kind == types.InvalidCalldataOrValue && len(traceback.SourceStatements()) > 0 {
					// This check shares its revert target with unrelated optimized paths.
					continue
				}
				name, fullName := t.builtinClosure(kind, traceback, artifact, methodID)
				traceback.AddBuiltinJump(name, fullName, kind.Tag(), group.pcs, contract.SourcePath)
				continue
			}
			if group.location == nil {
				continue
			}

			function := contract.LookupFunction(group.location, methodID)
			if function == nil {
				continue
			}
			if last := traceback.Last(); last == nil || last.Closure.Builtin || last.Closure.FullName != function.FullName {
				depth := frame.Depth
				if last != nil && last.Depth == frame.Depth {
					depth++
				}
				traceback.AddJump(group.location, function, depth, group.pcs, contract)
			} else {
				traceback.ExtendLast(group.location, group.pcs, contract)
			}

			backfillDevMessage(traceback, artifact, group.dev)
		}

		if completed {
			break
		}
	}
	return traceback, nil
}

// builtinClosure names the function a compiler-inserted check is attributed to. Non-payable checks run before any
// user code, so they belong to the called method. Other checks belong to the most recent flow.
func (t *SourceTracer) builtinClosure(kind types.RuntimeErrorType, traceback *Traceback, artifact *types.ContractArtifact, methodID []byte) (string, string) {
	if last := traceback.Last(); kind != types.NonPayableCheck && last != nil {
		return last.Closure.Name, last.Closure.FullName
	}
	if method, ok := artifact.MethodByID(methodID); ok {
		return method.RawName, method.Sig
	}
	name := strings.ToLower(kind.Name())
	return name, name
}

// backfillDevMessage sets the display message of the latest source statement when it is a tagged assert, using the
// developer message nearest to its end line.
func backfillDevMessage(traceback *Traceback, artifact *types.ContractArtifact, dev string) {
	statements := traceback.SourceStatements()
	if len(statements) == 0 {
		return
	}
	last := statements[len(statements)-1]
	tagged := strings.HasSuffix(dev, string(types.UserAssert))
	for _, line := range last.Content {
		if _, ok := types.MatchDevMessage(line); ok {
			tagged = true
		}
	}
	if !tagged {
		return
	}
	for line := last.Location.EndLine; line >= last.Location.StartLine; line-- {
		if message, ok := artifact.DevMessages[line]; ok {
			last.Type = message
			return
		}
	}
}
