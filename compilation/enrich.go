package compilation

import (
	"strings"

	"github.com/crytic/vyperlens/compilation/abiutils"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/pkg/errors"
)

// panicCodeErrors maps Panic(uint256) codes to the checks raising the equivalent condition.
var panicCodeErrors = map[uint64]types.RuntimeErrorType{
	abiutils.PanicCodeAssertFailed:            types.UserAssert,
	abiutils.PanicCodeArithmeticUnderOverflow: types.IntegerOverflow,
	abiutils.PanicCodeDivideByZero:            types.DivisionByZero,
	abiutils.PanicCodeOutOfBoundsArrayAccess:  types.IndexOutOfRange,
}

// NewContractLogicError builds the error for a revert at pc of a contract's runtime code. The developer tag comes
// from the PCMap entry at pc, and the message from the revert payload when it carries a reason.
func NewContractLogicError(artifact *types.ContractArtifact, pc int, revertData []byte) *types.ContractLogicError {
	logicErr := &types.ContractLogicError{RevertData: revertData}
	if reason, ok := abiutils.DecodeRevertReason(revertData); ok {
		logicErr.Message = reason
	}
	if artifact != nil {
		if item, ok := artifact.PCMap[pc]; ok && item != nil {
			logicErr.DevMessage = item.Dev
		}
	}
	return logicErr
}

// EnrichError refines a contract logic error into a *types.RuntimeError when its developer tag, or failing that its
// revert reason, names a known runtime check. Any other error is returned unchanged.
func EnrichError(err error) error {
	var logicErr *types.ContractLogicError
	if !errors.As(err, &logicErr) {
		return err
	}
	var runtimeErr *types.RuntimeError
	if errors.As(err, &runtimeErr) {
		return err
	}

	if kind, ok := classifyLogicError(logicErr); ok {
		return &types.RuntimeError{Kind: kind, Cause: err}
	}
	return err
}

// classifyLogicError resolves the runtime check behind a revert.
func classifyLogicError(logicErr *types.ContractLogicError) (types.RuntimeErrorType, bool) {
	candidates := []string{logicErr.DevMessage}
	if message := abiutils.GetRevertErrorString(nil, logicErr.RevertData); message != nil {
		candidates = append(candidates, *message)
	}
	candidates = append(candidates, logicErr.Message)

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if kind, ok := types.ParseRuntimeErrorType(candidate); ok {
			return kind, true
		}
		if kind, ok := types.RuntimeErrorTypeByName(strings.TrimSpace(strings.TrimPrefix(candidate, types.DevTagPrefix))); ok {
			return kind, true
		}
	}

	if code := abiutils.GetPanicCode(nil, logicErr.RevertData); code != nil && code.IsUint64() {
		kind, ok := panicCodeErrors[code.Uint64()]
		return kind, ok
	}
	return "", false
}
