package coverage

import (
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/config"
	"github.com/crytic/vyperlens/logging"
)

// overloadJumpThreshold is the largest program counter gap between two dispatch statements of the same overload.
const overloadJumpThreshold = 10

// UnknownContractName names contracts whose artifact has no name.
const UnknownContractName = "__UnknownContract__"

// Profiler attributes the instrumented program counters of compiled contracts to functions and statements.
type Profiler struct {
	exclusions []config.CoverageExclusion
	logger     *logging.Logger
}

// NewProfiler returns a profiler skipping the contracts and functions matched by the exclusions.
func NewProfiler(exclusions []config.CoverageExclusion) *Profiler {
	return &Profiler{
		exclusions: exclusions,
		logger:     logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.COVERAGE_SERVICE),
	}
}

// globMatch matches a name against a glob pattern. Malformed patterns match nothing.
func globMatch(pattern string, name string) bool {
	matched, err := doublestar.Match(pattern, name)
	return err == nil && matched
}

// ExcludesContract reports whether every function of the contract is excluded.
func (p *Profiler) ExcludesContract(contractName string) bool {
	for _, exclusion := range p.exclusions {
		if globMatch(exclusion.ContractName, contractName) && (exclusion.MethodName == "" || exclusion.MethodName == "*") {
			return true
		}
	}
	return false
}

// ExcludesFunction reports whether the function of the contract is excluded.
func (p *Profiler) ExcludesFunction(contractName string, functionName string) bool {
	for _, exclusion := range p.exclusions {
		if globMatch(exclusion.ContractName, contractName) && globMatch(exclusion.MethodName, functionName) {
			return true
		}
	}
	return false
}

// pendingStatement is a dispatch statement whose overload is decided after every program counter has been seen.
type pendingStatement struct {
	pc       int
	location *types.SourceLocation
}

// Profile registers the contract and its statements in the source's coverage record. Returns nil when the whole
// contract is excluded.
func (p *Profiler) Profile(sourceCoverage *SourceCoverage, contract *types.ContractSource) *ContractCoverage {
	artifact := contract.Artifact
	contractName := artifact.Name
	if contractName == "" {
		contractName = UnknownContractName
	}
	if p.ExcludesContract(contractName) {
		p.logger.Debug("Excluding contract ", contractName, " from coverage")
		return nil
	}

	contractCoverage := sourceCoverage.Include(contractName)
	profile := func(name string, fullName string, pc int, location *types.SourceLocation, tag string) {
		if p.ExcludesFunction(contractName, name) {
			return
		}
		contractCoverage.Include(name, fullName).ProfileStatement(pc, location, tag)
	}

	// Keyed by the name of the overloaded function.
	pending := make(map[string][]pendingStatement)
	for _, pc := range artifact.PCMap.SortedPCs() {
		item := artifact.PCMap[pc]
		if pc < 0 || !item.IsInstrumented() {
			continue
		}

		if item.Location == nil {
			profile(BuiltinFunctionName, BuiltinFunctionName, pc, nil, coverableTag(item.Dev))
			continue
		}

		location := item.Location
		function := contract.LookupFunction(location, nil)
		if function == nil {
			continue
		}

		overloads := artifact.MethodsNamed(function.Name)
		switch {
		case len(overloads) > 1:
			inSignature := location.StartLine < function.Offset
			if inSignature && location.StartLine != location.EndLine {
				continue
			}
			// The overload with the most inputs owns the body.
			longest := overloads[len(overloads)-1]
			if inSignature {
				pending[longest.RawName] = append(pending[longest.RawName], pendingStatement{pc: pc, location: location})
			} else {
				profile(longest.RawName, longest.Sig, pc, location, coverableTag(item.Dev))
			}
		case len(overloads) == 1:
			profile(function.Name, overloads[0].Sig, pc, location, coverableTag(item.Dev))
		default:
			// Internal function.
			fullName := function.FullName
			if fullName == "" {
				fullName = function.Name
			}
			profile(function.Name, fullName, pc, location, coverableTag(item.Dev))
		}
	}

	for _, name := range sortedNames(pending) {
		if p.ExcludesFunction(contractName, name) {
			continue
		}
		overloads := artifact.MethodsNamed(name)
		for i, bucket := range bucketDispatchStatements(pending[name], len(overloads)-1) {
			function := contractCoverage.Include(name, overloads[i].Sig)
			for _, statement := range bucket {
				function.ProfileStatement(statement.pc, statement.location, "")
			}
		}
	}

	// Public variable getters have no statements of their own.
	for _, method := range artifact.ViewMethods() {
		if _, ok := contractCoverage.Function(method.Sig); ok {
			continue
		}
		if p.ExcludesFunction(contractName, method.RawName) {
			continue
		}
		contractCoverage.Include(method.RawName, method.Sig)
	}
	return contractCoverage
}

// bucketDispatchStatements splits dispatch statements, ordered by program counter, into one bucket per generated
// overload. A gap larger than overloadJumpThreshold starts the next bucket. Statements left once every bucket has
// been started are dropped.
func bucketDispatchStatements(statements []pendingStatement, bucketCount int) [][]pendingStatement {
	if bucketCount <= 0 {
		return nil
	}
	slices.SortFunc(statements, func(a, b pendingStatement) int {
		return a.pc - b.pc
	})

	buckets := make([][]pendingStatement, bucketCount)
	index := 0
	for _, statement := range statements {
		current := buckets[index]
		if len(current) > 0 && statement.pc-current[len(current)-1].pc > overloadJumpThreshold {
			index++
			if index >= bucketCount {
				break
			}
		}
		buckets[index] = append(buckets[index], statement)
	}
	return buckets
}

// coverableTag keeps the developer tags of checks users can be expected to cover.
func coverableTag(dev string) string {
	if !strings.HasPrefix(dev, types.DevTagPrefix) || strings.Contains(dev, string(types.UserAssert)) {
		return ""
	}
	return dev
}

func sortedNames(pending map[string][]pendingStatement) []string {
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

