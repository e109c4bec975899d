package platforms

import (
	"context"
	"iter"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/compilation/pragma"
)

var (
	// lastLegacyPCMapVersion is the newest release without structured error maps.
	lastLegacyPCMapVersion = pragma.MustParseVersion("0.3.7")
	// firstGasModeVersion is the first 0.3 release accepting named optimization modes.
	firstGasModeVersion = pragma.MustParseVersion("0.3.10")
)

// Vyper03Adapter compiles with 0.3.x releases.
type Vyper03Adapter struct{}

// Range implements Adapter.
func (a *Vyper03Adapter) Range() VersionRange {
	return VersionRange03
}

// DefaultOptimization implements Adapter. Named modes replaced the boolean in 0.3.10.
func (a *Vyper03Adapter) DefaultOptimization(version *semver.Version) pragma.Optimization {
	if version.LessThan(firstGasModeVersion) {
		return pragma.OptimizationTrue
	}
	return pragma.OptimizationGas
}

// PCMapStrategy implements Adapter.
func (a *Vyper03Adapter) PCMapStrategy(version *semver.Version) PCMapStrategy {
	if version.GreaterThan(lastLegacyPCMapVersion) {
		return PCMapStructured
	}
	return PCMapLegacy
}

// BasePath implements Adapter.
func (a *Vyper03Adapter) BasePath(root string) string {
	return root
}

// Settings implements Adapter.
func (a *Vyper03Adapter) Settings(version *semver.Version, root string, sourceIDs []string, overrides Overrides) (VersionSettings, error) {
	return buildSettings(a, version, root, sourceIDs, overrides, nil)
}

// OutputSelection implements Adapter.
func (a *Vyper03Adapter) OutputSelection(root string, sourceIDs []string) map[string][]string {
	return selectOutputs(root, sourceIDs)
}

// Sources implements Adapter. Interface files must not be part of the sources.
func (a *Vyper03Adapter) Sources(root string, selection map[string][]string, _ imports.ImportMap) (map[string]Source, error) {
	return readSources(root, selection, func(sourceID string) bool { return !inInterfacesRoot(sourceID) })
}

// Interfaces implements Adapter. Remappings are passed through.
func (a *Vyper03Adapter) Interfaces(remappings map[string]InterfaceABI) map[string]InterfaceABI {
	return remappings
}

// Compile implements Adapter.
func (a *Vyper03Adapter) Compile(ctx context.Context, request *CompileRequest) iter.Seq2[*CompiledContract, error] {
	return compileWith(ctx, a, request)
}
