package platforms

import (
	"context"
	"iter"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/compilation/pragma"
)

// Vyper02Adapter compiles with 0.2.x releases.
type Vyper02Adapter struct{}

// Range implements Adapter.
func (a *Vyper02Adapter) Range() VersionRange {
	return VersionRange02
}

// DefaultOptimization implements Adapter. 0.2 only knows the boolean mode.
func (a *Vyper02Adapter) DefaultOptimization(*semver.Version) pragma.Optimization {
	return pragma.OptimizationTrue
}

// PCMapStrategy implements Adapter. 0.2 never emits structured maps.
func (a *Vyper02Adapter) PCMapStrategy(*semver.Version) PCMapStrategy {
	return PCMapLegacy
}

// BasePath implements Adapter. Imports only resolve relative to the -p directory.
func (a *Vyper02Adapter) BasePath(root string) string {
	return root
}

// Settings implements Adapter.
func (a *Vyper02Adapter) Settings(version *semver.Version, root string, sourceIDs []string, overrides Overrides) (VersionSettings, error) {
	return buildSettings(a, version, root, sourceIDs, overrides, nil)
}

// OutputSelection implements Adapter.
func (a *Vyper02Adapter) OutputSelection(root string, sourceIDs []string) map[string][]string {
	return selectOutputs(root, sourceIDs)
}

// Sources implements Adapter. Interface files must not be part of the sources.
func (a *Vyper02Adapter) Sources(root string, selection map[string][]string, _ imports.ImportMap) (map[string]Source, error) {
	return readSources(root, selection, func(sourceID string) bool { return !inInterfacesRoot(sourceID) })
}

// Interfaces implements Adapter. Remappings are passed through.
func (a *Vyper02Adapter) Interfaces(remappings map[string]InterfaceABI) map[string]InterfaceABI {
	return remappings
}

// Compile implements Adapter.
func (a *Vyper02Adapter) Compile(ctx context.Context, request *CompileRequest) iter.Seq2[*CompiledContract, error] {
	return compileWith(ctx, a, request)
}
