package platforms

import (
	"context"
	"iter"
	"os"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/pkg/errors"
)

// Vyper04Adapter compiles with 0.4.0 and later releases. Imports are resolved by module name through the search
// paths, so interface files and every imported module travel in the sources instead of through remappings.
type Vyper04Adapter struct{}

// Range implements Adapter.
func (a *Vyper04Adapter) Range() VersionRange {
	return VersionRange04
}

// DefaultOptimization implements Adapter.
func (a *Vyper04Adapter) DefaultOptimization(*semver.Version) pragma.Optimization {
	return pragma.OptimizationGas
}

// PCMapStrategy implements Adapter.
func (a *Vyper04Adapter) PCMapStrategy(*semver.Version) PCMapStrategy {
	return PCMapStructured
}

// BasePath implements Adapter. Search paths replace the base path.
func (a *Vyper04Adapter) BasePath(string) string {
	return ""
}

// Settings implements Adapter. Search paths always include the project root.
func (a *Vyper04Adapter) Settings(version *semver.Version, root string, sourceIDs []string, overrides Overrides) (VersionSettings, error) {
	return buildSettings(a, version, root, sourceIDs, overrides, func(settings *Settings) {
		settings.SearchPaths = append(append([]string{}, overrides.SearchPaths...), ".", root)
		settings.EnableDecimals = overrides.EnableDecimals
	})
}

// OutputSelection implements Adapter.
func (a *Vyper04Adapter) OutputSelection(root string, sourceIDs []string) map[string][]string {
	return selectOutputs(root, sourceIDs)
}

// Sources implements Adapter. Every resolved import of a selected file is added under its own source ID.
func (a *Vyper04Adapter) Sources(root string, selection map[string][]string, importMap imports.ImportMap) (map[string]Source, error) {
	sources, err := readSources(root, selection, nil)
	if err != nil {
		return nil, err
	}
	for _, sourceID := range sortedKeys(selection) {
		for _, imp := range importMap[sourceID] {
			if !imp.IsResolved() || imp.SourceID == "" {
				continue
			}
			if _, ok := sources[imp.SourceID]; ok {
				continue
			}
			data, err := os.ReadFile(imp.Path)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read import %s of %s", imp.Raw, sourceID)
			}
			sources[imp.SourceID] = Source{Content: string(data)}
		}
	}
	return sources, nil
}

// Interfaces implements Adapter. Remapping is not supported.
func (a *Vyper04Adapter) Interfaces(map[string]InterfaceABI) map[string]InterfaceABI {
	return nil
}

// Compile implements Adapter.
func (a *Vyper04Adapter) Compile(ctx context.Context, request *CompileRequest) iter.Seq2[*CompiledContract, error] {
	return compileWith(ctx, a, request)
}
