package platforms

import (
	"context"
	"iter"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
)

// Adapter describes the invocation contract of one compiler version range. Each range gets its own implementation;
// shared steps live in plain functions the implementations call.
type Adapter interface {
	// Range is the version range handled by the adapter.
	Range() VersionRange
	// DefaultOptimization is the optimization mode used for files without an optimize pragma.
	DefaultOptimization(version *semver.Version) pragma.Optimization
	// PCMapStrategy selects how program counter maps are derived for the version.
	PCMapStrategy(version *semver.Version) PCMapStrategy
	// BasePath returns the -p argument for the invocation, or "" to omit it.
	BasePath(root string) string

	// Settings groups the source IDs by settings key and builds the settings of each group.
	Settings(version *semver.Version, root string, sourceIDs []string, overrides Overrides) (VersionSettings, error)
	// OutputSelection returns the output selection for the source IDs. Interface-only files are never selected.
	OutputSelection(root string, sourceIDs []string) map[string][]string
	// Sources builds the "sources" member of the compiler input for an output selection.
	Sources(root string, selection map[string][]string, importMap imports.ImportMap) (map[string]Source, error)
	// Interfaces filters the configured interface remappings down to what the version accepts.
	Interfaces(remappings map[string]InterfaceABI) map[string]InterfaceABI

	// Compile runs the compiler once per settings group and yields every contract produced. Iteration stops at the
	// first error.
	Compile(ctx context.Context, request *CompileRequest) iter.Seq2[*CompiledContract, error]
}

// Runner invokes a compiler binary in standard JSON mode.
type Runner interface {
	CompileStandard(ctx context.Context, version *semver.Version, input []byte, basePath string) ([]byte, error)
}

// CompileRequest is everything needed to compile the source files assigned to one compiler version.
type CompileRequest struct {
	Version *semver.Version
	// Root is the absolute project root. Source IDs are relative to it.
	Root string
	// Settings holds the settings groups returned by Adapter.Settings.
	Settings  VersionSettings
	ImportMap imports.ImportMap
	// Interfaces maps "<key>/<Name>.json" to dependency ABIs substituted for interface imports.
	Interfaces map[string]InterfaceABI
	Runner     Runner
}

// CompiledContract is one contract produced by a compiler invocation.
type CompiledContract struct {
	Artifact *types.ContractArtifact
	// Content is the text the contract was compiled from, keyed by line number.
	Content types.Content
}

// Source returns the contract paired with its text for source lookups.
func (c *CompiledContract) Source() *types.ContractSource {
	return types.NewContractSource(c.Artifact, c.Artifact.SourceID, c.Content)
}

// PCMapStrategy selects how a program counter map is derived from compiler output.
type PCMapStrategy int

const (
	// PCMapLegacy reconstructs the map from opcodes, the source map and the AST.
	PCMapLegacy PCMapStrategy = iota
	// PCMapStructured translates the position and error maps emitted by the compiler.
	PCMapStructured
)

// String returns the strategy name.
func (s PCMapStrategy) String() string {
	switch s {
	case PCMapLegacy:
		return "legacy"
	case PCMapStructured:
		return "structured"
	}
	panic("unhandled pcmap strategy")
}
