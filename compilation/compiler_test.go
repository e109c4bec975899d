package compilation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/abiutils"
	"github.com/crytic/vyperlens/compilation/platforms"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/config"
	"github.com/crytic/vyperlens/project"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry has a fixed set of installed versions.
type fakeRegistry struct {
	installed []*semver.Version
}

func (r *fakeRegistry) Installable(context.Context) ([]*semver.Version, error) { return r.installed, nil }
func (r *fakeRegistry) Installed() ([]*semver.Version, error)                  { return r.installed, nil }
func (r *fakeRegistry) Install(context.Context, *semver.Version) error         { return nil }
func (r *fakeRegistry) BundledVersion() *semver.Version                        { return nil }

// echoRunner replies with one contract per selected source, named after the file, exposing a single view method
// named after the contract.
type echoRunner struct {
	calls  int
	inputs []platforms.StandardInput
}

func (r *echoRunner) CompileStandard(_ context.Context, _ *semver.Version, input []byte, _ string) ([]byte, error) {
	r.calls++
	var standardInput platforms.StandardInput
	if err := json.Unmarshal(input, &standardInput); err != nil {
		return nil, err
	}
	r.inputs = append(r.inputs, standardInput)

	contracts := make(map[string]any)
	for sourceID := range standardInput.Settings.OutputSelection {
		name := strings.TrimSuffix(path.Base(sourceID), path.Ext(sourceID))
		contracts[sourceID] = map[string]any{
			name: map[string]any{
				"abi": json.RawMessage(fmt.Sprintf(`[{"type": "function", "name": "%s", "stateMutability": "view",
					"inputs": [], "outputs": [{"name": "", "type": "uint256"}]}]`, strings.ToLower(name))),
				"evm": map[string]any{
					"bytecode": map[string]any{"object": "0x600080fd"},
					"deployedBytecode": map[string]any{
						"object":  "0x600080fd",
						"opcodes": "PUSH1 0x0 DUP1 REVERT",
						"sourceMap": json.RawMessage(`{"pc_pos_map_compressed": "-1:-1:0:-;-1:-1:0",
							"pc_pos_map": {"3": [1, 0, 1, 10]}, "error_map": {"3": "user assert"}}`),
					},
				},
			},
		}
	}
	return json.Marshal(map[string]any{"contracts": contracts, "sources": map[string]any{}})
}

// newCompiler loads a project tree and creates a compiler over the fakes.
func newCompiler(t *testing.T, files map[string]string, buildCache *BuildCache) (*VyperCompiler, *echoRunner) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, utils.WriteFiles(root, files))
	p, err := project.Load(root, nil)
	require.NoError(t, err)

	runner := &echoRunner{}
	compiler, err := NewVyperCompiler(p, CompilerOptions{
		Registry:   &fakeRegistry{installed: []*semver.Version{pragma.MustParseVersion("0.4.1")}},
		Runner:     runner,
		BuildCache: buildCache,
	})
	require.NoError(t, err)
	return compiler, runner
}

func collect(t *testing.T, compiler *VyperCompiler, paths []string, settings *CompileSettings) []*platforms.CompiledContract {
	t.Helper()
	var contracts []*platforms.CompiledContract
	for contract, err := range compiler.Compile(context.Background(), paths, settings) {
		require.NoError(t, err)
		contracts = append(contracts, contract)
	}
	return contracts
}

func contractNames(contracts []*platforms.CompiledContract) []string {
	names := make([]string, len(contracts))
	for i, contract := range contracts {
		names[i] = contract.Artifact.Name
	}
	return names
}

var projectSources = map[string]string{
	"contracts/Token.vy":             "# pragma version ~=0.4.0\n\n@external\n@view\ndef token() -> uint256:\n    return 1\n",
	"contracts/Vault.vy":             "# pragma version ~=0.4.0\nimport contracts.interfaces.IVault as IVault\n",
	"contracts/interfaces/IVault.vyi": "# pragma version ~=0.4.0\n@external\ndef vault() -> uint256:\n    ...\n",
}

// TestCompile compiles a project, publishes events, records compiler usage and serves unchanged builds from cache.
func TestCompile(t *testing.T) {
	buildCache, err := OpenBuildCache(t.TempDir())
	require.NoError(t, err)
	defer buildCache.Close()
	compiler, runner := newCompiler(t, projectSources, buildCache)

	var selected []VersionSelectedEvent
	var compiled []ContractCompiledEvent
	compiler.Events.VersionSelected.Subscribe(func(event VersionSelectedEvent) error {
		selected = append(selected, event)
		return nil
	})
	compiler.Events.ContractCompiled.Subscribe(func(event ContractCompiledEvent) error {
		compiled = append(compiled, event)
		return nil
	})

	contracts := collect(t, compiler, nil, nil)
	assert.Equal(t, []string{"Token", "Vault"}, contractNames(contracts))
	assert.Equal(t, 1, runner.calls)
	assert.Contains(t, runner.inputs[0].Sources, "contracts/interfaces/IVault.vyi")
	assert.NotContains(t, runner.inputs[0].Settings.OutputSelection, "contracts/interfaces/IVault.vyi")

	require.Len(t, selected, 1)
	assert.Equal(t, "0.4.1", pragma.FormatVersion(selected[0].Version))
	assert.Contains(t, selected[0].SourceIDs, "contracts/Token.vy")
	require.Len(t, compiled, 2)
	assert.False(t, compiled[0].Cached)
	assert.Equal(t, selected[0].CompilationID, compiled[0].CompilationID)

	usages := compiler.CompilersUsed()
	require.Len(t, usages, 1)
	assert.Equal(t, "gas%cancun", usages[0].SettingsKey)
	assert.Equal(t, []string{"Token", "Vault"}, usages[0].Contracts)

	token := contracts[0].Artifact
	assert.Equal(t, types.UserAssert.Tag(), token.PCMap[3].Dev)

	// An unchanged project is served from the build cache with decoded members restored.
	compiled = nil
	cachedContracts := collect(t, compiler, nil, nil)
	assert.Equal(t, 1, runner.calls)
	require.Len(t, cachedContracts, 2)
	assert.True(t, compiled[0].Cached)
	cachedToken := cachedContracts[0].Artifact
	assert.Equal(t, token.RuntimeBytecode, cachedToken.RuntimeBytecode)
	assert.Equal(t, token.Opcodes, cachedToken.Opcodes)
	assert.Contains(t, cachedToken.ABI.Methods, "token")
	assert.Equal(t, token.PCMap[3].Dev, cachedToken.PCMap[3].Dev)
	assert.Equal(t, contracts[0].Content, cachedContracts[0].Content)
	assert.Equal(t, ComputeArtifactHash([]*types.ContractArtifact{token}), ComputeArtifactHash([]*types.ContractArtifact{cachedToken}))

	// Editing a source invalidates the cached build.
	tokenPath := filepath.Join(compiler.Project().Path(), "contracts", "Token.vy")
	require.NoError(t, os.WriteFile(tokenPath, []byte(projectSources["contracts/Token.vy"]+"# edited\n"), 0644))
	collect(t, compiler, nil, nil)
	assert.Equal(t, 2, runner.calls)
}

// TestCompileStopsOnHandlerError surfaces an event handler failure as a compile error.
func TestCompileStopsOnHandlerError(t *testing.T) {
	compiler, runner := newCompiler(t, projectSources, nil)
	compiler.Events.VersionSelected.Subscribe(func(VersionSelectedEvent) error {
		return errors.New("rejected")
	})

	var compileErr error
	for _, err := range compiler.Compile(context.Background(), nil, nil) {
		compileErr = err
	}
	assert.EqualError(t, compileErr, "rejected")
	assert.Zero(t, runner.calls)
}

// TestCompilerSettings groups settings per version and honors overrides.
func TestCompilerSettings(t *testing.T) {
	compiler, _ := newCompiler(t, projectSources, nil)

	settings, err := compiler.CompilerSettings(context.Background(), nil, &CompileSettings{EVMVersion: "paris"})
	require.NoError(t, err)
	require.Contains(t, settings, "0.4.1")
	assert.Equal(t, []string{"gas%paris"}, settings["0.4.1"].Keys())
	assert.Equal(t, []string{"contracts/Token.vy", "contracts/Vault.vy"}, settings["0.4.1"]["gas%paris"].SourceIDs())

	versionMap, err := compiler.VersionMap(context.Background(), nil, nil)
	require.NoError(t, err)
	version, ok := versionMap.VersionOf("contracts/interfaces/IVault.vyi")
	require.True(t, ok)
	assert.Equal(t, "0.4.1", pragma.FormatVersion(version))

	importMap, err := compiler.Imports(context.Background(), []string{"contracts/Vault.vy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"contracts/interfaces/IVault.vyi"}, importMap.ImportedSourceIDs("contracts/Vault.vy"))
}

// TestCompileCode compiles source text next to the project and cleans up afterward.
func TestCompileCode(t *testing.T) {
	compiler, _ := newCompiler(t, projectSources, nil)

	contracts, err := compiler.CompileCode(context.Background(), "# pragma version ~=0.4.0\n", "Snippet", nil)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, "Snippet", contracts[0].Artifact.Name)
	assert.Equal(t, "Snippet.vy", contracts[0].Artifact.SourceID)

	leftovers, err := filepath.Glob(filepath.Join(compiler.Project().Path(), ".vyperlens-code-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	_, err = compiler.CompileCode(context.Background(), "", "", nil)
	assert.Error(t, err)
}

// TestInterfaceRemappings compiles dependencies on demand and keys their ABIs by remapping and name.
func TestInterfaceRemappings(t *testing.T) {
	files := map[string]string{
		config.DefaultConfigFileName: `
dependencies:
  - name: tokens
    version: 1.0.0
    local: ./deps/tokens
vyper:
  import_remapping:
    - erc=tokens
`,
		"contracts/Main.vy":                           "# pragma version ~=0.4.0\n",
		"deps/tokens/" + config.DefaultConfigFileName: "contracts_folder: src\n",
		"deps/tokens/src/ERC20.vy":                    "# pragma version ~=0.4.0\n",
	}
	compiler, runner := newCompiler(t, files, nil)

	interfaces, err := compiler.interfaceRemappings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	require.Contains(t, interfaces, "erc/ERC20.json")
	require.Contains(t, interfaces, "tokens/ERC20.json")
	assert.JSONEq(t, string(interfaces["erc/ERC20.json"].ABI), string(interfaces["tokens/ERC20.json"].ABI))

	// The dependency keeps its ABIs, so it is not compiled again.
	_, err = compiler.interfaceRemappings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)

	contracts := collect(t, compiler, nil, nil)
	assert.Equal(t, []string{"Main"}, contractNames(contracts))
}

// TestEnrichError classifies reverts by tag, reason and panic code.
func TestEnrichError(t *testing.T) {
	t.Parallel()
	panicData := append([]byte{0x4e, 0x48, 0x7b, 0x71}, make([]byte, 32)...)
	panicData[len(panicData)-1] = abiutils.PanicCodeDivideByZero

	tests := []struct {
		name     string
		err      error
		expected types.RuntimeErrorType
	}{
		{"dev tag", &types.ContractLogicError{DevMessage: types.IntegerOverflow.Tag()}, types.IntegerOverflow},
		{"member name", &types.ContractLogicError{DevMessage: "dev: NONPAYABLE_CHECK"}, types.NonPayableCheck},
		{"revert reason", &types.ContractLogicError{RevertData: abiutils.EncodeRevertErrorString("Division by zero")}, types.DivisionByZero},
		{"panic code", &types.ContractLogicError{RevertData: panicData}, types.DivisionByZero},
		{"wrapped", errors.Wrap(&types.ContractLogicError{DevMessage: types.ModuloByZero.Tag()}, "call failed"), types.ModuloByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enriched := EnrichError(tt.err)
			var runtimeErr *types.RuntimeError
			require.True(t, errors.As(enriched, &runtimeErr))
			assert.Equal(t, tt.expected, runtimeErr.Kind)
			assert.Equal(t, tt.err, runtimeErr.Cause)

			var logicErr *types.ContractLogicError
			assert.True(t, errors.As(enriched, &logicErr))
		})
	}

	unknown := &types.ContractLogicError{DevMessage: "dev: custom check"}
	assert.Same(t, unknown, EnrichError(unknown))
	plain := errors.New("out of gas")
	assert.Same(t, plain, EnrichError(plain))

	artifact := &types.ContractArtifact{PCMap: types.PCMap{7: {Dev: types.IndexOutOfRange.Tag()}}}
	logicErr := NewContractLogicError(artifact, 7, abiutils.EncodeRevertErrorString("bad index"))
	assert.Equal(t, "bad index", logicErr.Message)
	assert.Equal(t, types.IndexOutOfRange.Tag(), logicErr.DevMessage)
	var runtimeErr *types.RuntimeError
	require.True(t, errors.As(EnrichError(logicErr), &runtimeErr))
	assert.Equal(t, types.IndexOutOfRange, runtimeErr.Kind)
}
