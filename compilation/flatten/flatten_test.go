package flatten

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/config"
	"github.com/crytic/vyperlens/project"
	"github.com/crytic/vyperlens/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExtractMeta keeps only the first version pragma, in either syntax.
func TestExtractMeta(t *testing.T) {
	t.Parallel()
	versionPragma, cleaned := ExtractMeta("# @version 0.3.10\n# pragma version 0.3.9\nx: uint256\n")
	assert.Equal(t, "# @version 0.3.10", versionPragma)
	assert.Equal(t, "# pragma version 0.3.9\nx: uint256", cleaned)

	versionPragma, cleaned = ExtractMeta("x: uint256")
	assert.Empty(t, versionPragma)
	assert.Equal(t, "x: uint256", cleaned)
}

// TestExtractImports splits compiler interfaces from other imports.
func TestExtractImports(t *testing.T) {
	t.Parallel()
	source := strings.Join([]string{
		"from vyper.interfaces import ERC20",
		"import interfaces.IToken as Token",
		"from .lib import math",
		"",
		"x: uint256",
	}, "\n")

	stdlib, interfaces, cleaned := ExtractImports(source)
	assert.Equal(t, "from vyper.interfaces import ERC20", stdlib)
	assert.Equal(t, "import interfaces.IToken as Token\nfrom .lib import math", interfaces)
	assert.Equal(t, "\nx: uint256", cleaned)

	assert.Equal(t, map[string]string{"IToken": "Token"}, ExtractImportAliases(source))
}

// TestSourceToABI derives entries from decorated signatures only.
func TestSourceToABI(t *testing.T) {
	t.Parallel()
	source := `
# pragma version ~=0.4.0

balances: HashMap[address, uint256]

@external
@view
def balanceOf(owner: address) -> uint256:
    return self.balances[owner]

@external
def transfer(
    to: address,  # recipient
    amount: uint256 = 1,
) -> bool:
    return True

@external
@payable
@nonreentrant
def pair(a: DynArray[uint256, 3], b: Bytes[32]) -> (uint256, bool):
    return 0, False

@internal
def _hidden() -> uint256:
    return 1

def undecorated():
    pass
`
	entries := SourceToABI(source)
	require.Len(t, entries, 3)

	assert.Equal(t, ABIEntry{
		Type:            "function",
		Name:            "balanceOf",
		Inputs:          []ABIParameter{{Name: "owner", Type: "address"}},
		Outputs:         []ABIParameter{{Type: "uint256"}},
		StateMutability: "view",
	}, entries[0])

	assert.Equal(t, "transfer", entries[1].Name)
	assert.Equal(t, []ABIParameter{{Name: "to", Type: "address"}, {Name: "amount", Type: "uint256"}}, entries[1].Inputs)
	assert.Equal(t, DefaultMutability, entries[1].StateMutability)
	assert.Equal(t, "transfer(address,uint256)", entries[1].Signature())
	assert.Equal(t, "0xa9059cbb", entries[1].Selector())

	assert.Equal(t, "payable", entries[2].StateMutability)
	assert.Equal(t, []ABIParameter{{Name: "a", Type: "DynArray[uint256, 3]"}, {Name: "b", Type: "Bytes[32]"}}, entries[2].Inputs)
	assert.Equal(t, []ABIParameter{{Type: "uint256"}, {Type: "bool"}}, entries[2].Outputs)
}

// TestGenerateInterface renders functions and skips other members.
func TestGenerateInterface(t *testing.T) {
	t.Parallel()
	entries, err := ParseABIEntries([]byte(`{"abi": [
		{"type": "event", "name": "Transfer", "inputs": []},
		{"type": "function", "name": "approve", "stateMutability": "nonpayable",
		 "inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}],
		 "outputs": [{"name": "", "type": "bool"}]},
		{"type": "function", "name": "name", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "string"}]}
	]}`))
	require.NoError(t, err)

	expected := "interface IToken:\n" +
		"    def approve(spender: address, amount: uint256) -> bool: nonpayable\n" +
		"    def name() -> string: view\n" +
		"\n"
	assert.Equal(t, expected, GenerateInterface(entries, "IToken"))

	entries, err = ParseABIEntries([]byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, "interface Empty:\n\n", GenerateInterface(entries, "Empty"))
}

// TestStripDocstrings removes module docstrings but keeps indented ones.
func TestStripDocstrings(t *testing.T) {
	t.Parallel()
	source := strings.Join([]string{
		`"""`,
		`@title Token`,
		`"""`,
		`"""one line"""`,
		`@external`,
		`def f():`,
		`    """`,
		`    kept`,
		`    """`,
		`    pass`,
	}, "\n")
	assert.Equal(t, "@external\ndef f():\n    \"\"\"\n    kept\n    \"\"\"\n    pass", stripDocstrings(source))
	assert.Equal(t, "a\n\n\nb", collapseNewlines("a\n\n\n\n\n\nb"))
}

func loadProject(t *testing.T, files map[string]string) *project.Project {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, utils.WriteFiles(root, files))
	p, err := project.Load(root, config.GetDefaultProjectConfig())
	require.NoError(t, err)
	return p
}

// TestFlattenInterfaces replaces interface imports with generated interface blocks.
func TestFlattenInterfaces(t *testing.T) {
	t.Parallel()
	p := loadProject(t, map[string]string{
		"contracts/Main.vy": strings.Join([]string{
			"# @version ^0.3.7",
			"from vyper.interfaces import ERC20",
			"import contracts.IToken as Token",
			"import contracts.IPool as IPool",
			"",
			`"""`,
			"@title Main",
			`"""`,
			"",
			"@external",
			"def run(token: address) -> uint256:",
			"    return Token(token).balance()",
		}, "\n"),
		"contracts/IToken.vy": "@external\n@view\ndef balance() -> uint256:\n    return 0\n\n@internal\ndef _hidden():\n    pass\n",
		"contracts/IPool.json": `[{"type": "function", "name": "swap", "stateMutability": "payable",
			"inputs": [{"name": "amount", "type": "uint256"}], "outputs": []}]`,
	})

	flattener := NewFlattener(imports.NewResolver(imports.NewCache()))
	content, err := flattener.Flatten(context.Background(), p, "contracts/Main.vy")
	require.NoError(t, err)
	flattened := content.String()

	assert.Equal(t, "# @version ^0.3.7", content[1])
	assert.Contains(t, flattened, "from vyper.interfaces import ERC20")
	assert.Contains(t, flattened, "interface IPool:\n    def swap(amount: uint256): payable\n")
	assert.Contains(t, flattened, "interface Token:\n    def balance() -> uint256: view\n")
	assert.Less(t, strings.Index(flattened, "interface IPool:"), strings.Index(flattened, "interface Token:"))
	assert.Contains(t, flattened, "    return Token(token).balance()")
	assert.NotContains(t, flattened, "import contracts.")
	assert.NotContains(t, flattened, "_hidden")
	assert.NotContains(t, flattened, "@title")
	assert.NotContains(t, flattened, "\n\n\n\n")
}

// TestFlattenModules inlines modules once and rewrites their usages.
func TestFlattenModules(t *testing.T) {
	t.Parallel()
	p := loadProject(t, map[string]string{
		"contracts/Main.vy": strings.Join([]string{
			"# pragma version ~=0.4.0",
			"import contracts.lib.math as math",
			"import contracts.lib.scale as scale",
			"",
			"@external",
			"def double(x: uint256) -> uint256:",
			"    return math.twice(scale.unit(x))",
		}, "\n"),
		"contracts/lib/math.vy": "# pragma version ~=0.4.0\n\n@internal\ndef twice(x: uint256) -> uint256:\n    return x * 2\n",
		"contracts/lib/scale.vy": strings.Join([]string{
			"# pragma version ~=0.4.0",
			"import contracts.lib.math as math",
			"",
			"@internal",
			"def unit(x: uint256) -> uint256:",
			"    return math.twice(x) // 2",
		}, "\n"),
	})

	flattener := NewFlattener(imports.NewResolver(imports.NewCache()))
	content, err := flattener.Flatten(context.Background(), p, filepath.Join(p.Path(), "contracts", "Main.vy"))
	require.NoError(t, err)
	flattened := content.String()

	assert.Equal(t, "# pragma version ~=0.4.0", content[1])
	assert.Equal(t, 1, strings.Count(flattened, "pragma version"))
	assert.Equal(t, 1, strings.Count(flattened, "def twice(x: uint256) -> uint256:"))
	assert.Contains(t, flattened, "def unit(x: uint256) -> uint256:")
	assert.Contains(t, flattened, "    return self.twice(self.unit(x))")
	assert.Contains(t, flattened, "    return self.twice(x) // 2")
	assert.NotContains(t, flattened, "math.")
	assert.NotContains(t, flattened, "import ")
}
