package imports

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProject struct {
	id           string
	root         string
	contracts    string
	dependencies []Dependency
	sitePackages map[string]Project
}

func (p *testProject) ID() string                 { return p.id }
func (p *testProject) Path() string               { return p.root }
func (p *testProject) ContractsFolder() string    { return filepath.Join(p.root, p.contracts) }
func (p *testProject) Dependencies() []Dependency { return p.dependencies }
func (p *testProject) SitePackage(name string) (Project, bool) {
	pkg, ok := p.sitePackages[name]
	return pkg, ok
}

type testDependency struct {
	name         string
	project      Project
	compiled     bool
	compileErr   error
	compileCalls int
}

func (d *testDependency) Name() string           { return d.name }
func (d *testDependency) Version() string        { return "1.0.0" }
func (d *testDependency) PackageID() string      { return d.name + "@1.0.0" }
func (d *testDependency) Project() Project       { return d.project }
func (d *testDependency) HasContractTypes() bool { return d.compiled }
func (d *testDependency) Compile(ctx context.Context) error {
	d.compileCalls++
	return d.compileErr
}

// newTestProject lays out files under a temporary project root.
func newTestProject(t *testing.T, id string, files map[string]string) *testProject {
	root := t.TempDir()
	require.NoError(t, utils.WriteFiles(root, files))
	return &testProject{id: id, root: root, contracts: "contracts"}
}

func summarize(imports []*Import) [][2]string {
	summary := make([][2]string, 0, len(imports))
	for _, imp := range imports {
		id := imp.SourceID
		if id == "" {
			id = imp.Raw
		}
		summary = append(summary, [2]string{imp.Kind.String(), id})
	}
	return summary
}

// TestParseImportLine verifies both import syntaxes and non-import lines.
func TestParseImportLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line     string
		expected string
		ok       bool
	}{
		{"import interfaces.IToken as IToken", "interfaces.IToken", true},
		{"from ethereum.ercs import IERC20", "ethereum.ercs.IERC20", true},
		{"from . import helpers", ".helpers", true},
		{"from .. import helpers", "..helpers", true},
		{"from ..lib import math", "..lib.math", true},
		{"from snekmate.auth import ownable as ow", "snekmate.auth.ownable", true},
		{"    import indented", "", false},
		{"# import commented", "", false},
		{"from x", "", false},
		{"importer: address", "", false},
	}
	for _, test := range tests {
		raw, ok := ParseImportLine(test.line)
		assert.Equal(t, test.ok, ok, test.line)
		assert.Equal(t, test.expected, raw, test.line)
	}
}

// TestResolveLocalImports covers every local classification and transitive ordering.
func TestResolveLocalImports(t *testing.T) {
	t.Parallel()
	project := newTestProject(t, "local", map[string]string{
		"contracts/A.vy": "# @version 0.3.10\n" +
			"import interfaces.IB as IB\n" +
			"from . import C\n" +
			"import contracts.D as D\n" +
			"from ethereum.ercs import IERC20\n" +
			"import missing.Thing as Thing\n",
		"contracts/interfaces/IB.vyi": "@external\ndef b() -> uint256: ...\n",
		"contracts/C.vy":              "import lib.E as E\n",
		"contracts/lib/E.json":        "[]",
		"contracts/D.vy":              "x: uint256\n",
	})

	importMap, err := NewResolver(nil).Resolve(context.Background(), project, []string{"contracts/A.vy"})
	require.NoError(t, err)
	require.Equal(t, []string{"contracts/A.vy"}, importMap.SourceIDs())

	expected := [][2]string{
		{"local-relative", "contracts/interfaces/IB.vyi"},
		{"local-relative", "contracts/lib/E.json"},
		{"local-relative", "contracts/C.vy"},
		{"local-absolute", "contracts/D.vy"},
		{"builtin", "ethereum.ercs.IERC20"},
		{"unresolved", "missing.Thing"},
	}
	assert.Equal(t, expected, summarize(importMap["contracts/A.vy"]))
	assert.Len(t, importMap.ImportedPaths("contracts/A.vy"), 4)
	assert.Len(t, importMap.Unresolved(), 1)

	for _, imp := range importMap["contracts/A.vy"][:4] {
		assert.Same(t, project, imp.Project)
	}
}

// TestResolveDependencyImport checks dependency lookup and compile-on-demand.
func TestResolveDependencyImport(t *testing.T) {
	t.Parallel()
	dependencyProject := newTestProject(t, "dep", map[string]string{
		"src/tokens/ERC20.vy":   "from . import Ownable\n",
		"src/tokens/Ownable.vy": "owner: public(address)\n",
		"src/auth/Access.vy":    "admin: public(address)\n",
	})
	dependencyProject.contracts = "src"
	dependency := &testDependency{name: "mydep", project: dependencyProject, compileErr: errors.New("boom")}
	excluded := &testDependency{name: "snekmate", project: dependencyProject}

	project := newTestProject(t, "main", map[string]string{
		"contracts/Token.vy": "import mydep.tokens.ERC20 as ERC20\n",
		"contracts/Other.vy": "import mydep.tokens.ERC20 as ERC20\nimport snekmate.auth.Access as Access\n",
	})
	project.dependencies = []Dependency{dependency, excluded}

	resolver := NewResolver(nil)
	importMap, err := resolver.Resolve(context.Background(), project, []string{"contracts/Token.vy", "contracts/Other.vy"})
	require.NoError(t, err)

	assert.Equal(t, [][2]string{
		{"local-relative", "src/tokens/Ownable.vy"},
		{"dependency", "src/tokens/ERC20.vy"},
	}, summarize(importMap["contracts/Token.vy"]))

	other := importMap["contracts/Other.vy"]
	require.Len(t, other, 3)
	assert.Equal(t, ImportKindDependency, other[2].Kind)
	assert.Same(t, excluded, other[2].Dependency)

	// A failing compile is attempted once per session and never propagated.
	assert.Equal(t, 1, dependency.compileCalls)
	assert.Equal(t, 0, excluded.compileCalls)
}

// TestResolveSitePackage checks the installed-package lookup against the whole package payload.
func TestResolveSitePackage(t *testing.T) {
	t.Parallel()
	sitePackages := t.TempDir()
	require.NoError(t, utils.WriteFiles(sitePackages, map[string]string{
		"pkg/utils/Math.vy": "@internal\ndef add(a: uint256, b: uint256) -> uint256:\n    return a + b\n",
	}))
	pkg := &testProject{id: "pkg", root: filepath.Join(sitePackages, "pkg"), contracts: "."}

	project := newTestProject(t, "main", map[string]string{
		"contracts/A.vy": "from pkg.utils import Math\n",
	})
	project.sitePackages = map[string]Project{"pkg": pkg}

	importMap, err := NewResolver(nil).Resolve(context.Background(), project, []string{"contracts/A.vy"})
	require.NoError(t, err)
	imports := importMap["contracts/A.vy"]
	require.Len(t, imports, 1)
	assert.Equal(t, ImportKindSitePackage, imports[0].Kind)
	assert.Equal(t, "pkg/utils/Math.vy", imports[0].SourceID)
	assert.Same(t, pkg, imports[0].Project)
}

// TestResolveCachesAndTerminatesCycles verifies at-most-once scanning and cycle safety.
func TestResolveCachesAndTerminatesCycles(t *testing.T) {
	t.Parallel()
	project := newTestProject(t, "cycle", map[string]string{
		"contracts/A.vy": "from . import B\n",
		"contracts/B.vy": "from . import A\n",
	})
	cache := NewCache()
	resolver := NewResolver(cache)

	importMap, err := resolver.Resolve(context.Background(), project, []string{"contracts/A.vy", "contracts/B.vy"})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"local-relative", "contracts/B.vy"}}, summarize(importMap["contracts/A.vy"]))
	assert.Equal(t, [][2]string{{"local-relative", "contracts/A.vy"}}, summarize(importMap["contracts/B.vy"]))
	assert.Equal(t, 2, cache.Len())

	// Later edits are not observed within the same session.
	require.NoError(t, utils.WriteFiles(project.root, map[string]string{"contracts/A.vy": "x: uint256\n"}))
	again, err := NewResolver(cache).Resolve(context.Background(), project, []string{"contracts/A.vy"})
	require.NoError(t, err)
	assert.Equal(t, importMap["contracts/A.vy"], again["contracts/A.vy"])
}

// TestResolveIsOrderIndependent verifies shuffled inputs produce the same map.
func TestResolveIsOrderIndependent(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"contracts/A.vy": "from . import C\n",
		"contracts/B.vy": "from . import C\nfrom . import A\n",
		"contracts/C.vy": "",
	}
	project := newTestProject(t, "order", files)

	first, err := NewResolver(nil).Resolve(context.Background(), project,
		[]string{"contracts/C.vy", "contracts/B.vy", "contracts/A.vy"})
	require.NoError(t, err)
	second, err := NewResolver(nil).Resolve(context.Background(), project,
		[]string{filepath.Join(project.root, "contracts/A.vy"), "contracts/B.vy", "contracts/C.vy"})
	require.NoError(t, err)

	require.Equal(t, first.SourceIDs(), second.SourceIDs())
	for _, id := range first.SourceIDs() {
		assert.Equal(t, summarize(first[id]), summarize(second[id]), id)
	}
	assert.Equal(t, []string{"contracts/C.vy", "contracts/A.vy"}, first.ImportedSourceIDs("contracts/B.vy"))
}

// TestResolveCycleIsOrderIndependent resolves the members of an import cycle one call at a time, in both orders, over a
// shared session cache.
func TestResolveCycleIsOrderIndependent(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"contracts/A.vy": "from . import B\nfrom . import C\n",
		"contracts/B.vy": "from . import A\n",
		"contracts/C.vy": "",
	}
	project := newTestProject(t, "cycle", files)

	resolveEach := func(order ...string) ImportMap {
		resolver := NewResolver(NewCache())
		importMap := make(ImportMap)
		for _, path := range order {
			resolved, err := resolver.Resolve(context.Background(), project, []string{path})
			require.NoError(t, err)
			for id, imports := range resolved {
				importMap[id] = imports
			}
		}
		return importMap
	}
	aFirst := resolveEach("contracts/A.vy", "contracts/B.vy")
	bFirst := resolveEach("contracts/B.vy", "contracts/A.vy")

	for _, id := range []string{"contracts/A.vy", "contracts/B.vy"} {
		assert.Equal(t, summarize(aFirst[id]), summarize(bFirst[id]), id)
	}
	assert.Equal(t, []string{"contracts/B.vy", "contracts/C.vy"}, aFirst.ImportedSourceIDs("contracts/A.vy"))
	assert.Equal(t, []string{"contracts/C.vy", "contracts/A.vy"}, aFirst.ImportedSourceIDs("contracts/B.vy"))
}
