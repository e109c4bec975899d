package compilation

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/flatten"
	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/compilation/platforms"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/compilation/versions"
	"github.com/crytic/vyperlens/compilation/vvm"
	"github.com/crytic/vyperlens/config"
	"github.com/crytic/vyperlens/coverage"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/project"
	"github.com/crytic/vyperlens/tracing"
	"github.com/crytic/vyperlens/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CompileSettings overrides the project configuration for one call. Zero values keep the configured behavior.
type CompileSettings struct {
	// Version is a version constraint applied to every file instead of pragmas and the configured constraint.
	Version string
	// EVMVersion replaces the configured hardfork.
	EVMVersion string
	// EnableDecimals, when set, replaces the configured decimal flag.
	EnableDecimals *bool
}

// CompilerOptions supplies the collaborators of a VyperCompiler. Nil members get defaults.
type CompilerOptions struct {
	// Registry lists and installs compiler versions. Defaults to a vvm registry in the default install directory.
	Registry versions.Registry
	// Runner invokes the compiler. Defaults to a vvm toolchain locating binaries through Registry.
	Runner platforms.Runner
	// ImportCache is shared by every resolution of the session. Defaults to a new cache.
	ImportCache *imports.Cache
	// BuildCache, when set, serves unchanged compiler invocations from disk.
	BuildCache *BuildCache
}

// CompilerUsage records the contracts one compiler version produced under one settings key.
type CompilerUsage struct {
	Version     *semver.Version
	SettingsKey string
	Settings    *platforms.Settings
	Contracts   []string
}

// VyperCompiler compiles the sources of a project: imports are resolved, each source is assigned a compiler version,
// and every version runs through the adapter of its range.
type VyperCompiler struct {
	// Events are published while compiling.
	Events CompilerEvents

	project   *project.Project
	config    *config.ProjectConfig
	registry  versions.Registry
	runner    platforms.Runner
	resolver  *imports.Resolver
	selector  *versions.Selector
	flattener *flatten.Flattener
	builds    *BuildCache
	logger    *logging.Logger

	// compiling guards against dependency cycles, shared with the compilers of dependencies.
	compiling map[string]bool

	usageLock     sync.Mutex
	compilersUsed map[string]*CompilerUsage
}

// compilePlan is everything resolved before the compiler runs.
type compilePlan struct {
	importMap  imports.ImportMap
	versionMap versions.VersionMap
	overrides  platforms.Overrides
}

// NewVyperCompiler creates a compiler for a project and installs it as the project's dependency compiler.
func NewVyperCompiler(p *project.Project, options CompilerOptions) (*VyperCompiler, error) {
	return newVyperCompiler(p, options, make(map[string]bool))
}

func newVyperCompiler(p *project.Project, options CompilerOptions, compiling map[string]bool) (*VyperCompiler, error) {
	if p == nil {
		return nil, errors.New("no project given")
	}
	if options.Registry == nil {
		options.Registry = vvm.NewRegistry("", nil)
	}
	if options.Runner == nil {
		locator, ok := options.Registry.(vvm.BinaryLocator)
		if !ok {
			return nil, errors.New("a runner is required when the registry cannot locate binaries")
		}
		options.Runner = vvm.NewToolchain(locator)
	}
	if options.ImportCache == nil {
		options.ImportCache = imports.NewCache()
	}

	resolver := imports.NewResolver(options.ImportCache)
	c := &VyperCompiler{
		project:       p,
		config:        p.Config(),
		registry:      options.Registry,
		runner:        options.Runner,
		resolver:      resolver,
		selector:      versions.NewSelector(options.Registry),
		flattener:     flatten.NewFlattener(resolver),
		builds:        options.BuildCache,
		logger:        logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.COMPILATION_SERVICE),
		compiling:     compiling,
		compilersUsed: make(map[string]*CompilerUsage),
	}
	p.SetDependencyCompiler(c.compileDependency)
	return c, nil
}

// Project returns the compiled project.
func (c *VyperCompiler) Project() *project.Project {
	return c.project
}

// Selector returns the version selector, for listing and installing versions.
func (c *VyperCompiler) Selector() *versions.Selector {
	return c.selector
}

// sourcePaths returns paths, or every source of the project when none are given.
func (c *VyperCompiler) sourcePaths(paths []string) ([]string, error) {
	if len(paths) > 0 {
		return paths, nil
	}
	return c.project.SourcePaths()
}

// Imports resolves the imports of the given sources, or of every project source.
func (c *VyperCompiler) Imports(ctx context.Context, paths []string) (imports.ImportMap, error) {
	paths, err := c.sourcePaths(paths)
	if err != nil {
		return nil, err
	}
	return c.resolver.Resolve(ctx, c.project, paths)
}

// VersionMap assigns each of the given sources, or every project source, to a compiler version. Versions are
// installed as needed.
func (c *VyperCompiler) VersionMap(ctx context.Context, paths []string, settings *CompileSettings) (versions.VersionMap, error) {
	plan, err := c.plan(ctx, paths, settings)
	if err != nil {
		return nil, err
	}
	return plan.versionMap, nil
}

// CompilerSettings returns the settings groups of every selected version, keyed by formatted version. Interface
// files and files in the project's top-level interfaces directory are left out.
func (c *VyperCompiler) CompilerSettings(ctx context.Context, paths []string, settings *CompileSettings) (map[string]platforms.VersionSettings, error) {
	paths, err := c.sourcePaths(paths)
	if err != nil {
		return nil, err
	}
	interfacesDir := filepath.Join(c.project.Path(), "interfaces") + string(filepath.Separator)
	var filtered []string
	for _, p := range paths {
		absolute := p
		if !filepath.IsAbs(absolute) {
			absolute = filepath.Join(c.project.Path(), p)
		}
		if types.FileKindOf(absolute) != types.FileKindSource || strings.HasPrefix(absolute, interfacesDir) {
			continue
		}
		filtered = append(filtered, p)
	}
	if len(filtered) == 0 {
		return map[string]platforms.VersionSettings{}, nil
	}

	plan, err := c.plan(ctx, filtered, settings)
	if err != nil {
		return nil, err
	}
	result := make(map[string]platforms.VersionSettings)
	for _, version := range plan.versionMap.Versions() {
		adapter, err := platforms.AdapterFor(version)
		if err != nil {
			return nil, err
		}
		versionSettings, err := adapter.Settings(version, c.project.Path(), plan.versionMap.SourceIDs(version), plan.overrides)
		if err != nil {
			return nil, err
		}
		result[pragma.FormatVersion(version)] = versionSettings
	}
	return result, nil
}

// plan resolves imports, selects versions and computes the overrides for a compile.
func (c *VyperCompiler) plan(ctx context.Context, paths []string, settings *CompileSettings) (*compilePlan, error) {
	importMap, err := c.Imports(ctx, paths)
	if err != nil {
		return nil, err
	}

	specifier, err := c.config.Vyper.VersionSpecifier()
	if err != nil {
		return nil, err
	}
	overrides := platforms.Overrides{
		EVMVersion:     c.config.Vyper.EVMVersion,
		EnableDecimals: c.config.Vyper.EnableDecimals,
		SearchPaths:    c.project.SitePackageDirectories(),
	}
	if settings != nil {
		if settings.Version != "" {
			if specifier, err = pragma.ParseSpecifier(pragma.NormalizeVersionPragma(settings.Version)); err != nil {
				return nil, err
			}
		}
		if settings.EVMVersion != "" {
			overrides.EVMVersion = settings.EVMVersion
		}
		if settings.EnableDecimals != nil {
			overrides.EnableDecimals = *settings.EnableDecimals
		}
	}

	versionMap, err := c.selector.Select(ctx, c.project.Path(), importMap.SourceIDs(), importMap, specifier)
	if err != nil {
		return nil, err
	}
	return &compilePlan{importMap: importMap, versionMap: versionMap, overrides: overrides}, nil
}

// Compile compiles the given sources, or every project source, and yields each contract produced. Versions are
// compiled in ascending order and settings groups in key order. Iteration stops at the first error.
func (c *VyperCompiler) Compile(ctx context.Context, paths []string, settings *CompileSettings) iter.Seq2[*platforms.CompiledContract, error] {
	return func(yield func(*platforms.CompiledContract, error) bool) {
		compilationID := uuid.New()
		plan, err := c.plan(ctx, paths, settings)
		if err != nil {
			yield(nil, err)
			return
		}
		interfaces, err := c.interfaceRemappings(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, version := range plan.versionMap.Versions() {
			sourceIDs := plan.versionMap.SourceIDs(version)
			err := c.Events.VersionSelected.Publish(VersionSelectedEvent{
				CompilationID: compilationID,
				Version:       version,
				SourceIDs:     sourceIDs,
			})
			if err != nil {
				yield(nil, err)
				return
			}

			adapter, err := platforms.AdapterFor(version)
			if err != nil {
				yield(nil, err)
				return
			}
			versionSettings, err := adapter.Settings(version, c.project.Path(), sourceIDs, plan.overrides)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, settingsKey := range versionSettings.Keys() {
				request := &platforms.CompileRequest{
					Version:    version,
					Root:       c.project.Path(),
					Settings:   platforms.VersionSettings{settingsKey: versionSettings[settingsKey]},
					ImportMap:  plan.importMap,
					Interfaces: interfaces,
					Runner:     c.runner,
				}
				for result, err := range c.compileGroup(ctx, adapter, request, settingsKey) {
					if err != nil {
						yield(nil, err)
						return
					}
					contract := result.contract
					c.recordUsage(version, settingsKey, versionSettings[settingsKey], contract.Artifact.Name)
					err = c.Events.ContractCompiled.Publish(ContractCompiledEvent{
						CompilationID: compilationID,
						Contract:      contract,
						Cached:        result.cached,
					})
					if err != nil {
						yield(nil, err)
						return
					}
					if !yield(contract, nil) {
						return
					}
				}
			}
		}
	}
}

// compiledResult is one contract of a settings group and whether it came from the build cache.
type compiledResult struct {
	contract *platforms.CompiledContract
	cached   bool
}

// compileGroup compiles one settings group, serving it from the build cache when its input is unchanged. A group
// compiled to completion is saved to the cache.
func (c *VyperCompiler) compileGroup(ctx context.Context, adapter platforms.Adapter, request *platforms.CompileRequest, settingsKey string) iter.Seq2[compiledResult, error] {
	return func(yield func(compiledResult, error) bool) {
		var buildKey string
		if c.builds != nil {
			var err error
			if buildKey, err = c.buildKey(adapter, request, settingsKey); err != nil {
				yield(compiledResult{}, err)
				return
			}
			contracts, ok, err := c.builds.Load(buildKey)
			if err != nil {
				c.logger.Warn("Ignoring unreadable cached build ", buildKey, err)
			} else if ok {
				c.logger.Debug("Using cached build for vyper ", colors.Bold, pragma.FormatVersion(request.Version), colors.Reset,
					" (", settingsKey, ")")
				for _, contract := range contracts {
					if !yield(compiledResult{contract: contract, cached: true}, nil) {
						return
					}
				}
				return
			}
		}

		var produced []*platforms.CompiledContract
		for contract, err := range adapter.Compile(ctx, request) {
			if err != nil {
				yield(compiledResult{}, err)
				return
			}
			produced = append(produced, contract)
			if !yield(compiledResult{contract: contract}, nil) {
				return
			}
		}

		if c.builds != nil {
			if err := c.builds.Save(buildKey, produced); err != nil {
				c.logger.Warn("Failed to save build to cache", err)
			}
		}
	}
}

// buildKey computes the build cache key of a settings group from the exact compiler input.
func (c *VyperCompiler) buildKey(adapter platforms.Adapter, request *platforms.CompileRequest, settingsKey string) (string, error) {
	settings := request.Settings[settingsKey]
	sources, err := adapter.Sources(request.Root, settings.OutputSelection, request.ImportMap)
	if err != nil {
		return "", err
	}
	inputHash, err := InputHash(settings, sources, adapter.Interfaces(request.Interfaces))
	if err != nil {
		return "", err
	}
	return BuildKey(request.Version, settingsKey, inputHash), nil
}

// recordUsage adds a contract to the usage of its version and settings key.
func (c *VyperCompiler) recordUsage(version *semver.Version, settingsKey string, settings *platforms.Settings, contractName string) {
	c.usageLock.Lock()
	defer c.usageLock.Unlock()
	key := pragma.FormatVersion(version) + "/" + settingsKey
	usage, ok := c.compilersUsed[key]
	if !ok {
		usage = &CompilerUsage{Version: version, SettingsKey: settingsKey, Settings: settings}
		c.compilersUsed[key] = usage
	}
	if !slices.Contains(usage.Contracts, contractName) {
		usage.Contracts = append(usage.Contracts, contractName)
		sort.Strings(usage.Contracts)
	}
}

// CompilersUsed returns every compiler version and settings key that produced contracts, ordered by version then
// settings key.
func (c *VyperCompiler) CompilersUsed() []*CompilerUsage {
	c.usageLock.Lock()
	defer c.usageLock.Unlock()
	usages := make([]*CompilerUsage, 0, len(c.compilersUsed))
	for _, usage := range c.compilersUsed {
		usages = append(usages, usage)
	}
	sort.Slice(usages, func(i, j int) bool {
		if !usages[i].Version.Equal(usages[j].Version) {
			return usages[i].Version.LessThan(usages[j].Version)
		}
		return usages[i].SettingsKey < usages[j].SettingsKey
	})
	return usages
}

// CompileCode compiles source text as a contract named name. The text is written next to the project sources for
// the duration of the call, so it may import them. Source IDs of the results are "<name>.vy".
func (c *VyperCompiler) CompileCode(ctx context.Context, code string, name string, settings *CompileSettings) ([]*platforms.CompiledContract, error) {
	if name == "" {
		return nil, errors.New("a contract name is required")
	}
	directory, err := os.MkdirTemp(c.project.Path(), ".vyperlens-code-")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() {
		if err := os.RemoveAll(directory); err != nil {
			c.logger.Warn("Failed to remove ", directory, err)
		}
	}()

	sourcePath := filepath.Join(directory, name+types.FileKindSource.Extension())
	if err := os.WriteFile(sourcePath, []byte(code), 0644); err != nil {
		return nil, errors.WithStack(err)
	}

	var contracts []*platforms.CompiledContract
	for contract, err := range c.Compile(ctx, []string{sourcePath}, settings) {
		if err != nil {
			return nil, err
		}
		contract.Artifact.SourceID = filepath.Base(sourcePath)
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

// Flatten returns the source at path with its imports inlined.
func (c *VyperCompiler) Flatten(ctx context.Context, path string) (types.Content, error) {
	return c.flattener.Flatten(ctx, c.project, path)
}

// EnrichError refines a contract logic error into a runtime error of a known kind.
func (c *VyperCompiler) EnrichError(err error) error {
	return EnrichError(err)
}

// TraceSource maps the execution frames of a call into contract to a source traceback. lookup resolves the targets
// of nested calls and may be nil.
func (c *VyperCompiler) TraceSource(frames []tracing.Frame, contract *types.ContractSource, calldata []byte, lookup tracing.ContractLookup) (*tracing.Traceback, error) {
	return tracing.NewSourceTracer(lookup).Trace(tracing.NewFrameCursor(frames), contract, calldata)
}

// InitCoverageProfile adds the statements and functions of a contract to a source's coverage, honoring the
// configured exclusions. nil is returned for an excluded contract.
func (c *VyperCompiler) InitCoverageProfile(sourceCoverage *coverage.SourceCoverage, contract *types.ContractSource) *coverage.ContractCoverage {
	return coverage.NewProfiler(c.config.Coverage.Exclude).Profile(sourceCoverage, contract)
}

// interfaceRemappings maps "<key>/<Contract>.json" to the ABIs of dependencies. Keys come from the configured import
// remappings first, then from the names of the declared dependencies.
func (c *VyperCompiler) interfaceRemappings(ctx context.Context) (map[string]platforms.InterfaceABI, error) {
	remappings, err := c.config.Vyper.Remappings()
	if err != nil {
		return nil, err
	}

	type keyedDependency struct {
		key        string
		dependency *project.Dependency
	}
	var keyed []keyedDependency
	seen := make(map[string]bool)
	for _, remapping := range remappings {
		dependency, err := c.remappedDependency(remapping)
		if err != nil {
			return nil, err
		}
		keyed = append(keyed, keyedDependency{key: remapping.Key, dependency: dependency})
		seen[remapping.Key] = true
	}
	for _, dependency := range c.project.DeclaredDependencies() {
		if seen[dependency.Name()] {
			continue
		}
		seen[dependency.Name()] = true
		keyed = append(keyed, keyedDependency{key: dependency.Name(), dependency: dependency})
	}

	interfaces := make(map[string]platforms.InterfaceABI)
	for _, entry := range keyed {
		dependency := entry.dependency
		if !dependency.HasContractTypes() && !slices.Contains(imports.KnownPackagesNotToCompile, dependency.Name()) {
			if err := dependency.Compile(ctx); err != nil {
				c.logger.Warn("Failed to compile dependency '", dependency.Name(), "' @ '", dependency.Version(), "'", err)
				continue
			}
		}
		for name, abi := range dependency.ContractTypes() {
			interfaces[entry.key+"/"+name+types.FileKindInterfaceJSON.Extension()] = platforms.InterfaceABI{ABI: abi}
		}
	}
	return interfaces, nil
}

// remappedDependency finds the dependency a remapping names.
func (c *VyperCompiler) remappedDependency(remapping config.Remapping) (*project.Dependency, error) {
	candidates := c.project.DependenciesNamed(remapping.Dependency)
	if remapping.Version != "" {
		for _, candidate := range candidates {
			if candidate.Version() == remapping.Version {
				return candidate, nil
			}
		}
		return nil, errors.Errorf("import remapping %s names an undeclared dependency", remapping)
	}
	switch len(candidates) {
	case 0:
		return nil, errors.Errorf("import remapping %s names an undeclared dependency", remapping)
	case 1:
		return candidates[0], nil
	default:
		return nil, errors.Errorf("import remapping %s is ambiguous: %d versions are declared", remapping, len(candidates))
	}
}

// compileDependency compiles a dependency with the collaborators of this compiler and returns its ABIs.
func (c *VyperCompiler) compileDependency(ctx context.Context, dependency *project.Dependency) (map[string]json.RawMessage, error) {
	packageID := dependency.PackageID()
	if c.compiling[packageID] {
		return nil, errors.Errorf("dependency cycle through %s", packageID)
	}
	c.compiling[packageID] = true
	defer delete(c.compiling, packageID)

	child, err := newVyperCompiler(dependency.LocalProject(), CompilerOptions{
		Registry:    c.registry,
		Runner:      c.runner,
		ImportCache: c.resolver.Cache(),
		BuildCache:  c.builds,
	}, c.compiling)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Compiling dependency ", colors.Bold, packageID, colors.Reset)
	contractTypes := make(map[string]json.RawMessage)
	for contract, err := range child.Compile(ctx, nil, nil) {
		if err != nil {
			return nil, errors.Wrapf(err, "unable to compile dependency %s", packageID)
		}
		contractTypes[contract.Artifact.Name] = contract.Artifact.RawABI
	}
	if len(contractTypes) == 0 {
		c.logger.Debug("Dependency ", packageID, " at ",
			utils.RelativePathOrSelf(c.project.Path(), dependency.LocalProject().Path()), " produced no contracts")
	}
	return contractTypes, nil
}
