package project

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/config"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// SourcePattern matches the files compiled from a contracts folder.
const SourcePattern = "**/*.{vy,vyi}"

// Project is a source tree on the local filesystem, described by its config file.
type Project struct {
	id              string
	root            string
	contractsFolder string
	config          *config.ProjectConfig

	dependencies []*Dependency
	sitePackages []string
	// packages caches the site packages looked up by name. A nil entry records a failed lookup.
	packages map[string]*Project
}

// Load reads the project rooted at root. A nil projectConfig is read from the root's config file, if there is one.
// Dependencies are loaded recursively.
func Load(root string, projectConfig *config.ProjectConfig) (*Project, error) {
	return load(root, projectConfig, make(map[string]*Project))
}

func load(root string, projectConfig *config.ProjectConfig, loaded map[string]*Project) (*Project, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if existing, ok := loaded[root]; ok {
		return existing, nil
	}
	if !utils.DirectoryExists(root) {
		return nil, errors.Errorf("project root %s is not a directory", root)
	}
	if projectConfig == nil {
		if projectConfig, err = config.ReadProjectConfigFromDirectory(root); err != nil {
			return nil, err
		}
	}

	p := &Project{
		id:              projectID(root),
		root:            root,
		contractsFolder: filepath.Join(root, filepath.FromSlash(projectConfig.ContractsFolder)),
		config:          projectConfig,
		packages:        make(map[string]*Project),
	}
	loaded[root] = p

	for _, sitePackage := range projectConfig.SitePackages {
		if !filepath.IsAbs(sitePackage) {
			sitePackage = filepath.Join(root, sitePackage)
		}
		p.sitePackages = append(p.sitePackages, filepath.Clean(sitePackage))
	}

	for _, dependencyConfig := range projectConfig.Dependencies {
		dependencyRoot := dependencyConfig.Local
		if !filepath.IsAbs(dependencyRoot) {
			dependencyRoot = filepath.Join(root, dependencyRoot)
		}
		dependencyProject, err := loadDependency(dependencyRoot, dependencyConfig, loaded)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to load dependency %s", dependencyConfig.Name)
		}
		p.dependencies = append(p.dependencies, &Dependency{
			name:    dependencyConfig.Name,
			version: dependencyConfig.Version,
			project: dependencyProject,
		})
	}
	return p, nil
}

// loadDependency loads a dependency's project, applying the contracts folder override of its declaration.
func loadDependency(root string, dependencyConfig config.DependencyConfig, loaded map[string]*Project) (*Project, error) {
	dependencyProjectConfig, err := config.ReadProjectConfigFromDirectory(root)
	if err != nil {
		return nil, err
	}
	if dependencyConfig.ContractsFolder != "" {
		dependencyProjectConfig.ContractsFolder = dependencyConfig.ContractsFolder
	}
	return load(root, dependencyProjectConfig, loaded)
}

// projectID derives a stable identifier from the project root.
func projectID(root string) string {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(root))
	return filepath.Base(root) + "-" + hex.EncodeToString(hash.Sum(nil)[:6])
}

// ID implements imports.Project.
func (p *Project) ID() string {
	return p.id
}

// Path implements imports.Project.
func (p *Project) Path() string {
	return p.root
}

// ContractsFolder implements imports.Project.
func (p *Project) ContractsFolder() string {
	return p.contractsFolder
}

// Config returns the configuration the project was loaded with.
func (p *Project) Config() *config.ProjectConfig {
	return p.config
}

// Dependencies implements imports.Project.
func (p *Project) Dependencies() []imports.Dependency {
	dependencies := make([]imports.Dependency, 0, len(p.dependencies))
	for _, dependency := range p.dependencies {
		dependencies = append(dependencies, dependency)
	}
	return dependencies
}

// DeclaredDependencies returns the dependencies in declaration order.
func (p *Project) DeclaredDependencies() []*Dependency {
	return p.dependencies
}

// DependenciesNamed returns every declared version of the named dependency.
func (p *Project) DependenciesNamed(name string) []*Dependency {
	var matches []*Dependency
	for _, dependency := range p.dependencies {
		if dependency.name == name {
			matches = append(matches, dependency)
		}
	}
	return matches
}

// SitePackage implements imports.Project. A package's contracts folder is its root unless the package has a config
// file naming one.
func (p *Project) SitePackage(name string) (imports.Project, bool) {
	if cached, ok := p.packages[name]; ok {
		return cached, cached != nil
	}
	for _, directory := range p.sitePackages {
		packageRoot := filepath.Join(directory, name)
		if !utils.DirectoryExists(packageRoot) {
			continue
		}
		packageConfig := config.GetDefaultProjectConfig()
		packageConfig.ContractsFolder = "."
		if utils.FileExists(filepath.Join(packageRoot, config.DefaultConfigFileName)) {
			var err error
			if packageConfig, err = config.ReadProjectConfigFromDirectory(packageRoot); err != nil {
				continue
			}
		}
		sitePackage, err := Load(packageRoot, packageConfig)
		if err != nil {
			continue
		}
		p.packages[name] = sitePackage
		return sitePackage, true
	}
	p.packages[name] = nil
	return nil, false
}

// SitePackageDirectories returns the directories searched for installed packages.
func (p *Project) SitePackageDirectories() []string {
	return p.sitePackages
}

// SourcePaths returns the absolute paths of every source in the contracts folder, sorted.
func (p *Project) SourcePaths() ([]string, error) {
	if !utils.DirectoryExists(p.contractsFolder) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(p.contractsFolder), SourcePattern)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	paths := make([]string, 0, len(matches))
	for _, match := range matches {
		paths = append(paths, filepath.Join(p.contractsFolder, filepath.FromSlash(match)))
	}
	slices.Sort(paths)
	return paths, nil
}

// Read returns the text of a source, given by ID or absolute path.
func (p *Project) Read(sourceID string) (string, error) {
	sourcePath := sourceID
	if !filepath.IsAbs(sourcePath) {
		sourcePath = filepath.Join(p.root, filepath.FromSlash(sourceID))
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(data), nil
}

// SetDependencyCompiler installs the function used to compile dependencies on demand, for this project and every
// project it depends on.
func (p *Project) SetDependencyCompiler(compile CompileFunc) {
	p.walkDependencies(func(dependency *Dependency) {
		dependency.compile = compile
	}, make(map[*Project]bool))
}

func (p *Project) walkDependencies(visit func(*Dependency), visited map[*Project]bool) {
	if visited[p] {
		return
	}
	visited[p] = true
	for _, dependency := range p.dependencies {
		visit(dependency)
		dependency.project.walkDependencies(visit, visited)
	}
}

// CompileFunc compiles a dependency and returns the ABI of each contract it produces, keyed by contract name.
type CompileFunc func(ctx context.Context, dependency *Dependency) (map[string]json.RawMessage, error)

// Dependency is a declared dependency backed by a local project.
type Dependency struct {
	name    string
	version string
	project *Project

	contractTypes map[string]json.RawMessage
	compile       CompileFunc
}

// Name implements imports.Dependency.
func (d *Dependency) Name() string {
	return d.name
}

// Version implements imports.Dependency.
func (d *Dependency) Version() string {
	return d.version
}

// PackageID implements imports.Dependency.
func (d *Dependency) PackageID() string {
	return d.name + "@" + d.version
}

// Project implements imports.Dependency.
func (d *Dependency) Project() imports.Project {
	return d.project
}

// LocalProject returns the dependency's project.
func (d *Dependency) LocalProject() *Project {
	return d.project
}

// HasContractTypes implements imports.Dependency.
func (d *Dependency) HasContractTypes() bool {
	return len(d.contractTypes) > 0
}

// ContractTypes returns the ABI of each compiled contract, keyed by contract name.
func (d *Dependency) ContractTypes() map[string]json.RawMessage {
	return d.contractTypes
}

// SetContractTypes records the ABIs of the dependency's contracts.
func (d *Dependency) SetContractTypes(contractTypes map[string]json.RawMessage) {
	d.contractTypes = contractTypes
}

// Compile implements imports.Dependency.
func (d *Dependency) Compile(ctx context.Context) error {
	if d.compile == nil {
		return errors.Errorf("no compiler configured for dependency %s", d.PackageID())
	}
	contractTypes, err := d.compile(ctx, d)
	if err != nil {
		return err
	}
	d.contractTypes = contractTypes
	return nil
}
