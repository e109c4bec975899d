package imports

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"

	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
)

// KnownPackagesNotToCompile lists dependencies that are never compiled on their own to obtain their ABIs.
var KnownPackagesNotToCompile = []string{"snekmate"}

// Resolver finds and classifies the imports of source files across a project and its dependencies.
type Resolver struct {
	cache  *Cache
	logger *logging.Logger
}

// NewResolver creates a resolver backed by the given session cache. A nil cache starts a new session.
func NewResolver(cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{
		cache:  cache,
		logger: logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.IMPORTS_SERVICE),
	}
}

// Cache returns the session cache backing the resolver.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns the imports of each path, keyed by its source ID within the project. Paths may be absolute or
// relative to the project root, and are processed in sorted order. Files already resolved in this session are not
// scanned again. An unresolvable import is logged and recorded as unresolved rather than failing the call.
func (r *Resolver) Resolve(ctx context.Context, project Project, paths []string) (ImportMap, error) {
	absolutePaths := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(project.Path(), p)
		}
		absolutePaths = append(absolutePaths, filepath.Clean(p))
	}
	sort.Strings(absolutePaths)

	importMap := make(ImportMap, len(absolutePaths))
	for _, p := range absolutePaths {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		imports, err := r.resolveFile(ctx, project, p)
		if err != nil {
			return nil, err
		}
		importMap[utils.RelativePathOrSelf(project.Path(), p)] = imports
	}
	return importMap, nil
}

// resolveFile returns the imports of one file, transitive ones included. The result only depends on the import graph,
// not on which files were resolved before, so members of an import cycle each see the whole cycle. A file reached
// back through a cycle is not listed as its own import.
func (r *Resolver) resolveFile(ctx context.Context, project Project, filePath string) ([]*Import, error) {
	imports, err := r.collect(ctx, project, filePath, make(map[string]struct{}))
	if err != nil {
		return nil, err
	}
	root := fileKey(project, filePath)
	return slices.DeleteFunc(imports, func(imp *Import) bool {
		return imp.Project != nil && fileKey(imp.Project, imp.Path) == root
	}), nil
}

// collect walks the import graph from a file. Each direct import is preceded by the imports reached through it. A file
// already visited during the walk is not entered again.
func (r *Resolver) collect(ctx context.Context, project Project, filePath string, visited map[string]struct{}) ([]*Import, error) {
	visited[fileKey(project, filePath)] = struct{}{}
	direct, err := r.directImports(ctx, project, filePath)
	if err != nil {
		return nil, err
	}

	imports := make([]*Import, 0, len(direct))
	seen := make(map[string]struct{})
	add := func(imp *Import) {
		key := imp.Path
		if key == "" {
			key = imp.Kind.String() + ":" + imp.Raw
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		imports = append(imports, imp)
	}

	for _, imp := range direct {
		if imp.Kind != ImportKindBuiltin && imp.IsResolved() && imp.Project != nil {
			if _, ok := visited[fileKey(imp.Project, imp.Path)]; !ok {
				nested, err := r.collect(ctx, imp.Project, imp.Path, visited)
				if err != nil {
					return nil, err
				}
				for _, nestedImport := range nested {
					add(nestedImport)
				}
			}
		}
		add(imp)
	}
	return imports, nil
}

func fileKey(project Project, filePath string) string {
	return project.ID() + "\x00" + filePath
}

// directImports returns the classified imports written in one file. Each file is scanned once per session.
func (r *Resolver) directImports(ctx context.Context, project Project, filePath string) ([]*Import, error) {
	if imports, ok := r.cache.lookup(project.ID(), filePath); ok {
		return imports, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	// JSON interfaces import nothing, and missing files are left for the compiler to report.
	if types.FileKindOf(filePath) == types.FileKindInterfaceJSON || !utils.FileExists(filePath) {
		r.cache.store(project.ID(), filePath, []*Import{})
		return []*Import{}, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", filePath)
	}

	imports := make([]*Import, 0)
	for _, raw := range ParseImportLines(string(data)) {
		imp := &Import{Raw: raw, Importer: filePath}
		r.classify(project, imp)

		switch {
		case imp.Kind == ImportKindBuiltin:
		case imp.IsResolved():
			if imp.Kind == ImportKindDependency {
				r.compileDependencyIfNeeded(ctx, imp.Dependency)
			}
		case imp.dependencyName() != "":
			r.logger.Error(
				"(project=", project.ID(), "). '", colors.Bold, imp.dependencyName(), colors.Reset,
				"' may not be installed. Could not find it in the project dependencies or site-packages.",
			)
		}
		imports = append(imports, imp)
	}

	r.cache.store(project.ID(), filePath, imports)
	return imports, nil
}

// classify resolves an import by precedence: builtin, local, dependency, site-package, else unresolved.
func (r *Resolver) classify(project Project, imp *Import) {
	switch {
	case imp.isBuiltin():
		imp.Kind = ImportKindBuiltin
	case r.resolveLocal(project, imp):
	case r.resolveDependency(project, imp):
	case r.resolveSitePackage(project, imp):
	default:
		imp.Kind = ImportKindUnresolved
	}
}

// resolveLocal looks for the file next to the importer, then under the project root. Explicitly relative imports
// are only looked up next to the importer.
func (r *Resolver) resolveLocal(project Project, imp *Import) bool {
	if found, ok := findWithExtensions(imp.relativeStem()); ok {
		imp.Kind = ImportKindLocalRelative
		imp.Path = found
		imp.SourceID = utils.RelativePathOrSelf(project.Path(), found)
		imp.Project = project
		return true
	}
	if imp.isRelative() {
		return false
	}
	if found, ok := findWithExtensions(filepath.Join(project.Path(), filepath.FromSlash(imp.pathified()))); ok {
		imp.Kind = ImportKindLocalAbsolute
		imp.Path = found
		imp.SourceID = utils.RelativePathOrSelf(project.Path(), found)
		imp.Project = project
		return true
	}
	return false
}

// resolveDependency looks for the file inside the contracts folder of a declared dependency named by the import's
// first segment.
func (r *Resolver) resolveDependency(project Project, imp *Import) bool {
	name, stem := imp.dependencyName(), imp.dependencyStem()
	if name == "" || stem == "" {
		return false
	}
	for _, dependency := range project.Dependencies() {
		if dependency.Name() != name || dependency.Project() == nil {
			continue
		}
		dependencyProject := dependency.Project()
		prefix := utils.RelativePathOrSelf(dependencyProject.Path(), dependencyProject.ContractsFolder())
		sourceStem := path.Join(prefix, stem)
		found, ok := findWithExtensions(filepath.Join(dependencyProject.Path(), filepath.FromSlash(sourceStem)))
		if !ok {
			continue
		}
		imp.Kind = ImportKindDependency
		imp.Path = found
		imp.SourceID = sourceStem + filepath.Ext(found)
		imp.Project = dependencyProject
		imp.Dependency = dependency
		return true
	}
	return false
}

// resolveSitePackage looks for the file inside an installed package, first under its contracts folder and then
// under the whole package.
func (r *Resolver) resolveSitePackage(project Project, imp *Import) bool {
	name, stem := imp.dependencyName(), imp.dependencyStem()
	if name == "" || stem == "" {
		return false
	}
	pkg, ok := project.SitePackage(name)
	if !ok {
		return false
	}

	roots := []string{pkg.ContractsFolder()}
	if filepath.Clean(pkg.ContractsFolder()) != filepath.Clean(pkg.Path()) {
		roots = append(roots, pkg.Path())
	}
	for _, root := range roots {
		found, ok := findWithExtensions(filepath.Join(root, filepath.FromSlash(stem)))
		if !ok {
			continue
		}
		imp.Kind = ImportKindSitePackage
		imp.Path = found
		// Packages are addressed from the directory holding them, e.g. "snekmate/tokens/erc20.vy".
		imp.SourceID = utils.RelativePathOrSelf(filepath.Dir(pkg.Path()), found)
		imp.Project = pkg
		return true
	}

	r.logger.Error("Source for stem '", stem, "' not found in '", pkg.Path(), "'. Contracts folder: ",
		utils.RelativePathOrSelf(pkg.Path(), pkg.ContractsFolder()))
	return false
}

// compileDependencyIfNeeded compiles a dependency that has no output yet so its ABIs can be used for interfaces.
// Each dependency is attempted at most once per session and failures are only logged.
func (r *Resolver) compileDependencyIfNeeded(ctx context.Context, dependency Dependency) {
	if slices.Contains(KnownPackagesNotToCompile, dependency.Name()) || dependency.HasContractTypes() {
		return
	}
	if !r.cache.markAttempted(dependency.PackageID()) {
		return
	}
	if err := dependency.Compile(ctx); err != nil {
		r.logger.Warn("Failed to compile dependency '", dependency.Name(), "' @ '", dependency.Version(), "'", err)
	}
}

// findWithExtensions returns the first existing file formed by appending an import extension to stem.
func findWithExtensions(stem string) (string, bool) {
	for _, ext := range types.ImportExtensions {
		if candidate := stem + ext; utils.FileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}
