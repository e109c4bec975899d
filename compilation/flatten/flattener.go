package flatten

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
)

// moduleVersion is the first release whose non-interface imports are modules rather than interfaces.
var moduleVersion = pragma.MustParseVersion("0.4.0")

// contractTypesProvider is implemented by dependencies that expose the ABIs of their compiled contracts.
type contractTypesProvider interface {
	ContractTypes() map[string]json.RawMessage
}

// Flattener inlines the imports of a source into a single file suitable for verification.
type Flattener struct {
	resolver *imports.Resolver
	logger   *logging.Logger
}

// flattenState is shared by the nested calls of one Flatten.
type flattenState struct {
	handled     map[string]bool
	warnModules bool
}

// NewFlattener creates a flattener resolving imports with resolver.
func NewFlattener(resolver *imports.Resolver) *Flattener {
	return &Flattener{
		resolver: resolver,
		logger:   logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.COMPILATION_SERVICE),
	}
}

// Flatten returns the source at path with every import inlined. Dependency imports and interfaces become generated
// interface blocks; 0.4 modules are copied in with their usages rewritten to self.
func (f *Flattener) Flatten(ctx context.Context, project imports.Project, path string) (types.Content, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(project.Path(), path)
	}
	state := &flattenState{handled: make(map[string]bool), warnModules: true}
	source, err := f.flattenSource(ctx, project, filepath.Clean(path), true, state)
	if err != nil {
		return nil, err
	}
	return types.NewContent(source), nil
}

func (f *Flattener) flattenSource(ctx context.Context, project imports.Project, path string, includePragma bool, state *flattenState) (string, error) {
	state.handled[path] = true

	importMap, err := f.resolver.Resolve(ctx, project, []string{path})
	if err != nil {
		return "", err
	}
	importsByPath := make(map[string]*imports.Import)
	for _, list := range importMap {
		for _, imp := range list {
			if imp.Kind != imports.ImportKindBuiltin && imp.IsResolved() {
				importsByPath[imp.Path] = imp
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to read %s", path)
	}
	original := string(data)

	aliases := ExtractImportAliases(original)
	versionPragma, withoutMeta := ExtractMeta(original)
	var specifier *pragma.VersionSpecifier
	if versionPragma != "" {
		specifier = pragma.ExtractVersion(versionPragma)
	}
	stdlibImports, _, withoutImports := ExtractImports(withoutMeta)

	importPaths := make([]string, 0, len(importsByPath))
	for importPath := range importsByPath {
		importPaths = append(importPaths, importPath)
	}
	sort.Slice(importPaths, func(i, j int) bool {
		return utils.RelativePathOrSelf(project.Path(), importPaths[i]) < utils.RelativePathOrSelf(project.Path(), importPaths[j])
	})

	var interfaces, modules strings.Builder
	modulePrefixes := make(map[string]bool)
	for _, importPath := range importPaths {
		imp := importsByPath[importPath]
		fileName := strings.TrimSuffix(filepath.Base(importPath), filepath.Ext(importPath))
		importName := fileName
		if alias, ok := aliases[fileName]; ok {
			importName = alias
		}

		if entries, ok, err := dependencyABI(project, imp); err != nil {
			return "", err
		} else if ok {
			interfaces.WriteString(GenerateInterface(entries, importName))
			continue
		}

		if !utils.FileExists(importPath) {
			continue
		}
		kind := types.FileKindOf(importPath)
		if specifier != nil && specifier.Check(moduleVersion) && kind == types.FileKindSource {
			if state.warnModules {
				f.logger.Warn("Flattening modules DOES NOT yield the same bytecode! " +
					"This is **NOT** valid for contract-verification.")
				state.warnModules = false
			}
			modulePrefixes[fileName] = true
			if state.handled[importPath] {
				continue
			}
			owner := imp.Project
			if owner == nil {
				owner = project
			}
			module, err := f.flattenSource(ctx, owner, importPath, false, state)
			if err != nil {
				return "", err
			}
			modules.WriteString("\n\n" + module)
			continue
		}

		text, err := os.ReadFile(importPath)
		if err != nil {
			return "", errors.Wrapf(err, "unable to read %s", importPath)
		}
		var entries []ABIEntry
		if kind == types.FileKindInterfaceJSON {
			if entries, err = ParseABIEntries(text); err != nil {
				return "", errors.Wrapf(err, "unable to read interface %s", importPath)
			}
		} else {
			entries = SourceToABI(string(text))
		}
		interfaces.WriteString(GenerateInterface(entries, importName))
	}

	if !includePragma {
		versionPragma = ""
	}
	var parts []string
	for _, part := range []string{versionPragma, stdlibImports, interfaces.String(), modules.String(), withoutImports} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	flattened := strings.Join(parts, "\n\n")

	prefixes := make([]string, 0, len(modulePrefixes))
	for prefix := range modulePrefixes {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		usage := regexp.MustCompile(`\b` + regexp.QuoteMeta(prefix) + `\.`)
		flattened = usage.ReplaceAllString(flattened, "self.")
	}

	return collapseNewlines(stripDocstrings(flattened)), nil
}

// dependencyABI returns the combined ABIs of a compiled dependency owning the import. ok is false when the import is
// not a foreign dependency or the dependency produced nothing.
func dependencyABI(project imports.Project, imp *imports.Import) ([]ABIEntry, bool, error) {
	if imp.Dependency == nil || imp.Project == nil || imp.Project.ID() == project.ID() {
		return nil, false, nil
	}
	provider, ok := imp.Dependency.(contractTypesProvider)
	if !ok {
		return nil, false, nil
	}
	contractTypes := provider.ContractTypes()
	if len(contractTypes) == 0 {
		return nil, false, nil
	}

	names := make([]string, 0, len(contractTypes))
	for name := range contractTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	var entries []ABIEntry
	for _, name := range names {
		parsed, err := ParseABIEntries(contractTypes[name])
		if err != nil {
			return nil, false, errors.Wrapf(err, "contract type %s of %s", name, imp.Dependency.PackageID())
		}
		entries = append(entries, parsed...)
	}
	return entries, true, nil
}

// stripDocstrings removes lines that open with a triple-quoted string, through the line closing it.
func stripDocstrings(source string) string {
	var kept []string
	inDocstring := false
	for _, line := range strings.Split(source, "\n") {
		stripped := strings.TrimRight(line, " \t")
		if !inDocstring && strings.HasPrefix(stripped, `"""`) {
			if stripped == `"""` || !strings.HasSuffix(stripped, `"""`) {
				inDocstring = true
			}
			continue
		}
		if inDocstring {
			if strings.HasSuffix(stripped, `"""`) {
				inDocstring = false
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// collapseNewlines limits runs of blank lines to two.
func collapseNewlines(source string) string {
	for strings.Contains(source, "\n\n\n\n") {
		source = strings.ReplaceAll(source, "\n\n\n\n", "\n\n\n")
	}
	return source
}
