package imports

import (
	"fmt"
	"path/filepath"
	"strings"
)

// BuiltinPrefixes are the module namespaces provided by the compiler itself.
var BuiltinPrefixes = []string{"vyper", "ethereum"}

// ImportKind classifies how an import was resolved.
type ImportKind int

const (
	// ImportKindUnresolved is an import no lookup could satisfy.
	ImportKindUnresolved ImportKind = iota
	// ImportKindBuiltin is an import of a compiler-provided module.
	ImportKindBuiltin
	// ImportKindLocalRelative is a file adjacent to the importer.
	ImportKindLocalRelative
	// ImportKindLocalAbsolute is a file under the project root.
	ImportKindLocalAbsolute
	// ImportKindDependency is a file inside a declared dependency.
	ImportKindDependency
	// ImportKindSitePackage is a file inside an installed package.
	ImportKindSitePackage
)

// String returns the name of the kind.
func (k ImportKind) String() string {
	switch k {
	case ImportKindUnresolved:
		return "unresolved"
	case ImportKindBuiltin:
		return "builtin"
	case ImportKindLocalRelative:
		return "local-relative"
	case ImportKindLocalAbsolute:
		return "local-absolute"
	case ImportKindDependency:
		return "dependency"
	case ImportKindSitePackage:
		return "site-package"
	}
	panic(fmt.Sprintf("unhandled import kind %d", int(k)))
}

// IsLocal reports whether the import resolved inside the importing project.
func (k ImportKind) IsLocal() bool {
	switch k {
	case ImportKindLocalRelative, ImportKindLocalAbsolute:
		return true
	case ImportKindUnresolved, ImportKindBuiltin, ImportKindDependency, ImportKindSitePackage:
		return false
	}
	panic(fmt.Sprintf("unhandled import kind %d", int(k)))
}

// Import is one import statement resolved against the project that owns the importing file.
type Import struct {
	// Raw is the dotted module path as written, with any leading dots kept.
	Raw string
	// Importer is the absolute path of the importing file.
	Importer string
	Kind     ImportKind
	// Path is the absolute path of the imported file. It is empty for builtin and unresolved imports.
	Path string
	// SourceID is the identifier the compiler knows the imported file by.
	SourceID string
	// Project is the project owning the imported file. It is shared, not owned.
	Project Project
	// Dependency is set for dependency imports.
	Dependency Dependency
}

// IsResolved reports whether the import points at a file.
func (i *Import) IsResolved() bool {
	return i.Path != ""
}

// String renders the import for logs.
func (i *Import) String() string {
	if i.SourceID != "" {
		return fmt.Sprintf("<import %s -> %s (%s)>", i.Raw, i.SourceID, i.Kind)
	}
	return fmt.Sprintf("<import %s (%s)>", i.Raw, i.Kind)
}

// dots returns the leading dots of the raw import.
func (i *Import) dots() int {
	return len(i.Raw) - len(strings.TrimLeft(i.Raw, "."))
}

// isRelative reports whether the raw import is explicitly relative.
func (i *Import) isRelative() bool {
	return i.dots() > 0
}

// pathified converts the module path, dots removed, into a slash-separated path without an extension.
func (i *Import) pathified() string {
	return strings.ReplaceAll(strings.TrimLeft(i.Raw, "."), ".", "/")
}

// isBuiltin reports whether the first module segment is a compiler namespace.
func (i *Import) isBuiltin() bool {
	if i.isRelative() {
		return false
	}
	first, _, _ := strings.Cut(i.pathified(), "/")
	for _, prefix := range BuiltinPrefixes {
		if first == prefix {
			return true
		}
	}
	return false
}

// dependencyName returns the leading segment, which names a dependency when the import is one.
func (i *Import) dependencyName() string {
	if i.isRelative() {
		return ""
	}
	first, _, _ := strings.Cut(i.pathified(), "/")
	return first
}

// dependencyStem returns the path inside the dependency.
func (i *Import) dependencyStem() string {
	_, rest, _ := strings.Cut(i.pathified(), "/")
	return rest
}

// relativeStem returns the candidate path, without extension, next to the importer. A single leading dot is the
// importer's directory and every further dot climbs one directory.
func (i *Import) relativeStem() string {
	base := filepath.Dir(i.Importer)
	for n := 1; n < i.dots(); n++ {
		base = filepath.Dir(base)
	}
	return filepath.Join(base, filepath.FromSlash(i.pathified()))
}

// ParseImportLine returns the raw module path imported by a line, if the line is an import statement. Only
// top-level statements are recognized.
func ParseImportLine(line string) (string, bool) {
	if rest, ok := strings.CutPrefix(line, "import "); ok {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return "", false
		}
		return fields[0], true
	}

	if rest, ok := strings.CutPrefix(line, "from "); ok && strings.Contains(line, " import ") {
		fields := strings.Fields(rest)
		if len(fields) < 3 || fields[1] != "import" {
			return "", false
		}
		module, name := fields[0], strings.TrimSuffix(fields[2], ",")
		// "from . import x" and "from .. import x" only carry dots in the module part.
		if strings.Trim(module, ".") == "" {
			return module + name, true
		}
		return module + "." + name, true
	}
	return "", false
}

// ParseImportLines returns every raw import in the text, in order.
func ParseImportLines(text string) []string {
	var raws []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if raw, ok := ParseImportLine(line); ok {
			raws = append(raws, raw)
		}
	}
	return raws
}
