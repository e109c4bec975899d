package imports

import (
	"sort"

	"golang.org/x/exp/maps"
)

// ImportMap maps the source ID of each requested file to its imports, transitive ones included. Transitive imports
// precede the import that brought them in.
type ImportMap map[string][]*Import

// SourceIDs returns the importing source IDs in sorted order.
func (m ImportMap) SourceIDs() []string {
	ids := maps.Keys(m)
	sort.Strings(ids)
	return ids
}

// ImportedPaths returns the absolute paths of every resolved import of a source, in import order.
func (m ImportMap) ImportedPaths(sourceID string) []string {
	var paths []string
	for _, imp := range m[sourceID] {
		if imp.IsResolved() {
			paths = append(paths, imp.Path)
		}
	}
	return paths
}

// ImportedSourceIDs returns the source IDs of every resolved import of a source, in import order.
func (m ImportMap) ImportedSourceIDs(sourceID string) []string {
	var ids []string
	for _, imp := range m[sourceID] {
		if imp.IsResolved() {
			ids = append(ids, imp.SourceID)
		}
	}
	return ids
}

// Flattened returns the distinct resolved imports of all the given sources, keyed by absolute path.
func (m ImportMap) Flattened(sourceIDs ...string) map[string]*Import {
	flattened := make(map[string]*Import)
	for _, sourceID := range sourceIDs {
		for _, imp := range m[sourceID] {
			if !imp.IsResolved() {
				continue
			}
			if _, ok := flattened[imp.Path]; !ok {
				flattened[imp.Path] = imp
			}
		}
	}
	return flattened
}

// Unresolved returns every import no lookup could satisfy.
func (m ImportMap) Unresolved() []*Import {
	var unresolved []*Import
	for _, sourceID := range m.SourceIDs() {
		for _, imp := range m[sourceID] {
			if imp.Kind == ImportKindUnresolved {
				unresolved = append(unresolved, imp)
			}
		}
	}
	return unresolved
}
