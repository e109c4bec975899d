package versions

import (
	"sort"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/pragma"
	"golang.org/x/exp/maps"
)

// VersionGroup is the set of sources compiled with one toolchain version.
type VersionGroup struct {
	Version *semver.Version
	// SourceIDs is kept sorted.
	SourceIDs []string
}

// VersionMap assigns each source to exactly one toolchain version. It is keyed by the formatted version.
type VersionMap map[string]*VersionGroup

// add places sources under a version, skipping any already assigned to it.
func (m VersionMap) add(version *semver.Version, sourceIDs ...string) {
	key := pragma.FormatVersion(version)
	group, ok := m[key]
	if !ok {
		group = &VersionGroup{Version: version}
		m[key] = group
	}
	for _, sourceID := range sourceIDs {
		index := sort.SearchStrings(group.SourceIDs, sourceID)
		if index < len(group.SourceIDs) && group.SourceIDs[index] == sourceID {
			continue
		}
		group.SourceIDs = append(group.SourceIDs, "")
		copy(group.SourceIDs[index+1:], group.SourceIDs[index:])
		group.SourceIDs[index] = sourceID
	}
}

// Versions returns the versions in ascending order.
func (m VersionMap) Versions() []*semver.Version {
	versions := make([]*semver.Version, 0, len(m))
	for _, group := range m {
		versions = append(versions, group.Version)
	}
	return pragma.SortVersions(versions)
}

// SourceIDs returns the sources assigned to a version.
func (m VersionMap) SourceIDs(version *semver.Version) []string {
	if group, ok := m[pragma.FormatVersion(version)]; ok {
		return group.SourceIDs
	}
	return nil
}

// VersionOf returns the version a source is assigned to.
func (m VersionMap) VersionOf(sourceID string) (*semver.Version, bool) {
	keys := maps.Keys(m)
	sort.Strings(keys)
	for _, key := range keys {
		group := m[key]
		index := sort.SearchStrings(group.SourceIDs, sourceID)
		if index < len(group.SourceIDs) && group.SourceIDs[index] == sourceID {
			return group.Version, true
		}
	}
	return nil, false
}

// Summary maps each formatted version to its sources.
func (m VersionMap) Summary() map[string][]string {
	summary := make(map[string][]string, len(m))
	for key, group := range m {
		summary[key] = group.SourceIDs
	}
	return summary
}
