package platforms

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
)

// evmDefault is the hardfork targeted by default from a release onward.
type evmDefault struct {
	since *semver.Version
	evm   string
}

// evmVersionDefaults is ordered by release, newest first.
var evmVersionDefaults = []evmDefault{
	{pragma.MustParseVersion("0.4.1"), "cancun"},
	{pragma.MustParseVersion("0.3.8"), "shanghai"},
	{pragma.MustParseVersion("0.3.7"), "paris"},
	{pragma.MustParseVersion("0.2.15"), "berlin"},
}

// EVMVersionDefault returns the hardfork the given release targets when no evm-version pragma or override is set.
// Releases before 0.2.15 have no default and "" is returned.
func EVMVersionDefault(version *semver.Version) string {
	// Prereleases default like the release they precede.
	base := version
	if version.Prerelease() != "" {
		base = semver.MustParse(fmt.Sprintf("%d.%d.%d", version.Major(), version.Minor(), version.Patch()))
	}
	for _, entry := range evmVersionDefaults {
		if !base.LessThan(entry.since) {
			return entry.evm
		}
	}
	return ""
}

// Overrides are settings applied on top of file pragmas and version defaults.
type Overrides struct {
	// EVMVersion replaces the default hardfork. Files with an evm-version pragma keep theirs.
	EVMVersion string
	// EnableDecimals turns on the decimal type where the compiler gates it behind a setting.
	EnableDecimals bool
	// SearchPaths are extra directories searched for imported modules, typically site-package roots.
	SearchPaths []string
}

// Settings is the "settings" member of the compiler input.
type Settings struct {
	Optimize        pragma.Optimization `json:"optimize"`
	EVMVersion      string              `json:"evmVersion,omitempty"`
	OutputSelection map[string][]string `json:"outputSelection"`
	SearchPaths     []string            `json:"search_paths,omitempty"`
	EnableDecimals  bool                `json:"enable_decimals,omitempty"`
}

// SourceIDs returns the selected source IDs in sorted order.
func (s *Settings) SourceIDs() []string {
	ids := make([]string, 0, len(s.OutputSelection))
	for id := range s.OutputSelection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VersionSettings maps settings keys to the settings of the files sharing them.
type VersionSettings map[string]*Settings

// Keys returns the settings keys in sorted order.
func (v VersionSettings) Keys() []string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SettingsKey combines an optimization mode and a hardfork into the key grouping files that compile together.
func SettingsKey(optimization pragma.Optimization, evmVersion string) string {
	if evmVersion == "" {
		evmVersion = "none"
	}
	return strings.ToLower(string(optimization) + "%" + evmVersion)
}

// splitSettingsKey is the inverse of SettingsKey.
func splitSettingsKey(key string) (pragma.Optimization, string) {
	optimization, evmVersion, _ := strings.Cut(key, "%")
	return pragma.Optimization(optimization), evmVersion
}

// groupSettings buckets the source IDs by settings key. Each file's optimization and evm-version pragmas win over
// the defaults.
func groupSettings(adapter Adapter, version *semver.Version, root string, sourceIDs []string, overrides Overrides) (map[string][]string, error) {
	defaultOptimization := adapter.DefaultOptimization(version)
	defaultEVM := overrides.EVMVersion
	if defaultEVM == "" {
		defaultEVM = EVMVersionDefault(version)
	}

	groups := make(map[string][]string)
	for _, sourceID := range sourceIDs {
		var metadata pragma.Metadata
		if sourcePath := filepath.Join(root, filepath.FromSlash(sourceID)); utils.FileExists(sourcePath) {
			var err error
			if metadata, err = pragma.ExtractFromFile(sourcePath); err != nil {
				return nil, errors.Wrapf(err, "unable to read pragmas of %s", sourceID)
			}
		}
		optimization := metadata.Optimization
		if optimization == pragma.OptimizationUnset {
			optimization = defaultOptimization
		}
		evmVersion := metadata.EVMVersion
		if evmVersion == "" {
			evmVersion = defaultEVM
		}
		key := SettingsKey(optimization, evmVersion)
		groups[key] = append(groups[key], sourceID)
	}
	return groups, nil
}

// buildSettings is the settings computation shared by every range. extend, when set, adds range-specific members.
func buildSettings(adapter Adapter, version *semver.Version, root string, sourceIDs []string, overrides Overrides, extend func(*Settings)) (VersionSettings, error) {
	groups, err := groupSettings(adapter, version, root, sourceIDs, overrides)
	if err != nil {
		return nil, err
	}

	versionSettings := make(VersionSettings, len(groups))
	for key, ids := range groups {
		optimization, evmVersion := splitSettingsKey(key)
		settings := &Settings{
			Optimize:        optimization,
			OutputSelection: adapter.OutputSelection(root, ids),
		}
		if evmVersion != "none" && evmVersion != "null" {
			settings.EVMVersion = evmVersion
		}
		if extend != nil {
			extend(settings)
		}
		versionSettings[key] = settings
	}
	return versionSettings, nil
}

// selectOutputs is the output selection rule shared by every range: existing files that can produce bytecode.
func selectOutputs(root string, sourceIDs []string) map[string][]string {
	selection := make(map[string][]string, len(sourceIDs))
	for _, sourceID := range sourceIDs {
		if types.IsInterfacePath(sourceID) {
			continue
		}
		if !utils.FileExists(filepath.Join(root, filepath.FromSlash(sourceID))) {
			continue
		}
		selection[sourceID] = []string{"*"}
	}
	return selection
}
