package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFileName is the file read from a project root when no config path is given.
const DefaultConfigFileName = "ape-config.yaml"

// ProjectConfig describes a project and how its sources are compiled.
type ProjectConfig struct {
	// ContractsFolder is the directory holding the project's sources, relative to the project root.
	ContractsFolder string `json:"contractsFolder" yaml:"contracts_folder"`

	// Dependencies lists the projects this one imports from.
	Dependencies []DependencyConfig `json:"dependencies" yaml:"dependencies"`

	// SitePackages lists directories holding installed packages that may be imported by name.
	SitePackages []string `json:"sitePackages" yaml:"site_packages"`

	// CacheDirectory holds the build cache and the release listing cache. Empty selects the user cache directory.
	CacheDirectory string `json:"cacheDirectory" yaml:"cache_directory"`

	// Vyper describes compiler options.
	Vyper VyperConfig `json:"vyper" yaml:"vyper"`

	// Coverage describes coverage profiling options.
	Coverage CoverageConfig `json:"coverage" yaml:"coverage"`

	// Logging describes the configuration used for logging to file and console
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// VyperConfig describes the options passed to the compiler.
type VyperConfig struct {
	// Version is a version constraint applied to every file, regardless of pragma.
	Version string `json:"version" yaml:"version"`

	// EVMVersion is the hardfork targeted by files without an evm-version pragma.
	EVMVersion string `json:"evmVersion" yaml:"evm_version"`

	// ImportRemapping maps interface import names to dependencies, as "key=dependency@version". The version may be
	// omitted when only one version of the dependency is declared.
	ImportRemapping []string `json:"importRemapping" yaml:"import_remapping"`

	// EnableDecimals enables the decimal type on releases that gate it behind a setting.
	EnableDecimals bool `json:"enableDecimals" yaml:"enable_decimals"`
}

// DependencyConfig describes a dependency available on the local filesystem.
type DependencyConfig struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	// Local is the dependency's project root, relative to the depending project's root.
	Local string `json:"local" yaml:"local"`

	// ContractsFolder overrides the contracts folder of the dependency.
	ContractsFolder string `json:"contractsFolder" yaml:"contracts_folder"`
}

// CoverageConfig describes the options used when profiling coverage.
type CoverageConfig struct {
	// Exclude lists contract and method name patterns left out of coverage.
	Exclude []CoverageExclusion `json:"exclude" yaml:"exclude"`
}

// CoverageExclusion matches methods by glob patterns on the contract and method names. An empty pattern matches
// everything.
type CoverageExclusion struct {
	ContractName string `json:"contractName" yaml:"contract_name"`
	MethodName   string `json:"methodName" yaml:"method_name"`
}

// LoggingConfig describes the configuration options used for logging
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be emitted or discarded.
	// Increasing level values represent more severe logs
	Level zerolog.Level `json:"level" yaml:"level"`

	// LogDirectory describes the directory where structured log _files_ will be outputted. If the string is empty, then
	// no log files are kept
	LogDirectory string `json:"logDirectory" yaml:"log_directory"`

	// NoColor disables colored console output.
	NoColor bool `json:"noColor" yaml:"no_color"`
}

// isJSON reports whether the path names a JSON config. Anything else is read as YAML.
func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// ReadProjectConfigFromFile reads a ProjectConfig from a provided file path, on top of the defaults.
// Returns the ProjectConfig if it succeeds, or an error if one occurs.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	// Read our project configuration file data
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Parse the project configuration
	projectConfig := GetDefaultProjectConfig()
	if isJSON(path) {
		err = json.Unmarshal(b, projectConfig)
	} else {
		err = yaml.Unmarshal(b, projectConfig)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse config file %s", path)
	}

	return projectConfig, nil
}

// ReadProjectConfigFromDirectory reads the default config file of a project root, or returns the defaults when the
// project has none.
func ReadProjectConfigFromDirectory(root string) (*ProjectConfig, error) {
	path := filepath.Join(root, DefaultConfigFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return GetDefaultProjectConfig(), nil
	}
	return ReadProjectConfigFromFile(path)
}

// WriteToFile writes the ProjectConfig to a provided file path, as JSON for ".json" paths and YAML otherwise.
// Returns an error if one occurs.
func (p *ProjectConfig) WriteToFile(path string) error {
	// Serialize the configuration
	var (
		b   []byte
		err error
	)
	if isJSON(path) {
		b, err = json.MarshalIndent(p, "", "\t")
	} else {
		b, err = yaml.Marshal(p)
	}
	if err != nil {
		return errors.WithStack(err)
	}

	// Save it to the provided output path and return the result
	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// VersionSpecifier returns the configured version constraint, or nil when none is set.
func (v *VyperConfig) VersionSpecifier() (*pragma.VersionSpecifier, error) {
	if strings.TrimSpace(v.Version) == "" {
		return nil, nil
	}
	return pragma.ParseSpecifier(pragma.NormalizeVersionPragma(v.Version))
}

// Remappings parses the configured import remappings.
func (v *VyperConfig) Remappings() ([]Remapping, error) {
	remappings := make([]Remapping, 0, len(v.ImportRemapping))
	for _, raw := range v.ImportRemapping {
		remapping, err := ParseRemapping(raw)
		if err != nil {
			return nil, err
		}
		remappings = append(remappings, remapping)
	}
	return remappings, nil
}

// Validate validates that the ProjectConfig meets certain requirements.
// Returns an error if one occurs.
func (p *ProjectConfig) Validate() error {
	// Verify the version constraint parses.
	if _, err := p.Vyper.VersionSpecifier(); err != nil {
		return errors.Wrap(err, "invalid vyper version")
	}

	// Verify every remapping is well-formed.
	if _, err := p.Vyper.Remappings(); err != nil {
		return err
	}

	// Verify dependencies are named and located.
	for i, dependency := range p.Dependencies {
		if dependency.Name == "" {
			return errors.Errorf("dependency %d has no name", i)
		}
		if dependency.Local == "" {
			return errors.Errorf("dependency %s has no local path", dependency.Name)
		}
	}

	// Verify coverage exclusion patterns.
	for _, exclusion := range p.Coverage.Exclude {
		for _, pattern := range []string{exclusion.ContractName, exclusion.MethodName} {
			if pattern != "" && !doublestar.ValidatePattern(pattern) {
				return errors.Errorf("invalid coverage exclusion pattern %q", pattern)
			}
		}
	}

	// Verify the log level is one zerolog knows.
	if p.Logging.Level < zerolog.TraceLevel || p.Logging.Level > zerolog.Disabled {
		return errors.Errorf("invalid log level %d", p.Logging.Level)
	}
	return nil
}
