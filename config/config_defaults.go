package config

import "github.com/rs/zerolog"

// GetDefaultProjectConfig obtains a default configuration for a project.
func GetDefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		ContractsFolder: "contracts",
		Dependencies:    []DependencyConfig{},
		SitePackages:    []string{},
		Vyper: VyperConfig{
			ImportRemapping: []string{},
		},
		Coverage: CoverageConfig{
			Exclude: []CoverageExclusion{},
		},
		Logging: LoggingConfig{
			Level:        zerolog.InfoLevel,
			LogDirectory: "",
			NoColor:      false,
		},
	}
}
