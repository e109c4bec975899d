package cmd

import "github.com/crytic/vyperlens/config"

// DefaultProjectConfigFilename describes the default config filename for a given project folder.
const DefaultProjectConfigFilename = config.DefaultConfigFileName

// DefaultArtifactsDirectory is where the compile command writes artifacts when --out is given without a value.
const DefaultArtifactsDirectory = ".build"

// DefaultCoverageDirectory is where the coverage command writes its LCOV report.
const DefaultCoverageDirectory = "coverage"
