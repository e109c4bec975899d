package pragma

import (
	"encoding/json"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExtractVersion covers both pragma syntaxes and the normalization rules.
func TestExtractVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"caret shorthand", " # @version ^0.3.0", "~=0.3.0"},
		{"bare version", "# @version 0.3.7\n\nx: uint256", "==0.3.7"},
		{"pragma syntax", "# pragma version ~=0.4.0\n", "~=0.4.0"},
		{"range", "# pragma version >=0.3.9,<0.4.0", ">=0.3.9,<0.4.0"},
		{"after other lines", "# comment\n#pragma version 0.4.1", "==0.4.1"},
		{"prerelease", "# pragma version 0.4.0rc6", "==0.4.0rc6"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			spec := ExtractVersion(test.source)
			require.NotNil(t, spec)
			assert.Equal(t, test.expected, spec.String())
		})
	}
}

// TestExtractVersionIdempotent checks that rebuilding the pragma line from an extracted constraint yields the same
// constraint again.
func TestExtractVersionIdempotent(t *testing.T) {
	t.Parallel()
	sources := []string{" # @version ^0.3.0", "# pragma version 0.4.0", "# @version >=0.3.1,<0.3.10"}
	for _, source := range sources {
		first := ExtractVersion(source)
		require.NotNil(t, first)
		second := ExtractVersion("# pragma version " + first.String())
		require.NotNil(t, second)
		assert.Equal(t, first.String(), second.String())
	}
}

// TestExtractVersionInvalid ensures broken pragmas and missing pragmas produce no constraint.
func TestExtractVersionInvalid(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ExtractVersion("# @version banana"))
	assert.Nil(t, ExtractVersion("x: public(uint256)"))
}

// TestSpecifierCheck verifies the semantic translation of the supported operators.
func TestSpecifierCheck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec     string
		version  string
		expected bool
	}{
		{"~=0.3.0", "0.3.10", true},
		{"~=0.3.0", "0.4.0", false},
		{"~=0.3", "0.4.0", true},
		{"~=0.3", "1.0.0", false},
		{"==0.3.7", "0.3.7", true},
		{"==0.3.7", "0.3.8", false},
		{"==0.3.*", "0.3.9", true},
		{"==0.3.*", "0.4.0", false},
		{"!=0.3.8", "0.3.8", false},
		{">=0.3.9,<0.4.0", "0.3.10", true},
		{">=0.3.9,<0.4.0", "0.4.0rc6", false},
		{"==0.4.0rc6", "0.4.0rc6", true},
	}
	for _, test := range tests {
		spec, err := ParseSpecifier(test.spec)
		require.NoError(t, err, test.spec)
		assert.Equal(t, test.expected, spec.Check(MustParseVersion(test.version)), "%s against %s", test.version, test.spec)
	}
}

// TestParseVersion covers the release formats the compiler publishes.
func TestParseVersion(t *testing.T) {
	t.Parallel()
	v, err := ParseVersion("v0.4.0rc6")
	require.NoError(t, err)
	assert.Equal(t, "rc6", v.Prerelease())
	assert.Equal(t, "0.4.0rc6", FormatVersion(v))

	v, err = ParseVersion("0.3.10+commit.91361694")
	require.NoError(t, err)
	assert.Equal(t, "0.3.10", FormatVersion(v))
	assert.False(t, IsPrerelease(v))

	_, err = ParseVersion("latest")
	assert.Error(t, err)
}

// TestHighestAndMax checks the version selection helpers.
func TestHighestAndMax(t *testing.T) {
	t.Parallel()
	all := SortVersions(parseAll(t, "0.3.10", "0.3.7", "0.4.0rc6", "0.3.9"))
	assert.Equal(t, "0.3.7", FormatVersion(all[0]))
	assert.Equal(t, "0.3.10", FormatVersion(MaxVersion(all, false)))
	assert.Equal(t, "0.4.0rc6", FormatVersion(MaxVersion(all, true)))
	assert.Equal(t, "0.3.10", FormatVersion(MustParseSpecifier("~=0.3.0").Highest(all)))
	assert.Nil(t, MustParseSpecifier("==0.2.16").Highest(all))
}

// TestExtractSettingsPragmas covers optimization and EVM version pragmas.
func TestExtractSettingsPragmas(t *testing.T) {
	t.Parallel()
	source := "# pragma version ~=0.4.0\n# pragma optimize codesize\n#pragma evm-version Cancun\n"
	metadata := Extract(source)
	assert.Equal(t, OptimizationCodesize, metadata.Optimization)
	assert.Equal(t, "cancun", metadata.EVMVersion)

	assert.Equal(t, OptimizationUnset, ExtractOptimization("x: uint256"))
	assert.Empty(t, ExtractEVMVersion("x: uint256"))
}

// TestOptimizationJSON ensures boolean modes serialize as booleans.
func TestOptimizationJSON(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(map[string]Optimization{"a": OptimizationTrue, "b": OptimizationGas})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": true, "b": "gas"}`, string(data))
}

func parseAll(t *testing.T, versions ...string) []*semver.Version {
	parsed := make([]*semver.Version, 0, len(versions))
	for _, v := range versions {
		version, err := ParseVersion(v)
		require.NoError(t, err)
		parsed = append(parsed, version)
	}
	return parsed
}
