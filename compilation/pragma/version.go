package pragma

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// versionStringPattern accepts the release formats the compiler has used: "0.3.10", "v0.4.0", "0.4.0rc6", "0.4.0b1",
// "0.4.0-rc.6" and "0.3.10+commit.9136169".
var versionStringPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:[-.]?((?:a|b|rc|alpha|beta)\.?\d*))?(?:\+.*)?$`)

// ParseVersion parses a compiler version string into a semantic version. Pre-release suffixes written without a
// separator ("0.4.0rc6") are rewritten in semver form ("0.4.0-rc6"); build metadata is dropped.
func ParseVersion(s string) (*semver.Version, error) {
	s = strings.TrimSpace(s)
	match := versionStringPattern.FindStringSubmatch(s)
	if match == nil {
		return nil, errors.Errorf("invalid compiler version %q", s)
	}
	parts := []string{match[1], "0", "0"}
	if match[2] != "" {
		parts[1] = match[2]
	}
	if match[3] != "" {
		parts[2] = match[3]
	}
	normalized := strings.Join(parts, ".")
	if match[4] != "" {
		normalized += "-" + strings.ReplaceAll(match[4], ".", "")
	}
	v, err := semver.NewVersion(normalized)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid compiler version %q", s)
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants. It panics on invalid input.
func MustParseVersion(s string) *semver.Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsPrerelease reports whether v is a pre-release.
func IsPrerelease(v *semver.Version) bool {
	return v.Prerelease() != ""
}

// SortVersions sorts versions in ascending order in place and returns them.
func SortVersions(versions []*semver.Version) []*semver.Version {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].LessThan(versions[j])
	})
	return versions
}

// MaxVersion returns the highest version, optionally skipping pre-releases. nil is returned if nothing qualifies.
func MaxVersion(versions []*semver.Version, includePrereleases bool) *semver.Version {
	var max *semver.Version
	for _, v := range versions {
		if !includePrereleases && IsPrerelease(v) {
			continue
		}
		if max == nil || v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

// ContainsVersion reports whether versions holds a version equal to v.
func ContainsVersion(versions []*semver.Version, v *semver.Version) bool {
	for _, candidate := range versions {
		if candidate.Equal(v) {
			return true
		}
	}
	return false
}

// FormatVersion renders a version the way the compiler spells it ("0.4.0rc6").
func FormatVersion(v *semver.Version) string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major(), v.Minor(), v.Patch(), v.Prerelease())
}
