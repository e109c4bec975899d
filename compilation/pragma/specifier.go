package pragma

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// clausePattern matches one comma-separated clause of a PEP 440 version specifier.
var clausePattern = regexp.MustCompile(`^\s*(===|~=|==|!=|<=|>=|<|>)\s*(v?[0-9][0-9A-Za-z.+*-]*)\s*$`)

// VersionSpecifier is a version constraint as written in a pragma, e.g. "~=0.3.0" or ">=0.3.7,<0.4.0". The text
// form is kept for display and for grouping files that share a constraint; checks are done with semver constraints.
type VersionSpecifier struct {
	raw         string
	constraints *semver.Constraints
}

// ParseSpecifier parses a PEP 440 version specifier.
func ParseSpecifier(raw string) (*VersionSpecifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty version specifier")
	}

	clauses := strings.Split(raw, ",")
	translated := make([]string, 0, len(clauses))
	normalized := make([]string, 0, len(clauses))
	for _, clause := range clauses {
		match := clausePattern.FindStringSubmatch(clause)
		if match == nil {
			return nil, errors.Errorf("invalid version specifier %q", raw)
		}
		parts, err := translateClause(match[1], match[2])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid version specifier %q", raw)
		}
		translated = append(translated, parts...)
		normalized = append(normalized, match[1]+match[2])
	}

	constraints, err := semver.NewConstraint(strings.Join(translated, ", "))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version specifier %q", raw)
	}
	return &VersionSpecifier{raw: strings.Join(normalized, ","), constraints: constraints}, nil
}

// MustParseSpecifier is ParseSpecifier for constants. It panics on invalid input.
func MustParseSpecifier(raw string) *VersionSpecifier {
	spec, err := ParseSpecifier(raw)
	if err != nil {
		panic(err)
	}
	return spec
}

// String returns the normalized specifier text. Equal constraints written the same way share the same string.
func (s *VersionSpecifier) String() string {
	return s.raw
}

// Check reports whether v satisfies the specifier.
func (s *VersionSpecifier) Check(v *semver.Version) bool {
	return s.constraints.Check(v)
}

// Filter returns the versions that satisfy the specifier, preserving order.
func (s *VersionSpecifier) Filter(versions []*semver.Version) []*semver.Version {
	var matching []*semver.Version
	for _, v := range versions {
		if s.Check(v) {
			matching = append(matching, v)
		}
	}
	return matching
}

// Highest returns the highest satisfying version, or nil.
func (s *VersionSpecifier) Highest(versions []*semver.Version) *semver.Version {
	return MaxVersion(s.Filter(versions), true)
}

// translateClause rewrites one PEP 440 clause into Masterminds constraint syntax.
func translateClause(operator string, version string) ([]string, error) {
	if strings.HasSuffix(version, ".*") {
		release, err := releaseSegments(strings.TrimSuffix(version, ".*"))
		if err != nil {
			return nil, err
		}
		switch operator {
		case "==":
			lower, upper := wildcardBounds(release)
			return []string{">=" + lower, "<" + upper}, nil
		case "!=":
			padded := append(release, "x", "x")[:3]
			return []string{"!=" + strings.Join(padded, ".")}, nil
		default:
			return nil, errors.Errorf("wildcards are not allowed with %s", operator)
		}
	}

	v, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}
	exact := v.String()

	switch operator {
	case "==", "===":
		return []string{"=" + exact}, nil
	case "!=":
		return []string{"!=" + exact}, nil
	case ">=", "<=", ">", "<":
		return []string{operator + exact}, nil
	case "~=":
		release, err := releaseSegments(strings.SplitN(strings.TrimPrefix(version, "v"), "+", 2)[0])
		if err != nil {
			return nil, err
		}
		if len(release) < 2 {
			return nil, errors.New("compatible release clauses need at least two release segments")
		}
		_, upper := wildcardBounds(release[:len(release)-1])
		return []string{">=" + exact, "<" + upper}, nil
	}
	return nil, errors.Errorf("unsupported operator %s", operator)
}

// releaseSegments returns the numeric release segments of a version, ignoring any pre-release suffix.
func releaseSegments(version string) ([]string, error) {
	version = strings.TrimPrefix(version, "v")
	var segments []string
	for _, segment := range strings.Split(version, ".") {
		digits := segment
		if idx := strings.IndexFunc(segment, func(r rune) bool { return r < '0' || r > '9' }); idx >= 0 {
			digits = segment[:idx]
		}
		if digits == "" {
			break
		}
		segments = append(segments, digits)
		if len(digits) != len(segment) {
			break
		}
	}
	if len(segments) == 0 {
		return nil, errors.Errorf("version %q has no release segments", version)
	}
	return segments, nil
}

// wildcardBounds returns the [lower, upper) range covered by a release prefix: "0.3" covers [0.3.0, 0.4.0).
func wildcardBounds(prefix []string) (string, string) {
	numbers := make([]int, 3)
	for i := 0; i < len(prefix) && i < 3; i++ {
		numbers[i], _ = strconv.Atoi(prefix[i])
	}
	lower := fmt.Sprintf("%d.%d.%d", numbers[0], numbers[1], numbers[2])

	bump := len(prefix) - 1
	if bump > 2 {
		bump = 2
	}
	upperNumbers := make([]int, 3)
	copy(upperNumbers, numbers)
	upperNumbers[bump]++
	for i := bump + 1; i < 3; i++ {
		upperNumbers[i] = 0
	}
	upper := fmt.Sprintf("%d.%d.%d", upperNumbers[0], upperNumbers[1], upperNumbers[2])
	return lower, upper
}
