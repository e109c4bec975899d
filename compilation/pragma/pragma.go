package pragma

import (
	"os"
	"regexp"
	"strings"

	"github.com/crytic/vyperlens/logging"
	"github.com/pkg/errors"
)

var (
	// legacyVersionPattern matches the original "# @version" syntax.
	legacyVersionPattern = regexp.MustCompile(`(?:\n|^)\s*#\s*@version\s*([^\n]*)`)
	// versionPattern matches "# pragma version".
	versionPattern = regexp.MustCompile(`(?:\n|^)\s*#\s*pragma\s+version\s*([^\n]*)`)
	// optimizePattern matches "#pragma optimize <mode>".
	optimizePattern = regexp.MustCompile(`(?:\n|^)\s*#\s*pragma\s+optimize\s+([^\n]*)`)
	// evmVersionPattern matches "#pragma evm-version <fork>".
	evmVersionPattern = regexp.MustCompile(`(?:\n|^)\s*#\s*pragma\s+evm-version\s+([^\n]*)`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Optimization is an optimization mode. The compiler accepts booleans in older releases and named modes in newer
// ones; OptimizationTrue and OptimizationFalse serialize as JSON booleans.
type Optimization string

const (
	// OptimizationUnset means no pragma or override was given.
	OptimizationUnset Optimization = ""
	// OptimizationTrue is the boolean "optimize everything" of older releases.
	OptimizationTrue Optimization = "true"
	// OptimizationFalse disables optimization in older releases.
	OptimizationFalse Optimization = "false"
	// OptimizationGas optimizes for gas.
	OptimizationGas Optimization = "gas"
	// OptimizationCodesize optimizes for code size.
	OptimizationCodesize Optimization = "codesize"
	// OptimizationNone disables optimization.
	OptimizationNone Optimization = "none"
)

// MarshalJSON writes the boolean modes as booleans and the named modes as strings.
func (o Optimization) MarshalJSON() ([]byte, error) {
	switch o {
	case OptimizationTrue, OptimizationFalse:
		return []byte(o), nil
	default:
		return []byte(`"` + string(o) + `"`), nil
	}
}

// UnmarshalJSON accepts both booleans and strings.
func (o *Optimization) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	*o = Optimization(strings.ToLower(text))
	return nil
}

// Metadata is everything the pragmas of one file declare.
type Metadata struct {
	Version      *VersionSpecifier
	Optimization Optimization
	EVMVersion   string
}

// Extract reads every pragma from source text.
func Extract(text string) Metadata {
	return Metadata{
		Version:      ExtractVersion(text),
		Optimization: ExtractOptimization(text),
		EVMVersion:   ExtractEVMVersion(text),
	}
}

// ExtractFromFile reads every pragma from the file at path.
func ExtractFromFile(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, errors.WithStack(err)
	}
	return Extract(string(data)), nil
}

// ExtractVersion returns the version constraint declared in text, or nil when there is none. An unparseable
// constraint is logged and treated as absent.
func ExtractVersion(text string) *VersionSpecifier {
	raw, ok := findPragma(text, legacyVersionPattern, versionPattern)
	if !ok {
		return nil
	}
	normalized := NormalizeVersionPragma(raw)
	spec, err := ParseSpecifier(normalized)
	if err != nil {
		logging.GlobalLogger.Warn("Invalid version pragma: ", raw)
		return nil
	}
	return spec
}

// ExtractVersionFromFile is ExtractVersion over the contents of a file.
func ExtractVersionFromFile(path string) (*VersionSpecifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ExtractVersion(string(data)), nil
}

// NormalizeVersionPragma collapses whitespace, rewrites "^" as the compatible release operator and turns a bare
// version into an exact match.
func NormalizeVersionPragma(raw string) string {
	normalized := strings.TrimSpace(whitespacePattern.ReplaceAllString(raw, " "))
	normalized = strings.ReplaceAll(normalized, "^", "~=")
	if normalized != "" && normalized[0] >= '0' && normalized[0] <= '9' {
		normalized = "==" + normalized
	}
	return normalized
}

// ExtractOptimization returns the optimization mode declared in text.
func ExtractOptimization(text string) Optimization {
	raw, ok := findPragma(text, optimizePattern)
	if !ok {
		return OptimizationUnset
	}
	return Optimization(strings.ToLower(strings.TrimSpace(raw)))
}

// ExtractEVMVersion returns the target EVM version declared in text.
func ExtractEVMVersion(text string) string {
	raw, ok := findPragma(text, evmVersionPattern)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// findPragma returns the value captured by the first pattern that matches.
func findPragma(text string, patterns ...*regexp.Regexp) (string, bool) {
	for _, pattern := range patterns {
		if match := pattern.FindStringSubmatch(text); match != nil {
			return match[1], true
		}
	}
	return "", false
}
