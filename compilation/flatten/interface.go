package flatten

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// indent is one level of interface body indentation.
const indent = "    "

// ABIParameter is an input or output of an ABI entry.
type ABIParameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ABIEntry is one member of a JSON ABI. Only functions take part in interface generation.
type ABIEntry struct {
	Type            string         `json:"type"`
	Name            string         `json:"name,omitempty"`
	Inputs          []ABIParameter `json:"inputs"`
	Outputs         []ABIParameter `json:"outputs,omitempty"`
	StateMutability string         `json:"stateMutability,omitempty"`
}

// IsFunction reports whether the entry describes a function.
func (e ABIEntry) IsFunction() bool {
	return e.Type == "function"
}

// Signature returns the canonical signature, e.g. "transfer(address,uint256)".
func (e ABIEntry) Signature() string {
	inputTypes := make([]string, len(e.Inputs))
	for i, input := range e.Inputs {
		inputTypes[i] = input.Type
	}
	return fmt.Sprintf("%s(%s)", e.Name, strings.Join(inputTypes, ","))
}

// Selector returns the 4-byte method identifier as 0x-prefixed hex.
func (e ABIEntry) Selector() string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(e.Signature()))
	return "0x" + hex.EncodeToString(hasher.Sum(nil)[:4])
}

// ParseABIEntries decodes a JSON ABI, either a bare list or an object holding one under "abi".
func ParseABIEntries(data []byte) ([]ABIEntry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '{' {
		var wrapper struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, errors.Wrap(err, "unable to parse ABI document")
		}
		data = wrapper.ABI
		if len(data) == 0 {
			return nil, nil
		}
	}
	var entries []ABIEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "unable to parse ABI")
	}
	return entries, nil
}

// GenerateInterface renders the functions of an ABI as a Vyper interface block named name.
func GenerateInterface(entries []ABIEntry, name string) string {
	var builder strings.Builder
	builder.WriteString("interface " + name + ":\n")
	for _, entry := range entries {
		if !entry.IsFunction() {
			continue
		}
		builder.WriteString(indent + generateMethod(entry))
	}
	builder.WriteString("\n")
	return builder.String()
}

// generateMethod renders one interface method definition.
func generateMethod(entry ABIEntry) string {
	inputs := make([]string, len(entry.Inputs))
	for i, input := range entry.Inputs {
		inputs[i] = input.Name + ": " + input.Type
	}
	returns := ""
	if len(entry.Outputs) > 0 {
		returns = " -> " + entry.Outputs[0].Type
	}
	return fmt.Sprintf("def %s(%s)%s: %s\n", entry.Name, strings.Join(inputs, ", "), returns, entry.StateMutability)
}

// isImportLine reports whether a line is a top-level import statement.
func isImportLine(line string) bool {
	return strings.HasPrefix(line, "import ") || (strings.HasPrefix(line, "from ") && strings.Contains(line, " import "))
}

// ExtractMeta returns the first version pragma line, in either syntax, and the source without it. The pragma is ""
// when the source has none.
func ExtractMeta(source string) (string, string) {
	versionPragma := ""
	found := false
	var cleaned []string
	for _, line := range splitLines(source) {
		if !found && strings.HasPrefix(line, "#") &&
			(strings.Contains(line, "pragma version") || strings.Contains(line, "@version")) {
			versionPragma = line
			found = true
			continue
		}
		cleaned = append(cleaned, line)
	}
	return versionPragma, strings.Join(cleaned, "\n")
}

// ExtractImports separates the import lines of a source. It returns the compiler interface imports, every other
// import, and the source without any of them.
func ExtractImports(source string) (string, string, string) {
	var stdlib, interfaces, cleaned []string
	for _, line := range splitLines(source) {
		switch {
		case !isImportLine(line):
			cleaned = append(cleaned, line)
		case strings.Contains(line, "vyper.interfaces"):
			stdlib = append(stdlib, line)
		default:
			interfaces = append(interfaces, line)
		}
	}
	return strings.Join(stdlib, "\n"), strings.Join(interfaces, "\n"), strings.Join(cleaned, "\n")
}

// ExtractImportAliases maps the last segment of every aliased import to its alias, e.g. "import a.b.C as D" gives
// C -> D.
func ExtractImportAliases(source string) map[string]string {
	aliases := make(map[string]string)
	for _, line := range splitLines(source) {
		if !isImportLine(line) || !strings.Contains(line, " as ") {
			continue
		}
		_, subject, _ := strings.Cut(line, "import ")
		imported, alias, _ := strings.Cut(subject, " as ")
		segments := strings.Split(strings.TrimSpace(imported), ".")
		aliases[segments[len(segments)-1]] = strings.TrimSpace(alias)
	}
	return aliases
}

func splitLines(source string) []string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	if source == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(source, "\n"), "\n")
}
