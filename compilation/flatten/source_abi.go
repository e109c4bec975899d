package flatten

import (
	"regexp"
	"strings"
)

// DefaultMutability is the state mutability of a function without a mutability decorator.
const DefaultMutability = "nonpayable"

// mutabilityDecorators are the decorators that declare state mutability.
var mutabilityDecorators = map[string]bool{
	"pure":       true,
	"view":       true,
	"payable":    true,
	"nonpayable": true,
}

// hiddenDecorators mark functions that are not part of the external interface.
var hiddenDecorators = map[string]bool{
	"internal": true,
	"deploy":   true,
}

// functionNamePattern matches a signature up to its opening parenthesis.
var functionNamePattern = regexp.MustCompile(`^def\s+(\w+)\s*\(`)

// SourceToABI derives the function entries of a source's external interface from its decorated top-level
// function signatures. Events, structs and constants are not included.
func SourceToABI(source string) []ABIEntry {
	var entries []ABIEntry
	var decorators []string
	lines := splitLines(source)
	for i := 0; i < len(lines); i++ {
		line := stripComment(lines[i])
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(line, "@"):
			name, _, _ := strings.Cut(strings.TrimPrefix(trimmed, "@"), "(")
			decorators = append(decorators, strings.TrimSpace(name))
			continue
		case !strings.HasPrefix(line, "def "):
			decorators = nil
			continue
		}

		// Gather the signature, which may span lines, up to the colon closing it.
		signature := line
		for depth := parenDepth(signature); (depth > 0 || !strings.HasSuffix(strings.TrimSpace(signature), ":")) && i+1 < len(lines); depth = parenDepth(signature) {
			i++
			signature += " " + strings.TrimSpace(stripComment(lines[i]))
		}

		current := decorators
		decorators = nil
		if len(current) == 0 || containsAny(current, hiddenDecorators) {
			continue
		}
		if entry, ok := parseSignature(signature, current); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// parseSignature builds an ABI entry from a joined function signature.
func parseSignature(signature string, decorators []string) (ABIEntry, bool) {
	match := functionNamePattern.FindStringSubmatch(signature)
	if match == nil {
		return ABIEntry{}, false
	}
	open := len(match[0]) - 1
	closing := matchingParen(signature, open)
	if closing < 0 {
		return ABIEntry{}, false
	}
	args := signature[open+1 : closing]
	returns := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(signature[closing+1:]), ":"))
	returns = strings.TrimSpace(strings.TrimPrefix(returns, "->"))

	entry := ABIEntry{
		Type:            "function",
		Name:            match[1],
		Inputs:          []ABIParameter{},
		StateMutability: DefaultMutability,
	}
	for _, decorator := range decorators {
		if mutabilityDecorators[decorator] {
			entry.StateMutability = decorator
			break
		}
	}

	for _, arg := range splitTopLevel(args) {
		arg, _, _ = strings.Cut(arg, "=")
		name, typ, ok := strings.Cut(arg, ":")
		if !ok {
			continue
		}
		entry.Inputs = append(entry.Inputs, ABIParameter{Name: strings.TrimSpace(name), Type: strings.TrimSpace(typ)})
	}

	if strings.HasPrefix(returns, "(") && strings.HasSuffix(returns, ")") {
		for _, output := range splitTopLevel(returns[1 : len(returns)-1]) {
			entry.Outputs = append(entry.Outputs, ABIParameter{Type: output})
		}
	} else if returns != "" {
		entry.Outputs = []ABIParameter{{Type: returns}}
	}
	return entry, true
}

// splitTopLevel splits on commas outside brackets and parentheses, dropping empty parts.
func splitTopLevel(text string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range text {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, text[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, text[start:])

	var trimmed []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			trimmed = append(trimmed, part)
		}
	}
	return trimmed
}

// matchingParen returns the index of the parenthesis closing the one at open, or -1.
func matchingParen(text string, open int) int {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parenDepth(text string) int {
	return strings.Count(text, "(") - strings.Count(text, ")")
}

func stripComment(line string) string {
	if index := strings.Index(line, "#"); index >= 0 {
		return strings.TrimRight(line[:index], " \t")
	}
	return line
}

func containsAny(values []string, set map[string]bool) bool {
	for _, value := range values {
		if set[value] {
			return true
		}
	}
	return false
}
