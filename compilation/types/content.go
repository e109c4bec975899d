package types

import (
	"regexp"
	"sort"
	"strings"
)

// devMessagePattern matches an inline developer comment such as `assert x > 0  # dev: x must be positive`.
var devMessagePattern = regexp.MustCompile(`.*\s*#\s*(dev:.+)`)

// Content is the text of a source file split into lines. Line numbers are 1-indexed.
type Content map[int]string

// NewContent splits source text into lines.
func NewContent(text string) Content {
	content := make(Content)
	for i, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		content[i+1] = line
	}
	return content
}

// Lines returns the lines between start and end inclusive. Missing lines are skipped.
func (c Content) Lines(start int, end int) []string {
	var lines []string
	for lineNo := start; lineNo <= end; lineNo++ {
		if line, ok := c[lineNo]; ok {
			lines = append(lines, line)
		}
	}
	return lines
}

// LineNumbers returns every line number in ascending order.
func (c Content) LineNumbers() []int {
	numbers := make([]int, 0, len(c))
	for lineNo := range c {
		numbers = append(numbers, lineNo)
	}
	sort.Ints(numbers)
	return numbers
}

// String joins the content back into text.
func (c Content) String() string {
	numbers := c.LineNumbers()
	if len(numbers) == 0 {
		return ""
	}
	return strings.Join(c.Lines(numbers[0], numbers[len(numbers)-1]), "\n")
}

// MatchDevMessage returns the "dev: ..." message held by a line, if any.
func MatchDevMessage(line string) (string, bool) {
	match := devMessagePattern.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}

// DevMessages maps line numbers to the developer messages found in comments on those lines.
func DevMessages(content Content) map[int]string {
	messages := make(map[int]string)
	for lineNo, line := range content {
		if message, ok := MatchDevMessage(line); ok {
			messages[lineNo] = message
		}
	}
	return messages
}
