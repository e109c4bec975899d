package types

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// SourceLocation is a (start line, start column, end line, end column) range. Lines are 1-indexed.
type SourceLocation struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// NewSourceLocation builds a location from four values.
func NewSourceLocation(startLine, startColumn, endLine, endColumn int) *SourceLocation {
	return &SourceLocation{StartLine: startLine, StartColumn: startColumn, EndLine: endLine, EndColumn: endColumn}
}

// Tuple returns the location as four integers.
func (l SourceLocation) Tuple() [4]int {
	return [4]int{l.StartLine, l.StartColumn, l.EndLine, l.EndColumn}
}

// String renders the location as "line:col-line:col".
func (l SourceLocation) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", l.StartLine, l.StartColumn, l.EndLine, l.EndColumn)
}

// MarshalJSON encodes the location as a four element array.
func (l SourceLocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Tuple())
}

// UnmarshalJSON decodes a four element array. Null members are read as zero.
func (l *SourceLocation) UnmarshalJSON(data []byte) error {
	var values []*int
	if err := json.Unmarshal(data, &values); err != nil {
		return errors.WithStack(err)
	}
	if len(values) != 4 {
		return errors.Errorf("source location must have 4 members, got %d", len(values))
	}
	get := func(i int) int {
		if values[i] == nil {
			return 0
		}
		return *values[i]
	}
	*l = SourceLocation{StartLine: get(0), StartColumn: get(1), EndLine: get(2), EndColumn: get(3)}
	return nil
}

// PCMapItem is what is known about one program counter: where it comes from and which check it belongs to.
type PCMapItem struct {
	Location *SourceLocation `json:"location"`
	Dev      string          `json:"dev,omitempty"`
}

// IsInstrumented reports whether the PC carries a location or a tag.
func (i *PCMapItem) IsInstrumented() bool {
	return i != nil && (i.Location != nil || i.Dev != "")
}

// PCMap maps program counters of the runtime bytecode to PCMapItem values.
type PCMap map[int]*PCMapItem

// SortedPCs returns the program counters in ascending order.
func (m PCMap) SortedPCs() []int {
	pcs := make([]int, 0, len(m))
	for pc := range m {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	return pcs
}
