package pcmap

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/crytic/vyperlens/compilation/types"
	"github.com/pkg/errors"
)

// StructuredMaps holds the position and error maps newer compilers emit alongside the compressed source map.
type StructuredMaps struct {
	// PositionMap maps program counters to source locations. PCs without a position are absent.
	PositionMap map[int]*types.SourceLocation
	// ErrorMap maps program counters to the compiler's label for the check emitted there.
	ErrorMap map[int]string
}

// ParseStructuredMaps decodes the "pc_pos_map" and "error_map" members of a structured source map object.
func ParseStructuredMaps(raw json.RawMessage) (*StructuredMaps, error) {
	var decoded struct {
		PCPosMap map[string][]*int  `json:"pc_pos_map"`
		ErrorMap map[string]*string `json:"error_map"`
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errors.New("structured source map is not an object")
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "unable to parse structured source map")
	}

	maps := &StructuredMaps{
		PositionMap: make(map[int]*types.SourceLocation, len(decoded.PCPosMap)),
		ErrorMap:    make(map[int]string, len(decoded.ErrorMap)),
	}
	for key, position := range decoded.PCPosMap {
		pc, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid program counter %q in position map", key)
		}
		if location := locationFromPosition(position); location != nil {
			maps.PositionMap[pc] = location
		}
	}
	for key, label := range decoded.ErrorMap {
		pc, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid program counter %q in error map", key)
		}
		if label != nil {
			maps.ErrorMap[pc] = *label
		}
	}
	return maps, nil
}

// locationFromPosition converts a four element position. A missing start line means there is no position.
func locationFromPosition(position []*int) *types.SourceLocation {
	if len(position) < 4 || position[0] == nil {
		return nil
	}
	values := make([]int, 4)
	for i := range values {
		if position[i] != nil {
			values[i] = *position[i]
		}
	}
	return types.NewSourceLocation(values[0], values[1], values[2], values[3])
}

// labelRule maps error labels containing any of the substrings to an error type.
type labelRule struct {
	substrings []string
	kind       types.RuntimeErrorType
	located    bool
}

// labelRules are checked in order. "bounds check" is claimed by the overflow rule before the index rule is reached,
// and "clamp gt 0" by the underflow rule before the division rule; both orders follow the compiler's own labels.
var labelRules = []labelRule{
	{[]string{"safemul", "safeadd", "bounds check"}, types.IntegerOverflow, true},
	{[]string{"safesub", "clamp"}, types.IntegerUnderflow, true},
	{[]string{"safediv", "clamp gt 0"}, types.DivisionByZero, true},
	{[]string{"safemod"}, types.ModuloByZero, true},
	{[]string{"bounds check"}, types.IndexOutOfRange, true},
	{[]string{"user assert", "user revert"}, types.UserAssert, true},
	{[]string{"fallback function"}, types.FallbackNotDefined, false},
	{[]string{"bad calldatasize or callvalue"}, types.InvalidCalldataOrValue, true},
	{[]string{"nonpayable check"}, types.NonPayableCheck, true},
}

// ClassifyErrorLabel translates a compiler error label into the message used in tags. located reports whether the
// tagged PC should borrow a source location.
func ClassifyErrorLabel(label string) (message string, located bool) {
	lowered := strings.ToLower(label)
	for _, rule := range labelRules {
		for _, substring := range rule.substrings {
			if strings.Contains(lowered, substring) {
				return string(rule.kind), rule.located
			}
		}
	}
	if kind, ok := types.RuntimeErrorTypeByName(strings.ToUpper(strings.ReplaceAll(label, " ", "_"))); ok {
		return string(kind), true
	}
	return strings.ToUpper(label), false
}

// BuildStructured translates the compiler's structured maps into a PCMap. Every PC with a position keeps that exact
// location and every PC in the error map receives a tag. Tagged PCs without a position borrow the location of the
// nearest preceding untagged PC that has one.
func BuildStructured(maps *StructuredMaps) types.PCMap {
	pcMap := make(types.PCMap, len(maps.PositionMap)+len(maps.ErrorMap))
	for pc, location := range maps.PositionMap {
		copied := *location
		pcMap[pc] = &types.PCMapItem{Location: &copied}
	}

	errorPCs := make([]int, 0, len(maps.ErrorMap))
	for pc := range maps.ErrorMap {
		errorPCs = append(errorPCs, pc)
	}
	sort.Ints(errorPCs)

	for _, pc := range errorPCs {
		message, _ := ClassifyErrorLabel(maps.ErrorMap[pc])
		item, exists := pcMap[pc]
		if !exists {
			item = &types.PCMapItem{}
			pcMap[pc] = item
		}
		item.Dev = types.DevTagPrefix + message
	}
	BackfillLocations(pcMap)
	return pcMap
}

// BackfillLocations gives each tagged PC lacking a location the location of the nearest preceding untagged PC that
// has one. Fallback checks and unrecognized tags are control flow only and stay without a location, as does any PC
// with no located predecessor.
func BackfillLocations(pcMap types.PCMap) {
	for _, pc := range pcMap.SortedPCs() {
		item := pcMap[pc]
		if item.Dev == "" || item.Location != nil {
			continue
		}
		kind, known := types.ParseRuntimeErrorType(item.Dev)
		if !known || kind == types.FallbackNotDefined {
			continue
		}
		item.Location = precedingLocation(pcMap, pc)
	}
}

// precedingLocation searches backwards from pc for an untagged entry with a location.
func precedingLocation(pcMap types.PCMap, pc int) *types.SourceLocation {
	for candidate := pc; candidate >= 0; candidate-- {
		item, ok := pcMap[candidate]
		if !ok || item.Dev != "" || item.Location == nil {
			continue
		}
		copied := *item.Location
		return &copied
	}
	return nil
}
