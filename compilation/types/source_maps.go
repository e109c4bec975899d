package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Source maps use the compressed "offset:length:file:jump" format shared with solc:
// https://docs.soliditylang.org/en/latest/internals/source_mappings.html

// SourceMapJumpType describes how an instruction jumps, if it does.
type SourceMapJumpType string

const (
	// SourceMapJumpTypeNone indicates no jump occurred.
	SourceMapJumpTypeNone SourceMapJumpType = ""
	// SourceMapJumpTypeJumpIn indicates a jump into a function.
	SourceMapJumpTypeJumpIn SourceMapJumpType = "i"
	// SourceMapJumpTypeJumpOut indicates a return from a function.
	SourceMapJumpTypeJumpOut SourceMapJumpType = "o"
	// SourceMapJumpTypeJumpWithin indicates a jump within the same function.
	SourceMapJumpTypeJumpWithin SourceMapJumpType = "-"
)

// SourceMap is a decompressed source map. Element i describes instruction i (not byte offset i).
type SourceMap []SourceMapElement

// SourceMapElement is one decompressed source map entry. Offset and Length are -1 when the instruction has no source.
type SourceMapElement struct {
	Index    int
	Offset   int
	Length   int
	FileID   int
	JumpType SourceMapJumpType
}

// HasSource reports whether the element points at a source range.
func (e SourceMapElement) HasSource() bool {
	return e.Offset >= 0 && e.Length >= 0
}

// ParseSourceMap decompresses a source map string. Empty elements and empty fields inherit the previous element's
// values.
func ParseSourceMap(sourceMapStr string) (SourceMap, error) {
	var sourceMap SourceMap
	if len(sourceMapStr) == 0 {
		return sourceMap, nil
	}

	current := SourceMapElement{Index: -1, Offset: -1, Length: -1, FileID: -1}
	parseField := func(field string, target *int) error {
		if field == "" {
			return nil
		}
		value, err := strconv.Atoi(field)
		if err != nil {
			return errors.Wrapf(err, "invalid source map field %q", field)
		}
		*target = value
		return nil
	}

	for _, element := range strings.Split(sourceMapStr, ";") {
		current.Index = len(sourceMap)
		if len(element) == 0 {
			sourceMap = append(sourceMap, current)
			continue
		}

		fields := strings.Split(element, ":")
		if err := parseField(fields[0], &current.Offset); err != nil {
			return nil, err
		}
		if len(fields) > 1 {
			if err := parseField(fields[1], &current.Length); err != nil {
				return nil, err
			}
		}
		if len(fields) > 2 {
			if err := parseField(fields[2], &current.FileID); err != nil {
				return nil, err
			}
		}
		if len(fields) > 3 && fields[3] != "" {
			current.JumpType = SourceMapJumpType(fields[3])
		}
		sourceMap = append(sourceMap, current)
	}
	return sourceMap, nil
}

// CompressedSourceMap extracts the compressed source map string from the raw "sourceMap" output, which is either the
// string itself or an object carrying it under "pc_pos_map_compressed".
func CompressedSourceMap(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.WithStack(err)
		}
		return s, nil
	}

	var structured struct {
		Compressed string `json:"pc_pos_map_compressed"`
	}
	if err := json.Unmarshal(raw, &structured); err != nil {
		return "", errors.Wrap(err, "unable to parse source map object")
	}
	return structured.Compressed, nil
}

// ParseRawSourceMap decompresses the raw "sourceMap" output. The leading element is the compiler's placeholder for
// the code preamble and is dropped.
func ParseRawSourceMap(raw json.RawMessage) (string, SourceMap, error) {
	compressed, err := CompressedSourceMap(raw)
	if err != nil {
		return "", nil, err
	}
	sourceMap, err := decompressSourceMap(compressed)
	if err != nil {
		return compressed, nil, err
	}
	return compressed, sourceMap, nil
}

// decompressSourceMap parses a compressed source map without the preamble placeholder.
func decompressSourceMap(compressed string) (SourceMap, error) {
	sourceMap, err := ParseSourceMap(compressed)
	if err != nil {
		return nil, err
	}
	if len(sourceMap) > 0 {
		sourceMap = sourceMap[1:]
		for i := range sourceMap {
			sourceMap[i].Index = i
		}
	}
	return sourceMap, nil
}
