package types

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor"
)

// ContractMetadata is the CBOR trailer the compiler appends to deployment bytecode. The trailer is followed by its
// own length as a big-endian uint16. Depending on the compiler version the length does or does not count those two
// bytes, and the payload is either a bare {"vyper": [major, minor, patch]} map or an array ending with that map.
type ContractMetadata struct {
	// CompilerVersion is the "major.minor.patch" version recorded in the trailer.
	CompilerVersion string `json:"compilerVersion"`
	// Length is the trailer length in bytes, length suffix included.
	Length int `json:"length"`
	// Fields holds the remaining array members (runtime size, data section sizes, immutable size) when present.
	Fields []uint64 `json:"fields,omitempty"`
}

// ExtractContractMetadata decodes the metadata trailer from bytecode. nil is returned when no trailer is found.
func ExtractContractMetadata(bytecode []byte) *ContractMetadata {
	if len(bytecode) < 3 {
		return nil
	}
	declared := int(binary.BigEndian.Uint16(bytecode[len(bytecode)-2:]))

	// Try the length both excluding and including the suffix itself.
	for _, start := range []int{len(bytecode) - 2 - declared, len(bytecode) - declared} {
		if start < 0 || start >= len(bytecode)-2 {
			continue
		}
		var payload any
		if err := cbor.Unmarshal(bytecode[start:len(bytecode)-2], &payload); err != nil {
			continue
		}
		if metadata := metadataFromPayload(payload); metadata != nil {
			metadata.Length = len(bytecode) - start
			return metadata
		}
	}
	return nil
}

// RemoveContractMetadata strips the metadata trailer, if one is found.
func RemoveContractMetadata(bytecode []byte) []byte {
	if metadata := ExtractContractMetadata(bytecode); metadata != nil {
		return bytecode[:len(bytecode)-metadata.Length]
	}
	return bytecode
}

func metadataFromPayload(payload any) *ContractMetadata {
	switch value := payload.(type) {
	case []any:
		if len(value) == 0 {
			return nil
		}
		metadata := metadataFromPayload(value[len(value)-1])
		if metadata == nil {
			return nil
		}
		for _, field := range value[:len(value)-1] {
			if n, ok := toUint(field); ok {
				metadata.Fields = append(metadata.Fields, n)
			}
		}
		return metadata
	case map[any]any:
		return metadataFromVersion(value["vyper"])
	case map[string]any:
		return metadataFromVersion(value["vyper"])
	}
	return nil
}

func metadataFromVersion(raw any) *ContractMetadata {
	parts, ok := raw.([]any)
	if !ok || len(parts) != 3 {
		return nil
	}
	var numbers [3]uint64
	for i, part := range parts {
		n, ok := toUint(part)
		if !ok {
			return nil
		}
		numbers[i] = n
	}
	return &ContractMetadata{CompilerVersion: fmt.Sprintf("%d.%d.%d", numbers[0], numbers[1], numbers[2])}
}

func toUint(value any) (uint64, bool) {
	switch n := value.(type) {
	case uint64:
		return n, true
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}
