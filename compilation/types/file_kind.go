package types

import (
	"path/filepath"
	"strings"
)

// FileKind classifies source files by extension.
type FileKind int

const (
	// FileKindUnknown is any file the compiler does not read.
	FileKindUnknown FileKind = iota
	// FileKindSource is an implementation source (.vy).
	FileKindSource
	// FileKindInterface is an interface-only source (.vyi).
	FileKindInterface
	// FileKindInterfaceJSON is a pre-compiled interface given as an ABI (.json).
	FileKindInterfaceJSON
)

// ImportExtensions lists the extensions an import may resolve to, in lookup order.
var ImportExtensions = []string{".vy", ".vyi", ".json"}

// FileKindOf returns the kind of the file at path.
func FileKindOf(path string) FileKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vy":
		return FileKindSource
	case ".vyi":
		return FileKindInterface
	case ".json":
		return FileKindInterfaceJSON
	default:
		return FileKindUnknown
	}
}

// Extension returns the extension of the kind.
func (k FileKind) Extension() string {
	switch k {
	case FileKindSource:
		return ".vy"
	case FileKindInterface:
		return ".vyi"
	case FileKindInterfaceJSON:
		return ".json"
	case FileKindUnknown:
		return ""
	}
	panic("unhandled file kind")
}

// ProducesBytecode reports whether files of this kind compile into contracts.
func (k FileKind) ProducesBytecode() bool {
	switch k {
	case FileKindSource:
		return true
	case FileKindInterface, FileKindInterfaceJSON, FileKindUnknown:
		return false
	}
	panic("unhandled file kind")
}

// IsInterfacePath reports whether the path is interface-only: an interface file, or any file inside an "interfaces"
// directory.
func IsInterfacePath(path string) bool {
	if !FileKindOf(path).ProducesBytecode() {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "interfaces" {
			return true
		}
	}
	return false
}
