package compilation

import (
	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/platforms"
	"github.com/crytic/vyperlens/events"
	"github.com/google/uuid"
)

// CompilerEvents holds the emitters a VyperCompiler publishes to while compiling.
type CompilerEvents struct {
	// VersionSelected is published once per compiler version, before its sources are compiled.
	VersionSelected events.EventEmitter[VersionSelectedEvent]
	// ContractCompiled is published for every contract before it is yielded to the caller.
	ContractCompiled events.EventEmitter[ContractCompiledEvent]
}

// VersionSelectedEvent describes the sources assigned to one compiler version.
type VersionSelectedEvent struct {
	// CompilationID identifies the Compile call the event belongs to.
	CompilationID uuid.UUID
	Version       *semver.Version
	SourceIDs     []string
}

// ContractCompiledEvent describes one contract produced by a compile.
type ContractCompiledEvent struct {
	CompilationID uuid.UUID
	Contract      *platforms.CompiledContract
	// Cached is set when the contract was served from the build cache instead of the compiler.
	Cached bool
}
