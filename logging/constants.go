package logging

// Keys used when creating sub-loggers.
const (
	// SERVICE_KEY is the key every package uses for its sub-logger
	SERVICE_KEY = "service"
)

// Services that create their own sub-logger.
const (
	// COMPILATION_SERVICE identifies the compilation package and its adapters
	COMPILATION_SERVICE = "compilation"
	// IMPORTS_SERVICE identifies the import resolver
	IMPORTS_SERVICE = "imports"
	// VERSIONS_SERVICE identifies the version selector
	VERSIONS_SERVICE = "versions"
	// REGISTRY_SERVICE identifies the toolchain registry and installer
	REGISTRY_SERVICE = "registry"
	// TRACING_SERVICE identifies the source tracer
	TRACING_SERVICE = "tracing"
	// COVERAGE_SERVICE identifies the coverage profiler
	COVERAGE_SERVICE = "coverage"
	// CLI_SERVICE identifies the cmd package
	CLI_SERVICE = "cli"
)
