package imports

import "context"

// Project is a source tree whose files may import one another.
type Project interface {
	// ID uniquely identifies the project for caching.
	ID() string
	// Path is the absolute project root.
	Path() string
	// ContractsFolder is the absolute directory holding the project's sources.
	ContractsFolder() string
	// Dependencies lists the dependencies declared by the project.
	Dependencies() []Dependency
	// SitePackage returns the installed package with the given name, if one exists. The returned project's
	// contracts folder is the package root unless the package configures one.
	SitePackage(name string) (Project, bool)
}

// Dependency is a project declared as a dependency of another project.
type Dependency interface {
	Name() string
	Version() string
	// PackageID identifies the name and version pair.
	PackageID() string
	Project() Project
	// HasContractTypes reports whether the dependency has already produced compiled output.
	HasContractTypes() bool
	// Compile compiles the dependency so its ABIs become available.
	Compile(ctx context.Context) error
}
