package imports

import (
	"github.com/google/uuid"
)

// Cache holds resolved imports for one session. A session covers one process run or one compile request: create a
// Cache with NewCache, share it with every Resolver of the session, and discard it to start fresh. Entries are only
// ever added, so each file is scanned at most once per session. A Cache is not safe for concurrent use.
type Cache struct {
	// SessionID identifies the session in logs.
	SessionID uuid.UUID

	// projects maps a project ID to the imports written in each absolute file path scanned within it.
	projects map[string]map[string][]*Import

	// attempted holds the package IDs of dependencies a compile was already attempted for.
	attempted map[string]struct{}
}

// NewCache creates an empty cache for a new session.
func NewCache() *Cache {
	return &Cache{
		SessionID: uuid.New(),
		projects:  make(map[string]map[string][]*Import),
		attempted: make(map[string]struct{}),
	}
}

// lookup returns the direct imports cached for a file of a project.
func (c *Cache) lookup(projectID string, path string) ([]*Import, bool) {
	files, ok := c.projects[projectID]
	if !ok {
		return nil, false
	}
	imports, ok := files[path]
	return imports, ok
}

// store records the direct imports of a file of a project.
func (c *Cache) store(projectID string, path string, imports []*Import) {
	files, ok := c.projects[projectID]
	if !ok {
		files = make(map[string][]*Import)
		c.projects[projectID] = files
	}
	files[path] = imports
}

// markAttempted records a dependency compile attempt and reports whether it is the first.
func (c *Cache) markAttempted(packageID string) bool {
	if _, ok := c.attempted[packageID]; ok {
		return false
	}
	c.attempted[packageID] = struct{}{}
	return true
}

// Len returns the number of files cached across all projects.
func (c *Cache) Len() int {
	count := 0
	for _, files := range c.projects {
		count += len(files)
	}
	return count
}
