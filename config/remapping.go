package config

import (
	"strings"

	"github.com/pkg/errors"
)

// Remapping substitutes the ABIs of a dependency for interface imports under Key.
type Remapping struct {
	Key        string
	Dependency string
	// Version is empty when the dependency has a single declared version.
	Version string
}

// ParseRemapping parses "key=dependency" or "key=dependency@version".
func ParseRemapping(raw string) (Remapping, error) {
	key, value, ok := strings.Cut(raw, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return Remapping{}, errors.Errorf("invalid import remapping %q, expected key=dependency[@version]", raw)
	}
	remapping := Remapping{Key: key, Dependency: value}
	if name, version, found := strings.Cut(value, "@"); found {
		remapping.Dependency = strings.TrimSpace(name)
		remapping.Version = strings.TrimSpace(version)
		if remapping.Dependency == "" || remapping.Version == "" {
			return Remapping{}, errors.Errorf("invalid import remapping %q, expected key=dependency[@version]", raw)
		}
	}
	return remapping, nil
}

// String renders the remapping in its config form.
func (r Remapping) String() string {
	value := r.Dependency
	if r.Version != "" {
		value += "@" + r.Version
	}
	return r.Key + "=" + value
}
