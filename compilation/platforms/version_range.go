package platforms

import (
	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/pkg/errors"
)

// VersionRange identifies a family of compiler releases sharing one invocation contract.
type VersionRange int

const (
	// VersionRange02 covers 0.2.x releases.
	VersionRange02 VersionRange = iota
	// VersionRange03 covers 0.3.x releases.
	VersionRange03
	// VersionRange04 covers 0.4.0 and everything after it.
	VersionRange04
)

// AllVersionRanges lists every supported range in ascending order.
var AllVersionRanges = []VersionRange{VersionRange02, VersionRange03, VersionRange04}

// String returns the range as "0.N".
func (r VersionRange) String() string {
	switch r {
	case VersionRange02:
		return "0.2"
	case VersionRange03:
		return "0.3"
	case VersionRange04:
		return "0.4"
	}
	panic("unhandled version range")
}

// RangeFor returns the range a compiler version belongs to. Releases older than 0.2 are not supported.
func RangeFor(version *semver.Version) (VersionRange, error) {
	if version == nil {
		return 0, errors.New("no compiler version given")
	}
	if version.Major() > 0 {
		return VersionRange04, nil
	}
	switch minor := version.Minor(); {
	case minor < 2:
		return 0, errors.Errorf("vyper %s is not supported", pragma.FormatVersion(version))
	case minor == 2:
		return VersionRange02, nil
	case minor == 3:
		return VersionRange03, nil
	default:
		return VersionRange04, nil
	}
}

// AdapterFor returns the adapter handling the given compiler version.
func AdapterFor(version *semver.Version) (Adapter, error) {
	versionRange, err := RangeFor(version)
	if err != nil {
		return nil, err
	}
	switch versionRange {
	case VersionRange02:
		return &Vyper02Adapter{}, nil
	case VersionRange03:
		return &Vyper03Adapter{}, nil
	case VersionRange04:
		return &Vyper04Adapter{}, nil
	}
	return nil, errors.Errorf("no adapter for version range %d", versionRange)
}
