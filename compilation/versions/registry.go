package versions

import (
	"context"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// ErrRateLimited is returned by a Registry when the release listing was throttled.
var ErrRateLimited = errors.New("API rate limit exceeded")

// Registry lists and installs toolchain versions.
type Registry interface {
	// Installable lists every version that can be installed. It may fail with an error wrapping ErrRateLimited.
	Installable(ctx context.Context) ([]*semver.Version, error)
	// Installed lists every version already installed.
	Installed() ([]*semver.Version, error)
	// Install downloads and installs a version.
	Install(ctx context.Context, version *semver.Version) error
	// BundledVersion is the version shipped with the running environment, or nil when there is none. It is always
	// usable without installing.
	BundledVersion() *semver.Version
}

// IsRateLimited reports whether err was caused by throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || strings.Contains(err.Error(), ErrRateLimited.Error())
}
