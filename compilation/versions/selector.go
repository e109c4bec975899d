package versions

import (
	"context"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/compilation/imports"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Selector decides which toolchain version compiles each source, installing versions as needed.
type Selector struct {
	// RetryPolicy governs rate-limited listings and failed installs.
	RetryPolicy RetryPolicy

	registry Registry
	logger   *logging.Logger

	// installable caches the release listing for the lifetime of the selector.
	installable []*semver.Version
}

// constraintGroup is the set of sources sharing one constraint.
type constraintGroup struct {
	constraint *pragma.VersionSpecifier
	sourceIDs  []string
}

// NewSelector creates a selector over a registry.
func NewSelector(registry Registry) *Selector {
	return &Selector{
		RetryPolicy: DefaultRetryPolicy,
		registry:    registry,
		logger:      logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.VERSIONS_SERVICE),
	}
}

// InstalledVersions returns the installed versions, the bundled one included, in ascending order.
func (s *Selector) InstalledVersions() ([]*semver.Version, error) {
	installed, err := s.registry.Installed()
	if err != nil {
		return nil, errors.Wrap(err, "unable to list installed vyper versions")
	}
	versions := slices.Clone(installed)
	if bundled := s.registry.BundledVersion(); bundled != nil && !pragma.ContainsVersion(versions, bundled) {
		versions = append(versions, bundled)
	}
	return pragma.SortVersions(versions), nil
}

// InstallableVersions returns the versions available for install. Throttled listings are retried with backoff.
// When the listing cannot be obtained the installed versions are returned instead.
func (s *Selector) InstallableVersions(ctx context.Context) ([]*semver.Version, error) {
	if s.installable != nil {
		return s.installable, nil
	}

	var listed []*semver.Version
	err := Retry(ctx, s.RetryPolicy,
		func() error {
			var err error
			listed, err = s.registry.Installable(ctx)
			return err
		},
		IsRateLimited,
		func(attempt int, remaining int, delay time.Duration, err error) {
			s.logger.Warn("GitHub throttled requests. Retrying in '", delay, "'. Tries left=", remaining)
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithStack(ctx.Err())
		}
		s.logger.Warn("Error checking available versions, possibly due to Internet problems. "+
			"Attempting to use the best installed version.", err)
		return s.InstalledVersions()
	}

	s.installable = pragma.SortVersions(slices.Clone(listed))
	return s.installable, nil
}

// Install installs a version with retries. Exhaustion yields a *types.InstallError naming the constraint.
func (s *Selector) Install(ctx context.Context, version *semver.Version, constraint string) error {
	formatted := pragma.FormatVersion(version)
	s.logger.Info("Installing vyper ", colors.Bold, formatted, colors.Reset)
	err := Retry(ctx, s.RetryPolicy,
		func() error { return s.registry.Install(ctx, version) },
		nil,
		func(attempt int, remaining int, delay time.Duration, err error) {
			s.logger.Warn("Installing vyper ", formatted, " failed. Retrying in '", delay, "'. Tries left=", remaining, err)
		},
	)
	if err != nil {
		return &types.InstallError{Constraint: constraint, Version: formatted, Err: err}
	}
	return nil
}

// Select assigns every source to exactly one installed version. Sources are IDs relative to root (absolute paths
// are accepted). The constraint of a source is the override when given, else its version pragma. A source with no
// constraint that is imported by constrained sources follows the first of them in sorted order; any other such
// source uses the highest stable version selected, falling back to the highest stable installed version.
func (s *Selector) Select(
	ctx context.Context,
	root string,
	sourceIDs []string,
	importMap imports.ImportMap,
	override *pragma.VersionSpecifier,
) (VersionMap, error) {
	ids := normalizeSourceIDs(root, sourceIDs)

	// Determine each source's own constraint.
	constraints := make(map[string]*pragma.VersionSpecifier, len(ids))
	for _, id := range ids {
		if override != nil {
			constraints[id] = override
			continue
		}
		constraint, err := pragma.ExtractVersionFromFile(filepath.Join(root, filepath.FromSlash(id)))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read version pragma of %s", id)
		}
		if constraint != nil {
			constraints[id] = constraint
		}
	}

	// Union sources by constraint.
	groups := make(map[string]*constraintGroup)
	addToGroup := func(constraint *pragma.VersionSpecifier, id string) {
		group, ok := groups[constraint.String()]
		if !ok {
			group = &constraintGroup{constraint: constraint}
			groups[constraint.String()] = group
		}
		group.sourceIDs = append(group.sourceIDs, id)
	}
	var unconstrained []string
	for _, id := range ids {
		if constraint, ok := constraints[id]; ok {
			addToGroup(constraint, id)
		}
	}
	for _, id := range ids {
		if _, ok := constraints[id]; ok {
			continue
		}
		if importer, ok := firstConstrainedImporter(root, id, ids, constraints, importMap); ok {
			addToGroup(constraints[importer], id)
		} else {
			unconstrained = append(unconstrained, id)
		}
	}
	keys := maps.Keys(groups)
	sort.Strings(keys)

	// Install whatever no installed version satisfies.
	installed, err := s.InstalledVersions()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		constraint := groups[key].constraint
		if len(constraint.Filter(installed)) > 0 {
			continue
		}
		if err := s.installFor(ctx, constraint); err != nil {
			return nil, err
		}
		if installed, err = s.InstalledVersions(); err != nil {
			return nil, err
		}
	}

	// Every constraint now resolves to its highest installed version.
	versionMap := make(VersionMap)
	for _, key := range keys {
		group := groups[key]
		best := group.constraint.Highest(installed)
		if best == nil {
			return nil, &types.InstallError{
				Constraint: key,
				Err:        errors.New("no installed version satisfies the constraint"),
			}
		}
		versionMap.add(best, group.sourceIDs...)
	}

	// Nothing is installed at all: install the latest release as a baseline.
	if len(installed) == 0 {
		if err := s.installLatest(ctx); err != nil {
			return nil, err
		}
		if installed, err = s.InstalledVersions(); err != nil {
			return nil, err
		}
	}

	if len(unconstrained) > 0 {
		fallback := pragma.MaxVersion(versionMap.Versions(), false)
		if fallback == nil {
			fallback = pragma.MaxVersion(installed, false)
		}
		if fallback == nil {
			fallback = pragma.MaxVersion(installed, true)
		}
		if fallback == nil {
			return nil, &types.InstallError{Err: errors.New("no vyper version is installed")}
		}
		versionMap.add(fallback, unconstrained...)
	}
	return versionMap, nil
}

// installFor installs the highest installable version satisfying a constraint.
func (s *Selector) installFor(ctx context.Context, constraint *pragma.VersionSpecifier) error {
	available, err := s.InstallableVersions(ctx)
	if err != nil {
		return err
	}
	target := constraint.Highest(available)
	if target == nil {
		return &types.InstallError{Constraint: constraint.String(), Err: errors.New("No available version to install")}
	}
	if bundled := s.registry.BundledVersion(); bundled != nil && target.Equal(bundled) {
		return nil
	}
	return s.Install(ctx, target, constraint.String())
}

// installLatest installs the highest installable release, or the highest pre-release if there is no release.
func (s *Selector) installLatest(ctx context.Context) error {
	available, err := s.InstallableVersions(ctx)
	if err != nil {
		return err
	}
	latest := pragma.MaxVersion(available, false)
	if latest == nil {
		latest = pragma.MaxVersion(available, true)
	}
	if latest == nil {
		return &types.InstallError{Err: errors.New("No available version to install")}
	}
	return s.Install(ctx, latest, "")
}

// firstConstrainedImporter returns the first source, in sorted order, that has a constraint and imports id.
func firstConstrainedImporter(
	root string,
	id string,
	ids []string,
	constraints map[string]*pragma.VersionSpecifier,
	importMap imports.ImportMap,
) (string, bool) {
	for _, candidate := range ids {
		if _, ok := constraints[candidate]; !ok || candidate == id {
			continue
		}
		for _, imported := range importMap.ImportedPaths(candidate) {
			if utils.RelativePathOrSelf(root, imported) == id {
				return candidate, true
			}
		}
	}
	return "", false
}

// normalizeSourceIDs converts sources to sorted, distinct IDs relative to root.
func normalizeSourceIDs(root string, sourceIDs []string) []string {
	seen := make(map[string]struct{}, len(sourceIDs))
	ids := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if filepath.IsAbs(id) {
			id = utils.RelativePathOrSelf(root, id)
		}
		id = filepath.ToSlash(filepath.Clean(id))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
