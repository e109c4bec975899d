package vvm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/cache"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/versions"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"golang.org/x/net/context/ctxhttp"
)

const (
	// BinaryPathEnvVar overrides the install directory.
	BinaryPathEnvVar = "VVM_BINARY_PATH"
	// TokenEnvVar holds a GitHub token used to authenticate release listings.
	TokenEnvVar = "GITHUB_TOKEN"
	// DefaultAPIURL is the GitHub API the releases are listed from.
	DefaultAPIURL = "https://api.github.com"
	// releasesCacheKey is the cache key of the release listing.
	releasesCacheKey = "vyperlang/vyper/releases"
	// DefaultListingTTL is how long a release listing is reused.
	DefaultListingTTL = time.Hour
	// ListingCacheFileName is the database file caching release listings inside the cache directory.
	ListingCacheFileName = "registry.db"
	listingCacheBucket   = "registry"
)

// release is the subset of a GitHub release the registry reads.
type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Registry installs vyper binaries published as GitHub release assets. It implements versions.Registry.
type Registry struct {
	// InstallDir holds the installed binaries, named vyper-<version>.
	InstallDir string
	// APIURL is the GitHub API base URL.
	APIURL string
	// Token authenticates listings when set.
	Token string
	// Client performs the requests.
	Client *http.Client
	// ListingTTL is how long a cached listing is reused.
	ListingTTL time.Duration

	store  *cache.Store
	logger *logging.Logger

	// assets maps each formatted installable version to its download URL.
	assets map[string]string

	bundledOnce    sync.Once
	bundledVersion *semver.Version
	bundledBinary  string
}

// NewRegistry creates a registry installing into installDir. An empty installDir uses VVM_BINARY_PATH, else ~/.vvm.
// The store, when given, caches release listings.
func NewRegistry(installDir string, store *cache.Store) *Registry {
	if installDir == "" {
		installDir = DefaultInstallDir()
	}
	return &Registry{
		InstallDir: installDir,
		APIURL:     DefaultAPIURL,
		Token:      os.Getenv(TokenEnvVar),
		Client:     http.DefaultClient,
		ListingTTL: DefaultListingTTL,
		store:      store,
		logger:     logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.REGISTRY_SERVICE),
		assets:     make(map[string]string),
	}
}

// OpenListingCache opens the release listing cache inside directory.
func OpenListingCache(directory string) (*cache.Store, error) {
	return cache.Open(directory, ListingCacheFileName, listingCacheBucket)
}

// DefaultInstallDir returns VVM_BINARY_PATH when set, else ~/.vvm.
func DefaultInstallDir() string {
	if dir := os.Getenv(BinaryPathEnvVar); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vvm"
	}
	return filepath.Join(home, ".vvm")
}

// assetSuffix is the release asset suffix for the running platform.
func assetSuffix() string {
	switch runtime.GOOS {
	case "darwin":
		return ".darwin"
	case "windows":
		return ".windows.exe"
	default:
		return ".linux"
	}
}

// binaryName returns the file name of an installed version.
func binaryName(version *semver.Version) string {
	name := "vyper-" + pragma.FormatVersion(version)
	if utils.IsWindowsEnvironment() {
		name += ".exe"
	}
	return name
}

// Installable lists the releases that ship a binary for this platform. Throttled responses wrap
// versions.ErrRateLimited.
func (r *Registry) Installable(ctx context.Context) ([]*semver.Version, error) {
	var cached map[string]string
	if r.store != nil {
		if err := r.store.Get(releasesCacheKey, &cached); err == nil && len(cached) > 0 {
			r.assets = cached
			return r.assetVersions(), nil
		}
	}

	releases, err := r.fetchReleases(ctx)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]string)
	for _, rel := range releases {
		version, err := pragma.ParseVersion(rel.TagName)
		if err != nil {
			continue
		}
		for _, a := range rel.Assets {
			if strings.HasSuffix(a.Name, assetSuffix()) {
				assets[pragma.FormatVersion(version)] = a.BrowserDownloadURL
				break
			}
		}
	}
	r.assets = assets

	if r.store != nil {
		if err := r.store.Put(releasesCacheKey, assets, r.ListingTTL); err != nil {
			r.logger.Debug("Unable to cache the vyper release listing", err)
		}
	}
	return r.assetVersions(), nil
}

// assetVersions returns the versions with a known download URL.
func (r *Registry) assetVersions() []*semver.Version {
	versionList := make([]*semver.Version, 0, len(r.assets))
	for raw := range r.assets {
		if version, err := pragma.ParseVersion(raw); err == nil {
			versionList = append(versionList, version)
		}
	}
	return pragma.SortVersions(versionList)
}

// fetchReleases pages through the GitHub release listing.
func (r *Registry) fetchReleases(ctx context.Context) ([]release, error) {
	var releases []release
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/vyperlang/vyper/releases?per_page=100&page=%d", r.APIURL, page)
		request, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		request.Header.Set("Accept", "application/vnd.github+json")
		if r.Token != "" {
			request.Header.Set("Authorization", "Bearer "+r.Token)
		}

		response, err := ctxhttp.Do(ctx, r.Client, request)
		if err != nil {
			return nil, errors.Wrap(err, "unable to list vyper releases")
		}
		body, err := io.ReadAll(response.Body)
		response.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "unable to read vyper release listing")
		}

		if response.StatusCode == http.StatusForbidden || response.StatusCode == http.StatusTooManyRequests {
			if response.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(string(body)), "rate limit") {
				return nil, errors.Wrapf(versions.ErrRateLimited, "GET %s", url)
			}
		}
		if response.StatusCode != http.StatusOK {
			return nil, errors.Errorf("GET %s: unexpected status %s", url, response.Status)
		}

		var pageReleases []release
		if err := json.Unmarshal(body, &pageReleases); err != nil {
			return nil, errors.Wrap(err, "unable to parse vyper release listing")
		}
		releases = append(releases, pageReleases...)
		if len(pageReleases) < 100 {
			return releases, nil
		}
	}
}

// Installed lists the versions present in the install directory.
func (r *Registry) Installed() ([]*semver.Version, error) {
	entries, err := os.ReadDir(r.InstallDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	var installed []*semver.Version
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".exe")
		raw, ok := strings.CutPrefix(name, "vyper-")
		if !ok || entry.IsDir() {
			continue
		}
		if version, err := pragma.ParseVersion(raw); err == nil {
			installed = append(installed, version)
		}
	}
	return pragma.SortVersions(installed), nil
}

// Install downloads a version into the install directory.
func (r *Registry) Install(ctx context.Context, version *semver.Version) error {
	formatted := pragma.FormatVersion(version)
	url, ok := r.assets[formatted]
	if !ok {
		if _, err := r.Installable(ctx); err != nil {
			return err
		}
		if url, ok = r.assets[formatted]; !ok {
			return errors.Errorf("no vyper %s binary is published for %s", formatted, runtime.GOOS)
		}
	}
	if err := utils.MakeDirectory(r.InstallDir); err != nil {
		return err
	}

	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	response, err := ctxhttp.Do(ctx, r.Client, request)
	if err != nil {
		return errors.Wrapf(err, "unable to download vyper %s", formatted)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return errors.Errorf("unable to download vyper %s: unexpected status %s", formatted, response.Status)
	}

	// Download next to the destination and rename into place once complete.
	temporary, err := os.CreateTemp(r.InstallDir, ".download-*")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.Remove(temporary.Name())
	if _, err := io.Copy(temporary, response.Body); err != nil {
		temporary.Close()
		return errors.Wrapf(err, "unable to download vyper %s", formatted)
	}
	if err := temporary.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Chmod(temporary.Name(), 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(temporary.Name(), filepath.Join(r.InstallDir, binaryName(version))); err != nil {
		return errors.WithStack(err)
	}
	r.logger.Info("Installed vyper ", formatted)
	return nil
}

// BundledVersion returns the version of the vyper binary on PATH, if there is one.
func (r *Registry) BundledVersion() *semver.Version {
	r.bundledOnce.Do(func() {
		binary, err := exec.LookPath("vyper")
		if err != nil {
			return
		}
		stdout, _, _, err := utils.RunCommandWithOutputAndError(exec.Command(binary, "--version"), nil)
		if err != nil {
			return
		}
		version, err := pragma.ParseVersion(strings.TrimSpace(string(stdout)))
		if err != nil {
			return
		}
		r.bundledVersion, r.bundledBinary = version, binary
	})
	return r.bundledVersion
}

// BinaryPath returns the executable to run for a version, preferring the bundled binary when it matches.
func (r *Registry) BinaryPath(version *semver.Version) (string, error) {
	if bundled := r.BundledVersion(); bundled != nil && bundled.Equal(version) {
		return r.bundledBinary, nil
	}
	path := filepath.Join(r.InstallDir, binaryName(version))
	if !utils.FileExists(path) {
		return "", errors.Errorf("vyper %s is not installed in %s", pragma.FormatVersion(version), r.InstallDir)
	}
	return path, nil
}
