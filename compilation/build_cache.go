package compilation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/cache"
	"github.com/crytic/vyperlens/compilation/platforms"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/pkg/errors"
)

const (
	// BuildCacheFileName is the database file holding cached builds inside the cache directory.
	BuildCacheFileName = "builds.db"
	// buildCacheBucket is the bucket cached builds are stored in.
	buildCacheBucket = "builds"
)

// BuildCache stores the contracts produced by one compiler invocation, keyed by the compiler version, the settings
// key and a hash of everything fed to the compiler.
type BuildCache struct {
	store *cache.Store
}

// cachedContract is a compiled contract as stored.
type cachedContract struct {
	Artifact *types.ContractArtifact `json:"artifact"`
	Source   string                  `json:"source"`
}

// NewBuildCache creates a build cache over an open store.
func NewBuildCache(store *cache.Store) *BuildCache {
	return &BuildCache{store: store}
}

// OpenBuildCache opens the build cache database inside directory.
func OpenBuildCache(directory string) (*BuildCache, error) {
	store, err := cache.Open(directory, BuildCacheFileName, buildCacheBucket)
	if err != nil {
		return nil, err
	}
	return NewBuildCache(store), nil
}

// BuildKey identifies one compiler invocation.
func BuildKey(version *semver.Version, settingsKey string, inputHash string) string {
	return pragma.FormatVersion(version) + "/" + settingsKey + "/" + inputHash
}

// InputHash hashes the settings, sources and interfaces of a compiler invocation.
func InputHash(settings *platforms.Settings, sources map[string]platforms.Source, interfaces map[string]platforms.InterfaceABI) (string, error) {
	hasher := sha256.New()
	encodedSettings, err := json.Marshal(settings)
	if err != nil {
		return "", errors.WithStack(err)
	}
	hasher.Write(encodedSettings)

	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		hasher.Write([]byte(id))
		hasher.Write([]byte{0})
		hasher.Write([]byte(sources[id].Content))
		hasher.Write([]byte{0})
	}

	// Maps marshal with sorted keys.
	encodedInterfaces, err := json.Marshal(interfaces)
	if err != nil {
		return "", errors.WithStack(err)
	}
	hasher.Write(encodedInterfaces)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Load returns the contracts stored under key. ok is false on a miss.
func (b *BuildCache) Load(key string) ([]*platforms.CompiledContract, bool, error) {
	var stored []cachedContract
	if err := b.store.Get(key, &stored); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}

	contracts := make([]*platforms.CompiledContract, 0, len(stored))
	for _, entry := range stored {
		if entry.Artifact == nil {
			return nil, false, errors.Errorf("cached build %s holds an empty artifact", key)
		}
		if err := entry.Artifact.Rehydrate(); err != nil {
			return nil, false, err
		}
		contracts = append(contracts, &platforms.CompiledContract{
			Artifact: entry.Artifact,
			Content:  types.NewContent(entry.Source),
		})
	}
	return contracts, true, nil
}

// Save stores the contracts of a completed invocation under key. Entries never expire.
func (b *BuildCache) Save(key string, contracts []*platforms.CompiledContract) error {
	stored := make([]cachedContract, 0, len(contracts))
	for _, contract := range contracts {
		stored = append(stored, cachedContract{Artifact: contract.Artifact, Source: contract.Content.String()})
	}
	return b.store.Put(key, stored, 0)
}

// Close closes the underlying store.
func (b *BuildCache) Close() error {
	return b.store.Close()
}
