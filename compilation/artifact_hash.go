package compilation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// ArtifactHashCacheFileName is the name of the file, in the cache directory, recording the artifacts of the last run.
const ArtifactHashCacheFileName = ".vyperlens-artifact-hash"

// ArtifactHashCache records the artifacts produced by a run.
type ArtifactHashCache struct {
	// Hash covers every artifact, see ComputeArtifactHash.
	Hash string `json:"hash"`
	// Contracts maps "sourceID:Name" to the hash of that contract's artifact.
	Contracts map[string]string `json:"contracts,omitempty"`
	// Timestamp is when the run finished compiling.
	Timestamp time.Time `json:"timestamp"`
}

// artifactKey identifies an artifact across runs.
func artifactKey(artifact *types.ContractArtifact) string {
	return artifact.SourceID + ":" + artifact.Name
}

// hashArtifact hashes the identity, compiler and bytecode of one artifact.
func hashArtifact(artifact *types.ContractArtifact) []byte {
	hasher := sha256.New()
	for _, field := range [][]byte{
		[]byte(artifact.SourceID),
		[]byte(artifact.Name),
		[]byte(artifact.CompilerVersion),
		artifact.DeploymentBytecode,
		artifact.RuntimeBytecode,
	} {
		// Length prefixes keep adjacent fields from running into each other.
		fmt.Fprintf(hasher, "%d:", len(field))
		hasher.Write(field)
	}
	return hasher.Sum(nil)
}

// ComputeContractHashes returns the hash of each artifact keyed by "sourceID:Name". Nil artifacts are skipped.
func ComputeContractHashes(artifacts []*types.ContractArtifact) map[string]string {
	hashes := make(map[string]string, len(artifacts))
	for _, artifact := range artifacts {
		if artifact != nil {
			hashes[artifactKey(artifact)] = hex.EncodeToString(hashArtifact(artifact))
		}
	}
	return hashes
}

// ComputeArtifactHash computes one SHA-256 hash over every artifact. The result does not depend on the order of the
// artifacts.
func ComputeArtifactHash(artifacts []*types.ContractArtifact) string {
	return combineContractHashes(ComputeContractHashes(artifacts))
}

func combineContractHashes(hashes map[string]string) string {
	keys := maps.Keys(hashes)
	sort.Strings(keys)
	hasher := sha256.New()
	for _, key := range keys {
		fmt.Fprintf(hasher, "%s=%s\n", key, hashes[key])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// ChangedContracts returns the sorted keys of the contracts that are new or differ from the cached run.
func (c *ArtifactHashCache) ChangedContracts(hashes map[string]string) []string {
	var changed []string
	for key, hash := range hashes {
		if c == nil || c.Contracts[key] != hash {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

// LoadArtifactHashCache loads the artifact hash cache from the directory. It returns nil when there is no readable
// cache.
func LoadArtifactHashCache(directory string) *ArtifactHashCache {
	data, err := os.ReadFile(filepath.Join(directory, ArtifactHashCacheFileName))
	if err != nil {
		return nil
	}
	var cache ArtifactHashCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

// SaveArtifactHashCache writes the artifact hash cache into the directory, creating it if needed.
func SaveArtifactHashCache(directory string, cache *ArtifactHashCache) error {
	if err := utils.MakeDirectory(directory); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal cache")
	}
	if err := os.WriteFile(filepath.Join(directory, ArtifactHashCacheFileName), data, 0644); err != nil {
		return errors.Wrap(err, "failed to write cache file")
	}
	return nil
}

// NotifyArtifactHashStatus logs whether the artifacts differ from those of the previous run, naming the changed
// contracts, then records them for the next run.
func NotifyArtifactHashStatus(artifacts []*types.ContractArtifact, cacheDirectory string, logger *logging.Logger) {
	hashes := ComputeContractHashes(artifacts)
	if len(hashes) == 0 {
		return
	}
	current := &ArtifactHashCache{Hash: combineContractHashes(hashes), Contracts: hashes, Timestamp: time.Now()}
	previous := LoadArtifactHashCache(cacheDirectory)

	switch {
	case previous == nil:
		logger.Info(colors.Bold, "artifacts: ", colors.Reset, "compiled a ", colors.GreenBold, "new", colors.Reset,
			" set of build artifacts")
	case previous.Hash == current.Hash:
		logger.Info(colors.Bold, "artifacts: ", colors.Reset, "compiled the ", colors.YellowBold, "same", colors.Reset,
			" build artifacts as previously (last run: ", formatDuration(time.Since(previous.Timestamp)), " ago)")
	default:
		changed := previous.ChangedContracts(hashes)
		message := fmt.Sprintf(" build artifacts, %d changed", len(changed))
		if len(changed) > 0 {
			message += ": " + strings.Join(changed, ", ")
		}
		logger.Info(colors.Bold, "artifacts: ", colors.Reset, "compiled a ", colors.GreenBold, "new", colors.Reset,
			" set of", message)
	}

	if err := SaveArtifactHashCache(cacheDirectory, current); err != nil {
		logger.Warn("Failed to save artifact hash cache", err)
	}
}

var durationUnits = []struct {
	size time.Duration
	name string
}{
	{24 * time.Hour, "day"},
	{time.Hour, "hour"},
	{time.Minute, "minute"},
}

// formatDuration formats a duration in its largest whole unit, from seconds up to days.
func formatDuration(d time.Duration) string {
	for _, unit := range durationUnits {
		if d >= unit.size {
			return pluralize(int(d/unit.size), unit.name)
		}
	}
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

func pluralize(count int, unit string) string {
	if count == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", count, unit)
}
