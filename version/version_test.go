package version

import (
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	info := Info{
		Version:        "1.2.3",
		Revision:       "0123456789abcdef",
		RevisionTime:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Modified:       true,
		GoVersion:      "go1.23.0",
		CompilerRanges: []string{"0.2", "0.3", "0.4"},
	}
	assert.Equal(t, "0123456-dirty", info.ShortRevision())
	assert.Equal(t, "1.2.3+0123456-dirty", info.Short())
	assert.Equal(t, "vyperlens version 1.2.3\n"+
		"  Commit:     0123456-dirty\n"+
		"  Built:      2024-05-01 10:00:00 UTC\n"+
		"  Vyper:      0.2, 0.3, 0.4\n"+
		"  Go version: go1.23.0\n", info.String())

	bare := Info{Version: "1.2.3", GoVersion: "go1.23.0"}
	assert.Equal(t, "1.2.3", bare.Short())
	assert.Equal(t, "vyperlens version 1.2.3\n  Go version: go1.23.0\n", bare.String())
}

func TestApplyBuildSettings(t *testing.T) {
	var info Info
	info.applyBuildSettings([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "abcdef0123"},
		{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "false"},
		{Key: "GOOS", Value: "linux"},
	})
	assert.Equal(t, "abcdef0123", info.Revision)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), info.RevisionTime)
	assert.False(t, info.Modified)
	assert.Equal(t, "abcdef0", info.ShortRevision())
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, []string{"0.2", "0.3", "0.4"}, info.CompilerRanges)
}
