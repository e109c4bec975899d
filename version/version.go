// Package version reports the build of vyperlens: its release, the VCS state it was built from and the compiler
// release families it drives.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/crytic/vyperlens/compilation/platforms"
)

// Version is the release of vyperlens. Release builds override it with -ldflags "-X".
var Version = "0.1.0"

// Info describes a build.
type Info struct {
	Version string
	// Revision, RevisionTime and Modified are read from the VCS settings embedded by the Go toolchain.
	Revision     string
	RevisionTime time.Time
	Modified     bool
	GoVersion    string
	// CompilerRanges lists the compiler release families the build can drive, e.g. "0.3".
	CompilerRanges []string
}

// GetInfo returns the information of the running build.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		GoVersion: runtime.Version(),
	}
	for _, versionRange := range platforms.AllVersionRanges {
		info.CompilerRanges = append(info.CompilerRanges, versionRange.String())
	}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		info.applyBuildSettings(buildInfo.Settings)
	}
	return info
}

// applyBuildSettings copies the vcs.* build settings into the info.
func (i *Info) applyBuildSettings(settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			i.Revision = setting.Value
		case "vcs.time":
			if revisionTime, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				i.RevisionTime = revisionTime
			}
		case "vcs.modified":
			i.Modified = setting.Value == "true"
		}
	}
}

// ShortRevision returns the revision abbreviated to 7 characters, suffixed with -dirty for a modified tree.
func (i Info) ShortRevision() string {
	revision := i.Revision
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if revision != "" && i.Modified {
		revision += "-dirty"
	}
	return revision
}

// String returns the multi-line report printed by the version command.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vyperlens version %s\n", i.Version)
	if i.Revision != "" {
		fmt.Fprintf(&sb, "  Commit:     %s\n", i.ShortRevision())
	}
	if !i.RevisionTime.IsZero() {
		fmt.Fprintf(&sb, "  Built:      %s\n", i.RevisionTime.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if len(i.CompilerRanges) > 0 {
		fmt.Fprintf(&sb, "  Vyper:      %s\n", strings.Join(i.CompilerRanges, ", "))
	}
	fmt.Fprintf(&sb, "  Go version: %s\n", i.GoVersion)
	return sb.String()
}

// Short returns the version with the abbreviated revision as build metadata, e.g. 0.1.0+0123456.
func (i Info) Short() string {
	if revision := i.ShortRevision(); revision != "" {
		return i.Version + "+" + revision
	}
	return i.Version
}
