package reqcache

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set through -ldflags "-X github.com/ambiyansyah-risyal/reqcache.Version=..."
// for release builds. Empty values are filled from the module build info.
var (
	Version   = "v0.3.0"
	GitCommit = ""
	BuildDate = ""
)

// BuildInfo describes the binary a client was built into.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
	Modified  bool
	GoVersion string
}

var readBuildInfo = sync.OnceValue(func() BuildInfo {
	bi := BuildInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate, GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return bi
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if bi.Commit == "" {
				bi.Commit = s.Value
			}
		case "vcs.time":
			if bi.BuildDate == "" {
				bi.BuildDate = s.Value
			}
		case "vcs.modified":
			bi.Modified = s.Value == "true"
		}
	}
	return bi
})

// ReadBuildInfo returns the ldflags values merged with the VCS stamp the Go
// toolchain embeds.
func ReadBuildInfo() BuildInfo {
	bi := readBuildInfo()
	if bi.Commit == "" {
		bi.Commit = "unknown"
	}
	if bi.BuildDate == "" {
		bi.BuildDate = "unknown"
	}
	return bi
}

func (b BuildInfo) shortCommit() string {
	c := b.Commit
	if len(c) > 12 {
		c = c[:12]
	}
	if b.Modified {
		c += "-dirty"
	}
	return c
}

// GetVersion is the one-line form printed by reqcachectl version.
func GetVersion() string {
	bi := ReadBuildInfo()
	return fmt.Sprintf("reqcache %s (%s, %s, %s)", bi.Version, bi.shortCommit(), bi.BuildDate, bi.GoVersion)
}

// GetVersionInfo flattens ReadBuildInfo for log fields and metric labels.
func GetVersionInfo() map[string]string {
	bi := ReadBuildInfo()
	return map[string]string{
		"version":    bi.Version,
		"commit":     bi.shortCommit(),
		"build_date": bi.BuildDate,
		"go_version": bi.GoVersion,
	}
}
