// Package version carries zepindex build metadata, injected with ldflags:
//
//	-X github.com/zenoss/zenoss-zep-sub000/pkg/version.Version=1.2.3
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version defaults to "dev" for builds without ldflags.
var Version = "dev"

var (
	// Commit is the short git hash. When unset it is read from the module's
	// embedded VCS settings.
	Commit = "unknown"

	// Date is the build date, RFC 3339.
	Date = "unknown"

	GoVersion = runtime.Version()
)

func init() {
	if Commit != "unknown" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			Commit = s.Value[:7]
		}
	}
}

// BuildInfo is the JSON form printed by "zepindex version --json".
type BuildInfo struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	Date         string `json:"date"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	IndexVersion int    `json:"index_version"`
}

// String is the one-line description printed by "zepindex version".
func String() string {
	return fmt.Sprintf("zepindex %s (commit: %s, built: %s, go: %s)", Version, Commit, Date, GoVersion)
}

func Short() string {
	return Version
}

// GetInfo returns the build metadata. indexVersion is the layout version of
// the index documents this build writes.
func GetInfo(indexVersion int) BuildInfo {
	return BuildInfo{
		Version:      Version,
		Commit:       Commit,
		Date:         Date,
		GoVersion:    GoVersion,
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		IndexVersion: indexVersion,
	}
}
