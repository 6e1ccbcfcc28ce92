// Package version reports the searchsync build and the versions of the
// engines it links.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
)

// Version is set via ldflags:
// -X github.com/Aman-CERP/searchsync/pkg/version.Version=$(VERSION)
var Version = "dev"

// Commit and Date are set via ldflags. Commit falls back to the VCS
// revision recorded by the Go toolchain.
var (
	Commit = "unknown"
	Date   = "unknown"
)

// components maps linked modules to the names shown in version output.
var components = map[string]string{
	"github.com/blevesearch/bleve/v2": "bleve",
	"modernc.org/sqlite":              "sqlite",
	"github.com/nats-io/nats.go":      "nats",
}

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version    string            `json:"version"`
	Commit     string            `json:"commit"`
	Date       string            `json:"date"`
	GoVersion  string            `json:"go_version"`
	OS         string            `json:"os"`
	Arch       string            `json:"arch"`
	Components map[string]string `json:"components,omitempty"`
}

// GetInfo returns the build information.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, dep := range bi.Deps {
		if name, ok := components[dep.Path]; ok {
			if info.Components == nil {
				info.Components = make(map[string]string)
			}
			info.Components[name] = dep.Version
		}
	}
	if info.Commit == "unknown" {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				info.Commit = s.Value[:7]
			}
		}
	}
	return info
}

// String returns a one-line description of the build.
func String() string {
	info := GetInfo()
	s := fmt.Sprintf("searchsync %s (commit: %s, built: %s, %s %s/%s)",
		info.Version, info.Commit, info.Date, info.GoVersion, info.OS, info.Arch)

	names := make([]string, 0, len(info.Components))
	for name := range info.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s += fmt.Sprintf("\n  %s %s", name, info.Components[name])
	}
	return s
}

// Short returns just the version.
func Short() string {
	return Version
}
