// Package version holds the build identity of the covdiff binary.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Set at build time:
// go build -ldflags "-X covdiff/internal/version.Version=1.0.0 -X covdiff/internal/version.Commit=abc123"
var (
	Version   = "0.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// BuildInfo is the machine-readable form printed by `covdiff version --format json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	Release   bool   `json:"release"`
}

// Current returns the build identity.
func Current() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Release:   IsRelease(Version),
	}
}

// IsRelease reports whether v is a semantic version without a prerelease suffix.
func IsRelease(v string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v) && semver.Prerelease(v) == ""
}

// shortCommit is the first seven characters of Commit, or "" when the
// commit is unknown or already short.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) <= 7 {
		return ""
	}
	return Commit[:7]
}

// Info is the version with the short commit appended when known, as shown
// by `covdiff --version`.
func Info() string {
	if c := shortCommit(); c != "" {
		return Version + " (" + c + ")"
	}
	return Version
}

// Full is the multi-line form printed by `covdiff version`.
func Full() string {
	info := Current()
	kind := "release"
	if !info.Release {
		kind = "development"
	}
	return fmt.Sprintf("covdiff version %s (%s)\nCommit: %s\nBuilt: %s",
		info.Version, kind, info.Commit, info.BuildDate)
}
