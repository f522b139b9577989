package storage

import (
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// canonicalVersion returns v as a semver string with the "v" prefix, or ""
// when v is not semver.
func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// sortBuilds orders builds by semantic version when every version parses,
// and by insertion order otherwise. Equal versions keep insertion order.
func sortBuilds(builds []BuildInfo) {
	allSemver := true
	for _, b := range builds {
		if canonicalVersion(b.Key.Version) == "" {
			allSemver = false
			break
		}
	}

	sort.SliceStable(builds, func(i, j int) bool {
		if allSemver {
			if c := semver.Compare(canonicalVersion(builds[i].Key.Version), canonicalVersion(builds[j].Key.Version)); c != 0 {
				return c < 0
			}
		}
		return builds[i].Ordinal < builds[j].Ordinal
	})
}
