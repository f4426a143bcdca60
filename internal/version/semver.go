// Package version selects upgrade candidates among remote image tags.
package version

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// coercePattern finds the first numeric version group in a tag, e.g. "12.1" in
// "release-12.1-alpine".
var coercePattern = regexp.MustCompile(`(\d+)(\.\d+)?(\.\d+)?`)

// Parse parses a tag as a semantic version. Loose forms such as "v1.2" are
// accepted as they are; anything else is coerced from its first numeric
// group. Returns nil when the tag holds no number at all.
func Parse(tag string) *semver.Version {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}

	if v, err := semver.NewVersion(tag); err == nil {
		return v
	}

	m := coercePattern.FindString(tag)
	if m == "" {
		return nil
	}
	v, err := semver.NewVersion(m)
	if err != nil {
		return nil
	}
	return v
}

// IsSemver reports whether a tag parses as a semantic version.
func IsSemver(tag string) bool {
	return Parse(tag) != nil
}

// Diff classifies the difference between two versions as major, minor,
// patch or prerelease. Returns "unknown" when either side is not semver or
// the versions are equal.
func Diff(from, to string) string {
	a, b := Parse(from), Parse(to)
	if a == nil || b == nil {
		return DiffUnknown
	}

	switch {
	case a.Major() != b.Major():
		return DiffMajor
	case a.Minor() != b.Minor():
		return DiffMinor
	case a.Patch() != b.Patch():
		return DiffPatch
	case a.Prerelease() != b.Prerelease():
		return DiffPrerelease
	default:
		return DiffUnknown
	}
}

// Semver diff kinds
const (
	DiffMajor      = "major"
	DiffMinor      = "minor"
	DiffPatch      = "patch"
	DiffPrerelease = "prerelease"
	DiffUnknown    = "unknown"
)
