package pkgproxy

import (
	"fmt"
	"strings"
)

// JournalVersion is the journal format written by this package. Readers accept
// any journal with the same major version.
var JournalVersion = Version{Major: 1, Minor: 0, Patch: -1}

// Version is a semantic version with major, minor and patch components.
// Minor and Patch are -1 when not specified ("1" parses as {1, -1, -1}).
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "X.Y.Z", "X.Y" or "X". A leading "v" and any trailing
// text such as a pre-release suffix are ignored.
func ParseVersion(s string) (Version, error) {
	v := Version{Minor: -1, Patch: -1}
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if _, err := fmt.Sscanf(trimmed, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch); err != nil {
		v.Minor, v.Patch = -1, -1
		if _, err = fmt.Sscanf(trimmed, "%d.%d", &v.Major, &v.Minor); err != nil {
			v.Minor = -1
			if _, err = fmt.Sscanf(trimmed, "%d", &v.Major); err != nil {
				return Version{}, fmt.Errorf("parse version %q: %w", s, err)
			}
		}
	}
	if v.Major < 0 || v.Minor < -1 || v.Patch < -1 {
		return Version{}, fmt.Errorf("invalid version: %s", s)
	}
	return v, nil
}

// Compatible reports whether a reader of version v can read other.
func (v Version) Compatible(other Version) bool { return v.Major == other.Major }

// String returns the version, omitting unspecified components.
func (v Version) String() string {
	if v.Patch != -1 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if v.Minor != -1 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d", v.Major)
}
