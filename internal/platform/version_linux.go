//go:build linux

// Package platform holds OS-capability probing that the factory consults
// when picking a backend; it has no knowledge of pollers or transports.
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// KernelVersion is a parsed (major, minor, patch) Linux release, as reported
// by uname(2).
type KernelVersion struct {
	Major, Minor, Patch int
}

// String implements fmt.Stringer.
func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v is older than other.
func (v KernelVersion) Less(other KernelVersion) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

// epollMinVersion is the release that introduced epoll (2.5.44).
var epollMinVersion = KernelVersion{2, 5, 44}

// GetLinuxVersion parses uname(2)'s release string. Probing failure (a
// malformed or unparseable release string) degrades to the conservative
// assumption that epoll is unavailable, per spec §4.4 "failure to probe
// degrades to the conservative choice".
func GetLinuxVersion() (KernelVersion, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return KernelVersion{}, err
	}
	release := charsToString(uts.Release)
	var v KernelVersion
	if _, err := fmt.Sscanf(release, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch); err != nil {
		return KernelVersion{}, fmt.Errorf("platform: unparseable kernel release %q: %w", release, err)
	}
	return v, nil
}

// HasEpoll reports whether the running kernel is new enough to support
// epoll. On any probing failure it conservatively returns false.
func HasEpoll() bool {
	v, err := GetLinuxVersion()
	if err != nil {
		return false
	}
	return !v.Less(epollMinVersion)
}

// charsToString converts a NUL-terminated uname field, whose element type
// varies by architecture (int8 on some, uint8 on others), to a string.
func charsToString[T int8 | uint8](ca [65]T) string {
	b := make([]byte, 0, len(ca))
	for _, c := range ca {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	return string(b)
}
