//go:build !linux

package platform

// HasEpoll always reports false off Linux; callers fall back to the
// platform's native backend instead of consulting kernel version.
func HasEpoll() bool { return false }
