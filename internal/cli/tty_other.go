//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package cli

// IsTerminal always reports false where terminal detection is not implemented.
func IsTerminal(fd uintptr) bool {
	return false
}
