package fsutil

import "os"

// PermissionPolicy abstracts how owner/group/other permission triples are
// applied and verified on the host platform. The POSIX implementation uses
// chmod; the Windows implementation approximates the mode with a DACL.
// Callers pick one at startup via NewPermissionPolicy and depend only on the
// interface.
type PermissionPolicy interface {
	// Set applies mode to path.
	Set(path string, mode os.FileMode) error
	// Verify reports whether path carries mode. It never returns an error:
	// anything that prevents verification is reported as false, because this
	// gates security-sensitive logic and must fail closed.
	Verify(path string, mode os.FileMode) bool
}

// NewPermissionPolicy returns the policy for the current platform.
func NewPermissionPolicy() PermissionPolicy {
	return newPlatformPolicy()
}
