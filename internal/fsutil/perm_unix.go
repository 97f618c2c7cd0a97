//go:build !windows

package fsutil

import "os"

type posixPolicy struct{}

func newPlatformPolicy() PermissionPolicy { return posixPolicy{} }

func (posixPolicy) Set(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

func (posixPolicy) Verify(path string, mode os.FileMode) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm() == mode.Perm()
}
