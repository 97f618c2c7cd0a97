//go:build windows

package fsutil

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsPolicy approximates POSIX modes with a protected DACL. 0600 grants
// the owner and SYSTEM full access and nothing to anyone else; 0644 adds a
// read-only grant for Everyone. Group bits have no direct equivalent and are
// folded into the owner/world split.
type windowsPolicy struct{}

func newPlatformPolicy() PermissionPolicy { return windowsPolicy{} }

func sddlForMode(mode os.FileMode) string {
	if mode.Perm()&0o004 != 0 {
		// world-readable: owner+SYSTEM full, Everyone read
		return "D:P(A;;FA;;;OW)(A;;FA;;;SY)(A;;FR;;;WD)"
	}
	// owner-only
	return "D:P(A;;FA;;;OW)(A;;FA;;;SY)"
}

func (windowsPolicy) Set(path string, mode os.FileMode) error {
	sd, err := windows.SecurityDescriptorFromString(sddlForMode(mode))
	if err != nil {
		return err
	}
	dacl, _, err := sd.DACL()
	if err != nil {
		return err
	}
	return windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil, nil, dacl, nil,
	)
}

func (windowsPolicy) Verify(path string, mode os.FileMode) bool {
	sd, err := windows.GetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
	)
	if err != nil {
		return false
	}
	dacl, _, err := sd.DACL()
	if err != nil || dacl == nil {
		return false
	}
	worldRead := worldHasRead(dacl)
	if mode.Perm()&0o004 != 0 {
		return worldRead
	}
	return !worldRead
}

// worldHasRead reports whether the DACL grants Everyone any access.
func worldHasRead(dacl *windows.ACL) bool {
	everyone, err := windows.CreateWellKnownSid(windows.WinWorldSid)
	if err != nil {
		return false
	}
	for i := uint32(0); i < uint32(dacl.AceCount); i++ {
		var ace *windows.ACCESS_ALLOWED_ACE
		if err := windows.GetAce(dacl, i, &ace); err != nil {
			continue
		}
		if ace.Header.AceType != windows.ACCESS_ALLOWED_ACE_TYPE {
			continue
		}
		sid := (*windows.SID)(unsafe.Pointer(&ace.SidStart))
		if sid.Equals(everyone) {
			return true
		}
	}
	return false
}
