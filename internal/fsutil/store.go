// Package fsutil provides the atomic, permission-enforcing file store the
// agent installs credentials and revocation caches through.
//
// Writes go to a uniquely named temporary sibling in the target directory and
// are committed with a rename, so concurrent readers observe either the old
// content or the new content, never a partial file. Permissions are applied
// before the file becomes visible under its final name.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/faults"
)

// StagedSuffix is appended to a path while a replacement file awaits
// promotion.
const StagedSuffix = ".new"

// Store writes files atomically and enforces permission modes.
type Store struct {
	perms PermissionPolicy
	log   *zap.Logger
}

// NewStore creates a Store using the given permission policy.
func NewStore(perms PermissionPolicy, log *zap.Logger) *Store {
	return &Store{perms: perms, log: log}
}

// WriteAtomic writes content to path with the given mode in one atomic step.
// On any failure the temporary file is removed best-effort and the original
// file, if any, is left untouched.
func (s *Store) WriteAtomic(path string, content []byte, mode os.FileMode) error {
	tmp, err := s.writeTemp(path, content, mode)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		s.discard(tmp)
		return &faults.StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// Stage writes content to path+StagedSuffix with the given mode, without
// touching path itself. The staged file already carries its final
// permissions so promotion is a bare rename.
func (s *Store) Stage(path string, content []byte, mode os.FileMode) (string, error) {
	staged := path + StagedSuffix
	tmp, err := s.writeTemp(staged, content, mode)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp, staged); err != nil {
		s.discard(tmp)
		return "", &faults.StorageError{Op: "stage", Path: staged, Err: err}
	}
	return staged, nil
}

// Promote renames path+StagedSuffix onto path and re-applies mode. The
// re-apply is deliberate: on some platforms a rename resets inherited
// permissions.
func (s *Store) Promote(path string, mode os.FileMode) error {
	staged := path + StagedSuffix
	if err := os.Rename(staged, path); err != nil {
		return &faults.StorageError{Op: "promote", Path: path, Err: err}
	}
	if err := s.perms.Set(path, mode); err != nil {
		return &faults.PermissionError{Path: path, Mode: uint32(mode.Perm()), Err: err}
	}
	return nil
}

// Discard removes a staged file if one exists. Used to clean up after a
// failed rotation; removal failure is logged, not raised.
func (s *Store) Discard(path string) {
	s.discard(path + StagedSuffix)
}

// VerifyPermissions reports whether path carries exactly the expected mode.
// It never returns an error; anything preventing verification reads as
// false.
func (s *Store) VerifyPermissions(path string, mode os.FileMode) bool {
	return s.perms.Verify(path, mode)
}

// writeTemp writes content to a uniquely named sibling of path, applies
// mode, and returns the temporary name. The sibling lives in the same
// directory so the final rename never crosses a filesystem boundary.
func (s *Store) writeTemp(path string, content []byte, mode os.FileMode) (string, error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()[:8]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", &faults.StorageError{Op: "create", Path: tmp, Err: err}
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		s.discard(tmp)
		return "", &faults.StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.discard(tmp)
		return "", &faults.StorageError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		s.discard(tmp)
		return "", &faults.StorageError{Op: "close", Path: tmp, Err: err}
	}
	if err := s.perms.Set(tmp, mode); err != nil {
		s.discard(tmp)
		return "", &faults.PermissionError{Path: tmp, Mode: uint32(mode.Perm()), Err: err}
	}
	return tmp, nil
}

func (s *Store) discard(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove temporary file", zap.String("path", path), zap.Error(err))
	}
}
