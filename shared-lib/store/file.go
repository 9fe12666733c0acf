// Package store persists trust artifacts (keys, certificates, counters) as
// individual files. The presence of a file is meaningful to callers, so a
// write either lands completely or not at all.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File modes for persisted artifacts.
const (
	ModeSecret fs.FileMode = 0o600
	ModePublic fs.FileMode = 0o644
)

// Exists reports whether a regular file is present at path.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	return true, nil
}

// Read returns the content of path.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func WriteAtomic(path string, data []byte, perm fs.FileMode) error {
	tmpName, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// WriteIfAbsent writes data only when nothing exists at path yet. It returns
// false without touching the file when one is already present. The complete
// temp file is hard-linked into place, so of several concurrent callers
// exactly one wins and the others see the winner's content.
func WriteIfAbsent(path string, data []byte, perm fs.FileMode) (bool, error) {
	exists, err := Exists(path)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	tmpName, err := writeTemp(path, data, perm)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmpName)

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to link %s into place: %w", path, err)
	}
	return true, nil
}

// writeTemp leaves a synced copy of data with mode perm next to path and
// returns its name. The caller removes it.
func writeTemp(path string, data []byte, perm fs.FileMode) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	fail := func(format string, err error) (string, error) {
		os.Remove(tmpName)
		return "", fmt.Errorf(format, path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fail("failed to write %s: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fail("failed to sync %s: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("failed to close %s: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fail("failed to set mode on %s: %w", err)
	}
	return tmpName, nil
}
