// Package fs holds the local file helpers shared by the deck stores:
// atomic replacement of small files and discovery of decks on disk.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kioku/internal/kioku"
)

// WriteFileAtomic replaces path with data using a temp file in the same
// directory and a rename, so readers never observe a half-written file.
// Missing parent directories are created. Failures wrap kioku.ErrStorageUnavailable.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating directory %s: %v", kioku.ErrStorageUnavailable, dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", kioku.ErrStorageUnavailable, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: writing %s: %v", kioku.ErrStorageUnavailable, path, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: syncing %s: %v", kioku.ErrStorageUnavailable, path, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", kioku.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming temp file: %v", kioku.ErrStorageUnavailable, err)
	}

	success = true
	return nil
}

// ReadFile reads path. A missing file yields an error wrapping
// kioku.ErrNotFound; any other failure wraps kioku.ErrStorageUnavailable.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", kioku.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", kioku.ErrStorageUnavailable, path, err)
	}
	return data, nil
}

// RemoveFile deletes path. A missing file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", kioku.ErrStorageUnavailable, path, err)
	}
	return nil
}
