package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kioku/internal/kioku"
)

// FileSystemStore is a kioku.BlobStore backed by a directory, typically a
// mounted network share or a synced folder. Blob paths map to files under
// the root:
//
//	<root>/
//	  <uid>/<subFolder?>/<noteName>/cards.txt
//	  <uid>/<subFolder?>/<noteName>/cards/<id>.json
//
// Failures to reach the root are reported as kioku.ErrNetworkUnavailable,
// since to the sync engine the directory is the remote.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at root, creating it if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) filePath(p string) (string, error) {
	if err := checkPath(p); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(p)), nil
}

func unreachable(op, p string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", kioku.ErrNetworkUnavailable, op, p, err)
}

// Put stores data at path with an atomic write (temp file + rename).
func (s *FileSystemStore) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := s.filePath(p)
	if err != nil {
		return err
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return unreachable("put", p, err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return unreachable("put", p, err)
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
		return unreachable("put", p, err)
	}
	if err := tmpFile.Close(); err != nil {
		return unreachable("put", p, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return unreachable("put", p, err)
	}

	success = true
	return nil
}

// Get reads the object at path.
func (s *FileSystemStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := s.filePath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", p, kioku.ErrNotFound)
		}
		return nil, unreachable("get", p, err)
	}
	return data, nil
}

// List walks the directory holding prefix and returns matching blob paths.
func (s *FileSystemStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Walk from the deepest directory the prefix names.
	start := s.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	var paths []string
	err := filepath.WalkDir(start, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			if fp == start && errors.Is(err, os.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, fp)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, unreachable("list", prefix, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Delete removes the object at path. A missing object is not an error.
func (s *FileSystemStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.filePath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unreachable("delete", p, err)
	}
	return nil
}

// ValidateSetup verifies that the root is an accessible directory.
func (s *FileSystemStore) ValidateSetup(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store root is not a directory: %s", s.root)
	}
	return nil
}

// Compile-time check that FileSystemStore implements kioku.BlobStore
var _ kioku.BlobStore = (*FileSystemStore)(nil)
