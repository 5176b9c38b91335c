package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"kioku/internal/kioku"
)

// FindDecks walks root and returns the key of every directory holding a
// manifest, sorted by key. Directories matched by ignore, and the cards
// directory of each deck, are not descended into.
func FindDecks(root string, ignore *IgnoreMatcher) ([]kioku.DeckKey, error) {
	if ignore == nil {
		ignore = NewIgnoreMatcher(nil)
	}

	var keys []kioku.DeckKey
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, os.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if d.Name() == kioku.CardsDir || ignore.Match(rel) {
			return fs.SkipDir
		}

		if _, err := os.Stat(filepath.Join(p, kioku.ManifestFile)); err == nil {
			sub := filepath.Dir(rel)
			if sub == "." {
				sub = ""
			}
			keys = append(keys, kioku.DeckKey{NoteName: d.Name(), SubFolder: filepath.ToSlash(sub)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning decks under %s: %v", kioku.ErrStorageUnavailable, root, err)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
