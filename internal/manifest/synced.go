package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kioku/internal/fs"
	"kioku/internal/kioku"
)

// SyncedFile is the sidecar holding, per card id, the timestamp of the
// revision last confirmed on the remote. It never leaves the device.
const SyncedFile = "synced.txt"

func syncedPath(deckPath string) string {
	return filepath.Join(deckPath, SyncedFile)
}

// Synced returns the synced watermark of every id in the deck.
// A missing sidecar means nothing has been synced yet.
func (s *Store) Synced(deckPath string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)

	data, err := fs.ReadFile(syncedPath(deckPath))
	if err != nil {
		if errors.Is(err, kioku.ErrNotFound) {
			return out, nil
		}
		return nil, err
	}

	err = fs.EachLine(bytes.NewReader(data), func(lineNo int, line string, err error) {
		line = strings.TrimSpace(line)
		if err == nil && line == "" {
			return
		}
		if err != nil {
			s.logger.Warn("skipping synced line", "deck", deckPath, "line", lineNo, "text", line, "error", err)
			return
		}
		id, raw, ok := strings.Cut(line, ",")
		if !ok || id == "" {
			s.logger.Warn("skipping synced line", "deck", deckPath, "line", lineNo, "text", line)
			return
		}
		ts, err := time.ParseInLocation(kioku.ManifestTimeLayout, raw, s.loc)
		if err != nil {
			s.logger.Warn("skipping synced line", "deck", deckPath, "line", lineNo, "text", line, "error", err)
			return
		}
		out[id] = ts
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading synced watermarks: %v", kioku.ErrStorageUnavailable, err)
	}
	return out, nil
}

// MarkSynced records that revision ts of id is on the remote.
func (s *Store) MarkSynced(deckPath string, id string, ts time.Time) error {
	if err := validateID(id); err != nil {
		return err
	}
	synced, err := s.Synced(deckPath)
	if err != nil {
		return err
	}
	synced[id] = ts.Truncate(time.Second)
	return s.saveSynced(deckPath, synced)
}

// ForgetSynced drops the watermark of id. Forgetting an unknown id is a no-op.
func (s *Store) ForgetSynced(deckPath string, id string) error {
	synced, err := s.Synced(deckPath)
	if err != nil {
		return err
	}
	if _, ok := synced[id]; !ok {
		return nil
	}
	delete(synced, id)
	return s.saveSynced(deckPath, synced)
}

func (s *Store) saveSynced(deckPath string, synced map[string]time.Time) error {
	ids := make([]string, 0, len(synced))
	for id := range synced {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&buf, "%s,%s\n", id, synced[id].In(s.loc).Format(kioku.ManifestTimeLayout))
	}
	return fs.WriteFileAtomic(syncedPath(deckPath), buf.Bytes())
}
