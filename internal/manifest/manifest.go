// Package manifest implements the deck manifest: the flat cards.txt index
// of card IDs, modification timestamps and deletion markers.
//
// File layout:
//
//	<active-count>
//	<id>,<yyyy-MM-dd HH:mm:ss>[,deleted]
//	...
//
// The header is recomputed from the body on every write, so a damaged
// header heals itself on the next mutation.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kioku/internal/fs"
	"kioku/internal/kioku"
)

const deletedMarker = "deleted"

// Store is the file-backed kioku.ManifestStore.
// It does no locking: callers serialize read-modify-write cycles per deck.
type Store struct {
	logger kioku.Logger
	loc    *time.Location
}

var _ kioku.ManifestStore = (*Store)(nil)

// NewStore creates a manifest store. Timestamps are read and written in loc;
// nil means time.Local.
func NewStore(logger kioku.Logger, loc *time.Location) *Store {
	if logger == nil {
		logger = kioku.NewNopLogger()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{logger: logger, loc: loc}
}

func manifestPath(deckPath string) string {
	return filepath.Join(deckPath, kioku.ManifestFile)
}

// Load returns the entries of the deck in file order.
func (s *Store) Load(deckPath string) ([]kioku.ManifestEntry, error) {
	data, err := fs.ReadFile(manifestPath(deckPath))
	if err != nil {
		if errors.Is(err, kioku.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	entries, err := Parse(bytes.NewReader(data), s.loc, func(lineNo int, line string, err error) {
		s.logger.Warn("skipping manifest line", "deck", deckPath, "line", lineNo, "text", line, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %v", kioku.ErrStorageUnavailable, err)
	}
	return entries, nil
}

// Upsert sets the timestamp of id. The first line with a matching id wins.
// Upserting a tombstoned id revives it. Timestamps have second precision,
// so an update that would not advance the stored timestamp is moved one
// second past it; sync relies on every edit changing LastModified.
func (s *Store) Upsert(deckPath string, id string, ts time.Time) error {
	if err := validateID(id); err != nil {
		return err
	}
	entries, err := s.Load(deckPath)
	if err != nil {
		return err
	}

	ts = ts.Truncate(time.Second)
	if i := indexOf(entries, id); i >= 0 {
		if prev := entries[i].LastModified; !ts.After(prev) {
			ts = prev.Add(time.Second)
		}
		entries[i].LastModified = ts
		entries[i].Tombstone = false
	} else {
		entries = append(entries, kioku.ManifestEntry{ID: id, LastModified: ts})
	}
	return s.Save(deckPath, entries)
}

// Tombstone marks id as deleted and keeps its line for sync.
func (s *Store) Tombstone(deckPath string, id string) error {
	entries, err := s.Load(deckPath)
	if err != nil {
		return err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return fmt.Errorf("card %s: %w", id, kioku.ErrNotFound)
	}
	if entries[i].Tombstone {
		return nil
	}
	entries[i].Tombstone = true
	return s.Save(deckPath, entries)
}

// ActiveCount returns the number of live entries, computed from the body.
func (s *Store) ActiveCount(deckPath string) (int, error) {
	entries, err := s.Load(deckPath)
	if err != nil {
		return 0, err
	}
	return activeCount(entries), nil
}

// Purge removes the line of id. Purging a missing id is not an error.
func (s *Store) Purge(deckPath string, id string) error {
	entries, err := s.Load(deckPath)
	if err != nil {
		return err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return nil
	}
	entries = append(entries[:i], entries[i+1:]...)
	return s.Save(deckPath, entries)
}

// Save rewrites the manifest with entries and a fresh header.
func (s *Store) Save(deckPath string, entries []kioku.ManifestEntry) error {
	var buf bytes.Buffer
	if err := Encode(&buf, entries, s.loc); err != nil {
		return err
	}
	return fs.WriteFileAtomic(manifestPath(deckPath), buf.Bytes())
}

// Parse reads manifest lines from r. The header is ignored: counts are
// always derived from the body. Blank lines are skipped silently; malformed
// lines are reported to onSkip (when non-nil) and skipped.
func Parse(r io.Reader, loc *time.Location, onSkip func(lineNo int, line string, err error)) ([]kioku.ManifestEntry, error) {
	if loc == nil {
		loc = time.Local
	}

	var entries []kioku.ManifestEntry
	seen := make(map[string]bool)
	header := true
	skip := func(lineNo int, line string, err error) {
		if onSkip != nil {
			onSkip(lineNo, line, err)
		}
	}
	err := fs.EachLine(r, func(lineNo int, line string, err error) {
		line = strings.TrimSpace(line)
		if err != nil {
			header = false
			skip(lineNo, line, err)
			return
		}
		if line == "" {
			return
		}
		if header {
			header = false
			if _, err := strconv.Atoi(line); err == nil {
				return
			}
			// A header that is not a number is treated as a damaged
			// header unless the line itself parses as an entry.
			if _, err := parseLine(line, loc); err != nil {
				skip(lineNo, line, fmt.Errorf("%w: bad header", kioku.ErrMalformedRecord))
				return
			}
		}

		entry, err := parseLine(line, loc)
		if err != nil {
			skip(lineNo, line, err)
			return
		}
		if seen[entry.ID] {
			// First match wins.
			return
		}
		seen[entry.ID] = true
		entries = append(entries, entry)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Encode writes the header and one line per entry.
func Encode(w io.Writer, entries []kioku.ManifestEntry, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", activeCount(entries))
	for _, e := range entries {
		fmt.Fprintf(bw, "%s,%s", e.ID, e.LastModified.In(loc).Format(kioku.ManifestTimeLayout))
		if e.Tombstone {
			fmt.Fprintf(bw, ",%s", deletedMarker)
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: writing manifest: %v", kioku.ErrStorageUnavailable, err)
	}
	return nil
}

func parseLine(line string, loc *time.Location) (kioku.ManifestEntry, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return kioku.ManifestEntry{}, fmt.Errorf("%w: expected 2 or 3 fields, got %d", kioku.ErrMalformedRecord, len(fields))
	}

	id := strings.TrimSpace(fields[0])
	if id == "" {
		return kioku.ManifestEntry{}, fmt.Errorf("%w: empty id", kioku.ErrMalformedRecord)
	}

	ts, err := time.ParseInLocation(kioku.ManifestTimeLayout, strings.TrimSpace(fields[1]), loc)
	if err != nil {
		return kioku.ManifestEntry{}, fmt.Errorf("%w: bad timestamp: %v", kioku.ErrMalformedRecord, err)
	}

	entry := kioku.ManifestEntry{ID: id, LastModified: ts}
	if len(fields) == 3 {
		if strings.TrimSpace(fields[2]) != deletedMarker {
			return kioku.ManifestEntry{}, fmt.Errorf("%w: unknown marker %q", kioku.ErrMalformedRecord, fields[2])
		}
		entry.Tombstone = true
	}
	return entry, nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, ",\n\r/\\") {
		return fmt.Errorf("invalid card id %q", id)
	}
	return nil
}

func indexOf(entries []kioku.ManifestEntry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func activeCount(entries []kioku.ManifestEntry) int {
	n := 0
	for _, e := range entries {
		if !e.Tombstone {
			n++
		}
	}
	return n
}
