package manifest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kioku/internal/kioku"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	return NewStore(nil, time.UTC), t.TempDir()
}

func ts(s string) time.Time {
	t, err := time.ParseInLocation(kioku.ManifestTimeLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func readManifest(t *testing.T, deckPath string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(deckPath, kioku.ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestLoadMissingManifestIsEmpty(t *testing.T) {
	s, dir := newTestStore(t)

	entries, err := s.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Load() = %v, want empty", entries)
	}
}

func TestUpsertAndTombstone(t *testing.T) {
	s, dir := newTestStore(t)

	if err := s.Upsert(dir, "a", ts("2024-01-02 03:04:05")); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(dir, "b", ts("2024-01-02 03:04:06")); err != nil {
		t.Fatal(err)
	}
	if err := s.Tombstone(dir, "a"); err != nil {
		t.Fatal(err)
	}

	want := "1\na,2024-01-02 03:04:05,deleted\nb,2024-01-02 03:04:06\n"
	if got := readManifest(t, dir); got != want {
		t.Errorf("manifest =\n%s\nwant\n%s", got, want)
	}

	n, err := s.ActiveCount(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ActiveCount() = %d, want 1", n)
	}
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	s, dir := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Upsert(dir, id, ts("2024-01-01 00:00:00")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Upsert(dir, "b", ts("2024-02-01 00:00:00")); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[1].ID != "b" || !entries[1].LastModified.Equal(ts("2024-02-01 00:00:00")) {
		t.Errorf("entries[1] = %+v, want b updated in place", entries[1])
	}
}

func TestUpsertRevivesTombstone(t *testing.T) {
	s, dir := newTestStore(t)

	if err := s.Upsert(dir, "a", ts("2024-01-01 00:00:00")); err != nil {
		t.Fatal(err)
	}
	if err := s.Tombstone(dir, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(dir, "a", ts("2024-01-01 00:00:10")); err != nil {
		t.Fatal(err)
	}

	entries, _ := s.Load(dir)
	if len(entries) != 1 || entries[0].Tombstone {
		t.Errorf("entries = %+v, want one live entry", entries)
	}
}

func TestUpsertAlwaysAdvancesTimestamp(t *testing.T) {
	s, dir := newTestStore(t)

	if err := s.Upsert(dir, "a", ts("2024-01-01 00:00:00")); err != nil {
		t.Fatal(err)
	}
	// Same second, then a clock that went backwards.
	for _, at := range []time.Time{ts("2024-01-01 00:00:00").Add(300 * time.Millisecond), ts("2023-12-31 23:59:00")} {
		before, _ := s.Load(dir)
		if err := s.Upsert(dir, "a", at); err != nil {
			t.Fatal(err)
		}
		after, _ := s.Load(dir)
		want := before[0].LastModified.Add(time.Second)
		if !after[0].LastModified.Equal(want) {
			t.Errorf("Upsert(%v) stored %v, want %v", at, after[0].LastModified, want)
		}
	}

	// A new id keeps the given time.
	if err := s.Upsert(dir, "b", ts("2023-06-01 00:00:00")); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.Load(dir)
	if !entries[1].LastModified.Equal(ts("2023-06-01 00:00:00")) {
		t.Errorf("new entry = %+v", entries[1])
	}
}

func TestUpsertRejectsBadIDs(t *testing.T) {
	s, dir := newTestStore(t)

	for _, id := range []string{"", "a,b", "a/b", "line\nbreak"} {
		if err := s.Upsert(dir, id, ts("2024-01-01 00:00:00")); err == nil {
			t.Errorf("Upsert(%q) succeeded, want error", id)
		}
	}
}

func TestTombstoneMissing(t *testing.T) {
	s, dir := newTestStore(t)

	err := s.Tombstone(dir, "nope")
	if !errors.Is(err, kioku.ErrNotFound) {
		t.Errorf("Tombstone() error = %v, want ErrNotFound", err)
	}
}

func TestPurge(t *testing.T) {
	s, dir := newTestStore(t)

	s.Upsert(dir, "a", ts("2024-01-01 00:00:00"))
	s.Upsert(dir, "b", ts("2024-01-01 00:00:00"))
	s.Tombstone(dir, "a")

	if err := s.Purge(dir, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Purge(dir, "missing"); err != nil {
		t.Errorf("Purge(missing) error = %v", err)
	}

	want := "1\nb,2024-01-01 00:00:00\n"
	if got := readManifest(t, dir); got != want {
		t.Errorf("manifest = %q, want %q", got, want)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantIDs   []string
		wantSkips int
	}{
		{
			name:    "well formed",
			input:   "2\na,2024-01-01 00:00:00\nb,2024-01-01 00:00:01\n",
			wantIDs: []string{"a", "b"},
		},
		{
			name:    "blank lines are ignored",
			input:   "2\n\na,2024-01-01 00:00:00\n\n\nb,2024-01-01 00:00:01\n",
			wantIDs: []string{"a", "b"},
		},
		{
			name:      "malformed lines are skipped",
			input:     "3\na,2024-01-01 00:00:00\ngarbage\nc,not-a-date\nd,2024-01-01 00:00:00,weird\ne,2024-01-01 00:00:00\n",
			wantIDs:   []string{"a", "e"},
			wantSkips: 3,
		},
		{
			name:      "damaged header",
			input:     "x9\na,2024-01-01 00:00:00\n",
			wantIDs:   []string{"a"},
			wantSkips: 1,
		},
		{
			name:    "missing header",
			input:   "a,2024-01-01 00:00:00\nb,2024-01-01 00:00:01\n",
			wantIDs: []string{"a", "b"},
		},
		{
			name:    "first match wins",
			input:   "2\na,2024-01-01 00:00:00\na,2025-01-01 00:00:00\n",
			wantIDs: []string{"a"},
		},
		{
			name:    "truncated trailing line without newline",
			input:   "1\na,2024-01-01 00:00:00\nb,2024-01-0",
			wantIDs: []string{"a"},
			// the partial line is reported
			wantSkips: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skips := 0
			entries, err := Parse(strings.NewReader(tt.input), time.UTC, func(int, string, error) { skips++ })
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			var ids []string
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
			if skips != tt.wantSkips {
				t.Errorf("skips = %d, want %d", skips, tt.wantSkips)
			}
		})
	}
}

func TestFirstMatchWinsOnUpsert(t *testing.T) {
	s, dir := newTestStore(t)
	raw := "2\na,2024-01-01 00:00:00\na,2025-01-01 00:00:00\n"
	if err := os.WriteFile(filepath.Join(dir, kioku.ManifestFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].LastModified.Equal(ts("2024-01-01 00:00:00")) {
		t.Errorf("entries = %+v, want the first line", entries)
	}
}

func TestHeaderRepairedOnWrite(t *testing.T) {
	s, dir := newTestStore(t)
	raw := "17\na,2024-01-01 00:00:00\nb,2024-01-01 00:00:00,deleted\n"
	if err := os.WriteFile(filepath.Join(dir, kioku.ManifestFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := s.ActiveCount(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ActiveCount() = %d, want 1 (derived from body)", n)
	}

	if err := s.Upsert(dir, "c", ts("2024-01-01 00:00:01")); err != nil {
		t.Fatal(err)
	}
	if got := readManifest(t, dir); !strings.HasPrefix(got, "2\n") {
		t.Errorf("header not repaired: %q", got)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	in := []kioku.ManifestEntry{
		{ID: "a", LastModified: ts("2024-01-01 00:00:00")},
		{ID: "b", LastModified: ts("2024-06-30 23:59:59"), Tombstone: true},
		{ID: "c", LastModified: ts("2025-12-31 12:00:00")},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, in, time.UTC); err != nil {
		t.Fatal(err)
	}
	out, err := Parse(&buf, time.UTC, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].ID != in[i].ID || !out[i].LastModified.Equal(in[i].LastModified) || out[i].Tombstone != in[i].Tombstone {
			t.Errorf("entry %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestSyncedWatermarks(t *testing.T) {
	s, dir := newTestStore(t)

	synced, err := s.Synced(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(synced) != 0 {
		t.Errorf("Synced() on fresh deck = %v, want empty", synced)
	}

	if err := s.MarkSynced(dir, "a", ts("2024-01-01 00:00:00")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSynced(dir, "b", ts("2024-01-01 00:00:05")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSynced(dir, "a", ts("2024-01-01 00:00:09")); err != nil {
		t.Fatal(err)
	}
	if err := s.ForgetSynced(dir, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.ForgetSynced(dir, "never"); err != nil {
		t.Errorf("ForgetSynced(unknown) error = %v", err)
	}

	synced, err = s.Synced(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(synced) != 1 || !synced["a"].Equal(ts("2024-01-01 00:00:09")) {
		t.Errorf("Synced() = %v, want only a at 00:00:09", synced)
	}
}

func TestSyncedSkipsMalformedLines(t *testing.T) {
	s, dir := newTestStore(t)
	raw := "a,2024-01-01 00:00:00\nbroken\nb,yesterday\n"
	if err := os.WriteFile(filepath.Join(dir, SyncedFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	synced, err := s.Synced(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(synced) != 1 {
		t.Errorf("Synced() = %v, want only a", synced)
	}
}

func TestParseSkipsOverlongLine(t *testing.T) {
	raw := "2\na,2024-01-01 00:00:00\n" + strings.Repeat("z", 70*1024) + "\nb,2024-01-01 00:00:01\n"

	var skipped []error
	entries, err := Parse(strings.NewReader(raw), time.UTC, func(_ int, _ string, err error) {
		skipped = append(skipped, err)
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "a" || entries[1].ID != "b" {
		t.Errorf("entries = %+v, want a and b", entries)
	}
	if len(skipped) != 1 || !errors.Is(skipped[0], kioku.ErrMalformedRecord) {
		t.Errorf("skipped = %v, want one malformed record", skipped)
	}
}

func TestSyncedSkipsOverlongLine(t *testing.T) {
	s, dir := newTestStore(t)
	raw := "a,2024-01-01 00:00:00\n" + strings.Repeat("z", 70*1024) + "\nb,2024-01-01 00:00:01\n"
	if err := os.WriteFile(filepath.Join(dir, SyncedFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	synced, err := s.Synced(dir)
	if err != nil {
		t.Fatalf("Synced() error = %v", err)
	}
	if len(synced) != 2 {
		t.Errorf("Synced() = %v, want a and b", synced)
	}
}
