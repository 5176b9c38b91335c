package resultlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"kioku/internal/kioku"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func outcome(id string, correct bool, next time.Time) kioku.ReviewOutcome {
	return kioku.ReviewOutcome{CardID: id, Correct: correct, NextReviewAt: next}
}

func readLog(t *testing.T, deck string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(deck, kioku.ResultFile))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestAppendFormat(t *testing.T) {
	deck := t.TempDir()
	l := New(nil, time.UTC)

	if err := l.Append(deck, outcome("c1", true, base)); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(deck, outcome("c2", false, base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}

	want := "c1|正解|2024/03/01 09:00:00\nc2|不正解|2024/03/01 09:01:00\n"
	if got := readLog(t, deck); got != want {
		t.Errorf("log = %q, want %q", got, want)
	}
}

func TestAppendTerminatesTornLine(t *testing.T) {
	deck := t.TempDir()
	l := New(nil, time.UTC)

	torn := "c1|正解|2024/03/01 09:00:00\nc2|不正"
	if err := os.WriteFile(filepath.Join(deck, kioku.ResultFile), []byte(torn), 0644); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(deck, outcome("c3", true, base)); err != nil {
		t.Fatal(err)
	}

	got := readLog(t, deck)
	if !strings.HasSuffix(got, "c2|不正\nc3|正解|2024/03/01 09:00:00\n") {
		t.Errorf("log = %q, want the new line on its own", got)
	}

	states, err := l.FoldAll(deck)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := states["c2"]; ok {
		t.Error("partial line was folded")
	}
	if _, ok := states["c3"]; !ok {
		t.Error("line appended after a torn one was lost")
	}
}

func TestAppendRejectsBadIDs(t *testing.T) {
	l := New(nil, time.UTC)
	for _, id := range []string{"", "a|b", "a\nb"} {
		if err := l.Append(t.TempDir(), outcome(id, true, base)); err == nil {
			t.Errorf("Append(%q) succeeded, want error", id)
		}
	}
}

func TestFoldAll(t *testing.T) {
	deck := t.TempDir()
	l := New(nil, time.UTC)

	appends := []kioku.ReviewOutcome{
		outcome("a", false, base.Add(1*time.Minute)),
		outcome("b", true, base.Add(10*time.Minute)),
		outcome("a", true, base.Add(24*time.Hour)),
		outcome("a", true, base.Add(48*time.Hour)),
	}
	for _, o := range appends {
		if err := l.Append(deck, o); err != nil {
			t.Fatal(err)
		}
	}

	states, err := l.FoldAll(deck)
	if err != nil {
		t.Fatal(err)
	}

	a := states["a"]
	if a.CorrectCount != 2 || a.IncorrectCount != 1 {
		t.Errorf("a counts = %d/%d, want 2/1", a.CorrectCount, a.IncorrectCount)
	}
	if a.LastResult == nil || !*a.LastResult {
		t.Errorf("a last result = %v, want correct", a.LastResult)
	}
	if !a.NextReviewAt.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("a next = %v, want last entry", a.NextReviewAt)
	}
	if b := states["b"]; b.CorrectCount != 1 || !b.NextReviewAt.Equal(base.Add(10*time.Minute)) {
		t.Errorf("b = %+v", b)
	}
}

func TestFoldAllMissingLog(t *testing.T) {
	l := New(nil, time.UTC)
	states, err := l.FoldAll(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 0 {
		t.Errorf("states = %v, want empty", states)
	}
}

func TestFoldSkipsMalformed(t *testing.T) {
	input := strings.Join([]string{
		"a|正解|2024/03/01 09:00:00",
		"",
		"garbage",
		"b|maybe|2024/03/01 09:00:00",
		"c|不正解|yesterday",
		"|正解|2024/03/01 09:00:00",
		"a|不正解|2024/03/01 09:01:00",
		"d|正解|2024/03/0",
	}, "\n")

	skips := 0
	states, err := Fold(strings.NewReader(input), time.UTC, func(int, string, error) { skips++ })
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Errorf("states = %v, want only a", states)
	}
	if skips != 5 {
		t.Errorf("skips = %d, want 5", skips)
	}
	if a := states["a"]; a.CorrectCount != 1 || a.IncorrectCount != 1 || *a.LastResult {
		t.Errorf("a = %+v", a)
	}
}

func TestFoldAllSkipsOverlongLine(t *testing.T) {
	deck := t.TempDir()
	raw := "a|正解|2024/03/01 09:00:00\n" +
		strings.Repeat("x", 70*1024) + "\n" +
		"b|不正解|2024/03/01 09:01:00\n"
	if err := os.WriteFile(filepath.Join(deck, kioku.ResultFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	states, err := New(nil, time.UTC).FoldAll(deck)
	if err != nil {
		t.Fatalf("FoldAll() error = %v", err)
	}
	if len(states) != 2 {
		t.Errorf("states = %v, want a and b", states)
	}

	var skipped []error
	if _, err := Fold(strings.NewReader(raw), time.UTC, func(_ int, _ string, err error) {
		skipped = append(skipped, err)
	}); err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 1 || !errors.Is(skipped[0], kioku.ErrMalformedRecord) {
		t.Errorf("skipped = %v, want one malformed record", skipped)
	}
}

func TestAppendConcurrent(t *testing.T) {
	deck := t.TempDir()
	l := New(nil, time.UTC)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", w)
			for i := 0; i < perWriter; i++ {
				if err := l.Append(deck, outcome(id, i%2 == 0, base.Add(time.Duration(i)*time.Minute))); err != nil {
					errs <- err
				}
				if _, err := l.FoldAll(deck); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent append: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(readLog(t, deck), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("log has %d lines, want %d", len(lines), writers*perWriter)
	}
	for i, line := range lines {
		if _, err := ParseLine(line, time.UTC); err != nil {
			t.Errorf("line %d %q: %v", i+1, line, err)
		}
	}

	states, err := l.FoldAll(deck)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != writers {
		t.Fatalf("states = %d cards, want %d", len(states), writers)
	}
	for id, st := range states {
		if st.CorrectCount != perWriter/2 || st.IncorrectCount != perWriter/2 {
			t.Errorf("%s counts = %d/%d, want %d/%d", id, st.CorrectCount, st.IncorrectCount, perWriter/2, perWriter/2)
		}
		if !st.NextReviewAt.Equal(base.Add((perWriter - 1) * time.Minute)) {
			t.Errorf("%s next = %v, want its last append", id, st.NextReviewAt)
		}
	}
}

func TestFoldCacheInvalidation(t *testing.T) {
	deck := t.TempDir()
	l := New(nil, time.UTC)

	if err := l.Append(deck, outcome("a", true, base)); err != nil {
		t.Fatal(err)
	}
	first, err := l.FoldAll(deck)
	if err != nil {
		t.Fatal(err)
	}
	if first["a"].CorrectCount != 1 {
		t.Fatalf("a = %+v", first["a"])
	}

	// Mutating the returned map must not leak into the cache.
	delete(first, "a")

	if err := l.Append(deck, outcome("a", false, base)); err != nil {
		t.Fatal(err)
	}
	second, _ := l.FoldAll(deck)
	if second["a"].IncorrectCount != 1 || second["a"].CorrectCount != 1 {
		t.Errorf("after append a = %+v, want 1/1", second["a"])
	}

	// External writer appends a line.
	f, err := os.OpenFile(filepath.Join(deck, kioku.ResultFile), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("b|正解|2024/03/02 09:00:00\n")
	f.Close()

	third, _ := l.FoldAll(deck)
	if _, ok := third["b"]; !ok {
		t.Error("external write not observed")
	}
}

func TestWatchInvalidatesOnExternalWrite(t *testing.T) {
	deck := t.TempDir()
	l := New(nil, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, deck, func() { changed <- struct{}{} })
	}()

	// Keep writing until the watcher has registered and reports a change.
	deadline := time.After(5 * time.Second)
	path := filepath.Join(deck, kioku.ResultFile)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-changed:
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch() error = %v", err)
			}
			return
		case <-tick.C:
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				t.Fatal(err)
			}
			f.WriteString("a|正解|2024/03/01 09:00:00\n")
			f.Close()
		case <-deadline:
			t.Fatal("no change notification within 5s")
		}
	}
}

func TestRoundTripWithPolicy(t *testing.T) {
	deck := t.TempDir()
	l := New(nil, time.UTC)

	now := base
	answers := []bool{false, true, true, false}
	for _, correct := range answers {
		states, err := l.FoldAll(deck)
		if err != nil {
			t.Fatal(err)
		}
		var prev *kioku.ReviewState
		if st, ok := states["c"]; ok {
			prev = &st
		}
		o := kioku.NewOutcome("c", prev, correct, now)
		if err := l.Append(deck, o); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Second)
	}

	states, _ := l.FoldAll(deck)
	c := states["c"]
	// wrong, then right (24h), right (24h), wrong after right (10m)
	want := base.Add(3 * time.Second).Add(kioku.MediumInterval)
	if !c.NextReviewAt.Equal(want) {
		t.Errorf("next = %v, want %v", c.NextReviewAt, want)
	}
	if c.CorrectCount != 2 || c.IncorrectCount != 2 {
		t.Errorf("counts = %d/%d, want 2/2", c.CorrectCount, c.IncorrectCount)
	}
}
