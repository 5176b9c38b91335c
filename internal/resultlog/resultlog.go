// Package resultlog implements the append-only review log of a deck
// (result.txt) and the fold of that log into per-card review state.
//
// Line format:
//
//	<cardId>|正解|2006/01/02 15:04:05
//	<cardId>|不正解|2006/01/02 15:04:05
//
// The timestamp is when the card is next due. Lines are never rewritten.
package resultlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kioku/internal/fs"
	"kioku/internal/kioku"
)

const (
	CorrectToken   = "正解"
	IncorrectToken = "不正解"
)

type foldCache struct {
	size    int64
	modTime time.Time
	states  map[string]kioku.ReviewState
}

// Log is the file-backed kioku.ResultLog. Appends to one deck file are
// serialized; folds are cached per deck until the file changes.
type Log struct {
	logger kioku.Logger
	loc    *time.Location

	mu    sync.Mutex
	files map[string]*sync.Mutex
	cache map[string]*foldCache
}

var _ kioku.ResultLog = (*Log)(nil)

// New creates a result log. nil loc means time.Local.
func New(logger kioku.Logger, loc *time.Location) *Log {
	if logger == nil {
		logger = kioku.NewNopLogger()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Log{
		logger: logger,
		loc:    loc,
		files:  make(map[string]*sync.Mutex),
		cache:  make(map[string]*foldCache),
	}
}

func logPath(deckPath string) string {
	return filepath.Join(deckPath, kioku.ResultFile)
}

func (l *Log) fileLock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.files[path]
	if !ok {
		m = &sync.Mutex{}
		l.files[path] = m
	}
	return m
}

// Invalidate drops the cached fold of a deck.
func (l *Log) Invalidate(deckPath string) {
	l.mu.Lock()
	delete(l.cache, logPath(deckPath))
	l.mu.Unlock()
}

// Append writes one outcome line with a single write call. If the file
// does not end in a newline, a torn earlier write is terminated first so
// the new line stays parseable.
func (l *Log) Append(deckPath string, outcome kioku.ReviewOutcome) error {
	if outcome.CardID == "" || strings.ContainsAny(outcome.CardID, "|\n\r") {
		return fmt.Errorf("invalid card id %q", outcome.CardID)
	}

	path := logPath(deckPath)
	m := l.fileLock(path)
	m.Lock()
	defer m.Unlock()
	defer l.Invalidate(deckPath)

	if err := os.MkdirAll(deckPath, 0755); err != nil {
		return fmt.Errorf("%w: creating deck directory: %v", kioku.ErrStorageUnavailable, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: opening result log: %v", kioku.ErrStorageUnavailable, err)
	}
	defer f.Close()

	needsNewline, err := endsWithoutNewline(f)
	if err != nil {
		return fmt.Errorf("%w: inspecting result log: %v", kioku.ErrStorageUnavailable, err)
	}

	var buf bytes.Buffer
	if needsNewline {
		buf.WriteByte('\n')
	}
	buf.WriteString(FormatLine(outcome, l.loc))
	buf.WriteByte('\n')

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: appending to result log: %v", kioku.ErrStorageUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing result log: %v", kioku.ErrStorageUnavailable, err)
	}
	return nil
}

func endsWithoutNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// FoldAll returns the review state of every card in the deck's log.
// A missing log is an empty history. The returned map is a copy.
func (l *Log) FoldAll(deckPath string) (map[string]kioku.ReviewState, error) {
	path := logPath(deckPath)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]kioku.ReviewState{}, nil
		}
		return nil, fmt.Errorf("%w: stat result log: %v", kioku.ErrStorageUnavailable, err)
	}

	l.mu.Lock()
	c, ok := l.cache[path]
	l.mu.Unlock()
	if ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		return copyStates(c.states), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening result log: %v", kioku.ErrStorageUnavailable, err)
	}
	defer f.Close()

	states, err := Fold(f, l.loc, func(lineNo int, line string, err error) {
		l.logger.Warn("skipping result line", "deck", deckPath, "line", lineNo, "text", line, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading result log: %v", kioku.ErrStorageUnavailable, err)
	}

	l.mu.Lock()
	l.cache[path] = &foldCache{size: info.Size(), modTime: info.ModTime(), states: states}
	l.mu.Unlock()

	return copyStates(states), nil
}

func copyStates(in map[string]kioku.ReviewState) map[string]kioku.ReviewState {
	out := make(map[string]kioku.ReviewState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Fold replays log lines from r in order. Malformed and partial lines are
// reported to onSkip (when non-nil) and skipped.
func Fold(r io.Reader, loc *time.Location, onSkip func(lineNo int, line string, err error)) (map[string]kioku.ReviewState, error) {
	states := make(map[string]kioku.ReviewState)
	err := fs.EachLine(r, func(lineNo int, line string, err error) {
		line = strings.TrimSpace(line)
		if err == nil && line == "" {
			return
		}
		var o kioku.ReviewOutcome
		if err == nil {
			o, err = ParseLine(line, loc)
		}
		if err != nil {
			if onSkip != nil {
				onSkip(lineNo, line, err)
			}
			return
		}
		st := states[o.CardID]
		st.Apply(o)
		states[o.CardID] = st
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// FormatLine renders an outcome without the trailing newline.
func FormatLine(o kioku.ReviewOutcome, loc *time.Location) string {
	token := IncorrectToken
	if o.Correct {
		token = CorrectToken
	}
	return o.CardID + "|" + token + "|" + o.NextReviewAt.In(loc).Format(kioku.ResultTimeLayout)
}

// ParseLine parses one log line. Errors wrap kioku.ErrMalformedRecord.
func ParseLine(line string, loc *time.Location) (kioku.ReviewOutcome, error) {
	fields := strings.Split(line, "|")
	if len(fields) != 3 {
		return kioku.ReviewOutcome{}, fmt.Errorf("%w: expected 3 fields, got %d", kioku.ErrMalformedRecord, len(fields))
	}
	if fields[0] == "" {
		return kioku.ReviewOutcome{}, fmt.Errorf("%w: empty card id", kioku.ErrMalformedRecord)
	}

	var correct bool
	switch fields[1] {
	case CorrectToken:
		correct = true
	case IncorrectToken:
	default:
		return kioku.ReviewOutcome{}, fmt.Errorf("%w: unknown result %q", kioku.ErrMalformedRecord, fields[1])
	}

	next, err := time.ParseInLocation(kioku.ResultTimeLayout, fields[2], loc)
	if err != nil {
		return kioku.ReviewOutcome{}, fmt.Errorf("%w: bad timestamp: %v", kioku.ErrMalformedRecord, err)
	}
	return kioku.ReviewOutcome{CardID: fields[0], Correct: correct, NextReviewAt: next}, nil
}
