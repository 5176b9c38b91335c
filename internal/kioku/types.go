package kioku

import (
	"fmt"
	"path"
	"path/filepath"
	"time"
)

const (
	// ManifestTimeLayout is the timestamp format of cards.txt lines.
	ManifestTimeLayout = "2006-01-02 15:04:05"

	// ResultTimeLayout is the timestamp format of result.txt lines.
	ResultTimeLayout = "2006/01/02 15:04:05"

	ManifestFile = "cards.txt"
	ResultFile   = "result.txt"
	CardsDir     = "cards"
)

// ManifestEntry is one line of a deck manifest.
type ManifestEntry struct {
	ID           string
	LastModified time.Time
	Tombstone    bool
}

// CardRecord is an opaque card document keyed by ID.
type CardRecord struct {
	ID   string
	Data []byte
}

// ReviewOutcome is one immutable entry of the result log.
// RecordedAt is not part of the on-disk line and is zero for parsed outcomes.
type ReviewOutcome struct {
	CardID       string
	Correct      bool
	NextReviewAt time.Time
	RecordedAt   time.Time
}

// ReviewState is the fold of every outcome recorded for a card.
type ReviewState struct {
	CardID         string
	CorrectCount   int
	IncorrectCount int
	LastResult     *bool
	NextReviewAt   time.Time
}

// Attempted reports whether the card has at least one recorded outcome.
func (s *ReviewState) Attempted() bool {
	return s != nil && s.LastResult != nil
}

// Apply folds one outcome into the state.
func (s *ReviewState) Apply(o ReviewOutcome) {
	s.CardID = o.CardID
	if o.Correct {
		s.CorrectCount++
	} else {
		s.IncorrectCount++
	}
	last := o.Correct
	s.LastResult = &last
	s.NextReviewAt = o.NextReviewAt
}

// DeckKey identifies a deck (a "note") by name and optional sub folder.
type DeckKey struct {
	NoteName  string
	SubFolder string
}

func (k DeckKey) String() string {
	if k.SubFolder == "" {
		return k.NoteName
	}
	return k.SubFolder + "/" + k.NoteName
}

// LocalPath returns the deck directory under the local data root.
func (k DeckKey) LocalPath(root string) string {
	return filepath.Join(root, k.SubFolder, k.NoteName)
}

// RemotePrefix returns the blob store prefix of the deck for a user,
// always ending in a slash: {uid}/{subFolder?}/{noteName}/.
func (k DeckKey) RemotePrefix(userID string) string {
	return path.Join(userID, k.SubFolder, k.NoteName) + "/"
}

// Validate checks that the key can be mapped to a path.
func (k DeckKey) Validate() error {
	if k.NoteName == "" {
		return fmt.Errorf("deck note name is empty")
	}
	for _, part := range []string{k.NoteName, k.SubFolder} {
		if part == "." || part == ".." || filepath.IsAbs(part) {
			return fmt.Errorf("invalid deck path component: %q", part)
		}
	}
	return nil
}

// Reason records why a deck is waiting for sync.
type Reason string

const (
	ReasonManual  Reason = "manual"
	ReasonOffline Reason = "offline"
	ReasonError   Reason = "error"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonManual, ReasonOffline, ReasonError:
		return true
	}
	return false
}

// UnsyncedDeckEntry is one deck waiting in the unsynced queue.
type UnsyncedDeckEntry struct {
	NoteName      string
	SubFolder     string
	Reason        Reason
	QueuedAt      time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// SyncFailure describes a failed sync attempt of a queued deck.
type SyncFailure struct {
	Reason        Reason
	Err           string
	At            time.Time
	NextAttemptAt time.Time
}

// Key returns the deck key of the entry.
func (e UnsyncedDeckEntry) Key() DeckKey {
	return DeckKey{NoteName: e.NoteName, SubFolder: e.SubFolder}
}

// SyncState is the runtime sync state of one deck.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSyncing
	SyncBackoff
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncSyncing:
		return "syncing"
	case SyncBackoff:
		return "backoff"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}
