package kioku

import (
	"context"
	"time"
)

// ManifestStore reads and writes a deck's flat card index.
// Read-modify-write operations rewrite the whole file; callers serialize
// them per deck (see DeckLocks).
type ManifestStore interface {
	// Load returns the entries of the deck in file order.
	// Malformed lines are skipped. A missing manifest is an empty deck.
	Load(deckPath string) ([]ManifestEntry, error)

	// Upsert sets the timestamp of id, appending a new entry if absent.
	Upsert(deckPath string, id string, ts time.Time) error

	// Tombstone marks id as deleted without removing its line.
	Tombstone(deckPath string, id string) error

	// ActiveCount returns the number of entries that are not tombstoned.
	ActiveCount(deckPath string) (int, error)

	// Purge physically removes the line of id.
	Purge(deckPath string, id string) error

	// Save replaces the whole manifest with entries.
	Save(deckPath string, entries []ManifestEntry) error

	// Synced returns, per id, the revision timestamp last confirmed on the remote.
	Synced(deckPath string) (map[string]time.Time, error)

	// MarkSynced records that the revision ts of id is on the remote.
	MarkSynced(deckPath string, id string, ts time.Time) error

	// ForgetSynced drops the synced watermark of id.
	ForgetSynced(deckPath string, id string) error
}

// CardRepository reads and writes one JSON document per card.
type CardRepository interface {
	// Read returns the card. Errors wrap ErrNotFound or ErrPlaceholderCard.
	Read(deckPath string, id string) (CardRecord, error)

	// Write stores the card atomically.
	Write(deckPath string, id string, rec CardRecord) error

	// Delete removes the card file. Deleting a missing card is not an error.
	Delete(deckPath string, id string) error
}

// ResultLog is the append-only log of review outcomes of a deck.
type ResultLog interface {
	// Append writes one outcome line. Prior lines are never rewritten.
	Append(deckPath string, outcome ReviewOutcome) error

	// FoldAll replays the log and returns the state of every card in it.
	FoldAll(deckPath string) (map[string]ReviewState, error)
}

// UnsyncedQueue is the durable queue of decks waiting for remote sync.
// There is at most one entry per (NoteName, SubFolder).
type UnsyncedQueue interface {
	// Enqueue adds the deck, or updates the reason and QueuedAt of an existing
	// entry. Enqueue order is kept across updates.
	Enqueue(ctx context.Context, entry UnsyncedDeckEntry) error

	// DequeueAllDue returns the entries whose NextAttemptAt is not after now,
	// in enqueue order. Entries stay queued until removed.
	DequeueAllDue(ctx context.Context, now time.Time) ([]UnsyncedDeckEntry, error)

	// Remove deletes the entry of the deck. Removing a missing entry is not an error.
	Remove(ctx context.Context, noteName, subFolder string) error

	// Get returns the entry of the deck, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key DeckKey) (UnsyncedDeckEntry, error)

	// UpdateReason changes the reason of an existing entry.
	UpdateReason(ctx context.Context, noteName, subFolder string, reason Reason) error

	// RecordFailure enqueues the deck if needed, increments its attempt
	// counter and schedules the next attempt.
	RecordFailure(ctx context.Context, key DeckKey, f SyncFailure) (UnsyncedDeckEntry, error)

	// List returns every queued entry in enqueue order.
	List(ctx context.Context) ([]UnsyncedDeckEntry, error)

	// Close releases the underlying storage.
	Close() error
}
