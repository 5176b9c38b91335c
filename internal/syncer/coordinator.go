// Package syncer keeps local decks and the remote blob store consistent.
//
// A deck sync is one pull-then-push pass under the deck lock. Decks that
// cannot be synced stay in the unsynced queue with a retry time; drains
// walk the queue one deck at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"kioku/internal/config"
	"kioku/internal/kioku"
)

// Options holds the coordinator timing.
type Options struct {
	// DeckTimeout bounds one deck sync.
	DeckTimeout time.Duration
	// DrainDelay is the pause between two decks of a drain.
	DrainDelay time.Duration
	// BackoffBase is the retry delay after the first failure; it doubles
	// with every further failure up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// DrainSchedule is a cron spec for periodic drains. Empty disables them.
	DrainSchedule string
	// Location is the time zone of manifest timestamps. Nil means time.Local.
	Location *time.Location
}

// DefaultOptions returns the built-in timing.
func DefaultOptions() Options {
	return Options{
		DeckTimeout: config.DefaultDeckTimeout,
		DrainDelay:  config.DefaultDrainDelay,
		BackoffBase: config.DefaultBackoffBase,
		BackoffMax:  config.DefaultBackoffMax,
	}
}

// OptionsFromConfig parses the [sync] section.
func OptionsFromConfig(cfg config.SyncConfig) (Options, error) {
	opts := Options{DrainSchedule: cfg.DrainSchedule}
	var err error
	if opts.DeckTimeout, err = cfg.DeckTimeoutDuration(); err != nil {
		return Options{}, err
	}
	if opts.DrainDelay, err = cfg.DrainDelayDuration(); err != nil {
		return Options{}, err
	}
	if opts.BackoffBase, err = cfg.BackoffBaseDuration(); err != nil {
		return Options{}, err
	}
	if opts.BackoffMax, err = cfg.BackoffMaxDuration(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Backoff returns the retry delay after the given number of failed attempts.
func (o Options) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := o.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.BackoffMax {
			return o.BackoffMax
		}
	}
	if d > o.BackoffMax {
		return o.BackoffMax
	}
	return d
}

// Report summarizes one deck sync.
type Report struct {
	Key         kioku.DeckKey
	Pulled      int
	Removed     int
	Pushed      int
	Deleted     int
	Uploaded    bool
	ActiveCount int
}

type deckState struct {
	state kioku.SyncState
	until time.Time
	err   error
}

// Coordinator runs deck syncs. It is safe for concurrent use.
type Coordinator struct {
	dataDir  string
	manifest kioku.ManifestStore
	cards    kioku.CardRepository
	remote   kioku.BlobStore
	queue    kioku.UnsyncedQueue
	network  kioku.Network
	locks    *kioku.DeckLocks
	logger   kioku.Logger
	clock    kioku.Clock
	opts     Options

	flight  singleflight.Group
	drainMu sync.Mutex

	mu     sync.Mutex
	states map[kioku.DeckKey]deckState
}

// NewCoordinator creates a coordinator. locks must be the registry the
// editing Service uses so that edits and syncs of a deck never interleave.
// network may be nil, meaning always online.
func NewCoordinator(dataDir string, manifest kioku.ManifestStore, cards kioku.CardRepository, remote kioku.BlobStore, queue kioku.UnsyncedQueue, network kioku.Network, locks *kioku.DeckLocks, logger kioku.Logger, clock kioku.Clock, opts Options) *Coordinator {
	if locks == nil {
		locks = kioku.NewDeckLocks()
	}
	if logger == nil {
		logger = kioku.NewNopLogger()
	}
	if clock == nil {
		clock = kioku.RealClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Coordinator{
		dataDir:  dataDir,
		manifest: manifest,
		cards:    cards,
		remote:   remote,
		queue:    queue,
		network:  network,
		locks:    locks,
		logger:   logger,
		clock:    clock,
		opts:     opts,
		states:   make(map[kioku.DeckKey]deckState),
	}
}

func (c *Coordinator) online() bool {
	return c.network == nil || c.network.IsNetworkAvailable()
}

// State returns the sync state of a deck. A deck whose backoff has elapsed
// reports Idle.
func (c *Coordinator) State(key kioku.DeckKey) kioku.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	if !ok {
		return kioku.SyncIdle
	}
	if st.state == kioku.SyncBackoff && !c.clock.Now().Before(st.until) {
		return kioku.SyncIdle
	}
	return st.state
}

// LastError returns the error of the last failed sync of a deck, if any.
func (c *Coordinator) LastError(key kioku.DeckKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[key].err
}

func (c *Coordinator) setState(key kioku.DeckKey, st deckState) {
	c.mu.Lock()
	c.states[key] = st
	c.mu.Unlock()
}

// SyncDeck runs one pull-then-push pass of the deck under session.
//
// Concurrent calls for the same deck share the in-flight pass and its
// result. Offline or signed out, the deck is queued with the offline
// reason and an error wrapping kioku.ErrNetworkUnavailable is returned
// without touching the remote.
func (c *Coordinator) SyncDeck(ctx context.Context, session kioku.Session, key kioku.DeckKey) (Report, error) {
	if err := key.Validate(); err != nil {
		return Report{}, err
	}
	if !session.LoggedIn() || !c.online() {
		if err := c.enqueue(ctx, key, kioku.ReasonOffline); err != nil {
			return Report{}, err
		}
		return Report{}, fmt.Errorf("syncing %s: %w", key, kioku.ErrNetworkUnavailable)
	}

	v, err, shared := c.flight.Do(session.UserID+"\x00"+key.String(), func() (any, error) {
		return c.syncOnce(ctx, session, key)
	})
	if shared {
		c.logger.Debug("joined in-flight sync", "deck", key.String())
	}
	rep, _ := v.(Report)
	return rep, err
}

// Trigger is an explicit sync request. It clears any backoff of the deck
// and records it in the queue before syncing, so a failure is retried.
func (c *Coordinator) Trigger(ctx context.Context, session kioku.Session, key kioku.DeckKey) (Report, error) {
	if err := key.Validate(); err != nil {
		return Report{}, err
	}
	c.mu.Lock()
	if st, ok := c.states[key]; ok && st.state == kioku.SyncBackoff {
		delete(c.states, key)
	}
	c.mu.Unlock()

	if err := c.enqueue(ctx, key, kioku.ReasonManual); err != nil {
		return Report{}, err
	}
	return c.SyncDeck(ctx, session, key)
}

func (c *Coordinator) enqueue(ctx context.Context, key kioku.DeckKey, reason kioku.Reason) error {
	now := c.clock.Now()
	err := c.queue.Enqueue(ctx, kioku.UnsyncedDeckEntry{
		NoteName:      key.NoteName,
		SubFolder:     key.SubFolder,
		Reason:        reason,
		QueuedAt:      now,
		NextAttemptAt: now,
	})
	if err != nil {
		return fmt.Errorf("queueing %s: %w", key, err)
	}
	return nil
}

func (c *Coordinator) syncOnce(ctx context.Context, session kioku.Session, key kioku.DeckKey) (Report, error) {
	c.setState(key, deckState{state: kioku.SyncSyncing})

	unlock := c.locks.Lock(key)
	defer unlock()

	passCtx, cancel := context.WithTimeout(ctx, c.opts.DeckTimeout)
	defer cancel()

	start := c.clock.Now()
	rep, err := c.pass(passCtx, session, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, kioku.ErrTimeout) {
			err = fmt.Errorf("%w: %w", kioku.ErrTimeout, err)
		}
		c.fail(ctx, key, err)
		return rep, fmt.Errorf("syncing %s: %w", key, err)
	}

	// A queue failure here leaves the deck queued; the next drain repeats a
	// pass that has nothing left to transfer.
	if err := c.queue.Remove(context.WithoutCancel(ctx), key.NoteName, key.SubFolder); err != nil {
		c.logger.Warn("removing synced deck from queue failed", "deck", key.String(), "error", err)
	}
	c.setState(key, deckState{state: kioku.SyncIdle})
	c.logger.Info("deck synced", "deck", key.String(),
		"pulled", rep.Pulled, "removed", rep.Removed, "pushed", rep.Pushed, "deleted", rep.Deleted,
		"active", rep.ActiveCount, "elapsed", c.clock.Now().Sub(start))
	return rep, nil
}

// fail records a failed pass: local storage failures park the deck in the
// error state, everything else backs off. Either way the deck stays queued
// with its next attempt pushed out.
func (c *Coordinator) fail(ctx context.Context, key kioku.DeckKey, err error) {
	ctx = context.WithoutCancel(ctx)
	now := c.clock.Now()

	attempts := 0
	if prev, gerr := c.queue.Get(ctx, key); gerr == nil {
		attempts = prev.Attempts
	}
	delay := c.opts.Backoff(attempts + 1)

	reason := kioku.ReasonError
	if kioku.IsNetworkError(err) && !c.online() {
		reason = kioku.ReasonOffline
	}

	st := deckState{state: kioku.SyncBackoff, until: now.Add(delay), err: err}
	if !kioku.IsRecoverable(err) {
		st.state = kioku.SyncError
	}
	c.setState(key, st)

	entry, qerr := c.queue.RecordFailure(ctx, key, kioku.SyncFailure{
		Reason:        reason,
		Err:           err.Error(),
		At:            now,
		NextAttemptAt: now.Add(delay),
	})
	if qerr != nil {
		c.logger.Error("recording sync failure failed", "deck", key.String(), "error", qerr)
		return
	}
	c.logger.Warn("deck sync failed", "deck", key.String(), "state", st.state.String(),
		"reason", string(reason), "attempts", entry.Attempts, "retry_in", delay, "error", err)
}
