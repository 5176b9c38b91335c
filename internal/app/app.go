package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kioku/internal/cards"
	"kioku/internal/config"
	"kioku/internal/encryption"
	"kioku/internal/fs"
	"kioku/internal/kioku"
	"kioku/internal/manifest"
	"kioku/internal/queue"
	"kioku/internal/remote"
	"kioku/internal/resultlog"
	"kioku/internal/scheduler"
	"kioku/internal/syncer"
)

// Options adjusts how an App is wired.
type Options struct {
	// Offline starts with the network marked unavailable: edits are queued
	// and syncs fail fast without touching the remote.
	Offline bool
	// Clock defaults to kioku.RealClock.
	Clock kioku.Clock
	// IDs defaults to kioku.UUIDGenerator.
	IDs kioku.IDGenerator
}

// App is the application layer between the CLI and the engine.
// It constructs all dependencies from config and exposes high-level
// operations on deck names. The caller must call Close when done.
type App struct {
	cfg         *config.Config
	service     *kioku.Service
	coordinator *syncer.Coordinator
	manifest    *manifest.Store
	results     *resultlog.Log
	queue       *queue.SQLiteQueue
	remote      kioku.BlobStore
	encrypted   *remote.EncryptedStore
	network     *probeNetwork
	auth        kioku.Auth
	ignore      *fs.IgnoreMatcher
	logger      kioku.Logger
	clock       kioku.Clock
	scan        time.Duration
	op          *Operation
	logCloser   io.Closer
}

// NewApp creates a fully wired App from cfg. operation names the CLI
// command being run and tags every log line.
func NewApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = kioku.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = kioku.UUIDGenerator{}
	}

	syncOpts, err := syncer.OptionsFromConfig(cfg.Sync)
	if err != nil {
		return nil, fmt.Errorf("reading sync settings: %w", err)
	}
	scan, err := cfg.Review.ScanIntervalDuration()
	if err != nil {
		return nil, fmt.Errorf("reading review settings: %w", err)
	}

	op := NewOperation(operation, opts.Clock.Now())
	slogger, logCloser, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	blobs, err := remote.NewBlobStoreFromConfig(ctx, cfg.Remote)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating remote: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	var encrypted *remote.EncryptedStore
	if enc != nil {
		encrypted = remote.NewEncryptedStore(blobs, enc)
		blobs = encrypted
	}

	q, err := queue.NewQueueFromConfig(cfg.Queue)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating queue: %w", err)
	}

	ms := manifest.NewStore(logger, time.Local)
	cs := cards.NewRepository(cfg.Cards.BackupDirs, logger)
	rl := resultlog.New(logger, time.Local)
	network := newProbeNetwork(!opts.Offline)
	locks := kioku.NewDeckLocks()

	svc := kioku.NewService(cfg.DataDir, ms, cs, rl, q, network, locks, logger, opts.Clock, opts.IDs)
	coord := syncer.NewCoordinator(cfg.DataDir, ms, cs, blobs, q, network, locks, logger, opts.Clock, syncOpts)

	logger.Debug("operation started", "operation", operation)

	return &App{
		cfg:         cfg,
		service:     svc,
		coordinator: coord,
		manifest:    ms,
		results:     rl,
		queue:       q,
		remote:      blobs,
		encrypted:   encrypted,
		network:     network,
		auth:        configAuth{userID: cfg.UserID},
		ignore:      fs.NewIgnoreMatcher(cfg.Filesystem.Ignore),
		logger:      logger,
		clock:       opts.Clock,
		scan:        scan,
		op:          op,
		logCloser:   logCloser,
	}, nil
}

// Session is the identity syncs run under.
func (a *App) Session() kioku.Session {
	return kioku.CurrentSession(a.auth)
}

// NeedsUnlock reports whether remote blobs are encrypted and the private
// key has not been unlocked yet. Pulling requires it.
func (a *App) NeedsUnlock() bool {
	return a.encrypted != nil && !a.encrypted.Unlocked()
}

// Unlock unlocks the private key for this process.
func (a *App) Unlock(passphrase string) error {
	if a.encrypted == nil {
		return nil
	}
	return a.encrypted.Unlock(passphrase)
}

// Deck builds and validates a deck key.
func Deck(noteName, subFolder string) (kioku.DeckKey, error) {
	key := kioku.DeckKey{NoteName: noteName, SubFolder: subFolder}
	if err := key.Validate(); err != nil {
		return kioku.DeckKey{}, err
	}
	return key, nil
}

// AddCard reads a card document from path and adds it to the deck.
func (a *App) AddCard(ctx context.Context, key kioku.DeckKey, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading card file: %w", err)
	}
	return a.service.AddCard(ctx, key, data)
}

// UpdateCard replaces the document of an existing card with the content of path.
func (a *App) UpdateCard(ctx context.Context, key kioku.DeckKey, id, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading card file: %w", err)
	}
	return a.service.UpdateCard(ctx, key, id, data)
}

// RemoveCard deletes a card from the deck.
func (a *App) RemoveCard(ctx context.Context, key kioku.DeckKey, id string) error {
	return a.service.RemoveCard(ctx, key, id)
}

// GetCard returns a card document.
func (a *App) GetCard(key kioku.DeckKey, id string) (kioku.CardRecord, error) {
	return a.service.GetCard(key, id)
}

// DeckSummary describes one local deck.
type DeckSummary struct {
	Key    kioku.DeckKey
	Active int
	Queued bool
	Reason kioku.Reason
}

// ListDecks returns every deck under data_dir.
func (a *App) ListDecks(ctx context.Context) ([]DeckSummary, error) {
	keys, err := fs.FindDecks(a.cfg.DataDir, a.ignore)
	if err != nil {
		return nil, err
	}

	out := make([]DeckSummary, 0, len(keys))
	for _, key := range keys {
		n, err := a.manifest.ActiveCount(key.LocalPath(a.cfg.DataDir))
		if err != nil {
			return nil, fmt.Errorf("deck %s: %w", key, err)
		}
		sum := DeckSummary{Key: key, Active: n}
		entry, err := a.queue.Get(ctx, key)
		switch {
		case err == nil:
			sum.Queued = true
			sum.Reason = entry.Reason
		case !errors.Is(err, kioku.ErrNotFound):
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// QueueEntries lists the decks waiting for sync in enqueue order.
func (a *App) QueueEntries(ctx context.Context) ([]kioku.UnsyncedDeckEntry, error) {
	return a.queue.List(ctx)
}

// Sync syncs one deck now, clearing any backoff.
func (a *App) Sync(ctx context.Context, key kioku.DeckKey) (syncer.Report, error) {
	rep, err := a.coordinator.Trigger(ctx, a.Session(), key)
	a.op.Fail(err)
	return rep, err
}

// SyncAll drains the whole unsynced queue, decks in backoff included.
func (a *App) SyncAll(ctx context.Context) (syncer.DrainReport, error) {
	rep, err := a.coordinator.DrainAll(ctx, a.Session())
	a.op.Fail(err)
	return rep, err
}

// Daemon keeps the queue draining until ctx is done: it drains once, then
// probes the remote every interval and drains again whenever it comes back,
// plus on the configured drain schedule.
func (a *App) Daemon(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	session := a.Session()
	if a.network.IsNetworkAvailable() && session.LoggedIn() {
		if _, err := a.coordinator.DrainAll(ctx, session); err != nil {
			a.logger.Warn("initial drain failed", "error", err)
		}
	}

	events := make(chan kioku.Event)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		a.network.probe(gctx, interval, a.remote.ValidateSetup, events, a.logger)
		return nil
	})
	g.Go(func() error {
		return a.coordinator.Run(gctx, session, events)
	})
	return g.Wait()
}

// Answer is the reviewer's response to a card.
type Answer int

const (
	AnswerCorrect Answer = iota
	AnswerWrong
	AnswerQuit
)

// AskFunc presents a card and returns the reviewer's answer.
type AskFunc func(ctx context.Context, card kioku.CardRecord) (Answer, error)

// ReviewSummary reports a finished or abandoned review.
type ReviewSummary struct {
	Answered int
	Correct  int
	Passes   int
	Complete bool
}

// Review runs a review session over the deck. Cards are reprioritized
// in the background every scan interval, and the fold cache follows
// external writes to the result log.
func (a *App) Review(ctx context.Context, key kioku.DeckKey, ask AskFunc) (ReviewSummary, error) {
	var sum ReviewSummary
	sess, err := scheduler.NewSession(ctx, a.service, key, a.clock, a.logger)
	if err != nil {
		return sum, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := scheduler.NewRunner(a.logger)
	if err := runner.ScanSession(sess, a.scan); err != nil {
		return sum, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		if err := a.results.Watch(gctx, a.service.DeckPath(key), nil); err != nil {
			a.logger.Warn("result log watch stopped", "deck", key.String(), "error", err)
		}
		return nil
	})

	err = a.reviewLoop(gctx, key, sess, ask, &sum)
	cancel()
	g.Wait()

	sum.Passes = sess.Pass()
	if errors.Is(err, kioku.ErrSessionComplete) {
		sum.Complete = true
		err = nil
	}
	a.logger.Info("review finished", "deck", key.String(), "answered", sum.Answered,
		"correct", sum.Correct, "complete", sum.Complete)
	a.op.Fail(err)
	return sum, err
}

func (a *App) reviewLoop(ctx context.Context, key kioku.DeckKey, sess *scheduler.Session, ask AskFunc, sum *ReviewSummary) error {
	skipped := make(map[string]bool)
	id, err := sess.Current()
	for err == nil {
		card, rerr := a.service.GetCard(key, id)
		if rerr != nil {
			// An unreadable card stays unanswered and comes back every pass.
			if skipped[id] {
				return fmt.Errorf("card %s: %w", id, rerr)
			}
			skipped[id] = true
			a.logger.Warn("skipping unreadable card", "deck", key.String(), "id", id, "error", rerr)
			id, err = sess.Advance(ctx)
			continue
		}

		ans, aerr := ask(ctx, card)
		if aerr != nil {
			return aerr
		}
		if ans == AnswerQuit {
			return nil
		}
		correct := ans == AnswerCorrect
		if _, rerr := a.service.RecordAnswer(ctx, key, id, correct); rerr != nil {
			return rerr
		}
		sum.Answered++
		if correct {
			sum.Correct++
		}
		id, err = sess.Advance(ctx)
	}
	return err
}

// Close finishes the operation and releases the queue and log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.queue.Close(); err != nil {
		firstErr = fmt.Errorf("closing queue: %w", err)
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status,
		"duration", a.op.Duration(a.clock.Now()).Truncate(time.Millisecond))

	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
