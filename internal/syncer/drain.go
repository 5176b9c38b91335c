package syncer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"kioku/internal/kioku"
	"kioku/internal/scheduler"
)

// DrainReport summarizes one drain of the unsynced queue.
type DrainReport struct {
	Attempted int
	Synced    int
	Failed    int
	// Skipped is set when another drain was already running.
	Skipped bool
}

// Drain syncs every due deck of the queue one at a time, in enqueue order,
// pausing DrainDelay between decks. A failing deck does not stop the drain;
// it stays queued with its backoff. Going offline stops the drain early.
//
// Only one drain runs at a time: a drain requested while another is in
// progress returns immediately with Skipped set.
func (c *Coordinator) Drain(ctx context.Context, session kioku.Session) (DrainReport, error) {
	return c.drain(ctx, session, false)
}

// DrainAll is Drain ignoring backoff: every queued deck is attempted.
// It serves reconnects, sign-ins and explicit requests, where a retry
// delay earned while offline no longer applies.
func (c *Coordinator) DrainAll(ctx context.Context, session kioku.Session) (DrainReport, error) {
	return c.drain(ctx, session, true)
}

func (c *Coordinator) drain(ctx context.Context, session kioku.Session, all bool) (DrainReport, error) {
	if !c.drainMu.TryLock() {
		c.logger.Debug("drain already running")
		return DrainReport{Skipped: true}, nil
	}
	defer c.drainMu.Unlock()

	var rep DrainReport
	if !session.LoggedIn() {
		return rep, fmt.Errorf("draining queue: not signed in: %w", kioku.ErrNetworkUnavailable)
	}

	var due []kioku.UnsyncedDeckEntry
	var err error
	if all {
		due, err = c.queue.List(ctx)
	} else {
		due, err = c.queue.DequeueAllDue(ctx, c.clock.Now())
	}
	if err != nil {
		return rep, fmt.Errorf("reading queue: %w", err)
	}
	if len(due) == 0 {
		return rep, nil
	}
	c.logger.Info("draining unsynced queue", "decks", len(due))

	for i, entry := range due {
		if i > 0 {
			select {
			case <-ctx.Done():
				return rep, ctx.Err()
			case <-c.clock.After(c.opts.DrainDelay):
			}
		}
		if !c.online() {
			c.logger.Info("network lost, stopping drain", "remaining", len(due)-i)
			break
		}

		rep.Attempted++
		if _, err := c.SyncDeck(ctx, session, entry.Key()); err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Failed++
			continue
		}
		rep.Synced++
	}

	c.logger.Info("drain finished", "synced", rep.Synced, "failed", rep.Failed)
	return rep, nil
}

// Run consumes auth and network events until ctx is done or events is
// closed. A transition to online while signed in, or a sign-in while
// online, drains the whole queue, backoff included. When a drain schedule
// is configured the due part of the queue is also drained periodically.
func (c *Coordinator) Run(ctx context.Context, initial kioku.Session, events <-chan kioku.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	w := &watcher{c: c, session: initial, online: c.online()}

	if c.opts.DrainSchedule != "" {
		runner := scheduler.NewRunner(c.logger)
		err := runner.Schedule(c.opts.DrainSchedule, "drain unsynced queue", func(ctx context.Context) error {
			s, online := w.snapshot()
			if !s.LoggedIn() || !online {
				return nil
			}
			_, err := c.Drain(ctx, s)
			return err
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(ctx) })
	}

	g.Go(func() error {
		// A closed event stream ends Run, runner included.
		defer cancel()
		return w.loop(ctx, events)
	})
	return g.Wait()
}

// watcher tracks the session and connectivity seen on the event stream.
type watcher struct {
	c *Coordinator

	mu      sync.Mutex
	session kioku.Session
	online  bool
}

func (w *watcher) snapshot() (kioku.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session, w.online
}

func (w *watcher) loop(ctx context.Context, events <-chan kioku.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if s, drain := w.apply(ev); drain {
				if _, err := w.c.DrainAll(ctx, s); err != nil && ctx.Err() == nil {
					w.c.logger.Warn("drain failed", "error", err)
				}
			}
		}
	}
}

// apply records ev and reports whether it is a transition that should
// start a drain. Switching directly to another user counts as one.
func (w *watcher) apply(ev kioku.Event) (kioku.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.session
	wasReady := prev.LoggedIn() && w.online
	switch ev := ev.(type) {
	case kioku.NetworkChanged:
		w.online = ev.Online
		w.c.logger.Debug("network changed", "online", ev.Online)
	case kioku.LoginChanged:
		w.session = kioku.Session{UserID: ev.UserID}
		w.c.logger.Debug("login changed", "signed_in", ev.UserID != "")
	}
	ready := w.session.LoggedIn() && w.online
	return w.session, ready && (!wasReady || prev.UserID != w.session.UserID)
}
