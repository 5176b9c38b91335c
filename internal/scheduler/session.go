package scheduler

import (
	"context"
	"fmt"
	"sync"

	"kioku/internal/kioku"
)

// Source supplies the live cards of a deck and their review state.
// kioku.Service implements it.
type Source interface {
	ActiveCards(ctx context.Context, key kioku.DeckKey) ([]string, error)
	States(ctx context.Context, key kioku.DeckKey) (map[string]kioku.ReviewState, error)
}

// Session walks one deck in presentation order. A pass is one walk through
// the queue; when it is used up, a new pass starts over the cards that are
// due at that moment, and the session completes when none are.
//
// Reprioritize may run concurrently with Current and Advance. It only ever
// inserts cards right after the current one.
type Session struct {
	src    Source
	key    kioku.DeckKey
	clock  kioku.Clock
	logger kioku.Logger

	mu       sync.Mutex
	queue    []string
	pos      int
	pass     int
	complete bool
}

// NewSession loads the deck and orders the first pass.
func NewSession(ctx context.Context, src Source, key kioku.DeckKey, clock kioku.Clock, logger kioku.Logger) (*Session, error) {
	if logger == nil {
		logger = kioku.NewNopLogger()
	}
	s := &Session{src: src, key: key, clock: clock, logger: logger}

	cards, states, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.queue = Order(cards, states, clock.Now())
	s.pass = 1
	s.complete = len(s.queue) == 0
	return s, nil
}

func (s *Session) load(ctx context.Context) ([]string, map[string]kioku.ReviewState, error) {
	cards, err := s.src.ActiveCards(ctx, s.key)
	if err != nil {
		return nil, nil, fmt.Errorf("listing cards: %w", err)
	}
	states, err := s.src.States(ctx, s.key)
	if err != nil {
		return nil, nil, fmt.Errorf("loading review state: %w", err)
	}
	return cards, states, nil
}

// Current returns the card on display.
func (s *Session) Current() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete {
		return "", kioku.ErrSessionComplete
	}
	return s.queue[s.pos], nil
}

// Advance moves past the current card and returns the next one. When the
// pass is used up it starts a new pass over the due cards, or returns
// kioku.ErrSessionComplete if there are none.
func (s *Session) Advance(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.complete {
		s.mu.Unlock()
		return "", kioku.ErrSessionComplete
	}
	s.pos++
	if s.pos < len(s.queue) {
		id := s.queue[s.pos]
		s.mu.Unlock()
		return id, nil
	}
	pass := s.pass
	s.mu.Unlock()

	cards, states, err := s.load(ctx)
	if err != nil {
		s.mu.Lock()
		s.pos--
		s.mu.Unlock()
		return "", err
	}
	due := Due(cards, states, s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent Reprioritize may have extended the finished pass.
	if s.pass == pass && s.pos < len(s.queue) {
		return s.queue[s.pos], nil
	}
	if len(due) == 0 {
		s.complete = true
		s.logger.Info("review session complete", "deck", s.key.String(), "passes", s.pass)
		return "", kioku.ErrSessionComplete
	}
	s.queue = due
	s.pos = 0
	s.pass++
	s.logger.Debug("review pass started", "deck", s.key.String(), "pass", s.pass, "cards", len(due))
	return s.queue[0], nil
}

// Reprioritize re-reads the deck and splices cards that are new, due or
// recently missed, and not yet part of this pass, right after the current
// card. It returns the inserted ids. Positions already queued are never
// moved or removed.
func (s *Session) Reprioritize(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if s.complete {
		s.mu.Unlock()
		return nil, nil
	}
	pass := s.pass
	snapshot := make(map[string]bool, len(s.queue))
	for _, id := range s.queue {
		snapshot[id] = true
	}
	s.mu.Unlock()

	cards, states, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var candidates []string
	for _, id := range cards {
		if snapshot[id] {
			continue
		}
		if Classify(stateOf(states, id), now).Urgent() {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	candidates = Order(candidates, states, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete || s.pass != pass {
		return nil, nil
	}

	// The queue may have grown since the snapshot.
	present := make(map[string]bool, len(s.queue))
	for _, id := range s.queue {
		present[id] = true
	}
	inserted := candidates[:0]
	for _, id := range candidates {
		if !present[id] {
			inserted = append(inserted, id)
		}
	}
	if len(inserted) == 0 {
		return nil, nil
	}

	at := s.pos + 1
	if at > len(s.queue) {
		at = len(s.queue)
	}
	queue := make([]string, 0, len(s.queue)+len(inserted))
	queue = append(queue, s.queue[:at]...)
	queue = append(queue, inserted...)
	queue = append(queue, s.queue[at:]...)
	s.queue = queue

	s.logger.Debug("cards reprioritized", "deck", s.key.String(), "inserted", len(inserted))
	return append([]string(nil), inserted...), nil
}

// Upcoming returns the cards queued after the current one.
func (s *Session) Upcoming() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete || s.pos+1 >= len(s.queue) {
		return nil
	}
	return append([]string(nil), s.queue[s.pos+1:]...)
}

// Pass returns the number of the current pass, starting at 1.
func (s *Session) Pass() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pass
}
