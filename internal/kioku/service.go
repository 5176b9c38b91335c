package kioku

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Service is the orchestration layer for local deck operations: editing
// cards, answering reviews and reading review state. Remote sync lives in
// the sync package and shares the deck locks.
type Service struct {
	dataDir  string
	manifest ManifestStore
	cards    CardRepository
	results  ResultLog
	queue    UnsyncedQueue
	network  Network
	locks    *DeckLocks
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewService creates a new Service with the provided dependencies.
// queue and network may be nil, in which case edits are not queued for sync.
func NewService(dataDir string, manifest ManifestStore, cards CardRepository, results ResultLog, queue UnsyncedQueue, network Network, locks *DeckLocks, logger Logger, clock Clock, idgen IDGenerator) *Service {
	if locks == nil {
		locks = NewDeckLocks()
	}
	return &Service{
		dataDir:  dataDir,
		manifest: manifest,
		cards:    cards,
		results:  results,
		queue:    queue,
		network:  network,
		locks:    locks,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// DeckPath returns the local directory of a deck.
func (s *Service) DeckPath(key DeckKey) string {
	return key.LocalPath(s.dataDir)
}

// AddCard stores a new card and registers it in the manifest.
// If data carries a string "id" field it is used, otherwise a new ID is generated
// and written into the document.
func (s *Service) AddCard(ctx context.Context, key DeckKey, data []byte) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("card is not a JSON object: %w", err)
	}
	id, _ := doc["id"].(string)
	if id == "" {
		id = s.idgen.New()
		doc["id"] = id
		b, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("encoding card: %w", err)
		}
		data = b
	}

	if err := s.writeCard(ctx, key, id, data); err != nil {
		return "", err
	}
	s.logger.Info("card added", "deck", key.String(), "id", id)
	return id, nil
}

// UpdateCard replaces the document of an existing card and bumps its timestamp.
func (s *Service) UpdateCard(ctx context.Context, key DeckKey, id string, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := s.writeCard(ctx, key, id, data); err != nil {
		return err
	}
	s.logger.Info("card updated", "deck", key.String(), "id", id)
	return nil
}

func (s *Service) writeCard(ctx context.Context, key DeckKey, id string, data []byte) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	deckPath := s.DeckPath(key)
	if err := s.cards.Write(deckPath, id, CardRecord{ID: id, Data: data}); err != nil {
		return fmt.Errorf("writing card: %w", err)
	}
	if err := s.manifest.Upsert(deckPath, id, s.now()); err != nil {
		return fmt.Errorf("updating manifest: %w", err)
	}
	s.markDirty(ctx, key)
	return nil
}

// RemoveCard tombstones the card in the manifest and deletes its local file.
// The tombstone stays until the remote deletion is confirmed by a sync.
func (s *Service) RemoveCard(ctx context.Context, key DeckKey, id string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	deckPath := s.DeckPath(key)
	if err := s.manifest.Tombstone(deckPath, id); err != nil {
		return fmt.Errorf("tombstoning card: %w", err)
	}
	if err := s.cards.Delete(deckPath, id); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	s.markDirty(ctx, key)
	s.logger.Info("card removed", "deck", key.String(), "id", id)
	return nil
}

// GetCard returns the document of a card.
func (s *Service) GetCard(key DeckKey, id string) (CardRecord, error) {
	return s.cards.Read(s.DeckPath(key), id)
}

// ActiveCards returns the IDs of the deck's live cards in manifest order.
func (s *Service) ActiveCards(_ context.Context, key DeckKey) ([]string, error) {
	entries, err := s.manifest.Load(s.DeckPath(key))
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Tombstone {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// States returns the review state of every card with history in the deck.
func (s *Service) States(_ context.Context, key DeckKey) (map[string]ReviewState, error) {
	states, err := s.results.FoldAll(s.DeckPath(key))
	if err != nil {
		return nil, fmt.Errorf("folding result log: %w", err)
	}
	return states, nil
}

// RecordAnswer appends the outcome of answering a card and returns it.
func (s *Service) RecordAnswer(ctx context.Context, key DeckKey, id string, correct bool) (ReviewOutcome, error) {
	states, err := s.States(ctx, key)
	if err != nil {
		return ReviewOutcome{}, err
	}

	var prev *ReviewState
	if st, ok := states[id]; ok {
		prev = &st
	}

	outcome := NewOutcome(id, prev, correct, s.clock.Now())
	if err := s.results.Append(s.DeckPath(key), outcome); err != nil {
		return ReviewOutcome{}, fmt.Errorf("appending outcome: %w", err)
	}

	s.logger.Debug("answer recorded", "deck", key.String(), "id", id, "correct", correct,
		"next_review_at", outcome.NextReviewAt)
	return outcome, nil
}

// markDirty queues the deck for sync. Edits made without connectivity are
// queued with the offline reason; other edits wait for the next explicit sync.
func (s *Service) markDirty(ctx context.Context, key DeckKey) {
	if s.queue == nil {
		return
	}
	reason := ReasonManual
	if s.network != nil && !s.network.IsNetworkAvailable() {
		reason = ReasonOffline
	}
	now := s.now()
	err := s.queue.Enqueue(ctx, UnsyncedDeckEntry{
		NoteName:      key.NoteName,
		SubFolder:     key.SubFolder,
		Reason:        reason,
		QueuedAt:      now,
		NextAttemptAt: now,
	})
	if err != nil {
		s.logger.Warn("queueing deck for sync failed", "deck", key.String(), "error", err)
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().Truncate(time.Second)
}
