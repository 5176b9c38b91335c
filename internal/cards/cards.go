// Package cards stores one JSON document per card under <deck>/cards/<id>.json.
//
// A card file that exists but is empty, too short or not a JSON object with
// a string id is a placeholder: the leftover of an interrupted write or a
// sync that never finished. Reads that hit a placeholder try the configured
// backup directories before giving up.
package cards

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"kioku/internal/fs"
	"kioku/internal/kioku"
)

// MinCardBytes is the smallest size a real card document can have.
const MinCardBytes = 16

// DefaultBackupDir is searched when no backup directories are configured.
const DefaultBackupDir = "cards.bak"

// Repository is the file-backed kioku.CardRepository.
type Repository struct {
	backupDirs []string
	logger     kioku.Logger
}

var _ kioku.CardRepository = (*Repository)(nil)

// NewRepository creates a card repository. backupDirs are deck-relative
// directories searched by Recover; nil means DefaultBackupDir.
func NewRepository(backupDirs []string, logger kioku.Logger) *Repository {
	if backupDirs == nil {
		backupDirs = []string{DefaultBackupDir}
	}
	if logger == nil {
		logger = kioku.NewNopLogger()
	}
	return &Repository{backupDirs: backupDirs, logger: logger}
}

// Path returns the primary file of a card.
func Path(deckPath, id string) string {
	return filepath.Join(deckPath, kioku.CardsDir, id+".json")
}

// Read returns the card document. A placeholder is recovered from a backup
// when one holds a valid copy; the primary file is then restored.
func (r *Repository) Read(deckPath string, id string) (kioku.CardRecord, error) {
	if err := checkID(id); err != nil {
		return kioku.CardRecord{}, err
	}

	data, err := fs.ReadFile(Path(deckPath, id))
	if err != nil {
		return kioku.CardRecord{}, err
	}

	verr := Validate(data, id)
	if verr == nil {
		return kioku.CardRecord{ID: id, Data: data}, nil
	}

	rec, rerr := r.Recover(deckPath, id)
	if rerr != nil {
		r.logger.Warn("placeholder card", "deck", deckPath, "id", id, "error", verr)
		return kioku.CardRecord{}, fmt.Errorf("card %s: %w", id, verr)
	}
	return rec, nil
}

// Write stores the card atomically. Placeholder content is refused so a
// valid card is never overwritten by a broken one.
func (r *Repository) Write(deckPath string, id string, rec kioku.CardRecord) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := Validate(rec.Data, id); err != nil {
		return fmt.Errorf("card %s: %w", id, err)
	}
	return fs.WriteFileAtomic(Path(deckPath, id), rec.Data)
}

// Delete removes the card file. Backups are left alone.
func (r *Repository) Delete(deckPath string, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return fs.RemoveFile(Path(deckPath, id))
}

// Recover looks for a valid copy of the card in the backup directories.
// When one is found the primary file is rewritten with it.
func (r *Repository) Recover(deckPath string, id string) (kioku.CardRecord, error) {
	for _, dir := range r.backupDirs {
		alt := filepath.Join(deckPath, dir, id+".json")
		data, err := fs.ReadFile(alt)
		if err != nil {
			if !errors.Is(err, kioku.ErrNotFound) {
				r.logger.Warn("reading card backup", "path", alt, "error", err)
			}
			continue
		}
		if err := Validate(data, id); err != nil {
			continue
		}

		if err := fs.WriteFileAtomic(Path(deckPath, id), data); err != nil {
			return kioku.CardRecord{}, err
		}
		r.logger.Info("card recovered from backup", "deck", deckPath, "id", id, "from", dir)
		return kioku.CardRecord{ID: id, Data: data}, nil
	}
	return kioku.CardRecord{}, fmt.Errorf("card %s: no valid backup: %w", id, kioku.ErrNotFound)
}

// Validate checks that data looks like a real card document: at least
// MinCardBytes long and a JSON object carrying a string id.
// Failures wrap kioku.ErrPlaceholderCard. When wantID is not empty the
// document must carry that id; a mismatch wraps kioku.ErrMalformedRecord.
func Validate(data []byte, wantID string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", kioku.ErrPlaceholderCard)
	}
	if len(data) < MinCardBytes {
		return fmt.Errorf("%w: only %d bytes", kioku.ErrPlaceholderCard, len(data))
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", kioku.ErrPlaceholderCard, err)
	}
	raw, ok := doc["id"]
	if !ok {
		return fmt.Errorf("%w: missing id", kioku.ErrPlaceholderCard)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return fmt.Errorf("%w: id is not a string", kioku.ErrPlaceholderCard)
	}
	if wantID != "" && id != wantID {
		return fmt.Errorf("%w: document id %q does not match %q", kioku.ErrMalformedRecord, id, wantID)
	}
	return nil
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid card id %q", id)
	}
	return nil
}
