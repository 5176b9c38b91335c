package resultlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"kioku/internal/kioku"
)

// Watch drops the cached fold of deckPath whenever result.txt is written
// by something other than this Log (a sync pull, another process). It
// watches the deck directory so the log may be created after Watch starts.
// onChange, when non-nil, is called after each invalidation.
// Watch blocks until ctx is done.
func (l *Log) Watch(ctx context.Context, deckPath string, onChange func()) error {
	if err := os.MkdirAll(deckPath, 0755); err != nil {
		return fmt.Errorf("%w: creating deck directory: %v", kioku.ErrStorageUnavailable, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(deckPath); err != nil {
		return fmt.Errorf("failed to watch deck directory %s: %w", deckPath, err)
	}

	target := logPath(deckPath)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			l.Invalidate(deckPath)
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("result log watcher error", "deck", deckPath, "error", err)
		}
	}
}
