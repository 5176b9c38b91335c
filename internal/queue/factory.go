package queue

import (
	"fmt"
	"path/filepath"

	"kioku/internal/config"
)

// QueueFile is the database file name under the queue data_dir.
const QueueFile = "queue.db"

// NewQueueFromConfig creates the unsynced-deck queue selected by cfg.Type.
func NewQueueFromConfig(cfg config.QueueConfig) (*SQLiteQueue, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite queue")
		}
		return NewSQLiteQueue(filepath.Join(cfg.DataDir, QueueFile))
	case "memory", "":
		return NewSQLiteQueue(":memory:")
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
