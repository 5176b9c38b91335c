package queue

import (
	"os"
	"path/filepath"
	"testing"

	"kioku/internal/config"
)

func TestNewQueueFromConfig(t *testing.T) {
	t.Run("memory queue", func(t *testing.T) {
		q, err := NewQueueFromConfig(config.QueueConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewQueueFromConfig() error = %v", err)
		}
		q.Close()
	})

	t.Run("sqlite queue", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		q, err := NewQueueFromConfig(config.QueueConfig{Type: "sqlite", DataDir: dir})
		if err != nil {
			t.Fatalf("NewQueueFromConfig() error = %v", err)
		}
		defer q.Close()

		if _, err := os.Stat(filepath.Join(dir, QueueFile)); err != nil {
			t.Errorf("queue database not created: %v", err)
		}
	})

	t.Run("sqlite queue without data_dir", func(t *testing.T) {
		q, err := NewQueueFromConfig(config.QueueConfig{Type: "sqlite"})
		if err == nil {
			q.Close()
			t.Fatal("NewQueueFromConfig() expected error for missing data_dir")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewQueueFromConfig(config.QueueConfig{Type: "redis"}); err == nil {
			t.Fatal("NewQueueFromConfig() expected error for unknown type")
		}
	})
}
