package testutil

import (
	"testing"

	"kioku/internal/queue"
)

// NewTestQueue creates an in-memory unsynced queue with migrations applied.
// The queue is automatically closed when the test completes.
func NewTestQueue(t *testing.T) *queue.SQLiteQueue {
	t.Helper()

	q, err := queue.NewSQLiteQueue(":memory:")
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	t.Cleanup(func() {
		q.Close()
	})
	return q
}
