package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies one CLI invocation in the log. Every log line it
// produces carries ID.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation named after the CLI command
// (e.g. "AddCard", "Sync").
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z") + "-" + uuid.New().String()[:8],
		Name:      name,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed. A nil error leaves it unchanged.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = "error"
	}
}

// Duration returns the time elapsed since the operation started.
func (op *Operation) Duration(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
