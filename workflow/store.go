// Package workflow runs many background-generation workflows at once: one
// pipeline.Orchestrator per workflow id, snapshots in a StateStore so a
// restart can resume them, and finished results handed to the archive.
package workflow

import (
	"context"
	"errors"
	"time"

	"bgstudio/pipeline"
)

// ErrNotFound is returned for unknown, expired or finished workflows.
var ErrNotFound = errors.New("workflow: not found")

// ErrInvalidInput is returned when a request is missing required fields.
var ErrInvalidInput = errors.New("workflow: invalid input")

// Record is a workflow snapshot as stored and returned to clients.
type Record struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	State     pipeline.State `json:"state"`
	CreatedAt time.Time      `json:"createdAt"`
}

// StateStore persists workflow snapshots between transitions. Entries
// expire after the store's TTL.
type StateStore interface {
	Save(ctx context.Context, rec Record) error
	// Load returns ErrNotFound for missing or expired entries.
	Load(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
