package ledger

import (
	"context"
	"time"
)

// Outcome classifies how a conversion ended.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeBestEffort Outcome = "best_effort"
	OutcomeFailed     Outcome = "failed"
)

// Record is the metadata persisted for one conversion attempt. Image bytes
// are never stored.
type Record struct {
	ID          string
	Filename    string
	SourceBytes int64
	OutputBytes int64
	Width       int
	Height      int
	Outcome     Outcome
	Duration    time.Duration
	CreatedAt   time.Time
}

// Repository abstracts the storage operations for conversion history.
type Repository interface {
	Append(ctx context.Context, rec Record) (string, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
