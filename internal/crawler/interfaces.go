package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
	"github.com/JakeFAU/bssid-geolocator/internal/worker"
)

// Frontier is the part of frontier.Store the engine drives directly.
type Frontier interface {
	EnsureSchema(ctx context.Context) error
	ReleaseStaleClaims(ctx context.Context) (int64, error)
	Seed(ctx context.Context, bssid string) (bool, error)
	NextBatch(ctx context.Context, opts frontier.BatchOptions) ([]frontier.Record, error)
	Stats(ctx context.Context) (frontier.Stats, error)
}

// Processor handles one frontier record end to end.
type Processor interface {
	Process(ctx context.Context, rec frontier.Record) worker.Result
}

// RetryPolicy determines whether a failed query should be retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
