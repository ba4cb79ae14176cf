// Package frontier defines the durable set of discovered access points and
// the bookkeeping the crawler uses to expand it.
//
// A record is unprocessed until a worker has queried it, claimed while a
// worker owns it, and processed once its neighbors have been recorded.
// Deduplication is enforced by the backend's uniqueness constraint on bssid.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DefaultTable is the table name shared with the collaborator tooling.
const DefaultTable = "bssid_data"

var (
	// ErrNotFound is returned when a bssid has no stored record.
	ErrNotFound = errors.New("frontier: record not found")

	validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Location is a WGS84 coordinate pair in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Record is one stored access point.
type Record struct {
	BSSID     string     `json:"bssid"`
	Location  *Location  `json:"location,omitempty"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Processed bool       `json:"processed"`
	Depth     int        `json:"depth"`
	Attempts  int        `json:"attempts"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Vendor    string     `json:"vendor,omitempty"`
}

// Observation is a neighbor reported by the location service.
type Observation struct {
	BSSID      string
	Lat        float64
	Lon        float64
	Accuracy   float64
	Channel    int
	ObservedAt time.Time
	// Depth is used only when the observation creates a new record.
	Depth int
}

// BatchOptions narrows a NextBatch snapshot.
type BatchOptions struct {
	// Limit caps the snapshot size; 0 returns every eligible record.
	Limit int
	// MaxDepth excludes records deeper than this hop count; 0 is unlimited.
	MaxDepth int
}

// UpsertResult counts the outcome of an Upsert call.
type UpsertResult struct {
	Inserted int
	Updated  int
	Failed   int
}

// Add accumulates other into r.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Failed += other.Failed
}

// Stats is a point-in-time accounting of the frontier.
type Stats struct {
	Total       int64 `json:"total"`
	Unprocessed int64 `json:"unprocessed"`
	Claimed     int64 `json:"claimed"`
	Processed   int64 `json:"processed"`
	Located     int64 `json:"located"`
	MaxDepth    int   `json:"max_depth"`
}

// SeedPoint is an access point imported from an external survey.
type SeedPoint struct {
	BSSID string
	Lat   float64
	Lon   float64
}

// VendorUpdate assigns a manufacturer name to a bssid.
type VendorUpdate struct {
	BSSID  string
	Vendor string
}

// Store is implemented by every frontier backend.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Seed(ctx context.Context, bssid string) (bool, error)
	NextBatch(ctx context.Context, opts BatchOptions) ([]Record, error)
	Upsert(ctx context.Context, observations []Observation) (UpsertResult, error)
	MarkProcessed(ctx context.Context, bssid string) error
	Claim(ctx context.Context, bssid string, at time.Time) (bool, error)
	Release(ctx context.Context, bssid, reason string) (int, error)
	ReleaseStaleClaims(ctx context.Context) (int64, error)
	Get(ctx context.Context, bssid string) (Record, error)
	Stats(ctx context.Context) (Stats, error)

	InsertSeeds(ctx context.Context, points []SeedPoint) (int64, error)
	EnsureVendorColumn(ctx context.Context) error
	MissingVendors(ctx context.Context) ([]string, error)
	SetVendors(ctx context.Context, updates []VendorUpdate) error
	Located(ctx context.Context) ([]Record, error)
	Reset(ctx context.Context) (int64, error)

	Close() error
}

// ValidateTable rejects table names that are not plain SQL identifiers.
func ValidateTable(name string) error {
	if !validTableName.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// Truncate shortens s to at most n bytes for storage in error columns.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
