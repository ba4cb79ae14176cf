// Package memory provides an in-process frontier.Store for tests and dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

// Store is a mutex-guarded frontier keyed by bssid. Insertion order is kept
// so snapshots match the SQL backends.
type Store struct {
	mu      sync.Mutex
	records map[string]*frontier.Record
	order   []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*frontier.Record)}
}

// EnsureSchema is a no-op.
func (s *Store) EnsureSchema(context.Context) error { return nil }

func (s *Store) insertLocked(rec frontier.Record) bool {
	if _, ok := s.records[rec.BSSID]; ok {
		return false
	}
	cp := rec
	s.records[rec.BSSID] = &cp
	s.order = append(s.order, rec.BSSID)
	return true
}

// Seed inserts an unlocated, unprocessed record at depth 0.
func (s *Store) Seed(_ context.Context, bssid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(frontier.Record{BSSID: bssid}), nil
}

// NextBatch snapshots unprocessed, unclaimed records in insertion order.
func (s *Store) NextBatch(_ context.Context, opts frontier.BatchOptions) ([]frontier.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []frontier.Record
	for _, key := range s.order {
		rec := s.records[key]
		if rec.Processed || rec.ClaimedAt != nil {
			continue
		}
		if opts.MaxDepth > 0 && rec.Depth > opts.MaxDepth {
			continue
		}
		out = append(out, clone(rec))
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Upsert inserts new keys and overwrites the location of existing ones.
func (s *Store) Upsert(_ context.Context, observations []frontier.Observation) (frontier.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res frontier.UpsertResult
	for _, obs := range observations {
		if obs.BSSID == "" {
			res.Failed++
			continue
		}
		loc := &frontier.Location{Lat: obs.Lat, Lon: obs.Lon}
		acc := obs.Accuracy
		ts := obs.ObservedAt.UTC()
		if rec, ok := s.records[obs.BSSID]; ok {
			rec.Location, rec.Accuracy, rec.Timestamp = loc, &acc, &ts
			res.Updated++
			continue
		}
		s.insertLocked(frontier.Record{
			BSSID:     obs.BSSID,
			Location:  loc,
			Accuracy:  &acc,
			Timestamp: &ts,
			Depth:     obs.Depth,
		})
		res.Inserted++
	}
	return res, nil
}

// MarkProcessed flags the record processed and drops its claim.
func (s *Store) MarkProcessed(_ context.Context, bssid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[bssid]
	if !ok {
		return frontier.ErrNotFound
	}
	rec.Processed = true
	rec.ClaimedAt = nil
	return nil
}

// Claim takes ownership of an unprocessed, unclaimed record.
func (s *Store) Claim(_ context.Context, bssid string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[bssid]
	if !ok || rec.Processed || rec.ClaimedAt != nil {
		return false, nil
	}
	t := at.UTC()
	rec.ClaimedAt = &t
	return true, nil
}

// Release drops a claim after a failed attempt.
func (s *Store) Release(_ context.Context, bssid, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[bssid]
	if !ok {
		return 0, frontier.ErrNotFound
	}
	rec.ClaimedAt = nil
	rec.Attempts++
	rec.LastError = reason
	return rec.Attempts, nil
}

// ReleaseStaleClaims clears every claim left on an unprocessed record.
func (s *Store) ReleaseStaleClaims(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.records {
		if !rec.Processed && rec.ClaimedAt != nil {
			rec.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored record.
func (s *Store) Get(_ context.Context, bssid string) (frontier.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[bssid]
	if !ok {
		return frontier.Record{}, frontier.ErrNotFound
	}
	return clone(rec), nil
}

// Stats counts records by state.
func (s *Store) Stats(context.Context) (frontier.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st frontier.Stats
	for _, rec := range s.records {
		st.Total++
		switch {
		case rec.Processed:
			st.Processed++
		case rec.ClaimedAt != nil:
			st.Claimed++
		default:
			st.Unprocessed++
		}
		if rec.Location != nil {
			st.Located++
		}
		if rec.Depth > st.MaxDepth {
			st.MaxDepth = rec.Depth
		}
	}
	return st, nil
}

// InsertSeeds adds located records, ignoring keys already present.
func (s *Store) InsertSeeds(_ context.Context, points []frontier.SeedPoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range points {
		if s.insertLocked(frontier.Record{
			BSSID:    p.BSSID,
			Location: &frontier.Location{Lat: p.Lat, Lon: p.Lon},
		}) {
			n++
		}
	}
	return n, nil
}

// EnsureVendorColumn is a no-op.
func (s *Store) EnsureVendorColumn(context.Context) error { return nil }

// MissingVendors lists bssids without a vendor, in insertion order.
func (s *Store) MissingVendors(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, key := range s.order {
		if s.records[key].Vendor == "" {
			out = append(out, key)
		}
	}
	return out, nil
}

// SetVendors stores vendor names for known bssids.
func (s *Store) SetVendors(_ context.Context, updates []frontier.VendorUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		if rec, ok := s.records[u.BSSID]; ok {
			rec.Vendor = u.Vendor
		}
	}
	return nil
}

// Located returns every record with coordinates, in insertion order.
func (s *Store) Located(context.Context) ([]frontier.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []frontier.Record
	for _, key := range s.order {
		if rec := s.records[key]; rec.Location != nil {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

// Reset removes every record.
func (s *Store) Reset(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.records))
	s.records = make(map[string]*frontier.Record)
	s.order = nil
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func clone(rec *frontier.Record) frontier.Record {
	out := *rec
	if rec.Location != nil {
		loc := *rec.Location
		out.Location = &loc
	}
	if rec.Accuracy != nil {
		acc := *rec.Accuracy
		out.Accuracy = &acc
	}
	if rec.Timestamp != nil {
		ts := *rec.Timestamp
		out.Timestamp = &ts
	}
	if rec.ClaimedAt != nil {
		ts := *rec.ClaimedAt
		out.ClaimedAt = &ts
	}
	return out
}

var _ frontier.Store = (*Store)(nil)
