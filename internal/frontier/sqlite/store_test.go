package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "bssid_data.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestOpen_RejectsInvalidTable(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "x.db"), Table: "drop table;"}, nil)
	require.Error(t, err)
}

func TestEnsureSchema_IsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.EnsureVendorColumn(context.Background()))
}

func TestEnsureSchema_MigratesLegacyTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")
	legacy, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = legacy.ExecContext(ctx, `CREATE TABLE bssid_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bssid TEXT NOT NULL UNIQUE,
		lat REAL, lon REAL, accuracy REAL, timestamp TEXT,
		processed INTEGER DEFAULT 0)`)
	require.NoError(t, err)
	_, err = legacy.ExecContext(ctx,
		`INSERT INTO bssid_data (bssid, lat, lon, accuracy, timestamp, processed)
		 VALUES ('aa:bb:cc:dd:ee:ff', 33.7, 73.0, 25, '2024-05-01T10:11:12.123456', 1)`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	s, err := Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))

	rec, err := s.Get(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.True(t, rec.Processed)
	require.Equal(t, 0, rec.Depth)
	require.NotNil(t, rec.Timestamp)
	require.Equal(t, 2024, rec.Timestamp.Year())
	require.Equal(t, &frontier.Location{Lat: 33.7, Lon: 73.0}, rec.Location)
}

func TestSeedAndNextBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	inserted, err := s.Seed(ctx, "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = s.Seed(ctx, "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	require.False(t, inserted)

	_, err = s.Upsert(ctx, []frontier.Observation{
		{BSSID: "aa:bb:cc:dd:ee:02", Lat: 1, Lon: 1, ObservedAt: time.Now(), Depth: 1},
		{BSSID: "aa:bb:cc:dd:ee:03", Lat: 2, Lon: 2, ObservedAt: time.Now(), Depth: 2},
	})
	require.NoError(t, err)

	batch, err := s.NextBatch(ctx, frontier.BatchOptions{})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, "aa:bb:cc:dd:ee:01", batch[0].BSSID)
	require.Nil(t, batch[0].Location)

	batch, err = s.NextBatch(ctx, frontier.BatchOptions{MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	batch, err = s.NextBatch(ctx, frontier.BatchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestUpsert_LastWriteWinsAndKeepsProcessed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Seed(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(ctx, "aa:bb:cc:dd:ee:ff"))

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := s.Upsert(ctx, []frontier.Observation{
		{BSSID: "aa:bb:cc:dd:ee:ff", Lat: 10, Lon: 20, Accuracy: 30, ObservedAt: first, Depth: 5},
	})
	require.NoError(t, err)
	require.Equal(t, frontier.UpsertResult{Updated: 1}, res)

	second := first.Add(time.Hour)
	res, err = s.Upsert(ctx, []frontier.Observation{
		{BSSID: "aa:bb:cc:dd:ee:ff", Lat: 11, Lon: 21, Accuracy: 31, ObservedAt: second, Depth: 5},
		{BSSID: "11:22:33:44:55:66", Lat: 1, Lon: 2, Accuracy: 3, ObservedAt: second, Depth: 1},
	})
	require.NoError(t, err)
	require.Equal(t, frontier.UpsertResult{Inserted: 1, Updated: 1}, res)

	rec, err := s.Get(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.True(t, rec.Processed)
	require.Equal(t, 0, rec.Depth)
	require.Equal(t, &frontier.Location{Lat: 11, Lon: 21}, rec.Location)
	require.InDelta(t, 31, *rec.Accuracy, 1e-9)
	require.True(t, second.Equal(*rec.Timestamp))

	fresh, err := s.Get(ctx, "11:22:33:44:55:66")
	require.NoError(t, err)
	require.False(t, fresh.Processed)
	require.Equal(t, 1, fresh.Depth)
}

func TestClaimReleaseAndStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Seed(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	ok, err := s.Claim(ctx, "aa:bb:cc:dd:ee:ff", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Claim(ctx, "aa:bb:cc:dd:ee:ff", time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, frontier.Stats{Total: 1, Claimed: 1}, st)

	attempts, err := s.Release(ctx, "aa:bb:cc:dd:ee:ff", "timeout")
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	attempts, err = s.Release(ctx, "aa:bb:cc:dd:ee:ff", "tls")
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	rec, err := s.Get(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.Nil(t, rec.ClaimedAt)
	require.Equal(t, "tls", rec.LastError)

	_, err = s.Release(ctx, "00:00:00:00:00:00", "x")
	require.ErrorIs(t, err, frontier.ErrNotFound)
}

func TestReleaseStaleClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	for _, b := range []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"} {
		_, err := s.Seed(ctx, b)
		require.NoError(t, err)
		_, err = s.Claim(ctx, b, time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkProcessed(ctx, "aa:bb:cc:dd:ee:02"))

	n, err := s.ReleaseStaleClaims(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	batch, err := s.NextBatch(ctx, frontier.BatchOptions{})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "aa:bb:cc:dd:ee:01", batch[0].BSSID)
}

func TestMarkProcessed_Unknown(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.ErrorIs(t, s.MarkProcessed(context.Background(), "aa:bb:cc:dd:ee:ff"), frontier.ErrNotFound)
	_, err := s.Get(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.ErrorIs(t, err, frontier.ErrNotFound)
}

func TestCollaboratorOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.InsertSeeds(ctx, []frontier.SeedPoint{
		{BSSID: "aa:bb:cc:dd:ee:01", Lat: 33.6, Lon: 73.0},
		{BSSID: "aa:bb:cc:dd:ee:01", Lat: 0, Lon: 0},
		{BSSID: "aa:bb:cc:dd:ee:02", Lat: 24.8, Lon: 67.0},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	_, err = s.Seed(ctx, "aa:bb:cc:dd:ee:03")
	require.NoError(t, err)

	located, err := s.Located(ctx)
	require.NoError(t, err)
	require.Len(t, located, 2)
	require.Equal(t, &frontier.Location{Lat: 33.6, Lon: 73.0}, located[0].Location)

	require.NoError(t, s.EnsureVendorColumn(ctx))
	require.NoError(t, s.SetVendors(ctx, []frontier.VendorUpdate{{BSSID: "aa:bb:cc:dd:ee:02", Vendor: "Acme"}}))
	missing, err := s.MissingVendors(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:03"}, missing)

	rec, err := s.Get(ctx, "aa:bb:cc:dd:ee:02")
	require.NoError(t, err)
	require.Equal(t, "Acme", rec.Vendor)

	deleted, err := s.Reset(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, frontier.Stats{}, st)
}

func TestMissingVendors_IncludesEmptyVendor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	for _, b := range []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "aa:bb:cc:dd:ee:03"} {
		_, err := s.Seed(ctx, b)
		require.NoError(t, err)
	}
	require.NoError(t, s.EnsureVendorColumn(ctx))
	require.NoError(t, s.SetVendors(ctx, []frontier.VendorUpdate{
		{BSSID: "aa:bb:cc:dd:ee:01", Vendor: ""},
		{BSSID: "aa:bb:cc:dd:ee:02", Vendor: "Acme"},
	}))

	missing, err := s.MissingVendors(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:03"}, missing)
}
