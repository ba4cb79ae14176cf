package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

func TestStore_SeedIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	inserted, err := s.Seed(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.Seed(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.False(t, inserted)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), st.Total)
}

func TestStore_UpsertKeepsProcessedAndDepth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.Seed(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(ctx, "aa:bb:cc:dd:ee:ff"))

	now := time.Unix(1700000000, 0)
	res, err := s.Upsert(ctx, []frontier.Observation{
		{BSSID: "aa:bb:cc:dd:ee:ff", Lat: 1, Lon: 2, Accuracy: 3, ObservedAt: now, Depth: 4},
		{BSSID: "11:22:33:44:55:66", Lat: 5, Lon: 6, Accuracy: 7, ObservedAt: now, Depth: 1},
	})
	require.NoError(t, err)
	require.Equal(t, frontier.UpsertResult{Inserted: 1, Updated: 1}, res)

	rec, err := s.Get(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.True(t, rec.Processed)
	require.Equal(t, 0, rec.Depth)
	require.Equal(t, &frontier.Location{Lat: 1, Lon: 2}, rec.Location)

	batch, err := s.NextBatch(ctx, frontier.BatchOptions{})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "11:22:33:44:55:66", batch[0].BSSID)
	require.Equal(t, 1, batch[0].Depth)
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.Seed(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	ok, err := s.Claim(ctx, "aa:bb:cc:dd:ee:ff", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Claim(ctx, "aa:bb:cc:dd:ee:ff", time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	batch, err := s.NextBatch(ctx, frontier.BatchOptions{})
	require.NoError(t, err)
	require.Empty(t, batch)

	attempts, err := s.Release(ctx, "aa:bb:cc:dd:ee:ff", "timeout")
	require.NoError(t, err)
	require.Equal(t, 1, attempts)

	rec, err := s.Get(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.Nil(t, rec.ClaimedAt)
	require.Equal(t, "timeout", rec.LastError)
}

func TestStore_ReleaseStaleClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
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

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, frontier.Stats{Total: 2, Unprocessed: 1, Processed: 1}, st)
}

func TestStore_NextBatchHonorsLimitAndDepth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.Upsert(ctx, []frontier.Observation{
		{BSSID: "aa:bb:cc:dd:ee:01", Depth: 1},
		{BSSID: "aa:bb:cc:dd:ee:02", Depth: 3},
		{BSSID: "aa:bb:cc:dd:ee:03", Depth: 2},
	})
	require.NoError(t, err)

	batch, err := s.NextBatch(ctx, frontier.BatchOptions{MaxDepth: 2})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "aa:bb:cc:dd:ee:01", batch[0].BSSID)
	require.Equal(t, "aa:bb:cc:dd:ee:03", batch[1].BSSID)

	batch, err = s.NextBatch(ctx, frontier.BatchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestStore_MarkProcessedUnknown(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, New().MarkProcessed(context.Background(), "aa:bb:cc:dd:ee:ff"), frontier.ErrNotFound)
}

func TestStore_CollaboratorOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
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
	require.InDelta(t, 33.6, located[0].Location.Lat, 1e-9)

	require.NoError(t, s.EnsureVendorColumn(ctx))
	require.NoError(t, s.SetVendors(ctx, []frontier.VendorUpdate{{BSSID: "aa:bb:cc:dd:ee:02", Vendor: "Acme"}}))
	missing, err := s.MissingVendors(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:03"}, missing)

	deleted, err := s.Reset(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Total)
}
