package seeder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/bssid"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

// Searcher returns one page of networks.
type Searcher interface {
	Search(ctx context.Context, box BBox, cur Cursor) (Page, error)
}

// Store receives located seed points.
type Store interface {
	InsertSeeds(ctx context.Context, points []frontier.SeedPoint) (int64, error)
}

// Limiter paces page requests.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Summary counts what a run did.
type Summary struct {
	Pages    int
	Fetched  int
	Inserted int64
	Invalid  int
}

// Seeder pages through a search and inserts every result.
type Seeder struct {
	search  Searcher
	store   Store
	limiter Limiter
	key     string
	logger  *zap.Logger
}

// New wires a Seeder. key selects the limiter bucket.
func New(search Searcher, store Store, limiter Limiter, key string, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{search: search, store: store, limiter: limiter, key: key, logger: logger}
}

// Run pages through box until maxResults networks were fetched or a page
// comes back empty. Each page is inserted as it arrives, so an API failure
// keeps what was already imported.
func (s *Seeder) Run(ctx context.Context, box BBox, maxResults int) (Summary, error) {
	var sum Summary
	if err := box.Validate(); err != nil {
		return sum, err
	}
	if maxResults <= 0 {
		return sum, fmt.Errorf("max results must be > 0")
	}

	var cur Cursor
	for sum.Fetched < maxResults {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, s.key); err != nil {
				return sum, err
			}
		}
		page, err := s.search.Search(ctx, box, cur)
		if err != nil {
			return sum, fmt.Errorf("fetch page %d: %w", sum.Pages+1, err)
		}
		sum.Pages++
		if len(page.Results) == 0 {
			break
		}

		results := page.Results
		if remaining := maxResults - sum.Fetched; len(results) > remaining {
			results = results[:remaining]
		}
		points := make([]frontier.SeedPoint, 0, len(results))
		for _, n := range results {
			canonical, err := bssid.Canonicalize(n.NetID)
			if err != nil {
				sum.Invalid++
				s.logger.Warn("skipping network with invalid netid", zap.String("netid", n.NetID))
				continue
			}
			points = append(points, frontier.SeedPoint{BSSID: canonical, Lat: n.TriLat, Lon: n.TriLong})
		}
		sum.Fetched += len(results)

		inserted, err := s.store.InsertSeeds(ctx, points)
		if err != nil {
			return sum, fmt.Errorf("insert seeds: %w", err)
		}
		sum.Inserted += inserted
		s.logger.Info("fetched wigle page",
			zap.Int("page", sum.Pages),
			zap.Int("fetched", sum.Fetched),
			zap.Int64("inserted", sum.Inserted),
			zap.Int("total_results", page.TotalResults),
		)

		cur.First += len(page.Results)
		cur.SearchAfter = page.SearchAfter
	}
	s.logger.Info("seeding complete",
		zap.Int("fetched", sum.Fetched),
		zap.Int64("inserted", sum.Inserted),
		zap.Int("invalid", sum.Invalid),
	)
	return sum, nil
}
