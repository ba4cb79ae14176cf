package enrich

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

// Store is the part of frontier.Store the enricher touches. It never
// writes coordinates or the processed flag.
type Store interface {
	EnsureVendorColumn(ctx context.Context) error
	MissingVendors(ctx context.Context) ([]string, error)
	SetVendors(ctx context.Context, updates []frontier.VendorUpdate) error
}

// Lookuper resolves one MAC to a vendor name.
type Lookuper interface {
	Lookup(ctx context.Context, mac string) (string, error)
}

// Limiter paces lookups.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Summary counts what a run did.
type Summary struct {
	Missing  int
	Resolved int
	Unknown  int
	Failed   int
}

// Enricher fills the vendor column for records that lack one.
type Enricher struct {
	store     Store
	lookup    Lookuper
	limiter   Limiter
	key       string
	batchSize int
	logger    *zap.Logger
}

// NewEnricher wires an Enricher. key selects the limiter bucket.
func NewEnricher(store Store, lookup Lookuper, limiter Limiter, key string, batchSize int, logger *zap.Logger) *Enricher {
	if batchSize <= 0 {
		batchSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		store:     store,
		lookup:    lookup,
		limiter:   limiter,
		key:       key,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run looks up every record missing a vendor and writes results in batches.
// Lookup failures are logged and skipped. On cancellation the pending batch
// is still written before ctx.Err() is returned.
func (e *Enricher) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if err := e.store.EnsureVendorColumn(ctx); err != nil {
		return sum, fmt.Errorf("ensure vendor column: %w", err)
	}
	macs, err := e.store.MissingVendors(ctx)
	if err != nil {
		return sum, fmt.Errorf("list missing vendors: %w", err)
	}
	sum.Missing = len(macs)
	e.logger.Info("bssids missing vendor info", zap.Int("count", sum.Missing))

	pending := make([]frontier.VendorUpdate, 0, e.batchSize)
	flush := func(ctx context.Context) error {
		if len(pending) == 0 {
			return nil
		}
		if err := e.store.SetVendors(ctx, pending); err != nil {
			return fmt.Errorf("write vendor batch: %w", err)
		}
		e.logger.Debug("vendor batch written", zap.Int("size", len(pending)))
		pending = pending[:0]
		return nil
	}

	for _, mac := range macs {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, e.key); err != nil {
				return sum, errors.Join(err, flush(context.WithoutCancel(ctx)))
			}
		}
		name, err := e.lookup.Lookup(ctx, mac)
		switch {
		case err == nil:
			sum.Resolved++
			pending = append(pending, frontier.VendorUpdate{BSSID: mac, Vendor: name})
			e.logger.Info("vendor resolved", zap.String("bssid", mac), zap.String("vendor", name))
		case errors.Is(err, ErrUnknown):
			sum.Unknown++
			e.logger.Warn("could not find vendor", zap.String("bssid", mac))
		case ctx.Err() != nil:
			return sum, errors.Join(ctx.Err(), flush(context.WithoutCancel(ctx)))
		default:
			sum.Failed++
			e.logger.Error("vendor lookup failed", zap.String("bssid", mac), zap.Error(err))
		}
		if len(pending) >= e.batchSize {
			if err := flush(ctx); err != nil {
				return sum, err
			}
		}
	}
	if err := flush(ctx); err != nil {
		return sum, err
	}
	e.logger.Info("vendor update complete",
		zap.Int("resolved", sum.Resolved),
		zap.Int("unknown", sum.Unknown),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}
