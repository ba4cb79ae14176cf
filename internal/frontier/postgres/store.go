// Package postgres implements frontier.Store on Postgres via pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

const (
	duplicateColumn = "42701"
	maxErrorText    = 512
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store is a Postgres-backed frontier.
type Store struct {
	pool   pool
	table  string
	logger *zap.Logger
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = frontier.DefaultTable
	}
	if err := frontier.ValidateTable(table); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, table: table, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the table, adds missing crawler columns and the
// frontier index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	bssid TEXT NOT NULL UNIQUE,
	lat DOUBLE PRECISION,
	lon DOUBLE PRECISION,
	accuracy DOUBLE PRECISION,
	timestamp TIMESTAMPTZ,
	processed BOOLEAN NOT NULL DEFAULT FALSE
)`, s.table)
	if _, err := s.pool.Exec(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	for _, col := range []string{
		"depth INTEGER NOT NULL DEFAULT 0",
		"attempts INTEGER NOT NULL DEFAULT 0",
		"claimed_at TIMESTAMPTZ",
		"last_error TEXT",
		"vendor TEXT",
	} {
		if err := s.addColumn(ctx, col); err != nil {
			return err
		}
	}
	index := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_frontier ON %s (processed, claimed_at, id)",
		s.table, s.table,
	)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create frontier index: %w", err)
	}
	return nil
}

// EnsureVendorColumn adds the vendor column if it is missing.
func (s *Store) EnsureVendorColumn(ctx context.Context) error {
	return s.addColumn(ctx, "vendor TEXT")
}

func (s *Store) addColumn(ctx context.Context, def string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", s.table, def))
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == duplicateColumn {
		s.logger.Debug("column already present", zap.String("table", s.table), zap.String("column", def))
		return nil
	}
	return fmt.Errorf("add column %q: %w", def, err)
}

// Seed inserts bssid as an unprocessed depth-0 record if absent.
func (s *Store) Seed(ctx context.Context, bssid string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (bssid, processed, depth) VALUES ($1, FALSE, 0) ON CONFLICT (bssid) DO NOTHING", s.table),
		bssid,
	)
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", bssid, err)
	}
	return tag.RowsAffected() == 1, nil
}

// NextBatch snapshots unprocessed, unclaimed records in insertion order.
func (s *Store) NextBatch(ctx context.Context, opts frontier.BatchOptions) ([]frontier.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE processed = FALSE AND claimed_at IS NULL", recordColumns, s.table)
	var args []any
	if opts.MaxDepth > 0 {
		args = append(args, opts.MaxDepth)
		query += fmt.Sprintf(" AND depth <= $%d", len(args))
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryRecords(ctx, query, args...)
}

// Upsert writes each observation with a single atomic statement.
func (s *Store) Upsert(ctx context.Context, observations []frontier.Observation) (frontier.UpsertResult, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (bssid, lat, lon, accuracy, timestamp, processed, depth)
VALUES ($1, $2, $3, $4, $5, FALSE, $6)
ON CONFLICT (bssid) DO UPDATE SET
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	accuracy = EXCLUDED.accuracy,
	timestamp = EXCLUDED.timestamp
RETURNING (xmax = 0)`, s.table)

	var res frontier.UpsertResult
	for _, obs := range observations {
		var inserted bool
		err := s.pool.QueryRow(ctx, query,
			obs.BSSID, obs.Lat, obs.Lon, obs.Accuracy, obs.ObservedAt.UTC(), obs.Depth,
		).Scan(&inserted)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return res, fmt.Errorf("upsert: %w", ctx.Err())
			}
			res.Failed++
			s.logger.Warn("upsert failed", zap.String("bssid", obs.BSSID), zap.Error(err))
		case inserted:
			res.Inserted++
		default:
			res.Updated++
		}
	}
	return res, nil
}

// MarkProcessed flags bssid processed and drops its claim.
func (s *Store) MarkProcessed(ctx context.Context, bssid string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET processed = TRUE, claimed_at = NULL WHERE bssid = $1", s.table), bssid)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", bssid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", bssid, frontier.ErrNotFound)
	}
	return nil
}

// Claim takes ownership of an unprocessed, unclaimed record.
func (s *Store) Claim(ctx context.Context, bssid string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET claimed_at = $1 WHERE bssid = $2 AND processed = FALSE AND claimed_at IS NULL", s.table),
		at.UTC(), bssid,
	)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", bssid, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops the claim on bssid and records a failed attempt.
func (s *Store) Release(ctx context.Context, bssid, reason string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
UPDATE %s SET claimed_at = NULL, attempts = attempts + 1, last_error = $1
WHERE bssid = $2 RETURNING attempts`, s.table),
		frontier.Truncate(reason, maxErrorText), bssid,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, frontier.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("release %s: %w", bssid, err)
	}
	return attempts, nil
}

// ReleaseStaleClaims clears claims left behind by an interrupted run.
func (s *Store) ReleaseStaleClaims(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET claimed_at = NULL WHERE processed = FALSE AND claimed_at IS NOT NULL", s.table))
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, bssid string) (frontier.Record, error) {
	recs, err := s.queryRecords(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE bssid = $1", recordColumns, s.table), bssid)
	if err != nil {
		return frontier.Record{}, err
	}
	if len(recs) == 0 {
		return frontier.Record{}, frontier.ErrNotFound
	}
	return recs[0], nil
}

// Stats counts records by state.
func (s *Store) Stats(ctx context.Context) (frontier.Stats, error) {
	var st frontier.Stats
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE NOT processed AND claimed_at IS NULL),
	COUNT(*) FILTER (WHERE NOT processed AND claimed_at IS NOT NULL),
	COUNT(*) FILTER (WHERE processed),
	COUNT(*) FILTER (WHERE lat IS NOT NULL AND lon IS NOT NULL),
	COALESCE(MAX(depth), 0)
FROM %s`, s.table)).Scan(&st.Total, &st.Unprocessed, &st.Claimed, &st.Processed, &st.Located, &st.MaxDepth)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("frontier stats: %w", err)
	}
	return st, nil
}

// InsertSeeds bulk-inserts located records in one transaction, ignoring
// existing keys.
func (s *Store) InsertSeeds(ctx context.Context, points []frontier.SeedPoint) (n int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin seed insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	query := fmt.Sprintf(
		"INSERT INTO %s (bssid, lat, lon, processed, depth) VALUES ($1, $2, $3, FALSE, 0) ON CONFLICT (bssid) DO NOTHING",
		s.table,
	)
	for _, p := range points {
		tag, execErr := tx.Exec(ctx, query, p.BSSID, p.Lat, p.Lon)
		if execErr != nil {
			return 0, fmt.Errorf("insert seed %s: %w", p.BSSID, execErr)
		}
		n += tag.RowsAffected()
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit seed insert: %w", err)
	}
	return n, nil
}

// MissingVendors lists bssids whose vendor is NULL or empty, in insertion order.
func (s *Store) MissingVendors(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT bssid FROM %s WHERE vendor IS NULL OR vendor = '' ORDER BY id", s.table))
	if err != nil {
		return nil, fmt.Errorf("query missing vendors: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect missing vendors: %w", err)
	}
	return out, nil
}

// SetVendors writes a batch of vendor names in one transaction.
func (s *Store) SetVendors(ctx context.Context, updates []frontier.VendorUpdate) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin vendor update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	query := fmt.Sprintf("UPDATE %s SET vendor = $1 WHERE bssid = $2", s.table)
	for _, u := range updates {
		if _, err = tx.Exec(ctx, query, u.Vendor, u.BSSID); err != nil {
			return fmt.Errorf("update vendor %s: %w", u.BSSID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit vendor update: %w", err)
	}
	return nil
}

// Located returns every record with coordinates.
func (s *Store) Located(ctx context.Context) ([]frontier.Record, error) {
	return s.queryRecords(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE lat IS NOT NULL AND lon IS NOT NULL ORDER BY id", recordColumns, s.table))
}

// Reset deletes every row.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table))
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", s.table, err)
	}
	return tag.RowsAffected(), nil
}

const recordColumns = "bssid, lat, lon, accuracy, timestamp, processed, depth, attempts, claimed_at, last_error, vendor"

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]frontier.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []frontier.Record
	for rows.Next() {
		var (
			rec               frontier.Record
			lat, lon, acc     *float64
			ts, claimed       *time.Time
			lastError, vendor *string
		)
		if err := rows.Scan(&rec.BSSID, &lat, &lon, &acc, &ts, &rec.Processed,
			&rec.Depth, &rec.Attempts, &claimed, &lastError, &vendor); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if lat != nil && lon != nil {
			rec.Location = &frontier.Location{Lat: *lat, Lon: *lon}
		}
		rec.Accuracy = acc
		rec.Timestamp = utc(ts)
		rec.ClaimedAt = utc(claimed)
		if lastError != nil {
			rec.LastError = *lastError
		}
		if vendor != nil {
			rec.Vendor = *vendor
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ frontier.Store = (*Store)(nil)
