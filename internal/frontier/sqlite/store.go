// Package sqlite implements frontier.Store on a single SQLite file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

const (
	timeLayout   = time.RFC3339Nano
	maxErrorText = 512
)

// Config controls how the database file is opened.
type Config struct {
	Path  string
	Table string
	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration
}

// Store is a SQLite-backed frontier.
type Store struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.sqlite.path is required")
	}
	table := cfg.Table
	if table == "" {
		table = frontier.DefaultTable
	}
	if err := frontier.ValidateTable(table); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps claims atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite (%s): %w", pragma, err)
		}
	}
	return &Store{db: db, table: table, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// EnsureSchema creates the table and adds crawler columns missing from an
// older database.
func (s *Store) EnsureSchema(ctx context.Context) error {
	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bssid TEXT NOT NULL UNIQUE,
	lat REAL,
	lon REAL,
	accuracy REAL,
	timestamp TEXT,
	processed INTEGER DEFAULT 0
)`, s.table)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	for _, col := range []string{
		"depth INTEGER NOT NULL DEFAULT 0",
		"attempts INTEGER NOT NULL DEFAULT 0",
		"claimed_at TEXT",
		"last_error TEXT",
		"vendor TEXT",
	} {
		if err := s.addColumn(ctx, col); err != nil {
			return err
		}
	}
	index := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_frontier ON %s(processed, claimed_at, id)",
		s.table, s.table,
	)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create frontier index: %w", err)
	}
	return nil
}

// EnsureVendorColumn adds the vendor column if it is missing.
func (s *Store) EnsureVendorColumn(ctx context.Context) error {
	return s.addColumn(ctx, "vendor TEXT")
}

func (s *Store) addColumn(ctx context.Context, def string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", s.table, def))
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
		s.logger.Debug("column already present", zap.String("table", s.table), zap.String("column", def))
		return nil
	}
	return fmt.Errorf("add column %q: %w", def, err)
}

// Seed inserts bssid as an unprocessed depth-0 record if absent.
func (s *Store) Seed(ctx context.Context, bssid string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (bssid, processed, depth) VALUES (?, 0, 0)", s.table),
		bssid,
	)
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", bssid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", bssid, err)
	}
	return n == 1, nil
}

// NextBatch snapshots unprocessed, unclaimed records in insertion order.
func (s *Store) NextBatch(ctx context.Context, opts frontier.BatchOptions) ([]frontier.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE processed = 0 AND claimed_at IS NULL", recordColumns, s.table)
	var args []any
	if opts.MaxDepth > 0 {
		query += " AND depth <= ?"
		args = append(args, opts.MaxDepth)
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// Upsert writes each observation in its own transaction so a bad record does
// not roll back its siblings.
func (s *Store) Upsert(ctx context.Context, observations []frontier.Observation) (frontier.UpsertResult, error) {
	var res frontier.UpsertResult
	for _, obs := range observations {
		inserted, err := s.upsertOne(ctx, obs)
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

func (s *Store) upsertOne(ctx context.Context, obs frontier.Observation) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ts := obs.ObservedAt.UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT OR IGNORE INTO %s (bssid, lat, lon, accuracy, timestamp, processed, depth)
VALUES (?, ?, ?, ?, ?, 0, ?)`, s.table),
		obs.BSSID, obs.Lat, obs.Lon, obs.Accuracy, ts, obs.Depth,
	)
	if err != nil {
		return false, fmt.Errorf("insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert: %w", err)
	}
	if n == 0 {
		if _, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET lat = ?, lon = ?, accuracy = ?, timestamp = ? WHERE bssid = ?", s.table),
			obs.Lat, obs.Lon, obs.Accuracy, ts, obs.BSSID,
		); err != nil {
			return false, fmt.Errorf("update: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n == 1, nil
}

// MarkProcessed flags bssid processed and drops its claim.
func (s *Store) MarkProcessed(ctx context.Context, bssid string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET processed = 1, claimed_at = NULL WHERE bssid = ?", s.table),
		bssid,
	)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", bssid, err)
	}
	return requireRow(res, bssid)
}

// Claim takes ownership of an unprocessed, unclaimed record.
func (s *Store) Claim(ctx context.Context, bssid string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(
			"UPDATE %s SET claimed_at = ? WHERE bssid = ? AND processed = 0 AND claimed_at IS NULL",
			s.table,
		),
		at.UTC().Format(timeLayout), bssid,
	)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", bssid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", bssid, err)
	}
	return n == 1, nil
}

// Release drops the claim on bssid and records a failed attempt.
func (s *Store) Release(ctx context.Context, bssid, reason string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`
UPDATE %s SET claimed_at = NULL, attempts = attempts + 1, last_error = ?
WHERE bssid = ? RETURNING attempts`, s.table),
		frontier.Truncate(reason, maxErrorText), bssid,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, frontier.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("release %s: %w", bssid, err)
	}
	return attempts, nil
}

// ReleaseStaleClaims clears claims left behind by an interrupted run.
func (s *Store) ReleaseStaleClaims(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET claimed_at = NULL WHERE processed = 0 AND claimed_at IS NOT NULL", s.table),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return n, nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, bssid string) (frontier.Record, error) {
	rows, err := s.queryRecords(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE bssid = ?", recordColumns, s.table), bssid)
	if err != nil {
		return frontier.Record{}, err
	}
	if len(rows) == 0 {
		return frontier.Record{}, frontier.ErrNotFound
	}
	return rows[0], nil
}

// Stats counts records by state.
func (s *Store) Stats(ctx context.Context) (frontier.Stats, error) {
	var st frontier.Stats
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN processed = 0 AND claimed_at IS NULL THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN processed = 0 AND claimed_at IS NOT NULL THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN processed = 1 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN lat IS NOT NULL AND lon IS NOT NULL THEN 1 ELSE 0 END), 0),
	COALESCE(MAX(depth), 0)
FROM %s`, s.table)).Scan(&st.Total, &st.Unprocessed, &st.Claimed, &st.Processed, &st.Located, &st.MaxDepth)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("frontier stats: %w", err)
	}
	return st, nil
}

// InsertSeeds bulk-inserts located records, ignoring existing keys.
func (s *Store) InsertSeeds(ctx context.Context, points []frontier.SeedPoint) (n int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (bssid, lat, lon, processed, depth) VALUES (?, ?, ?, 0, 0)", s.table))
	if err != nil {
		return 0, fmt.Errorf("prepare seed insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, p := range points {
		res, execErr := stmt.ExecContext(ctx, p.BSSID, p.Lat, p.Lon)
		if execErr != nil {
			return 0, fmt.Errorf("insert seed %s: %w", p.BSSID, execErr)
		}
		affected, execErr := res.RowsAffected()
		if execErr != nil {
			return 0, fmt.Errorf("insert seed %s: %w", p.BSSID, execErr)
		}
		n += affected
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed insert: %w", err)
	}
	return n, nil
}

// MissingVendors lists bssids whose vendor is NULL or empty, in insertion order.
func (s *Store) MissingVendors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT bssid FROM %s WHERE vendor IS NULL OR vendor = '' ORDER BY id", s.table))
	if err != nil {
		return nil, fmt.Errorf("query missing vendors: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan bssid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate missing vendors: %w", err)
	}
	return out, nil
}

// SetVendors writes a batch of vendor names in one transaction.
func (s *Store) SetVendors(ctx context.Context, updates []frontier.VendorUpdate) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vendor update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, u := range updates {
		if _, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET vendor = ? WHERE bssid = ?", s.table), u.Vendor, u.BSSID,
		); err != nil {
			return fmt.Errorf("update vendor %s: %w", u.BSSID, err)
		}
	}
	if err = tx.Commit(); err != nil {
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
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table))
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", s.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", s.table, err)
	}
	return n, nil
}

const recordColumns = "bssid, lat, lon, accuracy, timestamp, processed, depth, attempts, claimed_at, last_error, vendor"

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]frontier.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []frontier.Record
	for rows.Next() {
		var (
			rec                    frontier.Record
			lat, lon, acc          sql.NullFloat64
			ts, claimed, lastError sql.NullString
			vendor                 sql.NullString
			processed              sql.NullInt64
		)
		if err := rows.Scan(&rec.BSSID, &lat, &lon, &acc, &ts, &processed,
			&rec.Depth, &rec.Attempts, &claimed, &lastError, &vendor); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if lat.Valid && lon.Valid {
			rec.Location = &frontier.Location{Lat: lat.Float64, Lon: lon.Float64}
		}
		if acc.Valid {
			v := acc.Float64
			rec.Accuracy = &v
		}
		rec.Timestamp = parseTime(ts)
		rec.ClaimedAt = parseTime(claimed)
		rec.Processed = processed.Int64 != 0
		rec.LastError = lastError.String
		rec.Vendor = vendor.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// parseTime accepts the RFC 3339 form written by this package and the naive
// ISO form written by older tooling.
func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	for _, layout := range []string{timeLayout, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v.String); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func requireRow(res sql.Result, bssid string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", bssid, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", bssid, frontier.ErrNotFound)
	}
	return nil
}

var _ frontier.Store = (*Store)(nil)
