package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/resample"
	"github.com/okian/sensorlink/pkg/metrics"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore keeps raw points in a relational table:
//
//	points(sensor_id TEXT, ts BIGINT unix seconds, value DOUBLE PRECISION, quality TEXT)
//
// Bucketing happens in Go so epoch alignment matches the in-memory store exactly.
type SQLStore struct {
	db              *sql.DB
	driver          string
	table           string
	maxOpenConns    int
	connMaxLifetime time.Duration
}

// OpenSQL opens driver/dsn, applies pool settings and ensures the schema.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	s := &SQLStore{
		driver:          driver,
		table:           "points",
		maxOpenConns:    10,
		connMaxLifetime: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrDB, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.maxOpenConns)
		db.SetConnMaxLifetime(s.connMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrDB, err)
	}
	s.db = db

	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the points table and its index if missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  sensor_id TEXT NOT NULL,
  ts        BIGINT NOT NULL,
  value     DOUBLE PRECISION NOT NULL,
  quality   TEXT NOT NULL DEFAULT ''
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_sensor_ts ON %s (sensor_id, ts)`, s.table, s.table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrDB, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Append(ctx context.Context, sensorID string, points ...model.Point) error {
	if sensorID == "" {
		return ErrInvalidInput
	}
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrDB, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(fmt.Sprintf(
		`INSERT INTO %s (sensor_id, ts, value, quality) VALUES (?, ?, ?, ?)`, s.table)))
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", ErrDB, err)
	}
	defer stmt.Close()

	for _, p := range points {
		// Non-finite values never become buckets, so they are not stored.
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, sensorID, p.TS.Unix(), p.Value, p.Quality); err != nil {
			return fmt.Errorf("%w: insert: %v", ErrDB, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDB, err)
	}
	return nil
}

func (s *SQLStore) ReadBucketed(ctx context.Context, sensorID string, start, end time.Time, intervalSec int64, mode model.Aggregation) (model.Series, error) {
	if err := validateRead(sensorID, start, end, intervalSec); err != nil {
		return model.Series{}, err
	}
	t0 := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(s.driver, msSince(t0)) }()

	rows, err := s.db.QueryContext(ctx, s.rebind(fmt.Sprintf(
		`SELECT ts, value FROM %s WHERE sensor_id = ? AND ts >= ? AND ts < ? ORDER BY ts`, s.table)),
		sensorID, start.Unix(), end.Unix())
	if err != nil {
		return model.Series{}, fmt.Errorf("%w: query: %v", ErrDB, err)
	}
	defer rows.Close()

	var pts []model.Point
	for rows.Next() {
		var (
			ts int64
			v  float64
		)
		if err := rows.Scan(&ts, &v); err != nil {
			return model.Series{}, fmt.Errorf("%w: scan: %v", ErrDB, err)
		}
		pts = append(pts, model.Point{TS: time.Unix(ts, 0), Value: v})
	}
	if err := rows.Err(); err != nil {
		return model.Series{}, fmt.Errorf("%w: rows: %v", ErrDB, err)
	}
	return resample.Bucketize(sensorID, pts, intervalSec, mode), nil
}

func (s *SQLStore) SensorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT sensor_id FROM %s ORDER BY sensor_id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrDB, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrDB, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrDB, err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
