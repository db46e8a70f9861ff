// Package sqliterepo is a durable ReadingStore backed by SQLite (pure-Go driver).
package sqliterepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite" // pure-Go driver (no CGO); also registers "sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/milad/usagewatch/internal/domain"
	"github.com/milad/usagewatch/internal/repo"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS properties (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    address     TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_properties_name ON properties(name, id);

CREATE TABLE IF NOT EXISTS readings (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    property_id   TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
    utility_type  TEXT NOT NULL,
    value         REAL NOT NULL,
    unit          TEXT NOT NULL DEFAULT '',
    reading_date  TEXT NOT NULL,
    is_anomaly    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_readings_property_date ON readings(property_id, reading_date);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS anomalies (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    id               TEXT NOT NULL UNIQUE,
    property_id      TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
    reading_id       TEXT NOT NULL DEFAULT '',
    utility_type     TEXT NOT NULL,
    severity         TEXT NOT NULL,
    message          TEXT NOT NULL DEFAULT '',
    threshold_value  REAL NOT NULL DEFAULT 0.0,
    actual_value     REAL NOT NULL DEFAULT 0.0,
    detected_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomalies_property ON anomalies(property_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_detected_at ON anomalies(detected_at DESC);
`,
	},
	{
		// One reading per property, utility type and month. Earlier versions did not
		// enforce this; keep the first stored reading of each month.
		version: 3,
		sql: `
DELETE FROM readings WHERE seq NOT IN (
    SELECT MIN(seq) FROM readings
    GROUP BY property_id, lower(utility_type), substr(reading_date, 1, 7)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_readings_period
    ON readings(property_id, lower(utility_type), substr(reading_date, 1, 7));
`,
	},
}

// Times are stored as fixed-width UTC text so lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ repo.ReadingStore = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending migrations.
// ":memory:" yields a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Seed inserts properties and readings in a single transaction. Properties that
// already exist are left untouched, so seeding an existing database is a no-op
// for them. A reading for a month already taken fails the whole seed with
// repo.ErrAlreadyExists.
func (s *Store) Seed(ctx context.Context, properties []domain.Property, readings []domain.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var fresh = make(map[string]bool, len(properties))
	for _, p := range properties {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO properties(id, name, address, created_at) VALUES(?, ?, ?, ?)`,
			p.ID, p.Name, p.Address, formatTime(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("seed property %q: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			fresh[p.ID] = true
		}
	}
	for _, rd := range readings {
		if !fresh[rd.PropertyID] {
			continue
		}
		if rd.ID == "" {
			rd.ID = uuid.NewString()
		}
		if err := insertReading(ctx, tx, rd); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CreateProperty(ctx context.Context, p domain.Property) (domain.Property, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO properties(id, name, address, created_at) VALUES(?, ?, ?, ?)`,
		p.ID, p.Name, p.Address, formatTime(p.CreatedAt))
	if err != nil {
		return domain.Property{}, fmt.Errorf("insert property: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Property{}, fmt.Errorf("property %q: %w", p.ID, repo.ErrAlreadyExists)
	}
	return p, nil
}

func (s *Store) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, address, created_at FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Property{}, fmt.Errorf("property %q: %w", id, repo.ErrNotFound)
	}
	return p, err
}

func (s *Store) ListProperties(ctx context.Context) ([]domain.Property, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, created_at FROM properties ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AddReading(ctx context.Context, rd domain.Reading) (domain.Reading, error) {
	if rd.ID == "" {
		rd.ID = uuid.NewString()
	}
	if _, err := s.GetProperty(ctx, rd.PropertyID); err != nil {
		return domain.Reading{}, err
	}
	if err := insertReading(ctx, s.db, rd); err != nil {
		return domain.Reading{}, err
	}
	return rd, nil
}

func (s *Store) ListReadings(ctx context.Context, propertyID string, limit int) ([]domain.Reading, error) {
	// Select the newest rows first, then flip to ascending order.
	q := `SELECT id, property_id, utility_type, value, unit, reading_date, is_anomaly
          FROM readings WHERE property_id = ? ORDER BY reading_date DESC, seq DESC`
	args := []any{propertyID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Reading{}
	for rows.Next() {
		var (
			rd      domain.Reading
			date    string
			anomaly int
		)
		if err := rows.Scan(&rd.ID, &rd.PropertyID, &rd.UtilityType, &rd.Value, &rd.Unit, &date, &anomaly); err != nil {
			return nil, err
		}
		if rd.ReadingDate, err = parseTime(date); err != nil {
			return nil, err
		}
		rd.IsAnomaly = anomaly != 0
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) MarkAnomalous(ctx context.Context, readingID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE readings SET is_anomaly = 1 WHERE id = ?`, readingID)
	if err != nil {
		return fmt.Errorf("mark reading %q: %w", readingID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reading %q: %w", readingID, repo.ErrNotFound)
	}
	return nil
}

func (s *Store) AddAnomaly(ctx context.Context, a domain.Anomaly) (domain.Anomaly, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anomalies(id, property_id, reading_id, utility_type, severity, message, threshold_value, actual_value, detected_at)
         VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PropertyID, a.ReadingID, a.UtilityType, a.Severity, a.Message, a.ThresholdValue, a.ActualValue, formatTime(a.DetectedAt))
	if err != nil {
		return domain.Anomaly{}, fmt.Errorf("insert anomaly: %w", err)
	}
	return a, nil
}

func (s *Store) ListAnomalies(ctx context.Context, propertyID string) ([]domain.Anomaly, error) {
	q := `SELECT id, property_id, reading_id, utility_type, severity, message, threshold_value, actual_value, detected_at
          FROM anomalies`
	var args []any
	if propertyID != "" {
		q += ` WHERE property_id = ?`
		args = append(args, propertyID)
	}
	q += ` ORDER BY detected_at DESC, seq DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Anomaly{}
	for rows.Next() {
		var (
			a        domain.Anomaly
			detected string
		)
		if err := rows.Scan(&a.ID, &a.PropertyID, &a.ReadingID, &a.UtilityType, &a.Severity, &a.Message, &a.ThresholdValue, &a.ActualValue, &detected); err != nil {
			return nil, err
		}
		if a.DetectedAt, err = parseTime(detected); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertReading(ctx context.Context, db execer, rd domain.Reading) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO readings(id, property_id, utility_type, value, unit, reading_date, is_anomaly) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rd.ID, rd.PropertyID, rd.UtilityType, rd.Value, rd.Unit, formatTime(rd.ReadingDate), boolToInt(rd.IsAnomaly))
	if isUniqueViolation(err) {
		return fmt.Errorf("reading %s %s for property %q: %w",
			rd.UtilityType, rd.ReadingDate.UTC().Format("2006-01"), rd.PropertyID, repo.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return true
		}
		if code&0xff != sqlite3.SQLITE_CONSTRAINT {
			return false
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProperty(sc scanner) (domain.Property, error) {
	var (
		p       domain.Property
		created string
		err     error
	)
	if err = sc.Scan(&p.ID, &p.Name, &p.Address, &created); err != nil {
		return domain.Property{}, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return domain.Property{}, err
	}
	return p, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
