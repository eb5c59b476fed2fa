// Package storage persists the system manager configuration and the sensor
// history. The SQL store runs on Postgres (lib/pq) in the farm server and on
// SQLite (go-sqlite3) on a single board; the file store needs no database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"smart_farm/internal/sysmgr"
)

var schemas = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS sysmgr_config (
			id INTEGER PRIMARY KEY,
			body BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_log (
			id BIGSERIAL PRIMARY KEY,
			taken_at TIMESTAMPTZ NOT NULL,
			avg_temp DOUBLE PRECISION,
			avg_humidity DOUBLE PRECISION,
			valid BOOLEAN NOT NULL,
			mode TEXT NOT NULL
		)`,
	},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS sysmgr_config (
			id INTEGER PRIMARY KEY,
			body BLOB NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at DATETIME NOT NULL,
			avg_temp REAL,
			avg_humidity REAL,
			valid BOOLEAN NOT NULL,
			mode TEXT NOT NULL
		)`,
	},
}

// SQLStore implements sysmgr.Persistence on a SQL database.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens dsn with driver ("postgres" or "sqlite3") and creates the
// tables.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("%w: database driver %q", sysmgr.ErrNotSupported, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schemas[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// LoadConfig returns the blob stored under id.
func (s *SQLStore) LoadConfig(ctx context.Context, id int) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM sysmgr_config WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: config record %d", sysmgr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load config %d: %w", id, err)
	}
	return body, nil
}

// SaveConfig upserts the blob under id.
func (s *SQLStore) SaveConfig(ctx context.Context, id int, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sysmgr_config (id, body, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		id, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save config %d: %w", id, err)
	}
	return nil
}

// HistoryRow is one logged tick average.
type HistoryRow struct {
	TakenAt     time.Time `json:"taken_at"`
	AvgTemp     float64   `json:"avg_temperature"`
	AvgHumidity float64   `json:"avg_humidity"`
	Valid       bool      `json:"valid"`
	Mode        string    `json:"mode"`
}

// LogReport appends the averages of one tick to the sensor history.
func (s *SQLStore) LogReport(ctx context.Context, r sysmgr.Report) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sensor_log (taken_at, avg_temp, avg_humidity, valid, mode)
		VALUES ($1, $2, $3, $4, $5)`,
		r.At.UTC(), r.Sensors.AvgTemp, r.Sensors.AvgHum, r.Sensors.Valid, string(r.EffectiveMode))
	if err != nil {
		return fmt.Errorf("log sensors: %w", err)
	}
	return nil
}

// History returns the newest limit rows, newest first.
func (s *SQLStore) History(ctx context.Context, limit int) ([]HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT taken_at, avg_temp, avg_humidity, valid, mode
		FROM sensor_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.TakenAt, &h.AvgTemp, &h.AvgHumidity, &h.Valid, &h.Mode); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
