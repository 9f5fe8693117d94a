package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jgoulah/dtumonitor/pkg/models"
	_ "modernc.org/sqlite"
)

const timestampFormat = time.RFC3339

// DB is the outbox of readings waiting to be published
type DB struct {
	conn *sql.DB
}

// Record is a reading stored in the outbox
type Record struct {
	ID        int
	Reading   models.Reading
	Published bool
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite allows a single writer
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL UNIQUE,
		unix INTEGER NOT NULL,
		power REAL NOT NULL,
		energy_daily REAL NOT NULL,
		energy_total REAL NOT NULL,
		created_at TEXT NOT NULL,
		published INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_readings_unix ON readings(unix);
	CREATE INDEX IF NOT EXISTS idx_readings_published ON readings(published);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// InsertReading stores a reading. A reading with an already stored timestamp
// replaces the old one and is marked unpublished again.
func (db *DB) InsertReading(r models.Reading) error {
	query := `
	INSERT INTO readings (timestamp, unix, power, energy_daily, energy_total, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(timestamp) DO UPDATE SET
		power = excluded.power,
		energy_daily = excluded.energy_daily,
		energy_total = excluded.energy_total,
		published = 0
	`

	createdAt := time.Now().UTC().Format(time.RFC3339)
	_, err := db.conn.Exec(query, r.Timestamp.UTC().Format(timestampFormat), r.Timestamp.Unix(),
		r.Power, r.EnergyDaily, r.EnergyTotal, createdAt)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	return nil
}

// GetReading retrieves the record for a timestamp, or nil if there is none
func (db *DB) GetReading(ts time.Time) (*Record, error) {
	query := `
	SELECT id, timestamp, power, energy_daily, energy_total, published
	FROM readings
	WHERE timestamp = ?
	`

	row := db.conn.QueryRow(query, ts.UTC().Format(timestampFormat))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying reading: %w", err)
	}
	return rec, nil
}

// ListReadings retrieves all readings, newest first
func (db *DB) ListReadings() ([]Record, error) {
	return db.list(`
	SELECT id, timestamp, power, energy_daily, energy_total, published
	FROM readings
	ORDER BY unix DESC
	`)
}

// ListUnpublishedReadings retrieves all unpublished readings, oldest first
func (db *DB) ListUnpublishedReadings() ([]Record, error) {
	return db.list(`
	SELECT id, timestamp, power, energy_daily, energy_total, published
	FROM readings
	WHERE published = 0
	ORDER BY unix ASC
	`)
}

// MarkPublished marks a record as published
func (db *DB) MarkPublished(id int) error {
	query := `UPDATE readings SET published = 1 WHERE id = ?`
	_, err := db.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("marking record as published: %w", err)
	}
	return nil
}

// PruneBefore deletes readings older than cutoff and returns how many were removed
func (db *DB) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM readings WHERE unix < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning readings: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) list(query string, args ...any) ([]Record, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		results = append(results, *rec)
	}

	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var tsStr string
	var published int

	if err := s.Scan(&rec.ID, &tsStr, &rec.Reading.Power, &rec.Reading.EnergyDaily, &rec.Reading.EnergyTotal, &published); err != nil {
		return nil, err
	}

	ts, err := time.Parse(timestampFormat, tsStr)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	rec.Reading.Timestamp = ts
	rec.Published = published != 0

	return &rec, nil
}
