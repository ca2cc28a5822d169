package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite operations: persisted stream configuration and
// the append-only accident audit trail.
type Database struct {
	db *sql.DB
}

// StreamRecord represents a stream stored in the database.
type StreamRecord struct {
	ID          string
	URL         string
	Location    string
	StreamFPS   int
	AnalysisFPS float64
	CreatedAt   time.Time
}

// AccidentRecord is one audited accident alert.
type AccidentRecord struct {
	ID          string
	StreamID    string
	Location    string
	Description string
	DetectedAt  time.Time
}

// New opens (creating if needed) the database at dbPath.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers while workers append events.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate creates the schema.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS streams (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			location TEXT NOT NULL,
			stream_fps INTEGER DEFAULT 30,
			analysis_fps REAL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS accident_events (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			location TEXT,
			description TEXT,
			detected_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accidents_stream_time ON accident_events(stream_id, detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_accidents_time ON accident_events(detected_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveStream inserts or updates a stream record.
func (d *Database) SaveStream(s *StreamRecord) error {
	query := `INSERT INTO streams (id, url, location, stream_fps, analysis_fps, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			location = excluded.location,
			stream_fps = excluded.stream_fps,
			analysis_fps = excluded.analysis_fps`

	_, err := d.db.Exec(query, s.ID, s.URL, s.Location, s.StreamFPS, s.AnalysisFPS, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}
	return nil
}

// GetStream retrieves a stream by ID, or nil when absent.
func (d *Database) GetStream(id string) (*StreamRecord, error) {
	query := `SELECT id, url, location, stream_fps, analysis_fps, created_at FROM streams WHERE id = ?`

	var s StreamRecord
	err := d.db.QueryRow(query, id).Scan(&s.ID, &s.URL, &s.Location, &s.StreamFPS, &s.AnalysisFPS, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	return &s, nil
}

// ListStreams returns all persisted streams.
func (d *Database) ListStreams() ([]*StreamRecord, error) {
	query := `SELECT id, url, location, stream_fps, analysis_fps, created_at FROM streams ORDER BY created_at`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []*StreamRecord
	for rows.Next() {
		var s StreamRecord
		if err := rows.Scan(&s.ID, &s.URL, &s.Location, &s.StreamFPS, &s.AnalysisFPS, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, &s)
	}
	return streams, rows.Err()
}

// DeleteStream deletes a stream by ID.
func (d *Database) DeleteStream(id string) error {
	_, err := d.db.Exec("DELETE FROM streams WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete stream: %w", err)
	}
	return nil
}

// SaveAccident appends one accident event. Events are never updated.
func (d *Database) SaveAccident(ev *AccidentRecord) error {
	query := `INSERT INTO accident_events (id, stream_id, location, description, detected_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query, ev.ID, ev.StreamID, ev.Location, ev.Description, ev.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to save accident event: %w", err)
	}
	return nil
}

// ListAccidents returns accident events, newest first, optionally
// filtered by stream and bounded by limit.
func (d *Database) ListAccidents(streamID string, since *time.Time, limit int) ([]*AccidentRecord, error) {
	query := `SELECT id, stream_id, location, description, detected_at FROM accident_events WHERE 1=1`
	args := []interface{}{}

	if streamID != "" {
		query += " AND stream_id = ?"
		args = append(args, streamID)
	}
	if since != nil {
		query += " AND detected_at >= ?"
		args = append(args, *since)
	}
	query += " ORDER BY detected_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accident events: %w", err)
	}
	defer rows.Close()

	var events []*AccidentRecord
	for rows.Next() {
		var ev AccidentRecord
		if err := rows.Scan(&ev.ID, &ev.StreamID, &ev.Location, &ev.Description, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan accident event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
