package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// PilotRow represents a pilot account
type PilotRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// StatsRow represents a pilot's lifetime totals
type StatsRow struct {
	PilotID int64
	Shots   int
	Hits    int
	Sorties int
	Airtime float64 // seconds
}

// Accuracy returns hits per shot, 0 when nothing was fired
func (s StatsRow) Accuracy() float64 {
	if s.Shots == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Shots)
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	Username string  `json:"username"`
	Shots    int     `json:"shots"`
	Hits     int     `json:"hits"`
	Accuracy float64 `json:"accuracy"`
	Sorties  int     `json:"sorties"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string, log zerolog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	// WAL lets the analytics writer and request handlers overlap
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, log: log.With().Str("component", "db").Logger()}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pilots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pilot_stats (
		pilot_id INTEGER PRIMARY KEY REFERENCES pilots(id),
		shots INTEGER NOT NULL DEFAULT 0,
		hits INTEGER NOT NULL DEFAULT 0,
		sorties INTEGER NOT NULL DEFAULT 0,
		airtime REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS combat_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		pilot_id INTEGER,
		session_id TEXT,
		projectile_id TEXT,
		target TEXT,
		x REAL NOT NULL DEFAULT 0,
		y REAL NOT NULL DEFAULT 0,
		z REAL NOT NULL DEFAULT 0,
		sim_time REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_combat_events_type ON combat_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_combat_events_session ON combat_events(session_id);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		db.log.Error().Err(err).Msg("migration failed")
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// CreatePilot creates a pilot account with an empty stats row
func (db *DB) CreatePilot(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO pilots (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting pilot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := db.conn.Exec("INSERT INTO pilot_stats (pilot_id) VALUES (?)", id); err != nil {
		return 0, fmt.Errorf("inserting pilot stats: %w", err)
	}
	return id, nil
}

// GetPilotByUsername returns a pilot by username, or nil if there is none
func (db *DB) GetPilotByUsername(username string) (*PilotRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM pilots WHERE username = ?",
		username,
	)
	p := &PilotRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM pilots WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetStats returns a pilot's totals, or nil if the pilot is unknown
func (db *DB) GetStats(pilotID int64) (*StatsRow, error) {
	row := db.conn.QueryRow(
		"SELECT pilot_id, shots, hits, sorties, airtime FROM pilot_stats WHERE pilot_id = ?",
		pilotID,
	)
	s := &StatsRow{}
	err := row.Scan(&s.PilotID, &s.Shots, &s.Hits, &s.Sorties, &s.Airtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// AddSortieStats adds one finished sortie to a pilot's totals
func (db *DB) AddSortieStats(pilotID int64, shots, hits int, airtime float64) error {
	_, err := db.conn.Exec(`
		UPDATE pilot_stats SET
			shots = shots + ?,
			hits = hits + ?,
			sorties = sorties + 1,
			airtime = airtime + ?
		WHERE pilot_id = ?`,
		shots, hits, airtime, pilotID,
	)
	if err != nil {
		return fmt.Errorf("updating stats for pilot %d: %w", pilotID, err)
	}
	return nil
}

// GetLeaderboard returns top pilots sorted by the given field
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"hits":     "s.hits",
		"shots":    "s.shots",
		"sorties":  "s.sorties",
		"accuracy": "CASE WHEN s.shots > 0 THEN CAST(s.hits AS REAL)/s.shots ELSE 0 END",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "s.hits"
	}

	query := `SELECT p.username, s.shots, s.hits, s.sorties
		FROM pilot_stats s JOIN pilots p ON p.id = s.pilot_id
		ORDER BY ` + col + ` DESC, p.username ASC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	result := []LeaderboardEntry{}
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Shots, &e.Hits, &e.Sorties); err != nil {
			return nil, err
		}
		e.Accuracy = StatsRow{Shots: e.Shots, Hits: e.Hits}.Accuracy()
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// GetSetting returns a stored setting, "" if unset
func (db *DB) GetSetting(key string) string {
	var v string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		db.log.Warn().Err(err).Str("key", key).Msg("reading setting")
	}
	return v
}

// SetSetting stores a setting, replacing any previous value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// CountEvents returns how many combat events of a type are stored
func (db *DB) CountEvents(eventType string) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM combat_events WHERE event_type = ?", eventType).Scan(&n)
	return n, err
}
